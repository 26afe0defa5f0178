package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.implink/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session"`

	// ServerURL is the base URL of the chat backend, e.g. "https://chat.example.com".
	// REST paths and the realtime websocket endpoint are derived from it.
	ServerURL string `toml:"server_url"`

	// SocketPath overrides the realtime websocket endpoint. Empty means
	// ServerURL with the scheme switched to ws(s) and "/socket" appended.
	SocketPath string `toml:"socket_path"`

	// ICEServers are STUN/TURN URLs used by mesh call negotiation.
	ICEServers []string `toml:"ice_servers"`

	// PlaySoundOnReceive controls whether inbound messages trigger the
	// notification sound. Some views in the original client disabled it.
	PlaySoundOnReceive bool `toml:"play_sound_on_receive"`

	// MarkReadOnOpen controls whether opening a conversation immediately
	// advances the read cursor.
	MarkReadOnOpen bool `toml:"mark_read_on_open"`

	// CallMode selects the call negotiation strategy: "mesh" connects
	// peers directly, "relay" routes media through the SFU.
	CallMode string `toml:"call_mode"`

	// AuthToken is the bearer token sent on REST calls when the backend
	// requires one.
	AuthToken string `toml:"auth_token"`
}

// Default returns the configuration defaults applied before decoding.
func Default() *Config {
	return &Config{
		DefaultSession:     "main",
		ICEServers:         []string{"stun:stun.l.google.com:19302"},
		PlaySoundOnReceive: true,
		MarkReadOnOpen:     true,
		CallMode:           "mesh",
	}
}

// Load reads config from the given path on top of defaults.
// Returns an error if the file is missing or malformed.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// SocketURL resolves the realtime websocket endpoint for this config.
func (c *Config) SocketURL() (string, error) {
	if c.SocketPath != "" {
		return c.SocketPath, nil
	}
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return "", fmt.Errorf("parse server_url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported server_url scheme %q", u.Scheme)
	}
	u.Path = "/socket"
	return u.String(), nil
}
