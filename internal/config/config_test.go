package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := Default()
	cfg.DefaultSession = "work"
	cfg.ServerURL = "https://chat.example.com"
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultSession != "work" {
		t.Errorf("DefaultSession = %q, want %q", loaded.DefaultSession, "work")
	}
	if loaded.ServerURL != "https://chat.example.com" {
		t.Errorf("ServerURL = %q, want %q", loaded.ServerURL, "https://chat.example.com")
	}
	if !loaded.PlaySoundOnReceive {
		t.Error("PlaySoundOnReceive default lost on round trip")
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}

func TestSocketURL(t *testing.T) {
	tests := []struct {
		name   string
		cfg    Config
		want   string
		wantEr bool
	}{
		{"https", Config{ServerURL: "https://chat.example.com"}, "wss://chat.example.com/socket", false},
		{"http", Config{ServerURL: "http://localhost:5000"}, "ws://localhost:5000/socket", false},
		{"override", Config{ServerURL: "https://x", SocketPath: "wss://rt.example.com/io"}, "wss://rt.example.com/io", false},
		{"bad scheme", Config{ServerURL: "ftp://x"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cfg.SocketURL()
			if (err != nil) != tt.wantEr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantEr)
			}
			if got != tt.want {
				t.Errorf("SocketURL() = %q, want %q", got, tt.want)
			}
		})
	}
}
