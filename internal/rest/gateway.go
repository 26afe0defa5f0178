// Package rest implements the request/response side of the backend contract:
// snapshot fetches, message history, read-cursor persistence and user search.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/implus/implink/internal/wire"
)

// Gateway is the REST client for the chat backend.
type Gateway struct {
	base   string
	client *http.Client
	token  string
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithHTTPClient overrides the underlying HTTP client (used by tests).
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) { g.client = c }
}

// WithAuthToken attaches a bearer token to every request.
func WithAuthToken(token string) Option {
	return func(g *Gateway) { g.token = token }
}

// New creates a gateway rooted at the given base URL.
func New(baseURL string, opts ...Option) *Gateway {
	g := &Gateway{
		base:   baseURL,
		client: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ChatList fetches the conversation snapshot. markRead asks the server to
// advance read cursors as part of the fetch: true for the initial
// read-marking load, false for unread-preserving background refreshes.
func (g *Gateway) ChatList(ctx context.Context, userID string, markRead bool) ([]wire.ChatListItem, error) {
	path := fmt.Sprintf("/api/chat/full-chat-list/%s?markRead=%s", url.PathEscape(userID), strconv.FormatBool(markRead))
	var resp wire.ChatListResponse
	if err := g.getJSON(ctx, path, &resp); err != nil {
		return nil, fmt.Errorf("chat list: %w", err)
	}
	return resp.Data, nil
}

// DirectHistory fetches the ordered message history of a direct chat.
func (g *Gateway) DirectHistory(ctx context.Context, userID, otherID string) ([]wire.Message, error) {
	path := fmt.Sprintf("/api/chat/messages/%s/%s", url.PathEscape(userID), url.PathEscape(otherID))
	var resp wire.MessagesResponse
	if err := g.getJSON(ctx, path, &resp); err != nil {
		return nil, fmt.Errorf("direct history: %w", err)
	}
	return resp.Data, nil
}

// GroupHistory fetches the ordered message history of a group.
func (g *Gateway) GroupHistory(ctx context.Context, groupID string) ([]wire.Message, error) {
	path := fmt.Sprintf("/api/chatGroup/getGroupMsg/%s", url.PathEscape(groupID))
	var resp wire.MessagesResponse
	if err := g.getJSON(ctx, path, &resp); err != nil {
		return nil, fmt.Errorf("group history: %w", err)
	}
	return resp.Data, nil
}

// MarkRead advances the server-side read cursor. groupID may be empty for
// direct chats.
func (g *Gateway) MarkRead(ctx context.Context, userID, groupID string) error {
	path := "/api/chat/markRead/" + url.PathEscape(userID)
	if groupID != "" {
		path += "/" + url.PathEscape(groupID)
	}
	if err := g.postJSON(ctx, path, nil, nil); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// SearchByPhone looks up a user by phone number for starting a new direct
// chat. Returns nil when no user matches.
func (g *Gateway) SearchByPhone(ctx context.Context, phone string) (*wire.User, error) {
	path := "/api/auth/search?phone_number=" + url.QueryEscape(phone)
	var resp wire.SearchResponse
	if err := g.getJSON(ctx, path, &resp); err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	return resp.Result, nil
}

func (g *Gateway) getJSON(ctx context.Context, path string, out any) error {
	return g.do(ctx, http.MethodGet, path, nil, out)
}

func (g *Gateway) postJSON(ctx context.Context, path string, body, out any) error {
	return g.do(ctx, http.MethodPost, path, body, out)
}

func (g *Gateway) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.base+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
