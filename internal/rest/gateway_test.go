package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestChatList(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"_id": "u2", "type": "direct", "userName": "bob", "unreadCount": 2},
				{"_id": "g1", "type": "group", "name": "ops", "unreadCount": 0},
			},
		})
	}))
	defer srv.Close()

	g := New(srv.URL)
	items, err := g.ChatList(context.Background(), "u1", true)
	if err != nil {
		t.Fatal(err)
	}
	if gotPath != "/api/chat/full-chat-list/u1" {
		t.Errorf("path = %q", gotPath)
	}
	if gotQuery != "markRead=true" {
		t.Errorf("query = %q, want markRead=true", gotQuery)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	if items[0].DisplayName() != "bob" || items[1].DisplayName() != "ops" {
		t.Errorf("display names = %q, %q", items[0].DisplayName(), items[1].DisplayName())
	}
	if items[0].UnreadCount != 2 {
		t.Errorf("unreadCount = %d, want 2", items[0].UnreadCount)
	}
}

func TestMarkReadPaths(t *testing.T) {
	var gotPath, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	g := New(srv.URL)
	if err := g.MarkRead(context.Background(), "u1", ""); err != nil {
		t.Fatal(err)
	}
	if gotMethod != http.MethodPost || gotPath != "/api/chat/markRead/u1" {
		t.Errorf("got %s %s", gotMethod, gotPath)
	}

	if err := g.MarkRead(context.Background(), "u1", "g1"); err != nil {
		t.Fatal(err)
	}
	if gotPath != "/api/chat/markRead/u1/g1" {
		t.Errorf("group path = %q", gotPath)
	}
}

func TestSearchByPhone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("phone_number") == "+15550001" {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"result": map[string]string{"_id": "u9", "userName": "carol", "phone_number": "+15550001"},
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"result": nil})
	}))
	defer srv.Close()

	g := New(srv.URL)
	u, err := g.SearchByPhone(context.Background(), "+15550001")
	if err != nil {
		t.Fatal(err)
	}
	if u == nil || u.ID != "u9" {
		t.Errorf("user = %+v, want u9", u)
	}

	u, err = g.SearchByPhone(context.Background(), "+10000000")
	if err != nil {
		t.Fatal(err)
	}
	if u != nil {
		t.Errorf("user = %+v, want nil for no match", u)
	}
}

func TestErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	g := New(srv.URL)
	if _, err := g.DirectHistory(context.Background(), "u1", "u2"); err == nil {
		t.Error("expected error for 500 response")
	}
}

func TestAuthTokenHeader(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
	}))
	defer srv.Close()

	g := New(srv.URL, WithAuthToken("tok123"))
	if _, err := g.GroupHistory(context.Background(), "g1"); err != nil {
		t.Fatal(err)
	}
	if gotAuth != "Bearer tok123" {
		t.Errorf("Authorization = %q, want Bearer tok123", gotAuth)
	}
}
