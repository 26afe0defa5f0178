package store

import (
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestProfileRoundTrip(t *testing.T) {
	db := testDB(t)

	p, err := db.LoadProfile()
	if err != nil {
		t.Fatal(err)
	}
	if p != nil {
		t.Fatal("expected nil profile before bootstrap")
	}

	in := &Profile{UserID: "u1", UserName: "alice", PhoneNumber: "+15550001", GroupHint: "g-default"}
	if err := db.SaveProfile(in); err != nil {
		t.Fatal(err)
	}

	out, err := db.LoadProfile()
	if err != nil {
		t.Fatal(err)
	}
	if out == nil || out.UserID != "u1" || out.GroupHint != "g-default" {
		t.Errorf("profile = %+v, want %+v", out, in)
	}
}

func TestConversationUpsertAndList(t *testing.T) {
	db := testDB(t)

	c := &Conversation{ID: "u2", Kind: "direct", Name: "bob", Participants: []string{"u1", "u2"}, LastAt: 100}
	if err := db.UpsertConversation(c); err != nil {
		t.Fatal(err)
	}
	c.UnreadCount = 3
	if err := db.UpsertConversation(c); err != nil {
		t.Fatal(err)
	}

	convs, err := db.ListConversations()
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 1 {
		t.Fatalf("got %d conversations, want 1", len(convs))
	}
	if convs[0].UnreadCount != 3 {
		t.Errorf("UnreadCount = %d, want 3", convs[0].UnreadCount)
	}
	if len(convs[0].Participants) != 2 {
		t.Errorf("Participants = %v, want 2 entries", convs[0].Participants)
	}
}

func TestReplaceConversationsWholesale(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertConversation(&Conversation{ID: "stale", Kind: "direct"}); err != nil {
		t.Fatal(err)
	}
	if err := db.ReplaceConversations([]*Conversation{
		{ID: "u2", Kind: "direct"},
		{ID: "g1", Kind: "group", Name: "ops"},
	}); err != nil {
		t.Fatal(err)
	}

	convs, err := db.ListConversations()
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 2 {
		t.Fatalf("got %d conversations, want 2 (stale row dropped)", len(convs))
	}
	stale, err := db.GetConversation("stale")
	if err != nil {
		t.Fatal(err)
	}
	if stale != nil {
		t.Error("stale conversation survived snapshot replace")
	}
}

func TestMessagesAppendOnly(t *testing.T) {
	db := testDB(t)

	m := &Message{ConversationID: "u2", SenderID: "u2", Body: "hi", MessageType: "text", Timestamp: 100}
	if err := db.AppendMessage(m); err != nil {
		t.Fatal(err)
	}
	// Duplicate delivery appends a second visible row.
	if err := db.AppendMessage(&Message{ConversationID: "u2", SenderID: "u2", Body: "hi", MessageType: "text", Timestamp: 100}); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages("u2", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Errorf("got %d messages, want 2 duplicate rows", len(msgs))
	}
}

func TestMessagePayloadRoundTrip(t *testing.T) {
	db := testDB(t)

	payload := []byte(`{"name":"carol","phone":"+15550002","purpose":"delivery"}`)
	in := &Message{ConversationID: "g1", SenderID: "u2", SenderName: "bob", Body: "", MessageType: "visitor", Payload: payload, Timestamp: 500}
	if err := db.AppendMessage(in); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages("g1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if string(msgs[0].Payload) != string(payload) {
		t.Errorf("payload = %s, want %s", msgs[0].Payload, payload)
	}
	if msgs[0].SenderName != "bob" {
		t.Errorf("senderName = %q, want bob", msgs[0].SenderName)
	}
}

func TestCursorNeverMovesBackward(t *testing.T) {
	db := testDB(t)

	if err := db.AdvanceCursor("u2", 1000); err != nil {
		t.Fatal(err)
	}
	if err := db.AdvanceCursor("u2", 500); err != nil {
		t.Fatal(err)
	}

	at, err := db.Cursor("u2")
	if err != nil {
		t.Fatal(err)
	}
	if at != 1000 {
		t.Errorf("cursor = %d, want 1000 (must not move backward)", at)
	}

	if err := db.AdvanceCursor("u2", 2000); err != nil {
		t.Fatal(err)
	}
	at, err = db.Cursor("u2")
	if err != nil {
		t.Fatal(err)
	}
	if at != 2000 {
		t.Errorf("cursor = %d, want 2000", at)
	}
}

func TestCountUnread(t *testing.T) {
	db := testDB(t)

	for ts := int64(100); ts <= 300; ts += 100 {
		if err := db.AppendMessage(&Message{ConversationID: "u2", SenderID: "u2", Body: "m", Timestamp: ts}); err != nil {
			t.Fatal(err)
		}
	}

	n, err := db.CountUnread("u2", 100)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("unread = %d, want 2", n)
	}
}

func TestOutboxLifecycle(t *testing.T) {
	db := testDB(t)

	if err := db.QueueOutbox("c1", "u2", "direct", "hello", "text"); err != nil {
		t.Fatal(err)
	}
	if err := db.QueueOutbox("c2", "g1", "group", "hi all", "text"); err != nil {
		t.Fatal(err)
	}

	pending, err := db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 {
		t.Fatalf("got %d pending, want 2", len(pending))
	}

	if err := db.MarkOutboxSending("c1"); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkOutboxSent("c1"); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkOutboxFailed("c2", "channel closed"); err != nil {
		t.Fatal(err)
	}

	pending, err = db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("got %d pending after drain, want 0", len(pending))
	}
}
