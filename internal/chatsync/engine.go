// Package chatsync owns the authoritative local view of conversations and
// their message streams. It seeds the model from a REST snapshot, folds
// realtime deltas into the same model, maintains unread counts against
// per-conversation read cursors, and reconciles read state back to the
// server.
package chatsync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/implus/implink/internal/bus"
	"github.com/implus/implink/internal/notify"
	"github.com/implus/implink/internal/store"
	"github.com/implus/implink/internal/wire"
)

// Gateway is the REST surface the engine needs. *rest.Gateway satisfies it.
type Gateway interface {
	ChatList(ctx context.Context, userID string, markRead bool) ([]wire.ChatListItem, error)
	DirectHistory(ctx context.Context, userID, otherID string) ([]wire.Message, error)
	GroupHistory(ctx context.Context, groupID string) ([]wire.Message, error)
	MarkRead(ctx context.Context, userID, groupID string) error
}

// Options are the behavior flags that used to be hardcoded per view.
type Options struct {
	PlaySoundOnReceive bool
	MarkReadOnOpen     bool
}

// Engine merges the conversation snapshot with live deltas.
// All model mutation is serialized through its mutex; handlers delegated
// from the realtime read loop and direct API calls see a consistent model.
type Engine struct {
	db     *store.DB
	gw     Gateway
	bus    *bus.Bus
	sink   notify.Sink
	logger *zap.Logger
	opts   Options
	userID string

	mu     sync.Mutex
	active string
}

// NewEngine creates a sync engine for the given local user.
func NewEngine(db *store.DB, gw Gateway, b *bus.Bus, sink notify.Sink, logger *zap.Logger, userID string, opts Options) *Engine {
	return &Engine{
		db:     db,
		gw:     gw,
		bus:    b,
		sink:   sink,
		logger: logger,
		opts:   opts,
		userID: userID,
	}
}

// LoadSnapshot fetches the full chat list and replaces the local
// conversation model wholesale. markRead distinguishes the initial
// read-marking fetch from an unread-preserving background refresh.
func (e *Engine) LoadSnapshot(ctx context.Context, markRead bool) error {
	items, err := e.gw.ChatList(ctx, e.userID, markRead)
	if err != nil {
		return fmt.Errorf("fetch chat list: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	convs := make([]*store.Conversation, 0, len(items))
	for i := range items {
		convs = append(convs, conversationFromItem(&items[i]))
	}
	if err := e.db.ReplaceConversations(convs); err != nil {
		return fmt.Errorf("replace conversations: %w", err)
	}
	if markRead {
		now := time.Now().UnixMilli()
		for _, c := range convs {
			if err := e.db.AdvanceCursor(c.ID, now); err != nil {
				return fmt.Errorf("advance cursor %s: %w", c.ID, err)
			}
		}
	}

	e.bus.Emit(bus.KindChatSnapshotLoaded, len(convs))
	return nil
}

// LoadHistory fetches and caches the message history of one conversation.
func (e *Engine) LoadHistory(ctx context.Context, conversationID string) ([]store.Message, error) {
	conv, err := e.db.GetConversation(conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, fmt.Errorf("unknown conversation %s", conversationID)
	}

	var raw []wire.Message
	if conv.Kind == "group" {
		raw, err = e.gw.GroupHistory(ctx, conversationID)
	} else {
		raw, err = e.gw.DirectHistory(ctx, e.userID, conversationID)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch history %s: %w", conversationID, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	msgs := make([]*store.Message, 0, len(raw))
	for i := range raw {
		msgs = append(msgs, messageFromWire(conversationID, &raw[i]))
	}
	if err := e.db.ReplaceMessages(conversationID, msgs); err != nil {
		return nil, fmt.Errorf("replace messages: %w", err)
	}
	return e.db.ListMessages(conversationID, 0)
}

// Conversations returns the cached chat list, most recent first.
func (e *Engine) Conversations() ([]store.Conversation, error) {
	return e.db.ListConversations()
}

// SetActiveConversation marks a conversation as the one currently open.
// Messages arriving for it do not bump its unread count, and opening it
// marks it read when configured to. An empty id means no open conversation.
func (e *Engine) SetActiveConversation(ctx context.Context, conversationID string) error {
	e.mu.Lock()
	e.active = conversationID
	e.mu.Unlock()

	if conversationID != "" && e.opts.MarkReadOnOpen {
		return e.MarkRead(ctx, conversationID)
	}
	return nil
}

// ApplyDelta folds one inbound server event into the model. Events must be
// applied in receipt order; the server is the sole ordering authority and
// the engine performs no deduplication.
func (e *Engine) ApplyDelta(ctx context.Context, evt wire.ServerEvent) error {
	switch ev := evt.(type) {
	case *wire.DirectMessage:
		return e.applyMessage(ctx, &ev.Message, false)
	case *wire.GroupMessage:
		return e.applyMessage(ctx, &ev.Message, true)
	case *wire.NewUnreadMessage:
		return e.applyMessage(ctx, &ev.Msg, ev.Msg.GroupID != "")
	case *wire.NewGroupCreated:
		return e.applyGroupCreated(ctx, ev)
	case *wire.GroupError:
		e.sink.Show(notify.Banner{Title: "group", Body: ev.Message})
		return nil
	default:
		return nil
	}
}

func (e *Engine) applyMessage(ctx context.Context, wm *wire.Message, group bool) error {
	convID := e.conversationIDFor(wm, group)
	if convID == "" {
		return fmt.Errorf("message without addressable conversation")
	}
	fromSelf := wm.SenderID == e.userID

	e.mu.Lock()
	msg := messageFromWire(convID, wm)
	if err := e.db.AppendMessage(msg); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("append message: %w", err)
	}

	active := e.active == convID
	conv, err := e.db.GetConversation(convID)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	if conv == nil {
		conv = &store.Conversation{ID: convID, Kind: kindString(group), Name: wm.SenderName}
	}
	conv.LastBody = msg.Body
	conv.LastAt = msg.Timestamp
	if !fromSelf && !active {
		conv.UnreadCount++
	}
	if err := e.db.UpsertConversation(conv); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("upsert conversation: %w", err)
	}
	e.mu.Unlock()

	e.bus.Emit(bus.KindChatMessage, *msg)

	if !fromSelf {
		if e.opts.PlaySoundOnReceive {
			e.sink.Play(notify.SoundMessage)
		}
		e.sink.Show(notify.Banner{Title: senderTitle(wm), Body: msg.Body})
	}

	// Reading the open direct chat is acknowledged back to the server
	// as it happens. Best effort: a failure is logged, never retried.
	if !fromSelf && active && !group {
		go func() {
			if err := e.MarkRead(context.Background(), convID); err != nil {
				e.logger.Warn("mark read failed", zap.String("conversation", convID), zap.Error(err))
			}
		}()
	}
	return nil
}

func (e *Engine) applyGroupCreated(ctx context.Context, ev *wire.NewGroupCreated) error {
	e.mu.Lock()
	conv := &store.Conversation{
		ID:            ev.Group.ID,
		Kind:          "group",
		Name:          ev.Group.Name,
		Participants:  ev.Group.Participants,
		StatusMessage: ev.Group.StatusMessage,
	}
	err := e.db.UpsertConversation(conv)
	e.mu.Unlock()
	if err != nil {
		return fmt.Errorf("insert group: %w", err)
	}

	e.bus.Emit(bus.KindChatConversation, *conv)

	// Membership details only come with a fresh snapshot; refresh without
	// touching read state.
	if err := e.LoadSnapshot(ctx, false); err != nil {
		e.logger.Warn("snapshot refresh after group create failed", zap.Error(err))
	}
	return nil
}

// MarkRead advances the conversation's read cursor to now, zeroes its
// unread count and asks the server to persist the read state. Repeated
// calls after the first are no-ops.
func (e *Engine) MarkRead(ctx context.Context, conversationID string) error {
	e.mu.Lock()
	conv, err := e.db.GetConversation(conversationID)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	if conv == nil {
		e.mu.Unlock()
		return fmt.Errorf("unknown conversation %s", conversationID)
	}

	cursor, err := e.db.Cursor(conversationID)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	if conv.UnreadCount == 0 && cursor >= conv.LastAt {
		e.mu.Unlock()
		return nil
	}

	now := time.Now().UnixMilli()
	if err := e.db.AdvanceCursor(conversationID, now); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("advance cursor: %w", err)
	}
	conv.UnreadCount = 0
	if err := e.db.UpsertConversation(conv); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("upsert conversation: %w", err)
	}
	group := ""
	if conv.Kind == "group" {
		group = conversationID
	}
	e.mu.Unlock()

	if err := e.gw.MarkRead(ctx, e.userID, group); err != nil {
		return fmt.Errorf("persist read state: %w", err)
	}
	e.bus.Emit(bus.KindChatMarkedRead, conversationID)
	return nil
}

// conversationIDFor resolves the local conversation a message belongs to:
// the group id for group traffic, otherwise the remote participant.
func (e *Engine) conversationIDFor(wm *wire.Message, group bool) string {
	if group {
		return wm.GroupID
	}
	if wm.SenderID == e.userID {
		return wm.ReceiverID
	}
	return wm.SenderID
}

func kindString(group bool) string {
	if group {
		return "group"
	}
	return "direct"
}

func senderTitle(wm *wire.Message) string {
	if wm.SenderName != "" {
		return wm.SenderName
	}
	return wm.SenderID
}

func conversationFromItem(it *wire.ChatListItem) *store.Conversation {
	c := &store.Conversation{
		ID:            it.ID,
		Kind:          it.Kind,
		Name:          it.DisplayName(),
		Participants:  it.Participants,
		UnreadCount:   it.UnreadCount,
		StatusMessage: it.StatusMessage,
		Online:        it.Online,
	}
	if c.Kind == "" {
		c.Kind = "direct"
	}
	if it.LastMsg != nil {
		c.LastBody = it.LastMsg.Body
		c.LastAt = it.LastMsg.Timestamp.UnixMilli()
	}
	if !it.LastSeen.IsZero() {
		c.LastSeen = it.LastSeen.UnixMilli()
	}
	return c
}

func messageFromWire(conversationID string, wm *wire.Message) *store.Message {
	ts := wm.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return &store.Message{
		ConversationID: conversationID,
		SenderID:       wm.SenderID,
		SenderName:     wm.SenderName,
		ReceiverID:     wm.ReceiverID,
		Body:           wm.Body,
		MessageType:    wm.Type(),
		Payload:        wm.Payload,
		Timestamp:      ts.UnixMilli(),
	}
}
