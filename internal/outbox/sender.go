package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/implus/implink/internal/bus"
	"github.com/implus/implink/internal/store"
	"github.com/implus/implink/internal/wire"
)

// Emitter is the realtime surface the sender needs. *realtime.Channel
// satisfies it.
type Emitter interface {
	Emit(event string, payload any) error
}

// Sender drains the outbox and pushes messages over the realtime channel.
// Queued entries survive restarts; an entry is retried on the next poll
// while the channel is down because the failed emit leaves it failed only
// after a write was actually attempted.
type Sender struct {
	db      *store.DB
	emitter Emitter
	bus     *bus.Bus
	logger  *zap.Logger
	userID  string
	cancel  context.CancelFunc
}

// NewSender creates a new outbox sender for the local user.
func NewSender(db *store.DB, emitter Emitter, b *bus.Bus, logger *zap.Logger, userID string) *Sender {
	return &Sender{
		db:      db,
		emitter: emitter,
		bus:     b,
		logger:  logger,
		userID:  userID,
	}
}

// Queue enqueues an outgoing message and returns its client-side id.
// kind is "direct" or "group"; conversationID addresses the peer or group.
func (s *Sender) Queue(conversationID, kind, body, messageType string) (string, error) {
	clientMsgID := uuid.New().String()
	if messageType == "" {
		messageType = wire.MessageText
	}
	if err := s.db.QueueOutbox(clientMsgID, conversationID, kind, body, messageType); err != nil {
		return "", err
	}
	return clientMsgID, nil
}

// Start begins polling the outbox for pending messages.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)
}

// Stop stops the sender loop.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Sender) loop(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.processPending()
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sender) processPending() {
	pending, err := s.db.PendingOutbox()
	if err != nil {
		s.logger.Error("failed to read outbox", zap.Error(err))
		return
	}

	for _, entry := range pending {
		if err := s.db.MarkOutboxSending(entry.ClientMsgID); err != nil {
			s.logger.Error("failed to mark sending", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
			continue
		}

		// Optimistic append: the message shows locally before the server
		// echoes it back.
		now := time.Now().UnixMilli()
		msg := &store.Message{
			ConversationID: entry.ConversationID,
			SenderID:       s.userID,
			Body:           entry.Body,
			MessageType:    entry.MessageType,
			Timestamp:      now,
		}
		if err := s.db.AppendMessage(msg); err != nil {
			s.logger.Error("optimistic append failed", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
		} else {
			s.bus.Emit(bus.KindChatMessage, *msg)
		}

		if err := s.send(&entry); err != nil {
			s.logger.Error("failed to send message", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
			_ = s.db.MarkOutboxFailed(entry.ClientMsgID, err.Error())
			s.bus.Emit(bus.KindSendFailed, SendResult{
				ClientMsgID:    entry.ClientMsgID,
				ConversationID: entry.ConversationID,
				Error:          err.Error(),
			})
			continue
		}

		if err := s.db.MarkOutboxSent(entry.ClientMsgID); err != nil {
			s.logger.Error("failed to mark sent", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
		}
		s.logger.Info("message sent", zap.String("client_msg_id", entry.ClientMsgID), zap.String("conversation", entry.ConversationID))
		s.bus.Emit(bus.KindSendAck, SendResult{
			ClientMsgID:    entry.ClientMsgID,
			ConversationID: entry.ConversationID,
		})
	}
}

func (s *Sender) send(entry *store.OutboxEntry) error {
	if entry.Kind == "group" {
		return s.emitter.Emit(wire.EventSendGroupMessage, wire.SendGroupMessagePayload{
			GroupID:     entry.ConversationID,
			SenderID:    s.userID,
			Message:     entry.Body,
			MessageType: entry.MessageType,
			Timestamp:   time.Now().UTC().Format(time.RFC3339),
		})
	}
	return s.emitter.Emit(wire.EventSendMessage, wire.SendMessagePayload{
		SenderID:   s.userID,
		ReceiverID: entry.ConversationID,
		Message:    entry.Body,
	})
}

// SendResult is the payload of send ack/fail bus events.
type SendResult struct {
	ClientMsgID    string
	ConversationID string
	Error          string
}
