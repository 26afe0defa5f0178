package daemon

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/implus/implink/internal/chatsync"
	"github.com/implus/implink/internal/wire"
)

// eventSource is the subset of the realtime channel the dispatcher needs.
type eventSource interface {
	On(event string, h func(data json.RawMessage)) (off func())
}

// chatEvents are the server pushes folded into the sync engine. The two
// direct-message names are drifted copies of the same server emit; both are
// routed identically.
var chatEvents = []string{
	wire.EventReceiveMessage,
	wire.EventNewMessageReceived,
	wire.EventReceiveGroupMessage,
	wire.EventNewUnreadMessage,
	wire.EventNewGroupCreated,
	wire.EventGroupError,
}

// dispatcher decodes inbound chat events and applies them to the sync
// engine in receipt order.
type dispatcher struct {
	src    eventSource
	chat   *chatsync.Engine
	logger *zap.Logger
}

func newDispatcher(src eventSource, chat *chatsync.Engine, logger *zap.Logger) *dispatcher {
	return &dispatcher{src: src, chat: chat, logger: logger}
}

// start registers one handler per chat event. The returned stop disposes
// them all; it is idempotent.
func (d *dispatcher) start(ctx context.Context) (stop func()) {
	offs := make([]func(), 0, len(chatEvents))
	for _, event := range chatEvents {
		event := event
		offs = append(offs, d.src.On(event, func(raw json.RawMessage) {
			d.handle(ctx, event, raw)
		}))
	}
	return func() {
		for _, off := range offs {
			off()
		}
	}
}

func (d *dispatcher) handle(ctx context.Context, event string, raw json.RawMessage) {
	ev, err := wire.DecodeServerEvent(event, raw)
	if err != nil {
		if errors.Is(err, wire.ErrUnknownEvent) {
			return
		}
		d.logger.Warn("undecodable server event", zap.String("event", event), zap.Error(err))
		return
	}
	if err := d.chat.ApplyDelta(ctx, ev); err != nil {
		d.logger.Error("failed to apply delta", zap.String("event", event), zap.Error(err))
	}
}
