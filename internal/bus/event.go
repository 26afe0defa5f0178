package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// NewEvent builds an event stamped with the current time.
func NewEvent(kind string, payload any) Event {
	return Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
}

// Event kinds published by implink components. Subscribers filter by
// namespace prefix, e.g. "chat." or "call.".
const (
	// chatsync engine
	KindChatSnapshotLoaded = "chat.snapshot_loaded"
	KindChatMessage        = "chat.message"
	KindChatConversation   = "chat.conversation_upserted"
	KindChatMarkedRead     = "chat.marked_read"

	// call signaling engine
	KindCallStateChanged = "call.state_changed"
	KindCallIncoming     = "call.incoming"
	KindCallRemoteTrack  = "call.remote_track"

	// realtime channel connectivity
	KindChannelConnected    = "channel.connected"
	KindChannelDisconnected = "channel.disconnected"

	// notification sink (default bus-backed sink)
	KindNotifySound  = "notify.sound"
	KindNotifyBanner = "notify.banner"

	// daemon runtime state machine
	KindStatusChanged = "session.status_changed"

	// outbox sender
	KindSendAck    = "message.send_ack"
	KindSendFailed = "message.send_failed"
)
