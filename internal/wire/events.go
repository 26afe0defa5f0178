// Package wire defines the typed wire model shared by the realtime channel,
// the REST gateway and the engines: every channel event and REST response is
// a named Go type, and inbound events are decoded through one exhaustive
// switch so a payload shape mismatch surfaces as an error instead of a
// missing-field panic deep inside an engine.
package wire

// Events emitted by the client.
const (
	EventJoin             = "join"
	EventJoinGroup        = "joinGroup"
	EventUserOnline       = "userOnline"
	EventSendMessage      = "sendMessage"
	EventSendGroupMessage = "sendGroupMessage"

	EventStartCall    = "startCall"
	EventCallDeclined = "callDeclined"
	EventJoinCall     = "joinCall"
	EventLeaveCall    = "leaveCall"
	EventSignal       = "signal"

	EventGetRtpCapabilities  = "getRtpCapabilities"
	EventCreateSendTransport = "createSendTransport"
	EventCreateRecvTransport = "createRecvTransport"
	EventConnectTransport    = "connectTransport"
	EventProduce             = "produce"
	EventConsume             = "consume"
	EventGetProducers        = "getProducers"
)

// Events received from the server.
const (
	EventNewUnreadMessage    = "newUnreadMessage"
	EventNewGroupCreated     = "newGroupCreated"
	EventReceiveMessage      = "receiveMessage"
	EventNewMessageReceived  = "newMessageReceived"
	EventReceiveGroupMessage = "receiveGroupMessage"
	EventGroupError          = "groupError"
	EventIncomingCall        = "incomingCall"
	EventNewProducer         = "newProducer"
	EventUserJoinedCall      = "user-joined-call"
	EventUserLeftCall        = "user-left-call"
)

// JoinPayload registers the user's personal room after connecting.
type JoinPayload struct {
	UserID string `json:"userId"`
}

// JoinGroupPayload joins a group room.
type JoinGroupPayload struct {
	GroupID string `json:"groupId"`
	UserID  string `json:"userId"`
}

// UserOnlinePayload announces presence.
type UserOnlinePayload struct {
	UserID string `json:"userId"`
}

// SendMessagePayload is an outgoing direct message.
type SendMessagePayload struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	Message    string `json:"message"`
}

// SendGroupMessagePayload is an outgoing group message.
type SendGroupMessagePayload struct {
	GroupID     string `json:"groupId"`
	SenderID    string `json:"senderId"`
	Message     string `json:"message"`
	MessageType string `json:"messageType"`
	Timestamp   string `json:"timestamp"`
}

// StartCallPayload announces call intent to the remote user's room.
type StartCallPayload struct {
	FromUserID string `json:"fromUserId"`
	ToUserID   string `json:"toUserId"`
	IsVideo    bool   `json:"isVideo"`
}

// CallDeclinedPayload tells the caller the callee declined.
type CallDeclinedPayload struct {
	ToUserID string `json:"toUserId"`
}

// JoinCallPayload joins the per-call signaling room (mesh mode).
type JoinCallPayload struct {
	RoomID string `json:"roomId"`
}

// LeaveCallPayload leaves the per-call signaling room (mesh mode).
type LeaveCallPayload struct {
	RoomID string `json:"roomId"`
}
