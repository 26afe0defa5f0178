package wire

import (
	"encoding/json"
	"fmt"
)

// ErrUnknownEvent is returned by DecodeServerEvent for event names outside
// the protocol.
var ErrUnknownEvent = fmt.Errorf("wire: unknown server event")

// ServerEvent is the closed set of events the server pushes to a client.
type ServerEvent interface{ serverEvent() }

// NewUnreadMessage notifies that a message arrived for a conversation the
// user does not have open.
type NewUnreadMessage struct {
	From string  `json:"from"`
	Msg  Message `json:"msg"`
}

// NewGroupCreated notifies that the user was added to a new group.
type NewGroupCreated struct {
	Group Group `json:"group"`
}

// DirectMessage is a live direct message delivered to an open conversation.
// Both "receiveMessage" and "newMessageReceived" decode to it; the two names
// are drifted copies of the same server-side emit.
type DirectMessage struct {
	Message
}

// GroupMessage is a live group message.
type GroupMessage struct {
	Message
}

// GroupError is a server-side protocol error surfaced to the user without
// mutating any local state.
type GroupError struct {
	Message string `json:"message"`
}

// IncomingCall notifies that a remote user is calling.
type IncomingCall struct {
	FromUserID string `json:"fromUserId"`
	IsVideo    bool   `json:"isVideo"`
}

// NewProducer announces a new remote producer in relay mode.
type NewProducer struct {
	ProducerID string `json:"producerId"`
}

// UserJoinedCall announces that the peer joined the mesh signaling room.
type UserJoinedCall struct {
	UserID string
}

// UserLeftCall announces that the peer left the call.
type UserLeftCall struct{}

// Signal carries one mesh negotiation message relayed by the server.
type Signal struct {
	From string     `json:"from"`
	Data SignalData `json:"data"`
}

func (*NewUnreadMessage) serverEvent() {}
func (*NewGroupCreated) serverEvent()  {}
func (*DirectMessage) serverEvent()    {}
func (*GroupMessage) serverEvent()     {}
func (*GroupError) serverEvent()       {}
func (*IncomingCall) serverEvent()     {}
func (*NewProducer) serverEvent()      {}
func (*UserJoinedCall) serverEvent()   {}
func (*UserLeftCall) serverEvent()     {}
func (*Signal) serverEvent()           {}

// DecodeServerEvent decodes a raw payload for the named event into its typed
// variant. Event names outside the protocol return ErrUnknownEvent so the
// channel can log and drop them in one place.
func DecodeServerEvent(event string, data json.RawMessage) (ServerEvent, error) {
	switch event {
	case EventNewUnreadMessage:
		return decodeInto(event, data, &NewUnreadMessage{})
	case EventNewGroupCreated:
		return decodeInto(event, data, &NewGroupCreated{})
	case EventReceiveMessage, EventNewMessageReceived:
		return decodeInto(event, data, &DirectMessage{})
	case EventReceiveGroupMessage:
		return decodeInto(event, data, &GroupMessage{})
	case EventGroupError:
		return decodeInto(event, data, &GroupError{})
	case EventIncomingCall:
		return decodeInto(event, data, &IncomingCall{})
	case EventNewProducer:
		return decodeInto(event, data, &NewProducer{})
	case EventUserJoinedCall:
		return decodeUserJoined(data)
	case EventUserLeftCall:
		return &UserLeftCall{}, nil
	case EventSignal:
		return decodeInto(event, data, &Signal{})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, event)
	}
}

func decodeInto[T ServerEvent](event string, data json.RawMessage, v T) (ServerEvent, error) {
	if err := json.Unmarshal(data, v); err != nil {
		return nil, fmt.Errorf("wire: decode %s: %w", event, err)
	}
	return v, nil
}

// decodeUserJoined accepts both the bare-string form the original server
// emits and an {userId} object.
func decodeUserJoined(data json.RawMessage) (ServerEvent, error) {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return &UserJoinedCall{UserID: s}, nil
	}
	var obj struct {
		UserID string `json:"userId"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("wire: decode %s: %w", EventUserJoinedCall, err)
	}
	return &UserJoinedCall{UserID: obj.UserID}, nil
}
