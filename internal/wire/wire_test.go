package wire

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestDecodeServerEventVariants(t *testing.T) {
	tests := []struct {
		event string
		data  string
		want  any
	}{
		{EventNewUnreadMessage, `{"from":"u2","msg":{"senderId":"u2","message":"hi"}}`, &NewUnreadMessage{}},
		{EventNewGroupCreated, `{"group":{"_id":"g1","name":"ops","participants":["u1","u2"]}}`, &NewGroupCreated{}},
		{EventReceiveMessage, `{"senderId":"u2","receiverId":"u1","message":"hey"}`, &DirectMessage{}},
		{EventNewMessageReceived, `{"senderId":"u2","receiverId":"u1","message":"hey"}`, &DirectMessage{}},
		{EventReceiveGroupMessage, `{"senderId":"u2","groupId":"g1","message":"hey","messageType":"text"}`, &GroupMessage{}},
		{EventGroupError, `{"message":"not a member"}`, &GroupError{}},
		{EventIncomingCall, `{"fromUserId":"u2","isVideo":true}`, &IncomingCall{}},
		{EventNewProducer, `{"producerId":"p1"}`, &NewProducer{}},
		{EventUserLeftCall, `null`, &UserLeftCall{}},
		{EventSignal, `{"from":"u2","data":{"type":"offer","sdp":"v=0"}}`, &Signal{}},
	}
	for _, tt := range tests {
		t.Run(tt.event, func(t *testing.T) {
			got, err := DecodeServerEvent(tt.event, json.RawMessage(tt.data))
			if err != nil {
				t.Fatalf("DecodeServerEvent() error = %v", err)
			}
			if gotT, wantT := typeName(got), typeName(tt.want); gotT != wantT {
				t.Errorf("variant = %s, want %s", gotT, wantT)
			}
		})
	}
}

func typeName(v any) string {
	switch v.(type) {
	case *NewUnreadMessage:
		return "NewUnreadMessage"
	case *NewGroupCreated:
		return "NewGroupCreated"
	case *DirectMessage:
		return "DirectMessage"
	case *GroupMessage:
		return "GroupMessage"
	case *GroupError:
		return "GroupError"
	case *IncomingCall:
		return "IncomingCall"
	case *NewProducer:
		return "NewProducer"
	case *UserJoinedCall:
		return "UserJoinedCall"
	case *UserLeftCall:
		return "UserLeftCall"
	case *Signal:
		return "Signal"
	default:
		return "unknown"
	}
}

func TestDecodeUnknownEvent(t *testing.T) {
	_, err := DecodeServerEvent("definitely-not-an-event", json.RawMessage(`{}`))
	if !errors.Is(err, ErrUnknownEvent) {
		t.Errorf("error = %v, want ErrUnknownEvent", err)
	}
}

func TestDecodeMalformedPayload(t *testing.T) {
	_, err := DecodeServerEvent(EventIncomingCall, json.RawMessage(`"not an object"`))
	if err == nil {
		t.Error("expected decode error for malformed payload")
	}
}

func TestDecodeUserJoinedBareString(t *testing.T) {
	got, err := DecodeServerEvent(EventUserJoinedCall, json.RawMessage(`"u7"`))
	if err != nil {
		t.Fatal(err)
	}
	uj, ok := got.(*UserJoinedCall)
	if !ok || uj.UserID != "u7" {
		t.Errorf("got %#v, want UserJoinedCall{u7}", got)
	}
}

func TestDecodeUserJoinedObject(t *testing.T) {
	got, err := DecodeServerEvent(EventUserJoinedCall, json.RawMessage(`{"userId":"u7"}`))
	if err != nil {
		t.Fatal(err)
	}
	uj, ok := got.(*UserJoinedCall)
	if !ok || uj.UserID != "u7" {
		t.Errorf("got %#v, want UserJoinedCall{u7}", got)
	}
}

func TestSignalDataDescription(t *testing.T) {
	offer := SignalData{Type: "offer", SDP: "v=0"}
	desc, err := offer.Description()
	if err != nil {
		t.Fatal(err)
	}
	if desc.SDP != "v=0" {
		t.Errorf("SDP = %q, want v=0", desc.SDP)
	}

	cand := SignalData{Candidate: nil}
	if _, err := cand.Description(); err == nil {
		t.Error("expected error for non-description signal data")
	}
}

func TestMessageTypeDefault(t *testing.T) {
	m := &Message{Body: "hello"}
	if m.Type() != MessageText {
		t.Errorf("Type() = %q, want %q", m.Type(), MessageText)
	}
	m.MessageType = MessageVisitor
	if m.Type() != MessageVisitor {
		t.Errorf("Type() = %q, want %q", m.Type(), MessageVisitor)
	}
}

func TestMessageTimestampRoundTrip(t *testing.T) {
	ts := time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)
	in := Message{SenderID: "u1", Body: "hi", Timestamp: ts}
	raw, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	var out Message
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatal(err)
	}
	if !out.Timestamp.Equal(ts) {
		t.Errorf("timestamp = %v, want %v", out.Timestamp, ts)
	}
}
