package call

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/implus/implink/internal/bus"
	"github.com/implus/implink/internal/media"
	"github.com/implus/implink/internal/wire"
)

const routerCaps = `{"codecs":[
	{"mimeType":"audio/opus","kind":"audio","clockRate":48000,"channels":2,"preferredPayloadType":100},
	{"mimeType":"video/VP8","kind":"video","clockRate":90000,"preferredPayloadType":101},
	{"mimeType":"video/H264","kind":"video","clockRate":90000,"preferredPayloadType":102}
]}`

// relayScript answers the relay round-trips with canned payloads,
// optionally delaying individual consume responses.
type relayScript struct {
	mu            sync.Mutex
	producers     []string
	consumeDelay  map[string]time.Duration
	consumeCalls  []string
	transportReqs []wire.ConnectTransportPayload
}

func (rs *relayScript) respond(event string, payload any) (json.RawMessage, error) {
	switch event {
	case wire.EventGetRtpCapabilities:
		return json.RawMessage(`{"rtpCapabilities":` + routerCaps + `}`), nil
	case wire.EventCreateSendTransport:
		return json.RawMessage(`{"id":"st1","dtlsParameters":{"role":"auto"}}`), nil
	case wire.EventCreateRecvTransport:
		return json.RawMessage(`{"id":"rt1","dtlsParameters":{"role":"auto"}}`), nil
	case wire.EventConnectTransport:
		rs.mu.Lock()
		rs.transportReqs = append(rs.transportReqs, payload.(wire.ConnectTransportPayload))
		rs.mu.Unlock()
		return json.RawMessage(`{}`), nil
	case wire.EventGetProducers:
		rs.mu.Lock()
		defer rs.mu.Unlock()
		raw, _ := json.Marshal(rs.producers)
		return raw, nil
	case wire.EventConsume:
		p := payload.(wire.ConsumePayload)
		rs.mu.Lock()
		rs.consumeCalls = append(rs.consumeCalls, p.ProducerID)
		delay := rs.consumeDelay[p.ProducerID]
		rs.mu.Unlock()
		if delay > 0 {
			time.Sleep(delay)
		}
		opts := wire.ConsumerOptions{
			ID:            "c-" + p.ProducerID,
			ProducerID:    p.ProducerID,
			Kind:          "video",
			RTPParameters: json.RawMessage(`{"codecs":[]}`),
		}
		raw, _ := json.Marshal(opts)
		return raw, nil
	}
	return nil, fmt.Errorf("unexpected round-trip %s", event)
}

func relayFixture(t *testing.T, script *relayScript) (*Session, *relayNegotiator, *fakeSignaler) {
	t.Helper()
	sig := newFakeSignaler()
	sig.respond = script.respond

	s := newSession(bus.New(), zap.NewNop(), "me", "u2", ModeRelay, true, Outgoing)
	walkToNegotiating(t, s)

	neg := newRelayNegotiator(s, sig, &media.Capture{}, zap.NewNop())
	return s, neg, sig
}

func waitState(t *testing.T, s *Session, want State) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for s.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("state = %s, want %s", s.State(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRelayNegotiationConnectsBothDirections(t *testing.T) {
	script := &relayScript{}
	s, neg, _ := relayFixture(t, script)

	if err := neg.begin(context.Background()); err != nil {
		t.Fatal(err)
	}

	script.mu.Lock()
	defer script.mu.Unlock()
	if len(script.transportReqs) != 2 {
		t.Fatalf("connect round-trips = %d, want 2", len(script.transportReqs))
	}
	if script.transportReqs[0].IsConsumer || !script.transportReqs[1].IsConsumer {
		t.Errorf("connect order = %+v, want producer then consumer", script.transportReqs)
	}
	if s.State() != Negotiating {
		t.Errorf("state = %s before any remote track", s.State())
	}
}

// The connect round-trips carry locally generated DTLS material, not the
// parameters the relay returned when creating the transports.
func TestRelayConnectSendsClientDTLSParameters(t *testing.T) {
	script := &relayScript{}
	_, neg, _ := relayFixture(t, script)

	if err := neg.begin(context.Background()); err != nil {
		t.Fatal(err)
	}

	script.mu.Lock()
	defer script.mu.Unlock()
	if len(script.transportReqs) != 2 {
		t.Fatalf("connect round-trips = %d, want 2", len(script.transportReqs))
	}
	for i, req := range script.transportReqs {
		p := req.DTLSParameters
		if p.Role != "client" {
			t.Errorf("request %d role = %q, want client", i, p.Role)
		}
		if len(p.Fingerprints) == 0 {
			t.Fatalf("request %d carries no fingerprints", i)
		}
		for _, fp := range p.Fingerprints {
			if fp.Algorithm == "" || fp.Value == "" {
				t.Errorf("request %d fingerprint = %+v", i, fp)
			}
		}
	}
	// Each transport is its own DTLS association with its own certificate.
	if script.transportReqs[0].DTLSParameters.Fingerprints[0].Value ==
		script.transportReqs[1].DTLSParameters.Fingerprints[0].Value {
		t.Error("send and recv transports share a certificate")
	}
}

// Consume round-trips for several producers resolve in any order; each
// track attaches independently, exactly once.
func TestRelayConsumesProducersOutOfOrder(t *testing.T) {
	script := &relayScript{
		producers: []string{"p1", "p2"},
		consumeDelay: map[string]time.Duration{
			"p1": 150 * time.Millisecond, // p2 resolves first
		},
	}
	s, neg, _ := relayFixture(t, script)

	if err := neg.begin(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitState(t, s, Active)

	deadline := time.Now().Add(3 * time.Second)
	for s.Remote.Len() != 2 {
		if time.Now().After(deadline) {
			t.Fatalf("attached = %d, want 2", s.Remote.Len())
		}
		time.Sleep(5 * time.Millisecond)
	}

	tracks := s.Remote.Tracks()
	if tracks[0].ProducerID != "p2" || tracks[1].ProducerID != "p1" {
		t.Errorf("attach order = %v %v, want completion order p2 then p1",
			tracks[0].ProducerID, tracks[1].ProducerID)
	}
}

func TestRelayNewProducerAnnouncement(t *testing.T) {
	script := &relayScript{}
	s, neg, _ := relayFixture(t, script)

	if err := neg.begin(context.Background()); err != nil {
		t.Fatal(err)
	}

	neg.producerAdded(context.Background(), "p9")
	waitState(t, s, Active)

	if s.Remote.Len() != 1 || s.Remote.Tracks()[0].ProducerID != "p9" {
		t.Errorf("tracks = %+v", s.Remote.Tracks())
	}

	// The same announcement again attaches nothing new.
	neg.producerAdded(context.Background(), "p9")
	time.Sleep(50 * time.Millisecond)
	if s.Remote.Len() != 1 {
		t.Errorf("duplicate producer attached: len = %d", s.Remote.Len())
	}
}

// A consume response landing after the call ended is discarded.
func TestRelayConsumeAfterEndIsDiscarded(t *testing.T) {
	script := &relayScript{
		producers:    []string{"p1"},
		consumeDelay: map[string]time.Duration{"p1": 200 * time.Millisecond},
	}
	s, neg, _ := relayFixture(t, script)

	if err := neg.begin(context.Background()); err != nil {
		t.Fatal(err)
	}

	// End while the consume round-trip is still in flight.
	time.Sleep(50 * time.Millisecond)
	s.End("hangup")

	time.Sleep(300 * time.Millisecond)
	if s.Remote.Len() != 0 {
		t.Errorf("stale consume attached a track")
	}
	if s.State() != Ended {
		t.Errorf("state = %s", s.State())
	}
}

func TestRelayRejectedRoundTripFails(t *testing.T) {
	sig := newFakeSignaler()
	sig.respond = func(event string, payload any) (json.RawMessage, error) {
		return nil, fmt.Errorf("%s rejected: no such room", event)
	}
	s := newSession(bus.New(), zap.NewNop(), "me", "u2", ModeRelay, true, Outgoing)
	walkToNegotiating(t, s)
	neg := newRelayNegotiator(s, sig, &media.Capture{}, zap.NewNop())

	if err := neg.begin(context.Background()); err == nil {
		t.Fatal("begin succeeded against rejecting relay")
	}
}
