package call

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/implus/implink/internal/bus"
	"github.com/implus/implink/internal/media"
	"github.com/implus/implink/internal/notify"
	"github.com/implus/implink/internal/wire"
)

// ErrBusy is returned when a call is started while another session is
// still live. At most one non-terminal session exists at a time.
var ErrBusy = errors.New("call: another call is in progress")

// Signaler is the realtime surface the engine needs. *realtime.Channel
// satisfies it.
type Signaler interface {
	Emit(event string, payload any) error
	Request(ctx context.Context, event string, payload any) (json.RawMessage, error)
	On(event string, h func(data json.RawMessage)) (off func())
}

// negotiator is one negotiation strategy bound to a session.
type negotiator interface {
	// begin starts negotiation. Failure is terminal for the session.
	begin(ctx context.Context) error
	// handleSignal applies one mesh signaling payload.
	handleSignal(ctx context.Context, d wire.SignalData)
	// peerJoined reacts to the remote participant entering the room.
	peerJoined(ctx context.Context)
	// producerAdded reacts to a new remote relay producer.
	producerAdded(ctx context.Context, producerID string)
	close()
}

// CaptureFunc acquires local media. media.Acquire matches it; tests
// substitute a fake.
type CaptureFunc func(logger *zap.Logger, iceURLs []string, video bool) (*media.Capture, error)

// Engine owns the call lifecycle. It routes inbound signaling to the
// single live session and enforces the one-live-session invariant.
type Engine struct {
	sig     Signaler
	bus     *bus.Bus
	sink    notify.Sink
	logger  *zap.Logger
	localID string
	mode    Mode
	iceURLs []string
	capture CaptureFunc

	// test seam; a nil value selects the real mesh/relay negotiators
	newNegotiator func(s *Session, cap *media.Capture) negotiator

	mu      sync.Mutex
	session *Session
	neg     negotiator
	offs    []func()
}

// NewEngine creates a call engine for the local user. mode selects the
// negotiation strategy for every call this engine places or accepts.
func NewEngine(sig Signaler, b *bus.Bus, sink notify.Sink, logger *zap.Logger, localID string, mode Mode, iceURLs []string) *Engine {
	return &Engine{
		sig:     sig,
		bus:     b,
		sink:    sink,
		logger:  logger,
		localID: localID,
		mode:    mode,
		iceURLs: iceURLs,
		capture: media.Acquire,
	}
}

// Start registers the engine's signaling handlers. The returned handlers
// stay registered until Stop.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.offs = []func(){
		e.sig.On(wire.EventIncomingCall, func(data json.RawMessage) {
			var ev wire.IncomingCall
			if err := json.Unmarshal(data, &ev); err != nil {
				e.logger.Warn("bad incomingCall payload", zap.Error(err))
				return
			}
			e.handleIncoming(ctx, ev.FromUserID, ev.IsVideo)
		}),
		e.sig.On(wire.EventSignal, func(data json.RawMessage) {
			var ev wire.Signal
			if err := json.Unmarshal(data, &ev); err != nil {
				e.logger.Warn("bad signal payload", zap.Error(err))
				return
			}
			e.routeSignal(ctx, ev)
		}),
		e.sig.On(wire.EventUserJoinedCall, func(data json.RawMessage) {
			e.withLiveSession(func(s *Session, n negotiator) {
				if n != nil {
					n.peerJoined(ctx)
				}
			})
		}),
		e.sig.On(wire.EventUserLeftCall, func(data json.RawMessage) {
			e.withLiveSession(func(s *Session, n negotiator) { s.End("peer left") })
		}),
		e.sig.On(wire.EventNewProducer, func(data json.RawMessage) {
			var ev wire.NewProducer
			if err := json.Unmarshal(data, &ev); err != nil {
				return
			}
			e.withLiveSession(func(s *Session, n negotiator) {
				if n != nil {
					n.producerAdded(ctx, ev.ProducerID)
				}
			})
		}),
	}
}

// Stop unregisters the signaling handlers and ends any live session.
func (e *Engine) Stop() {
	e.mu.Lock()
	offs := e.offs
	e.offs = nil
	s := e.session
	e.mu.Unlock()

	for _, off := range offs {
		off()
	}
	if s != nil {
		s.End("engine stopped")
	}
}

// Session returns the current session, live or terminal, nil before the
// first call.
func (e *Engine) Session() *Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session
}

// StartOutgoing places a call to a remote participant. It announces intent
// over the channel, acquires capture devices and hands the session to the
// negotiation strategy. Capture failure is fatal and reported, never
// retried.
func (e *Engine) StartOutgoing(ctx context.Context, remoteID string, video bool) (*Session, error) {
	s, err := e.adopt(remoteID, video, Outgoing)
	if err != nil {
		return nil, err
	}

	if err := e.sig.Emit(wire.EventStartCall, wire.StartCallPayload{
		FromUserID: e.localID,
		ToUserID:   remoteID,
		IsVideo:    video,
	}); err != nil {
		s.End("announce failed: " + err.Error())
		return s, fmt.Errorf("announce call: %w", err)
	}

	neg, err := e.setup(s, video)
	if err != nil {
		s.End(err.Error())
		return s, err
	}

	if err := s.transition(Requesting, ""); err != nil {
		return s, err
	}
	return s, e.beginNegotiation(ctx, s, neg)
}

// handleIncoming rings for a remote call. The session stays in Ringing,
// looping the alert tone, until Accept or Decline resolves it.
func (e *Engine) handleIncoming(ctx context.Context, fromID string, video bool) {
	s, err := e.adopt(fromID, video, Incoming)
	if err != nil {
		// Already on a call: reject without disturbing the live session.
		_ = e.sig.Emit(wire.EventCallDeclined, wire.CallDeclinedPayload{ToUserID: fromID})
		e.logger.Info("declined incoming call while busy", zap.String("from", fromID))
		return
	}

	if err := s.transition(Ringing, ""); err != nil {
		return
	}
	e.sink.StartRing()

	var decideOnce sync.Once
	s.mu.Lock()
	s.accept = func() error {
		var err error
		decideOnce.Do(func() { err = e.acceptIncoming(ctx, s, video) })
		return err
	}
	s.decline = func() {
		decideOnce.Do(func() {
			e.sink.StopRing()
			_ = e.sig.Emit(wire.EventCallDeclined, wire.CallDeclinedPayload{ToUserID: fromID})
			_ = s.transition(Declined, "declined locally")
		})
	}
	s.mu.Unlock()
	s.addRelease(e.sink.StopRing)

	e.bus.Publish(bus.Event{
		Kind:      bus.KindCallIncoming,
		Timestamp: time.Now(),
		Payload:   s,
	})
}

func (e *Engine) acceptIncoming(ctx context.Context, s *Session, video bool) error {
	e.sink.StopRing()

	neg, err := e.setup(s, video)
	if err != nil {
		s.End(err.Error())
		return err
	}
	return e.beginNegotiation(ctx, s, neg)
}

// adopt installs a fresh session if no live one exists.
func (e *Engine) adopt(remoteID string, video bool, dir Direction) (*Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != nil && !e.session.State().Terminal() {
		return nil, ErrBusy
	}
	s := newSession(e.bus, e.logger, e.localID, remoteID, e.mode, video, dir)
	e.session = s
	e.neg = nil
	return s, nil
}

// setup acquires capture devices and builds the negotiator, registering
// both for release on terminal entry.
func (e *Engine) setup(s *Session, video bool) (negotiator, error) {
	cap, err := e.capture(e.logger, e.iceURLs, video)
	if err != nil {
		return nil, fmt.Errorf("acquire capture: %w", err)
	}
	s.addRelease(cap.Close)

	var neg negotiator
	if e.newNegotiator != nil {
		neg = e.newNegotiator(s, cap)
	} else if s.Mode == ModeRelay {
		neg = newRelayNegotiator(s, e.sig, cap, e.logger)
	} else {
		neg = newMeshNegotiator(s, e.sig, cap, e.logger)
	}
	s.addRelease(neg.close)

	e.mu.Lock()
	e.neg = neg
	e.mu.Unlock()
	return neg, nil
}

func (e *Engine) beginNegotiation(ctx context.Context, s *Session, neg negotiator) error {
	if err := s.transition(Negotiating, ""); err != nil {
		return err
	}
	if err := e.sig.Emit(wire.EventJoinCall, wire.JoinCallPayload{RoomID: s.RoomID}); err != nil {
		s.End("join room failed: " + err.Error())
		return fmt.Errorf("join call room: %w", err)
	}
	s.addRelease(func() {
		_ = e.sig.Emit(wire.EventLeaveCall, wire.LeaveCallPayload{RoomID: s.RoomID})
	})
	if err := neg.begin(ctx); err != nil {
		s.End("negotiation failed: " + err.Error())
		return fmt.Errorf("begin negotiation: %w", err)
	}
	return nil
}

// End ends the live session, if any.
func (e *Engine) End(reason string) {
	e.withLiveSession(func(s *Session, n negotiator) { s.End(reason) })
}

func (e *Engine) routeSignal(ctx context.Context, ev wire.Signal) {
	e.withLiveSession(func(s *Session, n negotiator) {
		if ev.From != "" && ev.From != s.RemoteID {
			e.logger.Debug("signal from unexpected peer", zap.String("from", ev.From))
			return
		}
		if n != nil {
			n.handleSignal(ctx, ev.Data)
		}
	})
}

// withLiveSession runs f against the current non-terminal session and its
// negotiator. Events arriving with no live session are dropped. n is nil
// while an incoming session is still ringing.
func (e *Engine) withLiveSession(f func(s *Session, n negotiator)) {
	e.mu.Lock()
	s := e.session
	n := e.neg
	e.mu.Unlock()
	if s == nil || s.State().Terminal() {
		return
	}
	f(s, n)
}
