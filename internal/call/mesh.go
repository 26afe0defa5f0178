package call

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/implus/implink/internal/bus"
	"github.com/implus/implink/internal/media"
	"github.com/implus/implink/internal/wire"
)

// meshNegotiator runs direct peer-to-peer negotiation: offer/answer and
// trickled ICE relayed through the signaling server, keyed by the session's
// room. The side that sees the peer join the room creates the offer.
type meshNegotiator struct {
	sess   *Session
	sig    Signaler
	cap    *media.Capture
	logger *zap.Logger

	mu      sync.Mutex
	pc      *webrtc.PeerConnection
	pending []webrtc.ICECandidateInit
	remote  bool // remote description applied
}

func newMeshNegotiator(s *Session, sig Signaler, cap *media.Capture, logger *zap.Logger) *meshNegotiator {
	return &meshNegotiator{sess: s, sig: sig, cap: cap, logger: logger}
}

func (m *meshNegotiator) begin(ctx context.Context) error {
	pc, err := m.cap.NewPeerConnection()
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.pc = pc
	m.mu.Unlock()

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || !m.sess.guard(Negotiating, Active) {
			return
		}
		m.signal(wire.CandidateSignal(c.ToJSON()))
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if !m.sess.guard(Negotiating, Active) {
			return
		}
		rt := RemoteTrack{
			ID:    track.ID(),
			Kind:  track.Kind().String(),
			Track: track,
		}
		if !m.sess.Remote.attach(rt) {
			return
		}
		m.sess.bus.Emit(bus.KindCallRemoteTrack, rt)
		// First remote track makes the call live; later tracks find the
		// session already Active.
		_ = m.sess.transition(Active, "")
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			m.sess.End("peer connection " + s.String())
		}
	})

	return nil
}

// peerJoined makes this side the offerer.
func (m *meshNegotiator) peerJoined(ctx context.Context) {
	m.mu.Lock()
	pc := m.pc
	m.mu.Unlock()
	if pc == nil || !m.sess.guard(Negotiating) {
		return
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		m.sess.End("create offer: " + err.Error())
		return
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		m.sess.End("set local offer: " + err.Error())
		return
	}
	m.signal(wire.OfferSignal(offer))
}

func (m *meshNegotiator) handleSignal(ctx context.Context, d wire.SignalData) {
	if !m.sess.guard(Negotiating, Active) {
		return
	}
	m.mu.Lock()
	pc := m.pc
	m.mu.Unlock()
	if pc == nil {
		return
	}

	switch {
	case d.Candidate != nil:
		m.addCandidate(pc, *d.Candidate)
	case d.Type == "offer":
		m.answer(pc, d)
	case d.Type == "answer":
		desc, err := d.Description()
		if err != nil {
			m.logger.Warn("bad answer signal", zap.Error(err))
			return
		}
		if err := pc.SetRemoteDescription(desc); err != nil {
			m.sess.End("set remote answer: " + err.Error())
			return
		}
		m.flushCandidates(pc)
	default:
		m.logger.Debug("ignoring unknown signal", zap.String("type", d.Type))
	}
}

func (m *meshNegotiator) answer(pc *webrtc.PeerConnection, d wire.SignalData) {
	desc, err := d.Description()
	if err != nil {
		m.logger.Warn("bad offer signal", zap.Error(err))
		return
	}
	if err := pc.SetRemoteDescription(desc); err != nil {
		m.sess.End("set remote offer: " + err.Error())
		return
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		m.sess.End("create answer: " + err.Error())
		return
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		m.sess.End("set local answer: " + err.Error())
		return
	}
	m.flushCandidates(pc)
	m.signal(wire.OfferSignal(answer))
}

// addCandidate applies a trickled candidate, queueing it while the remote
// description has not arrived yet.
func (m *meshNegotiator) addCandidate(pc *webrtc.PeerConnection, c webrtc.ICECandidateInit) {
	m.mu.Lock()
	if !m.remote {
		m.pending = append(m.pending, c)
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	if err := pc.AddICECandidate(c); err != nil {
		m.logger.Warn("add ice candidate failed", zap.Error(err))
	}
}

func (m *meshNegotiator) flushCandidates(pc *webrtc.PeerConnection) {
	m.mu.Lock()
	m.remote = true
	pending := m.pending
	m.pending = nil
	m.mu.Unlock()
	for _, c := range pending {
		if err := pc.AddICECandidate(c); err != nil {
			m.logger.Warn("add queued ice candidate failed", zap.Error(err))
		}
	}
}

func (m *meshNegotiator) signal(d wire.SignalData) {
	err := m.sig.Emit(wire.EventSignal, wire.SignalPayload{
		RoomID: m.sess.RoomID,
		To:     m.sess.RemoteID,
		Data:   d,
	})
	if err != nil {
		m.logger.Warn("signal emit failed", zap.Error(err))
	}
}

// producerAdded is relay-only.
func (m *meshNegotiator) producerAdded(context.Context, string) {}

func (m *meshNegotiator) close() {
	m.mu.Lock()
	pc := m.pc
	m.pc = nil
	m.mu.Unlock()
	if pc != nil {
		_ = pc.Close()
	}
}
