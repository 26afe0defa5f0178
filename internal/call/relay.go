package call

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/implus/implink/internal/bus"
	"github.com/implus/implink/internal/media"
	"github.com/implus/implink/internal/wire"
)

// relayNegotiator negotiates through the media relay: it loads a device
// description from the router's capability set, opens one send and one
// receive transport, produces each local track and consumes every remote
// producer, present or announced later. Consume round-trips for different
// producers are independent and may resolve in any order.
type relayNegotiator struct {
	sess   *Session
	sig    Signaler
	cap    *media.Capture
	logger *zap.Logger

	device        *relayDevice
	sendTransport wire.TransportOptions
	recvTransport wire.TransportOptions
}

func newRelayNegotiator(s *Session, sig Signaler, cap *media.Capture, logger *zap.Logger) *relayNegotiator {
	return &relayNegotiator{sess: s, sig: sig, cap: cap, logger: logger}
}

func (r *relayNegotiator) begin(ctx context.Context) error {
	raw, err := r.sig.Request(ctx, wire.EventGetRtpCapabilities, nil)
	if err != nil {
		return fmt.Errorf("fetch router capabilities: %w", err)
	}
	caps := rtpCapabilities(raw)
	device, err := loadDevice(caps)
	if err != nil {
		return err
	}
	r.device = device

	if !r.sess.guard(Negotiating) {
		return nil
	}

	if err := r.openSendTransport(ctx); err != nil {
		return err
	}
	if err := r.produceLocalTracks(ctx); err != nil {
		return err
	}
	if err := r.openRecvTransport(ctx); err != nil {
		return err
	}
	return r.consumeExisting(ctx)
}

func (r *relayNegotiator) openSendTransport(ctx context.Context) error {
	raw, err := r.sig.Request(ctx, wire.EventCreateSendTransport, nil)
	if err != nil {
		return fmt.Errorf("create send transport: %w", err)
	}
	if err := json.Unmarshal(raw, &r.sendTransport); err != nil {
		return fmt.Errorf("parse send transport: %w", err)
	}

	// The connect round-trip carries the client's own DTLS material for
	// the producer side of the relay.
	dtls, err := clientDTLSParameters()
	if err != nil {
		return fmt.Errorf("generate send transport certificate: %w", err)
	}
	if _, err := r.sig.Request(ctx, wire.EventConnectTransport, wire.ConnectTransportPayload{
		DTLSParameters: dtls,
		IsConsumer:     false,
	}); err != nil {
		return fmt.Errorf("connect send transport: %w", err)
	}
	return nil
}

func (r *relayNegotiator) produceLocalTracks(ctx context.Context) error {
	for _, track := range r.cap.Tracks() {
		if !r.sess.guard(Negotiating) {
			return nil
		}
		kind := track.Kind().String()
		params, ok := r.device.rtpParameters(kind)
		if !ok {
			r.logger.Warn("router cannot take local track", zap.String("kind", kind))
			continue
		}
		raw, err := r.sig.Request(ctx, wire.EventProduce, wire.ProducePayload{
			Kind:          kind,
			RTPParameters: params,
		})
		if err != nil {
			return fmt.Errorf("produce %s: %w", kind, err)
		}
		var resp wire.ProduceResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			return fmt.Errorf("parse produce response: %w", err)
		}
		r.logger.Info("producing", zap.String("kind", kind), zap.String("producer", resp.ID))
	}
	return nil
}

func (r *relayNegotiator) openRecvTransport(ctx context.Context) error {
	raw, err := r.sig.Request(ctx, wire.EventCreateRecvTransport, nil)
	if err != nil {
		return fmt.Errorf("create recv transport: %w", err)
	}
	if err := json.Unmarshal(raw, &r.recvTransport); err != nil {
		return fmt.Errorf("parse recv transport: %w", err)
	}

	// Each transport is its own DTLS association with its own certificate.
	dtls, err := clientDTLSParameters()
	if err != nil {
		return fmt.Errorf("generate recv transport certificate: %w", err)
	}
	if _, err := r.sig.Request(ctx, wire.EventConnectTransport, wire.ConnectTransportPayload{
		DTLSParameters: dtls,
		IsConsumer:     true,
	}); err != nil {
		return fmt.Errorf("connect recv transport: %w", err)
	}
	return nil
}

// consumeExisting enumerates producers already present in the room and
// consumes each on its own flow.
func (r *relayNegotiator) consumeExisting(ctx context.Context) error {
	raw, err := r.sig.Request(ctx, wire.EventGetProducers, nil)
	if err != nil {
		return fmt.Errorf("list producers: %w", err)
	}
	var producers []string
	if err := json.Unmarshal(raw, &producers); err != nil {
		return fmt.Errorf("parse producer list: %w", err)
	}
	for _, id := range producers {
		go r.consume(ctx, id)
	}
	return nil
}

// producerAdded consumes a producer announced after join.
func (r *relayNegotiator) producerAdded(ctx context.Context, producerID string) {
	go r.consume(ctx, producerID)
}

// consume performs one consume round-trip and attaches the resulting track.
// The session state is checked again after the round-trip: a response that
// lands after the call ended is discarded.
func (r *relayNegotiator) consume(ctx context.Context, producerID string) {
	if r.device == nil || !r.sess.guard(Negotiating, Active) {
		return
	}
	raw, err := r.sig.Request(ctx, wire.EventConsume, wire.ConsumePayload{
		ProducerID:      producerID,
		RTPCapabilities: r.device.capabilities(),
	})
	if err != nil {
		r.logger.Warn("consume failed", zap.String("producer", producerID), zap.Error(err))
		return
	}
	if !r.sess.guard(Negotiating, Active) {
		return
	}

	var opts wire.ConsumerOptions
	if err := json.Unmarshal(raw, &opts); err != nil {
		r.logger.Warn("bad consumer options", zap.String("producer", producerID), zap.Error(err))
		return
	}

	rt := RemoteTrack{
		ID:            opts.ID,
		ProducerID:    opts.ProducerID,
		Kind:          opts.Kind,
		RTPParameters: opts.RTPParameters,
	}
	if !r.sess.Remote.attach(rt) {
		return
	}
	r.sess.bus.Emit(bus.KindCallRemoteTrack, rt)
	_ = r.sess.transition(Active, "")
}

// handleSignal and peerJoined are mesh-only.
func (r *relayNegotiator) handleSignal(context.Context, wire.SignalData) {}
func (r *relayNegotiator) peerJoined(context.Context)                    {}

func (r *relayNegotiator) close() {}

// clientDTLSParameters generates a fresh certificate and returns its
// fingerprints in the shape the relay's connect handler expects.
func clientDTLSParameters() (wire.DTLSParameters, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return wire.DTLSParameters{}, err
	}
	cert, err := webrtc.GenerateCertificate(key)
	if err != nil {
		return wire.DTLSParameters{}, err
	}
	fps, err := cert.GetFingerprints()
	if err != nil {
		return wire.DTLSParameters{}, err
	}
	params := wire.DTLSParameters{Role: "client"}
	for _, fp := range fps {
		params.Fingerprints = append(params.Fingerprints, wire.DTLSFingerprint{
			Algorithm: fp.Algorithm,
			Value:     fp.Value,
		})
	}
	return params, nil
}

// rtpCapabilities unwraps the ack payload, which arrives either bare or
// wrapped in a rtpCapabilities envelope.
func rtpCapabilities(raw json.RawMessage) json.RawMessage {
	var wrapped wire.RouterCapabilities
	if err := json.Unmarshal(raw, &wrapped); err == nil && len(wrapped.RTPCapabilities) > 0 {
		return wrapped.RTPCapabilities
	}
	return raw
}
