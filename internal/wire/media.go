package wire

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// Mesh signaling. SignalData is a tagged variant: an SDP offer, an SDP
// answer, or a trickled ICE candidate.

// SignalData is one mesh negotiation payload, relayed verbatim through the
// server, keyed by the call's room id on the emitting side.
type SignalData struct {
	Type      string                   `json:"type,omitempty"` // "offer" | "answer", empty for candidates
	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
}

// SignalPayload is the client-emitted envelope around SignalData.
type SignalPayload struct {
	RoomID string     `json:"roomId"`
	To     string     `json:"to"`
	Data   SignalData `json:"data"`
}

// OfferSignal wraps a local session description for the wire.
func OfferSignal(desc webrtc.SessionDescription) SignalData {
	return SignalData{Type: desc.Type.String(), SDP: desc.SDP}
}

// CandidateSignal wraps a trickled ICE candidate for the wire.
func CandidateSignal(c webrtc.ICECandidateInit) SignalData {
	return SignalData{Candidate: &c}
}

// Description converts an offer/answer SignalData back into a pion session
// description. Returns an error for candidate payloads.
func (d SignalData) Description() (webrtc.SessionDescription, error) {
	switch d.Type {
	case "offer":
		return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: d.SDP}, nil
	case "answer":
		return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: d.SDP}, nil
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("wire: signal data %q is not a description", d.Type)
	}
}

// Relay (SFU) negotiation. Capability, ICE and RTP parameter blobs are
// produced and consumed by the media relay; the client treats them as opaque
// and only routes them through the correct round-trips. DTLS parameters on
// transport connect are the exception: the client generates its own
// certificate material and sends it, the relay verifies the fingerprint
// during the handshake.

// RouterCapabilities is the relay's RTP capability set, fetched once per
// call and used to load the local device description.
type RouterCapabilities struct {
	RTPCapabilities json.RawMessage `json:"rtpCapabilities"`
}

// TransportOptions describes one server-created transport (one direction).
type TransportOptions struct {
	ID             string          `json:"id"`
	ICEParameters  json.RawMessage `json:"iceParameters"`
	ICECandidates  json.RawMessage `json:"iceCandidates"`
	DTLSParameters json.RawMessage `json:"dtlsParameters"`
}

// DTLSFingerprint is one certificate digest inside DTLSParameters.
type DTLSFingerprint struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

// DTLSParameters carries the client's certificate fingerprints for a
// transport connect round-trip.
type DTLSParameters struct {
	Role         string            `json:"role"`
	Fingerprints []DTLSFingerprint `json:"fingerprints"`
}

// ConnectTransportPayload completes the DTLS handshake for a transport with
// the client's own parameters. IsConsumer selects the receive-direction
// transport on the server.
type ConnectTransportPayload struct {
	DTLSParameters DTLSParameters `json:"dtlsParameters"`
	IsConsumer     bool           `json:"isConsumer"`
}

// ProducePayload announces one local track to the relay.
type ProducePayload struct {
	Kind          string          `json:"kind"` // "audio" | "video"
	RTPParameters json.RawMessage `json:"rtpParameters"`
}

// ProduceResponse acknowledges a produce round-trip with the producer id.
type ProduceResponse struct {
	ID string `json:"id"`
}

// ConsumePayload requests consumption of a remote producer.
type ConsumePayload struct {
	ProducerID      string          `json:"producerId"`
	RTPCapabilities json.RawMessage `json:"rtpCapabilities"`
}

// ConsumerOptions is the relay's answer to a consume round-trip.
type ConsumerOptions struct {
	ID            string          `json:"id"`
	ProducerID    string          `json:"producerId"`
	Kind          string          `json:"kind"`
	RTPParameters json.RawMessage `json:"rtpParameters"`
}
