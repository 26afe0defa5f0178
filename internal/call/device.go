package call

import (
	"encoding/json"
	"fmt"
	"strings"
)

// relayDevice is the loaded local device description for relay calls. It
// intersects the router's RTP capability set with the codecs this client
// produces (VP8 and Opus) and yields the send-direction RTP parameters per
// media kind. Capability and parameter blobs stay opaque beyond the codec
// list; the relay is the authority on their full shape.
type relayDevice struct {
	routerCaps json.RawMessage
	byKind     map[string]json.RawMessage
}

type routerCodec struct {
	MimeType             string          `json:"mimeType"`
	Kind                 string          `json:"kind"`
	ClockRate            int             `json:"clockRate"`
	Channels             int             `json:"channels,omitempty"`
	Parameters           json.RawMessage `json:"parameters,omitempty"`
	RTCPFeedback         json.RawMessage `json:"rtcpFeedback,omitempty"`
	PreferredPayloadType int             `json:"preferredPayloadType"`
}

type sendCodec struct {
	MimeType     string          `json:"mimeType"`
	PayloadType  int             `json:"payloadType"`
	ClockRate    int             `json:"clockRate"`
	Channels     int             `json:"channels,omitempty"`
	Parameters   json.RawMessage `json:"parameters,omitempty"`
	RTCPFeedback json.RawMessage `json:"rtcpFeedback,omitempty"`
}

var producedMimeTypes = map[string]string{
	"video/vp8":  "video",
	"audio/opus": "audio",
}

// loadDevice parses the router capability set and prepares send parameters
// for every producible kind the router supports.
func loadDevice(caps json.RawMessage) (*relayDevice, error) {
	var parsed struct {
		Codecs []routerCodec `json:"codecs"`
	}
	if err := json.Unmarshal(caps, &parsed); err != nil {
		return nil, fmt.Errorf("parse router capabilities: %w", err)
	}

	byKind := make(map[string]json.RawMessage)
	for _, c := range parsed.Codecs {
		kind, ok := producedMimeTypes[strings.ToLower(c.MimeType)]
		if !ok {
			continue
		}
		if _, done := byKind[kind]; done {
			continue
		}
		params, err := json.Marshal(struct {
			Codecs []sendCodec `json:"codecs"`
		}{Codecs: []sendCodec{{
			MimeType:     c.MimeType,
			PayloadType:  c.PreferredPayloadType,
			ClockRate:    c.ClockRate,
			Channels:     c.Channels,
			Parameters:   c.Parameters,
			RTCPFeedback: c.RTCPFeedback,
		}}})
		if err != nil {
			return nil, err
		}
		byKind[kind] = params
	}
	if len(byKind) == 0 {
		return nil, fmt.Errorf("router offers no codec this client can produce")
	}
	return &relayDevice{routerCaps: caps, byKind: byKind}, nil
}

// rtpParameters returns the send parameters for a media kind.
func (d *relayDevice) rtpParameters(kind string) (json.RawMessage, bool) {
	p, ok := d.byKind[kind]
	return p, ok
}

// capabilities returns the router capability set used for consume
// round-trips.
func (d *relayDevice) capabilities() json.RawMessage {
	return d.routerCaps
}
