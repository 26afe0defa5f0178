// Package media owns local capture devices and the codec-matched WebRTC
// factory built around them. The single active call session holds exclusive
// ownership of a Capture; nothing else in the process touches devices.
package media

import (
	"errors"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// ErrCaptureUnavailable reports that no capture device could be opened.
// Capture failure is fatal to a call attempt and is never retried silently.
var ErrCaptureUnavailable = errors.New("media: no capture device available")

// Capture is an acquired local media session. The embedded API is built
// from the same codec selection as the tracks so offers carry matching
// codec parameters.
type Capture struct {
	api     *webrtc.API
	ice     []webrtc.ICEServer
	tracks  []webrtc.TrackLocal
	release func()
	logger  *zap.Logger
}

// Tracks returns the local tracks, in capture order. Empty on a
// receive-only capture.
func (c *Capture) Tracks() []webrtc.TrackLocal {
	return c.tracks
}

// NewPeerConnection builds a peer connection from the capture's codec set
// with local tracks attached. Without local tracks it adds receive-only
// transceivers so the offer still carries valid media sections.
func (c *Capture) NewPeerConnection() (*webrtc.PeerConnection, error) {
	pc, err := c.api.NewPeerConnection(webrtc.Configuration{ICEServers: c.ice})
	if err != nil {
		return nil, err
	}

	if len(c.tracks) == 0 {
		addRecvOnlyTransceivers(pc, c.logger)
		return pc, nil
	}
	for _, t := range c.tracks {
		if _, err := pc.AddTrack(t); err != nil {
			c.logger.Warn("add local track failed", zap.Error(err))
		}
	}
	return pc, nil
}

// Close releases the capture devices. Safe to call more than once.
func (c *Capture) Close() {
	if c.release != nil {
		c.release()
		c.release = nil
	}
}

func iceServers(urls []string) []webrtc.ICEServer {
	if len(urls) == 0 {
		urls = []string{"stun:stun.l.google.com:19302"}
	}
	servers := make([]webrtc.ICEServer, 0, len(urls))
	for _, u := range urls {
		servers = append(servers, webrtc.ICEServer{URLs: []string{u}})
	}
	return servers
}

// addRecvOnlyTransceivers adds recvonly transceivers for video and audio so
// CreateOffer always produces media sections with ICE credentials.
func addRecvOnlyTransceivers(pc *webrtc.PeerConnection, logger *zap.Logger) {
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeVideo, webrtc.RTPCodecTypeAudio} {
		if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			logger.Warn("add recvonly transceiver failed", zap.Stringer("kind", kind), zap.Error(err))
		}
	}
}
