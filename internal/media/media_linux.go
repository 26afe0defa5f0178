//go:build linux

package media

import (
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// Acquire opens the local camera and microphone (V4L2 + malgo) and returns
// a Capture wired for VP8 and Opus. GetUserMedia fails as a unit when
// either requested track cannot open, so a video call falls back through
// video+audio, video-only and audio-only before giving up with
// ErrCaptureUnavailable. An audio call only ever asks for the microphone.
func Acquire(logger *zap.Logger, iceURLs []string, video bool) (*Capture, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	vpxParams.BitRate = 1_500_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}

	codecSelector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)

	mediaEngine := &webrtc.MediaEngine{}
	codecSelector.Populate(mediaEngine)

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, err
	}

	// Generous ICE timeouts: the default 5s disconnectedTimeout drops calls
	// on brief NAT or relay hiccups.
	se := webrtc.SettingEngine{}
	se.SetICETimeouts(30*time.Second, 120*time.Second, 2*time.Second)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(se),
	)

	type attempt struct {
		video bool
		audio bool
		label string
	}
	attempts := []attempt{{false, true, "audio-only"}}
	if video {
		attempts = []attempt{
			{true, true, "video+audio"},
			{true, false, "video-only"},
			{false, true, "audio-only"},
		}
	}

	for _, a := range attempts {
		constraints := mediadevices.MediaStreamConstraints{Codec: codecSelector}
		if a.video {
			constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
				// Raw formats only. Some cameras expose an MJPEG node that
				// produces malformed frames and poisons the VP8 encoder.
				c.FrameFormat = prop.FrameFormatOneOf{
					frame.FormatYUYV,
					frame.FormatI420,
					frame.FormatI444,
					frame.FormatRGBA,
				}
				c.Width = prop.IntRanged{Max: 640}
				c.Height = prop.IntRanged{Max: 480}
			}
		}
		if a.audio {
			constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
		}

		stream, err := mediadevices.GetUserMedia(constraints)
		if err != nil {
			logger.Warn("capture attempt failed", zap.String("attempt", a.label), zap.Error(err))
			continue
		}

		tracks := stream.GetTracks()
		locals := make([]webrtc.TrackLocal, 0, len(tracks))
		for _, track := range tracks {
			track.OnEnded(func(err error) {
				if err != nil {
					logger.Warn("local track ended", zap.Error(err))
				}
			})
			locals = append(locals, track)
		}

		logger.Info("local media captured",
			zap.String("attempt", a.label),
			zap.Int("tracks", len(tracks)))
		return &Capture{
			api:    api,
			ice:    iceServers(iceURLs),
			tracks: locals,
			logger: logger,
			release: func() {
				for _, t := range tracks {
					t.Close()
				}
			},
		}, nil
	}

	return nil, ErrCaptureUnavailable
}
