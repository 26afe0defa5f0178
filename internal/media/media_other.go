//go:build !linux

package media

import (
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// Acquire returns a receive-only Capture on platforms without
// camera/microphone drivers. Calls can still receive remote media.
func Acquire(logger *zap.Logger, iceURLs []string, _ bool) (*Capture, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, err
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
	)

	logger.Info("no local capture on this platform, receive-only")
	return &Capture{
		api:    api,
		ice:    iceServers(iceURLs),
		logger: logger,
	}, nil
}
