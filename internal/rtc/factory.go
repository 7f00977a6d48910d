package rtc

import (
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"

	"github.com/edulive/rtcmesh/internal/core"
	"github.com/edulive/rtcmesh/internal/domain"
)

// newAPI builds the shared pion API. populate registers the capture
// codecs the local tracks are encoded with; without a capture source the
// default codec set is used.
func newAPI(populate func(*webrtc.MediaEngine)) (*webrtc.API, error) {
	engine := &webrtc.MediaEngine{}
	if populate != nil {
		populate(engine)
	} else if err := engine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(engine, registry); err != nil {
		return nil, err
	}
	return webrtc.NewAPI(
		webrtc.WithMediaEngine(engine),
		webrtc.WithInterceptorRegistry(registry),
	), nil
}

// NewFactory returns a core.LinkFactory producing pion-backed links with
// the configured STUN set and the local stream pre-attached.
func NewFactory(stunServers []string, populate func(*webrtc.MediaEngine)) (core.LinkFactory, error) {
	api, err := newAPI(populate)
	if err != nil {
		return nil, err
	}
	cfg := Configuration(stunServers)
	return func(peer domain.UserID, local core.Stream) (core.MediaLink, error) {
		l, err := NewLink(api, cfg, peer)
		if err != nil {
			return nil, err
		}
		if err := l.AttachLocal(local); err != nil {
			l.Close()
			return nil, err
		}
		return l, nil
	}, nil
}
