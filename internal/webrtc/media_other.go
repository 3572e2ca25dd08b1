//go:build !linux

package webrtc

import (
	"context"
	"fmt"
	"runtime"

	"webchat_home/native/internal/domain"

	pion "github.com/pion/webrtc/v4"
)

// receiveOnlyBackend is used where pion/mediadevices has no capture driver.
// Every acquisition fails with domain.ErrAcquisition.
type receiveOnlyBackend struct{}

func newBackend() (backend, error) {
	return receiveOnlyBackend{}, nil
}

func (receiveOnlyBackend) populate(m *pion.MediaEngine) error {
	return m.RegisterDefaultCodecs()
}

func (receiveOnlyBackend) capture(context.Context, domain.MediaKind) ([]pion.TrackLocal, func(), error) {
	return nil, nil, fmt.Errorf("%w: no capture backend on %s", domain.ErrAcquisition, runtime.GOOS)
}
