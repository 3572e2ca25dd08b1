//go:build linux

package webrtc

import (
	"context"
	"fmt"

	"webchat_home/native/internal/domain"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	pion "github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// deviceBackend captures V4L2 cameras and ALSA/Pulse microphones, encoded
// to VP8 and Opus. Remote video may also arrive as H264 for the Sink.
type deviceBackend struct {
	selector *mediadevices.CodecSelector
}

func newBackend() (backend, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 params: %w", err)
	}
	vpxParams.BitRate = 1_000_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}

	selector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)

	for _, d := range mediadevices.EnumerateDevices() {
		log.Debug().Str("module", "webrtc").Str("device", d.Label).Msgf("media device kind=%v", d.Kind)
	}
	return &deviceBackend{selector: selector}, nil
}

func (b *deviceBackend) populate(m *pion.MediaEngine) error {
	if err := registerSinkCodec(m); err != nil {
		return err
	}
	b.selector.Populate(m)
	return nil
}

type captured struct {
	stream mediadevices.MediaStream
	err    error
}

func (b *deviceBackend) capture(ctx context.Context, kind domain.MediaKind) ([]pion.TrackLocal, func(), error) {
	constraints := mediadevices.MediaStreamConstraints{
		Codec: b.selector,
		Audio: func(*mediadevices.MediaTrackConstraints) {},
	}
	if kind == domain.MediaVideo {
		constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
			// MJPEG nodes on some cameras produce frames the VP8 encoder rejects.
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

	done := make(chan captured, 1)
	go func() {
		stream, err := mediadevices.GetUserMedia(constraints)
		done <- captured{stream: stream, err: err}
	}()

	var res captured
	select {
	case res = <-done:
	case <-ctx.Done():
		go func() {
			if late := <-done; late.err == nil {
				stopAll(late.stream.GetTracks())
			}
		}()
		return nil, nil, fmt.Errorf("%w: %v", domain.ErrAcquisition, ctx.Err())
	}
	if res.err != nil {
		return nil, nil, fmt.Errorf("%w: %v", domain.ErrAcquisition, res.err)
	}

	mtracks := res.stream.GetTracks()
	tracks := make([]pion.TrackLocal, 0, len(mtracks))
	for _, t := range mtracks {
		t.OnEnded(func(err error) {
			if err != nil {
				log.Warn().Err(err).Str("module", "webrtc").Msg("local track ended")
			}
		})
		tracks = append(tracks, t)
	}
	return tracks, func() { stopAll(mtracks) }, nil
}

func stopAll(tracks []mediadevices.Track) {
	for _, t := range tracks {
		t.Close()
	}
}
