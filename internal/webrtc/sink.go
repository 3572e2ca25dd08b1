package webrtc

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"webchat_home/native/internal/domain"

	pion "github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var startCode = []byte{0x00, 0x00, 0x00, 0x01}

// sinkCodec is the video codec Sink can write. Backends that only register
// their encoders add it so the remote side can send it.
var sinkCodec = pion.RTPCodecParameters{
	RTPCodecCapability: pion.RTPCodecCapability{
		MimeType:    pion.MimeTypeH264,
		ClockRate:   90000,
		SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
	},
	PayloadType: 102,
}

// registerSinkCodec adds sinkCodec as a video codec of m. Call it before
// the encoder codecs so the offer lists it first.
func registerSinkCodec(m *pion.MediaEngine) error {
	if err := m.RegisterCodec(sinkCodec, pion.RTPCodecTypeVideo); err != nil {
		return fmt.Errorf("register %s: %w", sinkCodec.MimeType, err)
	}
	return nil
}

// Sink renders remote streams for the terminal client. H264 video is
// written to w as an Annex-B elementary stream; every other stream is read
// and discarded so pion's buffers do not fill.
type Sink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewSink creates a Sink. A nil writer drains everything.
func NewSink(w io.Writer) *Sink {
	return &Sink{w: w}
}

// Render consumes stream until it ends. It blocks; run it on its own goroutine.
func (s *Sink) Render(stream domain.RemoteStream) {
	if s.w == nil || stream.Kind() != domain.MediaVideo || !strings.EqualFold(stream.MimeType(), pion.MimeTypeH264) {
		log.Debug().Str("module", "webrtc").Str("track", stream.ID()).Str("codec", stream.MimeType()).Msg("draining track")
		drainStream(stream)
		return
	}

	log.Info().Str("module", "webrtc").Str("track", stream.ID()).Msg("writing H264 video track")
	depack := NewH264Depacketizer()
	for {
		seq, payload, err := stream.ReadPacket()
		if err != nil {
			logStreamEnd(stream, err)
			return
		}

		for _, nalu := range depack.Depacketize(seq, payload) {
			if len(nalu) == 0 {
				continue
			}
			if err := s.write(nalu); err != nil {
				log.Warn().Err(err).Str("module", "webrtc").Msg("video write failed, draining")
				drainStream(stream)
				return
			}
		}
	}
}

func (s *Sink) write(nalu []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(startCode); err != nil {
		return err
	}
	_, err := s.w.Write(nalu)
	return err
}

func drainStream(stream domain.RemoteStream) {
	for {
		if _, _, err := stream.ReadPacket(); err != nil {
			logStreamEnd(stream, err)
			return
		}
	}
}

func logStreamEnd(stream domain.RemoteStream, err error) {
	if errors.Is(err, io.EOF) {
		log.Debug().Str("module", "webrtc").Str("track", stream.ID()).Msg("track ended")
		return
	}
	log.Debug().Err(err).Str("module", "webrtc").Str("track", stream.ID()).Msg("track read error")
}
