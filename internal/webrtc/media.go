package webrtc

import (
	"sync"

	"webchat_home/native/internal/domain"

	pion "github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// LocalMedia is the captured microphone and camera of one call. Disabling
// a kind detaches its tracks from their senders; enabling reattaches them.
// It implements domain.MediaHandle.
type LocalMedia struct {
	kind   domain.MediaKind
	tracks []pion.TrackLocal
	stop   func()

	mu      sync.Mutex
	bound   []binding
	enabled map[pion.RTPCodecType]bool
	closed  bool
}

type binding struct {
	sender *pion.RTPSender
	track  pion.TrackLocal
}

func newLocalMedia(kind domain.MediaKind, tracks []pion.TrackLocal, stop func()) *LocalMedia {
	return &LocalMedia{
		kind:   kind,
		tracks: tracks,
		stop:   stop,
		enabled: map[pion.RTPCodecType]bool{
			pion.RTPCodecTypeAudio: true,
			pion.RTPCodecTypeVideo: true,
		},
	}
}

func (l *LocalMedia) Kind() domain.MediaKind { return l.kind }

func (l *LocalMedia) SetAudioEnabled(enabled bool) {
	l.setEnabled(pion.RTPCodecTypeAudio, enabled)
}

func (l *LocalMedia) SetVideoEnabled(enabled bool) {
	l.setEnabled(pion.RTPCodecTypeVideo, enabled)
}

// Enabled reports whether tracks of kind are currently sent.
func (l *LocalMedia) Enabled(kind pion.RTPCodecType) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled[kind]
}

func (l *LocalMedia) setEnabled(kind pion.RTPCodecType, enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.enabled[kind] = enabled
	if l.closed {
		return
	}
	for _, b := range l.bound {
		if b.track.Kind() == kind {
			replace(b, enabled)
		}
	}
}

func (l *LocalMedia) bind(sender *pion.RTPSender, track pion.TrackLocal) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := binding{sender: sender, track: track}
	l.bound = append(l.bound, b)
	if !l.enabled[track.Kind()] {
		replace(b, false)
	}
}

func replace(b binding, enabled bool) {
	var track pion.TrackLocal
	if enabled {
		track = b.track
	}
	if err := b.sender.ReplaceTrack(track); err != nil {
		log.Warn().Err(err).Str("module", "webrtc").Str("kind", b.track.Kind().String()).Msg("replace track")
	}
}

// Close stops the capture devices. Safe to call more than once.
func (l *LocalMedia) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	if l.stop != nil {
		l.stop()
	}
	return nil
}
