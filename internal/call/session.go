package call

import (
	"time"

	"webchat_home/native/internal/domain"

	"github.com/benbjohnson/clock"
	"github.com/gammazero/deque"
)

// Session is one call attempt. It is only touched by the machine loop.
type Session struct {
	id        domain.CallID
	peer      domain.PeerID
	direction domain.Direction
	kind      domain.MediaKind
	state     domain.State
	createdAt time.Time

	localMuted bool
	localVideo bool

	neg    domain.Negotiator
	media  domain.MediaHandle
	expiry *clock.Timer

	// pending holds offer, answer and ice-candidate envelopes received
	// before Negotiating, in arrival order.
	pending deque.Deque[domain.Envelope]

	released bool
}

func newSession(id domain.CallID, peer domain.PeerID, dir domain.Direction, kind domain.MediaKind, now time.Time) *Session {
	return &Session{
		id:         id,
		peer:       peer,
		direction:  dir,
		kind:       kind,
		state:      domain.StateIdle,
		createdAt:  now,
		localMuted: true,
		localVideo: kind == domain.MediaVideo,
	}
}

// Snapshot copies the public fields.
func (s *Session) Snapshot() domain.Snapshot {
	return domain.Snapshot{
		CallID:            s.id,
		PeerID:            s.peer,
		Direction:         s.direction,
		MediaKind:         s.kind,
		State:             s.state,
		LocalMuted:        s.localMuted,
		LocalVideoEnabled: s.localVideo,
		CreatedAt:         s.createdAt,
	}
}

func (s *Session) stopExpiry() {
	if s.expiry != nil {
		s.expiry.Stop()
		s.expiry = nil
	}
}

// release closes the media handle and the negotiator. Only the first call
// has any effect.
func (s *Session) release() {
	if s.released {
		return
	}
	s.released = true

	if s.media != nil {
		_ = s.media.Close()
		s.media = nil
	}
	if s.neg != nil {
		_ = s.neg.Close()
		s.neg = nil
	}
}
