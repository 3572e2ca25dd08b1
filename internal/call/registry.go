package call

import "webchat_home/native/internal/domain"

// Registry tracks the single live session of the local identity.
type Registry struct {
	self    domain.PeerID
	current *Session
}

func NewRegistry(self domain.PeerID) *Registry {
	return &Registry{self: self}
}

// Current returns the live session or nil.
func (r *Registry) Current() *Session {
	return r.current
}

// claim makes s the live session. It fails with domain.ErrSelfCall when
// s is a call with the local identity and with domain.ErrBusy while
// another session is live.
func (r *Registry) claim(s *Session) error {
	if s.peer == r.self {
		return domain.ErrSelfCall
	}
	if r.current != nil && !r.current.state.Terminal() {
		return domain.ErrBusy
	}
	r.current = s
	return nil
}

func (r *Registry) release(s *Session) {
	if r.current == s {
		r.current = nil
	}
}
