package call

import "webchat_home/native/internal/domain"

// event is anything processed by the machine loop.
type event interface{}

// User intents.
type (
	initiateEvent struct {
		peer domain.PeerID
		kind domain.MediaKind
	}
	acceptEvent      struct{}
	declineEvent     struct{}
	endEvent         struct{}
	toggleMuteEvent  struct{}
	toggleVideoEvent struct{}
)

// Transport and timer input.
type (
	envelopeEvent struct {
		env domain.Envelope
	}
	transportEvent struct {
		up bool
	}
	expiryEvent struct {
		callID domain.CallID
	}
)

// Negotiation adapter callbacks, tagged with the session they belong to.
type (
	candidateEvent struct {
		callID    domain.CallID
		candidate domain.ICECandidate
	}
	remoteStreamEvent struct {
		callID domain.CallID
		stream domain.RemoteStream
	}
	connStateEvent struct {
		callID domain.CallID
		state  domain.ConnState
	}
)

// completionEvent carries the result of an awaited adapter operation.
type completionEvent struct {
	id      uint64
	callID  domain.CallID
	result  any
	err     error
	release func(any)
}

// discard frees a result that will never be applied.
func (e completionEvent) discard() {
	if e.release != nil && e.result != nil {
		e.release(e.result)
	}
}

type queryReply struct {
	snap domain.Snapshot
	ok   bool
}

type queryEvent struct {
	reply chan<- queryReply
}

// preempts reports whether ev is handled even while an operation is
// outstanding for cur. An operation for a session that ends this way
// becomes stale.
func preempts(ev event, cur *Session) bool {
	switch e := ev.(type) {
	case endEvent:
		return true
	case declineEvent:
		return cur != nil && cur.state == domain.StateIncomingRinging
	case transportEvent:
		return !e.up
	case envelopeEvent:
		// A request for another call only needs a busy decline.
		return e.env.Kind == domain.KindRequest && cur != nil && cur.id != e.env.CallID
	}
	return false
}

// listener forwards adapter callbacks for one session into the loop.
type listener struct {
	m      *Machine
	callID domain.CallID
}

func (l listener) OnLocalCandidate(c domain.ICECandidate) {
	l.m.post(candidateEvent{callID: l.callID, candidate: c})
}

func (l listener) OnRemoteStream(stream domain.RemoteStream) {
	l.m.post(remoteStreamEvent{callID: l.callID, stream: stream})
}

func (l listener) OnConnectivityStateChange(state domain.ConnState) {
	l.m.post(connStateEvent{callID: l.callID, state: state})
}
