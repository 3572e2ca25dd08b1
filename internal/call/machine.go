package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"webchat_home/native/internal/domain"

	"github.com/benbjohnson/clock"
	"github.com/gammazero/deque"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// RingTimeout is how long an incoming call rings before it is declined.
const RingTimeout = 30 * time.Second

const eventBuffer = 128

// Config holds the collaborators of a Machine.
type Config struct {
	Self        domain.PeerID
	Signaler    domain.Signaler
	Negotiators domain.NegotiatorFactory
	Presenter   domain.Presenter
	// Clock defaults to the wall clock.
	Clock clock.Clock
}

// Machine is the call session state machine. Every input is posted to a
// single loop started by Run. While an adapter operation is outstanding the
// loop defers other session events and replays them once the operation
// completes. Hang-up, decline of the ringing call, transport loss and busy
// requests are handled at once.
// It implements domain.CallIntents.
type Machine struct {
	signaler    domain.Signaler
	negotiators domain.NegotiatorFactory
	presenter   domain.Presenter
	clock       clock.Clock

	events  chan event
	done    chan struct{}
	mu      sync.RWMutex
	stopped bool

	// Loop-owned state.
	ctx      context.Context
	registry *Registry
	deferred deque.Deque[event]
	awaiting *pendingOp
	nextOp   uint64
}

type pendingOp struct {
	id     uint64
	callID domain.CallID
	name   string
	cont   func(s *Session, result any, err error)
}

// New creates a Machine. Run must be called to process events.
func New(cfg Config) *Machine {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Machine{
		signaler:    cfg.Signaler,
		negotiators: cfg.Negotiators,
		presenter:   cfg.Presenter,
		clock:       clk,
		events:      make(chan event, eventBuffer),
		done:        make(chan struct{}),
		registry:    NewRegistry(cfg.Self),
	}
}

// Run processes events until ctx is cancelled. A live session is ended
// with a best-effort end envelope before Run returns.
func (m *Machine) Run(ctx context.Context) error {
	m.ctx = ctx
	defer m.stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-m.events:
			m.dispatch(ev)
		}
	}
}

func (m *Machine) stop() {
	close(m.done)
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()

drain:
	for {
		select {
		case ev := <-m.events:
			if c, ok := ev.(completionEvent); ok {
				c.discard()
			}
		default:
			break drain
		}
	}

	m.deferred.Clear()
	if s := m.registry.Current(); s != nil {
		m.sendBestEffort(s, domain.KindEnd)
		m.finish(s, domain.StateEnded, domain.ReasonShutdown, nil)
	}
	log.Info().Str("module", "call").Msg("machine stopped")
}

// post hands ev to the loop. It reports false once the loop has stopped.
func (m *Machine) post(ev event) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.stopped {
		return false
	}
	select {
	case m.events <- ev:
		return true
	case <-m.done:
		return false
	}
}

// Initiate starts an outgoing call to peer.
func (m *Machine) Initiate(peer domain.PeerID, kind domain.MediaKind) {
	m.post(initiateEvent{peer: peer, kind: kind})
}

// Accept answers the ringing incoming call.
func (m *Machine) Accept() { m.post(acceptEvent{}) }

// Decline rejects the ringing incoming call.
func (m *Machine) Decline() { m.post(declineEvent{}) }

// End hangs up the live call in any state.
func (m *Machine) End() { m.post(endEvent{}) }

// ToggleMute flips the microphone of the live call.
func (m *Machine) ToggleMute() { m.post(toggleMuteEvent{}) }

// ToggleVideo flips the camera of a live video call.
func (m *Machine) ToggleVideo() { m.post(toggleVideoEvent{}) }

// HandleEnvelope feeds one decoded inbound envelope to the machine.
func (m *Machine) HandleEnvelope(env domain.Envelope) {
	m.post(envelopeEvent{env: env})
}

// TransportChanged reports transport connectivity.
func (m *Machine) TransportChanged(up bool) {
	m.post(transportEvent{up: up})
}

// Current returns a snapshot of the live session. It is answered even
// while an adapter operation is outstanding.
func (m *Machine) Current(ctx context.Context) (domain.Snapshot, bool) {
	reply := make(chan queryReply, 1)
	if !m.post(queryEvent{reply: reply}) {
		return domain.Snapshot{}, false
	}
	select {
	case r := <-reply:
		return r.snap, r.ok
	case <-ctx.Done():
	case <-m.done:
	}
	return domain.Snapshot{}, false
}

func (m *Machine) dispatch(ev event) {
	switch e := ev.(type) {
	case queryEvent:
		if s := m.registry.Current(); s != nil {
			e.reply <- queryReply{snap: s.Snapshot(), ok: true}
		} else {
			e.reply <- queryReply{}
		}
		return
	case completionEvent:
		m.complete(e)
	default:
		if m.awaiting != nil && !preempts(ev, m.registry.Current()) {
			m.deferred.PushBack(ev)
			return
		}
		m.handle(ev)
	}
	m.drain()
}

func (m *Machine) drain() {
	for m.awaiting == nil && m.deferred.Len() > 0 {
		m.handle(m.deferred.PopFront())
	}
}

func (m *Machine) handle(ev event) {
	switch e := ev.(type) {
	case initiateEvent:
		m.initiate(e.peer, e.kind)
	case acceptEvent:
		m.accept()
	case declineEvent:
		m.decline()
	case endEvent:
		m.hangup()
	case toggleMuteEvent:
		m.toggleMute()
	case toggleVideoEvent:
		m.toggleVideo()
	case envelopeEvent:
		m.inbound(e.env)
	case transportEvent:
		m.transport(e.up)
	case expiryEvent:
		m.expire(e.callID)
	case candidateEvent:
		m.localCandidate(e)
	case remoteStreamEvent:
		if m.session(e.callID) != nil {
			m.presenter.RemoteStreamAvailable(e.stream)
		}
	case connStateEvent:
		m.connState(e)
	default:
		log.Warn().Str("module", "call").Msgf("unknown event %T", ev)
	}
}

// session returns the live session if it has the given call id.
func (m *Machine) session(id domain.CallID) *Session {
	s := m.registry.Current()
	if s == nil || s.id != id {
		return nil
	}
	return s
}

// await runs op off the loop. cont runs on the loop with the result unless
// the session has ended in the meantime, in which case release frees it.
func (m *Machine) await(s *Session, name string, op func(ctx context.Context) (any, error), release func(any), cont func(s *Session, result any, err error)) {
	m.nextOp++
	id, callID, ctx := m.nextOp, s.id, m.ctx
	m.awaiting = &pendingOp{id: id, callID: callID, name: name, cont: cont}

	go func() {
		res, err := op(ctx)
		ev := completionEvent{id: id, callID: callID, result: res, err: err, release: release}
		if !m.post(ev) {
			ev.discard()
		}
	}()
}

func (m *Machine) complete(e completionEvent) {
	op := m.awaiting
	if op == nil || op.id != e.id {
		log.Debug().Str("module", "call").Str("call_id", string(e.callID)).Msg("stale completion")
		e.discard()
		return
	}
	m.awaiting = nil

	s := m.session(e.callID)
	if s == nil || s.state.Terminal() {
		e.discard()
		return
	}
	op.cont(s, e.result, e.err)
}

func (m *Machine) initiate(peer domain.PeerID, kind domain.MediaKind) {
	if peer == "" {
		log.Warn().Str("module", "call").Msg("initiate without peer")
		return
	}
	if !kind.Valid() {
		log.Warn().Str("module", "call").Str("kind", string(kind)).Msg("unknown media kind")
		return
	}

	s := newSession(domain.CallID(uuid.NewString()), peer, domain.Outgoing, kind, m.clock.Now())
	if err := m.registry.claim(s); err != nil {
		log.Warn().Err(err).Str("module", "call").Str("peer", string(peer)).Msg("initiate refused")
		return
	}
	s.state = domain.StateOutgoingRinging
	log.Info().Str("module", "call").Str("call_id", string(s.id)).Str("peer", string(peer)).
		Str("kind", string(kind)).Msg("calling")
	m.presenter.StateChanged(s.Snapshot())

	if !m.attachNegotiator(s) {
		return
	}

	m.await(s, "acquire media", acquire(s), releaseMedia, func(s *Session, res any, err error) {
		if err != nil {
			m.sendBestEffort(s, domain.KindEnd)
			m.finish(s, domain.StateEnded, domain.ReasonMediaUnavailable, acquisitionErr(err))
			return
		}
		if !m.adoptMedia(s, res.(domain.MediaHandle)) {
			return
		}
		if err := m.send(s, domain.Envelope{Kind: domain.KindRequest}); err != nil {
			m.finish(s, domain.StateFailed, domain.ReasonTransportDown, err)
		}
	})
}

func (m *Machine) accept() {
	s := m.registry.Current()
	if s == nil || s.state != domain.StateIncomingRinging {
		log.Debug().Str("module", "call").Msg("accept: nothing ringing")
		return
	}
	s.stopExpiry()

	if !m.attachNegotiator(s) {
		return
	}

	m.await(s, "acquire media", acquire(s), releaseMedia, func(s *Session, res any, err error) {
		if err != nil {
			m.sendBestEffort(s, domain.KindDecline)
			m.finish(s, domain.StateEnded, domain.ReasonMediaUnavailable, acquisitionErr(err))
			return
		}
		if !m.adoptMedia(s, res.(domain.MediaHandle)) {
			return
		}

		m.setState(s, domain.StateNegotiating)
		if err := m.send(s, domain.Envelope{Kind: domain.KindAccept}); err != nil {
			m.finish(s, domain.StateFailed, domain.ReasonTransportDown, err)
			return
		}
		m.replayPending(s)
	})
}

func (m *Machine) decline() {
	s := m.registry.Current()
	if s == nil || s.state != domain.StateIncomingRinging {
		log.Debug().Str("module", "call").Msg("decline: nothing ringing")
		return
	}
	m.sendBestEffort(s, domain.KindDecline)
	m.finish(s, domain.StateEnded, domain.ReasonRejected, nil)
}

func (m *Machine) hangup() {
	s := m.registry.Current()
	if s == nil {
		return
	}
	m.sendBestEffort(s, domain.KindEnd)
	m.finish(s, domain.StateEnded, domain.ReasonHangup, nil)
}

func (m *Machine) expire(id domain.CallID) {
	s := m.session(id)
	if s == nil || s.state != domain.StateIncomingRinging {
		return
	}
	log.Info().Str("module", "call").Str("call_id", string(id)).Msg("incoming call not answered")
	m.sendBestEffort(s, domain.KindDecline)
	m.finish(s, domain.StateEnded, domain.ReasonNoAnswer, nil)
}

func (m *Machine) transport(up bool) {
	if up {
		log.Debug().Str("module", "call").Msg("transport up")
		return
	}
	s := m.registry.Current()
	if s == nil {
		return
	}
	m.finish(s, domain.StateFailed, domain.ReasonTransportDown, domain.ErrTransportDown)
}

func (m *Machine) toggleMute() {
	s := m.registry.Current()
	if s == nil || !s.state.InCall() || s.media == nil {
		return
	}
	s.localMuted = !s.localMuted
	s.media.SetAudioEnabled(!s.localMuted)
	m.presenter.MuteChanged(s.localMuted)
}

func (m *Machine) toggleVideo() {
	s := m.registry.Current()
	if s == nil || !s.state.InCall() || s.media == nil || s.kind != domain.MediaVideo {
		return
	}
	s.localVideo = !s.localVideo
	s.media.SetVideoEnabled(s.localVideo)
	m.presenter.VideoChanged(s.localVideo)
}

func (m *Machine) inbound(env domain.Envelope) {
	if env.Kind == domain.KindRequest {
		m.ring(env)
		return
	}

	s := m.session(env.CallID)
	if s == nil || s.peer != env.PeerID {
		log.Debug().Str("module", "call").Str("call_id", string(env.CallID)).
			Str("kind", string(env.Kind)).Msg("dropping envelope for unknown call")
		return
	}

	switch env.Kind {
	case domain.KindAccept:
		if s.state != domain.StateOutgoingRinging {
			return
		}
		m.offer(s)

	case domain.KindDecline:
		if s.state != domain.StateOutgoingRinging {
			return
		}
		m.finish(s, domain.StateEnded, domain.ReasonDeclined, nil)

	case domain.KindEnd:
		m.finish(s, domain.StateEnded, domain.ReasonRemoteEnded, nil)

	case domain.KindOffer, domain.KindAnswer, domain.KindICECandidate:
		m.negotiation(s, env)
	}
}

func (m *Machine) ring(env domain.Envelope) {
	if cur := m.registry.Current(); cur != nil {
		if cur.id == env.CallID {
			log.Debug().Str("module", "call").Str("call_id", string(env.CallID)).Msg("duplicate request")
			return
		}
		log.Info().Str("module", "call").Str("call_id", string(env.CallID)).
			Str("peer", string(env.PeerID)).Msg("busy, declining request")
		err := m.signaler.Send(domain.Envelope{
			Kind:   domain.KindDecline,
			CallID: env.CallID,
			PeerID: env.PeerID,
			Media:  env.Media,
		})
		if err != nil {
			log.Warn().Err(err).Str("module", "call").Msg("send busy decline")
		}
		return
	}

	kind := env.Media
	if !kind.Valid() {
		kind = domain.MediaAudio
	}
	s := newSession(env.CallID, env.PeerID, domain.Incoming, kind, m.clock.Now())
	if err := m.registry.claim(s); err != nil {
		log.Warn().Err(err).Str("module", "call").Str("call_id", string(env.CallID)).Msg("ignoring request")
		return
	}
	s.state = domain.StateIncomingRinging

	id := s.id
	s.expiry = m.clock.AfterFunc(RingTimeout, func() {
		m.post(expiryEvent{callID: id})
	})

	log.Info().Str("module", "call").Str("call_id", string(id)).Str("peer", string(s.peer)).
		Str("kind", string(kind)).Msg("incoming call")
	m.presenter.Ringing(s.peer, s.kind)
	m.presenter.StateChanged(s.Snapshot())
}

// offer moves the caller to Negotiating and sends the offer.
func (m *Machine) offer(s *Session) {
	m.setState(s, domain.StateNegotiating)
	m.replayPending(s)

	neg := s.neg
	m.await(s, "create offer", func(ctx context.Context) (any, error) {
		return neg.CreateOffer(ctx)
	}, nil, func(s *Session, res any, err error) {
		if err != nil {
			m.finish(s, domain.StateFailed, domain.ReasonNegotiationFailed, negotiationErr(err))
			return
		}
		desc := res.(domain.SessionDescription)
		if err := m.send(s, domain.Envelope{Kind: domain.KindOffer, Description: &desc}); err != nil {
			m.finish(s, domain.StateFailed, domain.ReasonTransportDown, err)
		}
	})
}

func (m *Machine) negotiation(s *Session, env domain.Envelope) {
	switch s.state {
	case domain.StateOutgoingRinging, domain.StateIncomingRinging:
		s.pending.PushBack(env)
		return
	case domain.StateConnected:
		if env.Kind != domain.KindICECandidate {
			log.Debug().Str("module", "call").Str("kind", string(env.Kind)).Msg("ignoring renegotiation")
			return
		}
	}

	neg := s.neg
	switch env.Kind {
	case domain.KindOffer:
		if s.direction != domain.Incoming || env.Description == nil {
			log.Warn().Str("module", "call").Msg("unexpected offer")
			return
		}
		offer := *env.Description
		m.await(s, "answer offer", func(ctx context.Context) (any, error) {
			return neg.CreateAnswer(ctx, offer)
		}, nil, func(s *Session, res any, err error) {
			if err != nil {
				m.finish(s, domain.StateFailed, domain.ReasonNegotiationFailed, negotiationErr(err))
				return
			}
			answer := res.(domain.SessionDescription)
			if err := m.send(s, domain.Envelope{Kind: domain.KindAnswer, Description: &answer}); err != nil {
				m.finish(s, domain.StateFailed, domain.ReasonTransportDown, err)
			}
		})

	case domain.KindAnswer:
		if s.direction != domain.Outgoing || env.Description == nil {
			log.Warn().Str("module", "call").Msg("unexpected answer")
			return
		}
		answer := *env.Description
		m.await(s, "apply answer", func(context.Context) (any, error) {
			return nil, neg.SetRemoteDescription(answer)
		}, nil, m.failOnError)

	case domain.KindICECandidate:
		if env.Candidate == nil {
			return
		}
		candidate := *env.Candidate
		m.await(s, "add candidate", func(context.Context) (any, error) {
			return nil, neg.AddRemoteCandidate(candidate)
		}, nil, m.failOnError)
	}
}

func (m *Machine) failOnError(s *Session, _ any, err error) {
	if err != nil {
		m.finish(s, domain.StateFailed, domain.ReasonNegotiationFailed, negotiationErr(err))
	}
}

// replayPending puts buffered negotiation envelopes at the front of the
// deferred queue, keeping arrival order.
func (m *Machine) replayPending(s *Session) {
	for s.pending.Len() > 0 {
		env := s.pending.PopBack()
		m.deferred.PushFront(envelopeEvent{env: env})
	}
}

func (m *Machine) localCandidate(e candidateEvent) {
	s := m.session(e.callID)
	if s == nil || !s.state.InCall() {
		return
	}
	c := e.candidate
	if err := m.send(s, domain.Envelope{Kind: domain.KindICECandidate, Candidate: &c}); err != nil {
		log.Warn().Err(err).Str("module", "call").Str("call_id", string(s.id)).Msg("send local candidate")
	}
}

func (m *Machine) connState(e connStateEvent) {
	s := m.session(e.callID)
	if s == nil {
		return
	}
	log.Debug().Str("module", "call").Str("call_id", string(s.id)).Str("conn", e.state.String()).Msg("connectivity")

	switch e.state {
	case domain.ConnConnected:
		if s.state == domain.StateNegotiating {
			m.setState(s, domain.StateConnected)
		}
	case domain.ConnDisconnected, domain.ConnFailed, domain.ConnClosed:
		if s.state.InCall() {
			m.finish(s, domain.StateFailed, domain.ReasonConnectionLost, nil)
		}
	}
}

func (m *Machine) attachNegotiator(s *Session) bool {
	neg, err := m.negotiators.NewNegotiator(listener{m: m, callID: s.id})
	if err != nil {
		m.finish(s, domain.StateFailed, domain.ReasonNegotiationFailed, negotiationErr(err))
		return false
	}
	s.neg = neg
	return true
}

// adoptMedia attaches freshly acquired media and applies the default
// posture: audio muted, video on only for video calls.
func (m *Machine) adoptMedia(s *Session, h domain.MediaHandle) bool {
	s.media = h
	if err := s.neg.AttachTracks(h); err != nil {
		m.finish(s, domain.StateFailed, domain.ReasonNegotiationFailed, negotiationErr(err))
		return false
	}
	h.SetAudioEnabled(!s.localMuted)
	h.SetVideoEnabled(s.localVideo)

	m.presenter.MuteChanged(s.localMuted)
	if s.kind == domain.MediaVideo {
		m.presenter.VideoChanged(s.localVideo)
	}
	return true
}

func (m *Machine) setState(s *Session, state domain.State) {
	log.Info().Str("module", "call").Str("call_id", string(s.id)).
		Str("from", s.state.String()).Str("to", state.String()).Msg("state")
	s.state = state
	m.presenter.StateChanged(s.Snapshot())
}

// finish moves s to a terminal state and releases everything it owns.
func (m *Machine) finish(s *Session, state domain.State, reason domain.EndReason, err error) {
	if s.state.Terminal() {
		return
	}
	if m.awaiting != nil && m.awaiting.callID == s.id {
		m.awaiting = nil
	}
	s.stopExpiry()
	s.pending.Clear()
	s.release()
	m.registry.release(s)

	ev := log.Info()
	if err != nil {
		ev = log.Warn().Err(err)
	}
	ev.Str("module", "call").Str("call_id", string(s.id)).Str("peer", string(s.peer)).
		Str("reason", string(reason)).Msgf("call %s", state)

	s.state = state
	m.presenter.StateChanged(s.Snapshot())
	m.presenter.Ended(reason, err)
}

func (m *Machine) send(s *Session, env domain.Envelope) error {
	env.CallID = s.id
	env.PeerID = s.peer
	if env.Kind.Lifecycle() {
		env.Media = s.kind
	}
	if err := m.signaler.Send(env); err != nil {
		return fmt.Errorf("send %s: %w", env.Kind, err)
	}
	return nil
}

func (m *Machine) sendBestEffort(s *Session, kind domain.SignalKind) {
	if err := m.send(s, domain.Envelope{Kind: kind}); err != nil {
		log.Debug().Err(err).Str("module", "call").Str("call_id", string(s.id)).Msg("best-effort send failed")
	}
}

func acquire(s *Session) func(context.Context) (any, error) {
	neg, kind := s.neg, s.kind
	return func(ctx context.Context) (any, error) {
		h, err := neg.CreateLocalMedia(ctx, kind)
		if err != nil {
			return nil, err
		}
		return h, nil
	}
}

func releaseMedia(res any) {
	if h, ok := res.(domain.MediaHandle); ok && h != nil {
		_ = h.Close()
	}
}

func acquisitionErr(err error) error {
	if errors.Is(err, domain.ErrAcquisition) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrAcquisition, err)
}

func negotiationErr(err error) error {
	if errors.Is(err, domain.ErrNegotiation) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrNegotiation, err)
}
