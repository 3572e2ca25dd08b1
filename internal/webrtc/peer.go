package webrtc

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"webchat_home/native/internal/domain"

	"github.com/pion/interceptor"
	pion "github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Config holds the negotiation settings shared by every call.
type Config struct {
	ICEServers []string
}

// backend captures local media and registers the codecs it encodes to.
type backend interface {
	populate(m *pion.MediaEngine) error
	capture(ctx context.Context, kind domain.MediaKind) (tracks []pion.TrackLocal, stop func(), err error)
}

// Factory creates one Peer per call session.
// It implements domain.NegotiatorFactory.
type Factory struct {
	cfg     Config
	backend backend
}

// NewFactory selects the platform capture backend.
func NewFactory(cfg Config) (*Factory, error) {
	b, err := newBackend()
	if err != nil {
		return nil, fmt.Errorf("media backend: %w", err)
	}
	return &Factory{cfg: cfg, backend: b}, nil
}

func (f *Factory) NewNegotiator(listener domain.NegotiationListener) (domain.Negotiator, error) {
	return NewPeer(f.cfg, f.backend, listener)
}

// Peer wraps a Pion PeerConnection for one call.
// It implements domain.Negotiator.
type Peer struct {
	pc       *pion.PeerConnection
	backend  backend
	listener domain.NegotiationListener

	mu        sync.Mutex
	remoteSet bool
	held      []pion.ICECandidateInit
	media     *LocalMedia
	closeOnce sync.Once
}

// NewPeer creates a PeerConnection with the backend's codecs and pion's
// default interceptors (NACK, RTCP reports, TWCC).
func NewPeer(cfg Config, b backend, listener domain.NegotiationListener) (*Peer, error) {
	m := &pion.MediaEngine{}
	if err := b.populate(m); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	i := &interceptor.Registry{}
	if err := pion.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	api := pion.NewAPI(
		pion.WithMediaEngine(m),
		pion.WithInterceptorRegistry(i),
	)

	var servers []pion.ICEServer
	for _, u := range cfg.ICEServers {
		servers = append(servers, pion.ICEServer{URLs: []string{u}})
	}

	pc, err := api.NewPeerConnection(pion.Configuration{
		ICEServers:   servers,
		BundlePolicy: pion.BundlePolicyMaxBundle,
	})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	p := &Peer{
		pc:       pc,
		backend:  b,
		listener: listener,
	}

	pc.OnICECandidate(p.onICECandidate)
	pc.OnICEConnectionStateChange(func(state pion.ICEConnectionState) {
		log.Debug().Str("module", "webrtc").Str("state", state.String()).Msg("ICE connection state")
	})
	pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		log.Info().Str("module", "webrtc").Str("state", state.String()).Msg("peer connection state")
		if s, ok := connState(state); ok {
			listener.OnConnectivityStateChange(s)
		}
	})
	pc.OnTrack(func(track *pion.TrackRemote, _ *pion.RTPReceiver) {
		codec := track.Codec()
		log.Info().Str("module", "webrtc").Str("kind", track.Kind().String()).
			Str("codec", codec.MimeType).Uint8("pt", uint8(codec.PayloadType)).Msg("got track")
		listener.OnRemoteStream(remoteTrack{track: track})
	})

	return p, nil
}

// CreateLocalMedia captures a microphone track, plus a camera track for
// video calls.
func (p *Peer) CreateLocalMedia(ctx context.Context, kind domain.MediaKind) (domain.MediaHandle, error) {
	tracks, stop, err := p.backend.capture(ctx, kind)
	if err != nil {
		return nil, err
	}
	log.Info().Str("module", "webrtc").Str("kind", string(kind)).Int("tracks", len(tracks)).Msg("local media captured")
	return newLocalMedia(kind, tracks, stop), nil
}

// AttachTracks adds every captured track as a sender.
func (p *Peer) AttachTracks(h domain.MediaHandle) error {
	lm, ok := h.(*LocalMedia)
	if !ok {
		return fmt.Errorf("attach tracks: unsupported media handle %T", h)
	}

	for _, track := range lm.tracks {
		sender, err := p.pc.AddTrack(track)
		if err != nil {
			return fmt.Errorf("add %s track: %w", track.Kind(), err)
		}
		lm.bind(sender, track)
	}

	p.mu.Lock()
	p.media = lm
	p.mu.Unlock()
	return nil
}

// CreateOffer creates an SDP offer and sets it as the local description.
func (p *Peer) CreateOffer(ctx context.Context) (domain.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return domain.SessionDescription{}, err
	}

	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return domain.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}

	log.Debug().Str("module", "webrtc").Msg("local SDP offer set")
	return domain.SessionDescription{Type: offer.Type.String(), SDP: offer.SDP}, nil
}

// CreateAnswer applies the remote offer and answers it.
func (p *Peer) CreateAnswer(ctx context.Context, offer domain.SessionDescription) (domain.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return domain.SessionDescription{}, err
	}
	if err := p.SetRemoteDescription(offer); err != nil {
		return domain.SessionDescription{}, err
	}

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return domain.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}

	log.Debug().Str("module", "webrtc").Msg("local SDP answer set")
	return domain.SessionDescription{Type: answer.Type.String(), SDP: answer.SDP}, nil
}

// SetRemoteDescription applies desc and flushes candidates held until now.
func (p *Peer) SetRemoteDescription(desc domain.SessionDescription) error {
	typ := pion.NewSDPType(desc.Type)
	if typ != pion.SDPTypeOffer && typ != pion.SDPTypeAnswer {
		return fmt.Errorf("set remote description: unsupported type %q", desc.Type)
	}

	if err := p.pc.SetRemoteDescription(pion.SessionDescription{Type: typ, SDP: desc.SDP}); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	log.Debug().Str("module", "webrtc").Str("type", desc.Type).Msg("remote SDP set")

	p.mu.Lock()
	p.remoteSet = true
	held := p.held
	p.held = nil
	p.mu.Unlock()

	for _, c := range held {
		if err := p.pc.AddICECandidate(c); err != nil {
			log.Warn().Err(err).Str("module", "webrtc").Msg("add held ICE candidate")
		}
	}
	return nil
}

// AddRemoteCandidate adds a remote ICE candidate, holding it until the
// remote description is set.
func (p *Peer) AddRemoteCandidate(c domain.ICECandidate) error {
	init := pion.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        c.SDPMid,
		SDPMLineIndex: c.SDPMLineIndex,
	}

	p.mu.Lock()
	if !p.remoteSet {
		p.held = append(p.held, init)
		p.mu.Unlock()
		log.Debug().Str("module", "webrtc").Msg("holding remote ICE candidate")
		return nil
	}
	p.mu.Unlock()

	if err := p.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("add ice candidate: %w", err)
	}
	log.Debug().Str("module", "webrtc").Msg("added remote ICE candidate")
	return nil
}

// Close releases the attached media and the PeerConnection.
func (p *Peer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.mu.Lock()
		media := p.media
		p.mu.Unlock()
		if media != nil {
			_ = media.Close()
		}
		err = p.pc.Close()
	})
	return err
}

func (p *Peer) onICECandidate(c *pion.ICECandidate) {
	if c == nil {
		log.Debug().Str("module", "webrtc").Msg("ICE gathering complete")
		return
	}

	init := c.ToJSON()
	if isLoopback(init.Candidate) {
		log.Debug().Str("module", "webrtc").Msg("filtering loopback ICE candidate")
		return
	}

	log.Debug().Str("module", "webrtc").Str("candidate", init.Candidate).Msg("local ICE candidate")
	p.listener.OnLocalCandidate(domain.ICECandidate{
		Candidate:     init.Candidate,
		SDPMid:        init.SDPMid,
		SDPMLineIndex: init.SDPMLineIndex,
	})
}

func connState(state pion.PeerConnectionState) (domain.ConnState, bool) {
	switch state {
	case pion.PeerConnectionStateConnecting:
		return domain.ConnConnecting, true
	case pion.PeerConnectionStateConnected:
		return domain.ConnConnected, true
	case pion.PeerConnectionStateDisconnected:
		return domain.ConnDisconnected, true
	case pion.PeerConnectionStateFailed:
		return domain.ConnFailed, true
	case pion.PeerConnectionStateClosed:
		return domain.ConnClosed, true
	}
	return 0, false
}

func isLoopback(candidate string) bool {
	return strings.Contains(candidate, "127.0.0.1") || strings.Contains(candidate, "::1 ")
}

// remoteTrack adapts a pion track to domain.RemoteStream.
type remoteTrack struct {
	track *pion.TrackRemote
}

func (r remoteTrack) ID() string { return r.track.ID() }

func (r remoteTrack) Kind() domain.MediaKind {
	if r.track.Kind() == pion.RTPCodecTypeVideo {
		return domain.MediaVideo
	}
	return domain.MediaAudio
}

func (r remoteTrack) MimeType() string { return r.track.Codec().MimeType }

func (r remoteTrack) ReadPacket() (uint16, []byte, error) {
	pkt, _, err := r.track.ReadRTP()
	if err != nil {
		return 0, nil, err
	}
	return pkt.SequenceNumber, pkt.Payload, nil
}
