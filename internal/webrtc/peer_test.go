package webrtc

import (
	"context"
	"strings"
	"sync"
	"testing"

	"webchat_home/native/internal/domain"

	pion "github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

// staticBackend hands out sample tracks instead of capture devices.
type staticBackend struct {
	mu      sync.Mutex
	stopped int
}

func (b *staticBackend) populate(m *pion.MediaEngine) error {
	return m.RegisterDefaultCodecs()
}

func (b *staticBackend) capture(_ context.Context, kind domain.MediaKind) ([]pion.TrackLocal, func(), error) {
	audio, err := pion.NewTrackLocalStaticSample(pion.RTPCodecCapability{MimeType: pion.MimeTypeOpus}, "audio", "webchat")
	if err != nil {
		return nil, nil, err
	}
	tracks := []pion.TrackLocal{audio}
	if kind == domain.MediaVideo {
		video, err := pion.NewTrackLocalStaticSample(pion.RTPCodecCapability{MimeType: pion.MimeTypeVP8}, "video", "webchat")
		if err != nil {
			return nil, nil, err
		}
		tracks = append(tracks, video)
	}
	return tracks, func() {
		b.mu.Lock()
		b.stopped++
		b.mu.Unlock()
	}, nil
}

// encoderBackend registers only what a capture backend can encode, plus
// the codec the Sink writes.
type encoderBackend struct {
	staticBackend
}

func (b *encoderBackend) populate(m *pion.MediaEngine) error {
	if err := registerSinkCodec(m); err != nil {
		return err
	}
	if err := m.RegisterCodec(pion.RTPCodecParameters{
		RTPCodecCapability: pion.RTPCodecCapability{MimeType: pion.MimeTypeVP8, ClockRate: 90000},
		PayloadType:        96,
	}, pion.RTPCodecTypeVideo); err != nil {
		return err
	}
	return m.RegisterCodec(pion.RTPCodecParameters{
		RTPCodecCapability: pion.RTPCodecCapability{MimeType: pion.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		PayloadType:        111,
	}, pion.RTPCodecTypeAudio)
}

type nopListener struct{}

func (nopListener) OnLocalCandidate(domain.ICECandidate)       {}
func (nopListener) OnRemoteStream(domain.RemoteStream)         {}
func (nopListener) OnConnectivityStateChange(domain.ConnState) {}

func newTestPeer(t *testing.T, b backend) *Peer {
	t.Helper()
	p, err := NewPeer(Config{}, b, nopListener{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func withMedia(t *testing.T, p *Peer, kind domain.MediaKind) *LocalMedia {
	t.Helper()
	h, err := p.CreateLocalMedia(context.Background(), kind)
	require.NoError(t, err)
	require.NoError(t, p.AttachTracks(h))
	return h.(*LocalMedia)
}

func TestPeerOfferAnswer(t *testing.T) {
	ctx := context.Background()
	caller := newTestPeer(t, &staticBackend{})
	callee := newTestPeer(t, &staticBackend{})
	withMedia(t, caller, domain.MediaVideo)
	withMedia(t, callee, domain.MediaVideo)

	offer, err := caller.CreateOffer(ctx)
	require.NoError(t, err)
	require.Equal(t, "offer", offer.Type)
	require.Contains(t, offer.SDP, "m=audio")
	require.Contains(t, offer.SDP, "m=video")

	answer, err := callee.CreateAnswer(ctx, offer)
	require.NoError(t, err)
	require.Equal(t, "answer", answer.Type)

	require.NoError(t, caller.SetRemoteDescription(answer))
}

func TestEncoderBackendNegotiatesSinkCodec(t *testing.T) {
	ctx := context.Background()
	caller := newTestPeer(t, &encoderBackend{})
	callee := newTestPeer(t, &staticBackend{})
	withMedia(t, caller, domain.MediaVideo)
	withMedia(t, callee, domain.MediaVideo)

	offer, err := caller.CreateOffer(ctx)
	require.NoError(t, err)
	h264 := strings.Index(offer.SDP, "H264/90000")
	vp8 := strings.Index(offer.SDP, "VP8/90000")
	require.NotEqual(t, -1, h264)
	require.NotEqual(t, -1, vp8)
	require.Less(t, h264, vp8)

	answer, err := callee.CreateAnswer(ctx, offer)
	require.NoError(t, err)
	require.Contains(t, answer.SDP, "H264/90000")
	require.NoError(t, caller.SetRemoteDescription(answer))
}

func TestPeerAudioOfferHasNoVideo(t *testing.T) {
	p := newTestPeer(t, &staticBackend{})
	withMedia(t, p, domain.MediaAudio)

	offer, err := p.CreateOffer(context.Background())
	require.NoError(t, err)
	require.Contains(t, offer.SDP, "m=audio")
	require.False(t, strings.Contains(offer.SDP, "m=video"))
}

func TestPeerHoldsCandidatesUntilRemoteDescription(t *testing.T) {
	p := newTestPeer(t, &staticBackend{})
	mid := "0"

	err := p.AddRemoteCandidate(domain.ICECandidate{
		Candidate: "candidate:1 1 udp 2130706431 192.168.1.2 5000 typ host",
		SDPMid:    &mid,
	})
	require.NoError(t, err)

	p.mu.Lock()
	require.Len(t, p.held, 1)
	p.mu.Unlock()
}

func TestPeerRejectsUnknownDescriptionType(t *testing.T) {
	p := newTestPeer(t, &staticBackend{})
	err := p.SetRemoteDescription(domain.SessionDescription{Type: "rollback", SDP: "v=0"})
	require.Error(t, err)
}

func TestLocalMediaMuteReplacesTrack(t *testing.T) {
	p := newTestPeer(t, &staticBackend{})
	lm := withMedia(t, p, domain.MediaVideo)

	senders := func(kind pion.RTPCodecType) []*pion.RTPSender {
		var out []*pion.RTPSender
		lm.mu.Lock()
		defer lm.mu.Unlock()
		for _, b := range lm.bound {
			if b.track.Kind() == kind {
				out = append(out, b.sender)
			}
		}
		return out
	}

	lm.SetAudioEnabled(false)
	require.False(t, lm.Enabled(pion.RTPCodecTypeAudio))
	for _, s := range senders(pion.RTPCodecTypeAudio) {
		require.Nil(t, s.Track())
	}
	for _, s := range senders(pion.RTPCodecTypeVideo) {
		require.NotNil(t, s.Track())
	}

	lm.SetAudioEnabled(true)
	for _, s := range senders(pion.RTPCodecTypeAudio) {
		require.NotNil(t, s.Track())
	}
}

func TestCloseReleasesMediaOnce(t *testing.T) {
	b := &staticBackend{}
	p, err := NewPeer(Config{}, b, nopListener{})
	require.NoError(t, err)
	lm := withMedia(t, p, domain.MediaAudio)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	require.NoError(t, lm.Close())

	b.mu.Lock()
	defer b.mu.Unlock()
	require.Equal(t, 1, b.stopped)
}

func TestConnStateMapping(t *testing.T) {
	cases := map[pion.PeerConnectionState]domain.ConnState{
		pion.PeerConnectionStateConnecting:   domain.ConnConnecting,
		pion.PeerConnectionStateConnected:    domain.ConnConnected,
		pion.PeerConnectionStateDisconnected: domain.ConnDisconnected,
		pion.PeerConnectionStateFailed:       domain.ConnFailed,
		pion.PeerConnectionStateClosed:       domain.ConnClosed,
	}
	for in, want := range cases {
		got, ok := connState(in)
		require.True(t, ok, in.String())
		require.Equal(t, want, got)
	}

	_, ok := connState(pion.PeerConnectionStateNew)
	require.False(t, ok)
}

func TestIsLoopback(t *testing.T) {
	require.True(t, isLoopback("candidate:1 1 udp 2130706431 127.0.0.1 5000 typ host"))
	require.True(t, isLoopback("candidate:1 1 udp 2130706431 ::1 5000 typ host"))
	require.False(t, isLoopback("candidate:1 1 udp 2130706431 192.168.1.2 5000 typ host"))
}
