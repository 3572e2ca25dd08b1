package domain

import "context"

// FrameSender writes one raw frame on the shared transport channel.
type FrameSender interface {
	Send(frame []byte) error
}

// Signaler delivers signaling envelopes to the other peer.
type Signaler interface {
	Send(env Envelope) error
}

// ConnState is the connectivity state reported by a negotiation adapter.
type ConnState int

const (
	ConnConnecting ConnState = iota
	ConnConnected
	ConnDisconnected
	ConnFailed
	ConnClosed
)

func (s ConnState) String() string {
	switch s {
	case ConnConnecting:
		return "connecting"
	case ConnConnected:
		return "connected"
	case ConnDisconnected:
		return "disconnected"
	case ConnFailed:
		return "failed"
	case ConnClosed:
		return "closed"
	}
	return "unknown"
}

// MediaHandle is the local capture owned by one call session.
type MediaHandle interface {
	Kind() MediaKind
	SetAudioEnabled(enabled bool)
	SetVideoEnabled(enabled bool)
	// Close releases the capture devices. Safe to call more than once.
	Close() error
}

// RemoteStream is one track received from the peer.
type RemoteStream interface {
	ID() string
	Kind() MediaKind
	MimeType() string
	// ReadPacket returns the next RTP sequence number and payload.
	ReadPacket() (seq uint16, payload []byte, err error)
}

// NegotiationListener receives the adapter's asynchronous events.
type NegotiationListener interface {
	OnLocalCandidate(candidate ICECandidate)
	OnRemoteStream(stream RemoteStream)
	OnConnectivityStateChange(state ConnState)
}

// Negotiator wraps the platform peer connection for one call session.
type Negotiator interface {
	CreateLocalMedia(ctx context.Context, kind MediaKind) (MediaHandle, error)
	AttachTracks(handle MediaHandle) error
	CreateOffer(ctx context.Context) (SessionDescription, error)
	CreateAnswer(ctx context.Context, offer SessionDescription) (SessionDescription, error)
	SetRemoteDescription(desc SessionDescription) error
	AddRemoteCandidate(candidate ICECandidate) error
	// Close releases media and negotiation resources. Idempotent.
	Close() error
}

// NegotiatorFactory creates one Negotiator per call session.
type NegotiatorFactory interface {
	NewNegotiator(listener NegotiationListener) (Negotiator, error)
}

// Presenter renders call state for the user.
type Presenter interface {
	Ringing(peer PeerID, kind MediaKind)
	StateChanged(snap Snapshot)
	RemoteStreamAvailable(stream RemoteStream)
	MuteChanged(muted bool)
	VideoChanged(enabled bool)
	Ended(reason EndReason, err error)
}

// CallIntents are the user actions a presenter sends back.
type CallIntents interface {
	Initiate(peer PeerID, kind MediaKind)
	Accept()
	Decline()
	End()
	ToggleMute()
	ToggleVideo()
	Current(ctx context.Context) (Snapshot, bool)
}

// Directory resolves user ids to display data.
type Directory interface {
	FetchUser(ctx context.Context, id PeerID) (*User, error)
}
