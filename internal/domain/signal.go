package domain

// SessionDescription is the JSON structure for SDP offer/answer messages.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICECandidate is the JSON structure for ICE candidate messages.
type ICECandidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// SignalKind is the kind of a signaling envelope.
type SignalKind string

const (
	KindRequest      SignalKind = "request"
	KindAccept       SignalKind = "accept"
	KindDecline      SignalKind = "decline"
	KindEnd          SignalKind = "end"
	KindOffer        SignalKind = "offer"
	KindAnswer       SignalKind = "answer"
	KindICECandidate SignalKind = "ice-candidate"
)

// Lifecycle reports whether k belongs to the call lifecycle rather than
// media negotiation.
func (k SignalKind) Lifecycle() bool {
	switch k {
	case KindRequest, KindAccept, KindDecline, KindEnd:
		return true
	}
	return false
}

// Envelope is one decoded signaling message. PeerID is the other party:
// the receiver on outbound envelopes, the sender on inbound ones.
type Envelope struct {
	Kind   SignalKind
	CallID CallID
	PeerID PeerID

	// Media is set on request, accept and decline.
	Media MediaKind
	// Description is set on offer and answer.
	Description *SessionDescription
	// Candidate is set on ice-candidate.
	Candidate *ICECandidate
}
