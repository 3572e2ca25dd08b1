package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// PeerID identifies a chat user. The relay server uses integer ids, so
// PeerID decodes from JSON numbers or strings and encodes all-digit ids as
// numbers.
type PeerID string

func (p PeerID) String() string { return string(p) }

// MarshalJSON encodes numeric ids as JSON numbers.
func (p PeerID) MarshalJSON() ([]byte, error) {
	if isDigits(string(p)) {
		return []byte(p), nil
	}
	return json.Marshal(string(p))
}

// UnmarshalJSON accepts a JSON string or number.
func (p *PeerID) UnmarshalJSON(data []byte) error {
	s, err := flexString(data)
	if err != nil {
		return fmt.Errorf("peer id: %w", err)
	}
	*p = PeerID(s)
	return nil
}

// CallID is the opaque identifier of one call attempt.
type CallID string

func (c CallID) String() string { return string(c) }

// UnmarshalJSON accepts a JSON string or number (call log ids are integers).
func (c *CallID) UnmarshalJSON(data []byte) error {
	s, err := flexString(data)
	if err != nil {
		return fmt.Errorf("call id: %w", err)
	}
	*c = CallID(s)
	return nil
}

// MediaKind is chosen by the initiator and fixed for the session.
type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

// Valid reports whether k is a known media kind.
func (k MediaKind) Valid() bool {
	return k == MediaAudio || k == MediaVideo
}

// Direction is set when a session is created and never changes.
type Direction int

const (
	Outgoing Direction = iota
	Incoming
)

func (d Direction) String() string {
	if d == Incoming {
		return "incoming"
	}
	return "outgoing"
}

// State is the single lifecycle state of a call session.
type State int

const (
	StateIdle State = iota
	StateOutgoingRinging
	StateIncomingRinging
	StateNegotiating
	StateConnected
	StateEnded
	StateFailed
)

var stateNames = map[State]string{
	StateIdle:            "idle",
	StateOutgoingRinging: "outgoing-ringing",
	StateIncomingRinging: "incoming-ringing",
	StateNegotiating:     "negotiating",
	StateConnected:       "connected",
	StateEnded:           "ended",
	StateFailed:          "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown(" + strconv.Itoa(int(s)) + ")"
}

// Terminal reports whether no further transition can leave s.
func (s State) Terminal() bool {
	return s == StateEnded || s == StateFailed
}

// InCall reports whether mute and video toggles apply in s.
func (s State) InCall() bool {
	return s == StateNegotiating || s == StateConnected
}

// EndReason explains a terminal transition to the user.
type EndReason string

const (
	ReasonHangup            EndReason = "hangup"
	ReasonRemoteEnded       EndReason = "remote-ended"
	ReasonDeclined          EndReason = "declined"
	ReasonRejected          EndReason = "rejected"
	ReasonNoAnswer          EndReason = "no-answer"
	ReasonMediaUnavailable  EndReason = "media-unavailable"
	ReasonNegotiationFailed EndReason = "negotiation-failed"
	ReasonConnectionLost    EndReason = "connection-lost"
	ReasonTransportDown     EndReason = "transport-down"
	ReasonShutdown          EndReason = "shutdown"
)

// Snapshot is a read-only copy of a session's public fields.
type Snapshot struct {
	CallID            CallID
	PeerID            PeerID
	Direction         Direction
	MediaKind         MediaKind
	State             State
	LocalMuted        bool
	LocalVideoEnabled bool
	CreatedAt         time.Time
}

// User is the subset of the server's user resource the client displays.
type User struct {
	ID        PeerID `json:"id"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url,omitempty"`
	IsOnline  bool   `json:"is_online"`
}

func flexString(data []byte) (string, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return "", nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}

func isDigits(s string) bool {
	if s == "" || len(s) > 18 {
		return false
	}
	if len(s) > 1 && s[0] == '0' {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
