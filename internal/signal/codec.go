package signal

import (
	"encoding/json"
	"fmt"

	"webchat_home/native/internal/domain"

	"github.com/pion/sdp/v3"
)

// Frame types carried on the shared channel.
const (
	TypeCall         = "call"
	TypeWebRTCSignal = "webrtc-signal"
)

// callFrame is the wire shape of call lifecycle messages.
type callFrame struct {
	Type       string           `json:"type"`
	CallStatus string           `json:"call_status,omitempty"`
	CallType   domain.MediaKind `json:"call_type,omitempty"`
	CallID     domain.CallID    `json:"call_id,omitempty"`
	ReceiverID domain.PeerID    `json:"receiver_id,omitempty"`
	CallerID   domain.PeerID    `json:"caller_id,omitempty"`
	CallLog    *callLog         `json:"call_log,omitempty"`
}

// callLog is attached by the server to relayed requests.
type callLog struct {
	ID         domain.CallID `json:"id"`
	CallerID   domain.PeerID `json:"caller_id"`
	ReceiverID domain.PeerID `json:"receiver_id"`
	CallStatus string        `json:"call_status"`
}

// signalFrame is the wire shape of media negotiation messages.
type signalFrame struct {
	Type       string        `json:"type"`
	CallID     domain.CallID `json:"call_id"`
	ReceiverID domain.PeerID `json:"receiver_id,omitempty"`
	SenderID   domain.PeerID `json:"sender_id,omitempty"`
	Signal     *signalBody   `json:"signal"`
}

type signalBody struct {
	Type      string                     `json:"type"`
	SDP       *domain.SessionDescription `json:"sdp,omitempty"`
	Candidate *domain.ICECandidate       `json:"candidate,omitempty"`
}

type frameHeader struct {
	Type string `json:"type"`
}

// FrameType returns the "type" field of a raw frame.
func FrameType(frame []byte) (string, error) {
	var h frameHeader
	if err := json.Unmarshal(frame, &h); err != nil {
		return "", decodeErr("bad json: %v", err)
	}
	if h.Type == "" {
		return "", decodeErr("missing type")
	}
	return h.Type, nil
}

// Encode maps an outbound envelope to its wire frame.
func Encode(env domain.Envelope) ([]byte, error) {
	if env.CallID == "" {
		return nil, fmt.Errorf("encode %s: empty call id", env.Kind)
	}

	switch env.Kind {
	case domain.KindRequest, domain.KindAccept, domain.KindDecline, domain.KindEnd:
		f := callFrame{
			Type:       TypeCall,
			CallStatus: string(env.Kind),
			CallType:   env.Media,
			CallID:     env.CallID,
			ReceiverID: env.PeerID,
		}
		if f.CallType == "" && env.Kind != domain.KindEnd {
			f.CallType = domain.MediaAudio
		}
		return json.Marshal(f)

	case domain.KindOffer, domain.KindAnswer:
		if env.Description == nil {
			return nil, fmt.Errorf("encode %s: missing session description", env.Kind)
		}
		desc := *env.Description
		if desc.Type == "" {
			desc.Type = string(env.Kind)
		}
		return json.Marshal(signalFrame{
			Type:       TypeWebRTCSignal,
			CallID:     env.CallID,
			ReceiverID: env.PeerID,
			Signal:     &signalBody{Type: string(env.Kind), SDP: &desc},
		})

	case domain.KindICECandidate:
		if env.Candidate == nil {
			return nil, fmt.Errorf("encode ice-candidate: missing candidate")
		}
		return json.Marshal(signalFrame{
			Type:       TypeWebRTCSignal,
			CallID:     env.CallID,
			ReceiverID: env.PeerID,
			Signal:     &signalBody{Type: string(env.Kind), Candidate: env.Candidate},
		})
	}

	return nil, fmt.Errorf("encode: unknown kind %q", env.Kind)
}

// Decode maps an inbound call or webrtc-signal frame to an envelope.
// Every failure wraps domain.ErrDecode.
func Decode(frame []byte) (domain.Envelope, error) {
	typ, err := FrameType(frame)
	if err != nil {
		return domain.Envelope{}, err
	}

	switch typ {
	case TypeCall:
		return decodeCall(frame)
	case TypeWebRTCSignal:
		return decodeSignal(frame)
	}
	return domain.Envelope{}, decodeErr("unknown frame type %q", typ)
}

func decodeCall(frame []byte) (domain.Envelope, error) {
	var f callFrame
	if err := json.Unmarshal(frame, &f); err != nil {
		return domain.Envelope{}, decodeErr("call frame: %v", err)
	}

	status, callID, caller := f.CallStatus, f.CallID, f.CallerID
	if f.CallLog != nil {
		if status == "" {
			status = f.CallLog.CallStatus
		}
		if callID == "" {
			callID = f.CallLog.ID
		}
		if caller == "" {
			caller = f.CallLog.CallerID
		}
	}

	kind := domain.SignalKind(status)
	if !kind.Lifecycle() {
		return domain.Envelope{}, decodeErr("unknown call_status %q", status)
	}
	if callID == "" {
		return domain.Envelope{}, decodeErr("call %s: missing call_id", status)
	}
	if caller == "" {
		return domain.Envelope{}, decodeErr("call %s: missing caller_id", status)
	}

	media := f.CallType
	if media == "" {
		media = domain.MediaAudio
	}
	if !media.Valid() {
		return domain.Envelope{}, decodeErr("unknown call_type %q", media)
	}

	return domain.Envelope{
		Kind:   kind,
		CallID: callID,
		PeerID: caller,
		Media:  media,
	}, nil
}

func decodeSignal(frame []byte) (domain.Envelope, error) {
	var f signalFrame
	if err := json.Unmarshal(frame, &f); err != nil {
		return domain.Envelope{}, decodeErr("signal frame: %v", err)
	}
	if f.CallID == "" {
		return domain.Envelope{}, decodeErr("signal: missing call_id")
	}
	if f.SenderID == "" {
		return domain.Envelope{}, decodeErr("signal: missing sender_id")
	}
	if f.Signal == nil {
		return domain.Envelope{}, decodeErr("signal: missing body")
	}

	env := domain.Envelope{
		Kind:   domain.SignalKind(f.Signal.Type),
		CallID: f.CallID,
		PeerID: f.SenderID,
	}

	switch env.Kind {
	case domain.KindOffer, domain.KindAnswer:
		desc := f.Signal.SDP
		if desc == nil || desc.SDP == "" {
			return domain.Envelope{}, decodeErr("%s: missing sdp", env.Kind)
		}
		if desc.Type != "" && desc.Type != string(env.Kind) {
			return domain.Envelope{}, decodeErr("%s: sdp type %q", env.Kind, desc.Type)
		}
		var parsed sdp.SessionDescription
		if err := parsed.Unmarshal([]byte(desc.SDP)); err != nil {
			return domain.Envelope{}, decodeErr("%s: invalid sdp: %v", env.Kind, err)
		}
		env.Description = &domain.SessionDescription{Type: string(env.Kind), SDP: desc.SDP}

	case domain.KindICECandidate:
		c := f.Signal.Candidate
		if c == nil || c.Candidate == "" {
			return domain.Envelope{}, decodeErr("ice-candidate: missing candidate")
		}
		env.Candidate = c

	default:
		return domain.Envelope{}, decodeErr("unknown signal type %q", f.Signal.Type)
	}

	return env, nil
}

func decodeErr(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{domain.ErrDecode}, args...)...)
}

// Outbox encodes envelopes and writes them on a frame sender.
// It implements domain.Signaler.
type Outbox struct {
	out domain.FrameSender
}

// NewOutbox creates an Outbox writing to out.
func NewOutbox(out domain.FrameSender) *Outbox {
	return &Outbox{out: out}
}

// Send encodes env and makes a single delivery attempt.
func (o *Outbox) Send(env domain.Envelope) error {
	frame, err := Encode(env)
	if err != nil {
		return err
	}
	return o.out.Send(frame)
}
