package signal

import (
	"webchat_home/native/internal/domain"

	"github.com/rs/zerolog/log"
)

// CallSink receives decoded call envelopes and transport state.
type CallSink interface {
	HandleEnvelope(env domain.Envelope)
	TransportChanged(up bool)
}

// ChatSink receives every frame that is not call signaling.
type ChatSink interface {
	HandleFrame(kind string, frame []byte)
}

// Router splits the shared channel between calls and chat.
// It implements Handler.
type Router struct {
	calls     CallSink
	chat      ChatSink
	observers []func(up bool)
}

// NewRouter creates a Router. Observers are told about every connectivity
// change after the call sink.
func NewRouter(calls CallSink, chat ChatSink, observers ...func(up bool)) *Router {
	return &Router{calls: calls, chat: chat, observers: observers}
}

func (r *Router) OnMessage(frame []byte) {
	typ, err := FrameType(frame)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("dropping frame")
		return
	}

	switch typ {
	case TypeCall, TypeWebRTCSignal:
		env, err := Decode(frame)
		if err != nil {
			log.Warn().Err(err).Str("module", "signal").Msg("dropping frame")
			return
		}
		r.calls.HandleEnvelope(env)
	default:
		if r.chat != nil {
			r.chat.HandleFrame(typ, frame)
		}
	}
}

func (r *Router) OnConnectivityChange(up bool) {
	r.calls.TransportChanged(up)
	for _, observe := range r.observers {
		observe(up)
	}
}
