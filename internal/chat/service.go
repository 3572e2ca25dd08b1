package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"webchat_home/native/internal/domain"

	"github.com/bep/debounce"
	"github.com/rs/zerolog/log"
)

// TypingIdle is how long after the last keystroke a typing indicator is
// withdrawn.
const TypingIdle = 3 * time.Second

// Frame types relayed by the chat server.
const (
	TypeMessage        = "message"
	TypeTyping         = "typing"
	TypeError          = "error"
	TypeReactionUpdate = "reaction_update"
)

// ErrEmptyMessage is returned when Send is called without content.
var ErrEmptyMessage = errors.New("empty message")

// Listener receives decoded chat traffic.
type Listener interface {
	MessageReceived(msg domain.Message)
	TypingChanged(notice domain.TypingNotice)
	ServerError(message string)
}

type outboundMessage struct {
	Type        string          `json:"type"`
	ReceiverID  *domain.PeerID  `json:"receiver_id,omitempty"`
	GroupID     *domain.GroupID `json:"group_id,omitempty"`
	Content     string          `json:"content"`
	MessageType string          `json:"message_type"`
}

type typingFrame struct {
	Type       string          `json:"type"`
	UserID     domain.PeerID   `json:"user_id,omitempty"`
	ReceiverID *domain.PeerID  `json:"receiver_id,omitempty"`
	GroupID    *domain.GroupID `json:"group_id,omitempty"`
	IsTyping   *bool           `json:"is_typing,omitempty"`
}

type messageFrame struct {
	Message *domain.Message `json:"message"`
}

type errorFrame struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// Option configures a Service.
type Option func(*Service)

// WithTypingIdle overrides TypingIdle.
func WithTypingIdle(d time.Duration) Option {
	return func(s *Service) { s.idle = d }
}

// Service sends chat messages and typing indicators over the shared
// transport and decodes the chat frames the router hands it.
type Service struct {
	out      domain.FrameSender
	listener Listener
	idle     time.Duration

	mu     sync.Mutex
	typing map[domain.Conversation]*typingState
}

type typingState struct {
	active   bool
	debounce func(f func())
}

// NewService creates a chat Service.
func NewService(out domain.FrameSender, listener Listener, opts ...Option) *Service {
	s := &Service{
		out:      out,
		listener: listener,
		idle:     TypingIdle,
		typing:   make(map[domain.Conversation]*typingState),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send posts a text message to conv. Sending withdraws any typing
// indicator for conv.
func (s *Service) Send(conv domain.Conversation, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return ErrEmptyMessage
	}

	msg := outboundMessage{
		Type:        TypeMessage,
		Content:     content,
		MessageType: "text",
	}
	msg.ReceiverID, msg.GroupID = target(conv)

	frame, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if err := s.out.Send(frame); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	log.Debug().Str("module", "chat").Str("conversation", conv.String()).Msg("message sent")

	s.stopTyping(conv)
	return nil
}

// Typing announces that the user is typing in conv. The indicator is
// sent once per burst and withdrawn after the idle period.
func (s *Service) Typing(conv domain.Conversation) error {
	s.mu.Lock()
	st, ok := s.typing[conv]
	if !ok {
		st = &typingState{debounce: debounce.New(s.idle)}
		s.typing[conv] = st
	}
	start := !st.active
	st.active = true
	st.debounce(func() { s.stopTyping(conv) })
	s.mu.Unlock()

	if !start {
		return nil
	}
	return s.sendTyping(conv, true)
}

func (s *Service) stopTyping(conv domain.Conversation) {
	s.mu.Lock()
	st, ok := s.typing[conv]
	if !ok || !st.active {
		s.mu.Unlock()
		return
	}
	st.active = false
	s.mu.Unlock()

	if err := s.sendTyping(conv, false); err != nil {
		log.Debug().Err(err).Str("module", "chat").Msg("typing stop not sent")
	}
}

func (s *Service) sendTyping(conv domain.Conversation, typing bool) error {
	f := typingFrame{Type: TypeTyping, IsTyping: &typing}
	f.ReceiverID, f.GroupID = target(conv)

	frame, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode typing: %w", err)
	}
	if err := s.out.Send(frame); err != nil {
		return fmt.Errorf("send typing: %w", err)
	}
	return nil
}

// HandleFrame decodes one inbound chat frame of the given type.
func (s *Service) HandleFrame(kind string, frame []byte) {
	switch kind {
	case TypeMessage:
		var f messageFrame
		if err := json.Unmarshal(frame, &f); err != nil || f.Message == nil {
			log.Warn().Err(err).Str("module", "chat").Msg("malformed message frame")
			return
		}
		s.listener.MessageReceived(*f.Message)

	case TypeTyping:
		var f typingFrame
		if err := json.Unmarshal(frame, &f); err != nil {
			log.Warn().Err(err).Str("module", "chat").Msg("malformed typing frame")
			return
		}
		notice := domain.TypingNotice{UserID: f.UserID, Typing: f.IsTyping == nil || *f.IsTyping}
		if f.GroupID != nil && *f.GroupID != "" {
			notice.Conversation = domain.Group(*f.GroupID)
		} else {
			notice.Conversation = domain.Direct(f.UserID)
		}
		s.listener.TypingChanged(notice)

	case TypeError:
		var f errorFrame
		if err := json.Unmarshal(frame, &f); err != nil {
			log.Warn().Err(err).Str("module", "chat").Msg("malformed error frame")
			return
		}
		msg := f.Message
		if f.Error != "" {
			msg += ": " + f.Error
		}
		log.Warn().Str("module", "chat").Str("error", msg).Msg("server error")
		s.listener.ServerError(msg)

	case TypeReactionUpdate:
		log.Debug().Str("module", "chat").Msg("reaction update ignored")

	default:
		log.Debug().Str("module", "chat").Str("type", kind).Msg("unknown frame type")
	}
}

func target(conv domain.Conversation) (*domain.PeerID, *domain.GroupID) {
	if conv.IsGroup() {
		g := conv.Group
		return nil, &g
	}
	p := conv.Peer
	return &p, nil
}
