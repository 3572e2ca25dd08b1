package domain

import (
	"encoding/json"
	"fmt"
)

// GroupID identifies a group conversation. Like PeerID it accepts JSON
// numbers or strings.
type GroupID string

func (g GroupID) String() string { return string(g) }

func (g GroupID) MarshalJSON() ([]byte, error) {
	if isDigits(string(g)) {
		return []byte(g), nil
	}
	return json.Marshal(string(g))
}

func (g *GroupID) UnmarshalJSON(data []byte) error {
	s, err := flexString(data)
	if err != nil {
		return fmt.Errorf("group id: %w", err)
	}
	*g = GroupID(s)
	return nil
}

// Conversation is either a direct chat with a peer or a group chat.
// Exactly one of Peer and Group is set.
type Conversation struct {
	Peer  PeerID
	Group GroupID
}

// Direct returns the direct conversation with peer.
func Direct(peer PeerID) Conversation { return Conversation{Peer: peer} }

// Group returns the group conversation with id.
func Group(id GroupID) Conversation { return Conversation{Group: id} }

// IsGroup reports whether c is a group conversation.
func (c Conversation) IsGroup() bool { return c.Group != "" }

func (c Conversation) String() string {
	if c.IsGroup() {
		return "group:" + string(c.Group)
	}
	return "user:" + string(c.Peer)
}

// Message is a chat message as relayed by the server.
type Message struct {
	ID          json.Number `json:"id"`
	SenderID    PeerID      `json:"sender_id"`
	ReceiverID  PeerID      `json:"receiver_id"`
	GroupID     GroupID     `json:"group_id"`
	Content     string      `json:"content"`
	MessageType string      `json:"message_type"`
	CreatedAt   string      `json:"created_at"`
}

// Conversation returns the conversation m belongs to, seen from self.
func (m Message) Conversation(self PeerID) Conversation {
	if m.GroupID != "" {
		return Group(m.GroupID)
	}
	if m.SenderID == self {
		return Direct(m.ReceiverID)
	}
	return Direct(m.SenderID)
}

// TypingNotice reports that a user started or stopped typing.
type TypingNotice struct {
	UserID       PeerID
	Conversation Conversation
	Typing       bool
}
