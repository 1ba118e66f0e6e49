package models

import (
	"encoding/json"
	"sort"

	"github.com/pkg/errors"
)

// User is the directory record. Field names match the snapshot format.
type User struct {
	ID        int      `json:"id"`
	Name      string   `json:"name"`
	Password  string   `json:"password"`
	Token     string   `json:"token"`
	PublicKey string   `json:"publicKey"`
	Chats     []string `json:"chats"`
}

// Chat is a two-party conversation. Members is fixed at creation.
type Chat struct {
	ID       string    `json:"id"`
	Messages []Message `json:"messages"`
	Members  []int     `json:"members"`
}

// Message is stored ciphertext. KeysUsed holds the sender's and the
// recipient's public keys at send time and is never updated.
type Message struct {
	ID        string   `json:"id"`
	Text      string   `json:"text"`
	Timestamp int64    `json:"timestamp"`
	Author    int      `json:"author"`
	KeysUsed  []string `json:"keysUsed"`
}

// HasMember reports whether userID belongs to the chat.
func (c *Chat) HasMember(userID int) bool {
	for _, id := range c.Members {
		if id == userID {
			return true
		}
	}
	return false
}

// Peer returns the member that is not userID.
func (c *Chat) Peer(userID int) (int, bool) {
	for _, id := range c.Members {
		if id != userID {
			return id, true
		}
	}
	return 0, false
}

// VisibleTo reports whether a holder of publicKey can still decrypt m.
func (m *Message) VisibleTo(publicKey string) bool {
	for _, k := range m.KeysUsed {
		if k == publicKey {
			return true
		}
	}
	return false
}

// OtherKey returns the half of KeysUsed that is not publicKey; it is the key
// the holder of publicKey combines with their private key to decrypt.
func (m *Message) OtherKey(publicKey string) string {
	if len(m.KeysUsed) < 2 {
		return ""
	}
	if m.KeysUsed[0] == publicKey {
		return m.KeysUsed[1]
	}
	return m.KeysUsed[0]
}

// MessageView is a message as presented to one member.
type MessageView struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
	IsMe      bool   `json:"isMe"`
	Key       string `json:"key"`
}

// ChatView is a chat as presented to one member; Name is the other member.
type ChatView struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Messages []MessageView `json:"messages"`
}

// LastActivity is the newest visible message timestamp, or 0.
func (c *ChatView) LastActivity() int64 {
	var last int64
	for _, m := range c.Messages {
		if m.Timestamp > last {
			last = m.Timestamp
		}
	}
	return last
}

// SortChats orders chats most recently active first, ties by id.
func SortChats(chats map[string]ChatView) []ChatView {
	out := make([]ChatView, 0, len(chats))
	for _, c := range chats {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		ai, aj := out[i].LastActivity(), out[j].LastActivity()
		if ai != aj {
			return ai > aj
		}
		return out[i].ID < out[j].ID
	})
	return out
}

type EventType string

const (
	EventNewMessage EventType = "newMessage"
	EventNewChat    EventType = "newChat"
)

// Event is the push envelope written to live sockets.
type Event struct {
	Type EventType   `json:"type"`
	Chat string      `json:"chat"`
	Data interface{} `json:"data"`
}

func NewMessageEvent(chatID string, m MessageView) Event {
	return Event{Type: EventNewMessage, Chat: chatID, Data: m}
}

func NewChatEvent(c ChatView) Event {
	return Event{Type: EventNewChat, Chat: c.ID, Data: c}
}

// DecodedEvent is an Event whose payload has been parsed according to Type.
// Exactly one of Message and ChatView is set.
type DecodedEvent struct {
	Type     EventType
	Chat     string
	Message  *MessageView
	ChatView *ChatView
}

// DecodeEvent parses a push frame, choosing the payload shape from the
// type discriminant rather than by trial decoding.
func DecodeEvent(frame []byte) (DecodedEvent, error) {
	var envelope struct {
		Type EventType       `json:"type"`
		Chat string          `json:"chat"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(frame, &envelope); err != nil {
		return DecodedEvent{}, errors.Wrap(err, "decode event envelope")
	}

	ev := DecodedEvent{Type: envelope.Type, Chat: envelope.Chat}
	switch envelope.Type {
	case EventNewMessage:
		var m MessageView
		if err := json.Unmarshal(envelope.Data, &m); err != nil {
			return DecodedEvent{}, errors.Wrap(err, "decode newMessage payload")
		}
		ev.Message = &m
	case EventNewChat:
		var c ChatView
		if err := json.Unmarshal(envelope.Data, &c); err != nil {
			return DecodedEvent{}, errors.Wrap(err, "decode newChat payload")
		}
		if c.Messages == nil {
			c.Messages = []MessageView{}
		}
		ev.ChatView = &c
	default:
		return DecodedEvent{}, errors.Errorf("unknown event type %q", envelope.Type)
	}
	return ev, nil
}
