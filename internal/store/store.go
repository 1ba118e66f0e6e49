package store

import (
	"github.com/pliu/etoe/internal/models"
	"github.com/pliu/etoe/internal/snapshot"
)

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks github.com/pliu/etoe/internal/store Pusher

// Pusher delivers realtime events to a user's live connection, if any.
// Implementations must not block.
type Pusher interface {
	Push(userID int, event models.Event)
}

// Store is the relay's authoritative state: the user directory and the
// chat store. Every method is atomic with respect to the others.
type Store interface {
	// Directory operations
	Register(name, password, publicKey string) (string, error)
	Authenticate(token string) (models.User, bool)

	// Chat operations
	ListChats(userID int) (map[string]models.ChatView, error)
	CreateChat(requesterID int, otherName string) (models.ChatView, error)
	PostMessage(requesterID int, chatID, content string) (models.MessageView, error)
	PeerKey(requesterID int, chatID string) (string, error)

	// Snapshot operations
	Export() snapshot.State
	Restore(state snapshot.State) error
}
