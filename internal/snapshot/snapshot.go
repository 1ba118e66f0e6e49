// Package snapshot moves the relay's in-memory state to and from flat
// storage. Nothing here runs on the request path; a dump is taken only when
// an operator asks for one and a load happens once at start-up.
package snapshot

import (
	"context"

	"github.com/pliu/etoe/internal/models"
)

// State is a full copy of the directory and chat store.
type State struct {
	Users []models.User
	Chats []models.Chat
}

// Sink is a snapshot backend.
type Sink interface {
	Save(ctx context.Context, state State) error
	// Load returns an empty State when nothing has been saved yet.
	Load(ctx context.Context) (State, error)
	Close() error
}
