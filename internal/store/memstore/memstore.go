// Package memstore is the in-memory directory and chat store.
//
// All state sits behind one RWMutex. Mutations hold the write lock from the
// first lookup through the realtime push, so a chat's pushes leave in the
// same order its messages were appended and no reader sees half an update.
package memstore

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/pliu/etoe/internal/auth"
	"github.com/pliu/etoe/internal/errs"
	"github.com/pliu/etoe/internal/models"
	"github.com/pliu/etoe/internal/snapshot"
	"github.com/pliu/etoe/internal/store"
)

type pair struct{ lo, hi int }

func pairOf(a, b int) pair {
	if a > b {
		a, b = b, a
	}
	return pair{a, b}
}

type Store struct {
	mu sync.RWMutex

	users   map[int]*models.User
	byName  map[string]int
	byToken map[string]int
	chats   map[string]*models.Chat
	pairs   map[pair]string

	nextUserID int
	lastStamp  int64

	pusher store.Pusher
	now    func() time.Time
	newID  func() string
}

var _ store.Store = (*Store)(nil)

type Option func(*Store)

// WithClock replaces time.Now as the message timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDs replaces the chat and message id generator.
func WithIDs(newID func() string) Option {
	return func(s *Store) { s.newID = newID }
}

// New returns an empty store. pusher may be nil, in which case realtime
// events are dropped.
func New(pusher store.Pusher, opts ...Option) *Store {
	s := &Store{
		users:      make(map[int]*models.User),
		byName:     make(map[string]int),
		byToken:    make(map[string]int),
		chats:      make(map[string]*models.Chat),
		pairs:      make(map[pair]string),
		nextUserID: 1,
		pusher:     pusher,
		now:        time.Now,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func nameKey(name string) string { return strings.ToLower(name) }

// Register logs in an existing user or creates a new one. On login the
// stored public key is replaced and the existing token returned.
func (s *Store) Register(name, password, publicKey string) (string, error) {
	for {
		s.mu.RLock()
		id, exists := s.byName[nameKey(name)]
		var hash string
		if exists {
			hash = s.users[id].Password
		}
		s.mu.RUnlock()

		// bcrypt runs outside the lock.
		if exists {
			if !auth.CheckPassword(hash, password) {
				return "", errs.ErrUnauthorized
			}
			var upgraded string
			if auth.IsLegacyHash(hash) {
				if h, err := auth.HashPassword(password); err == nil {
					upgraded = h
				}
			}
			s.mu.Lock()
			u := s.users[id]
			if upgraded != "" && u.Password == hash {
				u.Password = upgraded
			}
			u.PublicKey = publicKey
			token := u.Token
			s.mu.Unlock()
			return token, nil
		}

		if !auth.ValidName(name) || len(password) < auth.MinPasswordLength || publicKey == "" {
			return "", errs.ErrInvalidRequest
		}
		hashed, err := auth.HashPassword(password)
		if err != nil {
			return "", errs.Wrap(errs.CodeInternal, "hash password", err)
		}

		s.mu.Lock()
		if _, taken := s.byName[nameKey(name)]; taken {
			// Lost a race with another registration of the same name;
			// retry as a login.
			s.mu.Unlock()
			continue
		}
		u := &models.User{
			ID:        s.nextUserID,
			Name:      name,
			Password:  hashed,
			Token:     auth.NewToken(),
			PublicKey: publicKey,
			Chats:     []string{},
		}
		s.nextUserID++
		s.users[u.ID] = u
		s.byName[nameKey(name)] = u.ID
		s.byToken[u.Token] = u.ID
		s.mu.Unlock()
		return u.Token, nil
	}
}

// Authenticate resolves a bearer token by exact match.
func (s *Store) Authenticate(token string) (models.User, bool) {
	if token == "" {
		return models.User{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byToken[token]
	if !ok {
		return models.User{}, false
	}
	return copyUser(s.users[id]), true
}

// ListChats returns every chat of userID with only the messages the user's
// current public key can still open.
func (s *Store) ListChats(userID int) (map[string]models.ChatView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, errs.ErrNotFound
	}

	views := make(map[string]models.ChatView, len(u.Chats))
	for _, chatID := range u.Chats {
		c, ok := s.chats[chatID]
		if !ok {
			continue
		}
		peerID, ok := c.Peer(u.ID)
		if !ok {
			continue
		}
		peer, ok := s.users[peerID]
		if !ok {
			continue
		}

		messages := make([]models.MessageView, 0, len(c.Messages))
		for i := range c.Messages {
			m := &c.Messages[i]
			if !m.VisibleTo(u.PublicKey) {
				continue
			}
			messages = append(messages, models.MessageView{
				ID:        m.ID,
				Content:   m.Text,
				Timestamp: m.Timestamp,
				IsMe:      m.Author == u.ID,
				Key:       m.OtherKey(u.PublicKey),
			})
		}
		views[c.ID] = models.ChatView{ID: c.ID, Name: peer.Name, Messages: messages}
	}
	return views, nil
}

// CreateChat opens the one chat allowed between requesterID and otherName.
func (s *Store) CreateChat(requesterID int, otherName string) (models.ChatView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	requester, ok := s.users[requesterID]
	if !ok {
		return models.ChatView{}, errs.ErrNotFound
	}
	otherID, ok := s.byName[nameKey(otherName)]
	if !ok || otherID == requester.ID {
		return models.ChatView{}, errs.ErrNotFound
	}
	other := s.users[otherID]

	key := pairOf(requester.ID, other.ID)
	if _, exists := s.pairs[key]; exists {
		return models.ChatView{}, errs.ErrConflict
	}

	c := &models.Chat{
		ID:       s.newID(),
		Messages: []models.Message{},
		Members:  []int{requester.ID, other.ID},
	}
	s.chats[c.ID] = c
	s.pairs[key] = c.ID
	requester.Chats = append(requester.Chats, c.ID)
	other.Chats = append(other.Chats, c.ID)

	s.push(other.ID, models.NewChatEvent(models.ChatView{
		ID:       c.ID,
		Name:     requester.Name,
		Messages: []models.MessageView{},
	}))

	return models.ChatView{ID: c.ID, Name: other.Name, Messages: []models.MessageView{}}, nil
}

// PostMessage appends ciphertext to a chat, recording both members' current
// public keys as the message's keysUsed.
func (s *Store) PostMessage(requesterID int, chatID, content string) (models.MessageView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	requester, ok := s.users[requesterID]
	if !ok {
		return models.MessageView{}, errs.ErrNotFound
	}
	c, ok := s.chats[chatID]
	if !ok || !c.HasMember(requester.ID) {
		return models.MessageView{}, errs.ErrNotFound
	}

	var otherID int
	var otherKey string
	if id, ok := c.Peer(requester.ID); ok {
		otherID = id
		if other, ok := s.users[id]; ok {
			otherKey = other.PublicKey
		}
	}

	m := models.Message{
		ID:        s.newID(),
		Text:      content,
		Timestamp: s.stamp(),
		Author:    requester.ID,
		KeysUsed:  []string{requester.PublicKey, otherKey},
	}
	c.Messages = append(c.Messages, m)

	if otherID != 0 {
		s.push(otherID, models.NewMessageEvent(c.ID, models.MessageView{
			ID:        m.ID,
			Content:   m.Text,
			Timestamp: m.Timestamp,
			IsMe:      false,
			Key:       requester.PublicKey,
		}))
	}

	return models.MessageView{
		ID:        m.ID,
		Content:   m.Text,
		Timestamp: m.Timestamp,
		IsMe:      true,
		Key:       otherKey,
	}, nil
}

// PeerKey returns the other member's current public key.
func (s *Store) PeerKey(requesterID int, chatID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.chats[chatID]
	if !ok || !c.HasMember(requesterID) {
		return "", errs.ErrNotFound
	}
	peerID, ok := c.Peer(requesterID)
	if !ok {
		return "", errs.ErrNotFound
	}
	peer, ok := s.users[peerID]
	if !ok {
		return "", errs.ErrNotFound
	}
	return peer.PublicKey, nil
}

// Export copies the full state for a snapshot.
func (s *Store) Export() snapshot.State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state := snapshot.State{
		Users: make([]models.User, 0, len(s.users)),
		Chats: make([]models.Chat, 0, len(s.chats)),
	}
	for _, u := range s.users {
		state.Users = append(state.Users, copyUser(u))
	}
	sort.Slice(state.Users, func(i, j int) bool { return state.Users[i].ID < state.Users[j].ID })

	for _, c := range s.chats {
		cp := models.Chat{
			ID:       c.ID,
			Members:  append([]int(nil), c.Members...),
			Messages: make([]models.Message, len(c.Messages)),
		}
		for i, m := range c.Messages {
			m.KeysUsed = append([]string(nil), m.KeysUsed...)
			cp.Messages[i] = m
		}
		state.Chats = append(state.Chats, cp)
	}
	sort.Slice(state.Chats, func(i, j int) bool { return state.Chats[i].ID < state.Chats[j].ID })
	return state
}

// Restore replaces the store's contents with state.
func (s *Store) Restore(state snapshot.State) error {
	users := make(map[int]*models.User, len(state.Users))
	byName := make(map[string]int, len(state.Users))
	byToken := make(map[string]int, len(state.Users))
	nextUserID := 1
	for _, in := range state.Users {
		u := copyUser(&in)
		if _, dup := users[u.ID]; dup {
			return errors.Errorf("memstore.Restore: duplicate user id %d", u.ID)
		}
		if _, dup := byName[nameKey(u.Name)]; dup {
			return errors.Errorf("memstore.Restore: duplicate user name %q", u.Name)
		}
		if _, dup := byToken[u.Token]; dup {
			return errors.Errorf("memstore.Restore: duplicate token for user %d", u.ID)
		}
		users[u.ID] = &u
		byName[nameKey(u.Name)] = u.ID
		byToken[u.Token] = u.ID
		if u.ID >= nextUserID {
			nextUserID = u.ID + 1
		}
	}

	chats := make(map[string]*models.Chat, len(state.Chats))
	pairs := make(map[pair]string, len(state.Chats))
	var lastStamp int64
	for _, in := range state.Chats {
		c := &models.Chat{
			ID:       in.ID,
			Members:  append([]int(nil), in.Members...),
			Messages: append([]models.Message{}, in.Messages...),
		}
		if len(c.Members) == 2 {
			pairs[pairOf(c.Members[0], c.Members[1])] = c.ID
		}
		for _, m := range c.Messages {
			if m.Timestamp > lastStamp {
				lastStamp = m.Timestamp
			}
		}
		chats[c.ID] = c
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = users
	s.byName = byName
	s.byToken = byToken
	s.chats = chats
	s.pairs = pairs
	s.nextUserID = nextUserID
	s.lastStamp = lastStamp
	return nil
}

// stamp returns a millisecond timestamp strictly greater than the last one
// handed out. Caller holds the write lock.
func (s *Store) stamp() int64 {
	ts := s.now().UnixMilli()
	if ts <= s.lastStamp {
		ts = s.lastStamp + 1
	}
	s.lastStamp = ts
	return ts
}

func (s *Store) push(userID int, event models.Event) {
	if s.pusher != nil {
		s.pusher.Push(userID, event)
	}
}

func copyUser(u *models.User) models.User {
	cp := *u
	cp.Chats = append([]string{}, u.Chats...)
	return cp
}
