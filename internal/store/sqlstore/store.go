package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	_ "github.com/lib/pq"           // Postgres driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/pkg/errors"

	"github.com/pliu/etoe/internal/models"
	"github.com/pliu/etoe/internal/snapshot"
)

// SQLStore is a snapshot sink backed by sqlite3 or postgres. Every Save
// replaces the previous snapshot inside one transaction.
type SQLStore struct {
	db         *sql.DB
	driverName string
}

var _ snapshot.Sink = (*SQLStore)(nil)

func New(driverName, dataSourceName string) (*SQLStore, error) {
	db, err := sql.Open(driverName, dataSourceName)
	if err != nil {
		return nil, err
	}
	if driverName == "sqlite3" {
		// :memory: databases are per connection.
		db.SetMaxOpenConns(1)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLStore{db: db, driverName: driverName}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "sqlstore.New.createTables")
	}
	return s, nil
}

func (s *SQLStore) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		password TEXT NOT NULL,
		token TEXT NOT NULL,
		public_key TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chats (
		id TEXT PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS participants (
		chat_id TEXT NOT NULL,
		user_id INTEGER NOT NULL,
		member_index INTEGER NOT NULL,
		chat_index INTEGER NOT NULL,
		PRIMARY KEY (chat_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		chat_id TEXT NOT NULL,
		id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		author INTEGER NOT NULL,
		text TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		keys_used TEXT NOT NULL,
		PRIMARY KEY (chat_id, id)
	);
	`

	_, err := s.db.Exec(query)
	return err
}

// Helper to handle placeholders
func (s *SQLStore) rebind(query string) string {
	if s.driverName == "postgres" {
		// Replace ? with $1, $2, etc.
		n := strings.Count(query, "?")
		for i := 1; i <= n; i++ {
			query = strings.Replace(query, "?", fmt.Sprintf("$%d", i), 1)
		}
	}
	return query
}

func (s *SQLStore) Save(ctx context.Context, state snapshot.State) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "sqlstore.Save.Begin")
	}
	defer tx.Rollback()

	for _, table := range []string{"messages", "participants", "chats", "users"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return errors.Wrapf(err, "sqlstore.Save.clear %s", table)
		}
	}

	chatIndex := make(map[string]map[int]int)
	for _, u := range state.Users {
		query := s.rebind("INSERT INTO users (id, name, password, token, public_key) VALUES (?, ?, ?, ?, ?)")
		if _, err := tx.ExecContext(ctx, query, u.ID, u.Name, u.Password, u.Token, u.PublicKey); err != nil {
			return errors.Wrapf(err, "sqlstore.Save.InsertUser %d", u.ID)
		}
		for i, chatID := range u.Chats {
			if chatIndex[chatID] == nil {
				chatIndex[chatID] = make(map[int]int)
			}
			chatIndex[chatID][u.ID] = i
		}
	}

	for _, c := range state.Chats {
		if _, err := tx.ExecContext(ctx, s.rebind("INSERT INTO chats (id) VALUES (?)"), c.ID); err != nil {
			return errors.Wrapf(err, "sqlstore.Save.InsertChat %s", c.ID)
		}
		for i, userID := range c.Members {
			query := s.rebind("INSERT INTO participants (chat_id, user_id, member_index, chat_index) VALUES (?, ?, ?, ?)")
			if _, err := tx.ExecContext(ctx, query, c.ID, userID, i, chatIndex[c.ID][userID]); err != nil {
				return errors.Wrapf(err, "sqlstore.Save.InsertParticipant %s/%d", c.ID, userID)
			}
		}
		for seq, m := range c.Messages {
			keys, err := json.Marshal(m.KeysUsed)
			if err != nil {
				return err
			}
			query := s.rebind("INSERT INTO messages (chat_id, id, seq, author, text, created_at, keys_used) VALUES (?, ?, ?, ?, ?, ?, ?)")
			if _, err := tx.ExecContext(ctx, query, c.ID, m.ID, seq, m.Author, m.Text, m.Timestamp, string(keys)); err != nil {
				return errors.Wrapf(err, "sqlstore.Save.InsertMessage %s/%s", c.ID, m.ID)
			}
		}
	}

	return errors.Wrap(tx.Commit(), "sqlstore.Save.Commit")
}

func (s *SQLStore) Load(ctx context.Context) (snapshot.State, error) {
	var state snapshot.State

	users, err := s.loadUsers(ctx)
	if err != nil {
		return state, err
	}
	chats, err := s.loadChats(ctx)
	if err != nil {
		return state, err
	}
	if err := s.loadParticipants(ctx, users, chats); err != nil {
		return state, err
	}
	if err := s.loadMessages(ctx, chats); err != nil {
		return state, err
	}

	for _, u := range users {
		state.Users = append(state.Users, *u)
	}
	sort.Slice(state.Users, func(i, j int) bool { return state.Users[i].ID < state.Users[j].ID })
	for _, c := range chats {
		state.Chats = append(state.Chats, *c)
	}
	sort.Slice(state.Chats, func(i, j int) bool { return state.Chats[i].ID < state.Chats[j].ID })
	return state, nil
}

func (s *SQLStore) loadUsers(ctx context.Context) (map[int]*models.User, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, password, token, public_key FROM users")
	if err != nil {
		return nil, errors.Wrap(err, "sqlstore.Load.users")
	}
	defer rows.Close()

	users := make(map[int]*models.User)
	for rows.Next() {
		u := &models.User{Chats: []string{}}
		if err := rows.Scan(&u.ID, &u.Name, &u.Password, &u.Token, &u.PublicKey); err != nil {
			return nil, err
		}
		users[u.ID] = u
	}
	return users, rows.Err()
}

func (s *SQLStore) loadChats(ctx context.Context) (map[string]*models.Chat, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM chats")
	if err != nil {
		return nil, errors.Wrap(err, "sqlstore.Load.chats")
	}
	defer rows.Close()

	chats := make(map[string]*models.Chat)
	for rows.Next() {
		c := &models.Chat{Messages: []models.Message{}, Members: []int{}}
		if err := rows.Scan(&c.ID); err != nil {
			return nil, err
		}
		chats[c.ID] = c
	}
	return chats, rows.Err()
}

func (s *SQLStore) loadParticipants(ctx context.Context, users map[int]*models.User, chats map[string]*models.Chat) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chat_id, user_id
		FROM participants
		ORDER BY user_id, chat_index, chat_id
	`)
	if err != nil {
		return errors.Wrap(err, "sqlstore.Load.participants")
	}
	defer rows.Close()

	for rows.Next() {
		var chatID string
		var userID int
		if err := rows.Scan(&chatID, &userID); err != nil {
			return err
		}
		if u, ok := users[userID]; ok {
			u.Chats = append(u.Chats, chatID)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	members, err := s.db.QueryContext(ctx, "SELECT chat_id, user_id FROM participants ORDER BY chat_id, member_index")
	if err != nil {
		return errors.Wrap(err, "sqlstore.Load.members")
	}
	defer members.Close()

	for members.Next() {
		var chatID string
		var userID int
		if err := members.Scan(&chatID, &userID); err != nil {
			return err
		}
		if c, ok := chats[chatID]; ok {
			c.Members = append(c.Members, userID)
		}
	}
	return members.Err()
}

func (s *SQLStore) loadMessages(ctx context.Context, chats map[string]*models.Chat) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chat_id, id, author, text, created_at, keys_used
		FROM messages
		ORDER BY chat_id, seq
	`)
	if err != nil {
		return errors.Wrap(err, "sqlstore.Load.messages")
	}
	defer rows.Close()

	for rows.Next() {
		var chatID, keys string
		var m models.Message
		if err := rows.Scan(&chatID, &m.ID, &m.Author, &m.Text, &m.Timestamp, &keys); err != nil {
			return err
		}
		if err := json.Unmarshal([]byte(keys), &m.KeysUsed); err != nil {
			return errors.Wrapf(err, "sqlstore.Load.messages keys_used %s/%s", chatID, m.ID)
		}
		if c, ok := chats[chatID]; ok {
			c.Messages = append(c.Messages, m)
		}
	}
	return rows.Err()
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
