package redisstore

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/pliu/etoe/internal/models"
	"github.com/pliu/etoe/internal/snapshot"
)

const DefaultPrefix = "etoe:snapshot:"

// RedisStore keeps the two snapshot documents under <prefix>users and
// <prefix>chats. Both keys are written in one MULTI/EXEC.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

var _ snapshot.Sink = (*RedisStore)(nil)

func New(rdb *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

// Dial parses a redis:// URL and returns a store using a fresh client.
func Dial(url, prefix string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "redisstore.Dial.ParseURL")
	}
	return New(redis.NewClient(opts), prefix), nil
}

func (s *RedisStore) usersKey() string { return s.prefix + "users" }
func (s *RedisStore) chatsKey() string { return s.prefix + "chats" }

func (s *RedisStore) Save(ctx context.Context, state snapshot.State) error {
	users := state.Users
	if users == nil {
		users = []models.User{}
	}
	chats := state.Chats
	if chats == nil {
		chats = []models.Chat{}
	}
	usersJSON, err := json.Marshal(users)
	if err != nil {
		return errors.Wrap(err, "redisstore.Save.users")
	}
	chatsJSON, err := json.Marshal(chats)
	if err != nil {
		return errors.Wrap(err, "redisstore.Save.chats")
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.usersKey(), usersJSON, 0)
		pipe.Set(ctx, s.chatsKey(), chatsJSON, 0)
		return nil
	})
	return errors.Wrap(err, "redisstore.Save.exec")
}

func (s *RedisStore) Load(ctx context.Context) (snapshot.State, error) {
	var state snapshot.State
	if err := s.get(ctx, s.usersKey(), &state.Users); err != nil {
		return snapshot.State{}, errors.Wrap(err, "redisstore.Load.users")
	}
	if err := s.get(ctx, s.chatsKey(), &state.Chats); err != nil {
		return snapshot.State{}, errors.Wrap(err, "redisstore.Load.chats")
	}
	return state, nil
}

func (s *RedisStore) get(ctx context.Context, key string, v interface{}) error {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
