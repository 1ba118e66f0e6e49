package snapshot

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/pliu/etoe/internal/models"
)

const (
	UsersFile = "users.json"
	ChatsFile = "chats.json"
)

// FileSink writes users.json and chats.json into Dir.
type FileSink struct {
	Dir string
}

func NewFileSink(dir string) *FileSink {
	return &FileSink{Dir: dir}
}

func (s *FileSink) Save(ctx context.Context, state State) error {
	users := state.Users
	if users == nil {
		users = []models.User{}
	}
	chats := state.Chats
	if chats == nil {
		chats = []models.Chat{}
	}
	if err := writeJSON(filepath.Join(s.Dir, UsersFile), users); err != nil {
		return errors.Wrap(err, "snapshot.FileSink.Save.users")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(s.Dir, ChatsFile), chats); err != nil {
		return errors.Wrap(err, "snapshot.FileSink.Save.chats")
	}
	return nil
}

func (s *FileSink) Load(ctx context.Context) (State, error) {
	var state State
	if err := readJSON(filepath.Join(s.Dir, UsersFile), &state.Users); err != nil {
		return State{}, errors.Wrap(err, "snapshot.FileSink.Load.users")
	}
	if err := readJSON(filepath.Join(s.Dir, ChatsFile), &state.Chats); err != nil {
		return State{}, errors.Wrap(err, "snapshot.FileSink.Load.chats")
	}
	return state, ctx.Err()
}

func (s *FileSink) Close() error { return nil }

// writeJSON replaces path atomically so a crash mid-dump leaves the
// previous file in place.
func writeJSON(path string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// readJSON leaves v untouched when path does not exist.
func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
