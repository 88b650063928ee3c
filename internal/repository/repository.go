package repository

import (
	"encoding/json"
	"fmt"

	domerr "github.com/teaclave-sh/lifecycle/internal/errors"
	"github.com/teaclave-sh/lifecycle/internal/kv"
	"github.com/teaclave-sh/lifecycle/internal/types"
)

// Repository is the typed entity store used by the Management and
// Scheduler services. It never exposes raw kv.Store keys to callers.
type Repository struct {
	store kv.Store
}

// New wraps a kv.Store with typed entity access.
func New(store kv.Store) *Repository {
	return &Repository{store: store}
}

func userKey(id string) []byte     { return []byte("user/" + id) }
func functionKey(id string) []byte { return []byte("function/" + id) }
func inputKey(id string) []byte    { return []byte("input/" + id) }
func outputKey(id string) []byte   { return []byte("output/" + id) }
func fusionKey(id string) []byte   { return []byte("fusion/" + id) }
func taskKey(id string) []byte     { return []byte("task/" + id) }
func taskIndexKey(userID, taskID string) []byte {
	return []byte("task_index_by_user/" + userID + "/" + taskID)
}

func marshal(op string, v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, domerr.Wrap(domerr.Internal, op, "marshal entity", err)
	}
	return data, nil
}

// --- Users ---

func (r *Repository) CreateUser(u *types.User) error {
	data, err := marshal("repository.CreateUser", u)
	if err != nil {
		return err
	}
	return r.store.Put(userKey(u.ID), data)
}

func (r *Repository) GetUser(id string) (*types.User, error) {
	data, err := r.store.Get(userKey(id))
	if err != nil {
		return nil, translateNotFound("repository.GetUser", id, err)
	}
	var u types.User
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, domerr.Wrap(domerr.Internal, "repository.GetUser", "unmarshal", err)
	}
	return &u, nil
}

func translateNotFound(op, id string, err error) error {
	if domerr.Is(err, domerr.NotFound) {
		return domerr.New(domerr.NotFound, op, fmt.Sprintf("%q not found", id))
	}
	return domerr.Wrap(domerr.StorageUnavailable, op, "read entity", err)
}
