package repository

import (
	"encoding/json"

	domerr "github.com/teaclave-sh/lifecycle/internal/errors"
	"github.com/teaclave-sh/lifecycle/internal/types"
)

func (r *Repository) CreateFunction(f *types.Function) error {
	if f.ID == "" {
		f.ID = types.NewExternalID(types.PrefixFunction)
	} else if !types.HasPrefix(f.ID, types.PrefixFunction) {
		return domerr.New(domerr.InvalidArgument, "repository.CreateFunction", "id must carry the function- prefix")
	}
	data, err := marshal("repository.CreateFunction", f)
	if err != nil {
		return err
	}
	return r.store.Put(functionKey(f.ID), data)
}

func (r *Repository) GetFunction(id string) (*types.Function, error) {
	data, err := r.store.Get(functionKey(id))
	if err != nil {
		return nil, translateNotFound("repository.GetFunction", id, err)
	}
	var f types.Function
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, domerr.Wrap(domerr.Internal, "repository.GetFunction", "unmarshal", err)
	}
	return &f, nil
}

func (r *Repository) UpdateFunction(f *types.Function) error {
	data, err := marshal("repository.UpdateFunction", f)
	if err != nil {
		return err
	}
	return r.store.Put(functionKey(f.ID), data)
}

func (r *Repository) DeleteFunction(id string) error {
	return r.store.Delete(functionKey(id))
}

func (r *Repository) ListFunctions() ([]*types.Function, error) {
	var out []*types.Function
	err := r.store.Enumerate([]byte("function/"), func(_, v []byte) error {
		var f types.Function
		if err := json.Unmarshal(v, &f); err != nil {
			return err
		}
		out = append(out, &f)
		return nil
	})
	if err != nil {
		return nil, domerr.Wrap(domerr.StorageUnavailable, "repository.ListFunctions", "enumerate", err)
	}
	return out, nil
}
