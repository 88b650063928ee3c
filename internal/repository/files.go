package repository

import (
	"encoding/json"

	domerr "github.com/teaclave-sh/lifecycle/internal/errors"
	"github.com/teaclave-sh/lifecycle/internal/types"
)

// CreateInputFile mints a new "input-<uuid>" id and persists the
// file record. update_input_file (spec §4.4) calls this again to
// mint a fresh id, leaving the old one untouched (immutable history).
func (r *Repository) CreateInputFile(f *types.InputFile) error {
	if f.ID == "" {
		f.ID = types.NewExternalID(types.PrefixInput)
	} else if !types.HasPrefix(f.ID, types.PrefixInput) {
		return domerr.New(domerr.InvalidArgument, "repository.CreateInputFile", "id must carry the input- prefix")
	}
	data, err := marshal("repository.CreateInputFile", f)
	if err != nil {
		return err
	}
	return r.store.Put(inputKey(f.ID), data)
}

func (r *Repository) GetInputFile(id string) (*types.InputFile, error) {
	if !types.HasPrefix(id, types.PrefixInput) {
		return nil, domerr.New(domerr.InvalidArgument, "repository.GetInputFile", "id must carry the input- prefix")
	}
	data, err := r.store.Get(inputKey(id))
	if err != nil {
		return nil, translateNotFound("repository.GetInputFile", id, err)
	}
	var f types.InputFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, domerr.Wrap(domerr.Internal, "repository.GetInputFile", "unmarshal", err)
	}
	return &f, nil
}

// CreateOutputFile mints an "output-<uuid>" id, or a "fusion-<uuid>"
// id for a fusion output (IsFusion=true). A fusion output carries an
// ordered FusionOwners list and is written both under output/<id> and
// under fusion/<id>; GetOutputFile, and so RegisterInputFromOutput's
// owner check, reads the output/<id> record's Owner map.
func (r *Repository) CreateOutputFile(f *types.OutputFile) error {
	if f.ID == "" {
		if f.IsFusion {
			f.ID = types.NewExternalID(types.PrefixFusion)
		} else {
			f.ID = types.NewExternalID(types.PrefixOutput)
		}
	}
	data, err := marshal("repository.CreateOutputFile", f)
	if err != nil {
		return err
	}
	if f.IsFusion {
		if !types.HasPrefix(f.ID, types.PrefixFusion) {
			return domerr.New(domerr.InvalidArgument, "repository.CreateOutputFile", "fusion output id must carry the fusion- prefix")
		}
		if err := r.store.Put(fusionKey(f.ID), data); err != nil {
			return err
		}
		return r.store.Put(outputKey(f.ID), data)
	}
	if !types.HasPrefix(f.ID, types.PrefixOutput) {
		return domerr.New(domerr.InvalidArgument, "repository.CreateOutputFile", "id must carry the output- prefix")
	}
	return r.store.Put(outputKey(f.ID), data)
}

func (r *Repository) GetOutputFile(id string) (*types.OutputFile, error) {
	data, err := r.store.Get(outputKey(id))
	if err != nil {
		return nil, translateNotFound("repository.GetOutputFile", id, err)
	}
	var f types.OutputFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, domerr.Wrap(domerr.Internal, "repository.GetOutputFile", "unmarshal", err)
	}
	return &f, nil
}

// UpdateOutputFile persists a state change to an existing output
// record, e.g. attaching its Cmac after a task writes it.
func (r *Repository) UpdateOutputFile(f *types.OutputFile) error {
	data, err := marshal("repository.UpdateOutputFile", f)
	if err != nil {
		return err
	}
	if err := r.store.Put(outputKey(f.ID), data); err != nil {
		return err
	}
	if f.IsFusion {
		return r.store.Put(fusionKey(f.ID), data)
	}
	return nil
}
