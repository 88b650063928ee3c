package kv

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"

	domerr "github.com/teaclave-sh/lifecycle/internal/errors"
)

// Store is the durable KV store contract described in spec §4.1.
type Store interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	Enumerate(prefix []byte, fn func(key, value []byte) error) error
	CompareAndSwap(key, expected, newValue []byte) (bool, error)
	Close() error
}

// raftStore is the production Store: writes are serialized through a
// single-node Raft log before being applied to the local bbolt file,
// so CompareAndSwap is linearizable even when called concurrently by
// many RPC-handler goroutines across the process's bounded thread
// pool (spec §5).
type raftStore struct {
	nodeID string
	raft   *raft.Raft
	fsm    *fsm
	bolt   *boltStore
}

// Config configures a new Store.
type Config struct {
	NodeID   string
	DataDir  string
	BindAddr string // advertised Raft transport address
}

// NewStore opens (or bootstraps) the durable store rooted at
// cfg.DataDir.
func NewStore(cfg Config) (Store, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, domerr.Wrap(domerr.StorageUnavailable, "kv.NewStore", "create data dir", err)
	}

	bs, err := newBoltStore(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	f := newFSM(bs)

	raftConfig := raft.DefaultConfig()
	raftConfig.LocalID = raft.ServerID(cfg.NodeID)

	logStorePath := filepath.Join(cfg.DataDir, "raft-log.db")
	logStore, err := raftboltdb.NewBoltStore(logStorePath)
	if err != nil {
		bs.Close()
		return nil, domerr.Wrap(domerr.StorageUnavailable, "kv.NewStore", "open raft log store", err)
	}

	snapshots, err := raft.NewFileSnapshotStore(cfg.DataDir, 2, os.Stderr)
	if err != nil {
		bs.Close()
		return nil, domerr.Wrap(domerr.StorageUnavailable, "kv.NewStore", "open snapshot store", err)
	}

	addr := cfg.BindAddr
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	advertise, err := raft.NewTCPTransport(addr, nil, 3, 10*time.Second, os.Stderr)
	if err != nil {
		bs.Close()
		return nil, domerr.Wrap(domerr.StorageUnavailable, "kv.NewStore", "open raft transport", err)
	}

	r, err := raft.NewRaft(raftConfig, f, logStore, logStore, snapshots, advertise)
	if err != nil {
		bs.Close()
		return nil, domerr.Wrap(domerr.StorageUnavailable, "kv.NewStore", "start raft", err)
	}

	// Single active instance per role (spec non-goals): bootstrap a
	// one-node cluster when no prior Raft state exists. The node becomes
	// leader once its own election completes; until then apply rejects
	// writes as StorageUnavailable.
	hasState, err := raft.HasExistingState(logStore, logStore, snapshots)
	if err != nil {
		bs.Close()
		return nil, domerr.Wrap(domerr.StorageUnavailable, "kv.NewStore", "check existing state", err)
	}
	if !hasState {
		cfgFuture := r.BootstrapCluster(raft.Configuration{
			Servers: []raft.Server{{ID: raftConfig.LocalID, Address: advertise.LocalAddr()}},
		})
		if err := cfgFuture.Error(); err != nil {
			bs.Close()
			return nil, domerr.Wrap(domerr.StorageUnavailable, "kv.NewStore", "bootstrap raft cluster", err)
		}
	}

	return &raftStore{nodeID: cfg.NodeID, raft: r, fsm: f, bolt: bs}, nil
}

func (s *raftStore) Get(key []byte) ([]byte, error) {
	return s.bolt.get(key)
}

func (s *raftStore) Enumerate(prefix []byte, fn func(key, value []byte) error) error {
	return s.bolt.enumerate(prefix, fn)
}

func (s *raftStore) apply(cmd command) (interface{}, error) {
	if s.raft.State() != raft.Leader {
		return nil, domerr.New(domerr.StorageUnavailable, "kv.apply", "not the leader")
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("kv: marshal command: %w", err)
	}
	future := s.raft.Apply(data, 10*time.Second)
	if err := future.Error(); err != nil {
		return nil, domerr.Wrap(domerr.StorageUnavailable, "kv.apply", "raft apply", err)
	}
	resp := future.Response()
	if respErr, ok := resp.(error); ok && respErr != nil {
		return nil, respErr
	}
	return resp, nil
}

func (s *raftStore) Put(key, value []byte) error {
	_, err := s.apply(command{Op: opPut, Key: key, Value: value})
	return err
}

func (s *raftStore) Delete(key []byte) error {
	_, err := s.apply(command{Op: opDel, Key: key})
	return err
}

func (s *raftStore) CompareAndSwap(key, expected, newValue []byte) (bool, error) {
	resp, err := s.apply(command{Op: opCAS, Key: key, Expected: expected, Value: newValue})
	if err != nil {
		return false, err
	}
	cr, ok := resp.(casResult)
	if !ok {
		return false, fmt.Errorf("kv: unexpected CAS response type %T", resp)
	}
	return cr.swapped, cr.err
}

func (s *raftStore) Close() error {
	if s.raft != nil {
		if err := s.raft.Shutdown().Error(); err != nil {
			return err
		}
	}
	return s.bolt.Close()
}
