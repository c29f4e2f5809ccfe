// Package store persists sampler runs in an embedded BadgerDB: chain
// segments, walker state for resuming, and run metadata.
package store

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"

	"github.com/snfit/snfit/model"
	"github.com/snfit/snfit/sampler"
)

// ErrNotFound reports a run ID with no stored data. Callers that treat a
// missing run as "start fresh" should test with errors.Is.
var ErrNotFound = errors.New("not found in store")

// Config holds storage options. The zero value is not usable: set Path or
// InMemory.
type Config struct {
	Path       string // directory for database files, created if missing
	InMemory   bool   // no disk persistence, for tests
	SyncWrites bool   // sync every write, slower but durable

	Logger *slog.Logger // nil disables the database's internal logging
}

// DefaultConfig returns durable on-disk settings for the given directory.
func DefaultConfig(path string) Config {
	return Config{Path: path, SyncWrites: true}
}

// Meta records how a run was produced. Enough to rebuild the model and
// interpret the stored chain. Config holds an opaque snapshot of whatever
// configuration drove the run, in whatever format the caller likes.
type Meta struct {
	RunID   string
	Model   string
	Labels  []string
	Layout  *model.Layout
	Config  string
	Walkers int
	Steps   int
	Burn    int
	Seed    int64
	Created time.Time
}

// badgerLogger adapts slog to the database's printf-style logger.
type badgerLogger struct {
	log *slog.Logger
}

func (l *badgerLogger) Errorf(f string, a ...interface{})   { l.log.Error(fmt.Sprintf(f, a...)) }
func (l *badgerLogger) Warningf(f string, a ...interface{}) { l.log.Warn(fmt.Sprintf(f, a...)) }
func (l *badgerLogger) Infof(f string, a ...interface{})    { l.log.Info(fmt.Sprintf(f, a...)) }
func (l *badgerLogger) Debugf(f string, a ...interface{})   { l.log.Debug(fmt.Sprintf(f, a...)) }

// Store is a run archive over BadgerDB. It satisfies sampler.Checkpointer so
// an ensemble can write through it directly. Safe for concurrent use.
type Store struct {
	db *badger.DB
}

var _ sampler.Checkpointer = (*Store)(nil)

// Open opens (and if needed creates) the store.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.Errorf("Store needs a path unless in-memory")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, errors.Wrapf(err, "Could not create store directory %s", cfg.Path)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{log: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "Could not open store")
	}

	return &Store{db: db}, nil
}

// Close releases the database. The store is unusable afterwards.
func (s *Store) Close() error {
	return errors.Wrap(s.db.Close(), "Could not close store")
}

// Key layout: run/<id>/meta, run/<id>/state, run/<id>/seg/<seq>. The segment
// sequence is zero-padded so key order is append order.

func checkRunID(runID string) error {
	if runID == "" || strings.Contains(runID, "/") {
		return errors.Errorf("Invalid run ID %q", runID)
	}
	return nil
}

func metaKey(runID string) []byte {
	return []byte("run/" + runID + "/meta")
}

func stateKey(runID string) []byte {
	return []byte("run/" + runID + "/state")
}

func segPrefix(runID string) []byte {
	return []byte("run/" + runID + "/seg/")
}

func segKey(runID string, seq uint64) []byte {
	return []byte(fmt.Sprintf("run/%s/seg/%016d", runID, seq))
}

func encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, errors.Wrap(err, "Encoding failed")
	}
	return buf.Bytes(), nil
}

func decode(data []byte, v interface{}) error {
	return errors.Wrap(gob.NewDecoder(bytes.NewReader(data)).Decode(v), "Decoding failed")
}

// get reads one key, mapping a missing key to ErrNotFound.
func (s *Store) get(key []byte, v interface{}) error {
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return errors.Wrapf(ErrNotFound, "Key %s", key)
		}
		if err != nil {
			return errors.Wrapf(err, "Read of %s failed", key)
		}
		return item.Value(func(val []byte) error {
			return decode(val, v)
		})
	})
}

// nextSeq finds the sequence number the next segment of a run should get by
// seeking to the run's highest existing segment key.
func nextSeq(txn *badger.Txn, runID string) (uint64, error) {
	prefix := segPrefix(runID)

	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Reverse = true

	it := txn.NewIterator(opts)
	defer it.Close()

	seek := append(append([]byte{}, prefix...), 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF)
	it.Seek(seek)
	if !it.ValidForPrefix(prefix) {
		return 0, nil
	}

	var seq uint64
	tail := string(it.Item().Key()[len(prefix):])
	if _, err := fmt.Sscanf(tail, "%016d", &seq); err != nil {
		return 0, errors.Wrapf(err, "Corrupt segment key %s", it.Item().Key())
	}
	return seq + 1, nil
}

// AppendSegment durably appends chain rows to a run.
func (s *Store) AppendSegment(runID string, seg *sampler.Chain) error {
	if err := checkRunID(runID); err != nil {
		return err
	}
	if seg == nil || seg.Rows() < 1 {
		return errors.Errorf("Segment for run %s is empty", runID)
	}

	data, err := encode(seg)
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		seq, err := nextSeq(txn, runID)
		if err != nil {
			return err
		}
		return errors.Wrapf(txn.Set(segKey(runID, seq), data), "Segment write for run %s failed", runID)
	})
}

// SaveState overwrites the resumable walker state of a run.
func (s *Store) SaveState(runID string, st *sampler.WalkerState) error {
	if err := checkRunID(runID); err != nil {
		return err
	}

	data, err := encode(st)
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return errors.Wrapf(txn.Set(stateKey(runID), data), "State write for run %s failed", runID)
	})
}

// LoadState reads a run's walker state, ErrNotFound if it has none.
func (s *Store) LoadState(runID string) (*sampler.WalkerState, error) {
	if err := checkRunID(runID); err != nil {
		return nil, err
	}

	st := &sampler.WalkerState{}
	if err := s.get(stateKey(runID), st); err != nil {
		return nil, err
	}
	return st, nil
}

// SaveMeta records run metadata, overwriting any previous record.
func (s *Store) SaveMeta(m *Meta) error {
	if m == nil {
		return errors.Errorf("Nil meta")
	}
	if err := checkRunID(m.RunID); err != nil {
		return err
	}

	data, err := encode(m)
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return errors.Wrapf(txn.Set(metaKey(m.RunID), data), "Meta write for run %s failed", m.RunID)
	})
}

// LoadMeta reads a run's metadata, ErrNotFound if it has none.
func (s *Store) LoadMeta(runID string) (*Meta, error) {
	if err := checkRunID(runID); err != nil {
		return nil, err
	}

	m := &Meta{}
	if err := s.get(metaKey(runID), m); err != nil {
		return nil, err
	}
	return m, nil
}

// LoadChain merges all stored segments of a run into one chain, in append
// order. ErrNotFound if the run has no rows.
func (s *Store) LoadChain(runID string) (*sampler.Chain, error) {
	if err := checkRunID(runID); err != nil {
		return nil, err
	}

	var segs []*sampler.Chain
	prefix := segPrefix(runID)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			seg := &sampler.Chain{}
			err := it.Item().Value(func(val []byte) error {
				return decode(val, seg)
			})
			if err != nil {
				return errors.Wrapf(err, "Corrupt segment %s", it.Item().Key())
			}
			segs = append(segs, seg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(segs) < 1 {
		return nil, errors.Wrapf(ErrNotFound, "No chain rows for run %s", runID)
	}
	return sampler.MergeChains(segs)
}

// Runs lists every run ID present in the store, in key order.
func (s *Store) Runs() ([]string, error) {
	var ids []string
	prefix := []byte("run/")

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		last := ""
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := string(it.Item().Key())
			rest := key[len(prefix):]
			slash := strings.IndexByte(rest, '/')
			if slash < 0 {
				continue
			}
			id := rest[:slash]
			if id != last {
				ids = append(ids, id)
				last = id
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return ids, nil
}

// DeleteRun removes every trace of a run. Deleting an absent run is not an
// error.
func (s *Store) DeleteRun(runID string) error {
	if err := checkRunID(runID); err != nil {
		return err
	}

	// Collect first: deleting under an open iterator is undefined.
	var keys [][]byte
	prefix := []byte("run/" + runID + "/")

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return errors.Wrapf(err, "Delete of %s failed", k)
		}
	}
	return errors.Wrapf(wb.Flush(), "Delete of run %s failed", runID)
}
