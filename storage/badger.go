package storage

import (
	"sync"

	"github.com/dgraph-io/badger/v4"
)

// BadgerEngine is an on-disk Engine backed by BadgerDB. It carries the
// prefixed key scheme declared in types.go straight through to BadgerDB's
// own key space; there is no translation layer.
type BadgerEngine struct {
	db     *badger.DB
	mu     sync.RWMutex
	closed bool
}

// BadgerOptions configures a BadgerEngine.
type BadgerOptions struct {
	// DataDir is the directory BadgerDB stores its files in. Required
	// unless InMemory is set.
	DataDir string

	// InMemory runs BadgerDB with no disk footprint. Data does not survive
	// process exit; used for tests that still want Badger's transaction
	// semantics rather than MemoryEngine's.
	InMemory bool

	// SyncWrites forces an fsync on every commit. Off by default for
	// replica storage, since the operation log itself is the durability
	// boundary that matters for sync correctness; set it for server
	// storage, where a lost commit means diverging from clients that
	// believe it landed.
	SyncWrites bool

	// Logger receives BadgerDB's internal log output. Nil disables Badger's
	// internal logging.
	Logger badger.Logger
}

// NewBadgerEngine opens (creating if necessary) a BadgerEngine at opts.DataDir.
func NewBadgerEngine(opts BadgerOptions) (*BadgerEngine, error) {
	bopts := badger.DefaultOptions(opts.DataDir)
	bopts = bopts.WithInMemory(opts.InMemory)
	bopts = bopts.WithSyncWrites(opts.SyncWrites)
	if opts.Logger != nil {
		bopts = bopts.WithLogger(opts.Logger)
	} else {
		bopts = bopts.WithLogger(nil)
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, err
	}
	return &BadgerEngine{db: db}, nil
}

// Begin starts a BadgerDB transaction of the requested mode.
func (e *BadgerEngine) Begin(writable bool) (Txn, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrStorageClosed
	}
	return &badgerTxn{tx: e.db.NewTransaction(writable), writable: writable}, nil
}

// Close flushes and closes the underlying BadgerDB handle.
func (e *BadgerEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.db.Close()
}

// RunValueLogGC triggers BadgerDB's value-log garbage collection, reclaiming
// space from overwritten and deleted keys. Safe to call periodically; it
// returns badger.ErrNoRewrite when there is nothing to reclaim.
func (e *BadgerEngine) RunValueLogGC(discardRatio float64) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return ErrStorageClosed
	}
	return e.db.RunValueLogGC(discardRatio)
}

type badgerTxn struct {
	tx       *badger.Txn
	writable bool
	done     bool
}

func (t *badgerTxn) Get(key []byte) ([]byte, error) {
	if t.done {
		return nil, ErrTxnClosed
	}
	item, err := t.tx.Get(key)
	if err == badger.ErrKeyNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (t *badgerTxn) Set(key, value []byte) error {
	if t.done {
		return ErrTxnClosed
	}
	if !t.writable {
		return ErrReadOnly
	}
	return t.tx.Set(key, value)
}

func (t *badgerTxn) Delete(key []byte) error {
	if t.done {
		return ErrTxnClosed
	}
	if !t.writable {
		return ErrReadOnly
	}
	return t.tx.Delete(key)
}

func (t *badgerTxn) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	if t.done {
		return ErrTxnClosed
	}
	it := t.tx.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		key := item.KeyCopy(nil)
		value, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := fn(key, value); err != nil {
			if err == ErrStopIteration {
				return nil
			}
			return err
		}
	}
	return nil
}

func (t *badgerTxn) Commit() error {
	if t.done {
		return ErrTxnClosed
	}
	t.done = true
	return t.tx.Commit()
}

func (t *badgerTxn) Discard() {
	if t.done {
		return
	}
	t.done = true
	t.tx.Discard()
}
