package storage

import (
	"bytes"
	"sort"
	"sync"
)

// MemoryEngine is an in-process Engine backed by a Go map (Iterate sorts
// the keys on each call). It never
// touches disk; data does not survive process exit. Used for tests and for
// replicas configured with an in-memory store.
type MemoryEngine struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
}

// NewMemoryEngine returns an empty MemoryEngine.
func NewMemoryEngine() (*MemoryEngine, error) {
	return &MemoryEngine{data: make(map[string][]byte)}, nil
}

// Begin starts a transaction. A writable transaction buffers its writes and
// deletes in an overlay and merges them into the engine's map on Commit;
// reads of keys the transaction has not written go to the engine's live
// map. Transactions are not snapshot-isolated: a transaction sees commits
// that other transactions make after it began.
func (e *MemoryEngine) Begin(writable bool) (Txn, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrStorageClosed
	}
	return &memoryTxn{engine: e, writable: writable}, nil
}

// Close marks the engine closed. It does not discard its data; Close exists
// to make MemoryEngine satisfy Engine alongside BadgerEngine.
func (e *MemoryEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

type memoryTxn struct {
	engine   *MemoryEngine
	writable bool
	overlay  map[string][]byte // nil until first write
	deleted  map[string]struct{}
	done     bool
}

func (t *memoryTxn) Get(key []byte) ([]byte, error) {
	if t.done {
		return nil, ErrTxnClosed
	}
	k := string(key)
	if t.overlay != nil {
		if v, ok := t.overlay[k]; ok {
			return append([]byte(nil), v...), nil
		}
		if _, ok := t.deleted[k]; ok {
			return nil, ErrNotFound
		}
	}
	t.engine.mu.RLock()
	defer t.engine.mu.RUnlock()
	v, ok := t.engine.data[k]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (t *memoryTxn) Set(key, value []byte) error {
	if t.done {
		return ErrTxnClosed
	}
	if !t.writable {
		return ErrReadOnly
	}
	t.ensureOverlay()
	k := string(key)
	t.overlay[k] = append([]byte(nil), value...)
	delete(t.deleted, k)
	return nil
}

func (t *memoryTxn) Delete(key []byte) error {
	if t.done {
		return ErrTxnClosed
	}
	if !t.writable {
		return ErrReadOnly
	}
	t.ensureOverlay()
	k := string(key)
	delete(t.overlay, k)
	t.deleted[k] = struct{}{}
	return nil
}

func (t *memoryTxn) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	if t.done {
		return ErrTxnClosed
	}
	t.engine.mu.RLock()
	keys := make([]string, 0, len(t.engine.data))
	for k := range t.engine.data {
		keys = append(keys, k)
	}
	t.engine.mu.RUnlock()

	if t.overlay != nil {
		for k := range t.overlay {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		if !bytes.HasPrefix([]byte(k), prefix) {
			continue
		}
		if _, gone := t.deleted[k]; gone {
			continue
		}
		var v []byte
		if t.overlay != nil {
			if ov, ok := t.overlay[k]; ok {
				v = ov
			}
		}
		if v == nil {
			t.engine.mu.RLock()
			v = t.engine.data[k]
			t.engine.mu.RUnlock()
		}
		if err := fn([]byte(k), v); err != nil {
			if err == ErrStopIteration {
				return nil
			}
			return err
		}
	}
	return nil
}

func (t *memoryTxn) Commit() error {
	if t.done {
		return ErrTxnClosed
	}
	t.done = true
	if !t.writable || (t.overlay == nil && len(t.deleted) == 0) {
		return nil
	}
	t.engine.mu.Lock()
	defer t.engine.mu.Unlock()
	for k := range t.deleted {
		delete(t.engine.data, k)
	}
	for k, v := range t.overlay {
		t.engine.data[k] = v
	}
	return nil
}

func (t *memoryTxn) Discard() {
	t.done = true
}

func (t *memoryTxn) ensureOverlay() {
	if t.overlay == nil {
		t.overlay = make(map[string][]byte)
		t.deleted = make(map[string]struct{})
	}
}
