// Package storage provides the transactional key-value contract that every
// other package in this module builds on: tasks, the operation log, the
// working set, and per-client server state all live behind the same Engine
// interface, distinguished only by a one-byte key prefix.
//
// Design Principles:
//   - One storage contract, two implementations: MemoryEngine for tests and
//     ephemeral replicas, BadgerEngine for anything that needs to survive a
//     restart.
//   - Transactions are explicit. Callers open one with Begin, do their reads
//     and writes, and either Commit or Discard it. Nothing commits itself.
//   - Keys are opaque byte strings. The prefix constants below exist so that
//     every package agrees on table boundaries without needing to parse
//     anything back out of a key.
//
// Example Usage:
//
//	engine, err := storage.NewMemoryEngine()
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer engine.Close()
//
//	txn, err := engine.Begin(true)
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := txn.Set(storage.TaskKey("u1"), payload); err != nil {
//		txn.Discard()
//		log.Fatal(err)
//	}
//	if err := txn.Commit(); err != nil {
//		log.Fatal(err)
//	}
package storage

import "errors"

// Common errors returned by Engine and Txn implementations.
var (
	ErrNotFound      = errors.New("storage: key not found")
	ErrStorageClosed = errors.New("storage: engine is closed")
	ErrTxnClosed     = errors.New("storage: transaction already committed or discarded")
	ErrReadOnly      = errors.New("storage: write attempted on a read-only transaction")
)

// Key prefixes. Every key this module writes starts with exactly one of
// these bytes; this is the entire "table" scheme.
const (
	PrefixTask           = byte(0x01) // tasks/<uuid> -> encoded task.Map
	PrefixOperation      = byte(0x02) // operations/<seq, big-endian uint64> -> encoded op.Operation
	PrefixWorkingSet     = byte(0x03) // working_set/<index, big-endian uint64> -> uuid
	PrefixWorkingSetMeta = byte(0x04) // working_set_meta/next -> big-endian uint64
	PrefixClient         = byte(0x05) // client/<field> -> server-side client record fields
	PrefixMeta           = byte(0x06) // meta/<key> -> arbitrary small values (sync position, snapshot version, next operation seq)
)

// TaskKey builds the storage key for a task's current property map.
func TaskKey(id string) []byte {
	return append([]byte{PrefixTask}, []byte(id)...)
}

// OperationKey builds the storage key for the seq-th entry in the local
// operation log (0-indexed; taskdb writes the first operation at seq 0).
func OperationKey(seq uint64) []byte {
	return append([]byte{PrefixOperation}, encodeSeq(seq)...)
}

// WorkingSetKey builds the storage key for working-set slot index.
func WorkingSetKey(index uint64) []byte {
	return append([]byte{PrefixWorkingSet}, encodeSeq(index)...)
}

// WorkingSetMetaKey builds the storage key for a working-set metadata field
// (currently just "next", the index after the last one assigned; lower
// indices freed since then stay unused until the working set is rebuilt).
func WorkingSetMetaKey(field string) []byte {
	return append([]byte{PrefixWorkingSetMeta}, []byte(field)...)
}

// ClientKey builds the storage key for a field of the server-side client
// record identified by clientID (latest version id, last-used snapshot, ...).
func ClientKey(clientID, field string) []byte {
	k := append([]byte{PrefixClient}, []byte(clientID)...)
	k = append(k, 0)
	return append(k, []byte(field)...)
}

// MetaKey builds the storage key for a miscellaneous scalar value.
func MetaKey(key string) []byte {
	return append([]byte{PrefixMeta}, []byte(key)...)
}

func encodeSeq(v uint64) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}

// Txn is a single read-write or read-only transaction against an Engine.
//
// A Txn must end with exactly one call to Commit or Discard. Iterate visits
// keys in ascending byte order; the callback's err, if non-nil, stops
// iteration early and is returned from Iterate unless it is ErrStopIteration.
type Txn interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Delete(key []byte) error
	Iterate(prefix []byte, fn func(key, value []byte) error) error
	Commit() error
	Discard()
}

// ErrStopIteration lets an Iterate callback end a scan early without that
// being treated as a failure.
var ErrStopIteration = errors.New("storage: iteration stopped")

// Engine is the storage backend contract. Implementations: MemoryEngine
// (in-process, non-persistent) and BadgerEngine (on-disk, via BadgerDB).
type Engine interface {
	// Begin starts a new transaction. writable transactions see their own
	// uncommitted writes; read-only transactions calling Set or Delete
	// return ErrReadOnly.
	Begin(writable bool) (Txn, error)

	// Close releases the engine's resources. Subsequent Begin calls return
	// ErrStorageClosed.
	Close() error
}
