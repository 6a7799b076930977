// Package taskdb owns the canonical task map for a replica: applying
// operations, keeping the working set in sync with task status, and
// maintaining the local pending-operations log that the sync engine
// eventually drains.
//
// Everything here is transactional through storage.Engine; a single Apply
// or CommitReversedOperations call either fully lands (task map, working
// set, and log entry all written) or fully fails.
package taskdb

import (
	"context"
	"fmt"
	"time"

	"github.com/taskchampion/tcgo/op"
	"github.com/taskchampion/tcgo/storage"
	"github.com/taskchampion/tcgo/task"
)

func unixSec(sec int64) time.Time { return time.Unix(sec, 0).UTC() }

var metaKeyNextOpSeq = storage.MetaKey("next_op_seq")

// DB wraps a storage.Engine with the task-database operations from spec
// section 4.3.
type DB struct {
	engine storage.Engine

	depCache      *DependencyMap
	depCacheValid bool
}

// Open returns a DB over engine. engine is not closed by DB; the caller
// owns its lifecycle.
func Open(engine storage.Engine) *DB {
	return &DB{engine: engine}
}

// Apply appends operation to the pending log and mutates the task map in a
// single transaction, updating working-set membership if the operation
// changes a task's pending/not-pending status.
func (db *DB) Apply(operation op.Operation) error {
	txn, err := db.engine.Begin(true)
	if err != nil {
		return err
	}
	defer txn.Discard()

	if err := db.applyLocked(txn, operation); err != nil {
		return err
	}
	if err := txn.Commit(); err != nil {
		return err
	}
	db.depCacheValid = false
	return nil
}

// CommitReversedOperations applies and logs ops as a batch in one
// transaction, in the order given. Used by Replica.Undo to commit the
// inverse of an undone unit of work; from taskdb's point of view this is
// indistinguishable from any other sequence of operations.
func (db *DB) CommitReversedOperations(ops []op.Operation) error {
	if len(ops) == 0 {
		return nil
	}
	txn, err := db.engine.Begin(true)
	if err != nil {
		return err
	}
	defer txn.Discard()

	for _, o := range ops {
		if err := db.applyLocked(txn, o); err != nil {
			return err
		}
	}
	if err := txn.Commit(); err != nil {
		return err
	}
	db.depCacheValid = false
	return nil
}

func (db *DB) applyLocked(txn storage.Txn, operation op.Operation) error {
	if err := mutateState(txn, operation); err != nil {
		return err
	}
	return appendOperation(txn, operation)
}

// mutateState applies operation to the task map and working set, without
// touching the pending operations log. Used both by applyLocked (which
// logs afterward) and by the sync engine when landing already-transformed
// remote operations, which must never re-enter the local log.
func mutateState(txn storage.Txn, operation op.Operation) error {
	var before task.Map
	var exists bool
	if !operation.IsUndoPoint() && operation.UUID != "" {
		m, ok, err := getTaskMap(txn, operation.UUID)
		if err != nil {
			return err
		}
		before, exists = m, ok
	}

	after, stillExists, err := op.Apply(exists, before, operation)
	if err != nil {
		return fmt.Errorf("taskdb: apply: %w", err)
	}

	if operation.UUID != "" {
		wasPending := exists && task.New(operation.UUID, before).IsPending()
		isPending := stillExists && task.New(operation.UUID, after).IsPending()

		if stillExists {
			encoded, err := encodeMap(after)
			if err != nil {
				return err
			}
			if err := txn.Set(storage.TaskKey(operation.UUID), encoded); err != nil {
				return err
			}
		} else if exists {
			if err := txn.Delete(storage.TaskKey(operation.UUID)); err != nil {
				return err
			}
		}

		if isPending && !wasPending {
			if err := addToWorkingSet(txn, operation.UUID); err != nil {
				return err
			}
		} else if wasPending && !isPending {
			if err := removeFromWorkingSet(txn, operation.UUID); err != nil {
				return err
			}
		}
	}

	return nil
}

func getTaskMap(txn storage.Txn, uuid task.UUID) (task.Map, bool, error) {
	raw, err := txn.Get(storage.TaskKey(uuid))
	if err == storage.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	m, err := decodeMap(raw)
	if err != nil {
		return nil, false, err
	}
	return m, true, nil
}

// GetTask returns the task with the given uuid, or ok=false if it does not
// exist (never existed, or was physically removed by ExpireTasks).
func (db *DB) GetTask(uuid task.UUID) (t task.Task, ok bool, err error) {
	txn, err := db.engine.Begin(false)
	if err != nil {
		return task.Task{}, false, err
	}
	defer txn.Discard()

	m, exists, err := getTaskMap(txn, uuid)
	if err != nil || !exists {
		return task.Task{}, false, err
	}
	return task.New(uuid, m), true, nil
}

// AllTaskUUIDs returns every task's UUID, in no particular order.
func (db *DB) AllTaskUUIDs() ([]task.UUID, error) {
	txn, err := db.engine.Begin(false)
	if err != nil {
		return nil, err
	}
	defer txn.Discard()

	var uuids []task.UUID
	err = txn.Iterate([]byte{storage.PrefixTask}, func(key, value []byte) error {
		uuids = append(uuids, string(key[1:]))
		return nil
	})
	return uuids, err
}

// AllTasks returns every task in the database, in no particular order.
func (db *DB) AllTasks() ([]task.Task, error) {
	txn, err := db.engine.Begin(false)
	if err != nil {
		return nil, err
	}
	defer txn.Discard()

	var tasks []task.Task
	err = txn.Iterate([]byte{storage.PrefixTask}, func(key, value []byte) error {
		m, err := decodeMap(value)
		if err != nil {
			return err
		}
		tasks = append(tasks, task.New(string(key[1:]), m))
		return nil
	})
	return tasks, err
}

// AllOperations returns the pending operations log in append order.
func (db *DB) AllOperations() ([]op.Operation, error) {
	txn, err := db.engine.Begin(false)
	if err != nil {
		return nil, err
	}
	defer txn.Discard()

	var ops []op.Operation
	err = txn.Iterate([]byte{storage.PrefixOperation}, func(key, value []byte) error {
		o, err := decodeOperation(value)
		if err != nil {
			return err
		}
		ops = append(ops, o)
		return nil
	})
	return ops, err
}

// ClearOperations empties the pending log. Called after a successful
// add_version: the entire segment that was just sent is now embedded in
// the server's version chain.
func (db *DB) ClearOperations() error {
	txn, err := db.engine.Begin(true)
	if err != nil {
		return err
	}
	defer txn.Discard()

	var keys [][]byte
	err = txn.Iterate([]byte{storage.PrefixOperation}, func(key, value []byte) error {
		keys = append(keys, append([]byte(nil), key...))
		return nil
	})
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return txn.Commit()
}

// ReplaceOperations atomically clears the pending log and writes ops in
// its place, used by the sync engine after transforming the local pending
// log against incoming remote operations.
func (db *DB) ReplaceOperations(ops []op.Operation) error {
	txn, err := db.engine.Begin(true)
	if err != nil {
		return err
	}
	defer txn.Discard()

	var keys [][]byte
	err = txn.Iterate([]byte{storage.PrefixOperation}, func(key, value []byte) error {
		keys = append(keys, append([]byte(nil), key...))
		return nil
	})
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	for _, o := range ops {
		if err := appendOperation(txn, o); err != nil {
			return err
		}
	}
	return txn.Commit()
}

func appendOperation(txn storage.Txn, operation op.Operation) error {
	raw, err := txn.Get(metaKeyNextOpSeq)
	var seq uint64
	if err == nil {
		seq = decodeUint64(raw)
	} else if err != storage.ErrNotFound {
		return err
	}

	encoded, err := encodeOperation(operation)
	if err != nil {
		return err
	}
	if err := txn.Set(storage.OperationKey(seq), encoded); err != nil {
		return err
	}
	return txn.Set(metaKeyNextOpSeq, encodeUint64(seq+1))
}

// ExpireTasks physically removes every task with status=deleted whose
// modified timestamp is older than now-horizon, per spec section 3's
// lifecycle rule. It returns the number of tasks removed.
func (db *DB) ExpireTasks(ctx context.Context, horizon time.Duration) (int, error) {
	return db.expireTasksAt(ctx, time.Now(), horizon)
}

func (db *DB) expireTasksAt(ctx context.Context, now time.Time, horizon time.Duration) (int, error) {
	cutoff := now.Add(-horizon)

	txn, err := db.engine.Begin(true)
	if err != nil {
		return 0, err
	}
	defer txn.Discard()

	var doomed []task.UUID
	err = txn.Iterate([]byte{storage.PrefixTask}, func(key, value []byte) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m, err := decodeMap(value)
		if err != nil {
			return err
		}
		t := task.New(string(key[1:]), m)
		if t.Status() != task.StatusDeleted {
			return nil
		}
		modified, ok := t.Modified()
		if !ok || modified.After(cutoff) {
			return nil
		}
		doomed = append(doomed, t.ID)
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, uuid := range doomed {
		if err := txn.Delete(storage.TaskKey(uuid)); err != nil {
			return 0, err
		}
	}
	if err := txn.Commit(); err != nil {
		return 0, err
	}
	return len(doomed), nil
}

func encodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}

func decodeUint64(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}
