package taskdb

import (
	"github.com/taskchampion/tcgo/storage"
	"github.com/taskchampion/tcgo/task"
)

// ReplaceAllTasks atomically replaces the entire task table and rebuilds
// the working set from it, used when a replica loads a snapshot to skip
// over history the server has pruned.
func (db *DB) ReplaceAllTasks(tasks map[task.UUID]task.Map) error {
	txn, err := db.engine.Begin(true)
	if err != nil {
		return err
	}
	defer txn.Discard()

	var existing [][]byte
	err = txn.Iterate([]byte{storage.PrefixTask}, func(key, value []byte) error {
		existing = append(existing, append([]byte(nil), key...))
		return nil
	})
	if err != nil {
		return err
	}
	for _, k := range existing {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}

	for uuid, m := range tasks {
		encoded, err := encodeMap(m)
		if err != nil {
			return err
		}
		if err := txn.Set(storage.TaskKey(uuid), encoded); err != nil {
			return err
		}
	}

	if err := txn.Commit(); err != nil {
		return err
	}
	db.depCacheValid = false
	return db.RebuildWorkingSet(true)
}
