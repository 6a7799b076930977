package taskdb

import (
	"github.com/taskchampion/tcgo/storage"
	"github.com/taskchampion/tcgo/task"
)

// DependencyEdge is one (a, b) pair meaning "a depends on b".
type DependencyEdge struct {
	From, To string
}

// DependencyMap is a derived, read-only view over pending tasks' dep_*
// properties. It is cached on DB and invalidated by any call to Apply or
// CommitReversedOperations, the same generation-counter shape as a
// small single-entry cache: there is at most one map per DB, so a single
// valid/invalid flag suffices in place of a full LRU.
type DependencyMap struct {
	Edges []DependencyEdge
}

// DependsOn returns the UUIDs that from depends on.
func (d *DependencyMap) DependsOn(from string) []string {
	var out []string
	for _, e := range d.Edges {
		if e.From == from {
			out = append(out, e.To)
		}
	}
	return out
}

// DependencyMap returns the dependency map, recomputing it only if
// forceRefresh is set or the cache was invalidated since it was last built.
func (db *DB) DependencyMap(forceRefresh bool) (*DependencyMap, error) {
	if !forceRefresh && db.depCacheValid && db.depCache != nil {
		return db.depCache, nil
	}

	txn, err := db.engine.Begin(false)
	if err != nil {
		return nil, err
	}
	defer txn.Discard()

	dm := &DependencyMap{}
	err = txn.Iterate([]byte{storage.PrefixTask}, func(key, value []byte) error {
		m, err := decodeMap(value)
		if err != nil {
			return err
		}
		from := string(key[1:])
		t := task.New(from, m)
		if !t.IsPending() {
			return nil
		}
		for _, to := range t.Dependencies() {
			dm.Edges = append(dm.Edges, DependencyEdge{From: from, To: to})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	db.depCache = dm
	db.depCacheValid = true
	return dm, nil
}
