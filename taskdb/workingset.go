package taskdb

import (
	"sort"

	"github.com/taskchampion/tcgo/storage"
	"github.com/taskchampion/tcgo/task"
)

// WorkingSet is a snapshot of the sparse index-to-UUID mapping described in
// spec section 3. Index 0 is never populated; it is reserved as "null" by
// convention of callers that use 0 to mean "no such index".
type WorkingSet struct {
	Slots map[int]task.UUID
}

// Get returns the UUID at index, if any.
func (w WorkingSet) Get(index int) (task.UUID, bool) {
	u, ok := w.Slots[index]
	return u, ok
}

// Indices returns the populated indices in ascending order.
func (w WorkingSet) Indices() []int {
	idx := make([]int, 0, len(w.Slots))
	for i := range w.Slots {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	return idx
}

var workingSetMetaNext = storage.WorkingSetMetaKey("next")

func addToWorkingSet(txn storage.Txn, uuid task.UUID) error {
	next := 1
	raw, err := txn.Get(workingSetMetaNext)
	if err == nil {
		next = int(decodeUint64(raw))
		if next < 1 {
			next = 1
		}
	} else if err != storage.ErrNotFound {
		return err
	}

	// Walk upward from "next" to the first unused slot rather than trusting
	// "next" blindly, in case a slot at or above it is already occupied.
	for {
		_, err := txn.Get(storage.WorkingSetKey(uint64(next)))
		if err == storage.ErrNotFound {
			break
		}
		if err != nil {
			return err
		}
		next++
	}

	if err := txn.Set(storage.WorkingSetKey(uint64(next)), []byte(uuid)); err != nil {
		return err
	}
	return txn.Set(workingSetMetaNext, encodeUint64(uint64(next+1)))
}

func removeFromWorkingSet(txn storage.Txn, uuid task.UUID) error {
	var doomed []byte
	err := txn.Iterate([]byte{storage.PrefixWorkingSet}, func(key, value []byte) error {
		if string(value) == uuid {
			doomed = append([]byte(nil), key...)
			return storage.ErrStopIteration
		}
		return nil
	})
	if err != nil {
		return err
	}
	if doomed == nil {
		return nil
	}
	return txn.Delete(doomed)
}

// WorkingSet returns the current working set.
func (db *DB) WorkingSet() (WorkingSet, error) {
	txn, err := db.engine.Begin(false)
	if err != nil {
		return WorkingSet{}, err
	}
	defer txn.Discard()

	slots := make(map[int]task.UUID)
	err = txn.Iterate([]byte{storage.PrefixWorkingSet}, func(key, value []byte) error {
		idx := int(decodeUint64(key[1:]))
		slots[idx] = task.UUID(value)
		return nil
	})
	if err != nil {
		return WorkingSet{}, err
	}
	return WorkingSet{Slots: slots}, nil
}

// RebuildWorkingSet scans all pending tasks and rewrites the working set.
// With renumber true, pending tasks are packed into 1..N in UUID order
// (deterministic, though arbitrary). With renumber false, tasks already in
// the working set keep their index; newly pending tasks are appended at
// the first free index after the current maximum.
func (db *DB) RebuildWorkingSet(renumber bool) error {
	txn, err := db.engine.Begin(true)
	if err != nil {
		return err
	}
	defer txn.Discard()

	var pending []task.UUID
	err = txn.Iterate([]byte{storage.PrefixTask}, func(key, value []byte) error {
		m, err := decodeMap(value)
		if err != nil {
			return err
		}
		t := task.New(string(key[1:]), m)
		if t.IsPending() {
			pending = append(pending, t.ID)
		}
		return nil
	})
	if err != nil {
		return err
	}
	sort.Strings(pending)

	var existingKeys [][]byte
	existing := make(map[task.UUID]int)
	maxIndex := 0
	err = txn.Iterate([]byte{storage.PrefixWorkingSet}, func(key, value []byte) error {
		existingKeys = append(existingKeys, append([]byte(nil), key...))
		idx := int(decodeUint64(key[1:]))
		existing[task.UUID(value)] = idx
		if idx > maxIndex {
			maxIndex = idx
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, k := range existingKeys {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}

	write := func(idx int, uuid task.UUID) error {
		return txn.Set(storage.WorkingSetKey(uint64(idx)), []byte(uuid))
	}

	nextFree := 1
	assigned := make(map[int]bool)

	if renumber {
		for i, uuid := range pending {
			idx := i + 1
			if err := write(idx, uuid); err != nil {
				return err
			}
			assigned[idx] = true
		}
		nextFree = len(pending) + 1
	} else {
		remaining := make([]task.UUID, 0, len(pending))
		for _, uuid := range pending {
			if idx, ok := existing[uuid]; ok {
				if err := write(idx, uuid); err != nil {
					return err
				}
				assigned[idx] = true
				if idx >= nextFree {
					nextFree = idx + 1
				}
				continue
			}
			remaining = append(remaining, uuid)
		}
		for _, uuid := range remaining {
			for assigned[nextFree] {
				nextFree++
			}
			if err := write(nextFree, uuid); err != nil {
				return err
			}
			assigned[nextFree] = true
			nextFree++
		}
	}

	if err := txn.Set(workingSetMetaNext, encodeUint64(uint64(nextFree))); err != nil {
		return err
	}
	return txn.Commit()
}
