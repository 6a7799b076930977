package replica

import (
	"github.com/taskchampion/tcgo/op"
	"github.com/taskchampion/tcgo/task"
)

// Undo pops back to the previous UndoPoint: it computes the inverse of
// every operation since then, in reverse-chronological order, and commits
// them as new forward operations (an undo is itself an edit that must
// still sync out to other replicas, not a rewrite of history). It reports
// whether anything was undone.
func (r *Replica) Undo() (bool, error) {
	ops, err := r.db.AllOperations()
	if err != nil {
		return false, err
	}
	if len(ops) == 0 {
		return false, nil
	}

	end := len(ops)
	if ops[end-1].IsUndoPoint() {
		end--
	}
	start := end
	for start > 0 && !ops[start-1].IsUndoPoint() {
		start--
	}
	segment := ops[start:end]
	if len(segment) == 0 {
		return false, nil
	}

	cache := make(map[task.UUID]task.Map)
	existsCache := make(map[task.UUID]bool)
	currentMap := func(id task.UUID) (task.Map, bool, error) {
		if m, ok := cache[id]; ok {
			return m, existsCache[id], nil
		}
		t, exists, err := r.db.GetTask(id)
		if err != nil {
			return nil, false, err
		}
		var m task.Map
		if exists {
			m = t.Map().Clone()
		} else {
			m = task.Map{}
		}
		cache[id] = m
		existsCache[id] = exists
		return m, exists, nil
	}

	reversed := make([]op.Operation, 0, len(segment))
	for i := len(segment) - 1; i >= 0; i-- {
		o := segment[i]
		if o.IsUndoPoint() {
			continue
		}
		before, exists, err := currentMap(o.UUID)
		if err != nil {
			return false, err
		}
		inv := op.Reverse(o, before)
		reversed = append(reversed, inv)

		after, stillExists, err := op.Apply(exists, before, inv)
		if err != nil {
			return false, err
		}
		cache[o.UUID] = after
		existsCache[o.UUID] = stillExists
	}
	if len(reversed) == 0 {
		return false, nil
	}

	if err := r.db.CommitReversedOperations(reversed); err != nil {
		return false, err
	}
	return true, nil
}
