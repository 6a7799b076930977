package op

import (
	"strings"

	"github.com/taskchampion/tcgo/task"
)

// Transform implements spec section 4.2's operational-transformation table.
// Given two operations a and b, independently derived from the same base
// state, it produces (a2, b2) such that applying a then b2 yields the same
// state as applying b then a2.
//
// The rules, in the order applied:
//
//   - Different UUIDs: both pass through unchanged.
//   - UndoPoint commutes with everything and is never dropped.
//   - Create vs Create (same UUID): idempotent, b2 becomes a no-op (an
//     UndoPoint, which Apply treats as identity) since a already creates it.
//   - Delete vs Delete (same UUID): idempotent; b2 becomes a no-op; the
//     surviving Delete (a2) keeps the merged pre-image, with b's pre-image
//     taking precedence as the "later" one.
//   - Update vs Delete (same UUID): Delete dominates. The Update is dropped
//     (replaced with a no-op) on the side that would otherwise apply it
//     after the Delete; the Delete's pre-image, on the side that hasn't
//     applied it yet, is rewritten to include the Update's effect, so a
//     later undo of the Delete restores the post-update value.
//   - Update vs Update (same UUID, same property): the later Timestamp
//     wins. The loser's NewValue is rewritten to the winner's NewValue, so
//     applying it is a no-op with respect to that property. Ties are
//     broken by OriginVersion (lexicographically; an empty OriginVersion —
//     not yet synced — always loses to a non-empty one), then by which
//     side is "a" in this call (stable but arbitrary, since by this point
//     there is no remaining signal to order on).
//   - Update vs Update (same UUID, different property): independent, pass
//     through unchanged.
func Transform(a, b Operation) (a2, b2 Operation, err error) {
	if a.UUID != b.UUID || a.UUID == "" {
		return a, b, nil
	}
	if a.IsUndoPoint() || b.IsUndoPoint() {
		return a, b, nil
	}

	switch {
	case a.Kind == KindCreate && b.Kind == KindCreate:
		return a, UndoPointOp(), nil

	case a.Kind == KindDelete && b.Kind == KindDelete:
		merged := a
		merged.OldTaskMap = mergeTaskMap(a.OldTaskMap, b.OldTaskMap)
		return merged, UndoPointOp(), nil

	case a.Kind == KindUpdate && b.Kind == KindDelete:
		d2 := b
		d2.OldTaskMap = applyUpdateToMap(b.OldTaskMap, a)
		return UndoPointOp(), d2, nil

	case a.Kind == KindDelete && b.Kind == KindUpdate:
		d2 := a
		d2.OldTaskMap = applyUpdateToMap(a.OldTaskMap, b)
		return d2, UndoPointOp(), nil

	case a.Kind == KindUpdate && b.Kind == KindUpdate:
		if a.Property != b.Property {
			return a, b, nil
		}
		if aWins(a, b) {
			b2 := b
			b2.NewValue = a.NewValue
			return a, b2, nil
		}
		a2 := a
		a2.NewValue = b.NewValue
		return a2, b, nil

	default:
		// Create vs Update/Delete, or Delete/Update vs Create, on the same
		// UUID cannot arise from a correctly-ordered log (Create always
		// precedes any Update/Delete for a given UUID), so pass through
		// unchanged rather than guessing.
		return a, b, nil
	}
}

// aWins decides the winner of two same-property Update operations per the
// tie-break rule documented on Transform and recorded in DESIGN.md (Open
// Question (a) in spec section 9).
func aWins(a, b Operation) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.After(b.Timestamp)
	}
	if a.OriginVersion != b.OriginVersion {
		return a.OriginVersion > b.OriginVersion
	}
	return strings.Compare(a.Property, b.Property) >= 0
}

// mergeTaskMap merges two Delete pre-images, with values from newer taking
// precedence over older for any overlapping key.
func mergeTaskMap(older, newer task.Map) task.Map {
	if older == nil {
		return newer.Clone()
	}
	out := older.Clone()
	for k, v := range newer {
		out[k] = v
	}
	return out
}

// applyUpdateToMap rewrites a Delete's pre-image to reflect an Update that
// raced with it, so that undoing the Delete restores the post-update value
// rather than silently losing the concurrent edit.
func applyUpdateToMap(preimage task.Map, u Operation) task.Map {
	out := preimage.Clone()
	if u.NewValue == nil {
		delete(out, u.Property)
	} else {
		out[u.Property] = *u.NewValue
	}
	return out
}
