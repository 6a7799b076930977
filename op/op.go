// Package op defines Operation, the unit of the replication log, and the
// pure functions that apply and transform operations.
//
// Go has no tagged-union type, so Operation is rendered the same way the
// teacher repo renders its own dual-shape record (its Neo4jRelationship type,
// not part of this module, carries both a flat and a nested representation
// in one struct): a
// Kind tag plus a set of fields that are only meaningful for some kinds.
package op

import (
	"fmt"
	"time"

	"github.com/taskchampion/tcgo/task"
)

// Kind identifies which variant of Operation a value represents.
type Kind uint8

const (
	KindCreate Kind = iota
	KindDelete
	KindUpdate
	KindUndoPoint
)

func (k Kind) String() string {
	switch k {
	case KindCreate:
		return "Create"
	case KindDelete:
		return "Delete"
	case KindUpdate:
		return "Update"
	case KindUndoPoint:
		return "UndoPoint"
	default:
		return "Unknown"
	}
}

// Operation is one atomic edit intent, per spec section 3.
//
//   - Create:    UUID set.
//   - Delete:    UUID set, OldTaskMap carries the pre-image for undo/transform.
//   - Update:    UUID, Property, OldValue (optional), NewValue (optional, nil means unset), Timestamp set.
//   - UndoPoint: no fields set; a sentinel marking a user-visible unit of work.
type Operation struct {
	Kind Kind

	UUID task.UUID

	// Delete
	OldTaskMap task.Map

	// Update
	Property  string
	OldValue  *string
	NewValue  *string
	Timestamp time.Time

	// OriginVersion is the server version ID this operation shipped in, if
	// any; the sync engine sets it on operations it fetches from the server.
	// The zero value (the empty string) means "not yet synced" and is used as
	// the lower bound in the same-timestamp tie-break (see Transform).
	OriginVersion string
}

// Create returns a Create operation for uuid.
func Create(uuid task.UUID) Operation {
	return Operation{Kind: KindCreate, UUID: uuid}
}

// Delete returns a Delete operation carrying the task's pre-image.
func Delete(uuid task.UUID, oldMap task.Map) Operation {
	return Operation{Kind: KindDelete, UUID: uuid, OldTaskMap: oldMap.Clone()}
}

// Update returns an Update operation. newValue == nil means "unset this
// property".
func Update(uuid task.UUID, property string, oldValue, newValue *string, ts time.Time) Operation {
	return Operation{
		Kind: KindUpdate, UUID: uuid, Property: property,
		OldValue: oldValue, NewValue: newValue, Timestamp: ts,
	}
}

// UndoPointOp returns the UndoPoint sentinel.
func UndoPointOp() Operation { return Operation{Kind: KindUndoPoint} }

// IsUndoPoint reports whether op is the UndoPoint sentinel.
func (o Operation) IsUndoPoint() bool { return o.Kind == KindUndoPoint }

// Ptr returns a pointer to s, for building Update.NewValue/OldValue
// literals inline.
func Ptr(s string) *string { return &s }

// Apply applies op to tm, returning the resulting task map per the
// application rules in spec section 4.2:
//
//   - Create inserts an empty map (no-op if the task already exists).
//   - Update sets or removes a property; a mismatched OldValue is tolerated
//     (last-writer-wins, not compare-and-swap).
//   - Delete of a task that does not exist (exists is false) is a no-op
//     rather than an error (this happens after a concurrent delete has
//     been transformed away).
//
// Apply never mutates tm in place; it returns a new map, along with
// whether the task existed afterward (false after Delete).
func Apply(exists bool, tm task.Map, operation Operation) (task.Map, bool, error) {
	switch operation.Kind {
	case KindCreate:
		if exists {
			return tm, true, nil
		}
		if operation.OldTaskMap != nil {
			// Undo of a Delete: restore the pre-image rather than an empty map.
			return operation.OldTaskMap.Clone(), true, nil
		}
		return task.Map{}, true, nil

	case KindUpdate:
		if !exists {
			return tm, false, fmt.Errorf("op: update on nonexistent task %s", operation.UUID)
		}
		out := tm.Clone()
		if operation.NewValue == nil {
			delete(out, operation.Property)
		} else {
			out[operation.Property] = *operation.NewValue
		}
		return out, true, nil

	case KindDelete:
		if !exists {
			// Already gone (e.g. a concurrent delete consumed it); treated
			// as a no-op per spec section 4.2.
			return tm, false, nil
		}
		return nil, false, nil

	case KindUndoPoint:
		return tm, exists, nil

	default:
		return tm, exists, fmt.Errorf("op: unknown operation kind %d", operation.Kind)
	}
}

// Reverse returns the operation that undoes op, given the task map as it
// stands just before the reverse is applied, i.e. after op took effect
// (beforeMap, only used for Create's reverse, which is a Delete carrying
// that map as its pre-image).
func Reverse(operation Operation, beforeMap task.Map) Operation {
	switch operation.Kind {
	case KindCreate:
		return Delete(operation.UUID, beforeMap)
	case KindDelete:
		restore := Create(operation.UUID)
		restore.OldTaskMap = operation.OldTaskMap.Clone()
		return restore
	case KindUpdate:
		return Update(operation.UUID, operation.Property, operation.NewValue, operation.OldValue, operation.Timestamp)
	case KindUndoPoint:
		return operation
	default:
		return operation
	}
}
