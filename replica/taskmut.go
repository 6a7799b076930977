package replica

import (
	"time"

	"github.com/taskchampion/tcgo/op"
	"github.com/taskchampion/tcgo/task"
)

// TaskMut is an exclusive handle over one task, valid only for the
// duration of the Replica.Update closure that produced it. Each method
// applies and persists one Update operation immediately (not batched),
// timestamped with the clock reading taken when the enclosing Update call
// began.
type TaskMut struct {
	r    *Replica
	uuid task.UUID
	cur  task.Map
	now  time.Time
}

func (t *TaskMut) set(prop string, newValue *string) error {
	var oldValue *string
	if v, ok := t.cur[prop]; ok {
		oldValue = op.Ptr(v)
	}
	if err := t.r.db.Apply(op.Update(t.uuid, prop, oldValue, newValue, t.now)); err != nil {
		return err
	}
	if newValue == nil {
		delete(t.cur, prop)
	} else {
		t.cur[prop] = *newValue
	}
	return nil
}

// SetStatus sets the task's status.
func (t *TaskMut) SetStatus(status task.Status) error {
	return t.set(task.PropStatus, op.Ptr(string(status)))
}

// SetDescription sets the task's description.
func (t *TaskMut) SetDescription(description string) error {
	return t.set(task.PropDescription, op.Ptr(description))
}

// Start marks the task as started now.
func (t *TaskMut) Start() error {
	return t.set(task.PropStart, op.Ptr(task.FormatEpoch(t.now)))
}

// Stop clears the task's start timestamp.
func (t *TaskMut) Stop() error {
	return t.set(task.PropStart, nil)
}

// Done marks the task completed and records its end timestamp.
func (t *TaskMut) Done() error {
	if err := t.SetStatus(task.StatusCompleted); err != nil {
		return err
	}
	return t.set(task.PropEnd, op.Ptr(task.FormatEpoch(t.now)))
}

// Delete soft-deletes the task: it marks status deleted and records an end
// timestamp, preserving the task map itself (no hard-delete from the
// task table; see Replica.ExpireTasks for that).
func (t *TaskMut) Delete() error {
	if err := t.SetStatus(task.StatusDeleted); err != nil {
		return err
	}
	return t.set(task.PropEnd, op.Ptr(task.FormatEpoch(t.now)))
}

// AddTag adds a tag flag. A malformed name is rejected with
// task.ErrInvalidTag (see task.ValidateTagName).
func (t *TaskMut) AddTag(name string) error {
	if err := task.ValidateTagName(name); err != nil {
		return err
	}
	return t.set(task.TagKey(name), op.Ptr(""))
}

// RemoveTag removes a tag flag.
func (t *TaskMut) RemoveTag(name string) error {
	return t.set(task.TagKey(name), nil)
}

// AddAnnotation records a free-text note entered now.
func (t *TaskMut) AddAnnotation(description string) error {
	return t.set(task.AnnotationKey(t.now), op.Ptr(description))
}

// RemoveAnnotation removes the annotation keyed by its entry time.
func (t *TaskMut) RemoveAnnotation(key string) error {
	return t.set(key, nil)
}

// SetWait sets or clears (empty epoch string) the task's wait-until date.
func (t *TaskMut) SetWait(epoch string) error {
	if epoch == "" {
		return t.set(task.PropWait, nil)
	}
	return t.set(task.PropWait, op.Ptr(epoch))
}

// SetUDA sets an arbitrary user-defined attribute.
func (t *TaskMut) SetUDA(key, value string) error {
	return t.set(key, op.Ptr(value))
}

// SetPriority sets the task's priority UDA, following the same
// distinguished-UDA convention cli/src/cmd/modify.rs uses for priority.
func (t *TaskMut) SetPriority(priority string) error {
	if priority == "" {
		return t.set(propPriority, nil)
	}
	return t.set(propPriority, op.Ptr(priority))
}

// Annotate is an alias for AddAnnotation matching the CLI's append verb.
func (t *TaskMut) Annotate(description string) error {
	return t.AddAnnotation(description)
}

// AddDependency marks this task as depending on dep.
func (t *TaskMut) AddDependency(dep task.UUID) error {
	return t.set(task.DepKey(dep), op.Ptr(""))
}

// RemoveDependency removes a dependency edge.
func (t *TaskMut) RemoveDependency(dep task.UUID) error {
	return t.set(task.DepKey(dep), nil)
}

const propPriority = "priority"
