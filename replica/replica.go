// Package replica is the user-facing façade over a TaskDB: typed task
// creation and mutation, undo, garbage collection, and sync orchestration.
//
// Replica is not safe for concurrent use from multiple goroutines (per
// spec section 5, a replica holds exclusive storage access for the
// duration of any call); callers needing concurrent access should
// serialize their own calls into a Replica the way the teacher's own
// DB façade expects callers to serialize through its own public methods.
package replica

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/taskchampion/tcgo/audit"
	"github.com/taskchampion/tcgo/op"
	"github.com/taskchampion/tcgo/retention"
	"github.com/taskchampion/tcgo/server"
	syncengine "github.com/taskchampion/tcgo/sync"
	"github.com/taskchampion/tcgo/task"
	"github.com/taskchampion/tcgo/taskdb"
)

// Replica wraps a TaskDB with the typed mutation surface and sync
// orchestration spec section 4.4 describes.
type Replica struct {
	db       *taskdb.DB
	clock    Clock
	sync     *syncengine.Engine
	clientID string
	audit    *audit.Logger
}

// New returns a Replica over db. clock defaults to SystemClock if nil.
// syncEngine may be nil for replicas that never call Sync (e.g. read-only
// tooling or tests that only exercise local mutation).
func New(db *taskdb.DB, clock Clock, syncEngine *syncengine.Engine) *Replica {
	if clock == nil {
		clock = SystemClock{}
	}
	disabled, _ := audit.NewLogger(audit.DefaultConfig())
	return &Replica{db: db, clock: clock, sync: syncEngine, audit: disabled}
}

// WithAudit attaches an audit logger and the client ID it should tag
// events with; it returns r for chaining. Passing a disabled logger (the
// default from New) makes every audit call a no-op.
func (r *Replica) WithAudit(clientID string, logger *audit.Logger) *Replica {
	r.clientID = clientID
	r.audit = logger
	return r
}

// GetTask returns the task with the given id.
func (r *Replica) GetTask(id task.UUID) (task.Task, bool, error) {
	return r.db.GetTask(id)
}

// AllTasks returns every task known to this replica.
func (r *Replica) AllTasks() ([]task.Task, error) {
	return r.db.AllTasks()
}

// WorkingSet returns the current working set.
func (r *Replica) WorkingSet() (taskdb.WorkingSet, error) {
	return r.db.WorkingSet()
}

// NewTask creates a task with the given status and description, sets its
// entry/modified timestamps from the injected clock, and (for a pending
// status) inserts it into the working set.
func (r *Replica) NewTask(status task.Status, description string) (task.Task, error) {
	id := uuid.NewString()
	now := r.clock.Now()

	if err := r.db.Apply(op.Create(id)); err != nil {
		return task.Task{}, err
	}

	entry := task.FormatEpoch(now)
	props := []struct{ name, value string }{
		{task.PropStatus, string(status)},
		{task.PropDescription, description},
		{task.PropEntry, entry},
		{task.PropModified, entry},
	}
	for _, p := range props {
		if err := r.db.Apply(op.Update(id, p.name, nil, op.Ptr(p.value), now)); err != nil {
			return task.Task{}, err
		}
	}

	t, _, err := r.db.GetTask(id)
	r.audit.LogOperation(r.clientID, id, "create")
	return t, err
}

// Update invokes fn with an exclusive mutation handle over the task
// identified by id. Each mutator call on the handle is applied immediately
// and timestamped with the clock reading taken when Update was called; fn
// must not retain the handle past its own return.
func (r *Replica) Update(id task.UUID, fn func(*TaskMut) error) error {
	t, ok, err := r.db.GetTask(id)
	if err != nil {
		return err
	}
	var cur task.Map
	if ok {
		cur = t.Map().Clone()
	} else {
		cur = task.Map{}
	}

	mut := &TaskMut{r: r, uuid: id, cur: cur, now: r.clock.Now()}
	return fn(mut)
}

// UndoPoint marks a user-visible unit of work boundary. Undo pops back to
// the most recent UndoPoint (or the start of the log if none exists).
func (r *Replica) UndoPoint() error {
	return r.db.Apply(op.UndoPointOp())
}

// GC rebuilds the working set, compacting it to a dense 1..N range.
func (r *Replica) GC() error {
	return r.db.RebuildWorkingSet(true)
}

// ExpireTasks permanently removes deleted tasks last modified before
// horizon ago.
func (r *Replica) ExpireTasks(ctx context.Context, horizon time.Duration) (int, error) {
	removed, err := r.db.ExpireTasks(ctx, horizon)
	if err == nil {
		r.audit.LogExpire(r.clientID, removed)
	}
	return removed, err
}

// ExpireWithPolicy is ExpireTasks applied under a retention.Policy rather
// than a bare duration, for callers threading a Policy through from config.
func (r *Replica) ExpireWithPolicy(ctx context.Context, p retention.Policy) (int, error) {
	return r.ExpireTasks(ctx, p.Horizon)
}

// Sync drives the fetch/push protocol against srv using the sync engine
// supplied at construction. It panics-free no-ops with an error if this
// Replica was built without one.
func (r *Replica) Sync(ctx context.Context, srv server.Server, avoidSnapshot bool) error {
	if r.sync == nil {
		return errNoSyncEngine
	}

	pending, _ := r.db.AllOperations()
	err := r.sync.Sync(ctx, r.db, srv, avoidSnapshot)

	reason := ""
	if err != nil {
		reason = err.Error()
	}
	r.audit.LogSync(audit.EventSyncPush, r.clientID, len(pending), err == nil, reason)
	r.audit.LogSync(audit.EventSyncFetch, r.clientID, 0, err == nil, reason)
	return err
}
