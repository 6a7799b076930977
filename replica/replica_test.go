package replica

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskchampion/tcgo/audit"
	"github.com/taskchampion/tcgo/storage"
	"github.com/taskchampion/tcgo/task"
	"github.com/taskchampion/tcgo/taskdb"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func newTestReplica(t *testing.T) *Replica {
	t.Helper()
	engine, err := storage.NewMemoryEngine()
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })
	db := taskdb.Open(engine)
	return New(db, fixedClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}, nil)
}

func TestNewTaskSetsCoreFields(t *testing.T) {
	r := newTestReplica(t)

	tsk, err := r.NewTask(task.StatusPending, "buy milk")
	require.NoError(t, err)

	assert.Equal(t, task.StatusPending, tsk.Status())
	assert.Equal(t, "buy milk", tsk.Description())
	_, ok := tsk.Entry()
	assert.True(t, ok)
	_, ok = tsk.Modified()
	assert.True(t, ok)

	ws, err := r.WorkingSet()
	require.NoError(t, err)
	found := false
	for _, idx := range ws.Indices() {
		if id, _ := ws.Get(idx); id == tsk.ID {
			found = true
		}
	}
	assert.True(t, found, "pending task should be in the working set")
}

func TestUpdateMutatorsRoundTrip(t *testing.T) {
	r := newTestReplica(t)
	tsk, err := r.NewTask(task.StatusPending, "original")
	require.NoError(t, err)

	err = r.Update(tsk.ID, func(m *TaskMut) error {
		if err := m.SetDescription("revised"); err != nil {
			return err
		}
		if err := m.AddTag("urgent"); err != nil {
			return err
		}
		if err := m.AddAnnotation("left a note"); err != nil {
			return err
		}
		return m.SetPriority("H")
	})
	require.NoError(t, err)

	got, ok, err := r.GetTask(tsk.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "revised", got.Description())
	assert.True(t, got.HasTag("urgent"))
	anns := got.Annotations()
	require.Len(t, anns, 1)
	assert.Equal(t, "left a note", anns[0].Description)
}

func TestDoneMarksCompletedAndRemovesFromWorkingSet(t *testing.T) {
	r := newTestReplica(t)
	tsk, err := r.NewTask(task.StatusPending, "finish this")
	require.NoError(t, err)

	require.NoError(t, r.Update(tsk.ID, func(m *TaskMut) error {
		return m.Done()
	}))

	got, ok, err := r.GetTask(tsk.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, task.StatusCompleted, got.Status())

	ws, err := r.WorkingSet()
	require.NoError(t, err)
	for _, idx := range ws.Indices() {
		id, _ := ws.Get(idx)
		assert.NotEqual(t, tsk.ID, id)
	}
}

func TestUndoReversesLastOperationSegment(t *testing.T) {
	r := newTestReplica(t)
	tsk, err := r.NewTask(task.StatusPending, "first")
	require.NoError(t, err)
	require.NoError(t, r.UndoPoint())

	require.NoError(t, r.Update(tsk.ID, func(m *TaskMut) error {
		return m.SetDescription("second")
	}))

	got, _, err := r.GetTask(tsk.ID)
	require.NoError(t, err)
	assert.Equal(t, "second", got.Description())

	undone, err := r.Undo()
	require.NoError(t, err)
	assert.True(t, undone)

	got, _, err = r.GetTask(tsk.ID)
	require.NoError(t, err)
	assert.Equal(t, "first", got.Description())
}

func TestUndoWithNothingToUndoReturnsFalse(t *testing.T) {
	r := newTestReplica(t)
	undone, err := r.Undo()
	require.NoError(t, err)
	assert.False(t, undone)
}

func TestGCCompactsWorkingSet(t *testing.T) {
	r := newTestReplica(t)
	a, err := r.NewTask(task.StatusPending, "a")
	require.NoError(t, err)
	_, err = r.NewTask(task.StatusPending, "b")
	require.NoError(t, err)

	require.NoError(t, r.Update(a.ID, func(m *TaskMut) error { return m.Done() }))
	require.NoError(t, r.GC())

	ws, err := r.WorkingSet()
	require.NoError(t, err)
	assert.Len(t, ws.Indices(), 1)
}

func TestSyncWithoutEngineErrors(t *testing.T) {
	r := newTestReplica(t)
	err := r.Sync(nil, nil, false)
	assert.Error(t, err)
}

func TestWithAuditLogsNewTaskOperation(t *testing.T) {
	r := newTestReplica(t)
	var buf bytes.Buffer
	r.WithAudit("c1", audit.NewLoggerWithWriter(&buf))

	tsk, err := r.NewTask(task.StatusPending, "tracked")
	require.NoError(t, err)

	var event audit.Event
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &event))
	assert.Equal(t, audit.EventOperation, event.Type)
	assert.Equal(t, "c1", event.ClientID)
	assert.Equal(t, tsk.ID, event.TaskUUID)
}
