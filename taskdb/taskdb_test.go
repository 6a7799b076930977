package taskdb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskchampion/tcgo/op"
	"github.com/taskchampion/tcgo/storage"
	"github.com/taskchampion/tcgo/task"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	engine, err := storage.NewMemoryEngine()
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })
	return Open(engine)
}

func TestApplyCreateUpdateDeleteAndWorkingSet(t *testing.T) {
	db := newTestDB(t)
	now := time.Now().UTC()

	require.NoError(t, db.Apply(op.Create("u1")))
	require.NoError(t, db.Apply(op.Update("u1", task.PropStatus, nil, op.Ptr(string(task.StatusPending)), now)))
	require.NoError(t, db.Apply(op.Update("u1", task.PropDescription, nil, op.Ptr("buy milk"), now)))

	tsk, ok, err := db.GetTask("u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "buy milk", tsk.Description())
	assert.True(t, tsk.IsPending())

	ws, err := db.WorkingSet()
	require.NoError(t, err)
	assert.Equal(t, task.UUID("u1"), ws.Slots[1])

	require.NoError(t, db.Apply(op.Update("u1", task.PropStatus, nil, op.Ptr(string(task.StatusCompleted)), now)))
	ws, err = db.WorkingSet()
	require.NoError(t, err)
	assert.Empty(t, ws.Slots)

	m, _, err := db.GetTask("u1")
	require.NoError(t, err)
	require.NoError(t, db.Apply(op.Delete("u1", m.Map())))
	_, ok, err = db.GetTask("u1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAllTasksAndUUIDs(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Apply(op.Create("a")))
	require.NoError(t, db.Apply(op.Create("b")))

	uuids, err := db.AllTaskUUIDs()
	require.NoError(t, err)
	assert.ElementsMatch(t, []task.UUID{"a", "b"}, uuids)

	tasks, err := db.AllTasks()
	require.NoError(t, err)
	assert.Len(t, tasks, 2)
}

func TestOperationsLogAppendAndClear(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Apply(op.Create("a")))
	require.NoError(t, db.Apply(op.UndoPointOp()))
	require.NoError(t, db.Apply(op.Create("b")))

	ops, err := db.AllOperations()
	require.NoError(t, err)
	require.Len(t, ops, 3)
	assert.Equal(t, op.KindCreate, ops[0].Kind)
	assert.True(t, ops[1].IsUndoPoint())

	require.NoError(t, db.ClearOperations())
	ops, err = db.AllOperations()
	require.NoError(t, err)
	assert.Empty(t, ops)
}

func TestReplaceOperations(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Apply(op.Create("a")))
	require.NoError(t, db.ReplaceOperations([]op.Operation{op.Create("b"), op.UndoPointOp()}))

	ops, err := db.AllOperations()
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, task.UUID("b"), ops[0].UUID)
}

func TestRebuildWorkingSetRenumberAndPreserve(t *testing.T) {
	db := newTestDB(t)
	now := time.Now().UTC()
	for _, id := range []string{"z", "a", "m"} {
		require.NoError(t, db.Apply(op.Create(id)))
		require.NoError(t, db.Apply(op.Update(id, task.PropStatus, nil, op.Ptr(string(task.StatusPending)), now)))
	}

	require.NoError(t, db.RebuildWorkingSet(true))
	ws, err := db.WorkingSet()
	require.NoError(t, err)
	assert.Equal(t, task.UUID("a"), ws.Slots[1])
	assert.Equal(t, task.UUID("m"), ws.Slots[2])
	assert.Equal(t, task.UUID("z"), ws.Slots[3])

	require.NoError(t, db.Apply(op.Create("new1")))
	require.NoError(t, db.Apply(op.Update("new1", task.PropStatus, nil, op.Ptr(string(task.StatusPending)), now)))
	require.NoError(t, db.RebuildWorkingSet(false))

	ws, err = db.WorkingSet()
	require.NoError(t, err)
	assert.Equal(t, task.UUID("a"), ws.Slots[1])
	assert.Equal(t, task.UUID("m"), ws.Slots[2])
	assert.Equal(t, task.UUID("z"), ws.Slots[3])
	assert.Equal(t, task.UUID("new1"), ws.Slots[4])
}

func TestDependencyMapCachedUntilInvalidated(t *testing.T) {
	db := newTestDB(t)
	now := time.Now().UTC()
	require.NoError(t, db.Apply(op.Create("a")))
	require.NoError(t, db.Apply(op.Update("a", task.PropStatus, nil, op.Ptr(string(task.StatusPending)), now)))
	require.NoError(t, db.Apply(op.Update("a", task.DepKey("b"), nil, op.Ptr(""), now)))

	dm, err := db.DependencyMap(false)
	require.NoError(t, err)
	require.Len(t, dm.Edges, 1)
	assert.Equal(t, "b", dm.Edges[0].To)

	cached, err := db.DependencyMap(false)
	require.NoError(t, err)
	assert.Same(t, dm, cached)

	require.NoError(t, db.Apply(op.Create("c")))
	refreshed, err := db.DependencyMap(false)
	require.NoError(t, err)
	assert.NotSame(t, dm, refreshed)
}

func TestExpireTasksRespectsHorizon(t *testing.T) {
	db := newTestDB(t)
	old := time.Now().Add(-8 * 31 * 24 * time.Hour).UTC()
	recent := time.Now().Add(-24 * time.Hour).UTC()

	require.NoError(t, db.Apply(op.Create("old")))
	require.NoError(t, db.Apply(op.Update("old", task.PropStatus, nil, op.Ptr(string(task.StatusDeleted)), old)))
	require.NoError(t, db.Apply(op.Update("old", task.PropModified, nil, op.Ptr(task.FormatEpoch(old)), old)))

	require.NoError(t, db.Apply(op.Create("recent")))
	require.NoError(t, db.Apply(op.Update("recent", task.PropStatus, nil, op.Ptr(string(task.StatusDeleted)), recent)))
	require.NoError(t, db.Apply(op.Update("recent", task.PropModified, nil, op.Ptr(task.FormatEpoch(recent)), recent)))

	removed, err := db.ExpireTasks(context.Background(), 6*30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, ok, err := db.GetTask("old")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = db.GetTask("recent")
	require.NoError(t, err)
	assert.True(t, ok)
}
