package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskchampion/tcgo/op"
	"github.com/taskchampion/tcgo/server"
	"github.com/taskchampion/tcgo/storage"
	"github.com/taskchampion/tcgo/task"
	"github.com/taskchampion/tcgo/taskdb"
)

func newReplica(t *testing.T) *taskdb.DB {
	t.Helper()
	engine, err := storage.NewMemoryEngine()
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })
	return taskdb.Open(engine)
}

func TestSyncPushThenFetchConverges(t *testing.T) {
	engine, err := storage.NewMemoryEngine()
	require.NoError(t, err)
	defer engine.Close()
	srv := server.NewLocalServer(engine)

	secret := []byte("shared-secret")
	engineA := &Engine{ClientID: "client-1", EncryptionSecret: secret}
	engineB := &Engine{ClientID: "client-1", EncryptionSecret: secret}

	dbA := newReplica(t)
	dbB := newReplica(t)

	now := time.Now().UTC()
	require.NoError(t, dbA.Apply(op.Create("u1")))
	require.NoError(t, dbA.Apply(op.Update("u1", task.PropDescription, nil, op.Ptr("buy milk"), now)))
	require.NoError(t, dbA.Apply(op.UndoPointOp()))

	require.NoError(t, engineA.Sync(context.Background(), dbA, srv, true))

	ops, err := dbA.AllOperations()
	require.NoError(t, err)
	assert.Empty(t, ops)

	require.NoError(t, engineB.Sync(context.Background(), dbB, srv, true))

	tsk, ok, err := dbB.GetTask("u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "buy milk", tsk.Description())
}

func TestSyncConcurrentEditsTransformAndConverge(t *testing.T) {
	engine, err := storage.NewMemoryEngine()
	require.NoError(t, err)
	defer engine.Close()
	srv := server.NewLocalServer(engine)

	secret := []byte("shared-secret")
	engineA := &Engine{ClientID: "client-1", EncryptionSecret: secret}
	engineB := &Engine{ClientID: "client-1", EncryptionSecret: secret}

	dbA := newReplica(t)
	dbB := newReplica(t)

	now := time.Now().UTC()
	require.NoError(t, dbA.Apply(op.Create("u1")))
	require.NoError(t, dbA.Apply(op.Update("u1", task.PropDescription, nil, op.Ptr("base"), now)))
	require.NoError(t, engineA.Sync(context.Background(), dbA, srv, true))
	require.NoError(t, engineB.Sync(context.Background(), dbB, srv, true))

	earlier := now.Add(1 * time.Second)
	later := now.Add(2 * time.Second)
	require.NoError(t, dbA.Apply(op.Update("u1", task.PropDescription, nil, op.Ptr("from-a"), earlier)))
	require.NoError(t, dbB.Apply(op.Update("u1", task.PropDescription, nil, op.Ptr("from-b"), later)))

	require.NoError(t, engineA.Sync(context.Background(), dbA, srv, true))
	require.NoError(t, engineB.Sync(context.Background(), dbB, srv, true))
	require.NoError(t, engineA.Sync(context.Background(), dbA, srv, true))

	taskA, _, err := dbA.GetTask("u1")
	require.NoError(t, err)
	taskB, _, err := dbB.GetTask("u1")
	require.NoError(t, err)
	assert.Equal(t, "from-b", taskA.Description())
	assert.Equal(t, taskA.Description(), taskB.Description())
}

func TestSyncEmptyPendingLogIsNoop(t *testing.T) {
	engine, err := storage.NewMemoryEngine()
	require.NoError(t, err)
	defer engine.Close()
	srv := server.NewLocalServer(engine)

	e := &Engine{ClientID: "client-1", EncryptionSecret: []byte("secret")}
	db := newReplica(t)
	assert.NoError(t, e.Sync(context.Background(), db, srv, true))
}
