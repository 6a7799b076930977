package server

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskchampion/tcgo/storage"
)

func newTestServer(t *testing.T) *LocalServer {
	t.Helper()
	engine, err := storage.NewMemoryEngine()
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })
	return NewLocalServer(engine)
}

func TestAddVersionCASAndGetChildVersion(t *testing.T) {
	s := newTestServer(t)

	v1, urgency, err := s.AddVersion("c1", NilVersionID, []byte("seg1"))
	require.NoError(t, err)
	require.NotEmpty(t, v1)
	assert.Equal(t, SnapshotNone, urgency)

	_, _, err = s.AddVersion("c1", NilVersionID, []byte("seg1-conflict"))
	var epv *ErrExpectedParentVersion
	require.True(t, errors.As(err, &epv))
	assert.Equal(t, v1, epv.Head)

	v2, _, err := s.AddVersion("c1", v1, []byte("seg2"))
	require.NoError(t, err)

	ver, err := s.GetChildVersion("c1", NilVersionID)
	require.NoError(t, err)
	assert.Equal(t, v1, ver.VersionID)
	assert.Equal(t, "seg1", string(ver.HistorySegment))

	ver, err = s.GetChildVersion("c1", v1)
	require.NoError(t, err)
	assert.Equal(t, v2, ver.VersionID)

	_, err = s.GetChildVersion("c1", v2)
	assert.ErrorIs(t, err, ErrNoSuchVersion)
}

func TestAddVersionDifferentClientsIndependent(t *testing.T) {
	s := newTestServer(t)

	v1, _, err := s.AddVersion("c1", NilVersionID, []byte("a"))
	require.NoError(t, err)
	v2, _, err := s.AddVersion("c2", NilVersionID, []byte("b"))
	require.NoError(t, err)
	assert.NotEqual(t, v1, v2)
}

func TestSnapshotStoredOnlyAtHead(t *testing.T) {
	s := newTestServer(t)

	v1, _, err := s.AddVersion("c1", NilVersionID, []byte("seg1"))
	require.NoError(t, err)

	require.NoError(t, s.AddSnapshot("c1", "not-the-head", []byte("stale")))
	_, err = s.GetSnapshot("c1")
	assert.ErrorIs(t, err, ErrNoSnapshot)

	require.NoError(t, s.AddSnapshot("c1", v1, []byte("snap1")))
	snap, err := s.GetSnapshot("c1")
	require.NoError(t, err)
	assert.Equal(t, v1, snap.VersionID)
	assert.Equal(t, "snap1", string(snap.Blob))
}

func TestSnapshotUrgencyEscalates(t *testing.T) {
	s := newTestServer(t)

	parent := NilVersionID
	var lastUrgency SnapshotUrgency
	for i := 0; i < urgencyHighThreshold+1; i++ {
		v, urgency, err := s.AddVersion("c1", parent, []byte("x"))
		require.NoError(t, err)
		parent = v
		lastUrgency = urgency
	}
	assert.Equal(t, SnapshotHigh, lastUrgency)
}

func TestAddVersionConcurrentOnlyOneSucceeds(t *testing.T) {
	s := newTestServer(t)

	const n = 20
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			_, _, err := s.AddVersion("c1", NilVersionID, []byte{byte(i)})
			results <- err
		}(i)
	}

	oks, conflicts := 0, 0
	for i := 0; i < n; i++ {
		err := <-results
		if err == nil {
			oks++
			continue
		}
		var epv *ErrExpectedParentVersion
		require.True(t, errors.As(err, &epv))
		conflicts++
	}
	assert.Equal(t, 1, oks)
	assert.Equal(t, n-1, conflicts)
}
