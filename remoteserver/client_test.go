package remoteserver

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskchampion/tcgo/server"
	"github.com/taskchampion/tcgo/server/httpserver"
	"github.com/taskchampion/tcgo/storage"
)

func newTestPair(t *testing.T) (*Client, *httptest.Server) {
	t.Helper()
	engine, err := storage.NewMemoryEngine()
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })

	local := server.NewLocalServer(engine)
	h := httpserver.New(local)
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)

	return New(ts.URL, ts.Client()), ts
}

func TestClientGetChildVersionNoSuchVersion(t *testing.T) {
	client, _ := newTestPair(t)
	_, err := client.GetChildVersion("c1", "")
	assert.ErrorIs(t, err, server.ErrNoSuchVersion)
}

func TestClientAddVersionThenFetch(t *testing.T) {
	client, _ := newTestPair(t)

	versionID, urgency, err := client.AddVersion("c1", "", []byte("segment-bytes"))
	require.NoError(t, err)
	assert.NotEmpty(t, versionID)
	assert.Equal(t, server.SnapshotNone, urgency)

	ver, err := client.GetChildVersion("c1", "")
	require.NoError(t, err)
	assert.Equal(t, versionID, ver.VersionID)
	assert.Equal(t, []byte("segment-bytes"), ver.HistorySegment)
}

func TestClientAddVersionConflict(t *testing.T) {
	client, _ := newTestPair(t)

	first, _, err := client.AddVersion("c1", "", []byte("a"))
	require.NoError(t, err)

	_, _, err = client.AddVersion("c1", "", []byte("b"))
	var epv *server.ErrExpectedParentVersion
	require.ErrorAs(t, err, &epv)
	assert.Equal(t, first, epv.Head)
}

func TestClientSnapshotRoundTrip(t *testing.T) {
	client, _ := newTestPair(t)

	versionID, _, err := client.AddVersion("c1", "", []byte("seg"))
	require.NoError(t, err)

	_, err = client.GetSnapshot("c1")
	assert.ErrorIs(t, err, server.ErrNoSnapshot)

	require.NoError(t, client.AddSnapshot("c1", versionID, []byte("snapshot-bytes")))

	snap, err := client.GetSnapshot("c1")
	require.NoError(t, err)
	assert.Equal(t, versionID, snap.VersionID)
	assert.Equal(t, []byte("snapshot-bytes"), snap.Blob)
}
