package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSegmentRoundTrip(t *testing.T) {
	secret := []byte("replica-secret")
	sealed, err := SealSegment(secret, "client-1", "v42", []byte("hello segment"))
	require.NoError(t, err)
	assert.Equal(t, versionSegment, sealed[0])

	plain, err := OpenSegment(secret, "client-1", "v42", sealed)
	require.NoError(t, err)
	assert.Equal(t, "hello segment", string(plain))
}

func TestSnapshotRoundTrip(t *testing.T) {
	secret := []byte("replica-secret")
	sealed, err := SealSnapshot(secret, "client-1", "v42", []byte("hello snapshot"))
	require.NoError(t, err)
	assert.Equal(t, versionSnapshot, sealed[0])

	plain, err := OpenSnapshot(secret, "client-1", "v42", sealed)
	require.NoError(t, err)
	assert.Equal(t, "hello snapshot", string(plain))
}

func TestWrongSecretFailsAsOutOfSync(t *testing.T) {
	sealed, err := SealSegment([]byte("right-secret"), "client-1", "v1", []byte("data"))
	require.NoError(t, err)

	_, err = OpenSegment([]byte("wrong-secret"), "client-1", "v1", sealed)
	assert.ErrorIs(t, err, ErrOutOfSync)
}

func TestMismatchedContextFailsAsOutOfSync(t *testing.T) {
	secret := []byte("replica-secret")
	sealed, err := SealSegment(secret, "client-1", "v1", []byte("data"))
	require.NoError(t, err)

	_, err = OpenSegment(secret, "client-1", "v2", sealed)
	assert.ErrorIs(t, err, ErrOutOfSync)

	_, err = OpenSegment(secret, "client-2", "v1", sealed)
	assert.ErrorIs(t, err, ErrOutOfSync)
}

func TestBitFlipFailsAsOutOfSync(t *testing.T) {
	secret := []byte("replica-secret")
	sealed, err := SealSegment(secret, "client-1", "v1", []byte("data"))
	require.NoError(t, err)

	flipped := append([]byte(nil), sealed...)
	flipped[len(flipped)-1] ^= 0x01

	_, err = OpenSegment(secret, "client-1", "v1", flipped)
	assert.ErrorIs(t, err, ErrOutOfSync)
}

func TestWrongVersionByteFailsAsOutOfSync(t *testing.T) {
	secret := []byte("replica-secret")
	sealed, err := SealSnapshot(secret, "client-1", "v1", []byte("data"))
	require.NoError(t, err)

	_, err = OpenSegment(secret, "client-1", "v1", sealed)
	assert.ErrorIs(t, err, ErrOutOfSync)
}
