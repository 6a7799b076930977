package op

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskchampion/tcgo/task"
)

func TestApplyCreateUpdateDelete(t *testing.T) {
	m, exists, err := Apply(false, nil, Create("u1"))
	require.NoError(t, err)
	require.True(t, exists)
	assert.Empty(t, m)

	m, exists, err = Apply(true, m, Update("u1", task.PropDescription, nil, Ptr("milk"), time.Now()))
	require.NoError(t, err)
	require.True(t, exists)
	assert.Equal(t, "milk", m[task.PropDescription])

	m, exists, err = Apply(true, m, Delete("u1", m))
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Nil(t, m)
}

func TestApplyDeleteAlreadyGoneIsNoop(t *testing.T) {
	_, exists, err := Apply(false, nil, Delete("u1", nil))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestTransformIndependentUUIDs(t *testing.T) {
	a := Create("u1")
	b := Create("u2")
	a2, b2, err := Transform(a, b)
	require.NoError(t, err)
	assert.Equal(t, a, a2)
	assert.Equal(t, b, b2)
}

func TestTransformUpdateUpdateLaterTimestampWins(t *testing.T) {
	t1 := time.Unix(100, 0)
	t2 := time.Unix(200, 0)
	a := Update("u1", task.PropDescription, nil, Ptr("oat milk"), t1)
	b := Update("u1", task.PropDescription, nil, Ptr("soy milk"), t2)

	a2, b2, err := Transform(a, b)
	require.NoError(t, err)
	assert.Equal(t, "soy milk", *a2.NewValue)
	assert.Equal(t, "soy milk", *b2.NewValue)
}

func TestTransformUpdateVsDeleteDominates(t *testing.T) {
	u := Update("u1", task.PropDescription, nil, Ptr("modified"), time.Now())
	d := Delete("u1", task.Map{task.PropDescription: "original"})

	u2, d2, err := Transform(u, d)
	require.NoError(t, err)
	assert.True(t, u2.IsUndoPoint())
	assert.Equal(t, "modified", d2.OldTaskMap[task.PropDescription])
}

func TestTransformDeleteDeleteIdempotent(t *testing.T) {
	d1 := Delete("u1", task.Map{"a": "1"})
	d2 := Delete("u1", task.Map{"b": "2"})

	r1, r2, err := Transform(d1, d2)
	require.NoError(t, err)
	assert.True(t, r2.IsUndoPoint())
	assert.Equal(t, "1", r1.OldTaskMap["a"])
	assert.Equal(t, "2", r1.OldTaskMap["b"])
}

func TestTransformDiamond(t *testing.T) {
	// Property 2 from spec section 8: applying a then b' equals applying b then a'.
	base := task.Map{task.PropDescription: "x"}
	a := Update("u1", task.PropDescription, nil, Ptr("from-a"), time.Unix(1, 0))
	b := Update("u1", task.PropDescription, nil, Ptr("from-b"), time.Unix(2, 0))

	a2, b2, err := Transform(a, b)
	require.NoError(t, err)

	left, _, err := Apply(true, base, a)
	require.NoError(t, err)
	left, _, err = Apply(true, left, b2)
	require.NoError(t, err)

	right, _, err := Apply(true, base, b)
	require.NoError(t, err)
	right, _, err = Apply(true, right, a2)
	require.NoError(t, err)

	assert.Equal(t, left, right)
}

func TestCodecRoundTrip(t *testing.T) {
	ops := []Operation{
		Create("u1"),
		Update("u1", task.PropDescription, nil, Ptr("milk"), time.Unix(1700000000, 0).UTC()),
		UndoPointOp(),
		Delete("u1", task.Map{task.PropDescription: "milk"}),
	}
	wire := Encode(ops)
	decoded, err := Decode(wire)
	require.NoError(t, err)
	require.Len(t, decoded, len(ops))
	for i := range ops {
		assert.Equal(t, ops[i].Kind, decoded[i].Kind)
		assert.Equal(t, ops[i].UUID, decoded[i].UUID)
	}
	assert.Equal(t, "milk", *decoded[1].NewValue)
	assert.True(t, decoded[1].Timestamp.Equal(ops[1].Timestamp))
	assert.Equal(t, "milk", decoded[3].OldTaskMap[task.PropDescription])
}

func TestCodecEmptySegment(t *testing.T) {
	wire := Encode(nil)
	assert.Empty(t, wire)
	ops, err := Decode(wire)
	require.NoError(t, err)
	assert.Empty(t, ops)
}
