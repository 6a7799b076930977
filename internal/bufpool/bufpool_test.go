package bufpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetReturnsZeroLengthSlice(t *testing.T) {
	buf := Get()
	assert.Len(t, buf, 0)
	buf = append(buf, 1, 2, 3)
	Put(buf)

	reused := Get()
	assert.Len(t, reused, 0)
}

func TestPutDiscardsOversizedSlice(t *testing.T) {
	huge := make([]byte, 0, maxPooledCap+1)
	assert.NotPanics(t, func() { Put(huge) })
}

func TestGetBufferRoundTrip(t *testing.T) {
	buf := GetBuffer()
	assert.Equal(t, 0, buf.Len())
	buf.WriteString("hello")
	PutBuffer(buf)

	reused := GetBuffer()
	assert.Equal(t, 0, reused.Len())
}
