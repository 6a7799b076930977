// Package bufpool pools the bytes.Buffer values taskdb stages gob-encoded
// task maps and operations in before they're written to storage, and the
// byte slices crypto assembles sealed envelopes in. Narrowed
// from the teacher's pkg/pool, which also pools row/node/map slices that
// have no counterpart in this module's data paths.
package bufpool

import (
	"bytes"
	"sync"
)

const maxPooledCap = 1 << 20 // 1MiB; larger buffers are discarded rather than retained

var bytesPool = sync.Pool{
	New: func() any {
		return make([]byte, 0, 1024)
	},
}

// Get returns a zero-length byte slice, possibly reused.
func Get() []byte {
	return bytesPool.Get().([]byte)[:0]
}

// Put returns buf to the pool. Buffers larger than 1MiB are dropped
// rather than retained, so one oversized payload doesn't pin memory.
func Put(buf []byte) {
	if cap(buf) > maxPooledCap {
		return
	}
	bytesPool.Put(buf[:0]) //nolint:staticcheck // intentional reuse of backing array
}

var bufferPool = sync.Pool{
	New: func() any {
		return new(bytes.Buffer)
	},
}

// GetBuffer returns a reset *bytes.Buffer, possibly reused.
func GetBuffer() *bytes.Buffer {
	return bufferPool.Get().(*bytes.Buffer)
}

// PutBuffer resets buf and returns it to the pool. Buffers that grew
// past 1MiB are dropped rather than retained.
func PutBuffer(buf *bytes.Buffer) {
	if buf.Cap() > maxPooledCap {
		return
	}
	buf.Reset()
	bufferPool.Put(buf)
}
