package op

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/taskchampion/tcgo/task"
)

// Wire tags for the history-segment format in spec section 6.
const (
	tagCreate    = 'C'
	tagDelete    = 'D'
	tagUpdate    = 'U'
	tagUndoPoint = 'P'
)

// Encode serializes a sequence of operations into the plaintext
// history-segment wire format: a tag byte per operation, length-prefixed
// UTF-8 strings, big-endian signed 64-bit timestamps.
func Encode(ops []Operation) []byte {
	var buf bytes.Buffer
	buf.Grow(64 * len(ops))
	for _, o := range ops {
		encodeOne(&buf, o)
	}
	return buf.Bytes()
}

func encodeOne(buf *bytes.Buffer, o Operation) {
	switch o.Kind {
	case KindCreate:
		buf.WriteByte(tagCreate)
		writeString(buf, o.UUID)

	case KindDelete:
		buf.WriteByte(tagDelete)
		writeString(buf, o.UUID)
		writeTaskMap(buf, o.OldTaskMap)

	case KindUpdate:
		buf.WriteByte(tagUpdate)
		writeString(buf, o.UUID)
		writeString(buf, o.Property)
		writeOptString(buf, o.OldValue)
		writeOptString(buf, o.NewValue)
		var ts int64
		if !o.Timestamp.IsZero() {
			ts = o.Timestamp.Unix()
		}
		var tsBuf [8]byte
		binary.BigEndian.PutUint64(tsBuf[:], uint64(ts))
		buf.Write(tsBuf[:])

	case KindUndoPoint:
		buf.WriteByte(tagUndoPoint)
	}
}

// Decode parses a history segment produced by Encode.
func Decode(data []byte) ([]Operation, error) {
	r := bytes.NewReader(data)
	var ops []Operation
	for r.Len() > 0 {
		tagByte, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		o, err := decodeOne(r, tagByte)
		if err != nil {
			return nil, fmt.Errorf("op: decode: %w", err)
		}
		ops = append(ops, o)
	}
	return ops, nil
}

func decodeOne(r *bytes.Reader, tagByte byte) (Operation, error) {
	switch tagByte {
	case tagCreate:
		uuid, err := readString(r)
		if err != nil {
			return Operation{}, err
		}
		return Create(uuid), nil

	case tagDelete:
		uuid, err := readString(r)
		if err != nil {
			return Operation{}, err
		}
		m, err := readTaskMap(r)
		if err != nil {
			return Operation{}, err
		}
		return Delete(uuid, m), nil

	case tagUpdate:
		uuid, err := readString(r)
		if err != nil {
			return Operation{}, err
		}
		prop, err := readString(r)
		if err != nil {
			return Operation{}, err
		}
		oldVal, err := readOptString(r)
		if err != nil {
			return Operation{}, err
		}
		newVal, err := readOptString(r)
		if err != nil {
			return Operation{}, err
		}
		var tsBuf [8]byte
		if _, err := io.ReadFull(r, tsBuf[:]); err != nil {
			return Operation{}, err
		}
		ts := int64(binary.BigEndian.Uint64(tsBuf[:]))
		return Update(uuid, prop, oldVal, newVal, unixOrZero(ts)), nil

	case tagUndoPoint:
		return UndoPointOp(), nil

	default:
		return Operation{}, fmt.Errorf("op: unknown wire tag %q", tagByte)
	}
}

func writeString(buf *bytes.Buffer, s string) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s)))
	buf.Write(lenBuf[:])
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return "", err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

// writeOptString writes a presence byte (0/1) followed by the string if
// present, encoding "new_value = none" (unset) per spec section 3.
func writeOptString(buf *bytes.Buffer, s *string) {
	if s == nil {
		buf.WriteByte(0)
		return
	}
	buf.WriteByte(1)
	writeString(buf, *s)
}

func readOptString(r *bytes.Reader) (*string, error) {
	present, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if present == 0 {
		return nil, nil
	}
	s, err := readString(r)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func writeTaskMap(buf *bytes.Buffer, m task.Map) {
	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(m)))
	buf.Write(countBuf[:])
	for k, v := range m {
		writeString(buf, k)
		writeString(buf, v)
	}
}

func readTaskMap(r *bytes.Reader) (task.Map, error) {
	var countBuf [4]byte
	if _, err := io.ReadFull(r, countBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(countBuf[:])
	m := make(task.Map, n)
	for i := uint32(0); i < n; i++ {
		k, err := readString(r)
		if err != nil {
			return nil, err
		}
		v, err := readString(r)
		if err != nil {
			return nil, err
		}
		m[k] = v
	}
	return m, nil
}

// unixOrZero converts a wire-format epoch seconds value back into a
// time.Time, treating 0 as the zero Timestamp (an Update whose Timestamp
// was never set encodes as 0; no other kind carries a timestamp).
func unixOrZero(ts int64) time.Time {
	if ts == 0 {
		return time.Time{}
	}
	return time.Unix(ts, 0).UTC()
}
