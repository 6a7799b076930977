package taskdb

import (
	"bytes"
	"encoding/gob"

	"github.com/taskchampion/tcgo/internal/bufpool"
	"github.com/taskchampion/tcgo/op"
	"github.com/taskchampion/tcgo/task"
)

func encodeMap(m task.Map) ([]byte, error) {
	buf := bufpool.GetBuffer()
	defer bufpool.PutBuffer(buf)
	if err := gob.NewEncoder(buf).Encode(m); err != nil {
		return nil, err
	}
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

func decodeMap(data []byte) (task.Map, error) {
	var m task.Map
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&m); err != nil {
		return nil, err
	}
	return m, nil
}

// gobOperation mirrors op.Operation with only gob-friendly fields (gob
// cannot encode the *string pointers directly without registering them, so
// OldValue/NewValue travel as (bool present, string value) pairs).
type gobOperation struct {
	Kind             op.Kind
	UUID             task.UUID
	OldTaskMap       task.Map
	Property         string
	HasOldValue      bool
	OldValue         string
	HasNewValue      bool
	NewValue         string
	TimestampUnixSec int64
	OriginVersion    string
}

func toGob(o op.Operation) gobOperation {
	g := gobOperation{
		Kind:          o.Kind,
		UUID:          o.UUID,
		OldTaskMap:    o.OldTaskMap,
		Property:      o.Property,
		OriginVersion: o.OriginVersion,
	}
	if o.OldValue != nil {
		g.HasOldValue = true
		g.OldValue = *o.OldValue
	}
	if o.NewValue != nil {
		g.HasNewValue = true
		g.NewValue = *o.NewValue
	}
	if !o.Timestamp.IsZero() {
		g.TimestampUnixSec = o.Timestamp.Unix()
	}
	return g
}

func fromGob(g gobOperation) op.Operation {
	o := op.Operation{
		Kind:          g.Kind,
		UUID:          g.UUID,
		OldTaskMap:    g.OldTaskMap,
		Property:      g.Property,
		OriginVersion: g.OriginVersion,
	}
	if g.HasOldValue {
		o.OldValue = op.Ptr(g.OldValue)
	}
	if g.HasNewValue {
		o.NewValue = op.Ptr(g.NewValue)
	}
	if g.TimestampUnixSec != 0 {
		o.Timestamp = unixSec(g.TimestampUnixSec)
	}
	return o
}

func encodeOperation(o op.Operation) ([]byte, error) {
	buf := bufpool.GetBuffer()
	defer bufpool.PutBuffer(buf)
	if err := gob.NewEncoder(buf).Encode(toGob(o)); err != nil {
		return nil, err
	}
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

func decodeOperation(data []byte) (op.Operation, error) {
	var g gobOperation
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&g); err != nil {
		return op.Operation{}, err
	}
	return fromGob(g), nil
}
