package server

import (
	"bytes"
	"encoding/gob"
)

type storedVersion struct {
	ParentVersionID VersionID
	HistorySegment  []byte
}

func encodeStoredVersion(v storedVersion) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeStoredVersion(data []byte) (storedVersion, error) {
	var v storedVersion
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&v); err != nil {
		return storedVersion{}, err
	}
	return v, nil
}
