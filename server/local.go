package server

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sync"

	"github.com/taskchampion/tcgo/storage"
)

// Snapshot urgency thresholds: the chain length (number of versions) since
// the last snapshot at which the server starts, then insists, that the
// replica send a fresh one. Fixed per DESIGN.md's resolution of the
// "snapshot cadence" open question; not currently configurable.
const (
	urgencyLowThreshold  = 50
	urgencyHighThreshold = 250
)

// LocalServer is an in-process Server backed by a storage.Engine, suitable
// for a single-replica deployment or for tests that want real CAS
// semantics without a network hop. It can back any number of distinct
// clients; each client's chain is serialized by its own mutex so that
// concurrent AddVersion calls for different clients never block each
// other, while concurrent calls for the *same* client are strictly
// ordered (spec section 5's "each client's chain is serialized by an
// exclusive transaction or equivalent lock").
type LocalServer struct {
	engine storage.Engine

	mu      sync.Mutex
	clients map[string]*sync.Mutex
}

// NewLocalServer returns a LocalServer persisting to engine.
func NewLocalServer(engine storage.Engine) *LocalServer {
	return &LocalServer{engine: engine, clients: make(map[string]*sync.Mutex)}
}

func (s *LocalServer) lockFor(clientID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.clients[clientID]
	if !ok {
		m = &sync.Mutex{}
		s.clients[clientID] = m
	}
	return m
}

// Key layout within the client/ prefix, all scoped under clientID:
//
//	head                -> current chain head VersionID (bytes; empty = nil)
//	oldest              -> oldest retained VersionID (bytes; empty = chain root, nothing pruned)
//	chain_len           -> uint64 versions since the last snapshot
//	snapshot_version_id -> VersionID of the recorded snapshot, if any
//	snapshot_blob       -> snapshot bytes
//	v:<versionID>       -> gob(storedVersion)
//	child:<parentID>    -> versionID whose parent is parentID
func clientField(clientID, field string) []byte {
	return storage.ClientKey(clientID, field)
}

func versionKey(clientID, versionID VersionID) []byte {
	return clientField(clientID, "v:"+versionID)
}

func childKey(clientID, parentID VersionID) []byte {
	return clientField(clientID, "child:"+parentID)
}

// newVersionID derives a version ID deterministically from its contents:
// resubmitting an already-accepted (parent, segment) pair for the same
// client is rejected with an ErrExpectedParentVersion whose Head is the
// same VersionID the first call returned, rather than forking the chain.
// Matches upstream's "versions are referred to with hashes" note.
func newVersionID(clientID string, parentVersionID VersionID, segment []byte) VersionID {
	h := sha256.New()
	h.Write([]byte(clientID))
	h.Write([]byte{0})
	h.Write([]byte(parentVersionID))
	h.Write([]byte{0})
	h.Write(segment)
	return hex.EncodeToString(h.Sum(nil))
}

func (s *LocalServer) head(txn storage.Txn, clientID string) (VersionID, error) {
	raw, err := txn.Get(clientField(clientID, "head"))
	if err == storage.ErrNotFound {
		return NilVersionID, nil
	}
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (s *LocalServer) oldest(txn storage.Txn, clientID string) (VersionID, error) {
	raw, err := txn.Get(clientField(clientID, "oldest"))
	if err == storage.ErrNotFound {
		return NilVersionID, nil
	}
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (s *LocalServer) chainLength(txn storage.Txn, clientID string) (uint64, error) {
	raw, err := txn.Get(clientField(clientID, "chain_len"))
	if err == storage.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(raw), nil
}

func urgencyFor(length uint64) SnapshotUrgency {
	switch {
	case length >= urgencyHighThreshold:
		return SnapshotHigh
	case length >= urgencyLowThreshold:
		return SnapshotLow
	default:
		return SnapshotNone
	}
}

// AddVersion implements the compare-and-swap described in spec section 4.7.
func (s *LocalServer) AddVersion(clientID string, parentVersionID VersionID, historySegment []byte) (VersionID, SnapshotUrgency, error) {
	lock := s.lockFor(clientID)
	lock.Lock()
	defer lock.Unlock()

	txn, err := s.engine.Begin(true)
	if err != nil {
		return "", SnapshotNone, err
	}
	defer txn.Discard()

	head, err := s.head(txn, clientID)
	if err != nil {
		return "", SnapshotNone, err
	}
	if head != parentVersionID {
		return "", SnapshotNone, &ErrExpectedParentVersion{Head: head}
	}

	versionID := newVersionID(clientID, parentVersionID, historySegment)
	stored := storedVersion{ParentVersionID: parentVersionID, HistorySegment: historySegment}
	encoded, err := encodeStoredVersion(stored)
	if err != nil {
		return "", SnapshotNone, err
	}
	if err := txn.Set(versionKey(clientID, versionID), encoded); err != nil {
		return "", SnapshotNone, err
	}
	if err := txn.Set(childKey(clientID, parentVersionID), []byte(versionID)); err != nil {
		return "", SnapshotNone, err
	}
	if err := txn.Set(clientField(clientID, "head"), []byte(versionID)); err != nil {
		return "", SnapshotNone, err
	}

	length, err := s.chainLength(txn, clientID)
	if err != nil {
		return "", SnapshotNone, err
	}
	length++
	lenBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(lenBuf, length)
	if err := txn.Set(clientField(clientID, "chain_len"), lenBuf); err != nil {
		return "", SnapshotNone, err
	}

	if err := txn.Commit(); err != nil {
		return "", SnapshotNone, err
	}
	return versionID, urgencyFor(length), nil
}

// GetChildVersion implements the forward-walk read described in spec
// section 4.7.
func (s *LocalServer) GetChildVersion(clientID string, parentVersionID VersionID) (Version, error) {
	txn, err := s.engine.Begin(false)
	if err != nil {
		return Version{}, err
	}
	defer txn.Discard()

	head, err := s.head(txn, clientID)
	if err != nil {
		return Version{}, err
	}
	if head == parentVersionID {
		return Version{}, ErrNoSuchVersion
	}

	childRaw, err := txn.Get(childKey(clientID, parentVersionID))
	if err == storage.ErrNotFound {
		oldest, err := s.oldest(txn, clientID)
		if err != nil {
			return Version{}, err
		}
		if parentVersionID != NilVersionID && parentVersionID != oldest {
			return Version{}, ErrGone
		}
		return Version{}, ErrNoSuchVersion
	}
	if err != nil {
		return Version{}, err
	}
	childID := string(childRaw)

	raw, err := txn.Get(versionKey(clientID, childID))
	if err != nil {
		return Version{}, err
	}
	stored, err := decodeStoredVersion(raw)
	if err != nil {
		return Version{}, err
	}
	return Version{VersionID: childID, ParentVersionID: stored.ParentVersionID, HistorySegment: stored.HistorySegment}, nil
}

// AddSnapshot implements spec section 4.7: stored only if versionID is the
// current head, silently discarded (not an error) otherwise, since this is
// a best-effort optimization a replica can lose the race on.
func (s *LocalServer) AddSnapshot(clientID string, versionID VersionID, blob []byte) error {
	lock := s.lockFor(clientID)
	lock.Lock()
	defer lock.Unlock()

	txn, err := s.engine.Begin(true)
	if err != nil {
		return err
	}
	defer txn.Discard()

	head, err := s.head(txn, clientID)
	if err != nil {
		return err
	}
	if head != versionID {
		return nil
	}

	if err := txn.Set(clientField(clientID, "snapshot_version_id"), []byte(versionID)); err != nil {
		return err
	}
	if err := txn.Set(clientField(clientID, "snapshot_blob"), blob); err != nil {
		return err
	}
	if err := txn.Set(clientField(clientID, "oldest"), []byte(versionID)); err != nil {
		return err
	}
	if err := txn.Set(clientField(clientID, "chain_len"), make([]byte, 8)); err != nil {
		return err
	}
	return txn.Commit()
}

// GetSnapshot returns clientID's most recent snapshot.
func (s *LocalServer) GetSnapshot(clientID string) (Snapshot, error) {
	txn, err := s.engine.Begin(false)
	if err != nil {
		return Snapshot{}, err
	}
	defer txn.Discard()

	versionRaw, err := txn.Get(clientField(clientID, "snapshot_version_id"))
	if err == storage.ErrNotFound {
		return Snapshot{}, ErrNoSnapshot
	}
	if err != nil {
		return Snapshot{}, err
	}
	blob, err := txn.Get(clientField(clientID, "snapshot_blob"))
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{VersionID: string(versionRaw), Blob: blob}, nil
}
