package taskdb

import (
	"github.com/taskchampion/tcgo/op"
	"github.com/taskchampion/tcgo/storage"
)

var (
	metaKeyLatestVersionID   = storage.MetaKey("latest_version_id")
	metaKeySnapshotVersionID = storage.MetaKey("snapshot_version_id")
)

// LatestVersionID returns the last server version this replica has
// advanced to, or the empty string if it has never synced.
func (db *DB) LatestVersionID() (string, error) {
	txn, err := db.engine.Begin(false)
	if err != nil {
		return "", err
	}
	defer txn.Discard()

	raw, err := txn.Get(metaKeyLatestVersionID)
	if err == storage.ErrNotFound {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// SetLatestVersionID persists the replica's sync position.
func (db *DB) SetLatestVersionID(versionID string) error {
	txn, err := db.engine.Begin(true)
	if err != nil {
		return err
	}
	defer txn.Discard()
	if err := txn.Set(metaKeyLatestVersionID, []byte(versionID)); err != nil {
		return err
	}
	return txn.Commit()
}

// SnapshotVersionID returns the version ID this replica last sent a
// snapshot for, or "" if it never has.
func (db *DB) SnapshotVersionID() (string, error) {
	txn, err := db.engine.Begin(false)
	if err != nil {
		return "", err
	}
	defer txn.Discard()

	raw, err := txn.Get(metaKeySnapshotVersionID)
	if err == storage.ErrNotFound {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// SetSnapshotVersionID records that this replica has sent a snapshot at
// versionID.
func (db *DB) SetSnapshotVersionID(versionID string) error {
	txn, err := db.engine.Begin(true)
	if err != nil {
		return err
	}
	defer txn.Discard()
	if err := txn.Set(metaKeySnapshotVersionID, []byte(versionID)); err != nil {
		return err
	}
	return txn.Commit()
}

// ApplyRemoteOperations applies a sequence of already-transformed remote
// operations to the task map and working set without appending them to the
// local pending log (they came from the server, not from this replica's
// own edits).
func (db *DB) ApplyRemoteOperations(ops []op.Operation) error {
	if len(ops) == 0 {
		return nil
	}
	txn, err := db.engine.Begin(true)
	if err != nil {
		return err
	}
	defer txn.Discard()

	for _, o := range ops {
		if err := mutateState(txn, o); err != nil {
			return err
		}
	}
	if err := txn.Commit(); err != nil {
		return err
	}
	db.depCacheValid = false
	return nil
}
