// Package sync drives the fetch/push protocol between a replica's TaskDB
// and a Server, transforming the replica's pending operations against
// whatever concurrent operations other replicas have already landed.
//
// Engine.Sync runs synchronously in the caller's goroutine; "Engine" here
// names a type, not a background worker, following the same
// drive-to-completion shape the teacher's own async engine uses for a
// bounded unit of work, just without the goroutine.
package sync

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"

	"github.com/taskchampion/tcgo/crypto"
	"github.com/taskchampion/tcgo/op"
	"github.com/taskchampion/tcgo/server"
	"github.com/taskchampion/tcgo/task"
	"github.com/taskchampion/tcgo/taskdb"
)

// ErrServer wraps a transport or server-side failure. Per spec section 7
// this is retriable at a higher level (the caller may invoke Sync again);
// Sync itself does not retry across ErrServer.
type ErrServer struct{ Err error }

func (e *ErrServer) Error() string { return fmt.Sprintf("sync: server error: %v", e.Err) }
func (e *ErrServer) Unwrap() error { return e.Err }

// Engine holds the per-replica identity needed to seal and unseal history
// segments exchanged with a Server.
type Engine struct {
	ClientID         string
	EncryptionSecret []byte
}

// Sync runs the fetch loop to drain all remote versions newer than this
// replica's last known position, transforming the local pending log
// against each as it lands, then pushes the (transformed) local log if
// non-empty, retrying the fetch/push cycle on a CAS conflict. A successful
// push that the server flags SnapshotHigh always triggers a snapshot upload;
// one flagged SnapshotLow triggers it only if avoidSnapshot is false.
func (e *Engine) Sync(ctx context.Context, db *taskdb.DB, srv server.Server, avoidSnapshot bool) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.fetch(ctx, db, srv); err != nil {
			return err
		}

		pushed, conflict, err := e.push(db, srv, avoidSnapshot)
		if err != nil {
			return err
		}
		if conflict {
			continue
		}
		if pushed {
			// A push can only succeed once the fetch loop has drained the
			// server, so there is nothing left to retry.
		}
		return nil
	}
}

func (e *Engine) fetch(ctx context.Context, db *taskdb.DB, srv server.Server) error {
	base, err := db.LatestVersionID()
	if err != nil {
		return fmt.Errorf("sync: read latest version: %w", err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		ver, err := srv.GetChildVersion(e.ClientID, base)
		if errors.Is(err, server.ErrNoSuchVersion) {
			return nil
		}
		if errors.Is(err, server.ErrGone) {
			if err := e.fetchSnapshot(db, srv); err != nil {
				return err
			}
			base, err = db.LatestVersionID()
			if err != nil {
				return fmt.Errorf("sync: read latest version: %w", err)
			}
			continue
		}
		if err != nil {
			return &ErrServer{Err: err}
		}

		remoteOps, err := e.unsealSegment(ver.ParentVersionID, ver.HistorySegment)
		if err != nil {
			return err
		}
		for i := range remoteOps {
			remoteOps[i].OriginVersion = ver.VersionID
		}

		pending, err := db.AllOperations()
		if err != nil {
			return fmt.Errorf("sync: read pending ops: %w", err)
		}

		transformedPending, transformedRemote, err := transformSequences(pending, remoteOps)
		if err != nil {
			return fmt.Errorf("sync: transform: %w", err)
		}

		if err := db.ApplyRemoteOperations(transformedRemote); err != nil {
			return fmt.Errorf("sync: apply remote ops: %w", err)
		}
		if err := db.ReplaceOperations(transformedPending); err != nil {
			return fmt.Errorf("sync: replace pending ops: %w", err)
		}

		base = ver.VersionID
		if err := db.SetLatestVersionID(base); err != nil {
			return fmt.Errorf("sync: persist latest version: %w", err)
		}
	}
}

// transformSequences transforms every pending operation against every
// remote operation, in order, updating both sides as it goes — the
// standard sequential-transform walk: each pending op is carried forward
// through the whole remote sequence before moving to the next pending op.
func transformSequences(pending, remote []op.Operation) (newPending, newRemote []op.Operation, err error) {
	newRemote = append([]op.Operation(nil), remote...)
	newPending = make([]op.Operation, len(pending))
	for i, la := range pending {
		for j, rb := range newRemote {
			la2, rb2, terr := op.Transform(la, rb)
			if terr != nil {
				return nil, nil, terr
			}
			la = la2
			newRemote[j] = rb2
		}
		newPending[i] = la
	}
	return newPending, newRemote, nil
}

func (e *Engine) push(db *taskdb.DB, srv server.Server, avoidSnapshot bool) (pushed bool, conflict bool, err error) {
	pending, err := db.AllOperations()
	if err != nil {
		return false, false, fmt.Errorf("sync: read pending ops: %w", err)
	}
	if len(pending) == 0 {
		return false, false, nil
	}

	base, err := db.LatestVersionID()
	if err != nil {
		return false, false, fmt.Errorf("sync: read latest version: %w", err)
	}

	sealed, err := e.sealSegment(base, pending)
	if err != nil {
		return false, false, err
	}

	versionID, urgency, err := srv.AddVersion(e.ClientID, base, sealed)
	var epv *server.ErrExpectedParentVersion
	if errors.As(err, &epv) {
		return false, true, nil
	}
	if err != nil {
		return false, false, &ErrServer{Err: err}
	}

	if err := db.ClearOperations(); err != nil {
		return false, false, fmt.Errorf("sync: clear pending ops: %w", err)
	}
	if err := db.SetLatestVersionID(versionID); err != nil {
		return false, false, fmt.Errorf("sync: persist latest version: %w", err)
	}

	if urgency == server.SnapshotHigh || (urgency == server.SnapshotLow && !avoidSnapshot) {
		if err := e.pushSnapshot(db, srv, versionID); err != nil {
			return true, false, err
		}
	}

	return true, false, nil
}

func (e *Engine) unsealSegment(parentVersionID string, sealed []byte) ([]op.Operation, error) {
	plain, err := crypto.OpenSegment(e.EncryptionSecret, e.ClientID, parentVersionID, sealed)
	if err != nil {
		return nil, fmt.Errorf("sync: %w", err)
	}
	ops, err := op.Decode(plain)
	if err != nil {
		return nil, fmt.Errorf("sync: decode history segment: %w", err)
	}
	return ops, nil
}

func (e *Engine) sealSegment(base string, ops []op.Operation) ([]byte, error) {
	plain := op.Encode(ops)
	sealed, err := crypto.SealSegment(e.EncryptionSecret, e.ClientID, base, plain)
	if err != nil {
		return nil, fmt.Errorf("sync: %w", err)
	}
	return sealed, nil
}

func (e *Engine) fetchSnapshot(db *taskdb.DB, srv server.Server) error {
	snap, err := srv.GetSnapshot(e.ClientID)
	if err != nil {
		return &ErrServer{Err: err}
	}
	plain, err := crypto.OpenSnapshot(e.EncryptionSecret, e.ClientID, snap.VersionID, snap.Blob)
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}

	var tasks map[task.UUID]task.Map
	if err := gob.NewDecoder(bytes.NewReader(plain)).Decode(&tasks); err != nil {
		return fmt.Errorf("sync: decode snapshot: %w", err)
	}
	if err := db.ReplaceAllTasks(tasks); err != nil {
		return fmt.Errorf("sync: load snapshot: %w", err)
	}
	if err := db.ReplaceOperations(nil); err != nil {
		return fmt.Errorf("sync: clear pending ops after snapshot load: %w", err)
	}
	return db.SetLatestVersionID(snap.VersionID)
}

func (e *Engine) pushSnapshot(db *taskdb.DB, srv server.Server, versionID string) error {
	tasks, err := db.AllTasks()
	if err != nil {
		return fmt.Errorf("sync: read tasks for snapshot: %w", err)
	}
	byUUID := make(map[task.UUID]task.Map, len(tasks))
	for _, t := range tasks {
		byUUID[t.ID] = t.Map()
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(byUUID); err != nil {
		return fmt.Errorf("sync: encode snapshot: %w", err)
	}

	sealed, err := crypto.SealSnapshot(e.EncryptionSecret, e.ClientID, versionID, buf.Bytes())
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	if err := srv.AddSnapshot(e.ClientID, versionID, sealed); err != nil {
		return &ErrServer{Err: err}
	}
	return db.SetSnapshotVersionID(versionID)
}
