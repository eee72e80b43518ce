// Package recovery implements the startup recovery sequence: for each
// sample file directory, cross-check on-disk metadata against the
// database, reconcile orphaned files left by a mid-write crash, and
// record a new open.
package recovery

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/moonfire-nvr/moonfire-nvr/internal/metadb"
	"github.com/moonfire-nvr/moonfire-nvr/internal/obs"
	"github.com/moonfire-nvr/moonfire-nvr/internal/sampledir"
	"github.com/moonfire-nvr/moonfire-nvr/pkg/clock"
)

// Result reports what one directory's recovery did, for startup logging
// and the offline consistency checker.
type Result struct {
	DirID          int64
	OpenID         clock.OpenID
	OpenStart      clock.Timestamp90k
	FilesDeleted   []clock.CompositeID
	GarbageDeleted []clock.CompositeID
}

// Open begins recovery of one sample file directory: acquire the
// exclusive lock, read its metadata, and cross-check against the
// database row. Returns storage.KindLocked or storage.KindMismatch
// (wrapped) on failure, both of which are fatal at startup.
func Open(path string, dbRow metadb.SampleFileDir) (*sampledir.Dir, error) {
	d, err := sampledir.Open(path)
	if err != nil {
		return nil, err
	}
	if err := d.VerifyAgainstDB(dbRow.UUID, dbRow.LastCompleteOpenID); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

// Recover reconciles one already-opened directory:
// insert a new open row, write in-progress metadata, then for each
// stream stored in this directory delete on-disk files at or beyond
// next_recording_id and files already listed as garbage.
//
// The directory's own bootstrap UUID (dbRow.UUID) is threaded through to
// Dir.WriteInProgressOpen/PromoteToLastComplete so that a directory's
// on-disk DirUUID always tracks the database row it belongs to; the
// open's own distinct identity lives in the `open` table and the
// metadata file's embedded open record only.
func Recover(ctx context.Context, store *metadb.Store, d *sampledir.Dir, dbRow metadb.SampleFileDir, streams []metadb.Stream, now clock.Timestamp90k, log *obs.Logger) (Result, error) {
	openRow, err := store.CreateOpen(ctx, [16]byte(uuid.New()), now)
	if err != nil {
		return Result{}, fmt.Errorf("recovery: create open row: %w", err)
	}

	if err := d.WriteInProgressOpen(openRow.ID, dbRow.UUID, now); err != nil {
		return Result{}, fmt.Errorf("recovery: write in-progress open metadata: %w", err)
	}

	res := Result{DirID: dbRow.ID, OpenID: openRow.ID, OpenStart: now}

	onDisk, err := d.ListSampleFiles()
	if err != nil {
		return Result{}, fmt.Errorf("recovery: list sample files: %w", err)
	}

	garbage, err := store.ListGarbage(ctx, dbRow.ID)
	if err != nil {
		return Result{}, fmt.Errorf("recovery: list garbage for dir %d: %w", dbRow.ID, err)
	}
	garbageSet := make(map[clock.CompositeID]struct{}, len(garbage))
	for _, id := range garbage {
		garbageSet[id] = struct{}{}
	}

	for _, streamRow := range streams {
		if streamRow.SampleFileDirID != dbRow.ID {
			continue
		}

		for _, id := range onDisk {
			if id.Stream() != streamRow.ID {
				continue
			}
			_, isGarbage := garbageSet[id]
			orphan := id.Seq() >= streamRow.NextRecordingID
			if !orphan && !isGarbage {
				continue
			}
			if err := d.DeleteSampleFile(id); err != nil {
				return Result{}, fmt.Errorf("recovery: delete orphaned file %s: %w", id, err)
			}
			if orphan {
				res.FilesDeleted = append(res.FilesDeleted, id)
			} else {
				res.GarbageDeleted = append(res.GarbageDeleted, id)
			}
			if log != nil {
				log.Component("recovery").Info().
					Str("file", id.String()).
					Bool("orphan", orphan).
					Bool("garbage", isGarbage).
					Msg("deleted on-disk sample file during recovery")
			}
		}
	}

	if err := d.Sync(); err != nil {
		return Result{}, fmt.Errorf("recovery: fsync directory: %w", err)
	}

	return res, nil
}

// PromoteAfterFirstFlush finishes recovery: after the
// scheduled first flush commits (which also removes the garbage rows
// res.GarbageDeleted named), promote the open to last-completed in both
// the directory metadata and the database.
func PromoteAfterFirstFlush(ctx context.Context, store *metadb.Store, d *sampledir.Dir, dbRow metadb.SampleFileDir, res Result, start, end clock.Timestamp90k) error {
	if err := store.SetLastCompleteOpen(ctx, dbRow.ID, res.OpenID); err != nil {
		return fmt.Errorf("recovery: set last-complete open: %w", err)
	}
	if err := d.PromoteToLastComplete(res.OpenID, dbRow.UUID, start, end); err != nil {
		return fmt.Errorf("recovery: promote directory metadata: %w", err)
	}
	return nil
}
