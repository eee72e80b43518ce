// Package sampledir implements the sample file directory: an
// exclusively-locked on-disk store of opaque sample byte blobs keyed by
// composite ID, plus a small crash-safe metadata file. The advisory lock
// uses golang.org/x/sys/unix.
package sampledir

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/moonfire-nvr/moonfire-nvr/internal/storage"
	"github.com/moonfire-nvr/moonfire-nvr/pkg/clock"
)

const metaFileName = "meta"

// Dir is an open, exclusively-locked sample file directory.
type Dir struct {
	path     string
	lockFile *os.File
	meta     *Meta
}

// Open acquires the exclusive advisory lock on path, reads and parses its
// metadata file, and returns a handle. Fails with storage.KindLocked if
// another process holds the lock, storage.KindCorrupt if the metadata
// file is malformed.
func Open(path string) (*Dir, error) {
	lockFile, err := os.OpenFile(filepath.Join(path, ".lock"), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := unix.Flock(int(lockFile.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		lockFile.Close()
		return nil, storage.Wrap(storage.KindLocked, fmt.Sprintf("sample file directory %s is locked by another process", path), err)
	}

	d := &Dir{path: path, lockFile: lockFile}

	metaPath := filepath.Join(path, metaFileName)
	data, err := os.ReadFile(metaPath)
	if os.IsNotExist(err) {
		return d, nil
	}
	if err != nil {
		d.unlock()
		return nil, fmt.Errorf("read meta file: %w", err)
	}

	meta, err := unmarshalMeta(data)
	if err != nil {
		d.unlock()
		return nil, err
	}
	d.meta = meta
	return d, nil
}

func (d *Dir) unlock() {
	unix.Flock(int(d.lockFile.Fd()), unix.LOCK_UN) //nolint:errcheck
	d.lockFile.Close()
}

// Close releases the directory's advisory lock.
func (d *Dir) Close() error {
	d.unlock()
	return nil
}

// Meta returns the directory's parsed metadata, or nil if it has never
// been initialized (a brand-new directory).
func (d *Dir) Meta() *Meta { return d.meta }

// VerifyAgainstDB cross-checks this directory's metadata against the
// database row for it, as required by the Open contract: "fails with...
// Mismatch (UUID or last-open id does not match DB)".
func (d *Dir) VerifyAgainstDB(dbUUID [16]byte, dbLastCompleteOpenID *clock.OpenID) error {
	if d.meta == nil {
		return nil
	}
	if d.meta.DirUUID != dbUUID {
		return storage.New(storage.KindMismatch, "sample file directory UUID does not match database")
	}
	switch {
	case dbLastCompleteOpenID == nil && d.meta.LastComplete != nil:
		return storage.New(storage.KindMismatch, "directory has a completed open the database does not know about")
	case dbLastCompleteOpenID != nil && d.meta.LastComplete == nil:
		return storage.New(storage.KindMismatch, "database expects a completed open the directory does not have")
	case dbLastCompleteOpenID != nil && d.meta.LastComplete != nil && *dbLastCompleteOpenID != d.meta.LastComplete.ID:
		return storage.New(storage.KindMismatch, "directory's last-completed open does not match database")
	}
	return nil
}

// WriteInProgressOpen performs the first half of the open protocol: write new
// metadata with "in-progress open = X", retaining the prior
// last-completed-open record, then fsync.
func (d *Dir) WriteInProgressOpen(id clock.OpenID, uuid [16]byte, start clock.Timestamp90k) error {
	m := &Meta{InProgress: &openRecord{ID: id, UUID: uuid, Start: start}}
	if d.meta != nil {
		m.DirUUID = d.meta.DirUUID
		m.LastComplete = d.meta.LastComplete
	} else {
		m.DirUUID = uuid
	}
	if err := d.writeMeta(m); err != nil {
		return err
	}
	d.meta = m
	return nil
}

// PromoteToLastComplete performs the second half of the open protocol: after
// the first successful flush following an open, rewrite metadata with
// "last-completed open = X" and no in-progress field, then fsync.
func (d *Dir) PromoteToLastComplete(id clock.OpenID, uuid [16]byte, start, end clock.Timestamp90k) error {
	m := &Meta{
		DirUUID:      uuid,
		LastComplete: &openRecord{ID: id, UUID: uuid, Start: start, End: end},
	}
	if d.meta != nil {
		m.DirUUID = d.meta.DirUUID
	}
	if err := d.writeMeta(m); err != nil {
		return err
	}
	d.meta = m
	return nil
}

func (d *Dir) writeMeta(m *Meta) error {
	data := marshalMeta(m)
	tmpPath := filepath.Join(d.path, metaFileName+".tmp")
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write meta tmp file: %w", err)
	}
	f, err := os.Open(tmpPath)
	if err != nil {
		return fmt.Errorf("reopen meta tmp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("fsync meta tmp file: %w", err)
	}
	f.Close()
	if err := os.Rename(tmpPath, filepath.Join(d.path, metaFileName)); err != nil {
		return fmt.Errorf("rename meta file into place: %w", err)
	}
	return nil
}

// sampleFileName returns the fixed-width hex file name for id.
func sampleFileName(id clock.CompositeID) string { return id.String() }

// CreateSampleFile returns a new file, open for append and positioned at
// 0, for the given composite ID. Fsync of its contents is the caller's
// responsibility.
func (d *Dir) CreateSampleFile(id clock.CompositeID) (*os.File, error) {
	path := filepath.Join(d.path, sampleFileName(id))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create sample file %s: %w", sampleFileName(id), err)
	}
	return f, nil
}

// OpenSampleFile opens an existing sample file for reading, used by the
// MP4 builder and playback index to satisfy byte-range reads.
func (d *Dir) OpenSampleFile(id clock.CompositeID) (*os.File, error) {
	path := filepath.Join(d.path, sampleFileName(id))
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sample file %s: %w", sampleFileName(id), err)
	}
	return f, nil
}

// DeleteSampleFile unlinks the sample file for id, tolerating it already
// being absent.
func (d *Dir) DeleteSampleFile(id clock.CompositeID) error {
	path := filepath.Join(d.path, sampleFileName(id))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete sample file %s: %w", sampleFileName(id), err)
	}
	return nil
}

// Sync fsyncs the directory itself, making prior unlinks and creates
// durable.
func (d *Dir) Sync() error {
	f, err := os.Open(d.path)
	if err != nil {
		return fmt.Errorf("open directory for fsync: %w", err)
	}
	defer f.Close()
	if err := f.Sync(); err != nil {
		return fmt.Errorf("fsync directory: %w", err)
	}
	return nil
}

// Path returns the directory's filesystem path.
func (d *Dir) Path() string { return d.path }

// ListSampleFiles returns the composite IDs of every sample file present
// on disk, skipping the lock and meta files. Used by startup recovery
// to find orphaned files left by a crash mid-write.
func (d *Dir) ListSampleFiles() ([]clock.CompositeID, error) {
	entries, err := os.ReadDir(d.path)
	if err != nil {
		return nil, fmt.Errorf("list sample file directory: %w", err)
	}
	var out []clock.CompositeID
	for _, e := range entries {
		if e.IsDir() || e.Name() == metaFileName || e.Name() == metaFileName+".tmp" || e.Name() == ".lock" {
			continue
		}
		var raw uint64
		if _, err := fmt.Sscanf(e.Name(), "%016x", &raw); err != nil {
			continue
		}
		out = append(out, clock.CompositeID(raw))
	}
	return out, nil
}
