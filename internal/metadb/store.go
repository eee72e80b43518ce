// Package metadb is the metadata store: a transactional relational
// schema over recordings, streams, directories, opens, garbage rows, and
// video sample entries, backed by modernc.org/sqlite in WAL mode. All
// row writes funnel through CommitBatch; there are no ad hoc writes
// outside startup recovery.
package metadb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/moonfire-nvr/moonfire-nvr/internal/storage"
	"github.com/moonfire-nvr/moonfire-nvr/pkg/clock"
)

// Store wraps the metadata database handle. Exactly one writer (the
// flush scheduler) and N readers use it concurrently; sqlite's WAL mode
// and a single *sql.DB connection pool provide the serialization.
type Store struct {
	db *sql.DB
}

// NewStore opens (creating if necessary) the sqlite database at path,
// enables WAL mode, and checks the schema version.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open metadata db: %w", err)
	}

	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(schemaDDL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	var count int
	if err := s.db.QueryRow(`SELECT count(*) FROM schema_meta`).Scan(&count); err != nil {
		return fmt.Errorf("read schema_meta: %w", err)
	}
	if count == 0 {
		if _, err := s.db.Exec(`INSERT INTO schema_meta (version) VALUES (?)`, schemaVersion); err != nil {
			return fmt.Errorf("seed schema_meta: %w", err)
		}
		return nil
	}

	var version int
	if err := s.db.QueryRow(`SELECT version FROM schema_meta`).Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return storage.New(storage.KindMismatch,
			fmt.Sprintf("incompatible schema version %d (want %d)", version, schemaVersion))
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// CreateOpen inserts a new open row and returns it, the first step of
// startup recovery.
func (s *Store) CreateOpen(ctx context.Context, uuid [16]byte, start clock.Timestamp90k) (Open, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO open (uuid, start_time_90k) VALUES (?, ?)`, uuid[:], int64(start))
	if err != nil {
		return Open{}, fmt.Errorf("insert open: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Open{}, fmt.Errorf("open insert id: %w", err)
	}
	return Open{ID: clock.OpenID(id), UUID: uuid, StartTime: start}, nil
}

// CompleteOpen marks an open as finished, recording its end time and
// duration.
func (s *Store) CompleteOpen(ctx context.Context, id clock.OpenID, end clock.Timestamp90k, dur clock.Duration90k) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE open SET end_time_90k = ?, duration_90k = ? WHERE id = ?`,
		int64(end), int64(dur), int64(id))
	if err != nil {
		return fmt.Errorf("complete open: %w", err)
	}
	return nil
}

// UpsertSampleFileDir returns the existing row for path, or creates one
// with the given UUID if none exists.
func (s *Store) UpsertSampleFileDir(ctx context.Context, path string, uuid [16]byte) (SampleFileDir, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, uuid, last_complete_open_id FROM sample_file_dir WHERE path = ?`, path)
	var d SampleFileDir
	var storedUUID []byte
	var lastOpen sql.NullInt64
	err := row.Scan(&d.ID, &storedUUID, &lastOpen)
	if err == nil {
		d.Path = path
		copy(d.UUID[:], storedUUID)
		if lastOpen.Valid {
			v := clock.OpenID(lastOpen.Int64)
			d.LastCompleteOpenID = &v
		}
		return d, nil
	}
	if err != sql.ErrNoRows {
		return SampleFileDir{}, fmt.Errorf("lookup sample_file_dir: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sample_file_dir (path, uuid) VALUES (?, ?)`, path, uuid[:])
	if err != nil {
		return SampleFileDir{}, fmt.Errorf("insert sample_file_dir: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return SampleFileDir{}, fmt.Errorf("sample_file_dir insert id: %w", err)
	}
	return SampleFileDir{ID: id, Path: path, UUID: uuid}, nil
}

// UpsertCamera idempotently ensures a camera row exists for uuid,
// returning its id. Cameras are identified by UUID rather than name so
// config-file renames don't orphan their streams' history.
func (s *Store) UpsertCamera(ctx context.Context, uuid [16]byte, shortName string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM camera WHERE uuid = ?`, uuid[:]).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("lookup camera: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO camera (uuid, short_name) VALUES (?, ?)`, uuid[:], shortName)
	if err != nil {
		return 0, fmt.Errorf("insert camera: %w", err)
	}
	return res.LastInsertId()
}

// UpsertStream idempotently ensures a (camera, type) stream row exists,
// applying the config file's policy fields (retain_bytes, flush_if_sec,
// rtsp_url, record) on every call so a changed config takes effect without
// disturbing next_recording_id. Returns the stream's id.
func (s *Store) UpsertStream(ctx context.Context, cameraID int64, streamType string, dirID int64, rtspURL string, retainBytes, flushIfSec int64, record bool) (clock.StreamID, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM stream WHERE camera_id = ? AND type = ?`, cameraID, streamType).Scan(&id)
	if err == nil {
		_, err = s.db.ExecContext(ctx, `
			UPDATE stream SET sample_file_dir_id = ?, rtsp_url = ?, retain_bytes = ?, flush_if_sec = ?, record = ?
			WHERE id = ?`, dirID, rtspURL, retainBytes, flushIfSec, record, id)
		if err != nil {
			return 0, fmt.Errorf("update stream: %w", err)
		}
		return clock.StreamID(id), nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("lookup stream: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO stream (camera_id, type, sample_file_dir_id, rtsp_url, retain_bytes, flush_if_sec, record)
		VALUES (?, ?, ?, ?, ?, ?, ?)`, cameraID, streamType, dirID, rtspURL, retainBytes, flushIfSec, record)
	if err != nil {
		return 0, fmt.Errorf("insert stream: %w", err)
	}
	newID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("stream insert id: %w", err)
	}
	return clock.StreamID(newID), nil
}

// SetLastCompleteOpen records that openID is the last completed open for
// dirID.
func (s *Store) SetLastCompleteOpen(ctx context.Context, dirID int64, openID clock.OpenID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sample_file_dir SET last_complete_open_id = ? WHERE id = ?`, int64(openID), dirID)
	if err != nil {
		return fmt.Errorf("set last complete open: %w", err)
	}
	return nil
}

// ListStreams returns every configured stream row.
func (s *Store) ListStreams(ctx context.Context) ([]Stream, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, camera_id, type, sample_file_dir_id, rtsp_url, retain_bytes, flush_if_sec, next_recording_id, record FROM stream`)
	if err != nil {
		return nil, fmt.Errorf("list streams: %w", err)
	}
	defer rows.Close()

	var out []Stream
	for rows.Next() {
		var st Stream
		var record int
		if err := rows.Scan(&st.ID, &st.CameraID, &st.Type, &st.SampleFileDirID, &st.RTSPURL,
			&st.RetainBytes, &st.FlushIfSec, &st.NextRecordingID, &record); err != nil {
			return nil, fmt.Errorf("scan stream: %w", err)
		}
		st.Record = record != 0
		out = append(out, st)
	}
	return out, rows.Err()
}

// StreamByCameraUUID resolves the (camera UUID, stream type) pair named
// by the HTTP collaborator's `/api/cameras/<uuid>/<stream>/...` path
// to a stream row.
func (s *Store) StreamByCameraUUID(ctx context.Context, cameraUUID [16]byte, streamType string) (Stream, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT stream.id, stream.camera_id, stream.type, stream.sample_file_dir_id, stream.rtsp_url,
		       stream.retain_bytes, stream.flush_if_sec, stream.next_recording_id, stream.record
		FROM stream JOIN camera ON camera.id = stream.camera_id
		WHERE camera.uuid = ? AND stream.type = ?`, cameraUUID[:], streamType)

	var st Stream
	var record int
	err := row.Scan(&st.ID, &st.CameraID, &st.Type, &st.SampleFileDirID, &st.RTSPURL,
		&st.RetainBytes, &st.FlushIfSec, &st.NextRecordingID, &record)
	if err == sql.ErrNoRows {
		return Stream{}, storage.New(storage.KindMismatch, fmt.Sprintf("no stream %q for camera %x", streamType, cameraUUID))
	}
	if err != nil {
		return Stream{}, fmt.Errorf("lookup stream by camera uuid: %w", err)
	}
	st.Record = record != 0
	return st, nil
}

// InsertVideoSampleEntry inserts entry if its SHA-1 is new, or returns the
// id of the existing row with that content hash.
func (s *Store) InsertVideoSampleEntry(ctx context.Context, entry VideoSampleEntry) (int64, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO video_sample_entry (sha1, width, height, rfc6381_codec, data)
		 VALUES (?, ?, ?, ?, ?) ON CONFLICT (sha1) DO NOTHING`,
		entry.SHA1[:], entry.Width, entry.Height, entry.RFC6381Codec, entry.Data)
	if err != nil {
		return 0, fmt.Errorf("insert video_sample_entry: %w", err)
	}
	var id int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT id FROM video_sample_entry WHERE sha1 = ?`, entry.SHA1[:]).Scan(&id); err != nil {
		return 0, fmt.Errorf("lookup video_sample_entry: %w", err)
	}
	return id, nil
}

// LookupPlayback returns the sample index blob for a committed recording.
func (s *Store) LookupPlayback(ctx context.Context, id clock.CompositeID) ([]byte, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT sample_index FROM recording_playback WHERE composite_id = ?`, int64(id)).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, storage.New(storage.KindMismatch, fmt.Sprintf("no playback row for recording %s", id))
	}
	if err != nil {
		return nil, fmt.Errorf("lookup playback: %w", err)
	}
	return blob, nil
}

// GetRecording returns a single committed recording row by composite ID,
// for playback segment resolution.
func (s *Store) GetRecording(ctx context.Context, id clock.CompositeID) (Recording, error) {
	var r Recording
	err := s.db.QueryRowContext(ctx, `
		SELECT composite_id, stream_id, open_id, run_offset, flags, sample_file_bytes,
		       start_time_90k, duration_90k, video_samples, video_sync_samples, video_sample_entry_id
		FROM recording WHERE composite_id = ?`, int64(id)).Scan(
		&r.CompositeID, &r.StreamID, &r.OpenID, &r.RunOffset, &r.Flags,
		&r.SampleFileBytes, &r.StartTime90k, &r.Duration90k, &r.VideoSamples,
		&r.VideoSyncSamples, &r.VideoSampleEntryID)
	if err == sql.ErrNoRows {
		return Recording{}, storage.New(storage.KindMismatch, fmt.Sprintf("no recording row for %s", id))
	}
	if err != nil {
		return Recording{}, fmt.Errorf("get recording: %w", err)
	}
	return r, nil
}

// ListRecordings streams committed recording rows for a stream within
// [startTime, endTime), in the requested order.
func (s *Store) ListRecordings(ctx context.Context, streamID clock.StreamID, startTime, endTime clock.Timestamp90k, order Order) ([]Recording, error) {
	dir := "ASC"
	if order == Descending {
		dir = "DESC"
	}
	query := fmt.Sprintf(`
		SELECT composite_id, stream_id, open_id, run_offset, flags, sample_file_bytes,
		       start_time_90k, duration_90k, video_samples, video_sync_samples, video_sample_entry_id
		FROM recording
		WHERE stream_id = ? AND start_time_90k < ? AND (start_time_90k + duration_90k) > ?
		ORDER BY composite_id %s`, dir)

	rows, err := s.db.QueryContext(ctx, query, int64(streamID), int64(endTime), int64(startTime))
	if err != nil {
		return nil, fmt.Errorf("list recordings: %w", err)
	}
	defer rows.Close()

	var out []Recording
	for rows.Next() {
		var r Recording
		if err := rows.Scan(&r.CompositeID, &r.StreamID, &r.OpenID, &r.RunOffset, &r.Flags,
			&r.SampleFileBytes, &r.StartTime90k, &r.Duration90k, &r.VideoSamples,
			&r.VideoSyncSamples, &r.VideoSampleEntryID); err != nil {
			return nil, fmt.Errorf("scan recording: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DayTotal is one calendar day's recorded duration for a stream, in
// whatever time zone the caller resolved.
type DayTotal struct {
	Day      string // YYYY-MM-DD in the caller's time zone
	Duration time.Duration
}

// DaysWithRecordings aggregates committed recordings for streamID within
// [startTime, endTime) into per-day totals in loc, splitting any
// recording that crosses a local midnight boundary proportionally
// between the two (or more) days it spans. Days are returned in
// ascending order with no gap-filling: a day with no recorded seconds is
// simply absent from the result.
func (s *Store) DaysWithRecordings(ctx context.Context, streamID clock.StreamID, startTime, endTime clock.Timestamp90k, loc *time.Location) ([]DayTotal, error) {
	recs, err := s.ListRecordings(ctx, streamID, startTime, endTime, Ascending)
	if err != nil {
		return nil, fmt.Errorf("days with recordings: %w", err)
	}

	totals := make(map[string]time.Duration)
	var order []string
	for _, r := range recs {
		cur := r.StartTime90k.Time().In(loc)
		end := r.StartTime90k.Add(r.Duration90k).Time().In(loc)
		for cur.Before(end) {
			dayStart := time.Date(cur.Year(), cur.Month(), cur.Day(), 0, 0, 0, 0, loc)
			nextDayStart := dayStart.AddDate(0, 0, 1)
			segEnd := end
			if nextDayStart.Before(segEnd) {
				segEnd = nextDayStart
			}
			key := dayStart.Format("2006-01-02")
			if _, seen := totals[key]; !seen {
				order = append(order, key)
			}
			totals[key] += segEnd.Sub(cur)
			cur = segEnd
		}
	}

	out := make([]DayTotal, len(order))
	for i, key := range order {
		out[i] = DayTotal{Day: key, Duration: totals[key]}
	}
	return out, nil
}

// GetStream returns a single stream row by id, used by the playback
// index to resolve a recording's sample file directory.
func (s *Store) GetStream(ctx context.Context, id clock.StreamID) (Stream, error) {
	var st Stream
	var record int
	err := s.db.QueryRowContext(ctx,
		`SELECT id, camera_id, type, sample_file_dir_id, rtsp_url, retain_bytes, flush_if_sec, next_recording_id, record
		 FROM stream WHERE id = ?`, int64(id)).Scan(
		&st.ID, &st.CameraID, &st.Type, &st.SampleFileDirID, &st.RTSPURL,
		&st.RetainBytes, &st.FlushIfSec, &st.NextRecordingID, &record)
	if err == sql.ErrNoRows {
		return Stream{}, storage.New(storage.KindMismatch, fmt.Sprintf("no stream row for id %d", id))
	}
	if err != nil {
		return Stream{}, fmt.Errorf("get stream: %w", err)
	}
	st.Record = record != 0
	return st, nil
}

// GetSampleFileDir returns a single sample file directory row by id.
func (s *Store) GetSampleFileDir(ctx context.Context, id int64) (SampleFileDir, error) {
	var d SampleFileDir
	var storedUUID []byte
	var lastOpen sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, path, uuid, last_complete_open_id FROM sample_file_dir WHERE id = ?`, id).Scan(
		&d.ID, &d.Path, &storedUUID, &lastOpen)
	if err == sql.ErrNoRows {
		return SampleFileDir{}, storage.New(storage.KindMismatch, fmt.Sprintf("no sample_file_dir row for id %d", id))
	}
	if err != nil {
		return SampleFileDir{}, fmt.Errorf("get sample_file_dir: %w", err)
	}
	copy(d.UUID[:], storedUUID)
	if lastOpen.Valid {
		v := clock.OpenID(lastOpen.Int64)
		d.LastCompleteOpenID = &v
	}
	return d, nil
}

// ListSampleFileDirs returns every configured sample file directory row,
// used by the offline consistency checker to map a configured path back
// to its database identity.
func (s *Store) ListSampleFileDirs(ctx context.Context) ([]SampleFileDir, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, path, uuid, last_complete_open_id FROM sample_file_dir`)
	if err != nil {
		return nil, fmt.Errorf("list sample_file_dir: %w", err)
	}
	defer rows.Close()

	var out []SampleFileDir
	for rows.Next() {
		var d SampleFileDir
		var storedUUID []byte
		var lastOpen sql.NullInt64
		if err := rows.Scan(&d.ID, &d.Path, &storedUUID, &lastOpen); err != nil {
			return nil, fmt.Errorf("scan sample_file_dir: %w", err)
		}
		copy(d.UUID[:], storedUUID)
		if lastOpen.Valid {
			v := clock.OpenID(lastOpen.Int64)
			d.LastCompleteOpenID = &v
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// GetVideoSampleEntry returns a video sample entry row by id, used by the
// MP4 builder to construct init segments and `avc1`/`avcC` boxes.
func (s *Store) GetVideoSampleEntry(ctx context.Context, id int64) (VideoSampleEntry, error) {
	var e VideoSampleEntry
	var sha1 []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT id, sha1, width, height, rfc6381_codec, data FROM video_sample_entry WHERE id = ?`, id).Scan(
		&e.ID, &sha1, &e.Width, &e.Height, &e.RFC6381Codec, &e.Data)
	if err == sql.ErrNoRows {
		return VideoSampleEntry{}, storage.New(storage.KindMismatch, fmt.Sprintf("no video_sample_entry row for id %d", id))
	}
	if err != nil {
		return VideoSampleEntry{}, fmt.Errorf("get video_sample_entry: %w", err)
	}
	copy(e.SHA1[:], sha1)
	return e, nil
}

// GetVideoSampleEntryBySHA1 returns a video sample entry row by its
// content hash, used by the `/api/init/<sha1>.mp4` route.
func (s *Store) GetVideoSampleEntryBySHA1(ctx context.Context, sha1sum [20]byte) (VideoSampleEntry, error) {
	var e VideoSampleEntry
	var sha1 []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT id, sha1, width, height, rfc6381_codec, data FROM video_sample_entry WHERE sha1 = ?`, sha1sum[:]).Scan(
		&e.ID, &sha1, &e.Width, &e.Height, &e.RFC6381Codec, &e.Data)
	if err == sql.ErrNoRows {
		return VideoSampleEntry{}, storage.New(storage.KindMismatch, fmt.Sprintf("no video_sample_entry row for sha1 %x", sha1sum))
	}
	if err != nil {
		return VideoSampleEntry{}, fmt.Errorf("get video_sample_entry by sha1: %w", err)
	}
	copy(e.SHA1[:], sha1)
	return e, nil
}

// ListGarbage returns every composite ID awaiting unlink in dirID.
func (s *Store) ListGarbage(ctx context.Context, dirID int64) ([]clock.CompositeID, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT composite_id FROM garbage WHERE sample_file_dir_id = ?`, dirID)
	if err != nil {
		return nil, fmt.Errorf("list garbage: %w", err)
	}
	defer rows.Close()

	var out []clock.CompositeID
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan garbage: %w", err)
		}
		out = append(out, clock.CompositeID(id))
	}
	return out, rows.Err()
}

// GarbageEntry names one sample file awaiting (or having completed)
// unlink in a directory.
type GarbageEntry struct {
	DirID       int64
	CompositeID clock.CompositeID
}

// CommitBatch performs the flush transaction: insert newly completed
// recordings, advance next_recording_id, insert new garbage rows while
// deleting the recording rows they supersede, and remove garbage rows
// whose files have been unlinked. It is the only entry point for row
// writes outside startup.
func (s *Store) CommitBatch(ctx context.Context, uncommitted []UncommittedRecording, garbageAdded, garbageRemoved []GarbageEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.Wrap(storage.KindTransientIO, "begin flush transaction", err)
	}
	defer tx.Rollback() //nolint:errcheck

	nextIDs := map[clock.StreamID]uint32{}

	for _, u := range uncommitted {
		r := u.Recording
		_, err := tx.ExecContext(ctx, `
			INSERT INTO recording (composite_id, stream_id, open_id, run_offset, flags,
			    sample_file_bytes, start_time_90k, duration_90k, video_samples,
			    video_sync_samples, video_sample_entry_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			int64(r.CompositeID), int64(r.StreamID), int64(r.OpenID), r.RunOffset, r.Flags,
			r.SampleFileBytes, int64(r.StartTime90k), int64(r.Duration90k), r.VideoSamples,
			r.VideoSyncSamples, r.VideoSampleEntryID)
		if err != nil {
			return storage.Wrap(storage.KindTransientIO, "insert recording", err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO recording_playback (composite_id, sample_index) VALUES (?, ?)`,
			int64(r.CompositeID), u.Playback.SampleIndex); err != nil {
			return storage.Wrap(storage.KindTransientIO, "insert recording_playback", err)
		}

		if u.Integrity != nil {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO recording_integrity (composite_id, local_time_since_open_90k, wall_time_delta_90k, sample_file_sha1)
				 VALUES (?, ?, ?, ?)`,
				int64(r.CompositeID), u.Integrity.LocalTimeSinceOpen90k, u.Integrity.WallTimeDelta90k, u.Integrity.SampleFileSHA1); err != nil {
				return storage.Wrap(storage.KindTransientIO, "insert recording_integrity", err)
			}
		}

		next := r.CompositeID.Seq() + 1
		if cur, ok := nextIDs[r.StreamID]; !ok || next > cur {
			nextIDs[r.StreamID] = next
		}
	}

	for streamID, next := range nextIDs {
		if _, err := tx.ExecContext(ctx,
			`UPDATE stream SET next_recording_id = ? WHERE id = ? AND next_recording_id < ?`,
			next, int64(streamID), next); err != nil {
			return storage.Wrap(storage.KindTransientIO, "advance next_recording_id", err)
		}
	}

	// A recording moved to garbage loses its rows in the same transaction
	// that records the pending unlink: the file must outlive the row, so
	// the garbage insert and the row deletion are atomic.
	for _, g := range garbageAdded {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO garbage (sample_file_dir_id, composite_id) VALUES (?, ?)`,
			g.DirID, int64(g.CompositeID)); err != nil {
			return storage.Wrap(storage.KindTransientIO, "insert garbage", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM recording_integrity WHERE composite_id = ?`, int64(g.CompositeID)); err != nil {
			return storage.Wrap(storage.KindTransientIO, "delete recording_integrity", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM recording_playback WHERE composite_id = ?`, int64(g.CompositeID)); err != nil {
			return storage.Wrap(storage.KindTransientIO, "delete recording_playback", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM recording WHERE composite_id = ?`, int64(g.CompositeID)); err != nil {
			return storage.Wrap(storage.KindTransientIO, "delete recording", err)
		}
	}

	for _, g := range garbageRemoved {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM garbage WHERE sample_file_dir_id = ? AND composite_id = ?`,
			g.DirID, int64(g.CompositeID)); err != nil {
			return storage.Wrap(storage.KindTransientIO, "delete garbage", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storage.Wrap(storage.KindQuota, "commit flush transaction", err)
	}
	return nil
}

// NextRecordingID returns a stream's current next_recording_id, the
// authority a writer mirrors into memory at startup.
func (s *Store) NextRecordingID(ctx context.Context, streamID clock.StreamID) (uint32, error) {
	var next uint32
	err := s.db.QueryRowContext(ctx,
		`SELECT next_recording_id FROM stream WHERE id = ?`, int64(streamID)).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("read next_recording_id: %w", err)
	}
	return next, nil
}

// DeleteOrphanRecording removes a recording row (and its playback and
// integrity rows) whose backing sample file is confirmed missing on
// disk; the offline consistency checker's response to the `Corrupt`
// policy.
func (s *Store) DeleteOrphanRecording(ctx context.Context, id clock.CompositeID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.Wrap(storage.KindTransientIO, "begin orphan-delete transaction", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM recording_integrity WHERE composite_id = ?`, int64(id)); err != nil {
		return storage.Wrap(storage.KindTransientIO, "delete recording_integrity", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM recording_playback WHERE composite_id = ?`, int64(id)); err != nil {
		return storage.Wrap(storage.KindTransientIO, "delete recording_playback", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM recording WHERE composite_id = ?`, int64(id)); err != nil {
		return storage.Wrap(storage.KindTransientIO, "delete recording", err)
	}

	if err := tx.Commit(); err != nil {
		return storage.Wrap(storage.KindQuota, "commit orphan-delete transaction", err)
	}
	return nil
}
