package metadb

// schemaVersion is checked at startup; an incompatible version aborts.
const schemaVersion = 1

const schemaDDL = `
CREATE TABLE IF NOT EXISTS schema_meta (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS open (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	uuid BLOB NOT NULL,
	start_time_90k INTEGER NOT NULL,
	end_time_90k INTEGER,
	duration_90k INTEGER
);

CREATE TABLE IF NOT EXISTS sample_file_dir (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	path TEXT NOT NULL UNIQUE,
	uuid BLOB NOT NULL,
	last_complete_open_id INTEGER REFERENCES open (id)
);

CREATE TABLE IF NOT EXISTS camera (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	uuid BLOB NOT NULL,
	short_name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS stream (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	camera_id INTEGER NOT NULL REFERENCES camera (id),
	type TEXT NOT NULL CHECK (type IN ('main', 'sub')),
	sample_file_dir_id INTEGER NOT NULL REFERENCES sample_file_dir (id),
	rtsp_url TEXT NOT NULL,
	retain_bytes INTEGER NOT NULL DEFAULT 0,
	flush_if_sec INTEGER NOT NULL DEFAULT 60,
	next_recording_id INTEGER NOT NULL DEFAULT 1,
	record INTEGER NOT NULL DEFAULT 0,
	UNIQUE (camera_id, type)
);

CREATE TABLE IF NOT EXISTS video_sample_entry (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	sha1 BLOB NOT NULL UNIQUE,
	width INTEGER NOT NULL,
	height INTEGER NOT NULL,
	rfc6381_codec TEXT NOT NULL,
	data BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS recording (
	composite_id INTEGER PRIMARY KEY,
	stream_id INTEGER NOT NULL REFERENCES stream (id),
	open_id INTEGER NOT NULL REFERENCES open (id),
	run_offset INTEGER NOT NULL,
	flags INTEGER NOT NULL DEFAULT 0,
	sample_file_bytes INTEGER NOT NULL,
	start_time_90k INTEGER NOT NULL,
	duration_90k INTEGER NOT NULL,
	video_samples INTEGER NOT NULL,
	video_sync_samples INTEGER NOT NULL,
	video_sample_entry_id INTEGER NOT NULL REFERENCES video_sample_entry (id)
);
CREATE INDEX IF NOT EXISTS recording_stream_start
	ON recording (stream_id, start_time_90k);

CREATE TABLE IF NOT EXISTS recording_playback (
	composite_id INTEGER PRIMARY KEY REFERENCES recording (composite_id),
	sample_index BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS recording_integrity (
	composite_id INTEGER PRIMARY KEY REFERENCES recording (composite_id),
	local_time_since_open_90k INTEGER,
	wall_time_delta_90k INTEGER,
	sample_file_sha1 BLOB
);

CREATE TABLE IF NOT EXISTS garbage (
	sample_file_dir_id INTEGER NOT NULL REFERENCES sample_file_dir (id),
	composite_id INTEGER NOT NULL,
	PRIMARY KEY (sample_file_dir_id, composite_id)
);
`

// RecordingFlagTrailingZero marks a recording whose last sample's duration
// is unknown.
const RecordingFlagTrailingZero = 1 << 0
