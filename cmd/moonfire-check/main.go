// Command moonfire-check is the offline consistency checker: it walks
// every configured sample file directory while the daemon is stopped,
// cross-checks on-disk files against the database, and reports (or,
// with -fix, repairs) any divergence.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/moonfire-nvr/moonfire-nvr/internal/config"
	"github.com/moonfire-nvr/moonfire-nvr/internal/metadb"
	"github.com/moonfire-nvr/moonfire-nvr/internal/sampledir"
	"github.com/moonfire-nvr/moonfire-nvr/pkg/clock"
)

func main() {
	configPath := flag.String("config", "moonfire.yaml", "path to the YAML configuration file")
	fix := flag.Bool("fix", false, "delete orphan files and rows instead of only reporting them")
	flag.Parse()

	if err := run(*configPath, *fix); err != nil {
		fmt.Fprintln(os.Stderr, "moonfire-check:", err)
		os.Exit(1)
	}
}

func run(configPath string, fix bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	store, err := metadb.NewStore(cfg.DBDir + "/moonfire.sqlite")
	if err != nil {
		return fmt.Errorf("open metadata store: %w", err)
	}
	defer store.Close() //nolint:errcheck

	ctx := context.Background()
	streams, err := store.ListStreams(ctx)
	if err != nil {
		return fmt.Errorf("list streams: %w", err)
	}

	anomalies := 0
	for _, path := range cfg.SampleFileDirs {
		n, err := checkDir(ctx, store, path, streams, fix)
		if err != nil {
			return fmt.Errorf("check %s: %w", path, err)
		}
		anomalies += n
	}

	if anomalies == 0 {
		fmt.Println("moonfire-check: no anomalies found")
		return nil
	}
	verb := "found"
	if fix {
		verb = "repaired"
	}
	fmt.Printf("moonfire-check: %s %d anomal%s\n", verb, anomalies, plural(anomalies))
	if !fix {
		os.Exit(2)
	}
	return nil
}

func plural(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}

// checkDir cross-checks one sample file directory: every
// on-disk file must either back a recording row, be listed as garbage,
// or be an as-yet-uncommitted id (>= its stream's next_recording_id);
// every recording row in this directory must have a backing file.
func checkDir(ctx context.Context, store *metadb.Store, path string, streams []metadb.Stream, fix bool) (int, error) {
	dbRow, err := lookupDirByPath(ctx, store, path)
	if err != nil {
		return 0, err
	}

	d, err := sampledir.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open: %w", err)
	}
	defer d.Close() //nolint:errcheck

	if err := d.VerifyAgainstDB(dbRow.UUID, dbRow.LastCompleteOpenID); err != nil {
		return 0, fmt.Errorf("directory metadata disagrees with database: %w", err)
	}

	onDisk, err := d.ListSampleFiles()
	if err != nil {
		return 0, fmt.Errorf("list sample files: %w", err)
	}
	onDiskSet := make(map[clock.CompositeID]struct{}, len(onDisk))
	for _, id := range onDisk {
		onDiskSet[id] = struct{}{}
	}

	garbage, err := store.ListGarbage(ctx, dbRow.ID)
	if err != nil {
		return 0, fmt.Errorf("list garbage: %w", err)
	}
	garbageSet := make(map[clock.CompositeID]struct{}, len(garbage))
	for _, id := range garbage {
		garbageSet[id] = struct{}{}
	}

	anomalies := 0
	for _, streamRow := range streams {
		if streamRow.SampleFileDirID != dbRow.ID {
			continue
		}

		recordings, err := store.ListRecordings(ctx, streamRow.ID, clock.Timestamp90k(0), clock.Timestamp90k(1<<62), metadb.Ascending)
		if err != nil {
			return anomalies, fmt.Errorf("list recordings for stream %d: %w", streamRow.ID, err)
		}
		recordingSet := make(map[clock.CompositeID]struct{}, len(recordings))
		for _, r := range recordings {
			recordingSet[r.CompositeID] = struct{}{}
		}

		for id := range onDiskSet {
			if id.Stream() != streamRow.ID {
				continue
			}
			_, hasRow := recordingSet[id]
			_, isGarbage := garbageSet[id]
			orphan := id.Seq() >= streamRow.NextRecordingID
			if hasRow || isGarbage || orphan {
				continue
			}
			anomalies++
			fmt.Printf("orphan file with no recording row: %s\n", id)
			if fix {
				if err := d.DeleteSampleFile(id); err != nil {
					return anomalies, fmt.Errorf("delete orphan file %s: %w", id, err)
				}
			}
		}

		for _, r := range recordings {
			if _, ok := onDiskSet[r.CompositeID]; ok {
				continue
			}
			anomalies++
			fmt.Printf("recording row with no backing file (corrupt): %s\n", r.CompositeID)
			if fix {
				if err := store.DeleteOrphanRecording(ctx, r.CompositeID); err != nil {
					return anomalies, fmt.Errorf("delete orphan recording row %s: %w", r.CompositeID, err)
				}
			}
		}
	}

	if fix {
		if err := d.Sync(); err != nil {
			return anomalies, fmt.Errorf("fsync directory: %w", err)
		}
	}
	return anomalies, nil
}

func lookupDirByPath(ctx context.Context, store *metadb.Store, path string) (metadb.SampleFileDir, error) {
	dirs, err := store.ListSampleFileDirs(ctx)
	if err != nil {
		return metadb.SampleFileDir{}, fmt.Errorf("list sample file dirs: %w", err)
	}
	for _, d := range dirs {
		if d.Path == path {
			return d, nil
		}
	}
	return metadb.SampleFileDir{}, fmt.Errorf("sample file directory %s is not registered in the database", path)
}
