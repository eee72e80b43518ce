// Command moonfire-nvrd is the recording storage engine's daemon: it
// loads the YAML configuration, recovers every sample file directory,
// and serves the HTTP playback API and live fragment stream. It parses
// flags, builds a logger, constructs collaborators in a fixed order,
// then runs until a signal arrives.
//
// Actual RTSP ingestion is an external collaborator; this
// daemon constructs and registers a *writer.Writer per recording-enabled
// stream but leaves feeding it AccessUnits (via Writer.Write) to that
// external process.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/moonfire-nvr/moonfire-nvr/internal/config"
	"github.com/moonfire-nvr/moonfire-nvr/internal/flush"
	"github.com/moonfire-nvr/moonfire-nvr/internal/httpvideo"
	"github.com/moonfire-nvr/moonfire-nvr/internal/live"
	"github.com/moonfire-nvr/moonfire-nvr/internal/metadb"
	"github.com/moonfire-nvr/moonfire-nvr/internal/obs"
	"github.com/moonfire-nvr/moonfire-nvr/internal/playback"
	"github.com/moonfire-nvr/moonfire-nvr/internal/recovery"
	"github.com/moonfire-nvr/moonfire-nvr/internal/retention"
	"github.com/moonfire-nvr/moonfire-nvr/internal/sampledir"
	"github.com/moonfire-nvr/moonfire-nvr/internal/writer"
	"github.com/moonfire-nvr/moonfire-nvr/pkg/clock"
)

func main() {
	configPath := flag.String("config", "moonfire.yaml", "path to the YAML configuration file")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	logFormat := flag.String("log-format", "console", "log format: console or json")
	flag.Parse()

	if err := run(*configPath, *logLevel, *logFormat); err != nil {
		fmt.Fprintln(os.Stderr, "moonfire-nvrd:", err)
		os.Exit(1)
	}
}

func run(configPath, logLevelStr, logFormatStr string) error {
	level, err := obs.ParseLevel(logLevelStr)
	if err != nil {
		return err
	}
	format, err := obs.ParseFormat(logFormatStr)
	if err != nil {
		return err
	}
	log, err := obs.New(&obs.Config{Level: level, Format: format})
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Close()
	obs.SetDefault(log)

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	d, err := newDaemon(cfg, log)
	if err != nil {
		return err
	}
	defer d.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return d.run(ctx)
}

// daemon holds every process-wide collaborator, constructed once at
// startup and shut down in reverse order.
type daemon struct {
	log        *obs.Logger
	store      *metadb.Store
	dirs       *sampledir.Registry
	writers    *writer.Registry
	scheduler  *flush.Scheduler
	collector  *retention.Collector
	broadcast  *live.Broadcaster
	httpServer *http.Server

	dirPromote []pendingPromotion
}

// pendingPromotion is one directory's recovered open, waiting on its
// first successful flush to be promoted to last-completed.
type pendingPromotion struct {
	dir    *sampledir.Dir
	dbRow  metadb.SampleFileDir
	result recovery.Result
	done   bool
}

func newDaemon(cfg *config.Config, log *obs.Logger) (*daemon, error) {
	store, err := metadb.NewStore(cfg.DBDir + "/moonfire.sqlite")
	if err != nil {
		return nil, fmt.Errorf("open metadata store: %w", err)
	}

	d := &daemon{
		log:       log,
		store:     store,
		dirs:      sampledir.NewRegistry(),
		writers:   writer.NewRegistry(),
		broadcast: live.New(0),
	}

	ctx := context.Background()
	now := clock.FromTime(time.Now())

	dbDirByIndex := make([]metadb.SampleFileDir, len(cfg.SampleFileDirs))
	for i, path := range cfg.SampleFileDirs {
		row, err := store.UpsertSampleFileDir(ctx, path, [16]byte(uuid.New()))
		if err != nil {
			d.close()
			return nil, fmt.Errorf("register sample file directory %s: %w", path, err)
		}
		dbDirByIndex[i] = row
	}

	for _, cam := range cfg.Cameras {
		camUUID, err := uuid.Parse(cam.UUID)
		if err != nil {
			d.close()
			return nil, fmt.Errorf("camera %s: %w", cam.ShortName, err)
		}
		cameraID, err := store.UpsertCamera(ctx, [16]byte(camUUID), cam.ShortName)
		if err != nil {
			d.close()
			return nil, fmt.Errorf("upsert camera %s: %w", cam.ShortName, err)
		}

		for streamType, sc := range cam.Streams {
			dirRow := dbDirByIndex[sc.SampleFileDir]
			if _, err := store.UpsertStream(ctx, cameraID, streamType, dirRow.ID, sc.RTSPURL, sc.RetainBytes, sc.FlushIfSec, sc.Record); err != nil {
				d.close()
				return nil, fmt.Errorf("upsert stream %s/%s: %w", cam.ShortName, streamType, err)
			}
		}
	}

	allStreams, err := store.ListStreams(ctx)
	if err != nil {
		d.close()
		return nil, fmt.Errorf("list streams: %w", err)
	}

	var recoveredGarbage []metadb.GarbageEntry
	for _, dirRow := range dbDirByIndex {
		dirHandle, err := recovery.Open(dirRow.Path, dirRow)
		if err != nil {
			d.close()
			return nil, fmt.Errorf("open sample file directory %s: %w", dirRow.Path, err)
		}
		result, err := recovery.Recover(ctx, store, dirHandle, dirRow, allStreams, now, log)
		if err != nil {
			d.close()
			return nil, fmt.Errorf("recover sample file directory %s: %w", dirRow.Path, err)
		}
		d.dirs.Put(dirRow.ID, dirHandle)
		d.dirPromote = append(d.dirPromote, pendingPromotion{dir: dirHandle, dbRow: dirRow, result: result})
		for _, id := range result.GarbageDeleted {
			recoveredGarbage = append(recoveredGarbage, metadb.GarbageEntry{DirID: dirRow.ID, CompositeID: id})
		}
	}

	flushIfSec := make(map[clock.StreamID]time.Duration, len(allStreams))
	for _, st := range allStreams {
		flushIfSec[st.ID] = time.Duration(st.FlushIfSec) * time.Second
	}

	d.scheduler = flush.New(flush.Config{
		Store:      store,
		Dirs:       d.dirs,
		Notifier:   d,
		Log:        log,
		FlushIfSec: flushIfSec,
	})

	if len(recoveredGarbage) > 0 {
		// Files recovery already unlinked from disk are done being
		// garbage; fold their removal into the first flush so the DB
		// garbage rows don't linger forever.
		d.scheduler.GarbageChanged(nil, recoveredGarbage)
	}

	d.collector = retention.New(retention.Config{
		Store:    store,
		Growing:  d.writers,
		Notifier: d.scheduler,
		Log:      log,
	})

	for _, st := range allStreams {
		if !st.Record {
			continue
		}
		dirHandle, err := d.dirs.DirByID(st.SampleFileDirID)
		if err != nil {
			d.close()
			return nil, err
		}
		w := writer.New(writer.Config{
			StreamID:        st.ID,
			Dir:             dirHandle,
			Entries:         store,
			Publisher:       d.scheduler,
			Live:            d.broadcast,
			Log:             log.Stream(int32(st.ID)),
			OpenID:          d.openIDFor(dirHandle),
			NextRecordingID: st.NextRecordingID,
		})
		d.writers.Put(st.ID, w)
	}

	resolver := playback.New(playback.Config{
		Meta:    store,
		Pending: d.scheduler,
		Growing: d.writers,
	})

	httpSrv := httpvideo.New(httpvideo.Config{
		Meta:     store,
		Resolver: resolver,
		Dirs:     d.dirs,
		Pending:  d.scheduler,
		Growing:  d.writers,
		Live:     d.broadcast,
		Log:      log,
	})
	mux := http.NewServeMux()
	httpSrv.RegisterRoutes(mux)
	d.httpServer = &http.Server{Addr: cfg.Server.BindAddress, Handler: mux}

	return d, nil
}

// openIDFor returns the in-progress open id recovery just wrote for
// dirHandle's directory.
func (d *daemon) openIDFor(dirHandle *sampledir.Dir) clock.OpenID {
	for _, p := range d.dirPromote {
		if p.dir == dirHandle {
			return p.result.OpenID
		}
	}
	return 0
}

// RecordingCommitted implements flush.CommitNotifier: the first commit
// following recovery promotes that commit's directory's open to
// last-completed.
func (d *daemon) RecordingCommitted(streamID clock.StreamID, id clock.CompositeID) {
	st, err := d.store.GetStream(context.Background(), streamID)
	if err != nil {
		return
	}
	for i := range d.dirPromote {
		p := &d.dirPromote[i]
		if p.done || p.dbRow.ID != st.SampleFileDirID {
			continue
		}
		now := clock.FromTime(time.Now())
		if err := recovery.PromoteAfterFirstFlush(context.Background(), d.store, p.dir, p.dbRow, p.result, p.result.OpenStart, now); err != nil {
			d.log.Component("recovery").Warn().Err(err).Msg("failed to promote open to last-completed")
			return
		}
		p.done = true
	}
}

func (d *daemon) run(ctx context.Context) error {
	errCh := make(chan error, 2)

	go func() { errCh <- d.scheduler.Run(ctx) }()

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				errCh <- nil
				return
			case <-ticker.C:
				if err := d.collector.RunOnce(ctx); err != nil {
					d.log.Component("retention").Warn().Err(err).Msg("retention sweep failed")
				}
			}
		}
	}()

	go func() {
		if err := d.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	<-ctx.Done()
	d.log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	d.httpServer.Shutdown(shutdownCtx) //nolint:errcheck

	for _, st := range d.writers.All() {
		if err := st.Stop(shutdownCtx); err != nil {
			d.log.Warn().Err(err).Msg("writer stop failed")
		}
	}

	return nil
}

func (d *daemon) close() {
	if d.dirs != nil {
		d.dirs.Close() //nolint:errcheck
	}
	if d.store != nil {
		d.store.Close() //nolint:errcheck
	}
}
