// Command zonecastd is the multi-zone audio daemon entrypoint: it loads
// config, opens the metadata store, starts the downloader and recovery
// persister, brings up one node per configured source through the
// coordinator, and serves the HTTP/websocket command surface. Grounded
// on the teacher's root main.go (dependency check, context+signal
// wiring, sequential startup steps reported through a tagged logger).
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"zonecast/internal/audio/decode"
	"zonecast/internal/audio/output"
	"zonecast/internal/audio/player"
	"zonecast/internal/audio/processor"
	"zonecast/internal/config"
	"zonecast/internal/coordinator"
	"zonecast/internal/downloader"
	"zonecast/internal/logx"
	"zonecast/internal/node"
	"zonecast/internal/state"
	"zonecast/internal/store"
	"zonecast/internal/transport"
	"zonecast/internal/ytdlp"
)

func main() {
	prod := flag.Bool("prod", false, "load the production address/source table instead of dev")
	sourceTable := flag.String("sources", "", "path to the source-name table (defaults to sources-dev or sources-prod)")
	audioDir := flag.String("audio-dir", "./audio", "directory wav files are stored and decoded from")
	flag.Parse()

	log := logx.New("Daemon")

	if err := checkRuntimeDeps(log, "yt-dlp", "ffmpeg"); err != nil {
		log.Warn("%v", err)
		os.Exit(1)
	}

	profile := config.Dev
	tablePath := "sources-dev"
	if *prod {
		profile = config.Prod
		tablePath = "sources-prod"
	}
	if *sourceTable != "" {
		tablePath = *sourceTable
	}

	cfg, err := config.Load(profile, tablePath)
	if err != nil {
		log.Warn("config: %v", err)
		os.Exit(1)
	}
	log.Info("loaded %d source(s) for %s profile", len(cfg.Sources), profile)

	if err := os.MkdirAll(*audioDir, 0o755); err != nil {
		log.Warn("create audio dir: %v", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info("shutting down")
		cancel()
	}()

	db, err := store.Open(ctx, cfg.DatabaseDSN)
	if err != nil {
		log.Warn("open store: %v", err)
		os.Exit(1)
	}
	defer db.Close()

	persister := state.LoadOrDefault(ctx, cfg.RecoveryFile, *audioDir, db)
	persister.Start(ctx)

	fetcher := ytdlp.New(ytdlp.Config{})
	dl := downloader.New(db, fetcher, *audioDir, persister)
	dl.Restore(restoreRequests(persister.RestoredDownloadQueue()))
	go dl.Run(ctx)

	sources := make([]coordinator.SourceConfig, len(cfg.Sources))
	for i, s := range cfg.Sources {
		sources[i] = coordinator.SourceConfig{Name: s.Name, HumanReadableName: s.HumanReadableName}
	}

	deviceCfg := output.DefaultConfig()
	factory := nodeFactory(*audioDir, deviceCfg, db, dl, fetcher, persister)
	coord := coordinator.New(sources, factory, persister)
	if err := coord.Start(ctx); err != nil {
		log.Warn("coordinator start: %v", err)
		os.Exit(1)
	}

	api := transport.NewAPI(coord, db)
	ws := transport.NewWSHandler(coord)
	router := transport.SetupRouter(api, ws)

	srv := &http.Server{Addr: cfg.ListenAddress, Handler: router}
	var g errgroup.Group
	g.Go(func() error {
		log.Info("listening on %s", cfg.ListenAddress)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	<-ctx.Done()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown: %v", err)
	}
	if err := g.Wait(); err != nil {
		log.Warn("http server: %v", err)
	}
}

// nodeFactory closes over the daemon's shared collaborators (store,
// downloader, fetcher, persister) to build one real node per source,
// matching coordinator.NodeFactory's contract that the coordinator itself
// never touches audio/storage wiring (spec §4.8).
func nodeFactory(audioDir string, deviceCfg output.Config, db *store.Store, dl *downloader.Downloader, fetcher *ytdlp.Fetcher, persister *state.Persister) coordinator.NodeFactory {
	return func(ctx context.Context, src coordinator.SourceConfig, restored coordinator.RestoredNodeState, healthSink node.HealthSink) (*node.Node, error) {
		n := node.New(src.Name, audioDir, dl, db, fetcher, healthSink)
		n.BindStateSink(persister)

		openStream := func(ctx context.Context, item player.QueueItem, startFrame uint64) (processor.DecodedStream, error) {
			numFrames := durationToFrames(item.Metadata.DurationMs, deviceCfg.SampleRate)
			return decode.Open(ctx, item.Path, deviceCfg.SampleRate, deviceCfg.Channels, numFrames, deviceCfg.PeriodFrames*4)
		}
		deviceCfgForSource := deviceCfg
		deviceCfgForSource.Device = src.Name
		openDevice := func(ctx context.Context, pull func([]float32) processor.StreamState, onErr func(error)) (*output.Stream, error) {
			return output.Start(ctx, deviceCfgForSource, pull, onErr)
		}

		p := player.New(deviceCfg, openStream, openDevice, n, n, n)
		n.BindPlayer(p)
		n.Start(ctx)

		for _, item := range restored.Queue {
			p.Push(ctx, item)
		}
		p.PlaySelected(ctx, restored.CurrentQueueIndex, false)
		p.SetVolume(restored.AudioVolume)
		p.SetProgress(restored.AudioProgress)
		p.SetState(restored.PlaybackState)

		return n, nil
	}
}

func durationToFrames(durationMs *int, sampleRate int) uint64 {
	if durationMs == nil || *durationMs <= 0 {
		return 0
	}
	return uint64(*durationMs) * uint64(sampleRate) / 1000
}

func restoreRequests(infos []downloader.DownloadInfo) []downloader.Request {
	requests := make([]downloader.Request, len(infos))
	for i, info := range infos {
		requests[i] = downloader.Request{Info: info, Subscriber: func(downloader.Event) {}}
	}
	return requests
}

// checkRuntimeDeps verifies every external binary the daemon shells out to
// (ytdlp.Fetcher for the download pipeline, internal/audio/decode and
// internal/audio/output for playback) is on PATH before anything else
// starts, logging each one through the daemon's own logger rather than a
// bare stdout print.
func checkRuntimeDeps(log *logx.Logger, names ...string) error {
	var missing []string
	for _, name := range names {
		if _, err := exec.LookPath(name); err != nil {
			log.Warn("%s not found in PATH", name)
			missing = append(missing, name)
			continue
		}
		log.Info("%s found in PATH", name)
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required binaries %v: install them and retry", missing)
	}
	return nil
}
