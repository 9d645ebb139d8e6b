package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/RaikaSurendra/servicenow-instance/internal/config"
	"github.com/RaikaSurendra/servicenow-instance/internal/kafka"
	"github.com/RaikaSurendra/servicenow-instance/internal/monitor"
	"github.com/RaikaSurendra/servicenow-instance/internal/observability"
	"github.com/RaikaSurendra/servicenow-instance/internal/state"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Monitor instances and announce status changes",
	Long: "Probes every configured instance, serves /healthz, /readyz, /status\n" +
		"and /metrics, and publishes status changes to Kafka when enabled.\n" +
		"With --config the file is watched and the monitor restarts on change.\n" +
		"SIGINT/SIGTERM stop the monitor after a final status flush.",
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, _ []string) error {
	o := currentOptions()
	cfg, err := resolveConfig(o, os.Getenv)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.LogLevel, os.Stdout)
	slog.SetDefault(logger)
	logger.Info("starting sninstance watch",
		"version", version,
		"commit", commit,
		"build_date", buildDate,
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Setup config watcher for hot-reload.
	reloadCh := make(chan struct{}, 1)
	if o.configPath != "" {
		go watchConfig(ctx, o.configPath, reloadCh, logger)
	}

	for {
		runCtx, runCancel := context.WithCancel(ctx)
		errCh := make(chan error, 1)
		go func(cfg *config.Config) {
			errCh <- run(runCtx, cfg, logger)
		}(cfg)

		next, err := waitForReload(ctx, o, reloadCh, errCh, logger)
		runCancel()
		if next == nil {
			return err
		}

		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("previous run exited with error on reload", "error", err)
		}
		cfg = next
		logger.Info("restarting with new configuration")
	}
}

// waitForReload blocks until the current run must end. It returns the new
// configuration on a valid reload, or nil and the run's result on shutdown
// or failure. Invalid configuration changes are logged and ignored.
func waitForReload(ctx context.Context, o cliOptions, reloadCh <-chan struct{}, errCh <-chan error, logger *slog.Logger) (*config.Config, error) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("received shutdown signal")
			<-errCh
			logger.Info("watch shutdown complete")
			return nil, nil
		case <-reloadCh:
			next, err := resolveConfig(o, os.Getenv)
			if err != nil {
				logger.Error("ignoring invalid configuration change", "error", err)
				continue
			}
			logger.Info("reloading configuration")
			return next, nil
		case err := <-errCh:
			if err != nil && !errors.Is(err, context.Canceled) {
				return nil, err
			}
			return nil, nil
		}
	}
}

// watchConfig uses fsnotify to watch the config file for changes.
func watchConfig(ctx context.Context, path string, reloadCh chan<- struct{}, logger *slog.Logger) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Error("failed to create config watcher", "error", err)
		return
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(path); err != nil {
		logger.Error("failed to watch config file", "path", path, "error", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			// Some editors replace the file instead of writing it.
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				logger.Info("config file changed", "event", event.Name)
				select {
				case reloadCh <- struct{}{}:
				default:
					// already has a reload queued
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Error("config watcher error", "error", err)
		}
	}
}

// run starts all components for one configuration and blocks until the
// context is cancelled or a component fails.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// 1. Observability server (always runs).
	obsSrv := observability.NewServer(cfg.Observability.Addr, logger)
	defer obsSrv.SetReady(false)

	// 2. Status store.
	store, err := state.Open(cfg.Monitor.StateBackend, cfg.Monitor.StateFile)
	if err != nil {
		return fmt.Errorf("initializing status store: %w", err)
	}
	defer func() { _ = store.Close() }()
	obsSrv.SetStatusSource(store)

	// 3. Publisher: Kafka when enabled, the log otherwise.
	publisher, closePublisher, err := newPublisher(ctx, cfg.Kafka, logger)
	if err != nil {
		return err
	}
	defer closePublisher()

	// 4. One prober per instance.
	probers := make([]*monitor.Prober, 0, len(cfg.Instances))
	for _, ic := range cfg.Instances {
		prober, err := monitor.NewProber(newInstance(ic, logger), publisher, store, cfg.Monitor, logger)
		if err != nil {
			return fmt.Errorf("creating prober for instance %s: %w", ic.HostName, err)
		}
		probers = append(probers, prober)
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return obsSrv.Start(gCtx)
	})

	g.Go(func() error {
		flushPeriodically(gCtx, store, cfg.Monitor.FlushInterval.Duration, logger)
		return nil
	})

	for _, prober := range probers {
		g.Go(func() error {
			return prober.Run(gCtx)
		})
	}

	obsSrv.SetReady(true)
	logger.Info("monitor is ready",
		"instances", len(cfg.Instances),
		"kafka_enabled", cfg.Kafka.Enabled,
		"observability_addr", cfg.Observability.Addr,
	)

	err = g.Wait()

	logger.Info("performing final status flush")
	if ferr := store.Flush(); ferr != nil {
		logger.Error("final status flush failed", "error", ferr)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// newPublisher returns the publisher for the kafka section and a function
// that releases it.
func newPublisher(ctx context.Context, cfg config.KafkaConfig, logger *slog.Logger) (monitor.Publisher, func(), error) {
	if !cfg.Enabled {
		return monitor.LogPublisher{Logger: logger.With("component", "status-publisher")}, func() {}, nil
	}

	producer, err := kafka.NewProducer(cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("creating Kafka producer: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := producer.Ping(pingCtx); err != nil {
		// Brokers may come up later; probes keep retrying the publish.
		logger.Warn("kafka brokers not reachable yet", "error", err)
	}

	var encoder kafka.Encoder = kafka.JSONEncoder{}
	if cfg.Encoding == "avro" {
		serializer := kafka.NewAvroSerializer(kafka.NewHTTPRegistryClient(cfg.SchemaRegistryURL))
		encoder = kafka.NewAvroEncoder(serializer, cfg.Topic+"-value")
	}

	return kafka.NewPublisher(producer, cfg.Topic, encoder, logger), producer.Close, nil
}

// flushPeriodically flushes the store until ctx is done.
func flushPeriodically(ctx context.Context, store state.Store, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := store.Flush(); err != nil {
				logger.Error("status flush failed", "error", err)
			}
		}
	}
}
