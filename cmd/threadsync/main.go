// Command threadsync runs the task-thread sync daemon: it loads
// config.yaml, opens the sqlite task store, wires the coordinator to the
// reference sync engine, and starts the local file watcher and periodic
// cron reconciliation described in SPEC_FULL.md §4.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/basket/threadsync/internal/config"
	"github.com/basket/threadsync/internal/coordinator"
	"github.com/basket/threadsync/internal/cron"
	"github.com/basket/threadsync/internal/doctor"
	otelPkg "github.com/basket/threadsync/internal/otel"
	"github.com/basket/threadsync/internal/platform"
	"github.com/basket/threadsync/internal/store"
	"github.com/basket/threadsync/internal/syncengine"
	"github.com/basket/threadsync/internal/taskwatcher"
	"github.com/basket/threadsync/internal/telemetry"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.1-dev"

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage of %s:

  %s                  Start the sync daemon (file watcher + cron + coordinator)
  %s doctor [-json]   Run diagnostic checks against config.yaml

ENVIRONMENT VARIABLES:
  THREADSYNC_HOME     Data directory (default: ~/.threadsync)

FLAGS:
`, os.Args[0], os.Args[0], os.Args[0])
	flag.PrintDefaults()
}

func main() {
	flag.Usage = printUsage
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if args := flag.Args(); len(args) > 0 {
		switch strings.ToLower(strings.TrimSpace(args[0])) {
		case "help", "-h", "--help":
			printUsage()
			return
		case "doctor":
			os.Exit(runDoctorCommand(ctx, args[1:]))
		}
	}

	runDaemon(ctx)
}

func fatalStartup(logger *slog.Logger, reasonCode string, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	if logger != nil {
		logger.Error("startup failure", "reason_code", reasonCode, "error", message)
	} else {
		fmt.Fprintf(os.Stderr, "startup failure: reason_code=%s error=%s\n", reasonCode, message)
	}
	os.Exit(1)
}

func runDaemon(ctx context.Context) {
	cfg, err := config.Load()
	if err != nil {
		fatalStartup(nil, "E_CONFIG_LOAD", err)
	}

	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, "info", false)
	if err != nil {
		fatalStartup(nil, "E_LOGGER_INIT", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)
	logger.Info("startup phase", "phase", "config_loaded", "forum_id", cfg.ForumID)

	otelProvider, err := otelPkg.Init(ctx, otelPkg.Config{
		Enabled:     cfg.TracingEnabled,
		Exporter:    cfg.TracingExporter,
		ServiceName: "threadsync",
	})
	if err != nil {
		fatalStartup(logger, "E_OTEL_INIT", err)
	}
	defer otelProvider.Shutdown(context.Background())

	taskStore, err := store.Open(cfg.StorePath)
	if err != nil {
		fatalStartup(logger, "E_STORE_OPEN", err)
	}
	defer taskStore.Close()
	logger.Info("startup phase", "phase", "store_opened", "path", cfg.StorePath)

	coord := coordinator.New(coordinator.Options{
		ForumID:              cfg.ForumID,
		TagMap:               map[string]string{},
		TagMapPath:           cfg.TagMapPath,
		TaskStore:            taskStore,
		Log:                  logger,
		Client:               platform.NoopClient{},
		Guild:                platform.NewForum(cfg.ForumID),
		SidebarMentionUserID: cfg.SidebarMentionUserID,
		AutoTag:              cfg.AutoTag,
		AutoTagModel:         cfg.AutoTagModel,
		Engine:               syncengine.Default{},
		Tracer:               otelProvider.Tracer,
	})
	logger.Info("startup phase", "phase", "coordinator_ready")

	cfgWatcher := config.NewWatcher(cfg.HomeDir, logger)
	if err := cfgWatcher.Start(ctx); err != nil {
		logger.Warn("config watcher failed to start", "error", err)
	} else {
		go watchConfigReloads(ctx, cfgWatcher, coord, logger)
	}

	watcher := taskwatcher.New(cfg.StorePath, coord, logger)
	if err := watcher.Start(ctx); err != nil {
		fatalStartup(logger, "E_TASKWATCHER_START", err)
	}
	logger.Info("startup phase", "phase", "taskwatcher_started", "path", cfg.StorePath)

	scheduler, err := cron.New(cfg.CronSchedule, coord, logger)
	if err != nil {
		fatalStartup(logger, "E_CRON_INIT", err)
	}
	scheduler.Start()
	defer scheduler.Stop()
	logger.Info("startup phase", "phase", "cron_started", "schedule", cfg.CronSchedule)

	if _, err := coord.Sync(ctx, nil, coordinator.SyncOriginUser); err != nil {
		logger.Warn("initial sync failed", "error", err)
	}

	logger.Info("threadsync daemon running", "version", Version)
	<-ctx.Done()
	logger.Info("shutdown signal received")
}

// watchConfigReloads applies auto-tag-model changes detected by the config
// file watcher without a process restart.
func watchConfigReloads(ctx context.Context, w *config.Watcher, coord *coordinator.Coordinator, logger *slog.Logger) {
	for range w.Events() {
		cfg, err := config.Load()
		if err != nil {
			logger.Warn("config reload failed", "error", err)
			continue
		}
		coord.SetAutoTagModel(cfg.AutoTagModel)
		logger.Info("config reloaded", "auto_tag_model", cfg.AutoTagModel)
	}
}

func runDoctorCommand(ctx context.Context, args []string) int {
	jsonOutput := false
	for _, arg := range args {
		if arg == "-json" || arg == "--json" {
			jsonOutput = true
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
	}

	diag := doctor.Run(ctx, &cfg, Version)

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(diag); err != nil {
			fmt.Fprintf(os.Stderr, "error encoding json: %v\n", err)
			return 1
		}
		return 0
	}

	fmt.Printf("threadsync doctor report (%s)\n", diag.Timestamp.Format(time.RFC3339))
	fmt.Printf("system: %s/%s (%s)\n", diag.System.OS, diag.System.Arch, diag.System.Go)
	fmt.Println("---")

	failCount := 0
	for _, res := range diag.Results {
		icon := "PASS"
		switch res.Status {
		case "FAIL":
			icon = "FAIL"
			failCount++
		case "WARN":
			icon = "WARN"
		case "SKIP":
			icon = "SKIP"
		}
		fmt.Printf("[%s] %-15s: %s\n", icon, res.Name, res.Message)
		if res.Detail != "" {
			fmt.Printf("    %s\n", res.Detail)
		}
	}

	if failCount > 0 {
		return 1
	}
	return 0
}
