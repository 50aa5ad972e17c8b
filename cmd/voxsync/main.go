// VoxSync keeps a local store of voice recordings, transcripts, and AI
// summaries reconciled with a remote record store, with full-snapshot backup
// and restore for disaster recovery.
//
// Usage:
//
//	voxsync daemon [--config <path>]     # debounced auto-sync until stopped
//	voxsync sync-once [--config <path>]  # single full sync pass then exit
//	voxsync backup [--config <path>]     # full-snapshot backup
//	voxsync restore [--config <path>]    # rebuild local state from the backup
//	voxsync reset [--config <path>]      # delete remote records and re-upload
//	voxsync status                       # show config & database state
//	voxsync version                      # print version
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/voxlog/voxsync/internal/backup"
	"github.com/voxlog/voxsync/internal/config"
	"github.com/voxlog/voxsync/internal/discovery"
	"github.com/voxlog/voxsync/internal/localstore"
	"github.com/voxlog/voxsync/internal/remote"
	"github.com/voxlog/voxsync/internal/signature"
	syncp "github.com/voxlog/voxsync/internal/sync"
	"github.com/voxlog/voxsync/internal/telemetry"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

// run dispatches to the appropriate subcommand.
func run() error {
	if len(os.Args) < 2 {
		return printUsage()
	}

	cmd := os.Args[1]
	switch cmd {
	case "daemon":
		return withApp(os.Args[2:], runDaemon)
	case "sync-once":
		return withApp(os.Args[2:], runSyncOnce)
	case "backup":
		return withApp(os.Args[2:], runBackup)
	case "restore":
		return withApp(os.Args[2:], runRestore)
	case "reset":
		return withApp(os.Args[2:], runReset)
	case "status":
		return runStatus()
	case "version":
		fmt.Println("voxsync", version)
		return nil
	}

	return fmt.Errorf("unknown command %q, run 'voxsync' for usage", cmd)
}

func printUsage() error {
	cfgPath, _ := config.DefaultPath()
	_, cfgErr := os.Stat(cfgPath)

	fmt.Fprintln(os.Stderr, "VoxSync, a sync engine for recordings, transcripts, and summaries")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  voxsync daemon [--config ...]     Run debounced auto-sync until stopped")
	fmt.Fprintln(os.Stderr, "  voxsync sync-once [--config ...]  Single full sync pass then exit")
	fmt.Fprintln(os.Stderr, "  voxsync backup [--config ...]     Full-snapshot backup to the remote store")
	fmt.Fprintln(os.Stderr, "  voxsync restore [--config ...]    Rebuild local state from the backup")
	fmt.Fprintln(os.Stderr, "  voxsync reset [--config ...]      Delete all remote records and re-upload")
	fmt.Fprintln(os.Stderr, "  voxsync status                    Show config & database state")
	fmt.Fprintln(os.Stderr, "  voxsync version                   Print version")
	fmt.Fprintln(os.Stderr, "")

	if cfgErr != nil {
		fmt.Fprintf(os.Stderr, "No config file found at %s.\n", cfgPath)
	}

	os.Exit(1)
	return nil // unreachable
}

// app bundles the wired components every subcommand needs.
type app struct {
	cfg          *config.Config
	log          *slog.Logger
	db           *localstore.SQLite
	orchestrator *syncp.Orchestrator
}

// withApp parses common flags, wires the full component graph, runs fn, and
// tears everything down afterwards.
func withApp(args []string, fn func(ctx context.Context, a *app) error) error {
	fs := flag.NewFlagSet("voxsync", flag.ExitOnError)
	defaultCfg, _ := config.DefaultPath()
	cfgPath := fs.String("config", defaultCfg, "path to config.yaml")
	verbose := fs.Bool("verbose", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}

	// --- Logger --------------------------------------------------------------

	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	// --- Config --------------------------------------------------------------

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("loading config from %q: %w", *cfgPath, err)
	}
	logger.Info("config loaded",
		"remote_url", cfg.RemoteURL,
		"strategy", cfg.Strategy,
		"auto_sync", cfg.AutoSync,
	)

	// --- Telemetry (optional) ------------------------------------------------

	if cfg.Telemetry != nil {
		telCfg := telemetry.Config{
			OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
			Insecure:     cfg.Telemetry.Insecure,
			ServiceName:  cfg.Telemetry.ServiceName,
			Headers:      cfg.Telemetry.Headers,
		}
		shutdownTel, err := telemetry.Setup(context.Background(), telCfg)
		if err != nil {
			logger.Error("telemetry setup failed, continuing without telemetry", "error", err)
		} else {
			logger.Info("telemetry enabled", "endpoint", cfg.Telemetry.OTLPEndpoint)
			defer func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTel(flushCtx); err != nil {
					logger.Error("telemetry shutdown error", "error", err)
				}
			}()
		}
	}

	// --- Local database ------------------------------------------------------

	dbPath := cfg.DBPath
	if dbPath == "" {
		if dbPath, err = localstore.DefaultDBPath(); err != nil {
			return fmt.Errorf("resolving database path: %w", err)
		}
	}
	db, err := localstore.Open(dbPath)
	if err != nil {
		return fmt.Errorf("opening database at %q: %w", dbPath, err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			logger.Error("closing database", "error", closeErr)
		}
	}()
	logger.Info("database opened", "path", dbPath)

	// --- Remote store & component graph --------------------------------------

	client := remote.NewClient(cfg.RemoteURL, cfg.RemoteToken, logger)
	lister := discovery.NewLister(client, logger)
	runner := backup.NewRunner(db, db, client, lister, logger)

	orchCfg := syncp.Config{
		Strategy:      cfg.Strategy,
		Mode:          syncp.Mode(cfg.AutoSync),
		Debounce:      cfg.Debounce,
		Cooldown:      cfg.Cooldown,
		HeartbeatBase: cfg.Heartbeat,
		Backup: signature.Options{
			IncludeAudioFiles:        cfg.Backup.IncludeAudioFiles,
			IncludeSettings:          cfg.Backup.IncludeSettings,
			IncludeSensitiveSettings: cfg.Backup.IncludeSensitiveSettings,
		},
	}
	orchestrator := syncp.NewOrchestrator(db, db, client, runner, nil, orchCfg, logger)

	if err := db.SetMeta(context.Background(), localstore.MetaAutoSyncMode, cfg.AutoSync); err != nil {
		logger.Warn("persisting auto-sync mode", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	return fn(ctx, &app{cfg: cfg, log: logger, db: db, orchestrator: orchestrator})
}

// --- Subcommands -------------------------------------------------------------

func runDaemon(ctx context.Context, a *app) error {
	a.log.Info("daemon starting", "heartbeat", a.cfg.Heartbeat)

	if pending, err := a.db.GetMeta(ctx, localstore.MetaFullSyncOnStartup); err == nil && pending != "" {
		a.log.Info("full sync requested by previous restore")
		if _, err := a.orchestrator.SyncNow(ctx); err != nil {
			a.log.Error("startup full sync failed", "error", err)
		} else if err := a.db.SetMeta(ctx, localstore.MetaFullSyncOnStartup, ""); err != nil {
			a.log.Error("clearing startup sync flag", "error", err)
		}
	}

	if err := a.orchestrator.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("sync orchestrator: %w", err)
	}
	a.log.Info("shutdown complete")
	return nil
}

func runSyncOnce(ctx context.Context, a *app) error {
	a.log.Info("running single sync pass")
	stats, err := a.orchestrator.SyncNow(ctx)
	a.log.Info("sync complete",
		"synced", stats.Synced,
		"failed", stats.Failed,
		"conflicts", stats.Conflicts,
	)
	return err
}

func runBackup(ctx context.Context, a *app) error {
	result, err := a.orchestrator.BackupAll(ctx)
	if err != nil {
		return fmt.Errorf("backup: %w", err)
	}
	if result.SkippedNoChanges {
		fmt.Println("Nothing changed since the last backup.")
		return nil
	}
	fmt.Printf("Backed up %d recordings, %d transcripts, %d summaries.\n",
		result.RecordingsBackedUp, result.TranscriptsBackedUp, result.SummariesBackedUp)
	if result.FilesUploaded+result.FilesSkipped > 0 {
		fmt.Printf("Audio files: %d uploaded, %d unchanged.\n", result.FilesUploaded, result.FilesSkipped)
	}
	if result.DuplicatesRemoved > 0 {
		fmt.Printf("Removed %d duplicate remote records.\n", result.DuplicatesRemoved)
	}
	return nil
}

func runRestore(ctx context.Context, a *app) error {
	result, err := a.orchestrator.RestoreAll(ctx)
	if err != nil {
		var ire *backup.IncompleteRestoreError
		if errors.As(err, &ire) {
			fmt.Fprintln(os.Stderr, ire.Error())
			os.Exit(1)
		}
		return fmt.Errorf("restore: %w", err)
	}
	fmt.Printf("Restored %d recordings, %d transcripts, %d summaries.\n",
		result.RecordingsRestored, result.TranscriptsRestored, result.SummariesRestored)

	if err := a.db.SetMeta(ctx, localstore.MetaFullSyncOnStartup, "1"); err != nil {
		a.log.Warn("could not request startup sync", "error", err)
	}
	return nil
}

func runReset(ctx context.Context, a *app) error {
	fmt.Println("This deletes EVERY record in the remote store and re-uploads")
	fmt.Println("the local snapshot. Remote-only data will be lost.")
	fmt.Print("Continue? [y/N]: ")

	answer, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	if strings.ToLower(strings.TrimSpace(answer)) != "y" {
		fmt.Println("Aborted.")
		return nil
	}

	deleted, uploaded, err := a.orchestrator.ResetAndResync(ctx)
	if err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	fmt.Printf("Deleted %d remote records, re-uploaded %d.\n", deleted, uploaded)
	return nil
}

// runStatus prints config and database state without touching the network.
func runStatus() error {
	cfgPath, _ := config.DefaultPath()

	fmt.Println("VoxSync Status")
	fmt.Println("--------------")

	dbPath := ""
	if _, err := os.Stat(cfgPath); err == nil {
		if cfg, loadErr := config.Load(cfgPath); loadErr == nil {
			fmt.Printf("  Config:     %s\n", cfgPath)
			fmt.Printf("  Remote:     %s\n", cfg.RemoteURL)
			fmt.Printf("  Strategy:   %s\n", cfg.Strategy)
			fmt.Printf("  Auto-sync:  %s\n", cfg.AutoSync)
			dbPath = cfg.DBPath
		} else {
			fmt.Printf("  Config:     %s (invalid: %v)\n", cfgPath, loadErr)
		}
	} else {
		fmt.Printf("  Config:     not found (%s)\n", cfgPath)
	}

	if dbPath == "" {
		dbPath, _ = localstore.DefaultDBPath()
	}
	if info, err := os.Stat(dbPath); err == nil {
		fmt.Printf("  Database:   %s (%s)\n", dbPath, humanSize(info.Size()))
		if db, err := localstore.Open(dbPath); err == nil {
			if last, err := db.GetMeta(context.Background(), localstore.MetaLastSyncAt); err == nil && last != "" {
				fmt.Printf("  Last sync:  %s\n", last)
			} else {
				fmt.Printf("  Last sync:  never\n")
			}
			if mode, err := db.GetMeta(context.Background(), localstore.MetaAutoSyncMode); err == nil && mode != "" {
				fmt.Printf("  Last mode:  %s\n", mode)
			}
			_ = db.Close()
		}
	} else {
		fmt.Printf("  Database:   not found\n")
	}

	return nil
}

// humanSize returns a human-readable file size string.
func humanSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
