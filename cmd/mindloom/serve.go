package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mindloom/mindloom/internal/config"
	"github.com/mindloom/mindloom/internal/daemon"
	"github.com/mindloom/mindloom/internal/engine"
	"github.com/mindloom/mindloom/internal/graph"
	"github.com/mindloom/mindloom/internal/jobs"
	"github.com/mindloom/mindloom/internal/projector"
	"github.com/mindloom/mindloom/internal/rpc"
	"github.com/mindloom/mindloom/internal/storage/sqlite"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the daemon: open the store and accept RPC connections",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	storageDir, _ := flags.GetString("storage-dir")
	workspaceID, _ := flags.GetString("workspace")
	allowlistPath, _ := flags.GetString("workspace-allowlist")
	workspaceLock, _ := flags.GetBool("workspace-lock")
	socketOverride, _ := flags.GetString("socket")
	hotReload, _ := flags.GetBool("hot-reload")
	hotReloadPollMs, _ := flags.GetInt("hot-reload-poll-ms")
	toolset, _ := flags.GetString("toolset")

	if err := os.MkdirAll(storageDir, 0o755); err != nil {
		return fmt.Errorf("create storage dir: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var allowlist *config.WorkspaceAllowlist
	if allowlistPath != "" {
		allowlist, err = config.LoadWorkspaceAllowlist(allowlistPath)
		if err != nil {
			return err
		}
	}
	if workspaceID == "" {
		workspaceID = cfg.DefaultWorkspace
	}
	if workspaceID == "" {
		cwd, _ := os.Getwd()
		workspaceID = filepath.Base(cwd)
	}
	if workspaceLock && !allowlist.Allows(workspaceID) {
		return fmt.Errorf("workspace %q is not in the allowlist", workspaceID)
	}

	now := func() int64 { return time.Now().UnixMilli() }

	lock := daemon.NewLock(storageDir)
	acquired, err := lock.TryAcquire()
	if err != nil {
		return err
	}
	if !acquired {
		return fmt.Errorf("another daemon already owns %s", storageDir)
	}
	defer lock.Release()
	if err := daemon.WritePIDFile(storageDir); err != nil {
		return err
	}

	dbPath := filepath.Join(storageDir, "store.db")
	if cfg.DatabasePath != "" {
		dbPath = cfg.DatabasePath
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := sqlite.Open(ctx, dbPath, now())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	if _, err := store.EnsureWorkspace(ctx, workspaceID, now()); err != nil {
		return fmt.Errorf("ensure workspace %s: %w", workspaceID, err)
	}

	eng := engine.New(store, now)
	jb := jobs.New(store, now)
	gr := graph.New(store, now)

	logPath := filepath.Join(storageDir, "daemon.log")
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer logFile.Close()
	audit := zerolog.New(logFile).With().Timestamp().Logger()

	socketPath := socketOverride
	if socketPath == "" {
		socketPath = cfg.SocketPath
	}
	if socketPath == "" {
		abs, _ := filepath.Abs(storageDir)
		socketPath = rpc.ShortSocketPath(filepath.Dir(abs))
	}

	maxChars := cfg.MaxBudgetChars
	if maxChars <= 0 {
		maxChars = projector.PortalDefaultMaxChars(toolset, false)
	}

	server := rpc.NewServer(socketPath, eng, jb, gr, maxChars, audit)
	server.Version = version
	server.DatabasePath = dbPath
	server.StartedAtMs = now()

	sup := daemon.NewSupervisor(ctx)
	sup.Go(func() error { return server.Start(sup.Context()) })

	if hotReload {
		watcher, werr := daemon.NewWatcher(dbPath, time.Duration(hotReloadPollMs)*time.Millisecond, func() {
			audit.Info().Str("path", dbPath).Msg("store file changed on disk")
		})
		if werr == nil {
			defer watcher.Close()
		} else {
			audit.Warn().Err(werr).Msg("hot reload disabled: fsnotify unavailable")
		}
	}

	audit.Info().Str("socket", socketPath).Str("workspace", workspaceID).Msg("daemon ready")
	fmt.Fprintf(os.Stderr, "mindloom daemon listening on %s (workspace=%s)\n", socketPath, workspaceID)

	return sup.Wait()
}
