package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/mindloom/mindloom/internal/storage/sqlite"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "create or migrate the store file without starting the daemon",
		RunE:  runInit,
	}
}

func runInit(cmd *cobra.Command, args []string) error {
	storageDir, _ := cmd.Flags().GetString("storage-dir")
	workspaceID, _ := cmd.Flags().GetString("workspace")

	if err := os.MkdirAll(storageDir, 0o755); err != nil {
		return fmt.Errorf("create storage dir: %w", err)
	}
	dbPath := filepath.Join(storageDir, "store.db")

	now := time.Now().UnixMilli()
	store, err := sqlite.Open(context.Background(), dbPath, now)
	if err != nil {
		return err
	}
	defer store.Close()

	if workspaceID == "" {
		cwd, _ := os.Getwd()
		workspaceID = filepath.Base(cwd)
	}
	if _, err := store.EnsureWorkspace(context.Background(), workspaceID, now); err != nil {
		return fmt.Errorf("ensure workspace %s: %w", workspaceID, err)
	}

	fmt.Printf("initialized store at %s (workspace=%s)\n", dbPath, workspaceID)
	return nil
}
