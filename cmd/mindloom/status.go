package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/mindloom/mindloom/internal/daemon"
	"github.com/mindloom/mindloom/internal/rpc"
)

func newStatusCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "report whether a daemon is running for this storage dir",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print machine-readable JSON")
	return cmd
}

func runStatus(cmd *cobra.Command, asJSON bool) error {
	storageDir, _ := cmd.Flags().GetString("storage-dir")
	socketOverride, _ := cmd.Flags().GetString("socket")

	socketPath := socketOverride
	if socketPath == "" {
		abs, _ := filepath.Abs(storageDir)
		socketPath = rpc.ShortSocketPath(filepath.Dir(abs))
	}

	pid := daemon.ReadPIDFile(storageDir)
	exists, modTime := daemon.StatSnapshot(filepath.Join(storageDir, "store.db"))

	resp := rpc.StatusResponse{
		Version:      version,
		DatabasePath: filepath.Join(storageDir, "store.db"),
		PID:          pid,
	}

	client, dialErr := rpc.TryDial(socketPath, 500*time.Millisecond)
	alive := dialErr == nil && client != nil
	if client != nil {
		defer client.Close()
		if statusResp, err := client.Call("", rpc.OpStatus, nil, nil); err == nil && statusResp.Success {
			var live rpc.StatusResponse
			if json.Unmarshal(statusResp.Result, &live) == nil {
				resp = live
			}
		}
	}

	if asJSON {
		payload := struct {
			rpc.StatusResponse
			Alive       bool   `json:"alive"`
			SocketPath  string `json:"socket_path"`
			StoreExists bool   `json:"store_exists"`
			StoreModMs  int64  `json:"store_modified_ms,omitempty"`
		}{
			StatusResponse: resp,
			Alive:          alive,
			SocketPath:     socketPath,
			StoreExists:    exists,
		}
		if exists {
			payload.StoreModMs = modTime.UnixMilli()
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(payload)
	}

	state := "stopped"
	if alive {
		state = "running"
	}
	fmt.Printf("daemon: %s\n", state)
	fmt.Printf("socket: %s\n", socketPath)
	fmt.Printf("store:  %s", resp.DatabasePath)
	if exists {
		fmt.Printf(" (modified %s)", modTime.Format(time.RFC3339))
	} else {
		fmt.Print(" (not yet created)")
	}
	fmt.Println()
	if pid != 0 {
		fmt.Printf("pid:    %d\n", pid)
	}
	return nil
}
