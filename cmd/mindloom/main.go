// Command mindloom is the thin external dispatcher shell around the reasoning store:
// op aliases, unknown-args policy and the daemon lifecycle live here, deliberately
// kept small and free of domain logic, which lives entirely in internal/engine.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is stamped at release time; left as a placeholder for local builds.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "mindloom",
		Short: "content-addressed reasoning and work-tracking store for AI agents",
		Long: "mindloom is the transactional state engine for agent reasoning: branches, " +
			"commits, tasks, steps, anchors, knowledge and the job pipeline, exposed over " +
			"a Unix-socket JSON-RPC protocol to tool-calling agents.",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("storage-dir", ".mindloom", "directory holding the store file and daemon lock")
	root.PersistentFlags().String("workspace", "", "default workspace id (derived from repo root if unset)")
	root.PersistentFlags().String("workspace-allowlist", "", "path to a workspace-allowlist file (YAML)")
	root.PersistentFlags().Bool("workspace-lock", false, "refuse to serve any workspace other than --workspace")
	root.PersistentFlags().String("project-guard", "", "one-shot project-guard identity hash")
	root.PersistentFlags().String("agent-id", "", "identity recorded on leases/mesh messages this process issues")
	root.PersistentFlags().String("toolset", "core", "core|daily|full — controls projector budget tiers")
	root.PersistentFlags().Bool("shared", false, "allow a non-default workspace to be served without --workspace-lock")
	root.PersistentFlags().Bool("daemon", false, "run as a background daemon instead of foreground")
	root.PersistentFlags().String("socket", "", "override the daemon's Unix socket path")
	root.PersistentFlags().Bool("hot-reload", true, "watch the store file/config for out-of-process changes")
	root.PersistentFlags().Int("hot-reload-poll-ms", 500, "debounce window for hot-reload events")
	root.PersistentFlags().Bool("viewer", false, "enable the optional read-only HTTP viewer")
	root.PersistentFlags().Int("viewer-port", 0, "HTTP viewer port (0 picks an ephemeral port)")
	root.PersistentFlags().Bool("runner-autostart", false, "auto-start a job runner subprocess on daemon start")
	root.PersistentFlags().Bool("runner-autostart-dry-run", false, "log what runner-autostart would do without starting it")

	root.AddCommand(newServeCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newVersionCmd())
	root.AddCommand(newInitCmd())

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the mindloom version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(version)
			return nil
		},
	}
}
