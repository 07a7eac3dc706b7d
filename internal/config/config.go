// Package config loads the on-disk daemon/workspace configuration: a layered
// discovery (project dir, user config dir, home dir) over a config.toml file.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config is the daemon/workspace configuration loaded from config.toml.
type Config struct {
	SocketPath       string `toml:"socket_path"`
	DefaultWorkspace string `toml:"default_workspace"`
	DatabasePath     string `toml:"database_path"`
	ProjectGuard     string `toml:"project_guard"`
	LogLevel         string `toml:"log_level"`
	MaxBudgetChars   int    `toml:"max_budget_chars"`
}

// Default returns the zero-config defaults used when no config.toml is found.
func Default() Config {
	return Config{
		SocketPath:     defaultSocketPath(),
		DatabasePath:   ".mindloom/store.db",
		LogLevel:       "info",
		MaxBudgetChars: 8000,
	}
}

// Load walks from cwd upward looking for .mindloom/config.toml, then falls back to
// the user config dir and home dir.
func Load() (Config, error) {
	cfg := Default()

	cwd, err := os.Getwd()
	if err == nil {
		for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
			path := filepath.Join(dir, ".mindloom", "config.toml")
			if _, statErr := os.Stat(path); statErr == nil {
				return decodeInto(cfg, path)
			}
		}
	}

	if configDir, err := os.UserConfigDir(); err == nil {
		path := filepath.Join(configDir, "mindloom", "config.toml")
		if _, statErr := os.Stat(path); statErr == nil {
			return decodeInto(cfg, path)
		}
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		path := filepath.Join(homeDir, ".mindloom", "config.toml")
		if _, statErr := os.Stat(path); statErr == nil {
			return decodeInto(cfg, path)
		}
	}

	return cfg, nil
}

func decodeInto(base Config, path string) (Config, error) {
	cfg := base
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return base, fmt.Errorf("decode config at %s: %w", path, err)
	}
	return cfg, nil
}

func defaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "mindloom", "daemon.sock")
	}
	return filepath.Join(os.TempDir(), "mindloom.sock")
}

// WorkspaceAllowlist is the set of workspace ids a daemon instance is permitted to
// serve, loaded from YAML so fleet operators can reuse existing allowlist tooling.
type WorkspaceAllowlist struct {
	Workspaces []string `yaml:"workspaces"`
}

// LoadWorkspaceAllowlist reads a workspace-allowlist.yaml file. A missing file is not
// an error: it means every workspace id is allowed.
func LoadWorkspaceAllowlist(path string) (*WorkspaceAllowlist, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read workspace allowlist %s: %w", path, err)
	}
	var allow WorkspaceAllowlist
	if err := yaml.Unmarshal(data, &allow); err != nil {
		return nil, fmt.Errorf("parse workspace allowlist %s: %w", path, err)
	}
	return &allow, nil
}

// Allows reports whether workspaceID may be served. A nil allowlist allows everything.
func (a *WorkspaceAllowlist) Allows(workspaceID string) bool {
	if a == nil {
		return true
	}
	for _, id := range a.Workspaces {
		if id == workspaceID {
			return true
		}
	}
	return false
}
