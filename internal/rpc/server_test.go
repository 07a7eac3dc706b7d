package rpc

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mindloom/mindloom/internal/engine"
	"github.com/mindloom/mindloom/internal/graph"
	"github.com/mindloom/mindloom/internal/jobs"
	"github.com/mindloom/mindloom/internal/storage/sqlite"
)

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")
	socketPath := filepath.Join(tmpDir, "daemon.sock")

	now := func() int64 { return time.Now().UnixMilli() }

	db, err := sqlite.Open(context.Background(), dbPath, now())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := db.EnsureWorkspace(context.Background(), "ws-test", now()); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}

	eng := engine.New(db, now)
	jb := jobs.New(db, now)
	gr := graph.New(db, now)

	srv := NewServer(socketPath, eng, jb, gr, 20000, zerolog.New(os.Stderr))
	return srv, socketPath
}

func startTestServer(t *testing.T, srv *Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(ctx) }()
	t.Cleanup(srv.Stop)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c, err := TryDial(srv.socketPath, 200*time.Millisecond)
		if c != nil {
			c.Close()
			return
		}
		_ = err
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("server did not become ready")
}

func TestPing(t *testing.T) {
	srv, socketPath := newTestServer(t)
	startTestServer(t, srv)

	client, err := Dial(socketPath, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	if err := client.Ping(); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestTaskLifecycleOverSocket(t *testing.T) {
	srv, socketPath := newTestServer(t)
	startTestServer(t, srv)

	client, err := Dial(socketPath, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	resp, err := client.Call("ws-test", OpTasksCreate, tasksCreateArgs{
		Kind:  "task",
		Title: "write onboarding doc",
	}, nil)
	if err != nil {
		t.Fatalf("tasks.create: %v", err)
	}
	if !resp.Success {
		t.Fatalf("expected success, got %s", resp.Error)
	}

	resp, err = client.Call("ws-test", OpTasksList, tasksListArgs{}, nil)
	if err != nil {
		t.Fatalf("tasks.list: %v", err)
	}
	if !resp.Success {
		t.Fatalf("expected success, got %s", resp.Error)
	}
}

func TestStatusOverSocket(t *testing.T) {
	srv, socketPath := newTestServer(t)
	srv.Version = "test-version"
	srv.StartedAtMs = time.Now().UnixMilli()
	startTestServer(t, srv)

	client, err := Dial(socketPath, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	resp, err := client.Call("", OpStatus, nil, nil)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !resp.Success {
		t.Fatalf("expected success, got %s", resp.Error)
	}
	var status StatusResponse
	if err := json.Unmarshal(resp.Result, &status); err != nil {
		t.Fatalf("unmarshal status: %v", err)
	}
	if status.Version != "test-version" {
		t.Fatalf("expected version test-version, got %q", status.Version)
	}
}

func TestSnapshotOverSocket(t *testing.T) {
	srv, socketPath := newTestServer(t)
	startTestServer(t, srv)

	client, err := Dial(socketPath, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	if _, err := client.Call("ws-test", OpTasksCreate, tasksCreateArgs{Kind: "task", Title: "audit the login flow"}, nil); err != nil {
		t.Fatalf("tasks.create: %v", err)
	}

	resp, err := client.Call("ws-test", OpSnapshot, nil, nil)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if !resp.Success {
		t.Fatalf("expected success, got %s", resp.Error)
	}
}

func TestShutdownOverSocket(t *testing.T) {
	srv, socketPath := newTestServer(t)
	startTestServer(t, srv)

	client, err := Dial(socketPath, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	resp, err := client.Call("", OpShutdown, nil, nil)
	if err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if !resp.Success {
		t.Fatalf("expected success, got %s", resp.Error)
	}
}

func TestUnknownOperation(t *testing.T) {
	srv, socketPath := newTestServer(t)
	startTestServer(t, srv)

	client, err := Dial(socketPath, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	_, err = client.Call("ws-test", "nonsense.op", nil, nil)
	if err == nil {
		t.Fatal("expected error for unknown operation")
	}
}
