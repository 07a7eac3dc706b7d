package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mindloom/mindloom/internal/engine"
	"github.com/mindloom/mindloom/internal/graph"
	"github.com/mindloom/mindloom/internal/jobs"
	"github.com/mindloom/mindloom/internal/projector"
	"github.com/mindloom/mindloom/internal/storeerr"
)

// Server accepts connections on a Unix socket and dispatches each newline-delimited
// Request to the engine/jobs/graph/projector layers, one request/response pair per
// line on a persistent connection.
type Server struct {
	socketPath string
	Engine     *engine.Engine
	Jobs       *jobs.Jobs
	Graph      *graph.Graph
	MaxChars   int
	Audit      zerolog.Logger

	Version      string
	DatabasePath string
	StartedAtMs  int64

	mu       sync.Mutex
	listener net.Listener
	shutdown bool
	done     chan struct{}
}

// NewServer constructs a daemon RPC server. audit is the transport-facing
// request/response log; callers typically build it with zerolog.New(file).With().Timestamp().Logger().
func NewServer(socketPath string, eng *engine.Engine, jb *jobs.Jobs, gr *graph.Graph, maxChars int, audit zerolog.Logger) *Server {
	return &Server{
		socketPath: socketPath,
		Engine:     eng,
		Jobs:       jb,
		Graph:      gr,
		MaxChars:   maxChars,
		Audit:      audit,
		done:       make(chan struct{}),
	}
}

// Start binds the Unix socket and serves connections until Stop is called or ctx is
// canceled. It blocks until the listener closes.
func (s *Server) Start(ctx context.Context) error {
	if _, err := EnsureSocketDir(s.socketPath); err != nil {
		return fmt.Errorf("ensure socket dir: %w", err)
	}
	_ = os.Remove(s.socketPath)

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.socketPath, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			shutdown := s.shutdown
			s.mu.Unlock()
			if shutdown {
				close(s.done)
				return nil
			}
			return err
		}
		go s.handleConn(conn)
	}
}

// Stop closes the listener, unblocking Start's accept loop.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		return
	}
	s.shutdown = true
	if s.listener != nil {
		_ = s.listener.Close()
	}
	_ = CleanupSocketDir(s.socketPath)
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			return
		}
		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			writeResponse(conn, Response{Success: false, Error: "malformed request: " + err.Error(), Code: string(storeerr.InvalidInput)})
			continue
		}
		resp := s.dispatch(context.Background(), &req)
		writeResponse(conn, resp)
	}
}

func writeResponse(conn net.Conn, resp Response) {
	buf, err := json.Marshal(resp)
	if err != nil {
		buf, _ = json.Marshal(Response{Success: false, Error: "failed to marshal response"})
	}
	w := bufio.NewWriter(conn)
	w.Write(buf)
	w.WriteByte('\n')
	w.Flush()
}

// dispatch routes one request to its handler, wraps the result in the wire envelope,
// applies the response-budget projector, and records a one-line audit entry.
func (s *Server) dispatch(ctx context.Context, req *Request) Response {
	start := time.Now()
	resp := s.route(ctx, req)

	maxChars := s.MaxChars
	if req.MaxChars != nil {
		maxChars = *req.MaxChars
	}
	clamped, wasClamped := projector.ClampBudget(maxChars)
	maxChars = clamped
	if wasClamped {
		resp.Warnings = append(resp.Warnings, Warning{
			Code:    projector.WarnBudgetClamped,
			Message: "requested max_chars was out of bounds and was clamped",
		})
	}

	if resp.Success && len(resp.Result) > maxChars {
		doc := wrapAsCapsule(resp.Result)
		rendered, truncated, minimal := projector.Project(doc, maxChars)
		if truncated {
			resp.Result = rendered
			resp.Truncated = true
			code := projector.WarnBudgetTruncated
			if minimal {
				code = projector.WarnBudgetMinimal
			}
			resp.Warnings = append(resp.Warnings, Warning{
				Code:    code,
				Message: "response exceeded max_chars and was compacted",
			})
		}
	}

	s.Audit.Info().
		Str("operation", req.Operation).
		Str("request_id", req.RequestID).
		Str("workspace", req.Workspace).
		Bool("success", resp.Success).
		Str("code", resp.Code).
		Dur("latency", time.Since(start)).
		Msg("rpc")

	return resp
}

// wrapAsCapsule lifts an arbitrary handler result into a generic capsule so any
// oversized response, not just a dedicated capsule view, can still run through the
// compaction ladder. Object results are copied in directly; non-object results (e.g. a
// bare array) are nested under "items".
func wrapAsCapsule(result json.RawMessage) projector.Capsule {
	doc := projector.Capsule{"capsule": map[string]any{"type": "raw"}}
	var decoded any
	if err := json.Unmarshal(result, &decoded); err != nil {
		return doc
	}
	if obj, ok := decoded.(map[string]any); ok {
		for k, v := range obj {
			doc[k] = v
		}
		if _, hasCapsule := obj["capsule"]; !hasCapsule {
			doc["capsule"] = map[string]any{"type": "raw"}
		}
		return doc
	}
	doc["items"] = decoded
	return doc
}

func (s *Server) route(ctx context.Context, req *Request) Response {
	switch req.Operation {
	case OpPing:
		return ok(map[string]bool{"ok": true})

	case OpTasksCreate:
		return s.handleTasksCreate(ctx, req)
	case OpTasksGet:
		return s.handleTasksGet(ctx, req)
	case OpTasksList:
		return s.handleTasksList(ctx, req)
	case OpTasksTransition:
		return s.handleTasksTransition(ctx, req)
	case OpTasksPark:
		return s.handleTasksPark(ctx, req)

	case OpStepsAdd:
		return s.handleStepsAdd(ctx, req)
	case OpStepsList:
		return s.handleStepsList(ctx, req)
	case OpStepsComplete:
		return s.handleStepsComplete(ctx, req)
	case OpTasksCloseStep:
		return s.handleTasksCloseStep(ctx, req)

	case OpLeaseClaim:
		return s.handleLeaseClaim(ctx, req)
	case OpLeaseRenew:
		return s.handleLeaseRenew(ctx, req)
	case OpLeaseRelease:
		return s.handleLeaseRelease(ctx, req)
	case OpLeaseGet:
		return s.handleLeaseGet(ctx, req)

	case OpAnchorsUpsert:
		return s.handleAnchorsUpsert(ctx, req)
	case OpAnchorsGet:
		return s.handleAnchorsGet(ctx, req)
	case OpAnchorsList:
		return s.handleAnchorsList(ctx, req)
	case OpKnowledgeQuery:
		return s.handleKnowledgeQuery(ctx, req)

	case OpGraphAddCard:
		return s.handleGraphAddCard(ctx, req)
	case OpGraphLink:
		return s.handleGraphLink(ctx, req)
	case OpGraphTrace:
		return s.handleGraphTrace(ctx, req)

	case OpKnowledgeLint:
		return s.handleKnowledgeLint(ctx, req)

	case OpJobsCreate:
		return s.handleJobsCreate(ctx, req)
	case OpJobsClaim:
		return s.handleJobsClaim(ctx, req)
	case OpJobsComplete:
		return s.handleJobsComplete(ctx, req)
	case OpJobsGet:
		return s.handleJobsGet(ctx, req)
	case OpJobsList:
		return s.handleJobsList(ctx, req)
	case OpJobsCancel:
		return s.handleJobsCancel(ctx, req)
	case OpJobsWait:
		return s.handleJobsWait(ctx, req)

	case OpMeshPublish:
		return s.handleMeshPublish(ctx, req)
	case OpMeshPull:
		return s.handleMeshPull(ctx, req)
	case OpMeshAck:
		return s.handleMeshAck(ctx, req)

	case OpTasksRadar:
		return s.handleTasksRadar(ctx, req)
	case OpTasksHandoff:
		return s.handleTasksHandoff(ctx, req)
	case OpTasksContextPack:
		return s.handleTasksContextPack(ctx, req)
	case OpTasksResumeSuper:
		return s.handleTasksResumeSuper(ctx, req)
	case OpThinkPack:
		return s.handleThinkPack(ctx, req)

	case OpStatus:
		return s.handleStatus(ctx, req)
	case OpSnapshot:
		return s.handleSnapshot(ctx, req)
	case OpShutdown:
		return s.handleShutdown(ctx, req)

	default:
		return errResp(storeerr.New(storeerr.UnknownVerb, "unknown operation: "+req.Operation))
	}
}

func ok(v any) Response {
	data, err := json.Marshal(v)
	if err != nil {
		return errResp(storeerr.Wrap(storeerr.StoreErrorCode, "failed to marshal response", err))
	}
	return Response{Success: true, Result: data}
}

func errResp(err error) Response {
	if se, isStoreErr := err.(*storeerr.Error); isStoreErr {
		return Response{
			Success:  false,
			Error:    se.Error(),
			Code:     string(se.Code),
			Recovery: se.Recovery,
			Actions:  recoveryActions(se),
		}
	}
	return Response{Success: false, Error: err.Error(), Code: string(storeerr.StoreErrorCode)}
}

// recoveryActions suggests follow-up operations for error shapes callers commonly need
// to untangle: a held step lease, or a job that is already terminal.
func recoveryActions(se *storeerr.Error) []Action {
	switch se.Data.(type) {
	case *storeerr.StepLeaseHeldData:
		return []Action{
			{Command: OpLeaseGet, Label: "check who holds the lease", Priority: "high"},
			{Command: OpLeaseClaim + " force=true", Label: "force-claim if the holder is stale", Priority: "medium"},
		}
	case *storeerr.JobAlreadyTerminalData:
		return []Action{
			{Command: OpJobsGet, Label: "inspect the terminal job", Priority: "medium"},
		}
	default:
		return nil
	}
}

func unmarshalArgs[T any](req *Request) (T, error) {
	var v T
	if len(req.Args) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(req.Args, &v); err != nil {
		return v, storeerr.Wrap(storeerr.InvalidInput, "invalid args", err)
	}
	return v, nil
}
