package rpc

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/mindloom/mindloom/internal/engine"
	"github.com/mindloom/mindloom/internal/graph"
	"github.com/mindloom/mindloom/internal/jobs"
	"github.com/mindloom/mindloom/internal/model"
	"github.com/mindloom/mindloom/internal/projector"
	"github.com/mindloom/mindloom/internal/storeerr"
)

// --- tasks ---

type tasksCreateArgs struct {
	Kind          string `json:"kind"`
	Title         string `json:"title"`
	Description   string `json:"description"`
	Priority      int    `json:"priority"`
	ParentPlanID  string `json:"parent_plan_id"`
	ReasoningMode string `json:"reasoning_mode"`
}

func (s *Server) handleTasksCreate(ctx context.Context, req *Request) Response {
	args, err := unmarshalArgs[tasksCreateArgs](req)
	if err != nil {
		return errResp(err)
	}
	t, err := s.Engine.CreateTask(ctx, engine.CreateTaskInput{
		WorkspaceID:   req.Workspace,
		Kind:          args.Kind,
		Title:         args.Title,
		Description:   args.Description,
		Priority:      args.Priority,
		ParentPlanID:  args.ParentPlanID,
		ReasoningMode: args.ReasoningMode,
	})
	if err != nil {
		return errResp(err)
	}
	return ok(t)
}

type taskIDArgs struct {
	TaskID string `json:"task_id"`
}

func (s *Server) handleTasksGet(ctx context.Context, req *Request) Response {
	args, err := unmarshalArgs[taskIDArgs](req)
	if err != nil {
		return errResp(err)
	}
	t, err := s.Engine.GetTask(ctx, req.Workspace, args.TaskID)
	if err != nil {
		return errResp(err)
	}
	return ok(t)
}

type tasksListArgs struct {
	Status string `json:"status"`
}

func (s *Server) handleTasksList(ctx context.Context, req *Request) Response {
	args, err := unmarshalArgs[tasksListArgs](req)
	if err != nil {
		return errResp(err)
	}
	ts, err := s.Engine.ListTasks(ctx, req.Workspace, args.Status)
	if err != nil {
		return errResp(err)
	}
	return ok(ts)
}

type tasksTransitionArgs struct {
	TaskID           string `json:"task_id"`
	ExpectedRevision int64  `json:"expected_revision"`
	NewStatus        string `json:"new_status"`
}

func (s *Server) handleTasksTransition(ctx context.Context, req *Request) Response {
	args, err := unmarshalArgs[tasksTransitionArgs](req)
	if err != nil {
		return errResp(err)
	}
	t, err := s.Engine.TransitionTask(ctx, req.Workspace, args.TaskID, args.ExpectedRevision, args.NewStatus)
	if err != nil {
		return errResp(err)
	}
	return ok(t)
}

type tasksParkArgs struct {
	TaskID           string `json:"task_id"`
	ExpectedRevision int64  `json:"expected_revision"`
	ParkedUntilMs    int64  `json:"parked_until_ms"`
}

func (s *Server) handleTasksPark(ctx context.Context, req *Request) Response {
	args, err := unmarshalArgs[tasksParkArgs](req)
	if err != nil {
		return errResp(err)
	}
	t, err := s.Engine.ParkTask(ctx, req.Workspace, args.TaskID, args.ExpectedRevision, args.ParkedUntilMs)
	if err != nil {
		return errResp(err)
	}
	return ok(t)
}

// --- steps ---

type stepsAddArgs struct {
	TaskID          string   `json:"task_id"`
	Path            string   `json:"path"`
	Title           string   `json:"title"`
	SuccessCriteria []string `json:"success_criteria"`
	Tests           []string `json:"tests"`
}

func (s *Server) handleStepsAdd(ctx context.Context, req *Request) Response {
	args, err := unmarshalArgs[stepsAddArgs](req)
	if err != nil {
		return errResp(err)
	}
	step, err := s.Engine.AddStep(ctx, engine.AddStepInput{
		WorkspaceID:     req.Workspace,
		TaskID:          args.TaskID,
		Path:            args.Path,
		Title:           args.Title,
		SuccessCriteria: args.SuccessCriteria,
		Tests:           args.Tests,
	})
	if err != nil {
		return errResp(err)
	}
	return ok(step)
}

func (s *Server) handleStepsList(ctx context.Context, req *Request) Response {
	args, err := unmarshalArgs[taskIDArgs](req)
	if err != nil {
		return errResp(err)
	}
	steps, err := s.Engine.ListSteps(ctx, req.Workspace, args.TaskID)
	if err != nil {
		return errResp(err)
	}
	return ok(steps)
}

type stepsCompleteArgs struct {
	TaskID string `json:"task_id"`
	StepID string `json:"step_id"`
}

func (s *Server) handleStepsComplete(ctx context.Context, req *Request) Response {
	args, err := unmarshalArgs[stepsCompleteArgs](req)
	if err != nil {
		return errResp(err)
	}
	step, err := s.Engine.CompleteStep(ctx, req.Workspace, args.TaskID, args.StepID)
	if err != nil {
		return errResp(err)
	}
	return ok(step)
}

type tasksCloseStepArgs struct {
	TaskID   string `json:"task_id"`
	Path     string `json:"path"`
	Branch   string `json:"branch"`
	GraphDoc string `json:"graph_doc"`
	Override *struct {
		Reason string `json:"reason"`
		Risk   string `json:"risk"`
	} `json:"override"`
}

// handleTasksCloseStep is tasks.close.step / tasks.macro.close.step: the strict
// reasoning gate runs here before a step is allowed to complete.
func (s *Server) handleTasksCloseStep(ctx context.Context, req *Request) Response {
	args, err := unmarshalArgs[tasksCloseStepArgs](req)
	if err != nil {
		return errResp(err)
	}
	var override *engine.Override
	if args.Override != nil {
		override = &engine.Override{Reason: args.Override.Reason, Risk: args.Override.Risk}
	}
	result, err := s.Engine.CloseStep(ctx, engine.CloseStepInput{
		WorkspaceID: req.Workspace,
		TaskID:      args.TaskID,
		Path:        args.Path,
		Branch:      args.Branch,
		GraphDoc:    args.GraphDoc,
		Override:    override,
	})
	if err != nil {
		return errResp(err)
	}
	resp := ok(result.Step)
	if result.Warning != "" {
		resp.Code = result.Warning
	}
	return resp
}

// --- leases ---

type leaseArgs struct {
	TaskID        string `json:"task_id"`
	StepID        string `json:"step_id"`
	HolderAgentID string `json:"holder_agent_id"`
	LeaseTicks    int64  `json:"lease_ticks"`
	Force         bool   `json:"force"`
}

func (s *Server) handleLeaseClaim(ctx context.Context, req *Request) Response {
	args, err := unmarshalArgs[leaseArgs](req)
	if err != nil {
		return errResp(err)
	}
	lease, err := s.Engine.AcquireLease(ctx, req.Workspace, args.TaskID, args.StepID, args.HolderAgentID, args.LeaseTicks, args.Force)
	if err != nil {
		return errResp(err)
	}
	return ok(lease)
}

func (s *Server) handleLeaseRenew(ctx context.Context, req *Request) Response {
	args, err := unmarshalArgs[leaseArgs](req)
	if err != nil {
		return errResp(err)
	}
	lease, err := s.Engine.RenewLease(ctx, req.Workspace, args.TaskID, args.StepID, args.HolderAgentID, args.LeaseTicks)
	if err != nil {
		return errResp(err)
	}
	return ok(lease)
}

func (s *Server) handleLeaseRelease(ctx context.Context, req *Request) Response {
	args, err := unmarshalArgs[leaseArgs](req)
	if err != nil {
		return errResp(err)
	}
	if err := s.Engine.ReleaseLease(ctx, req.Workspace, args.TaskID, args.StepID, args.HolderAgentID); err != nil {
		return errResp(err)
	}
	return ok(map[string]bool{"released": true})
}

func (s *Server) handleLeaseGet(ctx context.Context, req *Request) Response {
	args, err := unmarshalArgs[stepsCompleteArgs](req)
	if err != nil {
		return errResp(err)
	}
	lease, err := s.Engine.GetLease(ctx, req.Workspace, args.TaskID, args.StepID)
	if err != nil {
		return errResp(err)
	}
	return ok(lease)
}

// --- anchors / knowledge ---

type anchorsUpsertArgs struct {
	RawID       string    `json:"raw_id"`
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Kind        string    `json:"kind"`
	Description *string   `json:"description"`
	Refs        *[]string `json:"refs"`
	Aliases     *[]string `json:"aliases"`
	ParentID    *string   `json:"parent_id"`
	DependsOn   *[]string `json:"depends_on"`
}

func (s *Server) handleAnchorsUpsert(ctx context.Context, req *Request) Response {
	args, err := unmarshalArgs[anchorsUpsertArgs](req)
	if err != nil {
		return errResp(err)
	}
	a, err := s.Engine.UpsertAnchor(ctx, engine.UpsertAnchorInput{
		WorkspaceID: req.Workspace,
		RawID:       args.RawID,
		ID:          args.ID,
		Title:       args.Title,
		Kind:        args.Kind,
		Description: args.Description,
		Refs:        args.Refs,
		Aliases:     args.Aliases,
		ParentID:    args.ParentID,
		DependsOn:   args.DependsOn,
	})
	if err != nil {
		return errResp(err)
	}
	return ok(a)
}

type anchorIDArgs struct {
	ID string `json:"id"`
}

func (s *Server) handleAnchorsGet(ctx context.Context, req *Request) Response {
	args, err := unmarshalArgs[anchorIDArgs](req)
	if err != nil {
		return errResp(err)
	}
	a, aliasResolved, err := s.Engine.ResolveAnchor(ctx, req.Workspace, args.ID)
	if err != nil {
		return errResp(err)
	}
	return ok(map[string]any{"anchor": a, "alias_resolved": aliasResolved})
}

func (s *Server) handleAnchorsList(ctx context.Context, req *Request) Response {
	anchors, err := s.Engine.ListAnchors(ctx, req.Workspace)
	if err != nil {
		return errResp(err)
	}
	return ok(anchors)
}

type knowledgeQueryArgs struct {
	AnchorID       string `json:"anchor_id"`
	Key            string `json:"key"`
	IncludeHistory bool   `json:"include_history"`
}

func (s *Server) handleKnowledgeQuery(ctx context.Context, req *Request) Response {
	args, err := unmarshalArgs[knowledgeQueryArgs](req)
	if err != nil {
		return errResp(err)
	}
	rows, err := s.Engine.QueryKnowledge(ctx, req.Workspace, args.AnchorID, args.Key, args.IncludeHistory)
	if err != nil {
		return errResp(err)
	}
	return ok(rows)
}

// --- graph ---

type graphAddCardArgs struct {
	Branch   string   `json:"branch"`
	GraphDoc string   `json:"graph_doc"`
	Type     string   `json:"type"`
	Title    string   `json:"title"`
	Text     string   `json:"text"`
	Tags     []string `json:"tags"`
}

func (s *Server) handleGraphAddCard(ctx context.Context, req *Request) Response {
	args, err := unmarshalArgs[graphAddCardArgs](req)
	if err != nil {
		return errResp(err)
	}
	c, err := s.Graph.AddCard(ctx, graph.AddCardInput{
		WorkspaceID: req.Workspace,
		Branch:      args.Branch,
		GraphDoc:    args.GraphDoc,
		Type:        args.Type,
		Title:       args.Title,
		Text:        args.Text,
		Tags:        args.Tags,
	})
	if err != nil {
		return errResp(err)
	}
	return ok(c)
}

type graphLinkArgs struct {
	FromID string `json:"from_id"`
	ToID   string `json:"to_id"`
	Kind   string `json:"kind"`
}

func (s *Server) handleGraphLink(ctx context.Context, req *Request) Response {
	args, err := unmarshalArgs[graphLinkArgs](req)
	if err != nil {
		return errResp(err)
	}
	if err := s.Graph.Link(ctx, req.Workspace, args.FromID, args.ToID, args.Kind); err != nil {
		return errResp(err)
	}
	return ok(map[string]bool{"linked": true})
}

type graphTraceArgs struct {
	Branch   string `json:"branch"`
	GraphDoc string `json:"graph_doc"`
	TaskID   string `json:"task_id"`
	Path     string `json:"path"`
	Lane     string `json:"lane"`
}

// handleGraphTrace derives the trace-sequential view (graph.trace): never a stored
// graph, always recomputed from each card's thoughtNumber metadata and visibility
// lane. Any meta-lint warnings the derivation surfaces (at most two) are folded into
// the response under TRACE_META_LINT.
func (s *Server) handleGraphTrace(ctx context.Context, req *Request) Response {
	args, err := unmarshalArgs[graphTraceArgs](req)
	if err != nil {
		return errResp(err)
	}
	steps, warnings, err := s.Graph.Trace(ctx, req.Workspace, args.Branch, args.GraphDoc, graph.TraceFilter{
		TaskID: args.TaskID,
		Path:   args.Path,
		Lane:   args.Lane,
	})
	if err != nil {
		return errResp(err)
	}
	resp := ok(steps)
	for _, w := range warnings {
		resp.Warnings = append(resp.Warnings, Warning{Code: "TRACE_META_LINT", Message: w})
	}
	return resp
}

// knowledgeLintArgs accepts either a single anchor id or a list; omitted means lint
// every anchor in the workspace.
type knowledgeLintArgs struct {
	Limit  int             `json:"limit"`
	Anchor json.RawMessage `json:"anchor"`
}

func (s *Server) handleKnowledgeLint(ctx context.Context, req *Request) Response {
	args, err := unmarshalArgs[knowledgeLintArgs](req)
	if err != nil {
		return errResp(err)
	}
	limit := args.Limit
	if limit == 0 {
		limit = 50
	}
	if limit < 0 {
		limit = 0
	}
	if limit > 200 {
		limit = 200
	}

	var anchorIDs []string
	if len(args.Anchor) > 0 {
		var single string
		if err := json.Unmarshal(args.Anchor, &single); err == nil && single != "" {
			anchorIDs = []string{single}
		} else {
			var many []string
			if err := json.Unmarshal(args.Anchor, &many); err == nil {
				anchorIDs = many
			}
		}
	}

	issues, stats, err := s.Engine.LintKnowledge(ctx, req.Workspace, anchorIDs, limit)
	if err != nil {
		return errResp(err)
	}
	return ok(map[string]any{"workspace": req.Workspace, "stats": stats, "issues": issues})
}

// --- jobs ---

type jobsCreateArgs struct {
	Title    string         `json:"title"`
	Prompt   string         `json:"prompt"`
	Kind     string         `json:"kind"`
	Priority string         `json:"priority"`
	TaskID   string         `json:"task_id"`
	AnchorID string         `json:"anchor_id"`
	Meta     map[string]any `json:"meta"`
}

func (s *Server) handleJobsCreate(ctx context.Context, req *Request) Response {
	args, err := unmarshalArgs[jobsCreateArgs](req)
	if err != nil {
		return errResp(err)
	}
	j, err := s.Jobs.Create(ctx, jobs.CreateInput{
		WorkspaceID: req.Workspace,
		Title:       args.Title,
		Prompt:      args.Prompt,
		Kind:        args.Kind,
		Priority:    args.Priority,
		TaskID:      args.TaskID,
		AnchorID:    args.AnchorID,
		Meta:        args.Meta,
	})
	if err != nil {
		return errResp(err)
	}
	return ok(j)
}

type jobsClaimArgs struct {
	JobID    string `json:"job_id"`
	RunnerID string `json:"runner_id"`
}

func (s *Server) handleJobsClaim(ctx context.Context, req *Request) Response {
	args, err := unmarshalArgs[jobsClaimArgs](req)
	if err != nil {
		return errResp(err)
	}
	j, err := s.Jobs.Claim(ctx, req.Workspace, args.JobID, args.RunnerID)
	if err != nil {
		return errResp(err)
	}
	return ok(j)
}

type jobsCompleteArgs struct {
	JobID   string   `json:"job_id"`
	Status  string   `json:"status"`
	Summary string   `json:"summary"`
	Refs    []string `json:"refs"`
}

func (s *Server) handleJobsComplete(ctx context.Context, req *Request) Response {
	args, err := unmarshalArgs[jobsCompleteArgs](req)
	if err != nil {
		return errResp(err)
	}
	j, err := s.Jobs.Complete(ctx, jobs.CompleteInput{
		WorkspaceID: req.Workspace,
		JobID:       args.JobID,
		Status:      args.Status,
		Summary:     args.Summary,
		Refs:        args.Refs,
	})
	if err != nil {
		return errResp(err)
	}
	return ok(j)
}

type jobIDArgs struct {
	JobID string `json:"job_id"`
}

func (s *Server) handleJobsGet(ctx context.Context, req *Request) Response {
	args, err := unmarshalArgs[jobIDArgs](req)
	if err != nil {
		return errResp(err)
	}
	j, err := s.Jobs.Get(ctx, req.Workspace, args.JobID)
	if err != nil {
		return errResp(err)
	}
	return ok(j)
}

type jobsListArgs struct {
	Status string `json:"status"`
}

func (s *Server) handleJobsList(ctx context.Context, req *Request) Response {
	args, err := unmarshalArgs[jobsListArgs](req)
	if err != nil {
		return errResp(err)
	}
	js, err := s.Jobs.List(ctx, req.Workspace, args.Status)
	if err != nil {
		return errResp(err)
	}
	return ok(js)
}

// handleJobsCancel is jobs.cancel: allowed only from QUEUED, CONFLICT otherwise.
func (s *Server) handleJobsCancel(ctx context.Context, req *Request) Response {
	args, err := unmarshalArgs[jobIDArgs](req)
	if err != nil {
		return errResp(err)
	}
	j, err := s.Jobs.Cancel(ctx, req.Workspace, args.JobID)
	if err != nil {
		return errResp(err)
	}
	return ok(j)
}

type jobsWaitArgs struct {
	JobID     string `json:"job_id"`
	TimeoutMs int64  `json:"timeout_ms"`
}

// handleJobsWait is jobs.wait: polls a job until it reaches a terminal status or
// timeout_ms elapses, whichever comes first. timeout_ms above 25000 is rejected.
func (s *Server) handleJobsWait(ctx context.Context, req *Request) Response {
	args, err := unmarshalArgs[jobsWaitArgs](req)
	if err != nil {
		return errResp(err)
	}
	j, err := s.Jobs.Wait(ctx, req.Workspace, args.JobID, args.TimeoutMs)
	if err != nil {
		return errResp(err)
	}
	return ok(j)
}

// --- mesh ---

type meshPublishArgs struct {
	ThreadID       string   `json:"thread_id"`
	FromAgentID    string   `json:"from_agent_id"`
	FromJobID      string   `json:"from_job_id"`
	ToAgentID      string   `json:"to_agent_id"`
	Kind           string   `json:"kind"`
	Summary        string   `json:"summary"`
	Refs           []string `json:"refs"`
	PayloadJSON    string   `json:"payload_json"`
	IdempotencyKey string   `json:"idempotency_key"`
}

func (s *Server) handleMeshPublish(ctx context.Context, req *Request) Response {
	args, err := unmarshalArgs[meshPublishArgs](req)
	if err != nil {
		return errResp(err)
	}
	msg, inserted, err := s.Jobs.Publish(ctx, jobs.PublishInput{
		WorkspaceID:    req.Workspace,
		ThreadID:       args.ThreadID,
		FromAgentID:    args.FromAgentID,
		FromJobID:      args.FromJobID,
		ToAgentID:      args.ToAgentID,
		Kind:           args.Kind,
		Summary:        args.Summary,
		Refs:           args.Refs,
		PayloadJSON:    args.PayloadJSON,
		IdempotencyKey: args.IdempotencyKey,
	})
	if err != nil {
		return errResp(err)
	}
	return ok(map[string]any{"message": msg, "inserted": inserted})
}

type meshPullArgs struct {
	ConsumerID string `json:"consumer_id"`
	ThreadID   string `json:"thread_id"`
	Limit      int    `json:"limit"`
}

func (s *Server) handleMeshPull(ctx context.Context, req *Request) Response {
	args, err := unmarshalArgs[meshPullArgs](req)
	if err != nil {
		return errResp(err)
	}
	msgs, err := s.Jobs.Pull(ctx, req.Workspace, args.ConsumerID, args.ThreadID, args.Limit)
	if err != nil {
		return errResp(err)
	}
	return ok(msgs)
}

type meshAckArgs struct {
	ConsumerID string `json:"consumer_id"`
	ThreadID   string `json:"thread_id"`
	AfterSeq   int64  `json:"after_seq"`
}

func (s *Server) handleMeshAck(ctx context.Context, req *Request) Response {
	args, err := unmarshalArgs[meshAckArgs](req)
	if err != nil {
		return errResp(err)
	}
	if err := s.Jobs.Ack(ctx, req.Workspace, args.ConsumerID, args.ThreadID, args.AfterSeq); err != nil {
		return errResp(err)
	}
	return ok(map[string]bool{"acked": true})
}

// --- daemon lifecycle ---

// handleStatus answers without requiring a caller to already hold a workspace handle;
// daemon discovery probes this before doing anything else.
func (s *Server) handleStatus(ctx context.Context, req *Request) Response {
	uptime := time.Since(time.UnixMilli(s.StartedAtMs)).Seconds()
	return ok(StatusResponse{
		Version:          s.Version,
		WorkspacePath:    req.Workspace,
		DatabasePath:     s.DatabasePath,
		PID:              os.Getpid(),
		UptimeSeconds:    uptime,
		LastActivityTime: time.Now().UTC().Format(time.RFC3339),
	})
}

// renderCapsule projects doc through the compaction ladder under maxChars and folds
// the resulting truncation/minimal state into a Response's warnings.
func (s *Server) renderCapsule(maxChars int, doc projector.Capsule) Response {
	rendered, truncated, minimal := projector.Project(doc, maxChars)
	resp := Response{Success: true, Result: rendered}
	if truncated {
		resp.Truncated = true
		code := projector.WarnBudgetTruncated
		if minimal {
			code = projector.WarnBudgetMinimal
		}
		resp.Warnings = append(resp.Warnings, Warning{Code: code, Message: "capsule exceeded max_chars and was compacted"})
	}
	return resp
}

// effectiveMaxChars prefers a caller's explicit max_chars over a view's own default.
func (s *Server) effectiveMaxChars(req *Request, fallback int) int {
	if req.MaxChars != nil {
		return *req.MaxChars
	}
	return fallback
}

// radarSignals derives the shared focus/next/blockers core every capsule view builds
// on: focus is the first active task, next is the concrete follow-up call, blockers
// names every blocked task.
func radarSignals(tasks []*model.Task) (focus, next string, blockers []string) {
	for _, t := range tasks {
		if t.Status == model.StatusACTIVE && focus == "" {
			focus = t.Title
			next = "tasks.steps.list task_id=" + t.ID
		}
		if t.Blocked {
			blockers = append(blockers, t.ID+": "+t.Title)
		}
	}
	if next == "" {
		next = "tasks.list"
	}
	return focus, next, blockers
}

func (s *Server) handleTasksRadar(ctx context.Context, req *Request) Response {
	tasks, err := s.Engine.ListTasks(ctx, req.Workspace, "")
	if err != nil {
		return errResp(err)
	}
	focus, next, blockers := radarSignals(tasks)

	doc := projector.NewCapsule("radar_capsule")
	doc.SetFocus(focus)
	doc.SetNextAction(next)
	doc.SetBlockers(blockers)
	doc.SetEngineSignals(map[string]any{"task_count": len(tasks)})

	return s.renderCapsule(s.effectiveMaxChars(req, s.MaxChars), doc)
}

func (s *Server) handleTasksHandoff(ctx context.Context, req *Request) Response {
	tasks, err := s.Engine.ListTasks(ctx, req.Workspace, "")
	if err != nil {
		return errResp(err)
	}
	focus, next, blockers := radarSignals(tasks)

	var done, remaining []string
	for _, t := range tasks {
		if t.Status == model.StatusDONE {
			done = append(done, t.ID)
		} else if t.Status != model.StatusCANCELED {
			remaining = append(remaining, t.ID)
		}
	}

	doc := projector.NewCapsule("handoff_capsule")
	doc.SetFocus(focus)
	doc.SetNextAction(next)
	doc.SetBlockers(blockers)
	doc.SetEngineSignals(map[string]any{"task_count": len(tasks)})
	doc["done"] = done
	doc["remaining"] = remaining

	return s.renderCapsule(s.effectiveMaxChars(req, s.MaxChars), doc)
}

func sequentialSteps(steps []graph.TraceStep) []any {
	out := make([]any, 0, len(steps))
	for _, st := range steps {
		out = append(out, map[string]any{
			"id":              st.ID,
			"kind":            st.Kind,
			"thought_number":  st.ThoughtNumber,
			"branch_from":     st.BranchFrom,
			"revises_thought": st.RevisesThought,
			"lane":            st.Lane,
		})
	}
	return out
}

type contextPackArgs struct {
	Branch   string `json:"branch"`
	GraphDoc string `json:"graph_doc"`
}

func (s *Server) handleTasksContextPack(ctx context.Context, req *Request) Response {
	args, err := unmarshalArgs[contextPackArgs](req)
	if err != nil {
		return errResp(err)
	}
	tasks, err := s.Engine.ListTasks(ctx, req.Workspace, "")
	if err != nil {
		return errResp(err)
	}
	focus, next, blockers := radarSignals(tasks)

	doc := projector.NewCapsule("context_pack_capsule")
	doc.SetFocus(focus)
	doc.SetNextAction(next)
	doc.SetBlockers(blockers)
	doc.SetEngineSignals(map[string]any{"task_count": len(tasks)})

	cards, err := s.Graph.ListCards(ctx, req.Workspace, args.Branch, args.GraphDoc)
	if err != nil {
		return errResp(err)
	}
	for _, c := range cards {
		doc.AddCard(c.ID, c.Type, c.Title, c.Text, c.Status, c.CreatedAtMs, c.Tags)
		switch c.Type {
		case model.CardDecision:
			doc.AddDecision(c.Title)
		case model.CardEvidence:
			doc.AddEvidence(c.Title)
		}
	}

	steps, warnings, err := s.Graph.Trace(ctx, req.Workspace, args.Branch, args.GraphDoc, graph.TraceFilter{})
	if err != nil {
		return errResp(err)
	}
	for _, st := range steps {
		doc.AddTraceEntry(st.ID, st.CreatedAtMs, st.Kind, map[string]any{"thought_number": st.ThoughtNumber, "lane": st.Lane})
	}
	doc.SetSequential(sequentialSteps(steps))

	resp := s.renderCapsule(s.effectiveMaxChars(req, s.MaxChars), doc)
	for _, w := range warnings {
		resp.Warnings = append(resp.Warnings, Warning{Code: "TRACE_META_LINT", Message: w})
	}
	return resp
}

// resumeSuperTiers maps tasks.resume_super's view argument to its default character
// budget; a caller's explicit max_chars always wins over the tier default.
var resumeSuperTiers = map[string]int{
	"full":       60000,
	"smart":      40000,
	"explore":    20000,
	"audit":      20000,
	"focus_only": 6000,
}

type resumeSuperArgs struct {
	View     string `json:"view"`
	Branch   string `json:"branch"`
	GraphDoc string `json:"graph_doc"`
}

func (s *Server) handleTasksResumeSuper(ctx context.Context, req *Request) Response {
	args, err := unmarshalArgs[resumeSuperArgs](req)
	if err != nil {
		return errResp(err)
	}
	view := args.View
	if view == "" {
		view = "smart"
	}
	tierChars, known := resumeSuperTiers[view]
	if !known {
		return errResp(storeerr.Newf(storeerr.InvalidInput, "unknown resume_super view %q", view).
			WithRecovery("use one of full, smart, explore, audit, focus_only"))
	}

	tasks, err := s.Engine.ListTasks(ctx, req.Workspace, "")
	if err != nil {
		return errResp(err)
	}
	focus, next, blockers := radarSignals(tasks)

	doc := projector.NewCapsule("resume_super_capsule")
	doc.SetFocus(focus)
	doc.SetNextAction(next)
	doc.SetBlockers(blockers)
	doc.SetEngineSignals(map[string]any{"task_count": len(tasks)})
	doc["view"] = view

	if view != "focus_only" {
		cards, err := s.Graph.ListCards(ctx, req.Workspace, args.Branch, args.GraphDoc)
		if err != nil {
			return errResp(err)
		}
		for _, c := range cards {
			doc.AddCard(c.ID, c.Type, c.Title, c.Text, c.Status, c.CreatedAtMs, c.Tags)
		}
	}

	return s.renderCapsule(s.effectiveMaxChars(req, tierChars), doc)
}

type thinkPackArgs struct {
	Branch   string `json:"branch"`
	GraphDoc string `json:"graph_doc"`
}

// handleThinkPack is think_pack: the reasoning-graph capsule view built from cards and
// the derived trace-sequential walk.
func (s *Server) handleThinkPack(ctx context.Context, req *Request) Response {
	args, err := unmarshalArgs[thinkPackArgs](req)
	if err != nil {
		return errResp(err)
	}
	doc := projector.NewCapsule("think_pack_capsule")

	cards, err := s.Graph.ListCards(ctx, req.Workspace, args.Branch, args.GraphDoc)
	if err != nil {
		return errResp(err)
	}
	for _, c := range cards {
		doc.AddCard(c.ID, c.Type, c.Title, c.Text, c.Status, c.CreatedAtMs, c.Tags)
	}

	steps, warnings, err := s.Graph.Trace(ctx, req.Workspace, args.Branch, args.GraphDoc, graph.TraceFilter{})
	if err != nil {
		return errResp(err)
	}
	for _, st := range steps {
		doc.AddTraceEntry(st.ID, st.CreatedAtMs, st.Kind, map[string]any{"thought_number": st.ThoughtNumber, "lane": st.Lane})
	}
	doc.SetSequential(sequentialSteps(steps))

	resp := s.renderCapsule(s.effectiveMaxChars(req, s.MaxChars), doc)
	for _, w := range warnings {
		resp.Warnings = append(resp.Warnings, Warning{Code: "TRACE_META_LINT", Message: w})
	}
	return resp
}

// handleSnapshot assembles a compact, budget-projected view of a workspace's open
// work: tasks and jobs. This is the one operation on the auto-escalation allowlist
// that aggregates across entity types in a single call.
func (s *Server) handleSnapshot(ctx context.Context, req *Request) Response {
	tasks, err := s.Engine.ListTasks(ctx, req.Workspace, "")
	if err != nil {
		return errResp(err)
	}
	openJobs, err := s.Jobs.List(ctx, req.Workspace, "")
	if err != nil {
		return errResp(err)
	}
	focus, next, blockers := radarSignals(tasks)

	openJobCount := 0
	for _, j := range openJobs {
		if !j.IsTerminal() {
			openJobCount++
		}
	}

	doc := projector.NewCapsule("snapshot_capsule")
	doc.SetFocus(focus)
	doc.SetNextAction(next)
	doc.SetBlockers(blockers)
	doc.SetEngineSignals(map[string]any{"task_count": len(tasks), "open_job_count": openJobCount})

	return s.renderCapsule(s.effectiveMaxChars(req, s.MaxChars), doc)
}

// handleShutdown asks the daemon to stop accepting new connections once this
// response has been written, so the caller observes a clean acknowledgement before
// the socket goes away.
func (s *Server) handleShutdown(ctx context.Context, req *Request) Response {
	go func() {
		time.Sleep(50 * time.Millisecond)
		s.Stop()
	}()
	return ok(map[string]bool{"shutting_down": true})
}
