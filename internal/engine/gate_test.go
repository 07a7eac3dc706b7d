package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/mindloom/mindloom/internal/graph"
	"github.com/mindloom/mindloom/internal/model"
	"github.com/mindloom/mindloom/internal/storeerr"
	"github.com/mindloom/mindloom/internal/storage/sqlite"
)

const testWorkspace = "ws-gate"

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	now := func() int64 { return time.Now().UnixMilli() }

	db, err := sqlite.Open(context.Background(), dbPath, now())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := db.EnsureWorkspace(context.Background(), testWorkspace, now()); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	return New(db, now)
}

func newStrictTaskWithStep(t *testing.T, e *Engine) (*model.Task, *model.Step) {
	t.Helper()
	ctx := context.Background()
	task, err := e.CreateTask(ctx, CreateTaskInput{
		WorkspaceID:   testWorkspace,
		Kind:          "task",
		Title:         "investigate checkout latency regression",
		ReasoningMode: model.ReasoningStrict,
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	step, err := e.AddStep(ctx, AddStepInput{
		WorkspaceID:     testWorkspace,
		TaskID:          task.ID,
		Path:            "s:1",
		Title:           "find the root cause",
		SuccessCriteria: []string{"latency back under 200ms p99"},
		Tests:           []string{"load test replays prod traffic shape"},
	})
	if err != nil {
		t.Fatalf("add step: %v", err)
	}
	step.CriteriaConfirmed = true
	if err := e.Store.UpsertStep(ctx, testWorkspace, step); err != nil {
		t.Fatalf("confirm criteria: %v", err)
	}
	return task, step
}

func TestCloseStepFailsReasoningRequiredWithNoCards(t *testing.T) {
	e := newTestEngine(t)
	task, step := newStrictTaskWithStep(t, e)

	_, err := e.CloseStep(context.Background(), CloseStepInput{
		WorkspaceID: testWorkspace,
		TaskID:      task.ID,
		Path:        step.Path,
		Branch:      "main",
		GraphDoc:    "default",
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	se, ok := err.(*storeerr.Error)
	if !ok {
		t.Fatalf("expected *storeerr.Error, got %T", err)
	}
	if se.Code != storeerr.ReasoningRequired {
		t.Fatalf("expected ReasoningRequired, got %s", se.Code)
	}
}

func TestCloseStepFailsHypothesisWithNoTest(t *testing.T) {
	e := newTestEngine(t)
	gr := graph.New(e.Store, e.Now)
	ctx := context.Background()
	task, step := newStrictTaskWithStep(t, e)
	tag := stepTag(task.ID, step.Path)

	_, err := gr.AddCard(ctx, graph.AddCardInput{
		WorkspaceID: testWorkspace,
		Branch:      "main",
		GraphDoc:    "default",
		Type:        model.CardHypothesis,
		Title:       "cache eviction is too aggressive",
		Tags:        []string{tag},
	})
	if err != nil {
		t.Fatalf("add card: %v", err)
	}

	_, err = e.CloseStep(ctx, CloseStepInput{
		WorkspaceID: testWorkspace,
		TaskID:      task.ID,
		Path:        step.Path,
		Branch:      "main",
		GraphDoc:    "default",
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	se, ok := err.(*storeerr.Error)
	if !ok {
		t.Fatalf("expected *storeerr.Error, got %T", err)
	}
	data, ok := se.Data.(*GateReasonData)
	if !ok {
		t.Fatalf("expected *GateReasonData, got %T", se.Data)
	}
	if data.Reason != "BM4_HYPOTHESIS_NO_TEST" {
		t.Fatalf("expected BM4_HYPOTHESIS_NO_TEST, got %s", data.Reason)
	}
}

func TestCloseStepFailsEvidenceWithNoCounterHypothesis(t *testing.T) {
	e := newTestEngine(t)
	gr := graph.New(e.Store, e.Now)
	ctx := context.Background()
	task, step := newStrictTaskWithStep(t, e)
	tag := stepTag(task.ID, step.Path)

	hyp, err := gr.AddCard(ctx, graph.AddCardInput{
		WorkspaceID: testWorkspace, Branch: "main", GraphDoc: "default",
		Type: model.CardHypothesis, Title: "cache eviction is too aggressive", Tags: []string{tag},
	})
	if err != nil {
		t.Fatalf("add hypothesis: %v", err)
	}
	test, err := gr.AddCard(ctx, graph.AddCardInput{
		WorkspaceID: testWorkspace, Branch: "main", GraphDoc: "default",
		Type: model.CardTest, Title: "replay traffic against a pinned cache size", Tags: []string{tag},
	})
	if err != nil {
		t.Fatalf("add test: %v", err)
	}
	if err := gr.Link(ctx, testWorkspace, hyp.ID, test.ID, model.EdgeSupports); err != nil {
		t.Fatalf("link supports: %v", err)
	}
	evidence, err := gr.AddCard(ctx, graph.AddCardInput{
		WorkspaceID: testWorkspace, Branch: "main", GraphDoc: "default",
		Type: model.CardEvidence, Title: "p99 dropped to 140ms after resizing the cache", Tags: []string{tag},
	})
	if err != nil {
		t.Fatalf("add evidence: %v", err)
	}
	if err := gr.Link(ctx, testWorkspace, hyp.ID, evidence.ID, model.EdgeSupports); err != nil {
		t.Fatalf("link evidence: %v", err)
	}

	_, err = e.CloseStep(ctx, CloseStepInput{
		WorkspaceID: testWorkspace, TaskID: task.ID, Path: step.Path, Branch: "main", GraphDoc: "default",
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	se := err.(*storeerr.Error)
	data := se.Data.(*GateReasonData)
	if data.Reason != "BM10_NO_COUNTER_EDGES" {
		t.Fatalf("expected BM10_NO_COUNTER_EDGES, got %s", data.Reason)
	}
}

func TestCloseStepSucceedsWithHypothesisTestAndCounterHypothesis(t *testing.T) {
	e := newTestEngine(t)
	gr := graph.New(e.Store, e.Now)
	ctx := context.Background()
	task, step := newStrictTaskWithStep(t, e)
	tag := stepTag(task.ID, step.Path)

	hyp, err := gr.AddCard(ctx, graph.AddCardInput{
		WorkspaceID: testWorkspace, Branch: "main", GraphDoc: "default",
		Type: model.CardHypothesis, Title: "cache eviction is too aggressive", Tags: []string{tag},
	})
	if err != nil {
		t.Fatalf("add hypothesis: %v", err)
	}
	test, err := gr.AddCard(ctx, graph.AddCardInput{
		WorkspaceID: testWorkspace, Branch: "main", GraphDoc: "default",
		Type: model.CardTest, Title: "replay traffic against a pinned cache size", Tags: []string{tag},
	})
	if err != nil {
		t.Fatalf("add test: %v", err)
	}
	if err := gr.Link(ctx, testWorkspace, hyp.ID, test.ID, model.EdgeSupports); err != nil {
		t.Fatalf("link supports: %v", err)
	}
	evidence, err := gr.AddCard(ctx, graph.AddCardInput{
		WorkspaceID: testWorkspace, Branch: "main", GraphDoc: "default",
		Type: model.CardEvidence, Title: "p99 dropped to 140ms after resizing the cache", Tags: []string{tag},
	})
	if err != nil {
		t.Fatalf("add evidence: %v", err)
	}
	if err := gr.Link(ctx, testWorkspace, hyp.ID, evidence.ID, model.EdgeSupports); err != nil {
		t.Fatalf("link evidence: %v", err)
	}
	counter, err := gr.AddCard(ctx, graph.AddCardInput{
		WorkspaceID: testWorkspace, Branch: "main", GraphDoc: "default",
		Type: model.CardHypothesis, Title: "traffic shape itself changed upstream",
		Tags: []string{tag, "counter"},
	})
	if err != nil {
		t.Fatalf("add counter hypothesis: %v", err)
	}
	if err := gr.Link(ctx, testWorkspace, counter.ID, hyp.ID, model.EdgeBlocks); err != nil {
		t.Fatalf("link blocks: %v", err)
	}
	counterTest, err := gr.AddCard(ctx, graph.AddCardInput{
		WorkspaceID: testWorkspace, Branch: "main", GraphDoc: "default",
		Type: model.CardTest, Title: "compare upstream request volume week over week", Tags: []string{tag},
	})
	if err != nil {
		t.Fatalf("add counter test: %v", err)
	}
	if err := gr.Link(ctx, testWorkspace, counter.ID, counterTest.ID, model.EdgeSupports); err != nil {
		t.Fatalf("link counter supports: %v", err)
	}

	result, err := e.CloseStep(ctx, CloseStepInput{
		WorkspaceID: testWorkspace, TaskID: task.ID, Path: step.Path, Branch: "main", GraphDoc: "default",
	})
	if err != nil {
		t.Fatalf("expected close to succeed, got %v", err)
	}
	if !result.Step.Completed {
		t.Fatal("expected step to be marked completed")
	}
	if result.Warning != "" {
		t.Fatalf("expected no warning, got %q", result.Warning)
	}
}

func TestCloseStepOverrideBypassesViolationAndWarns(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	task, step := newStrictTaskWithStep(t, e)

	result, err := e.CloseStep(ctx, CloseStepInput{
		WorkspaceID: testWorkspace,
		TaskID:      task.ID,
		Path:        step.Path,
		Branch:      "main",
		GraphDoc:    "default",
		Override:    &Override{Reason: "time-boxed spike, following up separately", Risk: "low"},
	})
	if err != nil {
		t.Fatalf("expected override to bypass the gate, got %v", err)
	}
	if result.Warning != "REASONING_OVERRIDE_APPLIED" {
		t.Fatalf("expected REASONING_OVERRIDE_APPLIED warning, got %q", result.Warning)
	}
	if !result.Step.Completed {
		t.Fatal("expected step to be marked completed")
	}
}

func TestCloseStepLaxModeSkipsGateEntirely(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	task, err := e.CreateTask(ctx, CreateTaskInput{
		WorkspaceID: testWorkspace,
		Kind:        "task",
		Title:       "tidy up changelog",
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	step, err := e.AddStep(ctx, AddStepInput{
		WorkspaceID: testWorkspace,
		TaskID:      task.ID,
		Path:        "s:1",
		Title:       "write the entry",
	})
	if err != nil {
		t.Fatalf("add step: %v", err)
	}

	result, err := e.CloseStep(ctx, CloseStepInput{
		WorkspaceID: testWorkspace,
		TaskID:      task.ID,
		Path:        step.Path,
		Branch:      "main",
		GraphDoc:    "default",
	})
	if err != nil {
		t.Fatalf("expected lax-mode close to succeed without reasoning cards, got %v", err)
	}
	if !result.Step.Completed {
		t.Fatal("expected step to be marked completed")
	}
}
