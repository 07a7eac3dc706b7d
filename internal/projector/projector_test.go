package projector

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestProjectFitsWithinBudgetUntouched(t *testing.T) {
	doc := NewCapsule("snapshot_capsule")
	doc.SetFocus("short")
	want := string(marshalCapsule(doc))
	rendered, truncated, _ := Project(doc, 10000)
	if truncated {
		t.Fatal("expected no truncation for a short capsule")
	}
	if string(rendered) != want {
		t.Fatalf("expected capsule unchanged, got %s", rendered)
	}
}

func TestProjectCompactsTextBeforeDroppingAnything(t *testing.T) {
	doc := NewCapsule("snapshot_capsule")
	doc.AddNote("n1", 1, "note", strings.Repeat("x", 1000))
	compacted := NewCapsule("snapshot_capsule")
	compacted.AddNote("n1", 1, "note", strings.Repeat("x", 1000))
	compactEntryAndCardText(compacted, 0)
	budget := jsonLen(marshalCapsule(compacted))

	rendered, truncated, minimal := Project(doc, budget)
	if !truncated {
		t.Fatal("expected truncation for a note longer than the budget")
	}
	if minimal {
		t.Fatal("expected text compaction alone to fit, without the floor pass")
	}
	if string(rendered) != string(marshalCapsule(compacted)) {
		t.Fatalf("expected only the note text compacted, got %s", rendered)
	}
}

func TestProjectFallsBackToCapsuleFloorWhenNothingElseFits(t *testing.T) {
	doc := NewCapsule("snapshot_capsule")
	doc.AddCard("c1", "note", "title", strings.Repeat("x", 500), "open", 1, nil)
	rendered, truncated, minimal := Project(doc, 50)
	if !truncated {
		t.Fatal("expected truncation for an oversized capsule")
	}
	if !minimal {
		t.Fatal("expected the floor pass to run when no other pass fits the budget")
	}
	var out map[string]any
	if err := json.Unmarshal(rendered, &out); err != nil {
		t.Fatalf("floor render is not valid JSON: %v", err)
	}
	if len(out) != 2 || out["truncated"] != true || out["capsule"] == nil {
		t.Fatalf("expected only capsule and truncated=true to remain, got %s", rendered)
	}
}

func TestDropWholeSectionsDropsDocsBeforeNotes(t *testing.T) {
	doc := NewCapsule("snapshot_capsule")
	doc.AddDoc("readme", "README.md")
	doc.AddNote("n1", 1, "note", "keep me")
	if !dropWholeSections(doc, 0) {
		t.Fatal("expected dropWholeSections to drop a section")
	}
	if _, ok := doc["docs"]; ok {
		t.Fatal("expected docs to be dropped first")
	}
	if _, ok := doc["notes"]; !ok {
		t.Fatal("expected notes to survive while docs is the section dropped")
	}
}

func TestAutoEscalateSkipsNonAllowlistedTools(t *testing.T) {
	calls := 0
	rerun := func(ctx context.Context, maxChars int) (string, int, bool, error) {
		calls++
		return "x", 1, true, nil
	}
	rendered, escalated, err := AutoEscalate(context.Background(), "key", false, "tasks_create", 100, 1000, rerun)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if escalated || rendered != "" {
		t.Fatal("expected no escalation for a non-allowlisted tool")
	}
	if calls != 0 {
		t.Fatalf("expected rerun to never be invoked, got %d calls", calls)
	}
}

func TestAutoEscalateSkipsWhenExplicitBudgetSet(t *testing.T) {
	rendered, escalated, err := AutoEscalate(context.Background(), "key", true, "status", 100, 1000, func(ctx context.Context, maxChars int) (string, int, bool, error) {
		t.Fatal("rerun should not be called when the caller set an explicit budget")
		return "", 0, false, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if escalated || rendered != "" {
		t.Fatal("expected no escalation when an explicit budget is set")
	}
}

func TestAutoEscalateDoublesUntilNotTruncated(t *testing.T) {
	seenMaxChars := []int{}
	rerun := func(ctx context.Context, maxChars int) (string, int, bool, error) {
		seenMaxChars = append(seenMaxChars, maxChars)
		if maxChars >= 400 {
			return "fits now", maxChars, false, nil
		}
		return "still too big", maxChars, true, nil
	}
	rendered, escalated, err := AutoEscalate(context.Background(), "key-escalate", false, "snapshot", 100, 1000, rerun)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !escalated {
		t.Fatal("expected escalation to have occurred")
	}
	if rendered != "fits now" {
		t.Fatalf("expected the final non-truncated render, got %q", rendered)
	}
	if len(seenMaxChars) < 2 {
		t.Fatalf("expected at least one retry with a widened budget, got %v", seenMaxChars)
	}
}

func TestAutoEscalateStopsAtCap(t *testing.T) {
	calls := 0
	rerun := func(ctx context.Context, maxChars int) (string, int, bool, error) {
		calls++
		return "still truncated", maxChars, true, nil
	}
	_, escalated, err := AutoEscalate(context.Background(), "key-cap", false, "status", 100, 200, rerun)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !escalated {
		t.Fatal("expected at least one escalation attempt before giving up")
	}
	for _, call := range []int{calls} {
		if call == 0 {
			t.Fatal("expected rerun to be called at least once")
		}
	}
}
