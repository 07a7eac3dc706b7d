package engine

import (
	"context"

	"github.com/mindloom/mindloom/internal/graph"
	"github.com/mindloom/mindloom/internal/model"
	"github.com/mindloom/mindloom/internal/storeerr"
)

// GateReasonData is the structured payload of a strict-mode gate failure: Reason is
// one of REASONING_REQUIRED, BM4_HYPOTHESIS_NO_TEST or BM10_NO_COUNTER_EDGES, so
// callers can match on it without parsing the message.
type GateReasonData struct {
	StepID string
	Reason string
}

// Override is the explicit escape hatch for tasks.close.step/tasks.macro.close.step:
// supplying one bypasses the strict gate and records REASONING_OVERRIDE_APPLIED instead
// of failing closed.
type Override struct {
	Reason string
	Risk   string
}

// stepTag is the tag a think card carries to scope it to one step.
func stepTag(taskID, path string) string {
	return "step:" + taskID + ":" + path
}

func hasTag(tags []string, want string) bool {
	for _, t := range tags {
		if t == want {
			return true
		}
	}
	return false
}

// CheckStrictGate enforces the strict-mode completion invariant for one step's
// reasoning cards: every hypothesis not tagged "rejected" needs a supporting
// test edge (BM4_HYPOTHESIS_NO_TEST), and the moment any supporting-evidence edge
// exists (a hypothesis with a supporting test, or an evidence card in scope), at least
// one counter-hypothesis (a hypothesis tagged "counter"; its blocks edge is not
// checked) must also exist (BM10_NO_COUNTER_EDGES). An empty card set for the step
// fails REASONING_REQUIRED outright. Returns (warning, error): warning is non-empty
// only when override bypassed a real violation.
func (e *Engine) CheckStrictGate(ctx context.Context, workspaceID, branch, graphDoc, taskID, path, stepID string, override *Override) (string, error) {
	gr := e.Graph
	tag := stepTag(taskID, path)
	cards, err := gr.ListCards(ctx, workspaceID, branch, graphDoc)
	if err != nil {
		return "", err
	}

	var scoped []*model.ThinkCard
	for _, c := range cards {
		if hasTag(c.Tags, tag) {
			scoped = append(scoped, c)
		}
	}

	violation := firstGateViolation(ctx, gr, workspaceID, scoped)
	if violation == "" {
		return "", nil
	}
	if override != nil && override.Reason != "" {
		return "REASONING_OVERRIDE_APPLIED", nil
	}
	code := storeerr.ReasoningRequired
	if violation != "REASONING_REQUIRED" {
		code = storeerr.PreconditionFailed
	}
	return "", storeerr.Newf(code, "step %s fails strict reasoning gate: %s", stepID, violation).
		WithRecovery("add the missing reasoning cards, or close with override={reason,risk}").
		WithData(&GateReasonData{StepID: stepID, Reason: violation})
}

// firstGateViolation returns the sub-code of the first rule the scoped card set fails,
// or "" if every rule holds. Success-criteria and test-presence checks run in the
// caller before the gate is invoked at all; this function covers the
// hypothesis/counter-hypothesis graph rules.
func firstGateViolation(ctx context.Context, gr *graph.Graph, workspaceID string, scoped []*model.ThinkCard) string {
	if len(scoped) == 0 {
		return "REASONING_REQUIRED"
	}

	byID := make(map[string]*model.ThinkCard, len(scoped))
	for _, c := range scoped {
		byID[c.ID] = c
	}

	var hypotheses []*model.ThinkCard
	var evidenceExists bool
	for _, c := range scoped {
		switch c.Type {
		case model.CardHypothesis:
			hypotheses = append(hypotheses, c)
		case model.CardEvidence:
			evidenceExists = true
		}
	}
	if len(hypotheses) == 0 {
		return "REASONING_REQUIRED"
	}

	hasCounter := false
	supportExists := evidenceExists
	for _, h := range hypotheses {
		if hasTag(h.Tags, "counter") {
			hasCounter = true
		}
		if h.Status == "rejected" {
			continue
		}
		if !hypothesisHasSupportingTest(ctx, gr, workspaceID, h.ID, byID) {
			return "BM4_HYPOTHESIS_NO_TEST"
		}
		supportExists = true
	}

	if supportExists && !hasCounter {
		return "BM10_NO_COUNTER_EDGES"
	}
	return ""
}

func hypothesisHasSupportingTest(ctx context.Context, gr *graph.Graph, workspaceID, hypothesisID string, byID map[string]*model.ThinkCard) bool {
	edges, err := gr.Store.ListThinkEdges(ctx, workspaceID, hypothesisID)
	if err != nil {
		return false
	}
	for _, e := range edges {
		if e.Kind != model.EdgeSupports {
			continue
		}
		other := e.FromID
		if other == hypothesisID {
			other = e.ToID
		}
		if other == hypothesisID {
			continue
		}
		if card, ok := byID[other]; ok && card.Type == model.CardTest {
			return true
		}
	}
	return false
}
