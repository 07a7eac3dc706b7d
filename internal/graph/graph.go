// Package graph is the L5 reasoning layer: typed think cards and edges, plus
// trace-sequential derivation (deriving a linear trace step-by-step from each card's
// thoughtNumber/branchFromThought/revisesThought metadata, never stored) used by the
// response-budget projector's pack views.
package graph

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/mindloom/mindloom/internal/ids"
	"github.com/mindloom/mindloom/internal/model"
	"github.com/mindloom/mindloom/internal/storage"
)

type Graph struct {
	Store storage.Store
	Now   func() int64
}

func New(store storage.Store, now func() int64) *Graph {
	return &Graph{Store: store, Now: now}
}

// AddCardInput is the validated request to create a think card.
type AddCardInput struct {
	WorkspaceID string
	Branch      string
	GraphDoc    string
	Type        string
	Title       string
	Text        string
	Tags        []string
}

func (g *Graph) AddCard(ctx context.Context, in AddCardInput) (*model.ThinkCard, error) {
	c := &model.ThinkCard{
		ID:          ids.NewCardID(),
		Workspace:   in.WorkspaceID,
		Branch:      in.Branch,
		GraphDoc:    in.GraphDoc,
		Type:        in.Type,
		Title:       in.Title,
		Text:        in.Text,
		Status:      "open",
		Tags:        in.Tags,
		CreatedAtMs: g.Now(),
	}
	if err := g.Store.UpsertThinkCard(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (g *Graph) GetCard(ctx context.Context, workspaceID, cardID string) (*model.ThinkCard, error) {
	return g.Store.GetThinkCard(ctx, workspaceID, cardID)
}

func (g *Graph) ListCards(ctx context.Context, workspaceID, branch, graphDoc string) ([]*model.ThinkCard, error) {
	return g.Store.ListThinkCards(ctx, workspaceID, branch, graphDoc)
}

func (g *Graph) Link(ctx context.Context, workspaceID, fromID, toID, kind string) error {
	return g.Store.AddThinkEdge(ctx, &model.ThinkEdge{
		Workspace:   workspaceID,
		FromID:      fromID,
		ToID:        toID,
		Kind:        kind,
		CreatedAtMs: g.Now(),
	})
}

// TraceStep is one derived step of a trace-sequential view. It is never stored: every
// field is computed fresh from a card's tags and thoughtNumber/branchFromThought/
// revisesThought metadata each time Trace runs.
type TraceStep struct {
	ID             string
	Kind           string // "trace_step" | "trace_sequential_step"
	ThoughtNumber  int
	BranchFrom     int // 0 means none
	RevisesThought int // 0 means none
	Lane           string // "canon" | "draft"
	Title          string
	CreatedAtMs    int64
}

// TraceFilter narrows a trace-sequential walk to one step's scope and/or one
// visibility lane. An empty TaskID/Path means unscoped; an empty Lane means both.
type TraceFilter struct {
	TaskID string
	Path   string
	Lane   string
}

type thoughtMeta struct {
	ThoughtNumber     int `json:"thoughtNumber"`
	BranchFromThought int `json:"branchFromThought"`
	RevisesThought    int `json:"revisesThought"`
}

// stepScopeTag mirrors the engine package's step-tag convention locally: cards tagged
// with it belong to one task's one step path.
func stepScopeTag(taskID, path string) string {
	return "step:" + taskID + ":" + path
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

// visibilityLane derives a card's lane: an explicit v:canon/v:draft tag wins, and
// otherwise decision/evidence/test cards default to canon while everything else is a
// draft thought.
func visibilityLane(c *model.ThinkCard) string {
	if hasTag(c.Tags, "v:canon") {
		return model.LaneCanon
	}
	if hasTag(c.Tags, "v:draft") {
		return model.LaneDraft
	}
	switch c.Type {
	case model.CardDecision, model.CardEvidence, model.CardTest:
		return model.LaneCanon
	default:
		return model.LaneDraft
	}
}

// Trace derives the trace-sequential view over a branch/graphDoc's cards: never a
// stored graph, always recomputed from each card's thoughtNumber/branchFromThought/
// revisesThought metadata and its visibility lane. It returns the derived steps plus
// up to two meta-lint warnings (duplicate thoughtNumber, or a card missing it
// entirely).
func (g *Graph) Trace(ctx context.Context, workspaceID, branch, graphDoc string, filter TraceFilter) ([]TraceStep, []string, error) {
	cards, err := g.Store.ListThinkCards(ctx, workspaceID, branch, graphDoc)
	if err != nil {
		return nil, nil, err
	}

	var scopeTag string
	if filter.TaskID != "" {
		scopeTag = stepScopeTag(filter.TaskID, filter.Path)
	}

	var steps []TraceStep
	var warnings []string
	seenThought := map[int]bool{}

	for _, c := range cards {
		if scopeTag != "" && !hasTag(c.Tags, scopeTag) {
			continue
		}
		lane := visibilityLane(c)
		if filter.Lane != "" && filter.Lane != lane {
			continue
		}

		var meta thoughtMeta
		hasMeta := c.MetaJSON != ""
		if hasMeta {
			if err := json.Unmarshal([]byte(c.MetaJSON), &meta); err != nil {
				hasMeta = false
			}
		}
		if !hasMeta && len(warnings) < 2 {
			warnings = append(warnings, "card "+c.ID+" is missing thoughtNumber metadata")
		} else if hasMeta {
			if seenThought[meta.ThoughtNumber] && len(warnings) < 2 {
				warnings = append(warnings, "duplicate thoughtNumber in trace: "+c.ID)
			}
			seenThought[meta.ThoughtNumber] = true
		}

		kind := "trace_step"
		if meta.RevisesThought != 0 || meta.BranchFromThought != 0 {
			kind = "trace_sequential_step"
		}

		steps = append(steps, TraceStep{
			ID:             c.ID,
			Kind:           kind,
			ThoughtNumber:  meta.ThoughtNumber,
			BranchFrom:     meta.BranchFromThought,
			RevisesThought: meta.RevisesThought,
			Lane:           lane,
			Title:          c.Title,
			CreatedAtMs:    c.CreatedAtMs,
		})
	}

	sort.SliceStable(steps, func(i, j int) bool {
		if steps[i].ThoughtNumber != steps[j].ThoughtNumber {
			return steps[i].ThoughtNumber < steps[j].ThoughtNumber
		}
		return steps[i].CreatedAtMs < steps[j].CreatedAtMs
	})
	return steps, warnings, nil
}
