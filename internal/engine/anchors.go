package engine

import (
	"context"

	"github.com/mindloom/mindloom/internal/ids"
	"github.com/mindloom/mindloom/internal/model"
	"github.com/mindloom/mindloom/internal/storeerr"
)

// UpsertAnchorInput mirrors the partial-upsert semantics of anchor registration:
// unspecified fields retain their prior values, and first-time creation requires
// Title and Kind.
type UpsertAnchorInput struct {
	WorkspaceID string
	RawID       string // human-supplied slug seed; ignored if ID is set
	ID          string // canonical a:<slug> id, derived from RawID if empty
	Title       string
	Kind        string
	Description *string
	Refs        *[]string
	Aliases     *[]string
	ParentID    *string
	DependsOn   *[]string
}

func (e *Engine) UpsertAnchor(ctx context.Context, in UpsertAnchorInput) (*model.Anchor, error) {
	anchorID := in.ID
	if anchorID == "" {
		anchorID = ids.AnchorSlug(in.RawID)
	}

	now := e.nowMs()
	existing, err := e.Store.GetAnchor(ctx, in.WorkspaceID, anchorID)
	if err != nil {
		if storeErr, ok := err.(*storeerr.Error); !ok || storeErr.Code != storeerr.UnknownID {
			return nil, err
		}
		existing = nil
	}

	a := existing
	if a == nil {
		if in.Title == "" || in.Kind == "" {
			return nil, storeerr.New(storeerr.InvalidInput, "title and kind are required to create an anchor")
		}
		a = &model.Anchor{ID: anchorID, Status: "active", CreatedAtMs: now}
	}

	if in.Title != "" {
		a.Title = in.Title
	}
	if in.Kind != "" {
		a.Kind = in.Kind
	}
	if in.Description != nil {
		a.Description = *in.Description
	}
	if in.Refs != nil {
		a.Refs = *in.Refs
	}
	if in.Aliases != nil {
		a.Aliases = *in.Aliases
	}
	if in.ParentID != nil {
		a.ParentID = *in.ParentID
	}
	if in.DependsOn != nil {
		a.DependsOn = *in.DependsOn
	}
	a.UpdatedAtMs = now

	if err := e.Store.UpsertAnchor(ctx, in.WorkspaceID, a); err != nil {
		return nil, err
	}
	return a, nil
}

// ResolveAnchor looks up id directly, falling back to transparent alias resolution and
// surfacing an ANCHOR_ALIAS_RESOLVED warning when that fallback is what succeeded.
func (e *Engine) ResolveAnchor(ctx context.Context, workspaceID, id string) (anchor *model.Anchor, aliasResolved bool, err error) {
	a, err := e.Store.GetAnchor(ctx, workspaceID, id)
	if err == nil {
		return a, false, nil
	}
	storeErr, ok := err.(*storeerr.Error)
	if !ok || storeErr.Code != storeerr.UnknownID {
		return nil, false, err
	}

	canonicalID, resolveErr := e.Store.ResolveAlias(ctx, workspaceID, id)
	if resolveErr != nil {
		return nil, false, err
	}
	a, err = e.Store.GetAnchor(ctx, workspaceID, canonicalID)
	if err != nil {
		return nil, false, err
	}
	return a, true, nil
}

func (e *Engine) ListAnchors(ctx context.Context, workspaceID string) ([]*model.Anchor, error) {
	return e.Store.ListAnchors(ctx, workspaceID)
}

// RecordKnowledgeClaim appends a new (anchor, key) -> card claim without overwriting
// prior claims, so knowledge.query can return either latest-only or full history.
func (e *Engine) RecordKnowledgeClaim(ctx context.Context, workspaceID, anchorID, key, cardID string) error {
	return e.Store.AppendKnowledgeKey(ctx, workspaceID, model.KnowledgeKeyRow{
		AnchorID:    anchorID,
		Key:         key,
		CardID:      cardID,
		CreatedAtMs: e.nowMs(),
	})
}

func (e *Engine) QueryKnowledge(ctx context.Context, workspaceID, anchorID, key string, includeHistory bool) ([]model.KnowledgeKeyRow, error) {
	if includeHistory {
		return e.Store.HistoryKnowledgeKey(ctx, workspaceID, anchorID, key)
	}
	latest, err := e.Store.LatestKnowledgeKey(ctx, workspaceID, anchorID, key)
	if err != nil {
		return nil, err
	}
	return []model.KnowledgeKeyRow{*latest}, nil
}
