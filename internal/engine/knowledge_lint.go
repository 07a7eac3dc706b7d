package engine

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"

	"github.com/mindloom/mindloom/internal/model"
)

// Lint severities and codes for knowledge.lint. Grounded on the reference server's
// knowledge_lint analysis module: three severity classes over the same claim history,
// plus a deterministic dominance rule for keys reused across anchors.
const (
	LintSeverityWarning = "warning"
	LintSeverityInfo    = "info"

	CodeDuplicateContentSameAnchor                = "KNOWLEDGE_DUPLICATE_CONTENT_SAME_ANCHOR"
	CodeDuplicateContentSameKeyAcrossAnchors      = "KNOWLEDGE_DUPLICATE_CONTENT_SAME_KEY_ACROSS_ANCHORS"
	CodeDuplicateContentAcrossAnchorsMultipleKeys = "KNOWLEDGE_DUPLICATE_CONTENT_ACROSS_ANCHORS_MULTIPLE_KEYS"
	CodeKeyOverloadedOutliers                     = "KNOWLEDGE_KEY_OVERLOADED_OUTLIERS"
	CodeKeyOverloadedAcrossAnchors                = "KNOWLEDGE_KEY_OVERLOADED_ACROSS_ANCHORS"
)

// LintIssue is one finding from knowledge.lint.
type LintIssue struct {
	Severity string         `json:"severity"`
	Code     string         `json:"code"`
	Message  string         `json:"message"`
	Evidence map[string]any `json:"evidence"`
}

// LintStats summarizes one knowledge.lint run.
type LintStats struct {
	KeysScanned   int `json:"keys_scanned"`
	Anchors       int `json:"anchors"`
	Keys          int `json:"keys"`
	CardsResolved int `json:"cards_resolved"`
	IssuesTotal   int `json:"issues_total"`
}

// lintEntry is one resolved (anchor,key,card) claim row with its content hash.
type lintEntry struct {
	AnchorID    string
	Key         string
	CardID      string
	CreatedAtMs int64
	ContentHash uint64
}

// LintKnowledge scans the knowledge-claim history across anchorIDs (all anchors when
// empty) for duplicate and overloaded claims. limit==0 returns an empty, well-formed
// result without touching the store, matching the documented no-op behavior of
// limit=0.
func (e *Engine) LintKnowledge(ctx context.Context, workspaceID string, anchorIDs []string, limit int) ([]LintIssue, LintStats, error) {
	if limit == 0 {
		return nil, LintStats{}, nil
	}

	resolved := make([]string, 0, len(anchorIDs))
	for _, id := range anchorIDs {
		a, _, err := e.ResolveAnchor(ctx, workspaceID, id)
		if err != nil {
			continue
		}
		resolved = append(resolved, a.ID)
	}
	if len(anchorIDs) > 0 && len(resolved) == 0 {
		return nil, LintStats{}, nil
	}

	rows, err := e.Store.ListKnowledgeKeys(ctx, workspaceID, resolved, limit)
	if err != nil {
		return nil, LintStats{}, err
	}

	entries := make([]lintEntry, 0, len(rows))
	anchorSet := map[string]bool{}
	keySet := map[string]bool{}
	for _, row := range rows {
		card, err := e.Graph.GetCard(ctx, workspaceID, row.CardID)
		if err != nil {
			continue
		}
		entries = append(entries, lintEntry{
			AnchorID:    row.AnchorID,
			Key:         row.Key,
			CardID:      row.CardID,
			CreatedAtMs: row.CreatedAtMs,
			ContentHash: contentHash(card),
		})
		anchorSet[row.AnchorID] = true
		keySet[row.Key] = true
	}

	var issues []LintIssue
	issues = append(issues, lintDuplicateSameAnchor(entries)...)
	issues = append(issues, lintDuplicateSameKeyAcrossAnchors(entries)...)
	issues = append(issues, lintDuplicateAcrossAnchorsMultipleKeys(entries)...)
	issues = append(issues, lintOverloadedKeys(entries)...)

	stats := LintStats{
		KeysScanned:   len(rows),
		Anchors:       len(anchorSet),
		Keys:          len(keySet),
		CardsResolved: len(entries),
		IssuesTotal:   len(issues),
	}
	return issues, stats, nil
}

func contentHash(c *model.ThinkCard) uint64 {
	h := fnv.New64a()
	h.Write([]byte(c.Title))
	h.Write([]byte("\n"))
	h.Write([]byte(c.Text))
	return h.Sum64()
}

// lintDuplicateSameAnchor warns when one anchor holds the same content under two or
// more distinct keys: a warning, since it is the clearest sign of accidental drift a
// caller should resolve onto one canonical key.
func lintDuplicateSameAnchor(entries []lintEntry) []LintIssue {
	groups := map[string][]lintEntry{}
	for _, e := range entries {
		groups[e.AnchorID+"\x00"+hashHex(e.ContentHash)] = append(groups[e.AnchorID+"\x00"+hashHex(e.ContentHash)], e)
	}

	var out []LintIssue
	for _, group := range groups {
		keys := distinctKeys(group)
		if len(keys) < 2 {
			continue
		}
		rec := recommendedEntry(group)
		out = append(out, LintIssue{
			Severity: LintSeverityWarning,
			Code:     CodeDuplicateContentSameAnchor,
			Message:  fmt.Sprintf("anchor %s holds identical content under %d keys", group[0].AnchorID, len(keys)),
			Evidence: map[string]any{
				"anchor_id":            group[0].AnchorID,
				"keys":                 keys,
				"card_ids":             cardIDs(group),
				"content_hash":         hashHex(group[0].ContentHash),
				"recommended_key":      rec.Key,
				"recommended_card_id":  rec.CardID,
			},
		})
	}
	return out
}

// lintDuplicateSameKeyAcrossAnchors flags one key reused verbatim across anchors. It
// skips any hash that also spans more than one key (that's key drift, handled by
// lintDuplicateAcrossAnchorsMultipleKeys instead) to avoid double-reporting the same
// content collision under two different codes.
func lintDuplicateSameKeyAcrossAnchors(entries []lintEntry) []LintIssue {
	hashKeys := map[uint64]map[string]bool{}
	for _, e := range entries {
		if hashKeys[e.ContentHash] == nil {
			hashKeys[e.ContentHash] = map[string]bool{}
		}
		hashKeys[e.ContentHash][e.Key] = true
	}

	groups := map[string][]lintEntry{}
	for _, e := range entries {
		groups[e.Key+"\x00"+hashHex(e.ContentHash)] = append(groups[e.Key+"\x00"+hashHex(e.ContentHash)], e)
	}

	var out []LintIssue
	for _, group := range groups {
		if len(hashKeys[group[0].ContentHash]) > 1 {
			continue
		}
		anchors := distinctAnchors(group)
		if len(anchors) < 2 {
			continue
		}
		rec := recommendedEntry(group)
		out = append(out, LintIssue{
			Severity: LintSeverityInfo,
			Code:     CodeDuplicateContentSameKeyAcrossAnchors,
			Message:  fmt.Sprintf("key %q holds identical content across %d anchors", group[0].Key, len(anchors)),
			Evidence: map[string]any{
				"key":                  group[0].Key,
				"anchor_count":         len(anchors),
				"anchors_sample":       sample(anchors, 12),
				"card_ids_sample":      sample(cardIDs(group), 12),
				"recommended_anchor_id": rec.AnchorID,
				"content_hash":         hashHex(group[0].ContentHash),
			},
		})
	}
	return out
}

// lintDuplicateAcrossAnchorsMultipleKeys flags content duplicated across anchors under
// different keys: the key-drift case lintDuplicateSameKeyAcrossAnchors skips.
func lintDuplicateAcrossAnchorsMultipleKeys(entries []lintEntry) []LintIssue {
	groups := map[uint64][]lintEntry{}
	for _, e := range entries {
		groups[e.ContentHash] = append(groups[e.ContentHash], e)
	}

	var out []LintIssue
	for hash, group := range groups {
		if len(group) < 2 {
			continue
		}
		anchors := distinctAnchors(group)
		keys := distinctKeys(group)
		if len(anchors) < 2 || len(keys) < 2 {
			continue
		}
		rec := recommendedEntry(group)
		out = append(out, LintIssue{
			Severity: LintSeverityInfo,
			Code:     CodeDuplicateContentAcrossAnchorsMultipleKeys,
			Message:  fmt.Sprintf("identical content spans %d anchors and %d keys", len(anchors), len(keys)),
			Evidence: map[string]any{
				"anchor_count":    len(anchors),
				"key_count":       len(keys),
				"anchors_sample":  sample(anchors, 12),
				"keys_sample":     sample(keys, 12),
				"card_ids_sample": sample(cardIDs(group), 12),
				"content_hash":    hashHex(hash),
				"recommended": map[string]any{
					"anchor_id": rec.AnchorID,
					"key":       rec.Key,
					"card_id":   rec.CardID,
				},
			},
		})
	}
	return out
}

// lintOverloadedKeys is the dominance rule: a key reused across several anchors where
// one content variant clearly dominates is an outlier report (fix the minority); a key
// reused with no clear dominant variant is a plain across-anchors overload report.
func lintOverloadedKeys(entries []lintEntry) []LintIssue {
	byKey := map[string][]lintEntry{}
	for _, e := range entries {
		byKey[e.Key] = append(byKey[e.Key], e)
	}

	var out []LintIssue
	for key, group := range byKey {
		anchors := distinctAnchors(group)
		variants := map[uint64][]lintEntry{}
		for _, e := range group {
			variants[e.ContentHash] = append(variants[e.ContentHash], e)
		}
		if len(anchors) < 2 || len(variants) < 2 {
			continue
		}

		total := len(group)
		var dominantHash uint64
		dominantCount := -1
		for h, vs := range variants {
			if len(vs) > dominantCount || (len(vs) == dominantCount && h < dominantHash) {
				dominantHash = h
				dominantCount = len(vs)
			}
		}
		hasDominant := total >= 3 && dominantCount >= 2 && dominantCount*10 >= total*6

		if hasDominant {
			out = append(out, LintIssue{
				Severity: LintSeverityInfo,
				Code:     CodeKeyOverloadedOutliers,
				Message:  fmt.Sprintf("key %q is dominated by one content variant across %d anchors", key, len(anchors)),
				Evidence: map[string]any{
					"key":            key,
					"anchor_count":   len(anchors),
					"variant_count":  len(variants),
					"total_count":    total,
					"anchors_sample": sample(anchors, 12),
					"dominant": map[string]any{
						"content_hash":    hashHex(dominantHash),
						"count":           dominantCount,
						"anchors_sample":  sample(distinctAnchors(variants[dominantHash]), 12),
						"card_ids_sample": sample(cardIDs(variants[dominantHash]), 12),
					},
					"outliers_sample": nonDominantVariantsSample(variants, dominantHash, 4),
				},
			})
		} else {
			out = append(out, LintIssue{
				Severity: LintSeverityInfo,
				Code:     CodeKeyOverloadedAcrossAnchors,
				Message:  fmt.Sprintf("key %q is reused across %d anchors with no dominant content", key, len(anchors)),
				Evidence: map[string]any{
					"key":            key,
					"anchor_count":   len(anchors),
					"variant_count":  len(variants),
					"total_count":    total,
					"anchors_sample": sample(anchors, 12),
					"variants_sample": variantsSample(variants, 4),
				},
			})
		}
	}
	return out
}

func hashHex(h uint64) string { return fmt.Sprintf("%016x", h) }

func distinctKeys(entries []lintEntry) []string {
	set := map[string]bool{}
	for _, e := range entries {
		set[e.Key] = true
	}
	return sortedKeys(set)
}

func distinctAnchors(entries []lintEntry) []string {
	set := map[string]bool{}
	for _, e := range entries {
		set[e.AnchorID] = true
	}
	return sortedKeys(set)
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func cardIDs(entries []lintEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.CardID)
	}
	return out
}

func sample(ss []string, n int) []string {
	if len(ss) <= n {
		return ss
	}
	return ss[:n]
}

// recommendedEntry picks the earliest entry by (created_at_ms, key, card_id) as the
// canonical claim a caller should keep when collapsing duplicates.
func recommendedEntry(entries []lintEntry) lintEntry {
	best := entries[0]
	for _, e := range entries[1:] {
		if e.CreatedAtMs < best.CreatedAtMs ||
			(e.CreatedAtMs == best.CreatedAtMs && e.Key < best.Key) ||
			(e.CreatedAtMs == best.CreatedAtMs && e.Key == best.Key && e.CardID < best.CardID) {
			best = e
		}
	}
	return best
}

// nonDominantVariantsSample returns up to n non-dominant variants sorted by count
// descending, hash ascending on ties.
func nonDominantVariantsSample(variants map[uint64][]lintEntry, dominantHash uint64, n int) []map[string]any {
	var hashes []uint64
	for h := range variants {
		if h != dominantHash {
			hashes = append(hashes, h)
		}
	}
	sortVariantHashes(hashes, variants)
	return variantSummaries(hashes, variants, n)
}

// variantsSample returns up to n variants (including any dominant one) sorted by count
// descending, hash ascending on ties.
func variantsSample(variants map[uint64][]lintEntry, n int) []map[string]any {
	var hashes []uint64
	for h := range variants {
		hashes = append(hashes, h)
	}
	sortVariantHashes(hashes, variants)
	return variantSummaries(hashes, variants, n)
}

func sortVariantHashes(hashes []uint64, variants map[uint64][]lintEntry) {
	sort.Slice(hashes, func(i, j int) bool {
		ci, cj := len(variants[hashes[i]]), len(variants[hashes[j]])
		if ci != cj {
			return ci > cj
		}
		return hashes[i] < hashes[j]
	})
}

func variantSummaries(hashes []uint64, variants map[uint64][]lintEntry, n int) []map[string]any {
	if len(hashes) > n {
		hashes = hashes[:n]
	}
	out := make([]map[string]any, 0, len(hashes))
	for _, h := range hashes {
		vs := variants[h]
		out = append(out, map[string]any{
			"content_hash":    hashHex(h),
			"count":           len(vs),
			"anchors_sample":  sample(distinctAnchors(vs), 12),
			"card_ids_sample": sample(cardIDs(vs), 12),
		})
	}
	return out
}
