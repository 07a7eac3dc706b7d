package projector

// compactTextBudget is the per-field character cap cards/entries are compacted to
// before any list is shortened. This is the cheapest, least lossy pass, so it runs
// first and often satisfies the budget on its own.
const compactTextBudget = 256

// compactEntryAndCardText truncates the long text field on every card and every
// notes/trace entry.
func compactEntryAndCardText(doc Capsule, _ int) bool {
	changed := false
	if cards, ok := doc["cards"].([]any); ok {
		for _, raw := range cards {
			if card, ok := raw.(map[string]any); ok && truncateStringField(card, "text", compactTextBudget) {
				changed = true
			}
		}
	}
	for _, section := range []string{"notes", "trace"} {
		sec, ok := doc[section].(map[string]any)
		if !ok {
			continue
		}
		entries, ok := sec["entries"].([]any)
		if !ok {
			continue
		}
		for _, raw := range entries {
			if entry, ok := raw.(map[string]any); ok && truncateStringField(entry, "text", compactTextBudget) {
				changed = true
			}
		}
	}
	return changed
}

func truncateStringField(m map[string]any, field string, budget int) bool {
	s, ok := m[field].(string)
	if !ok || len(s) <= budget {
		return false
	}
	m[field] = s[:budget] + "…"
	return true
}

// dropOptionalDerivedFields drops the fields that are always re-derivable and never
// load-bearing for the rest of the capsule: lane_summary, the derived trace.sequential
// view, engine.actions, engine.signals and capsule.next.backup, in that order.
func dropOptionalDerivedFields(doc Capsule, _ int) bool {
	changed := false
	if _, ok := doc["lane_summary"]; ok {
		delete(doc, "lane_summary")
		changed = true
	}
	if tr, ok := doc["trace"].(map[string]any); ok {
		if _, ok := tr["sequential"]; ok {
			delete(tr, "sequential")
			changed = true
		}
	}
	if eng, ok := doc["engine"].(map[string]any); ok {
		if _, ok := eng["actions"]; ok {
			delete(eng, "actions")
			changed = true
		}
		if _, ok := eng["signals"]; ok {
			delete(eng, "signals")
			changed = true
		}
	}
	if cap, ok := doc["capsule"].(map[string]any); ok {
		if next, ok := cap["next"].(map[string]any); ok {
			if _, ok := next["backup"]; ok {
				delete(next, "backup")
				changed = true
			}
		}
	}
	return changed
}

const (
	cardsBudget   = 40
	signalsBudget = 20
)

// enforceListBudgets caps cards and each signals list to a fixed length, recomputing
// stats_by_type whenever cards shrinks.
func enforceListBudgets(doc Capsule, _ int) bool {
	changed := false
	if cards, ok := doc["cards"].([]any); ok && len(cards) > cardsBudget {
		doc["cards"] = cards[:cardsBudget]
		doc.recomputeStatsByType()
		changed = true
	}
	if sig, ok := doc["signals"].(map[string]any); ok {
		for _, kind := range []string{"decisions", "evidence", "blockers"} {
			if arr, ok := sig[kind].([]any); ok && len(arr) > signalsBudget {
				sig[kind] = arr[:signalsBudget]
				changed = true
			}
		}
	}
	return changed
}

const entryBudget = 20

// trimTowardEntries trims notes.entries and trace.entries toward a smaller budget and
// refreshes each section's pagination so a caller can tell the list was cut.
func trimTowardEntries(doc Capsule, _ int) bool {
	changed := false
	for _, section := range []string{"notes", "trace"} {
		sec, ok := doc[section].(map[string]any)
		if !ok {
			continue
		}
		entries, ok := sec["entries"].([]any)
		if !ok || len(entries) <= entryBudget {
			continue
		}
		sec["entries"] = entries[:entryBudget]
		sec["pagination"] = map[string]any{"has_more": true, "total": len(entries)}
		changed = true
	}
	return changed
}

// minimalizeStubs collapses every card/entry down to its {id,ts,kind} stub, dropping
// title, text and tags -- the last form that still names every item.
func minimalizeStubs(doc Capsule, _ int) bool {
	changed := false
	if cards, ok := doc["cards"].([]any); ok {
		for i, raw := range cards {
			card, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			if _, hasText := card["text"]; hasText {
				cards[i] = map[string]any{"id": card["id"], "ts": card["ts"], "kind": card["type"]}
				changed = true
			}
		}
	}
	for _, section := range []string{"notes", "trace"} {
		sec, ok := doc[section].(map[string]any)
		if !ok {
			continue
		}
		entries, ok := sec["entries"].([]any)
		if !ok {
			continue
		}
		for i, raw := range entries {
			entry, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			if _, hasText := entry["text"]; hasText {
				entries[i] = map[string]any{"id": entry["id"], "ts": entry["ts"], "kind": entry["kind"]}
				changed = true
			}
		}
	}
	return changed
}

// retainOneFallback keeps only the first element of cards, notes.entries,
// trace.entries and each signals list, dropping the rest outright.
func retainOneFallback(doc Capsule, _ int) bool {
	changed := false
	if cards, ok := doc["cards"].([]any); ok && len(cards) > 1 {
		doc["cards"] = cards[:1]
		changed = true
	}
	for _, section := range []string{"notes", "trace"} {
		if sec, ok := doc[section].(map[string]any); ok {
			if entries, ok := sec["entries"].([]any); ok && len(entries) > 1 {
				sec["entries"] = entries[:1]
				changed = true
			}
		}
	}
	if sig, ok := doc["signals"].(map[string]any); ok {
		for _, kind := range []string{"decisions", "evidence", "blockers"} {
			if arr, ok := sig[kind].([]any); ok && len(arr) > 1 {
				sig[kind] = arr[:1]
				changed = true
			}
		}
	}
	return changed
}

// ensureSyntheticMinimal seeds a single synthetic stub into cards, notes.entries or
// trace.entries whenever that list is empty (including a list that was empty from the
// start), so the response still names that the section existed rather than vanishing
// without a trace.
func ensureSyntheticMinimal(doc Capsule, _ int) bool {
	changed := false
	if cards, ok := doc["cards"].([]any); ok && len(cards) == 0 {
		doc["cards"] = []any{map[string]any{"id": "", "kind": "truncated"}}
		changed = true
	}
	for _, section := range []string{"notes", "trace"} {
		if sec, ok := doc[section].(map[string]any); ok {
			if entries, ok := sec["entries"].([]any); ok && len(entries) == 0 {
				sec["entries"] = []any{map[string]any{"id": "", "kind": "truncated"}}
				changed = true
			}
		}
	}
	return changed
}

// dropNavigationFields removes pagination, branch and doc bookkeeping under notes and
// trace: lossy, but strictly less load-bearing than the entries themselves.
func dropNavigationFields(doc Capsule, _ int) bool {
	changed := false
	for _, section := range []string{"notes", "trace"} {
		sec, ok := doc[section].(map[string]any)
		if !ok {
			continue
		}
		for _, field := range []string{"pagination", "branch", "doc"} {
			if _, ok := sec[field]; ok {
				delete(sec, field)
				changed = true
			}
		}
	}
	return changed
}

// dropWholeSections removes entire top-level sections in ascending order of how much
// a caller loses by re-querying them directly instead: docs first, then signals, then
// notes and trace.
func dropWholeSections(doc Capsule, _ int) bool {
	for _, key := range []string{"docs", "signals", "notes", "trace"} {
		if _, ok := doc[key]; ok {
			delete(doc, key)
			return true
		}
	}
	return false
}

// capsuleFloor is the terminal pass: every field except "capsule" is cleared and
// truncated is set, guaranteeing Project always converges on a bounded response.
func capsuleFloor(doc Capsule, _ int) bool {
	if doc["truncated"] == true && len(doc) <= 2 {
		return false
	}
	capVal := doc["capsule"]
	for k := range doc {
		delete(doc, k)
	}
	doc["capsule"] = capVal
	doc["truncated"] = true
	return true
}
