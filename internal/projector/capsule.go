package projector

// Capsule is the structured response tree every snapshot view (radar, handoff,
// context_pack, resume_super, snapshot, think_pack) renders into before budgeting. It
// is a generic JSON value tree rather than a fixed struct because the compaction
// ladder in passes.go must address and drop arbitrary nested fields by name the same
// way the reference server's budgeting module walks its response tree.
type Capsule map[string]any

// NewCapsule seeds the fixed top-level skeleton every view shares: a capsule header
// (type/focus/next/blockers), an engine block, a cards list and the notes/trace/docs
// sections the compaction ladder knows how to trim.
func NewCapsule(capsuleType string) Capsule {
	return Capsule{
		"capsule": map[string]any{
			"type":     capsuleType,
			"focus":    nil,
			"next":     map[string]any{},
			"blockers": []any{},
		},
		"engine": map[string]any{
			"version": "v0.5",
			"actions": []any{},
			"signals": map[string]any{},
		},
		"cards":         []any{},
		"signals":       map[string]any{"decisions": []any{}, "evidence": []any{}, "blockers": []any{}},
		"notes":         map[string]any{"entries": []any{}, "pagination": map[string]any{}},
		"trace":         map[string]any{"entries": []any{}, "pagination": map[string]any{}},
		"docs":          []any{},
		"stats_by_type": map[string]any{},
		"truncated":     false,
	}
}

func (c Capsule) setCapsuleField(key string, val any) {
	if cap, ok := c["capsule"].(map[string]any); ok {
		cap[key] = val
	}
}

// SetFocus sets capsule.focus, the single most relevant item a caller should look at.
func (c Capsule) SetFocus(focus string) { c.setCapsuleField("focus", focus) }

// SetNextAction sets capsule.next.action, the concrete next operation to call.
func (c Capsule) SetNextAction(action string) {
	if cap, ok := c["capsule"].(map[string]any); ok {
		if next, ok := cap["next"].(map[string]any); ok {
			next["action"] = action
		}
	}
}

// SetNextBackup sets capsule.next.backup, an alternative next operation that the
// second budget-compaction pass (dropOptionalDerivedFields) drops, after the other
// optional derived fields it removes.
func (c Capsule) SetNextBackup(backup string) {
	if cap, ok := c["capsule"].(map[string]any); ok {
		if next, ok := cap["next"].(map[string]any); ok {
			next["backup"] = backup
		}
	}
}

// SetBlockers sets capsule.blockers.
func (c Capsule) SetBlockers(blockers []string) {
	c.setCapsuleField("blockers", toAnySlice(blockers))
}

// SetLaneSummary sets the top-level lane_summary field, an optional derived rollup
// dropped first under budget pressure since it never carries information the rest of
// the capsule doesn't already carry.
func (c Capsule) SetLaneSummary(summary string) { c["lane_summary"] = summary }

// SetEngineSignals sets engine.signals, free-form counters (task_count, open_job_count
// and similar) describing the workspace state behind this view.
func (c Capsule) SetEngineSignals(signals map[string]any) {
	if eng, ok := c["engine"].(map[string]any); ok {
		eng["signals"] = signals
	}
}

// AddEngineAction appends one suggested follow-up operation to engine.actions.
func (c Capsule) AddEngineAction(action string) {
	if eng, ok := c["engine"].(map[string]any); ok {
		actions, _ := eng["actions"].([]any)
		eng["actions"] = append(actions, action)
	}
}

// AddCard appends one reasoning-graph card summary to cards and keeps stats_by_type in
// sync with the new list.
func (c Capsule) AddCard(id, cardType, title, text, status string, tsMs int64, tags []string) {
	cards, _ := c["cards"].([]any)
	cards = append(cards, map[string]any{
		"id": id, "type": cardType, "title": title, "text": text,
		"status": status, "ts": tsMs, "tags": toAnySlice(tags),
	})
	c["cards"] = cards
	c.recomputeStatsByType()
}

func (c Capsule) recomputeStatsByType() {
	cards, _ := c["cards"].([]any)
	stats := map[string]any{}
	for _, raw := range cards {
		card, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		t, _ := card["type"].(string)
		if t == "" {
			continue
		}
		n, _ := stats[t].(int)
		stats[t] = n + 1
	}
	c["stats_by_type"] = stats
}

// AddDecision, AddEvidence and AddBlockerSignal append to the corresponding
// signals.{decisions,evidence,blockers} list.
func (c Capsule) AddDecision(text string)      { c.appendSignal("decisions", text) }
func (c Capsule) AddEvidence(text string)      { c.appendSignal("evidence", text) }
func (c Capsule) AddBlockerSignal(text string) { c.appendSignal("blockers", text) }

func (c Capsule) appendSignal(kind, text string) {
	if sig, ok := c["signals"].(map[string]any); ok {
		arr, _ := sig[kind].([]any)
		sig[kind] = append(arr, text)
	}
}

// AddNote appends one entry to notes.entries.
func (c Capsule) AddNote(id string, tsMs int64, kind, text string) {
	c.appendEntry("notes", id, tsMs, kind, text)
}

func (c Capsule) appendEntry(section, id string, tsMs int64, kind, text string) {
	if sec, ok := c[section].(map[string]any); ok {
		entries, _ := sec["entries"].([]any)
		entries = append(entries, map[string]any{"id": id, "ts": tsMs, "kind": kind, "text": text})
		sec["entries"] = entries
	}
}

// AddTraceEntry appends one entry to trace.entries, carrying whatever derived-graph
// metadata (thoughtNumber, lane, ...) the caller wants to attach.
func (c Capsule) AddTraceEntry(id string, tsMs int64, kind string, meta map[string]any) {
	if tr, ok := c["trace"].(map[string]any); ok {
		entries, _ := tr["entries"].([]any)
		entries = append(entries, map[string]any{"id": id, "ts": tsMs, "kind": kind, "meta": meta})
		tr["entries"] = entries
	}
}

// SetSequential attaches the derived trace.sequential graph view: optional and always
// re-derivable from trace.entries, so the compaction ladder drops it in its second
// pass, right after lane_summary.
func (c Capsule) SetSequential(steps []any) {
	if tr, ok := c["trace"].(map[string]any); ok {
		tr["sequential"] = steps
	}
}

// AddDoc appends one reference to the docs list.
func (c Capsule) AddDoc(title, path string) {
	docs, _ := c["docs"].([]any)
	docs = append(docs, map[string]any{"title": title, "path": path})
	c["docs"] = docs
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
