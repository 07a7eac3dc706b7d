package projector

import (
	"context"

	"golang.org/x/sync/singleflight"
)

const maxEscalationRetries = 6

// EscalationAllowlist names the tools safe to auto-retry with a wider budget: read-ish
// calls whose idempotent ensure-writes (workspace/doc refs) never append user-visible
// history, so rerunning them on truncation is harmless.
var EscalationAllowlist = map[string]bool{
	"status":        true,
	"snapshot":      true,
	"anchors_list":  true,
	"anchors_get":   true,
	"resume":        true,
}

// Rerun re-invokes a read-ish call at a wider max_chars. The caller supplies the
// function that actually performs the call; AutoEscalate only owns the retry/backoff
// shape so it stays decoupled from the RPC transport.
type Rerun func(ctx context.Context, maxChars int) (rendered string, usedChars int, truncated bool, err error)

// group collapses concurrent re-projections of the same capsule key, so two callers
// racing to escalate the same truncated response share one retry ladder instead of
// each independently hammering the underlying call.
var group singleflight.Group

// AutoEscalate widens maxChars up to cap, doubling (or growing to 2x the observed used
// size, whichever is larger) each retry, stopping early once truncation clears or the
// cap is reached. It never runs when the caller set an explicit budget — that check is
// the caller's responsibility before invoking AutoEscalate at all.
func AutoEscalate(ctx context.Context, capsuleKey string, explicitBudget bool, name string, currentMaxChars, cap int, rerun Rerun) (rendered string, escalated bool, err error) {
	if explicitBudget || !EscalationAllowlist[name] {
		return "", false, nil
	}

	result, err, _ := group.Do(capsuleKey, func() (any, error) {
		maxChars := currentMaxChars
		var last string
		var didEscalate bool

		if maxChars >= cap {
			return escalateResult{}, nil
		}
		for i := 0; i < maxEscalationRetries; i++ {
			rendered, used, truncated, rerunErr := rerun(ctx, maxChars)
			if rerunErr != nil {
				break
			}
			last = rendered
			if !truncated {
				didEscalate = didEscalate || i > 0
				break
			}

			next := maxChars * 2
			if doubled := used * 2; doubled > next {
				next = doubled
			}
			if next <= maxChars {
				next = maxChars + 1
			}
			if next > cap {
				next = cap
			}
			if next <= maxChars {
				break
			}
			maxChars = next
			didEscalate = true
		}

		return escalateResult{rendered: last, escalated: didEscalate}, nil
	})
	if err != nil {
		return "", false, err
	}
	r := result.(escalateResult)
	return r.rendered, r.escalated, nil
}

type escalateResult struct {
	rendered  string
	escalated bool
}

// PortalDefaultMaxChars returns the default max_chars tier for a toolset, applied only
// when the caller has not set an explicit budget.
func PortalDefaultMaxChars(toolset string, dxMode bool) int {
	if dxMode {
		switch toolset {
		case "core":
			return 6000
		case "daily":
			return 9000
		default:
			return 12000
		}
	}
	switch toolset {
	case "core":
		return 20000
	case "daily":
		return 40000
	default:
		return 60000
	}
}
