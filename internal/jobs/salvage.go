package jobs

import "regexp"

const maxSalvagedRefs = 32

// proofTokenPatterns is the exhaustive, source-observed set of deterministic proof
// tokens complete(DONE)'s salvage pass looks for in a summary/message body: LINK:,
// CMD:, FILE:, CARD-<id>, notes@<seq>, TASK-<n>. This is an allow-list, not a guess —
// adding a pattern here changes what the guardrail accepts as evidence.
var proofTokenPatterns = []*regexp.Regexp{
	regexp.MustCompile(`LINK:\s*\S+`),
	regexp.MustCompile(`CMD:\s*.+`),
	regexp.MustCompile(`FILE:\s*\S+`),
	regexp.MustCompile(`CARD-[A-Za-z0-9]+`),
	regexp.MustCompile(`notes@\d+`),
	regexp.MustCompile(`TASK-\d+`),
}

// SalvageRefs scans text for proof tokens and returns up to maxSalvagedRefs matches in
// the order found, deduplicated. selfJobRef is always appended last if not already
// present, so the completed job stays navigable even when no tokens were found.
func SalvageRefs(text, selfJobRef string) []string {
	seen := map[string]bool{}
	var out []string

	add := func(s string) bool {
		if seen[s] {
			return true
		}
		seen[s] = true
		out = append(out, s)
		return len(out) < maxSalvagedRefs
	}

	for _, pattern := range proofTokenPatterns {
		for _, match := range pattern.FindAllString(text, -1) {
			if !add(match) {
				break
			}
		}
	}

	if selfJobRef != "" && !seen[selfJobRef] {
		if len(out) >= maxSalvagedRefs {
			out = out[:maxSalvagedRefs-1]
		}
		out = append(out, selfJobRef)
	}
	return out
}

// NeedsSalvage reports whether refs is empty or contains only the self job token, the
// trigger condition for running SalvageRefs over the completion summary.
func NeedsSalvage(refs []string, selfJobRef string) bool {
	if len(refs) == 0 {
		return true
	}
	for _, r := range refs {
		if r != selfJobRef {
			return false
		}
	}
	return true
}
