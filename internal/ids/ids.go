// Package ids generates the surface identifiers used across the store: sequential
// TASK-###/PLAN-###/JOB-### tokens and slug/uuid-derived anchor and card ids.
package ids

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const (
	PrefixTask = "TASK-"
	PrefixPlan = "PLAN-"
	PrefixJob  = "JOB-"
	PrefixCard = "CARD-"
)

var slugInvalid = regexp.MustCompile(`[^a-z0-9-]+`)

// NextSequential formats n with prefix, zero-padded to three digits below 1000 and
// unpadded above it: TASK-001, TASK-042, TASK-1000.
func NextSequential(prefix string, n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%s%03d", prefix, n)
	}
	return fmt.Sprintf("%s%d", prefix, n)
}

// ParseSequential splits a TASK-###-style id back into its prefix and numeric part.
func ParseSequential(id string) (prefix string, n int64, ok bool) {
	idx := strings.LastIndex(id, "-")
	if idx < 0 {
		return "", 0, false
	}
	value, err := strconv.ParseInt(id[idx+1:], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return id[:idx+1], value, true
}

// AnchorSlug derives a deterministic a:<slug> id from a human-supplied raw string:
// lowercase, non [a-z0-9-] runs collapse to a single hyphen, and leading/trailing
// hyphens are trimmed.
func AnchorSlug(raw string) string {
	lower := strings.ToLower(strings.TrimSpace(raw))
	slug := slugInvalid.ReplaceAllString(lower, "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = "anchor"
	}
	return "a:" + slug
}

// NewCardID returns a random CARD-<uuid> id for a think-graph node.
func NewCardID() string {
	return PrefixCard + uuid.NewString()
}

// NewMergeID returns a random merge-<uuid> id for a merge record.
func NewMergeID() string {
	return "merge-" + uuid.NewString()
}
