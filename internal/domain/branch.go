package domain

// ThoughtBranch is a branch in thought history.
//
// Invariants:
//   - workspace_id, branch_id, parent_branch_id, head_commit_id use the canonical
//     identifier form.
//   - parent_branch_id != branch_id.
//   - updated_at_ms >= created_at_ms and both timestamps are non-negative.
type ThoughtBranch struct {
	WorkspaceID    string
	BranchID       string
	ParentBranchID string // empty means root
	HeadCommitID   string // empty means none
	CreatedAtMs    int64
	UpdatedAtMs    int64
}

// NewThoughtBranch validates and constructs a ThoughtBranch. parentBranchID and
// headCommitID are "" when absent.
func NewThoughtBranch(workspaceID, branchID, parentBranchID, headCommitID string, createdAtMs, updatedAtMs int64) (*ThoughtBranch, error) {
	ws, err := CanonicalIdentifier("workspace_id", workspaceID)
	if err != nil {
		return nil, err
	}
	br, err := CanonicalIdentifier("branch_id", branchID)
	if err != nil {
		return nil, err
	}
	var parent string
	if parentBranchID != "" {
		parent, err = CanonicalIdentifier("parent_branch_id", parentBranchID)
		if err != nil {
			return nil, err
		}
	}
	var head string
	if headCommitID != "" {
		head, err = CanonicalIdentifier("head_commit_id", headCommitID)
		if err != nil {
			return nil, err
		}
	}

	if err := validateNonNegativeTimestamp("created_at_ms", createdAtMs); err != nil {
		return nil, err
	}
	if err := validateNonNegativeTimestamp("updated_at_ms", updatedAtMs); err != nil {
		return nil, err
	}
	if updatedAtMs < createdAtMs {
		return nil, &ValidationError{Kind: TimestampOrder, Field: "created_at_ms", OtherField: "updated_at_ms"}
	}
	if parent != "" && parent == br {
		return nil, &ValidationError{Kind: SameValue, Field: "parent_branch_id", OtherField: "branch_id"}
	}

	return &ThoughtBranch{
		WorkspaceID:    ws,
		BranchID:       br,
		ParentBranchID: parent,
		HeadCommitID:   head,
		CreatedAtMs:    createdAtMs,
		UpdatedAtMs:    updatedAtMs,
	}, nil
}

// MonotonicUpdatedAtMs clamps a candidate updated_at_ms so branch timestamps never
// regress under clock skew: result = max(previous, candidate).
func MonotonicUpdatedAtMs(previous, candidate int64) int64 {
	if candidate > previous {
		return candidate
	}
	return previous
}
