package domain

// MergeRecord links branch integration with a synthesis commit.
//
// Invariants:
//   - Identifiers are canonical and lowercase normalized.
//   - source_branch_id != target_branch_id.
//   - strategy and summary are trimmed, non-empty, and bounded.
//   - created_at_ms is non-negative.
type MergeRecord struct {
	WorkspaceID        string
	MergeID            string
	SourceBranchID     string
	TargetBranchID     string
	SynthesisCommitID  string
	Strategy           string
	Summary            string
	CreatedAtMs        int64
}

// NewMergeRecord validates and constructs a MergeRecord.
func NewMergeRecord(workspaceID, mergeID, sourceBranchID, targetBranchID, synthesisCommitID, strategy, summary string, createdAtMs int64) (*MergeRecord, error) {
	ws, err := CanonicalIdentifier("workspace_id", workspaceID)
	if err != nil {
		return nil, err
	}
	mg, err := CanonicalIdentifier("merge_id", mergeID)
	if err != nil {
		return nil, err
	}
	src, err := CanonicalIdentifier("source_branch_id", sourceBranchID)
	if err != nil {
		return nil, err
	}
	tgt, err := CanonicalIdentifier("target_branch_id", targetBranchID)
	if err != nil {
		return nil, err
	}
	synth, err := CanonicalIdentifier("synthesis_commit_id", synthesisCommitID)
	if err != nil {
		return nil, err
	}
	strat, err := NormalizeText("strategy", strategy, MaxMergeStrategyLen)
	if err != nil {
		return nil, err
	}
	summ, err := NormalizeText("summary", summary, MaxMergeSummaryLen)
	if err != nil {
		return nil, err
	}
	if err := validateNonNegativeTimestamp("created_at_ms", createdAtMs); err != nil {
		return nil, err
	}
	if src == tgt {
		return nil, &ValidationError{Kind: SameValue, Field: "source_branch_id", OtherField: "target_branch_id"}
	}

	return &MergeRecord{
		WorkspaceID:       ws,
		MergeID:           mg,
		SourceBranchID:    src,
		TargetBranchID:    tgt,
		SynthesisCommitID: synth,
		Strategy:          strat,
		Summary:           summ,
		CreatedAtMs:       createdAtMs,
	}, nil
}
