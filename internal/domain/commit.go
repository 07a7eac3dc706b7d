package domain

// ThoughtCommit is a commit in thought history.
//
// Invariants:
//   - Identifiers are canonical and lowercase normalized.
//   - parent_commit_id != commit_id.
//   - message and body are trimmed, non-empty, and bounded.
//   - created_at_ms is non-negative.
type ThoughtCommit struct {
	WorkspaceID    string
	BranchID       string
	CommitID       string
	ParentCommitID string // empty means none
	Message        string
	Body           string
	CreatedAtMs    int64
}

// NewThoughtCommit validates and constructs a ThoughtCommit.
func NewThoughtCommit(workspaceID, branchID, commitID, parentCommitID, message, body string, createdAtMs int64) (*ThoughtCommit, error) {
	ws, err := CanonicalIdentifier("workspace_id", workspaceID)
	if err != nil {
		return nil, err
	}
	br, err := CanonicalIdentifier("branch_id", branchID)
	if err != nil {
		return nil, err
	}
	cm, err := CanonicalIdentifier("commit_id", commitID)
	if err != nil {
		return nil, err
	}
	var parent string
	if parentCommitID != "" {
		parent, err = CanonicalIdentifier("parent_commit_id", parentCommitID)
		if err != nil {
			return nil, err
		}
	}
	msg, err := NormalizeText("message", message, MaxCommitMessageLen)
	if err != nil {
		return nil, err
	}
	body2, err := NormalizeText("body", body, MaxCommitBodyLen)
	if err != nil {
		return nil, err
	}
	if err := validateNonNegativeTimestamp("created_at_ms", createdAtMs); err != nil {
		return nil, err
	}
	if parent != "" && parent == cm {
		return nil, &ValidationError{Kind: SameValue, Field: "parent_commit_id", OtherField: "commit_id"}
	}

	return &ThoughtCommit{
		WorkspaceID:    ws,
		BranchID:       br,
		CommitID:       cm,
		ParentCommitID: parent,
		Message:        msg,
		Body:           body2,
		CreatedAtMs:    createdAtMs,
	}, nil
}
