package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalIdentifierNormalizesAndIsIdempotent(t *testing.T) {
	v, err := CanonicalIdentifier("workspace_id", " Workspace-1 ")
	require.NoError(t, err)
	assert.Equal(t, "workspace-1", v)

	v2, err := CanonicalIdentifier("workspace_id", v)
	require.NoError(t, err)
	assert.Equal(t, v, v2)
}

func TestCanonicalIdentifierRejectsInvalidFirstChar(t *testing.T) {
	_, err := CanonicalIdentifier("branch_id", "-main")
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, InvalidFirstChar, verr.Kind)
}

func TestCanonicalIdentifierRejectsInvalidChar(t *testing.T) {
	_, err := CanonicalIdentifier("branch_id", "main!")
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, InvalidChar, verr.Kind)
	assert.Equal(t, '!', verr.Char)
}

func TestCanonicalIdentifierBoundaryLength(t *testing.T) {
	exact := make([]byte, MaxIdentifierLen)
	for i := range exact {
		exact[i] = 'a'
	}
	_, err := CanonicalIdentifier("branch_id", string(exact))
	require.NoError(t, err)

	tooLong := append(exact, 'a')
	_, err = CanonicalIdentifier("branch_id", string(tooLong))
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, FieldTooLong, verr.Kind)
}

func TestBranchConstructorNormalizesIdentifiersAndTime(t *testing.T) {
	b, err := NewThoughtBranch(" Workspace-1 ", " MAIN ", " Root ", " C-001 ", 10, 15)
	require.NoError(t, err)
	assert.Equal(t, "workspace-1", b.WorkspaceID)
	assert.Equal(t, "main", b.BranchID)
	assert.Equal(t, "root", b.ParentBranchID)
	assert.Equal(t, "c-001", b.HeadCommitID)
	assert.EqualValues(t, 10, b.CreatedAtMs)
	assert.EqualValues(t, 15, b.UpdatedAtMs)
}

func TestBranchRejectsSelfParentAndBadTimeOrder(t *testing.T) {
	_, err := NewThoughtBranch("ws", "main", "main", "", 0, 0)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, SameValue, verr.Kind)
	assert.Equal(t, "parent_branch_id", verr.Field)

	_, err = NewThoughtBranch("ws", "main", "", "", 20, 10)
	require.Error(t, err)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, TimestampOrder, verr.Kind)
}

func TestMonotonicUpdatedAtMsNeverRegresses(t *testing.T) {
	assert.EqualValues(t, 20, MonotonicUpdatedAtMs(20, 10))
	assert.EqualValues(t, 25, MonotonicUpdatedAtMs(20, 25))
}

func TestCommitInvariantsAreFailClosed(t *testing.T) {
	_, err := NewThoughtCommit("ws", "main", "c-1", "c-1", "message", "body", 1)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, SameValue, verr.Kind)
	assert.Equal(t, "parent_commit_id", verr.Field)

	_, err = NewThoughtCommit("ws", "main", "c-2", "", "m", "", 1)
	require.Error(t, err)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, EmptyField, verr.Kind)
	assert.Equal(t, "body", verr.Field)
}

func TestMergeRecordRequiresDistinctBranches(t *testing.T) {
	_, err := NewMergeRecord("ws", "merge-1", "main", "main", "c-9", "squash", "summary", 2)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, SameValue, verr.Kind)
	assert.Equal(t, "source_branch_id", verr.Field)
}

func TestNormalizeTextCountsUnicodeChars(t *testing.T) {
	// "é" as a single rune should count as one character, not two UTF-8 bytes.
	v, err := NormalizeText("summary", "café", 4)
	require.NoError(t, err)
	assert.Equal(t, "café", v)

	_, err = NormalizeText("summary", "caféé", 4)
	require.Error(t, err)
}

func TestNormalizeTextRejectsNul(t *testing.T) {
	_, err := NormalizeText("body", "a\x00b", 10)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, ContainsNul, verr.Kind)
}
