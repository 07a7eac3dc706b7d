package jobs

import (
	"bytes"
	"encoding/json"

	"github.com/mindloom/mindloom/internal/storeerr"
)

// artifactContracts is the closed set of expected_artifacts keys a completion summary
// may be validated against: each names a JSON-object shape the canonical
// text must satisfy before it is accepted as the job's artifact.
var artifactContracts = map[string]bool{
	"scout_context_pack":  true,
	"writer_patch_pack":   true,
	"builder_diff_batch":  true,
	"validator_report":    true,
}

func expectedArtifactKey(metaJSON string) string {
	if metaJSON == "" {
		return ""
	}
	var meta struct {
		ExpectedArtifacts map[string]any `json:"expected_artifacts"`
	}
	if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
		return ""
	}
	if len(meta.ExpectedArtifacts) != 1 {
		return ""
	}
	for key := range meta.ExpectedArtifacts {
		return key
	}
	return ""
}

// validateArtifactContract requires summary to be a single JSON object (not an array
// or scalar) before it is accepted as canonical content for the given artifact key.
// Deeper per-key shape validation (e.g. builder_diff_batch.execution_evidence) is the
// pipeline gate/apply layer's responsibility, not this generic contract check.
func validateArtifactContract(key, summary string) error {
	trimmed := bytes.TrimSpace([]byte(summary))
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return storeerr.Newf(storeerr.PreconditionFailed, "completion summary for artifact %q must be a JSON object", key)
	}
	var obj map[string]any
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return storeerr.Wrap(storeerr.PreconditionFailed, "completion summary is not valid JSON", err)
	}
	return nil
}

// CanonicalJSON re-encodes v with sorted, indented keys, matching the pretty-printed
// storage form artifact content is kept in.
func CanonicalJSON(v any) (string, error) {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}
