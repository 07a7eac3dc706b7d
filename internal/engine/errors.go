package engine

import (
	"strings"

	"github.com/mindloom/mindloom/internal/storeerr"
)

func proofRequiredError(stepID string, missing []string) *storeerr.Error {
	return storeerr.Newf(storeerr.PreconditionFailed, "step %s cannot complete: required proof missing for %s", stepID, strings.Join(missing, ", ")).
		WithRecovery("confirm the listed proof dimensions before completing the step")
}
