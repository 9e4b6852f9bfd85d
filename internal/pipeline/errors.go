// Package pipeline implements the three workflow stages: serialize, classify,
// and filter. Each stage is a pure transformation of an envelope; the
// orchestrator invoking the stages owns all retry and sequencing policy.
package pipeline

import (
	"errors"
	"fmt"
)

// Stage names, as reported to the orchestrator and recorded per execution.
const (
	StageSerialize = "serialize"
	StageClassify  = "classify"
	StageFilter    = "filter"
)

// ErrThresholdNotMet is the filter stage's terminal business outcome: no
// confidence score exceeded the configured threshold. It must never be
// retried and must stay distinguishable from infrastructure failures.
var ErrThresholdNotMet = errors.New("confidence threshold not met")

// ContractViolationError indicates a stage received input that no correct
// upstream stage would produce. Fatal: retrying cannot repair a broken
// envelope.
type ContractViolationError struct {
	Stage  string
	Detail string
	Err    error
}

func (e *ContractViolationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s stage contract violation: %s: %v", e.Stage, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s stage contract violation: %s", e.Stage, e.Detail)
}

func (e *ContractViolationError) Unwrap() error {
	return e.Err
}

func contractViolation(stage, detail string, err error) error {
	return &ContractViolationError{Stage: stage, Detail: detail, Err: err}
}

// IsContractViolation reports whether err is a contract violation from any stage.
func IsContractViolation(err error) bool {
	var cv *ContractViolationError
	return errors.As(err, &cv)
}
