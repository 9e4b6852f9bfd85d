package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/example/vision-gate/internal/envelope"
	"github.com/example/vision-gate/internal/logging"
)

// Gate is the filter stage: it passes the envelope through untouched when the
// best confidence score exceeds the threshold, and otherwise reports the
// terminal ErrThresholdNotMet. The comparison is strictly greater-than; a
// score exactly at the threshold does not pass.
type Gate struct {
	threshold float64
	logger    *zap.Logger
}

// NewGate constructs the filter stage with the configured threshold.
func NewGate(threshold float64, logger *zap.Logger) *Gate {
	return &Gate{threshold: threshold, logger: logger.Named("gate")}
}

// Threshold reports the configured minimum confidence.
func (g *Gate) Threshold() float64 {
	return g.threshold
}

// Run inspects the envelope's inferences and re-emits it unchanged on pass.
// An empty score list is an upstream bug, reported distinctly from a
// legitimate below-threshold rejection.
func (g *Gate) Run(ctx context.Context, executionID string, in envelope.Envelope) (envelope.Envelope, error) {
	stageLogger := logging.WithStage(g.logger, StageFilter, executionID)

	max, ok := in.MaxInference()
	if !ok {
		return envelope.Envelope{}, contractViolation(StageFilter, "envelope carries no inferences", nil)
	}

	if max > g.threshold {
		stageLogger.Info("confidence gate passed",
			zap.Float64("max_score", max), zap.Float64("threshold", g.threshold))
		return in, nil
	}

	stageLogger.Info("confidence gate rejected",
		zap.Float64("max_score", max), zap.Float64("threshold", g.threshold))
	return envelope.Envelope{}, logging.NewOperationError("gate.filter", executionID, ErrThresholdNotMet)
}
