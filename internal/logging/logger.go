package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a production ready structured logger at the given level.
// An unrecognized level falls back to info.
func NewLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	if parsed, err := zapcore.ParseLevel(level); err == nil {
		cfg.Level = zap.NewAtomicLevelAt(parsed)
	}
	return cfg.Build()
}

// WithStage enriches the logger with stage and execution identifiers.
func WithStage(logger *zap.Logger, stage, executionID string) *zap.Logger {
	fields := []zap.Field{zap.String("stage", stage)}
	if executionID != "" {
		fields = append(fields, zap.String("execution_id", executionID))
	}
	return logger.With(fields...)
}
