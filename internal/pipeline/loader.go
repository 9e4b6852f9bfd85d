package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/example/vision-gate/internal/envelope"
	"github.com/example/vision-gate/internal/logging"
	"github.com/example/vision-gate/internal/storage"
)

// Loader is the serialize stage: it fetches an object's bytes from storage
// and produces the initial envelope. It performs no retries; transient
// retrieval failures surface to the orchestrator as-is.
type Loader struct {
	store  storage.ObjectStore
	logger *zap.Logger
}

// NewLoader constructs the serialize stage.
func NewLoader(store storage.ObjectStore, logger *zap.Logger) *Loader {
	return &Loader{store: store, logger: logger.Named("loader")}
}

// Run fetches bucket/key and returns a fresh envelope carrying the encoded
// payload and an empty score list. Nothing is produced on failure.
func (l *Loader) Run(ctx context.Context, executionID, bucket, key string) (envelope.Envelope, error) {
	stageLogger := logging.WithStage(l.logger, StageSerialize, executionID)

	if bucket == "" || key == "" {
		return envelope.Envelope{}, contractViolation(StageSerialize, "bucket and key are required", nil)
	}

	data, err := l.store.Fetch(ctx, bucket, key)
	if err != nil {
		stageLogger.Error("object retrieval failed",
			zap.String("bucket", bucket), zap.String("key", key), zap.Error(err))
		return envelope.Envelope{}, logging.NewOperationError("loader.fetch", executionID, err)
	}
	if len(data) == 0 {
		stageLogger.Error("object is empty",
			zap.String("bucket", bucket), zap.String("key", key))
		return envelope.Envelope{}, contractViolation(StageSerialize, "object has no content", nil)
	}

	stageLogger.Info("image serialized",
		zap.String("bucket", bucket), zap.String("key", key), zap.Int("bytes", len(data)))
	return envelope.New(bucket, key, data), nil
}
