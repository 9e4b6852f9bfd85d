package pipeline

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/example/vision-gate/internal/envelope"
	"github.com/example/vision-gate/internal/inference"
	"github.com/example/vision-gate/internal/logging"
)

const scoreCacheTTL = 15 * time.Minute

// Classifier is the classify stage: it decodes the envelope payload, invokes
// the inference endpoint, and attaches the returned confidence scores.
//
// Scores are cached by payload digest so an orchestrator-level retry of a
// later stage, or a replayed classify invocation, does not hit the model
// again. The cache is best-effort: cache failures degrade to a model call.
type Classifier struct {
	model       inference.Client
	cache       Cache
	contentType string
	logger      *zap.Logger
}

// NewClassifier constructs the classify stage. cache may be nil to disable
// score reuse.
func NewClassifier(model inference.Client, cache Cache, contentType string, logger *zap.Logger) *Classifier {
	return &Classifier{
		model:       model,
		cache:       cache,
		contentType: contentType,
		logger:      logger.Named("classifier"),
	}
}

// Run returns a copy of in with inferences populated. The payload and storage
// reference are echoed unchanged. A payload that does not decode is a
// contract violation; the model is never invoked for one.
func (c *Classifier) Run(ctx context.Context, executionID string, in envelope.Envelope) (envelope.Envelope, error) {
	stageLogger := logging.WithStage(c.logger, StageClassify, executionID)

	image, err := in.DecodeImage()
	if err != nil {
		return envelope.Envelope{}, contractViolation(StageClassify, "undecodable image payload", err)
	}

	digest := payloadDigest(image)
	if scores, ok := c.cachedScores(ctx, digest, stageLogger); ok {
		stageLogger.Info("reusing cached inferences",
			zap.String("digest", digest), zap.Int("classes", len(scores)))
		return in.WithInferences(scores), nil
	}

	scores, err := c.model.Classify(ctx, c.contentType, image)
	if err != nil {
		stageLogger.Error("model invocation failed", zap.Error(err))
		return envelope.Envelope{}, logging.NewOperationError("classifier.invoke", executionID, err)
	}

	c.storeScores(ctx, digest, scores, stageLogger)

	stageLogger.Info("image classified",
		zap.String("bucket", in.Bucket), zap.String("key", in.Key), zap.Int("classes", len(scores)))
	return in.WithInferences(scores), nil
}

func payloadDigest(image []byte) string {
	sum := sha1.Sum(image)
	return hex.EncodeToString(sum[:])
}

func (c *Classifier) cachedScores(ctx context.Context, digest string, logger *zap.Logger) ([]float64, bool) {
	if c.cache == nil {
		return nil, false
	}
	raw, err := c.cache.Get(ctx, cacheKey(digest))
	if err != nil {
		if !IsCacheMiss(err) {
			logger.Warn("score cache read failed", zap.Error(err))
		}
		return nil, false
	}
	var scores []float64
	if err := json.Unmarshal([]byte(raw), &scores); err != nil || len(scores) == 0 {
		logger.Warn("discarding undecodable cache entry", zap.String("digest", digest))
		return nil, false
	}
	return scores, true
}

func (c *Classifier) storeScores(ctx context.Context, digest string, scores []float64, logger *zap.Logger) {
	if c.cache == nil {
		return
	}
	encoded, err := json.Marshal(scores)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, cacheKey(digest), string(encoded), scoreCacheTTL); err != nil {
		logger.Warn("score cache write failed", zap.Error(err))
	}
}

func cacheKey(digest string) string {
	return fmt.Sprintf("inferences:%s", digest)
}
