// Package handlers exposes the pipeline stages over HTTP for the external
// workflow orchestrator. Each stage endpoint accepts the previous stage's
// response body and answers with the literal envelope shape the orchestrator
// threads between steps.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/vision-gate/internal/envelope"
	"github.com/example/vision-gate/internal/inference"
	"github.com/example/vision-gate/internal/pipeline"
	"github.com/example/vision-gate/internal/repository"
	"github.com/example/vision-gate/internal/storage"
)

// ExecutionIDHeader carries the orchestrator's execution identifier so all
// three stage invocations of one workflow run share an audit trail.
const ExecutionIDHeader = "X-Execution-Id"

const recordTimeout = 5 * time.Second

// Error kinds reported to the orchestrator. Retryable kinds may be re-invoked
// by the orchestrator's own policy; the rest halt the workflow.
const (
	KindContractViolation = "CONTRACT_VIOLATION"
	KindNotFound          = "NOT_FOUND"
	KindAccessDenied      = "ACCESS_DENIED"
	KindStorageIO         = "STORAGE_IO"
	KindUnavailable       = "INFERENCE_UNAVAILABLE"
	KindMalformedResponse = "INFERENCE_MALFORMED_RESPONSE"
	KindThresholdNotMet   = "THRESHOLD_CONFIDENCE_NOT_MET"
	KindTimeout           = "TIMEOUT"
	KindInternal          = "INTERNAL"
)

// Stages bundles the three pipeline stages for route registration.
type Stages struct {
	Loader     *pipeline.Loader
	Classifier *pipeline.Classifier
	Gate       *pipeline.Gate
}

// Recorder is the subset of the execution repository the handlers use.
type Recorder interface {
	RecordStage(ctx context.Context, record *repository.StageRecord) error
	FindByExecutionID(ctx context.Context, executionID string) ([]*repository.StageRecord, error)
	AggregateMetrics(ctx context.Context) (*repository.Aggregation, error)
}

type serializeRequest struct {
	Bucket string `json:"s3_bucket"`
	Key    string `json:"s3_key"`
}

// stageInput matches the shape a stage emits, so the orchestrator can feed
// one stage's output directly into the next stage's input.
type stageInput struct {
	StatusCode int               `json:"statusCode"`
	Body       envelope.Envelope `json:"body"`
}

type handlerSet struct {
	stages Stages
	repo   Recorder
	logger *zap.Logger
}

// RegisterRoutes wires the stage and inspection endpoints to the Gin router.
func RegisterRoutes(router *gin.Engine, stages Stages, repo Recorder, logger *zap.Logger, authMiddleware gin.HandlerFunc) {
	h := &handlerSet{stages: stages, repo: repo, logger: logger.Named("handlers")}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authed := router.Group("/", authMiddleware)
	authed.POST("/stages/serialize", h.serialize)
	authed.POST("/stages/classify", h.classify)
	authed.POST("/stages/filter", h.filter)
	authed.GET("/executions/:id", h.execution)
	authed.GET("/metrics/summary", h.metricsSummary)
}

func (h *handlerSet) serialize(c *gin.Context) {
	executionID := resolveExecutionID(c)
	started := time.Now()

	var req serializeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, pipeline.StageSerialize, executionID, started, repository.StageRecord{},
			http.StatusBadRequest, KindContractViolation, false)
		return
	}

	env, err := h.stages.Loader.Run(c.Request.Context(), executionID, req.Bucket, req.Key)
	record := repository.StageRecord{Bucket: req.Bucket, Key: req.Key}
	if err != nil {
		status, kind, retryable := classifyError(err)
		h.fail(c, pipeline.StageSerialize, executionID, started, record, status, kind, retryable)
		return
	}

	h.succeed(c, pipeline.StageSerialize, executionID, started, env)
}

func (h *handlerSet) classify(c *gin.Context) {
	executionID := resolveExecutionID(c)
	started := time.Now()

	var req stageInput
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, pipeline.StageClassify, executionID, started, repository.StageRecord{},
			http.StatusBadRequest, KindContractViolation, false)
		return
	}

	env, err := h.stages.Classifier.Run(c.Request.Context(), executionID, req.Body)
	record := repository.StageRecord{Bucket: req.Body.Bucket, Key: req.Body.Key}
	if err != nil {
		status, kind, retryable := classifyError(err)
		h.fail(c, pipeline.StageClassify, executionID, started, record, status, kind, retryable)
		return
	}

	h.succeed(c, pipeline.StageClassify, executionID, started, env)
}

func (h *handlerSet) filter(c *gin.Context) {
	executionID := resolveExecutionID(c)
	started := time.Now()

	var req stageInput
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, pipeline.StageFilter, executionID, started, repository.StageRecord{},
			http.StatusBadRequest, KindContractViolation, false)
		return
	}

	env, err := h.stages.Gate.Run(c.Request.Context(), executionID, req.Body)
	record := repository.StageRecord{Bucket: req.Body.Bucket, Key: req.Body.Key}
	if max, ok := req.Body.MaxInference(); ok {
		record.MaxScore = max
	}
	if err != nil {
		status, kind, retryable := classifyError(err)
		h.fail(c, pipeline.StageFilter, executionID, started, record, status, kind, retryable)
		return
	}

	h.succeed(c, pipeline.StageFilter, executionID, started, env)
}

func (h *handlerSet) execution(c *gin.Context) {
	executionID := c.Param("id")
	if executionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
		return
	}

	records, err := h.repo.FindByExecutionID(c.Request.Context(), executionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	if len(records) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "execution not found"})
		return
	}

	stages := make([]gin.H, 0, len(records))
	for _, record := range records {
		stages = append(stages, gin.H{
			"stage":      record.Stage,
			"status":     record.Status,
			"error":      record.ErrorKind,
			"s3_bucket":  record.Bucket,
			"s3_key":     record.Key,
			"max_score":  record.MaxScore,
			"latency_ms": record.LatencyMs,
			"created_at": record.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"execution_id": executionID, "stages": stages})
}

func (h *handlerSet) metricsSummary(c *gin.Context) {
	agg, err := h.repo.AggregateMetrics(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "aggregation failed"})
		return
	}

	summary := gin.H{
		"total_filtered":    agg.TotalCount,
		"passed":            agg.PassedCount,
		"rejected":          agg.TotalCount - agg.PassedCount,
		"average_max_score": agg.AverageMaxScore,
	}
	if agg.TotalCount > 0 {
		summary["pass_rate"] = float64(agg.PassedCount) / float64(agg.TotalCount)
	} else {
		summary["pass_rate"] = 0.0
	}
	c.JSON(http.StatusOK, summary)
}

func (h *handlerSet) succeed(c *gin.Context, stage, executionID string, started time.Time, env envelope.Envelope) {
	record := repository.StageRecord{
		ExecutionID: executionID,
		Stage:       stage,
		Bucket:      env.Bucket,
		Key:         env.Key,
		Status:      repository.StatusPassed,
		LatencyMs:   time.Since(started).Milliseconds(),
	}
	if max, ok := env.MaxInference(); ok {
		record.MaxScore = max
	}
	h.record(&record)

	c.Header(ExecutionIDHeader, executionID)
	c.JSON(http.StatusOK, gin.H{"statusCode": http.StatusOK, "body": env})
}

func (h *handlerSet) fail(c *gin.Context, stage, executionID string, started time.Time, record repository.StageRecord, status int, kind string, retryable bool) {
	record.ExecutionID = executionID
	record.Stage = stage
	record.Status = repository.StatusFailed
	record.ErrorKind = kind
	record.LatencyMs = time.Since(started).Milliseconds()
	h.record(&record)

	c.Header(ExecutionIDHeader, executionID)
	c.JSON(status, gin.H{
		"statusCode": status,
		"error":      kind,
		"stage":      stage,
		"retryable":  retryable,
	})
}

// record persists the stage outcome off the request context so a canceled
// invocation still leaves an audit trail. Failures are logged, never surfaced.
func (h *handlerSet) record(record *repository.StageRecord) {
	if h.repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := h.repo.RecordStage(ctx, record); err != nil {
		h.logger.Warn("stage record not persisted",
			zap.String("execution_id", record.ExecutionID),
			zap.String("stage", record.Stage),
			zap.Error(err))
	}
}

func resolveExecutionID(c *gin.Context) string {
	if id := c.GetHeader(ExecutionIDHeader); id != "" {
		return id
	}
	return uuid.NewString()
}

// classifyError maps a stage failure onto the orchestrator protocol: an HTTP
// status, a stable error kind, and whether the orchestrator may retry.
func classifyError(err error) (int, string, bool) {
	switch {
	case errors.Is(err, pipeline.ErrThresholdNotMet):
		return http.StatusUnprocessableEntity, KindThresholdNotMet, false
	case pipeline.IsContractViolation(err),
		errors.Is(err, envelope.ErrMalformedPayload),
		errors.Is(err, storage.ErrEmptyReference),
		errors.Is(err, storage.ErrInvalidKey):
		return http.StatusBadRequest, KindContractViolation, false
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, KindNotFound, false
	case errors.Is(err, storage.ErrAccessDenied):
		return http.StatusForbidden, KindAccessDenied, false
	case errors.Is(err, inference.ErrMalformedResponse):
		return http.StatusInternalServerError, KindMalformedResponse, false
	case errors.Is(err, inference.ErrUnavailable):
		return http.StatusServiceUnavailable, KindUnavailable, true
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, KindTimeout, true
	default:
		var ioErr *storage.IOError
		if errors.As(err, &ioErr) {
			return http.StatusServiceUnavailable, KindStorageIO, true
		}
		return http.StatusInternalServerError, KindInternal, false
	}
}
