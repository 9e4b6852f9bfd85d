package repository

import (
	"context"
	"errors"
	"net"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/vision-gate/internal/logging"
)

// Stage outcome statuses as persisted.
const (
	StatusPassed = "passed"
	StatusFailed = "failed"
)

// StageRecord is one persisted stage outcome within a workflow execution.
type StageRecord struct {
	ID          uint      `gorm:"primaryKey"`
	ExecutionID string    `gorm:"column:execution_id;index;size:64"`
	Stage       string    `gorm:"column:stage;size:32"`
	Bucket      string    `gorm:"column:s3_bucket;size:255"`
	Key         string    `gorm:"column:s3_key;size:1024"`
	Status      string    `gorm:"column:status;size:16"`
	ErrorKind   string    `gorm:"column:error_kind;size:64"`
	MaxScore    float64   `gorm:"column:max_score"`
	LatencyMs   int64     `gorm:"column:latency_ms"`
	CreatedAt   time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (StageRecord) TableName() string {
	return "stage_records"
}

// Aggregation holds raw metric aggregates over filter-stage outcomes.
type Aggregation struct {
	TotalCount      int64   `gorm:"column:total_count"`
	PassedCount     int64   `gorm:"column:passed_count"`
	AverageMaxScore float64 `gorm:"column:average_max_score"`
}

// ExecutionRepository persists per-stage outcomes so a halted workflow can
// report the stage and error kind it stopped at.
type ExecutionRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewExecutionRepository creates a new repository instance.
func NewExecutionRepository(db *gorm.DB, logger *zap.Logger) *ExecutionRepository {
	return &ExecutionRepository{
		db:             db,
		logger:         logger.Named("execution_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *ExecutionRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&StageRecord{})
}

// RecordStage persists a stage outcome.
func (r *ExecutionRepository) RecordStage(ctx context.Context, record *StageRecord) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	return r.executeWithRetry(ctx, "repository.record_stage", record.ExecutionID, func() error {
		return r.db.WithContext(ctx).Create(record).Error
	})
}

// FindByExecutionID returns all stage outcomes for one workflow execution in
// insertion order.
func (r *ExecutionRepository) FindByExecutionID(ctx context.Context, executionID string) ([]*StageRecord, error) {
	var records []*StageRecord
	err := r.db.WithContext(ctx).
		Where("execution_id = ?", executionID).
		Order("id ASC").
		Find(&records).Error
	if err != nil {
		return nil, logging.NewOperationError("repository.find_execution", executionID, err)
	}
	return records, nil
}

// AggregateMetrics summarizes filter-stage outcomes for the metrics endpoint.
func (r *ExecutionRepository) AggregateMetrics(ctx context.Context) (*Aggregation, error) {
	var agg Aggregation
	err := r.db.WithContext(ctx).
		Model(&StageRecord{}).
		Select(`COUNT(*) AS total_count,
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS passed_count,
			COALESCE(AVG(max_score), 0) AS average_max_score`, StatusPassed).
		Where("stage = ?", "filter").
		Scan(&agg).Error
	if err != nil {
		return nil, logging.NewOperationError("repository.aggregate_metrics", "", err)
	}
	return &agg, nil
}

// executeWithRetry retries fn on transient network failures with capped
// exponential backoff. Non-transient failures are wrapped and returned on the
// first attempt.
func (r *ExecutionRepository) executeWithRetry(ctx context.Context, operation, executionID string, fn func() error) error {
	backoff := r.initialBackoff
	var lastErr error

	for attempt := 1; attempt <= r.retryAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isTransient(lastErr) {
			return logging.NewOperationError(operation, executionID, lastErr)
		}

		r.logger.Warn("transient database failure",
			zap.String("operation", operation),
			zap.String("execution_id", executionID),
			zap.Int("attempt", attempt),
			zap.Error(lastErr))

		if attempt == r.retryAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return logging.NewOperationError(operation, executionID, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > r.maxBackoff {
			backoff = r.maxBackoff
		}
	}

	return logging.NewOperationError(operation, executionID, lastErr)
}

func isTransient(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}
