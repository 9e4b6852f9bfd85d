package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/vision-gate/internal/envelope"
	"github.com/example/vision-gate/internal/inference"
)

type stubModel struct {
	scores []float64
	err    error
	calls  int
}

func (s *stubModel) Classify(ctx context.Context, contentType string, body []byte) ([]float64, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.scores, nil
}

type stubCache struct {
	values  map[string]string
	getErr  error
	setErr  error
	setKeys []string
}

func (s *stubCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	s.setKeys = append(s.setKeys, key)
	if s.setErr != nil {
		return s.setErr
	}
	if s.values == nil {
		s.values = map[string]string{}
	}
	s.values[key] = value.(string)
	return nil
}

func (s *stubCache) Get(ctx context.Context, key string) (string, error) {
	if s.getErr != nil {
		return "", s.getErr
	}
	value, ok := s.values[key]
	if !ok {
		return "", redis.Nil
	}
	return value, nil
}

func TestClassifierAttachesScoresAndEchoesEnvelope(t *testing.T) {
	model := &stubModel{scores: []float64{0.2, 0.95, 0.1}}
	classifier := NewClassifier(model, nil, "image/png", zap.NewNop())
	in := envelope.New("imgs", "bikes/0001.png", []byte("image"))

	out, err := classifier.Run(context.Background(), "exec-1", in)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if out.ImageData != in.ImageData || out.Bucket != in.Bucket || out.Key != in.Key {
		t.Fatalf("envelope fields not echoed: got %+v want %+v", out, in)
	}
	if len(out.Inferences) != 3 || out.Inferences[1] != 0.95 {
		t.Fatalf("unexpected inferences: %v", out.Inferences)
	}
	if model.calls != 1 {
		t.Fatalf("expected one model call, got %d", model.calls)
	}
}

func TestClassifierMalformedPayloadSkipsModel(t *testing.T) {
	model := &stubModel{scores: []float64{0.9}}
	classifier := NewClassifier(model, nil, "image/png", zap.NewNop())
	in := envelope.Envelope{ImageData: "!!not-base64!!", Bucket: "imgs", Key: "k"}

	_, err := classifier.Run(context.Background(), "exec-1", in)
	if !IsContractViolation(err) {
		t.Fatalf("expected contract violation, got %v", err)
	}
	if model.calls != 0 {
		t.Fatalf("model must never be invoked for a malformed payload, got %d calls", model.calls)
	}
}

func TestClassifierModelErrorsPropagate(t *testing.T) {
	model := &stubModel{err: inference.ErrUnavailable}
	classifier := NewClassifier(model, nil, "image/png", zap.NewNop())
	in := envelope.New("imgs", "k", []byte("image"))

	if _, err := classifier.Run(context.Background(), "exec-1", in); !errors.Is(err, inference.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable to surface, got %v", err)
	}

	model = &stubModel{err: inference.ErrMalformedResponse}
	classifier = NewClassifier(model, nil, "image/png", zap.NewNop())
	if _, err := classifier.Run(context.Background(), "exec-1", in); !errors.Is(err, inference.ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse to surface, got %v", err)
	}
}

func TestClassifierCacheHitSkipsModel(t *testing.T) {
	model := &stubModel{scores: []float64{0.2, 0.95, 0.1}}
	cache := &stubCache{}
	classifier := NewClassifier(model, cache, "image/png", zap.NewNop())
	in := envelope.New("imgs", "k", []byte("image"))

	first, err := classifier.Run(context.Background(), "exec-1", in)
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	second, err := classifier.Run(context.Background(), "exec-2", in)
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	if model.calls != 1 {
		t.Fatalf("expected cached scores to skip the model, got %d calls", model.calls)
	}
	firstScores, _ := json.Marshal(first.Inferences)
	secondScores, _ := json.Marshal(second.Inferences)
	if string(firstScores) != string(secondScores) {
		t.Fatalf("cached scores diverge: %s vs %s", firstScores, secondScores)
	}
}

func TestClassifierCacheFailuresAreNotFatal(t *testing.T) {
	model := &stubModel{scores: []float64{0.7}}
	cache := &stubCache{getErr: errors.New("redis down"), setErr: errors.New("redis down")}
	classifier := NewClassifier(model, cache, "image/png", zap.NewNop())
	in := envelope.New("imgs", "k", []byte("image"))

	out, err := classifier.Run(context.Background(), "exec-1", in)
	if err != nil {
		t.Fatalf("cache failure must degrade to a model call, got %v", err)
	}
	if len(out.Inferences) != 1 || out.Inferences[0] != 0.7 {
		t.Fatalf("unexpected inferences: %v", out.Inferences)
	}
}

func TestClassifierDiscardsCorruptCacheEntries(t *testing.T) {
	model := &stubModel{scores: []float64{0.7}}
	cache := &stubCache{values: map[string]string{}}
	classifier := NewClassifier(model, cache, "image/png", zap.NewNop())
	in := envelope.New("imgs", "k", []byte("image"))

	// Poison the entry the classifier will look up.
	if _, err := classifier.Run(context.Background(), "exec-1", in); err != nil {
		t.Fatalf("seed run failed: %v", err)
	}
	for key := range cache.values {
		cache.values[key] = "not-json"
	}

	out, err := classifier.Run(context.Background(), "exec-2", in)
	if err != nil {
		t.Fatalf("expected corrupt entry to fall through to the model, got %v", err)
	}
	if model.calls != 2 {
		t.Fatalf("expected model re-invocation after corrupt cache entry, got %d calls", model.calls)
	}
	if len(out.Inferences) != 1 || out.Inferences[0] != 0.7 {
		t.Fatalf("unexpected inferences: %v", out.Inferences)
	}
}
