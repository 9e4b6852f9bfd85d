package pipeline

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/example/vision-gate/internal/envelope"
)

func gateEnvelope(scores ...float64) envelope.Envelope {
	env := envelope.New("imgs", "bikes/0001.png", []byte("image"))
	return env.WithInferences(scores)
}

func TestGatePassesAboveThreshold(t *testing.T) {
	gate := NewGate(0.93, zap.NewNop())
	in := gateEnvelope(0.2, 0.95, 0.1)

	out, err := gate.Run(context.Background(), "exec-1", in)
	if err != nil {
		t.Fatalf("expected pass, got %v", err)
	}
	if out.ImageData != in.ImageData || out.Bucket != in.Bucket || out.Key != in.Key {
		t.Fatalf("envelope must pass through unchanged: got %+v want %+v", out, in)
	}
	if len(out.Inferences) != 3 || out.Inferences[1] != 0.95 {
		t.Fatalf("inferences altered: %v", out.Inferences)
	}
}

func TestGateRejectsAtOrBelowThreshold(t *testing.T) {
	gate := NewGate(0.93, zap.NewNop())

	// Exactly at the threshold: the comparison is strict, so this rejects.
	if _, err := gate.Run(context.Background(), "exec-1", gateEnvelope(0.5, 0.93, 0.4)); !errors.Is(err, ErrThresholdNotMet) {
		t.Fatalf("expected ErrThresholdNotMet at the boundary, got %v", err)
	}

	if _, err := gate.Run(context.Background(), "exec-1", gateEnvelope(0.1, 0.2)); !errors.Is(err, ErrThresholdNotMet) {
		t.Fatalf("expected ErrThresholdNotMet, got %v", err)
	}
}

func TestGateBoundaryIsStrict(t *testing.T) {
	gate := NewGate(0.93, zap.NewNop())

	if _, err := gate.Run(context.Background(), "exec-1", gateEnvelope(0.93)); !errors.Is(err, ErrThresholdNotMet) {
		t.Fatalf("score equal to threshold must reject, got %v", err)
	}
	if _, err := gate.Run(context.Background(), "exec-1", gateEnvelope(0.9300001)); err != nil {
		t.Fatalf("score marginally above threshold must pass, got %v", err)
	}
}

func TestGateIsIdempotent(t *testing.T) {
	gate := NewGate(0.93, zap.NewNop())

	passing := gateEnvelope(0.95)
	first, err1 := gate.Run(context.Background(), "exec-1", passing)
	second, err2 := gate.Run(context.Background(), "exec-1", passing)
	if err1 != nil || err2 != nil {
		t.Fatalf("expected both runs to pass: %v %v", err1, err2)
	}
	if first.ImageData != second.ImageData || len(first.Inferences) != len(second.Inferences) {
		t.Fatalf("decisions diverge: %+v vs %+v", first, second)
	}

	rejecting := gateEnvelope(0.5)
	_, err1 = gate.Run(context.Background(), "exec-1", rejecting)
	_, err2 = gate.Run(context.Background(), "exec-1", rejecting)
	if !errors.Is(err1, ErrThresholdNotMet) || !errors.Is(err2, ErrThresholdNotMet) {
		t.Fatalf("expected consistent rejection: %v %v", err1, err2)
	}
}

func TestGateEmptyInferencesIsContractViolation(t *testing.T) {
	gate := NewGate(0.93, zap.NewNop())
	env := envelope.New("imgs", "k", []byte("image"))

	_, err := gate.Run(context.Background(), "exec-1", env)
	if !IsContractViolation(err) {
		t.Fatalf("expected contract violation for empty inferences, got %v", err)
	}
	if errors.Is(err, ErrThresholdNotMet) {
		t.Fatal("empty inferences must be distinguishable from a threshold rejection")
	}
}

func TestGateThresholdIsConfigurable(t *testing.T) {
	gate := NewGate(0.5, zap.NewNop())
	if gate.Threshold() != 0.5 {
		t.Fatalf("unexpected threshold: %f", gate.Threshold())
	}
	if _, err := gate.Run(context.Background(), "exec-1", gateEnvelope(0.6)); err != nil {
		t.Fatalf("expected pass with lowered threshold, got %v", err)
	}
}
