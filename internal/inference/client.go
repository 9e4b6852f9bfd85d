// Package inference provides the model invocation capability consumed by the
// classify stage.
package inference

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable indicates the model endpoint could not be reached or
	// answered with a server-side failure. Eligible for orchestrator retry.
	ErrUnavailable = errors.New("inference endpoint unavailable")
	// ErrMalformedResponse indicates the endpoint answered but the body is
	// not an ordered list of confidence scores in [0, 1]. Fatal: it signals
	// a contract mismatch with the deployed model, not a transient fault.
	ErrMalformedResponse = errors.New("malformed inference response")
)

// Client submits image bytes to a classification model and returns one
// confidence score per class, in class index order.
type Client interface {
	Classify(ctx context.Context, contentType string, body []byte) ([]float64, error)
}
