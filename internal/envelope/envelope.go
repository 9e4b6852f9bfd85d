// Package envelope defines the data record passed between pipeline stages.
package envelope

import (
	"encoding/base64"
	"errors"
	"fmt"
)

// ErrMalformedPayload indicates image_data is not valid base64 of a non-empty
// byte sequence. This is a contract breach by the producing stage, never a
// transient condition.
var ErrMalformedPayload = errors.New("image payload is not valid base64")

// Envelope is the record threaded through the serialize, classify, and filter
// stages. The JSON field names are the wire contract consumed by the
// orchestrator and must not change.
type Envelope struct {
	ImageData  string    `json:"image_data"`
	Bucket     string    `json:"s3_bucket"`
	Key        string    `json:"s3_key"`
	Inferences []float64 `json:"inferences"`
}

// New builds the initial envelope from raw object bytes, encoding the payload
// for transport. Inferences start empty; the classify stage fills them.
func New(bucket, key string, image []byte) Envelope {
	return Envelope{
		ImageData:  base64.StdEncoding.EncodeToString(image),
		Bucket:     bucket,
		Key:        key,
		Inferences: []float64{},
	}
}

// DecodeImage returns the raw image bytes carried by the envelope.
// An undecodable or empty payload yields ErrMalformedPayload.
func (e Envelope) DecodeImage() ([]byte, error) {
	if e.ImageData == "" {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedPayload)
	}
	raw, err := base64.StdEncoding.DecodeString(e.ImageData)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: payload decodes to zero bytes", ErrMalformedPayload)
	}
	return raw, nil
}

// WithInferences returns a copy of the envelope with the given scores
// attached. The payload and storage reference are echoed unchanged.
func (e Envelope) WithInferences(scores []float64) Envelope {
	out := e
	out.Inferences = append([]float64(nil), scores...)
	return out
}

// MaxInference reports the highest confidence score. The second return is
// false when no scores are present.
func (e Envelope) MaxInference() (float64, bool) {
	if len(e.Inferences) == 0 {
		return 0, false
	}
	max := e.Inferences[0]
	for _, score := range e.Inferences[1:] {
		if score > max {
			max = score
		}
	}
	return max, true
}
