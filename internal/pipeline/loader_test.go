package pipeline

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/example/vision-gate/internal/storage"
)

type stubStore struct {
	objects map[string][]byte
	err     error
	calls   int
}

func (s *stubStore) Fetch(ctx context.Context, bucket, key string) ([]byte, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	data, ok := s.objects[bucket+"/"+key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return data, nil
}

func TestLoaderRoundTripsObjectBytes(t *testing.T) {
	image := []byte{0x89, 'P', 'N', 'G', 0x00, 0x42}
	store := &stubStore{objects: map[string][]byte{"imgs/bikes/0001.png": image}}
	loader := NewLoader(store, zap.NewNop())

	env, err := loader.Run(context.Background(), "exec-1", "imgs", "bikes/0001.png")
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}

	decoded, err := env.DecodeImage()
	if err != nil {
		t.Fatalf("payload did not decode: %v", err)
	}
	if string(decoded) != string(image) {
		t.Fatalf("payload round trip mismatch: got %v want %v", decoded, image)
	}
	if env.Bucket != "imgs" || env.Key != "bikes/0001.png" {
		t.Fatalf("storage reference not recorded: %+v", env)
	}
	if len(env.Inferences) != 0 {
		t.Fatalf("expected empty inferences, got %v", env.Inferences)
	}
}

func TestLoaderMissingObjectFailsWithNotFound(t *testing.T) {
	store := &stubStore{objects: map[string][]byte{}}
	loader := NewLoader(store, zap.NewNop())

	env, err := loader.Run(context.Background(), "exec-1", "imgs", "missing.png")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if env.ImageData != "" {
		t.Fatalf("no envelope must be produced on failure, got %+v", env)
	}
}

func TestLoaderAccessDeniedPropagates(t *testing.T) {
	store := &stubStore{err: storage.ErrAccessDenied}
	loader := NewLoader(store, zap.NewNop())

	if _, err := loader.Run(context.Background(), "exec-1", "imgs", "k"); !errors.Is(err, storage.ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied, got %v", err)
	}
}

func TestLoaderIOErrorPropagates(t *testing.T) {
	ioErr := &storage.IOError{Bucket: "imgs", Key: "k", Err: errors.New("connection reset")}
	store := &stubStore{err: ioErr}
	loader := NewLoader(store, zap.NewNop())

	_, err := loader.Run(context.Background(), "exec-1", "imgs", "k")
	var got *storage.IOError
	if !errors.As(err, &got) {
		t.Fatalf("expected IOError to surface, got %v", err)
	}
}

func TestLoaderRejectsEmptyReference(t *testing.T) {
	store := &stubStore{}
	loader := NewLoader(store, zap.NewNop())

	for _, ref := range [][2]string{{"", "k"}, {"imgs", ""}} {
		_, err := loader.Run(context.Background(), "exec-1", ref[0], ref[1])
		if !IsContractViolation(err) {
			t.Fatalf("expected contract violation for %q/%q, got %v", ref[0], ref[1], err)
		}
	}
	if store.calls != 0 {
		t.Fatalf("storage must not be consulted for invalid references, got %d calls", store.calls)
	}
}

func TestLoaderRejectsEmptyObject(t *testing.T) {
	store := &stubStore{objects: map[string][]byte{"imgs/blank.png": {}}}
	loader := NewLoader(store, zap.NewNop())

	if _, err := loader.Run(context.Background(), "exec-1", "imgs", "blank.png"); !IsContractViolation(err) {
		t.Fatalf("expected contract violation for empty object, got %v", err)
	}
}
