package tracing

import (
	"context"
	"errors"
	"testing"
)

func TestInitWithoutEndpointIsNoop(t *testing.T) {
	ctx := context.Background()
	tp, err := Init(ctx, &Config{ServiceName: "test"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tp.Tracer() == nil {
		t.Fatal("expected non-nil tracer")
	}
	if err := tp.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestInitNilConfig(t *testing.T) {
	tp, err := Init(context.Background(), nil)
	if err != nil || tp == nil {
		t.Fatalf("expected provider, got %v, %v", tp, err)
	}
}

func TestSpansNest(t *testing.T) {
	ctx, load := StartLoadSpan(context.Background(), "/data", 4)
	_, img := StartImageSpan(ctx, "/data/a.jpg")
	RecordError(img, errors.New("decode"))
	img.End()
	RecordLoadResult(load, 1, 0, 1, 0)
	load.End()

	_, query := StartQuerySpan(context.Background(), "/tmp/q.jpg", "sift")
	RecordQueryResult(query, 10, 2)
	RecordError(query, nil)
	query.End()
}
