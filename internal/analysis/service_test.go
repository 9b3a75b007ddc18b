package analysis

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/rs/zerolog"

	"github.com/calebrhodes/photoflow-backend/internal/extract"
	"github.com/calebrhodes/photoflow-backend/internal/modelruntime"
	pkgerrors "github.com/calebrhodes/photoflow-backend/pkg/errors"
	"github.com/calebrhodes/photoflow-backend/pkg/logger"
)

type stubCaptioner struct {
	result     *modelruntime.CaptionResult
	err        error
	calls      int
	warmups    int
	warmupErr  error
	lastMime   string
	lastLength int
}

func (s *stubCaptioner) Caption(_ context.Context, image []byte, mimeType string) (*modelruntime.CaptionResult, error) {
	s.calls++
	s.lastMime = mimeType
	s.lastLength = len(image)
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func (s *stubCaptioner) Warmup(context.Context, string) error {
	s.warmups++
	return s.warmupErr
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Level: zerolog.Disabled, Output: io.Discard})
}

func testPayload() *extract.Payload {
	return &extract.Payload{Bytes: []byte{0x01, 0x02}, MimeType: "image/jpeg"}
}

func TestAnalyzeUsesRuntimeCaption(t *testing.T) {
	t.Parallel()

	captioner := &stubCaptioner{result: &modelruntime.CaptionResult{
		Description: "A dog swimming in a pool",
		Confidence:  0.92,
	}}
	svc, err := NewService(captioner, testLogger())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	result, err := svc.Analyze(context.Background(), testPayload(), "beach.jpg")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if result.Description != "A dog swimming in a pool" {
		t.Fatalf("unexpected description %q", result.Description)
	}
	if result.Confidence != 0.92 {
		t.Fatalf("unexpected confidence %v", result.Confidence)
	}
	if result.Fallback {
		t.Fatalf("unexpected fallback result")
	}
	if len(result.Tags) == 0 {
		t.Fatalf("expected tags from description")
	}
	if captioner.lastMime != "image/jpeg" {
		t.Fatalf("unexpected mime forwarded %q", captioner.lastMime)
	}
}

func TestAnalyzeDefaultsMissingConfidence(t *testing.T) {
	t.Parallel()

	captioner := &stubCaptioner{result: &modelruntime.CaptionResult{Description: "A house"}}
	svc, err := NewService(captioner, testLogger())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	result, err := svc.Analyze(context.Background(), testPayload(), "house.jpg")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if result.Confidence != ConfidenceRemoteDefault {
		t.Fatalf("expected default confidence, got %v", result.Confidence)
	}
}

func TestAnalyzeClampsConfidence(t *testing.T) {
	t.Parallel()

	captioner := &stubCaptioner{result: &modelruntime.CaptionResult{Description: "A house", Confidence: 3.5}}
	svc, err := NewService(captioner, testLogger())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	result, err := svc.Analyze(context.Background(), testPayload(), "house.jpg")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if result.Confidence != 1 {
		t.Fatalf("expected clamped confidence, got %v", result.Confidence)
	}
}

func TestAnalyzeFallsBackOnRuntimeFailure(t *testing.T) {
	t.Parallel()

	captioner := &stubCaptioner{err: pkgerrors.New(pkgerrors.CodeServiceUnavailable, "runtime down")}
	svc, err := NewService(captioner, testLogger())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	result, err := svc.Analyze(context.Background(), testPayload(), "photo_001.jpg")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if !result.Fallback {
		t.Fatalf("expected fallback result")
	}
	if result.Confidence != ConfidenceFallback {
		t.Fatalf("unexpected confidence %v", result.Confidence)
	}
}

func TestAnalyzeFallsBackOnEmptyDescription(t *testing.T) {
	t.Parallel()

	captioner := &stubCaptioner{result: &modelruntime.CaptionResult{Description: "   "}}
	svc, err := NewService(captioner, testLogger())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	result, err := svc.Analyze(context.Background(), testPayload(), "photo.jpg")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if !result.Fallback {
		t.Fatalf("expected fallback result")
	}
}

func TestAnalyzePropagatesTimeout(t *testing.T) {
	t.Parallel()

	captioner := &stubCaptioner{err: pkgerrors.Wrap(pkgerrors.CodeTimeout, context.DeadlineExceeded, "caption inference timed out")}
	svc, err := NewService(captioner, testLogger())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	result, err := svc.Analyze(context.Background(), testPayload(), "slow.jpg")
	if err == nil {
		t.Fatalf("expected error, got fallback result %+v", result)
	}
	if pkgerrors.CodeOf(err) != pkgerrors.CodeTimeout {
		t.Fatalf("expected timeout, got %q", pkgerrors.CodeOf(err))
	}
}

func TestAnalyzePropagatesExpiredContext(t *testing.T) {
	t.Parallel()

	captioner := &stubCaptioner{err: pkgerrors.New(pkgerrors.CodeDependency, "connection reset")}
	svc, err := NewService(captioner, testLogger())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := svc.Analyze(ctx, testPayload(), "slow.jpg")
	if err == nil {
		t.Fatalf("expected error, got fallback result %+v", result)
	}
	if pkgerrors.CodeOf(err) != pkgerrors.CodeDependency {
		t.Fatalf("unexpected code %q", pkgerrors.CodeOf(err))
	}
}

func TestAnalyzePropagatesInvalidInput(t *testing.T) {
	t.Parallel()

	captioner := &stubCaptioner{err: pkgerrors.New(pkgerrors.CodeInvalidInput, "corrupt image")}
	svc, err := NewService(captioner, testLogger())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	_, err = svc.Analyze(context.Background(), testPayload(), "broken.jpg")
	if err == nil {
		t.Fatalf("expected error")
	}
	if pkgerrors.CodeOf(err) != pkgerrors.CodeInvalidInput {
		t.Fatalf("expected invalid input, got %q", pkgerrors.CodeOf(err))
	}
	if errors.Is(err, context.Canceled) {
		t.Fatalf("unexpected context error")
	}
}

func TestAnalyzeRejectsEmptyPayload(t *testing.T) {
	t.Parallel()

	svc, err := NewService(&stubCaptioner{}, testLogger())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	_, err = svc.Analyze(context.Background(), nil, "x.jpg")
	if err == nil {
		t.Fatalf("expected error")
	}
	if pkgerrors.CodeOf(err) != pkgerrors.CodeInvalidInput {
		t.Fatalf("expected invalid input, got %q", pkgerrors.CodeOf(err))
	}
}

func TestLoadWarmsCaptionModel(t *testing.T) {
	t.Parallel()

	captioner := &stubCaptioner{}
	svc, err := NewService(captioner, testLogger())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	if err := svc.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if captioner.warmups != 1 {
		t.Fatalf("expected 1 warmup, got %d", captioner.warmups)
	}
}
