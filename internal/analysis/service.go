package analysis

import (
	"context"
	"fmt"
	"strings"

	"github.com/calebrhodes/photoflow-backend/internal/extract"
	"github.com/calebrhodes/photoflow-backend/internal/modelruntime"
	pkgerrors "github.com/calebrhodes/photoflow-backend/pkg/errors"
	"github.com/calebrhodes/photoflow-backend/pkg/logger"
)

// Confidence levels by analysis source.
const (
	// ConfidenceRemoteDefault applies when the runtime answers without
	// reporting its own confidence.
	ConfidenceRemoteDefault = 0.8

	// ConfidenceFallback applies to heuristic results produced without a model.
	ConfidenceFallback = 0.3
)

// Result is the outcome of analyzing one media item.
type Result struct {
	Description string
	Tags        []string
	Confidence  float64
	Fallback    bool
}

type captioner interface {
	Caption(ctx context.Context, image []byte, mimeType string) (*modelruntime.CaptionResult, error)
	Warmup(ctx context.Context, service string) error
}

// Service generates descriptions and tags for media payloads.
type Service interface {
	Analyze(ctx context.Context, payload *extract.Payload, fileName string) (*Result, error)
	Load(ctx context.Context) error
}

type service struct {
	captioner captioner
	logg      *logger.Logger
}

// NewService constructs the analysis service backed by the model runtime.
func NewService(captioner captioner, logg *logger.Logger) (Service, error) {
	if captioner == nil {
		return nil, fmt.Errorf("captioner is required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &service{captioner: captioner, logg: logg}, nil
}

// Load warms the caption model so later calls hit a ready runtime.
func (s *service) Load(ctx context.Context) error {
	return s.captioner.Warmup(ctx, modelruntime.ServiceCaption)
}

// Analyze runs caption inference and derives tags from the description. When
// the runtime is unavailable it degrades to the heuristic analyzer instead of
// failing the item; undecodable input and expired budgets are hard errors.
func (s *service) Analyze(ctx context.Context, payload *extract.Payload, fileName string) (*Result, error) {
	if payload == nil || len(payload.Bytes) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidInput, "payload bytes are required")
	}

	caption, err := s.captioner.Caption(ctx, payload.Bytes, payload.MimeType)
	if err != nil {
		// Undecodable input and expired budgets fail the item; the
		// fallback is reserved for a runtime that broke mid-batch.
		switch pkgerrors.CodeOf(err) {
		case pkgerrors.CodeInvalidInput, pkgerrors.CodeTimeout:
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, err
		}
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "caption inference failed, using fallback analysis")
		return fallbackAnalyze(payload.Bytes, fileName), nil
	}

	description := strings.TrimSpace(caption.Description)
	if description == "" {
		s.logg.Warn(ctx, "empty caption from runtime, using fallback analysis")
		return fallbackAnalyze(payload.Bytes, fileName), nil
	}

	confidence := caption.Confidence
	if confidence <= 0 {
		confidence = ConfidenceRemoteDefault
	}
	if confidence > 1 {
		confidence = 1
	}

	return &Result{
		Description: description,
		Tags:        ExtractTags(description),
		Confidence:  confidence,
	}, nil
}
