package embedding

import (
	"context"
	"fmt"

	"github.com/calebrhodes/photoflow-backend/internal/extract"
	"github.com/calebrhodes/photoflow-backend/internal/modelruntime"
	dbtypes "github.com/calebrhodes/photoflow-backend/pkg/db/types"
	pkgerrors "github.com/calebrhodes/photoflow-backend/pkg/errors"
	"github.com/calebrhodes/photoflow-backend/pkg/logger"
)

// Dims is the vector width stored for similarity search.
const Dims = modelruntime.EmbeddingDims

type embedder interface {
	Embed(ctx context.Context, image []byte, mimeType string) ([]float32, error)
	Warmup(ctx context.Context, service string) error
}

// Service produces similarity-search vectors for media payloads.
type Service interface {
	Embed(ctx context.Context, payload *extract.Payload) (dbtypes.Vector, error)
	Load(ctx context.Context) error
}

type service struct {
	embedder embedder
	logg     *logger.Logger
}

// NewService constructs the embedding service backed by the model runtime.
func NewService(embedder embedder, logg *logger.Logger) (Service, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &service{embedder: embedder, logg: logg}, nil
}

// Load warms the embedding model so later calls hit a ready runtime.
func (s *service) Load(ctx context.Context) error {
	return s.embedder.Warmup(ctx, modelruntime.ServiceEmbed)
}

// Embed runs embedding inference. There is no heuristic fallback for vectors;
// a runtime failure fails the call.
func (s *service) Embed(ctx context.Context, payload *extract.Payload) (dbtypes.Vector, error) {
	if payload == nil || len(payload.Bytes) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidInput, "payload bytes are required")
	}

	vec, err := s.embedder.Embed(ctx, payload.Bytes, payload.MimeType)
	if err != nil {
		return nil, err
	}
	if len(vec) != Dims {
		return nil, pkgerrors.New(pkgerrors.CodeModelFailure,
			fmt.Sprintf("embedding width %d, expected %d", len(vec), Dims))
	}

	return dbtypes.Vector(vec), nil
}
