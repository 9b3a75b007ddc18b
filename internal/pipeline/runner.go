package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/calebrhodes/photoflow-backend/internal/analysis"
	"github.com/calebrhodes/photoflow-backend/internal/embedding"
	"github.com/calebrhodes/photoflow-backend/internal/extract"
	"github.com/calebrhodes/photoflow-backend/internal/settings"
	"github.com/calebrhodes/photoflow-backend/pkg/db/models"
	dbtypes "github.com/calebrhodes/photoflow-backend/pkg/db/types"
	"github.com/calebrhodes/photoflow-backend/pkg/enums"
	pkgerrors "github.com/calebrhodes/photoflow-backend/pkg/errors"
	"github.com/calebrhodes/photoflow-backend/pkg/logger"
	"github.com/calebrhodes/photoflow-backend/pkg/metrics"
)

// staleClaimFactor scales the per-item timeout into the window after which a
// processing claim is considered abandoned.
const staleClaimFactor = 10

// Trigger labels for metrics and logs.
const (
	TriggerScheduled = "scheduled"
	TriggerOnDemand  = "on_demand"
	TriggerOnUpload  = "on_upload"
)

type itemRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.MediaItem, error)
	ListCandidates(ctx context.Context, limit int, staleBefore time.Time) ([]models.MediaItem, error)
	Claim(ctx context.Context, id uuid.UUID, now time.Time, staleBefore time.Time) (bool, error)
	MarkCompleted(ctx context.Context, id uuid.UUID, res CompletedResult) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
	ResetForReanalysis(ctx context.Context, ids []uuid.UUID) (int64, error)
}

type payloadExtractor interface {
	Raw(item *models.MediaItem) (*extract.Payload, error)
}

type settingsSource interface {
	Snapshot(ctx context.Context) (settings.Snapshot, error)
}

// BatchSummary reports the outcome of one runner invocation.
type BatchSummary struct {
	Processed int
	Succeeded int
	Failed    int
}

// Runner drives media items through extraction, analysis and embedding. Model
// services are loaded once per invocation, never per item.
type Runner struct {
	repo      itemRepository
	extractor payloadExtractor
	analyzer  analysis.Service
	embedder  embedding.Service
	source    settingsSource
	logg      *logger.Logger
	pipeline  *metrics.PipelineMetrics

	now func() time.Time
}

// RunnerParams collects the runner dependencies.
type RunnerParams struct {
	Repo      itemRepository
	Extractor payloadExtractor
	Analyzer  analysis.Service
	Embedder  embedding.Service
	Settings  settingsSource
	Logger    *logger.Logger
	Metrics   *metrics.PipelineMetrics
}

// NewRunner validates dependencies and constructs a Runner.
func NewRunner(params RunnerParams) (*Runner, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("item repository is required")
	}
	if params.Extractor == nil {
		return nil, fmt.Errorf("payload extractor is required")
	}
	if params.Analyzer == nil {
		return nil, fmt.Errorf("analysis service is required")
	}
	if params.Embedder == nil {
		return nil, fmt.Errorf("embedding service is required")
	}
	if params.Settings == nil {
		return nil, fmt.Errorf("settings source is required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &Runner{
		repo:      params.Repo,
		extractor: params.Extractor,
		analyzer:  params.Analyzer,
		embedder:  params.Embedder,
		source:    params.Settings,
		logg:      params.Logger,
		pipeline:  params.Metrics,
		now:       time.Now,
	}, nil
}

// RunBatch claims and processes up to the configured batch size of eligible
// items. One item failing never aborts the rest; a canceled context stops the
// loop between items.
func (r *Runner) RunBatch(ctx context.Context, trigger string, maxItems int) (BatchSummary, error) {
	start := r.now()
	summary := BatchSummary{}

	snap, err := r.source.Snapshot(ctx)
	if err != nil {
		return summary, err
	}

	// maxItems overrides the configured batch size for on-demand requests;
	// negative means unbounded (a privileged site-wide run), zero means
	// "use the settings".
	limit := snap.BatchSize
	if maxItems != 0 {
		limit = maxItems
	}

	ctx = r.logg.WithFields(ctx, map[string]any{"trigger": trigger, "batch_size": limit})

	// Initialization failure aborts before any item is claimed; the
	// scheduler retries next cycle and on-demand callers see the error.
	if err := r.loadModels(ctx); err != nil {
		return summary, pkgerrors.Wrap(pkgerrors.CodeServiceUnavailable, err, "model runtime failed to initialize")
	}

	staleBefore := start.Add(-StalenessWindow(snap.Timeout))
	candidates, err := r.repo.ListCandidates(ctx, limit, staleBefore)
	if err != nil {
		return summary, err
	}

	for i := range candidates {
		if ctx.Err() != nil {
			r.logg.Warn(ctx, "batch interrupted by shutdown")
			break
		}

		item := &candidates[i]
		claimed, err := r.repo.Claim(ctx, item.ID, r.now(), staleBefore)
		if err != nil {
			return summary, err
		}
		if !claimed {
			continue
		}

		itemCtx := r.logg.WithItemID(ctx, item.ID.String())
		if r.processOne(itemCtx, item, snap.Timeout, trigger) {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
		summary.Processed++
	}

	r.pipeline.ObserveBatchDuration(trigger, r.now().Sub(start))
	r.logg.Info(r.logg.WithFields(ctx, map[string]any{
		"processed": summary.Processed,
		"succeeded": summary.Succeeded,
		"failed":    summary.Failed,
	}), "batch run finished")

	return summary, nil
}

// AnalyzeOne processes a single item outside a batch. With force set, a
// completed item is first reset so it becomes claimable again.
func (r *Runner) AnalyzeOne(ctx context.Context, itemID uuid.UUID, force bool, trigger string) error {
	if trigger == "" {
		trigger = TriggerOnDemand
	}

	snap, err := r.source.Snapshot(ctx)
	if err != nil {
		return err
	}

	ctx = r.logg.WithItemID(ctx, itemID.String())

	item, err := r.repo.FindByID(ctx, itemID)
	if err != nil {
		return err
	}

	if item.ProcessingStatus == enums.ProcessingStatusCompleted {
		if !force {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "item already completed, use force to re-analyze")
		}
		if _, err := r.repo.ResetForReanalysis(ctx, []uuid.UUID{itemID}); err != nil {
			return err
		}
	}

	if err := r.loadModels(ctx); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeServiceUnavailable, err, "model runtime failed to initialize")
	}

	staleBefore := r.now().Add(-StalenessWindow(snap.Timeout))
	claimed, err := r.repo.Claim(ctx, itemID, r.now(), staleBefore)
	if err != nil {
		return err
	}
	if !claimed {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "item is not claimable")
	}

	if !r.processOne(ctx, item, snap.Timeout, trigger) {
		return pkgerrors.New(pkgerrors.CodeInternal, "item processing failed")
	}
	return nil
}

// loadModels warms both model services once. Callers invoke it per batch, so a
// five hundred item run costs two loads, not a thousand.
func (r *Runner) loadModels(ctx context.Context) error {
	var firstErr error
	if err := r.analyzer.Load(ctx); err != nil {
		r.pipeline.IncModelLoad("caption", "failure")
		firstErr = err
	} else {
		r.pipeline.IncModelLoad("caption", "success")
	}
	if err := r.embedder.Load(ctx); err != nil {
		r.pipeline.IncModelLoad("embed", "failure")
		if firstErr == nil {
			firstErr = err
		}
	} else {
		r.pipeline.IncModelLoad("embed", "success")
	}
	return firstErr
}

// processOne runs extraction, analysis and embedding for a claimed item and
// persists the terminal state. Returns true on success.
func (r *Runner) processOne(ctx context.Context, item *models.MediaItem, timeout time.Duration, trigger string) bool {
	itemCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := r.analyzeItem(itemCtx, item)
	if err != nil {
		if itemCtx.Err() != nil {
			err = pkgerrors.Wrap(pkgerrors.CodeTimeout, err, "processing exceeded the configured budget")
		}
		r.failItem(ctx, item.ID, trigger, err)
		return false
	}

	// Completion writes use the parent context so an item that finished
	// right at the deadline still lands its result.
	if err := r.repo.MarkCompleted(ctx, item.ID, *res); err != nil {
		r.logg.Error(ctx, "persist completed item", err)
		r.pipeline.IncFailed(trigger)
		return false
	}
	r.pipeline.IncSucceeded(trigger)
	return true
}

// analyzeItem produces the persisted result. A missing embedding is tolerated:
// search degrades, the description does not.
func (r *Runner) analyzeItem(ctx context.Context, item *models.MediaItem) (*CompletedResult, error) {
	payload, err := r.extractor.Raw(item)
	if err != nil {
		return nil, err
	}

	analyzed, err := r.analyzer.Analyze(ctx, payload, item.FileName)
	if err != nil {
		return nil, err
	}

	var vector dbtypes.Vector
	if vec, err := r.embedder.Embed(ctx, payload); err != nil {
		r.logg.Warn(r.logg.WithField(ctx, "error", err.Error()), "embedding failed, item completes without a vector")
	} else {
		vector = vec
	}

	return &CompletedResult{
		Description: analyzed.Description,
		Tags:        analyzed.Tags,
		Confidence:  analyzed.Confidence,
		Embedding:   vector,
	}, nil
}

func (r *Runner) failItem(ctx context.Context, id uuid.UUID, trigger string, cause error) {
	reason := cause.Error()
	if typed := pkgerrors.As(cause); typed != nil {
		reason = fmt.Sprintf("%s: %s", typed.Code(), typed.Message())
	}
	if err := r.repo.MarkFailed(ctx, id, reason); err != nil {
		r.logg.Error(ctx, "persist failed item", err)
	}
	r.pipeline.IncFailed(trigger)
}

// StalenessWindow converts the per-item timeout into the window after which a
// processing claim is considered abandoned. Operator tooling uses the same
// window when resetting stuck items.
func StalenessWindow(timeout time.Duration) time.Duration {
	return timeout * staleClaimFactor
}
