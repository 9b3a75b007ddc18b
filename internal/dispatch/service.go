package dispatch

import (
	"context"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/calebrhodes/photoflow-backend/internal/pipeline"
	"github.com/calebrhodes/photoflow-backend/internal/settings"
	"github.com/calebrhodes/photoflow-backend/pkg/db/models"
	"github.com/calebrhodes/photoflow-backend/pkg/enums"
	pkgerrors "github.com/calebrhodes/photoflow-backend/pkg/errors"
	"github.com/calebrhodes/photoflow-backend/pkg/logger"
)

const defaultPublishTimeout = 30 * time.Second

type itemLister interface {
	ListCandidatesForAlbum(ctx context.Context, albumID uuid.UUID, limit int) ([]models.MediaItem, error)
	ResetCompletedForAlbum(ctx context.Context, albumID uuid.UUID) (int64, error)
}

type settingsSource interface {
	Snapshot(ctx context.Context) (settings.Snapshot, error)
}

// Service publishes processing jobs for the three triggers: the daily
// schedule, explicit album requests, and uploads.
type Service struct {
	pub    publisher
	repo   itemLister
	source settingsSource
	logg   *logger.Logger

	now func() time.Time
}

// ServiceParams collect the dispatch dependencies.
type ServiceParams struct {
	Publisher Publisher
	Repo      itemLister
	Settings  settingsSource
	Logger    *logger.Logger
}

// NewService builds the dispatch service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("item repository is required")
	}
	if params.Settings == nil {
		return nil, fmt.Errorf("settings source is required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &Service{
		pub:    params.Publisher,
		repo:   params.Repo,
		source: params.Settings,
		logg:   params.Logger,
		now:    time.Now,
	}, nil
}

// DispatchBatch enqueues one batch job. The worker that receives it claims and
// processes up to the configured batch size.
func (s *Service) DispatchBatch(ctx context.Context) error {
	job := Job{
		ID:         uuid.New(),
		Kind:       enums.JobKindBatch,
		Trigger:    pipeline.TriggerScheduled,
		EnqueuedAt: s.now().UTC(),
	}
	if err := s.publish(ctx, job); err != nil {
		return err
	}
	s.logg.Info(s.logg.WithJob(ctx, job.ID.String()), "batch job dispatched")
	return nil
}

// BatchRequest describes an explicit site-wide processing request.
type BatchRequest struct {
	RequestedBy uuid.UUID
	// Privileged marks a requester who may exceed the delegated cap.
	Privileged bool
	// Requested caps how many items the batch may claim; zero or negative
	// means "as many as allowed".
	Requested int
}

// RequestBatchProcessing enqueues one batch job over the whole candidate set,
// honoring the requester's cap. A privileged requester who asks for nothing
// in particular gets an unbounded run.
func (s *Service) RequestBatchProcessing(ctx context.Context, req BatchRequest) error {
	if req.RequestedBy == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "requester id is required")
	}

	snap, err := s.source.Snapshot(ctx)
	if err != nil {
		return err
	}

	job := Job{
		ID:          uuid.New(),
		Kind:        enums.JobKindBatch,
		MaxItems:    resolveLimit(req.Privileged, req.Requested, snap.DelegatedUserBatchLimit),
		Trigger:     pipeline.TriggerOnDemand,
		RequestedBy: req.RequestedBy,
		EnqueuedAt:  s.now().UTC(),
	}
	if err := s.publish(ctx, job); err != nil {
		return err
	}
	ctx = s.logg.WithUserID(ctx, req.RequestedBy.String())
	s.logg.Info(s.logg.WithField(ctx, "max_items", job.MaxItems), "on-demand batch job dispatched")
	return nil
}

// AlbumRequest describes an explicit processing request for one album.
type AlbumRequest struct {
	AlbumID     uuid.UUID
	RequestedBy uuid.UUID
	// Privileged marks a requester who may exceed the delegated cap.
	Privileged bool
	// Requested caps how many items to enqueue; zero or negative means "as
	// many as allowed".
	Requested int
	// Force re-enqueues completed items as well.
	Force bool
}

// RequestAlbumProcessing enqueues single-item jobs for an album's eligible
// items, honoring the requester's cap. Returns how many jobs were published.
func (s *Service) RequestAlbumProcessing(ctx context.Context, req AlbumRequest) (int, error) {
	if req.AlbumID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "album id is required")
	}
	if req.RequestedBy == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "requester id is required")
	}

	snap, err := s.source.Snapshot(ctx)
	if err != nil {
		return 0, err
	}

	limit := resolveLimit(req.Privileged, req.Requested, snap.DelegatedUserBatchLimit)

	ctx = s.logg.WithAlbumID(s.logg.WithUserID(ctx, req.RequestedBy.String()), req.AlbumID.String())

	if req.Force {
		moved, err := s.repo.ResetCompletedForAlbum(ctx, req.AlbumID)
		if err != nil {
			return 0, err
		}
		s.logg.Info(s.logg.WithField(ctx, "reset", moved), "completed items reset for re-analysis")
	}

	items, err := s.repo.ListCandidatesForAlbum(ctx, req.AlbumID, limit)
	if err != nil {
		return 0, err
	}

	published := 0
	var errs []error
	for _, item := range items {
		job := Job{
			ID:          uuid.New(),
			Kind:        enums.JobKindSingle,
			ItemID:      item.ID,
			Force:       req.Force,
			Trigger:     pipeline.TriggerOnDemand,
			RequestedBy: req.RequestedBy,
			EnqueuedAt:  s.now().UTC(),
		}
		if err := s.publish(ctx, job); err != nil {
			// Keep enqueuing the rest; the caller gets the combined failure.
			errs = append(errs, fmt.Errorf("item %s: %w", item.ID, err))
			continue
		}
		published++
	}

	s.logg.Info(s.logg.WithField(ctx, "published", published), "album processing requested")
	return published, multierr.Combine(errs...)
}

// NotifyUploaded enqueues a single-item job for a fresh upload when the
// auto-process switch is on. With the switch off this is a no-op; the item
// waits for the nightly batch.
func (s *Service) NotifyUploaded(ctx context.Context, itemID uuid.UUID) (bool, error) {
	if itemID == uuid.Nil {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "item id is required")
	}

	snap, err := s.source.Snapshot(ctx)
	if err != nil {
		return false, err
	}
	if !snap.AutoProcessOnUpload {
		return false, nil
	}

	job := Job{
		ID:         uuid.New(),
		Kind:       enums.JobKindSingle,
		ItemID:     itemID,
		Trigger:    pipeline.TriggerOnUpload,
		EnqueuedAt: s.now().UTC(),
	}
	if err := s.publish(ctx, job); err != nil {
		return false, err
	}
	s.logg.Info(s.logg.WithItemID(ctx, itemID.String()), "upload job dispatched")
	return true, nil
}

// PublishJob publishes a pre-built envelope. Used by operator tooling; the
// trigger methods above are the normal entry points.
func (s *Service) PublishJob(ctx context.Context, job Job) error {
	return s.publish(ctx, job)
}

// resolveLimit applies the permission-scoped cap. Privileged requesters get
// what they asked for, unbounded when they asked for everything. Delegated
// requesters never exceed the configured limit, which is also their default.
func resolveLimit(privileged bool, requested, delegatedLimit int) int {
	if privileged {
		if requested <= 0 {
			return -1
		}
		return requested
	}
	if requested <= 0 || requested > delegatedLimit {
		return delegatedLimit
	}
	return requested
}

func (s *Service) publish(ctx context.Context, job Job) error {
	data, err := job.Marshal()
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid job envelope")
	}

	msg := &gcppubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"job_id":      job.ID.String(),
			"job_kind":    job.Kind.String(),
			"trigger":     job.Trigger,
			"enqueued_at": job.EnqueuedAt.Format(time.RFC3339Nano),
		},
	}

	publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()

	result := s.pub.Publish(publishCtx, msg)
	if result == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "publisher returned nil result")
	}
	if _, err := result.Get(publishCtx); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "publish processing job")
	}
	return nil
}
