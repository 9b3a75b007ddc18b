package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/calebrhodes/photoflow-backend/pkg/db/models"
	dbtypes "github.com/calebrhodes/photoflow-backend/pkg/db/types"
	"github.com/calebrhodes/photoflow-backend/pkg/enums"
	pkgerrors "github.com/calebrhodes/photoflow-backend/pkg/errors"
)

// Repository handles media item persistence for the processing pipeline.
type Repository struct {
	db *gorm.DB
}

// NewRepository binds a GORM DB to pipeline operations.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// FindByID loads a media item.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.MediaItem, error) {
	var item models.MediaItem
	if err := r.db.WithContext(ctx).First(&item, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "media item not found")
		}
		return nil, err
	}
	return &item, nil
}

// ListCandidates returns items eligible for processing, oldest upload first.
// Items stuck in processing with a claim older than staleBefore are offered
// again; a crashed worker must not park items forever. A negative limit means
// no cap.
func (r *Repository) ListCandidates(ctx context.Context, limit int, staleBefore time.Time) ([]models.MediaItem, error) {
	if limit == 0 {
		return nil, nil
	}
	if limit < 0 {
		limit = -1
	}
	var items []models.MediaItem
	err := r.db.WithContext(ctx).
		Where("processing_status IN ?", []enums.ProcessingStatus{enums.ProcessingStatusPending, enums.ProcessingStatusFailed}).
		Or("processing_status = ? AND claimed_at < ?", enums.ProcessingStatusProcessing, staleBefore).
		Order("uploaded_at ASC").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// ListCandidatesForAlbum returns eligible items scoped to one album. A
// negative limit means no cap.
func (r *Repository) ListCandidatesForAlbum(ctx context.Context, albumID uuid.UUID, limit int) ([]models.MediaItem, error) {
	if limit == 0 {
		return nil, nil
	}
	query := r.db.WithContext(ctx).
		Where("album_id = ?", albumID).
		Where("processing_status IN ?", []enums.ProcessingStatus{enums.ProcessingStatusPending, enums.ProcessingStatusFailed}).
		Order("uploaded_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var items []models.MediaItem
	if err := query.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// ResetCompletedForAlbum moves an album's completed items back to pending for
// forced re-analysis. Returns how many rows moved.
func (r *Repository) ResetCompletedForAlbum(ctx context.Context, albumID uuid.UUID) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.MediaItem{}).
		Where("album_id = ?", albumID).
		Where("processing_status = ?", enums.ProcessingStatusCompleted).
		Updates(map[string]any{
			"processing_status": enums.ProcessingStatusPending,
			"claimed_at":        nil,
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// Claim atomically moves an item into processing. The guarded UPDATE is the
// concurrency control: two workers racing on the same item see exactly one
// affected row between them.
func (r *Repository) Claim(ctx context.Context, id uuid.UUID, now time.Time, staleBefore time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.MediaItem{}).
		Where("id = ?", id).
		Where(
			r.db.Where("processing_status IN ?", []enums.ProcessingStatus{enums.ProcessingStatusPending, enums.ProcessingStatusFailed}).
				Or("processing_status = ? AND claimed_at < ?", enums.ProcessingStatusProcessing, staleBefore),
		).
		Updates(map[string]any{
			"processing_status":   enums.ProcessingStatusProcessing,
			"claimed_at":          now,
			"ai_processing_error": "",
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// CompletedResult carries the analysis output persisted on success.
type CompletedResult struct {
	Description string
	Tags        []string
	Confidence  float64
	Embedding   dbtypes.Vector
}

// MarkCompleted finalizes a successfully processed item. The update is guarded
// on processing so a stale worker that lost its claim cannot overwrite a
// newer result.
func (r *Repository) MarkCompleted(ctx context.Context, id uuid.UUID, res CompletedResult) error {
	tags := res.Tags
	if tags == nil {
		tags = []string{}
	}
	updates := map[string]any{
		"processing_status":   enums.ProcessingStatusCompleted,
		"claimed_at":          nil,
		"ai_processed":        true,
		"ai_description":      res.Description,
		"ai_tags":             pq.StringArray(tags),
		"ai_confidence_score": res.Confidence,
		"ai_processing_error": "",
	}
	if res.Embedding != nil {
		updates["embedding"] = res.Embedding
	}

	result := r.db.WithContext(ctx).
		Model(&models.MediaItem{}).
		Where("id = ? AND processing_status = ?", id, enums.ProcessingStatusProcessing).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "item is no longer claimed")
	}
	return nil
}

// MarkFailed finalizes a failed item, recording the failure reason.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	result := r.db.WithContext(ctx).
		Model(&models.MediaItem{}).
		Where("id = ? AND processing_status = ?", id, enums.ProcessingStatusProcessing).
		Updates(map[string]any{
			"processing_status":   enums.ProcessingStatusFailed,
			"claimed_at":          nil,
			"ai_processing_error": reason,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "item is no longer claimed")
	}
	return nil
}

// ResetForReanalysis moves completed items back to pending so a forced run
// picks them up again. Returns how many rows moved.
func (r *Repository) ResetForReanalysis(ctx context.Context, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := r.db.WithContext(ctx).
		Model(&models.MediaItem{}).
		Where("id IN ?", ids).
		Where("processing_status = ?", enums.ProcessingStatusCompleted).
		Updates(map[string]any{
			"processing_status": enums.ProcessingStatusPending,
			"claimed_at":        nil,
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// ResetStuck moves long-claimed processing items back to pending. Used by the
// operator CLI when a worker died without releasing its claims.
func (r *Repository) ResetStuck(ctx context.Context, staleBefore time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.MediaItem{}).
		Where("processing_status = ? AND claimed_at < ?", enums.ProcessingStatusProcessing, staleBefore).
		Updates(map[string]any{
			"processing_status": enums.ProcessingStatusPending,
			"claimed_at":        nil,
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// StatusCounts returns how many items sit in each lifecycle state.
func (r *Repository) StatusCounts(ctx context.Context) (map[enums.ProcessingStatus]int64, error) {
	type row struct {
		ProcessingStatus enums.ProcessingStatus
		Total            int64
	}
	var rows []row
	err := r.db.WithContext(ctx).
		Model(&models.MediaItem{}).
		Select("processing_status, COUNT(*) AS total").
		Group("processing_status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[enums.ProcessingStatus]int64, len(rows))
	for _, r := range rows {
		if !r.ProcessingStatus.IsValid() {
			return nil, fmt.Errorf("unknown processing status %q in counts", r.ProcessingStatus)
		}
		counts[r.ProcessingStatus] = r.Total
	}
	return counts, nil
}
