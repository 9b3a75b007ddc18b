package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/calebrhodes/photoflow-backend/pkg/db/models"
	dbtypes "github.com/calebrhodes/photoflow-backend/pkg/db/types"
	"github.com/calebrhodes/photoflow-backend/pkg/enums"
	pkgerrors "github.com/calebrhodes/photoflow-backend/pkg/errors"
)

// mediaItemsDDL mirrors the postgres schema with sqlite affinities. The
// postgres-only pieces (enum types, vector width, server-side defaults) do not
// matter for the query semantics under test.
const mediaItemsDDL = `CREATE TABLE media_items (
	id TEXT PRIMARY KEY,
	album_id TEXT NOT NULL,
	owner_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	file_path TEXT NOT NULL,
	file_name TEXT NOT NULL,
	mime_type TEXT NOT NULL,
	processing_status TEXT NOT NULL DEFAULT 'pending',
	claimed_at DATETIME,
	ai_processed BOOLEAN NOT NULL DEFAULT 0,
	ai_description TEXT NOT NULL DEFAULT '',
	ai_tags TEXT,
	ai_confidence_score REAL NOT NULL DEFAULT 0,
	ai_processing_error TEXT NOT NULL DEFAULT '',
	embedding TEXT,
	uploaded_at DATETIME NOT NULL,
	created_at DATETIME,
	updated_at DATETIME
)`

func newRepoTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := conn.Exec(mediaItemsDDL).Error; err != nil {
		t.Fatalf("create media_items: %v", err)
	}
	return conn
}

func seedItem(t *testing.T, db *gorm.DB, status enums.ProcessingStatus, uploadedAt time.Time) *models.MediaItem {
	t.Helper()
	item := testItem("seed.jpg", status, uploadedAt)
	if err := db.Create(item).Error; err != nil {
		t.Fatalf("seed item: %v", err)
	}
	return item
}

func TestClaimMovesEligibleItemToProcessing(t *testing.T) {
	t.Parallel()

	db := newRepoTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	item := seedItem(t, db, enums.ProcessingStatusPending, now.Add(-time.Hour))

	claimed, err := repo.Claim(ctx, item.ID, now, now.Add(-5*time.Minute))
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !claimed {
		t.Fatalf("expected claim to succeed")
	}

	stored, err := repo.FindByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if stored.ProcessingStatus != enums.ProcessingStatusProcessing {
		t.Fatalf("unexpected status %q", stored.ProcessingStatus)
	}
	if stored.ClaimedAt == nil {
		t.Fatalf("expected claimed_at set")
	}

	// a second claim on the fresh claim loses
	claimed, err = repo.Claim(ctx, item.ID, now, now.Add(-5*time.Minute))
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if claimed {
		t.Fatalf("expected second claim to lose")
	}
}

func TestClaimReclaimsStaleProcessingItem(t *testing.T) {
	t.Parallel()

	db := newRepoTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	item := testItem("stale.jpg", enums.ProcessingStatusProcessing, now.Add(-2*time.Hour))
	old := now.Add(-time.Hour)
	item.ClaimedAt = &old
	if err := db.Create(item).Error; err != nil {
		t.Fatalf("seed item: %v", err)
	}

	claimed, err := repo.Claim(ctx, item.ID, now, now.Add(-5*time.Minute))
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !claimed {
		t.Fatalf("expected stale claim to be taken over")
	}
}

func TestClaimIgnoresCompletedItems(t *testing.T) {
	t.Parallel()

	db := newRepoTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	item := seedItem(t, db, enums.ProcessingStatusCompleted, now.Add(-time.Hour))

	claimed, err := repo.Claim(ctx, item.ID, now, now.Add(-5*time.Minute))
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed {
		t.Fatalf("completed item must not be claimable")
	}
}

func TestMarkCompletedPersistsResult(t *testing.T) {
	t.Parallel()

	db := newRepoTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	item := seedItem(t, db, enums.ProcessingStatusPending, now.Add(-time.Hour))
	if _, err := repo.Claim(ctx, item.ID, now, now.Add(-5*time.Minute)); err != nil {
		t.Fatalf("claim: %v", err)
	}

	embedding := make(dbtypes.Vector, 4)
	embedding[0] = 0.5
	err := repo.MarkCompleted(ctx, item.ID, CompletedResult{
		Description: "A dog swimming in a pool",
		Tags:        []string{"dog", "water"},
		Confidence:  0.9,
		Embedding:   embedding,
	})
	if err != nil {
		t.Fatalf("mark completed: %v", err)
	}

	stored, err := repo.FindByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if stored.ProcessingStatus != enums.ProcessingStatusCompleted {
		t.Fatalf("unexpected status %q", stored.ProcessingStatus)
	}
	if !stored.AIProcessed {
		t.Fatalf("expected ai_processed set")
	}
	if stored.ClaimedAt != nil {
		t.Fatalf("expected claim released")
	}
	if stored.AIDescription != "A dog swimming in a pool" {
		t.Fatalf("unexpected description %q", stored.AIDescription)
	}
	if len(stored.AITags) != 2 {
		t.Fatalf("unexpected tags %v", stored.AITags)
	}
	if stored.AIConfidenceScore != 0.9 {
		t.Fatalf("unexpected confidence %v", stored.AIConfidenceScore)
	}
}

func TestMarkCompletedRejectsUnclaimedItem(t *testing.T) {
	t.Parallel()

	db := newRepoTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	item := seedItem(t, db, enums.ProcessingStatusPending, time.Now().UTC().Add(-time.Hour))

	err := repo.MarkCompleted(ctx, item.ID, CompletedResult{Description: "x"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if pkgerrors.CodeOf(err) != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %q", pkgerrors.CodeOf(err))
	}
}

func TestMarkFailedRecordsReason(t *testing.T) {
	t.Parallel()

	db := newRepoTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	item := seedItem(t, db, enums.ProcessingStatusPending, now.Add(-time.Hour))
	if _, err := repo.Claim(ctx, item.ID, now, now.Add(-5*time.Minute)); err != nil {
		t.Fatalf("claim: %v", err)
	}

	if err := repo.MarkFailed(ctx, item.ID, "MODEL_FAILURE: inference blew up"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	stored, err := repo.FindByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if stored.ProcessingStatus != enums.ProcessingStatusFailed {
		t.Fatalf("unexpected status %q", stored.ProcessingStatus)
	}
	if stored.AIProcessingError == "" {
		t.Fatalf("expected failure reason persisted")
	}
	if stored.ClaimedAt != nil {
		t.Fatalf("expected claim released")
	}
}

func TestListCandidatesOrdersAndLimits(t *testing.T) {
	t.Parallel()

	db := newRepoTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	oldest := seedItem(t, db, enums.ProcessingStatusFailed, now.Add(-3*time.Hour))
	middle := seedItem(t, db, enums.ProcessingStatusPending, now.Add(-2*time.Hour))
	seedItem(t, db, enums.ProcessingStatusPending, now.Add(-time.Hour))
	seedItem(t, db, enums.ProcessingStatusCompleted, now.Add(-4*time.Hour))

	items, err := repo.ListCandidates(ctx, 2, now.Add(-5*time.Minute))
	if err != nil {
		t.Fatalf("list candidates: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].ID != oldest.ID || items[1].ID != middle.ID {
		t.Fatalf("unexpected order %v, %v", items[0].ID, items[1].ID)
	}
}

func TestListCandidatesIncludesStaleProcessing(t *testing.T) {
	t.Parallel()

	db := newRepoTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	stale := testItem("stale.jpg", enums.ProcessingStatusProcessing, now.Add(-2*time.Hour))
	old := now.Add(-time.Hour)
	stale.ClaimedAt = &old
	if err := db.Create(stale).Error; err != nil {
		t.Fatalf("seed stale: %v", err)
	}

	fresh := testItem("fresh.jpg", enums.ProcessingStatusProcessing, now.Add(-time.Hour))
	recent := now.Add(-time.Minute)
	fresh.ClaimedAt = &recent
	if err := db.Create(fresh).Error; err != nil {
		t.Fatalf("seed fresh: %v", err)
	}

	items, err := repo.ListCandidates(ctx, 10, now.Add(-5*time.Minute))
	if err != nil {
		t.Fatalf("list candidates: %v", err)
	}
	if len(items) != 1 || items[0].ID != stale.ID {
		t.Fatalf("expected only the stale item, got %d items", len(items))
	}
}

func TestListCandidatesForAlbumScopes(t *testing.T) {
	t.Parallel()

	db := newRepoTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	inAlbum := seedItem(t, db, enums.ProcessingStatusPending, now.Add(-time.Hour))
	seedItem(t, db, enums.ProcessingStatusPending, now.Add(-time.Hour))

	items, err := repo.ListCandidatesForAlbum(ctx, inAlbum.AlbumID, 10)
	if err != nil {
		t.Fatalf("list for album: %v", err)
	}
	if len(items) != 1 || items[0].ID != inAlbum.ID {
		t.Fatalf("expected only the album's item, got %d items", len(items))
	}
}

func TestResetForReanalysisOnlyMovesCompleted(t *testing.T) {
	t.Parallel()

	db := newRepoTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	done := seedItem(t, db, enums.ProcessingStatusCompleted, now.Add(-time.Hour))
	pending := seedItem(t, db, enums.ProcessingStatusPending, now.Add(-time.Hour))

	moved, err := repo.ResetForReanalysis(ctx, []uuid.UUID{done.ID, pending.ID})
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if moved != 1 {
		t.Fatalf("expected 1 moved, got %d", moved)
	}

	stored, err := repo.FindByID(ctx, done.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if stored.ProcessingStatus != enums.ProcessingStatusPending {
		t.Fatalf("unexpected status %q", stored.ProcessingStatus)
	}
}

func TestResetStuckReleasesOldClaims(t *testing.T) {
	t.Parallel()

	db := newRepoTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	stale := testItem("stale.jpg", enums.ProcessingStatusProcessing, now.Add(-2*time.Hour))
	old := now.Add(-time.Hour)
	stale.ClaimedAt = &old
	if err := db.Create(stale).Error; err != nil {
		t.Fatalf("seed stale: %v", err)
	}

	moved, err := repo.ResetStuck(ctx, now.Add(-5*time.Minute))
	if err != nil {
		t.Fatalf("reset stuck: %v", err)
	}
	if moved != 1 {
		t.Fatalf("expected 1 moved, got %d", moved)
	}

	stored, err := repo.FindByID(ctx, stale.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if stored.ProcessingStatus != enums.ProcessingStatusPending {
		t.Fatalf("unexpected status %q", stored.ProcessingStatus)
	}
	if stored.ClaimedAt != nil {
		t.Fatalf("expected claim released")
	}
}

func TestStatusCounts(t *testing.T) {
	t.Parallel()

	db := newRepoTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	seedItem(t, db, enums.ProcessingStatusPending, now)
	seedItem(t, db, enums.ProcessingStatusPending, now)
	seedItem(t, db, enums.ProcessingStatusCompleted, now)

	counts, err := repo.StatusCounts(ctx)
	if err != nil {
		t.Fatalf("status counts: %v", err)
	}
	if counts[enums.ProcessingStatusPending] != 2 {
		t.Fatalf("unexpected pending count %d", counts[enums.ProcessingStatusPending])
	}
	if counts[enums.ProcessingStatusCompleted] != 1 {
		t.Fatalf("unexpected completed count %d", counts[enums.ProcessingStatusCompleted])
	}
}

func TestListCandidatesForAlbumUnbounded(t *testing.T) {
	t.Parallel()

	db := newRepoTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	albumID := uuid.New()
	for i := 0; i < 3; i++ {
		item := testItem("a.jpg", enums.ProcessingStatusPending, now.Add(-time.Duration(i)*time.Hour))
		item.AlbumID = albumID
		if err := db.Create(item).Error; err != nil {
			t.Fatalf("seed item: %v", err)
		}
	}

	items, err := repo.ListCandidatesForAlbum(ctx, albumID, -1)
	if err != nil {
		t.Fatalf("list unbounded: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected all 3 items, got %d", len(items))
	}

	items, err = repo.ListCandidatesForAlbum(ctx, albumID, 0)
	if err != nil {
		t.Fatalf("list with zero limit: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected no items for zero limit, got %d", len(items))
	}
}

func TestResetCompletedForAlbum(t *testing.T) {
	t.Parallel()

	db := newRepoTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	albumID := uuid.New()
	done := testItem("done.jpg", enums.ProcessingStatusCompleted, now.Add(-time.Hour))
	done.AlbumID = albumID
	pending := testItem("pending.jpg", enums.ProcessingStatusPending, now.Add(-time.Hour))
	pending.AlbumID = albumID
	otherAlbum := seedItem(t, db, enums.ProcessingStatusCompleted, now.Add(-time.Hour))
	for _, item := range []*models.MediaItem{done, pending} {
		if err := db.Create(item).Error; err != nil {
			t.Fatalf("seed item: %v", err)
		}
	}

	moved, err := repo.ResetCompletedForAlbum(ctx, albumID)
	if err != nil {
		t.Fatalf("reset completed: %v", err)
	}
	if moved != 1 {
		t.Fatalf("expected 1 moved, got %d", moved)
	}

	stored, err := repo.FindByID(ctx, done.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if stored.ProcessingStatus != enums.ProcessingStatusPending {
		t.Fatalf("unexpected status %q", stored.ProcessingStatus)
	}

	untouched, err := repo.FindByID(ctx, otherAlbum.ID)
	if err != nil {
		t.Fatalf("find other: %v", err)
	}
	if untouched.ProcessingStatus != enums.ProcessingStatusCompleted {
		t.Fatalf("other album should be untouched, got %q", untouched.ProcessingStatus)
	}
}
