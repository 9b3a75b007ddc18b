package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	dbtypes "github.com/calebrhodes/photoflow-backend/pkg/db/types"
	"github.com/calebrhodes/photoflow-backend/pkg/enums"
)

// MediaItem is a photo or video tracked through the analysis pipeline.
// The web application owns the record; this service only reads identity
// fields and writes the processing columns.
type MediaItem struct {
	ID      uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	AlbumID uuid.UUID       `gorm:"column:album_id;type:uuid;not null;index"`
	OwnerID uuid.UUID       `gorm:"column:owner_id;type:uuid;not null"`
	Kind    enums.MediaKind `gorm:"column:kind;type:media_kind;not null"`

	FilePath string `gorm:"column:file_path;not null"`
	FileName string `gorm:"column:file_name;not null"`
	MimeType string `gorm:"column:mime_type;not null"`

	ProcessingStatus  enums.ProcessingStatus `gorm:"column:processing_status;type:processing_status;not null;default:pending;index"`
	ClaimedAt         *time.Time             `gorm:"column:claimed_at"`
	AIProcessed       bool                   `gorm:"column:ai_processed;not null;default:false"`
	AIDescription     string                 `gorm:"column:ai_description;not null;default:''"`
	AITags            pq.StringArray         `gorm:"column:ai_tags;type:text[];not null;default:ARRAY[]::text[]"`
	AIConfidenceScore float64                `gorm:"column:ai_confidence_score;not null;default:0"`
	AIProcessingError string                 `gorm:"column:ai_processing_error;not null;default:''"`
	Embedding         dbtypes.Vector         `gorm:"column:embedding;type:vector(512)"`

	UploadedAt time.Time `gorm:"column:uploaded_at;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName pins the shared table owned by the web application.
func (MediaItem) TableName() string {
	return "media_items"
}
