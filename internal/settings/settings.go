package settings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"

	"github.com/calebrhodes/photoflow-backend/pkg/config"
	"github.com/calebrhodes/photoflow-backend/pkg/db/models"
	pkgerrors "github.com/calebrhodes/photoflow-backend/pkg/errors"
)

// singletonID pins the one processing_settings row.
const singletonID = 1

// Snapshot is an immutable view of the processing settings, captured once per
// pipeline invocation so a mid-run admin edit cannot change behavior halfway
// through a batch.
type Snapshot struct {
	AutoProcessOnUpload     bool
	ScheduledEnabled        bool
	BatchSize               int
	Timeout                 time.Duration
	ScheduleHour            int
	ScheduleMinute          int
	DelegatedUserBatchLimit int
}

// Service reads and updates the processing settings singleton.
type Service interface {
	Snapshot(ctx context.Context) (Snapshot, error)
	Update(ctx context.Context, input UpdateInput) (Snapshot, error)
}

type service struct {
	db       *gorm.DB
	defaults config.ProcessingConfig
	validate *validator.Validate
}

// NewService binds the settings service to the database, with env-derived
// defaults used when the singleton row is absent.
func NewService(db *gorm.DB, defaults config.ProcessingConfig) (Service, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	return &service{
		db:       db,
		defaults: defaults,
		validate: validator.New(),
	}, nil
}

// Snapshot loads the current settings row, falling back to configured
// defaults when the row has not been seeded yet.
func (s *service) Snapshot(ctx context.Context) (Snapshot, error) {
	var row models.ProcessingSettings
	err := s.db.WithContext(ctx).First(&row, "id = ?", singletonID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return s.defaultSnapshot(), nil
		}
		return Snapshot{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load processing settings")
	}

	if err := s.validate.Struct(&row); err != nil {
		return Snapshot{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "processing settings row invalid")
	}

	return Snapshot{
		AutoProcessOnUpload:     row.AutoProcessOnUpload,
		ScheduledEnabled:        row.ScheduledEnabled,
		BatchSize:               row.BatchSize,
		Timeout:                 time.Duration(row.TimeoutSeconds) * time.Second,
		ScheduleHour:            row.ScheduleHour,
		ScheduleMinute:          row.ScheduleMinute,
		DelegatedUserBatchLimit: row.DelegatedUserBatchLimit,
	}, nil
}

func (s *service) defaultSnapshot() Snapshot {
	return Snapshot{
		AutoProcessOnUpload:     s.defaults.AutoProcessOnUpload,
		ScheduledEnabled:        s.defaults.ScheduledEnabled,
		BatchSize:               s.defaults.BatchSize,
		Timeout:                 time.Duration(s.defaults.TimeoutSeconds) * time.Second,
		ScheduleHour:            s.defaults.ScheduleHour,
		ScheduleMinute:          s.defaults.ScheduleMinute,
		DelegatedUserBatchLimit: s.defaults.DelegatedUserBatchLimit,
	}
}

// UpdateInput carries partial settings changes. Nil fields keep their current
// values.
type UpdateInput struct {
	AutoProcessOnUpload     *bool
	ScheduledEnabled        *bool
	BatchSize               *int
	TimeoutSeconds          *int
	ScheduleHour            *int
	ScheduleMinute          *int
	DelegatedUserBatchLimit *int
}

// Update applies the input on top of the stored row (seeding it from defaults
// when absent), validates the result, and persists it.
func (s *service) Update(ctx context.Context, input UpdateInput) (Snapshot, error) {
	var out Snapshot
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.ProcessingSettings
		err := tx.First(&row, "id = ?", singletonID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			row = s.seedRow()
		} else if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load processing settings")
		}

		applyInput(&row, input)

		if err := s.validate.Struct(&row); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "settings update rejected")
		}

		if err := tx.Save(&row).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist processing settings")
		}

		out = Snapshot{
			AutoProcessOnUpload:     row.AutoProcessOnUpload,
			ScheduledEnabled:        row.ScheduledEnabled,
			BatchSize:               row.BatchSize,
			Timeout:                 time.Duration(row.TimeoutSeconds) * time.Second,
			ScheduleHour:            row.ScheduleHour,
			ScheduleMinute:          row.ScheduleMinute,
			DelegatedUserBatchLimit: row.DelegatedUserBatchLimit,
		}
		return nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	return out, nil
}

func (s *service) seedRow() models.ProcessingSettings {
	return models.ProcessingSettings{
		ID:                      singletonID,
		AutoProcessOnUpload:     s.defaults.AutoProcessOnUpload,
		ScheduledEnabled:        s.defaults.ScheduledEnabled,
		BatchSize:               s.defaults.BatchSize,
		TimeoutSeconds:          s.defaults.TimeoutSeconds,
		ScheduleHour:            s.defaults.ScheduleHour,
		ScheduleMinute:          s.defaults.ScheduleMinute,
		DelegatedUserBatchLimit: s.defaults.DelegatedUserBatchLimit,
	}
}

func applyInput(row *models.ProcessingSettings, input UpdateInput) {
	if input.AutoProcessOnUpload != nil {
		row.AutoProcessOnUpload = *input.AutoProcessOnUpload
	}
	if input.ScheduledEnabled != nil {
		row.ScheduledEnabled = *input.ScheduledEnabled
	}
	if input.BatchSize != nil {
		row.BatchSize = *input.BatchSize
	}
	if input.TimeoutSeconds != nil {
		row.TimeoutSeconds = *input.TimeoutSeconds
	}
	if input.ScheduleHour != nil {
		row.ScheduleHour = *input.ScheduleHour
	}
	if input.ScheduleMinute != nil {
		row.ScheduleMinute = *input.ScheduleMinute
	}
	if input.DelegatedUserBatchLimit != nil {
		row.DelegatedUserBatchLimit = *input.DelegatedUserBatchLimit
	}
}
