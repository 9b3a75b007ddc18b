package models

import "time"

// ProcessingSettings is the admin-editable singleton controlling the
// pipeline. Exactly one row exists, pinned to ID 1.
type ProcessingSettings struct {
	ID int `gorm:"column:id;primaryKey"`

	AutoProcessOnUpload     bool `gorm:"column:auto_process_on_upload;not null;default:false"`
	ScheduledEnabled        bool `gorm:"column:scheduled_processing_enabled;not null;default:true"`
	BatchSize               int  `gorm:"column:batch_size;not null;default:500" validate:"gte=1"`
	TimeoutSeconds          int  `gorm:"column:processing_timeout_seconds;not null;default:30" validate:"gte=1"`
	ScheduleHour            int  `gorm:"column:schedule_hour;not null;default:2" validate:"gte=0,lte=23"`
	ScheduleMinute          int  `gorm:"column:schedule_minute;not null;default:0" validate:"gte=0,lte=59"`
	DelegatedUserBatchLimit int  `gorm:"column:delegated_user_batch_limit;not null;default:50" validate:"gte=1"`

	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName pins the settings singleton table.
func (ProcessingSettings) TableName() string {
	return "processing_settings"
}
