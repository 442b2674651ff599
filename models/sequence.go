package models

import (
	"time"

	"gorm.io/gorm"
)

// Step lifecycle. StepInProgress only lives in the scheduler's memory; the
// table moves straight from pending to completed.
const (
	StepPending    = "pending"
	StepInProgress = "in_progress"
	StepCompleted  = "completed"
)

// SequenceStep is one scheduled bulk send.
type SequenceStep struct {
	gorm.Model
	ClientID uint   `gorm:"not null;index" json:"client_id"`
	Title    string `gorm:"not null" json:"title"`

	// Scheduling. ScheduledAt is always stored in UTC; TimeZone is kept for display.
	ScheduledAt time.Time `gorm:"not null;index" json:"scheduled_at"`
	TimeZone    string    `gorm:"not null" json:"time_zone"`

	// Recipient target: a local data file or a remote CRM view, never both.
	DataFileID *uint  `gorm:"index" json:"data_file_id,omitempty"`
	ZohoViewID string `json:"zoho_view_id,omitempty"`

	SmtpID   uint   `gorm:"not null;index" json:"smtp_id"`
	BccEmail string `json:"bcc_email,omitempty"`

	Status      string     `gorm:"default:'pending';index" json:"status"`
	IsSent      bool       `gorm:"default:false;index" json:"is_sent"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// UsesRemoteView reports whether recipients come from the CRM instead of a data file.
func (s *SequenceStep) UsesRemoteView() bool {
	return s.DataFileID == nil && s.ZohoViewID != ""
}

// DataFile returns the local data file id, or zero for remote steps.
func (s *SequenceStep) DataFile() uint {
	if s.DataFileID == nil {
		return 0
	}
	return *s.DataFileID
}
