package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Engagement event types.
const (
	EventOpen  = "Open"
	EventClick = "Click"
)

// Process tags on EmailLog rows.
const (
	ProcessBulk   = "Bulk"
	ProcessSingle = "Single"
)

// Engagement sources.
const (
	SourceTracked     = "tracked"
	SourceBotDetected = "BOT_DETECTED"
)

// EmailLog records one send attempt. Rows are only ever inserted.
type EmailLog struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	StepID       uint      `gorm:"index:idx_email_logs_step_email,priority:1" json:"step_id"`
	ContactID    string    `json:"contact_id"`
	ToEmail      string    `gorm:"not null;index:idx_email_logs_step_email,priority:2" json:"to_email"`
	Subject      string    `json:"subject"`
	Body         string    `gorm:"type:text" json:"body"`
	IsSuccess    bool      `gorm:"not null;index" json:"is_success"`
	ErrorMessage string    `gorm:"type:text" json:"error_message,omitempty"`
	ZohoViewID   string    `json:"zoho_view_id,omitempty"`
	DataFileID   *uint     `gorm:"index" json:"data_file_id,omitempty"`
	SentAt       time.Time `gorm:"not null;index" json:"sent_at"`
	ClientID     uint      `gorm:"not null;index" json:"client_id"`
	TrackingID   string    `gorm:"not null;uniqueIndex" json:"tracking_id"`
	ProcessName  string    `json:"process_name"`
}

// EmailTrackingLog records one observed open or click. Rows are only ever
// inserted; DedupKey carries the uniqueness rule for each event type.
type EmailTrackingLog struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	TrackingID string `gorm:"not null;index" json:"tracking_id"`
	DedupKey   string `gorm:"not null;uniqueIndex" json:"-"`
	EventType  string `gorm:"not null;index" json:"event_type"`
	ContactID  string `json:"contact_id"`
	Email      string `json:"email"`
	ClientID   uint   `gorm:"not null;index" json:"client_id"`
	StepID     uint   `gorm:"index" json:"step_id,omitempty"`
	DataFileID uint   `gorm:"index" json:"data_file_id,omitempty"`
	ZohoViewID string `json:"zoho_view_id,omitempty"`
	TargetURL  string `gorm:"type:text" json:"target_url,omitempty"`
	Source     string `json:"source"`

	FullName    string `json:"full_name"`
	Location    string `json:"location"`
	Company     string `json:"company"`
	JobTitle    string `json:"job_title"`
	LinkedinURL string `json:"linkedin_url"`
	Website     string `json:"website"`

	UserAgent string    `gorm:"type:text" json:"user_agent,omitempty"`
	IPAddress string    `json:"ip_address,omitempty"`
	IsBot     bool      `gorm:"default:false" json:"is_bot"`
	Browser   string    `json:"browser,omitempty"`
	Timestamp time.Time `gorm:"not null;index" json:"timestamp"`
}

// OpenDedupKey allows a single open per tracking id.
func OpenDedupKey(trackingID string) string {
	return "open:" + trackingID
}

// ClickDedupKey allows a single click per tracking id and target url.
func ClickDedupKey(trackingID, targetURL string) string {
	sum := sha256.Sum256([]byte(targetURL))
	return "click:" + trackingID + ":" + hex.EncodeToString(sum[:])
}

// BotDedupKey is unique per request; bot clicks are never deduplicated.
func BotDedupKey(trackingID, requestID string) string {
	return "bot:" + trackingID + ":" + requestID
}
