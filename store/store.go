// Package store persists sequence steps, send logs and engagement events.
package store

import (
	"context"
	"errors"
	"time"

	"pitchmail/models"
)

var (
	ErrNotFound         = errors.New("record not found")
	ErrAlreadyCompleted = errors.New("step already completed")
)

// DefaultAuditLimit caps audit queries that do not ask for a limit.
const DefaultAuditLimit = 1000

// AuditFilter narrows the read-only audit queries. Zero values are ignored,
// except ClientID which is always applied.
type AuditFilter struct {
	ClientID   uint
	StepID     uint
	DataFileID uint
	ViewID     string
	Limit      int
}

// EffectiveLimit returns the limit to apply to a query.
func (f AuditFilter) EffectiveLimit() int {
	if f.Limit <= 0 {
		return DefaultAuditLimit
	}
	return f.Limit
}

// Store is the persistence surface used by the scheduler, the dispatcher
// and the HTTP controllers.
type Store interface {
	// Steps
	DueSteps(ctx context.Context, now time.Time) ([]models.SequenceStep, error)
	GetStep(ctx context.Context, id uint) (*models.SequenceStep, error)
	CreateSteps(ctx context.Context, steps []*models.SequenceStep) error
	// MarkStepCompleted flips a pending step to completed exactly once.
	// It returns ErrAlreadyCompleted when the step was already completed.
	MarkStepCompleted(ctx context.Context, id uint, at time.Time) error

	GetSmtpCredential(ctx context.Context, id uint) (*models.SmtpCredential, error)

	// Contacts
	ListContacts(ctx context.Context, dataFileID uint) ([]models.Contact, error)
	// GetContact returns the contact to use for a single send. With a nil
	// contactID it returns the first contact of the data file. The second
	// return value is the id of the following contact, or zero.
	GetContact(ctx context.Context, dataFileID uint, contactID *uint) (*models.Contact, uint, error)
	MarkContactSent(ctx context.Context, contactID uint, at time.Time) error

	// Send log
	HasSuccessfulSend(ctx context.Context, stepID uint, email string) (bool, error)
	AppendEmailLog(ctx context.Context, entry *models.EmailLog) error
	FindEmailLogByTrackingID(ctx context.Context, trackingID string) (*models.EmailLog, error)

	// AppendEngagement inserts the event unless one with the same DedupKey
	// exists. It reports whether a row was written.
	AppendEngagement(ctx context.Context, event *models.EmailTrackingLog) (bool, error)

	// Audit reads
	ListEmailLogs(ctx context.Context, filter AuditFilter) ([]models.EmailLog, error)
	ListEngagements(ctx context.Context, filter AuditFilter) ([]models.EmailTrackingLog, error)
	CountSuccessfulSends(ctx context.Context, filter AuditFilter) (int64, error)
	ListBccEmails(ctx context.Context, clientID uint) ([]string, error)

	// CRM token cache
	GetAccessToken(ctx context.Context, apiName string) (*models.ApiAccessToken, error)
	SaveAccessToken(ctx context.Context, token *models.ApiAccessToken) error
}
