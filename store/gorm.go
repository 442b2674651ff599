package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"pitchmail/models"
)

// GormStore implements Store on top of a gorm connection.
type GormStore struct {
	DB *gorm.DB
}

var _ Store = (*GormStore)(nil)

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{DB: db}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (s *GormStore) DueSteps(ctx context.Context, now time.Time) ([]models.SequenceStep, error) {
	var steps []models.SequenceStep
	err := s.DB.WithContext(ctx).
		Where("is_sent = ? AND scheduled_at <= ?", false, now.UTC()).
		Order("scheduled_at ASC, id ASC").
		Find(&steps).Error
	return steps, err
}

func (s *GormStore) GetStep(ctx context.Context, id uint) (*models.SequenceStep, error) {
	var step models.SequenceStep
	if err := s.DB.WithContext(ctx).First(&step, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &step, nil
}

func (s *GormStore) CreateSteps(ctx context.Context, steps []*models.SequenceStep) error {
	if len(steps) == 0 {
		return nil
	}
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, step := range steps {
			if err := tx.Create(step).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *GormStore) MarkStepCompleted(ctx context.Context, id uint, at time.Time) error {
	at = at.UTC()
	res := s.DB.WithContext(ctx).Model(&models.SequenceStep{}).
		Where("id = ? AND is_sent = ?", id, false).
		Updates(map[string]interface{}{
			"is_sent":      true,
			"status":       models.StepCompleted,
			"completed_at": at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := s.GetStep(ctx, id); err != nil {
			return err
		}
		return ErrAlreadyCompleted
	}
	return nil
}

func (s *GormStore) GetSmtpCredential(ctx context.Context, id uint) (*models.SmtpCredential, error) {
	var cred models.SmtpCredential
	if err := s.DB.WithContext(ctx).First(&cred, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &cred, nil
}

func (s *GormStore) ListContacts(ctx context.Context, dataFileID uint) ([]models.Contact, error) {
	var contacts []models.Contact
	err := s.DB.WithContext(ctx).
		Where("data_file_id = ?", dataFileID).
		Order("id ASC").
		Find(&contacts).Error
	return contacts, err
}

func (s *GormStore) GetContact(ctx context.Context, dataFileID uint, contactID *uint) (*models.Contact, uint, error) {
	db := s.DB.WithContext(ctx)

	var contact models.Contact
	q := db.Where("data_file_id = ?", dataFileID)
	if contactID != nil {
		q = q.Where("id = ?", *contactID)
	}
	if err := q.Order("id ASC").First(&contact).Error; err != nil {
		return nil, 0, notFound(err)
	}

	var next models.Contact
	err := db.Where("data_file_id = ? AND id > ?", dataFileID, contact.ID).
		Order("id ASC").First(&next).Error
	switch {
	case err == nil:
		return &contact, next.ID, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return &contact, 0, nil
	default:
		return nil, 0, err
	}
}

func (s *GormStore) MarkContactSent(ctx context.Context, contactID uint, at time.Time) error {
	return s.DB.WithContext(ctx).Model(&models.Contact{}).
		Where("id = ?", contactID).
		Update("email_sent_at", at.UTC()).Error
}

func (s *GormStore) HasSuccessfulSend(ctx context.Context, stepID uint, email string) (bool, error) {
	var count int64
	err := s.DB.WithContext(ctx).Model(&models.EmailLog{}).
		Where("step_id = ? AND is_success = ? AND LOWER(to_email) = ?",
			stepID, true, strings.ToLower(strings.TrimSpace(email))).
		Count(&count).Error
	return count > 0, err
}

func (s *GormStore) AppendEmailLog(ctx context.Context, entry *models.EmailLog) error {
	return s.DB.WithContext(ctx).Create(entry).Error
}

func (s *GormStore) FindEmailLogByTrackingID(ctx context.Context, trackingID string) (*models.EmailLog, error) {
	var entry models.EmailLog
	if err := s.DB.WithContext(ctx).Where("tracking_id = ?", trackingID).First(&entry).Error; err != nil {
		return nil, notFound(err)
	}
	return &entry, nil
}

func (s *GormStore) AppendEngagement(ctx context.Context, event *models.EmailTrackingLog) (bool, error) {
	res := s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "dedup_key"}},
			DoNothing: true,
		}).
		Create(event)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *GormStore) auditScope(filter AuditFilter, viewColumn string) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		db = db.Where("client_id = ?", filter.ClientID)
		if filter.StepID != 0 {
			db = db.Where("step_id = ?", filter.StepID)
		}
		if filter.DataFileID != 0 {
			db = db.Where("data_file_id = ?", filter.DataFileID)
		}
		if filter.ViewID != "" {
			db = db.Where(viewColumn+" = ?", filter.ViewID)
		}
		return db
	}
}

func (s *GormStore) ListEmailLogs(ctx context.Context, filter AuditFilter) ([]models.EmailLog, error) {
	var logs []models.EmailLog
	err := s.DB.WithContext(ctx).
		Scopes(s.auditScope(filter, "zoho_view_id")).
		Order("sent_at DESC, id DESC").
		Limit(filter.EffectiveLimit()).
		Find(&logs).Error
	return logs, err
}

func (s *GormStore) ListEngagements(ctx context.Context, filter AuditFilter) ([]models.EmailTrackingLog, error) {
	var events []models.EmailTrackingLog
	err := s.DB.WithContext(ctx).
		Scopes(s.auditScope(filter, "zoho_view_id")).
		Order("timestamp DESC, id DESC").
		Limit(filter.EffectiveLimit()).
		Find(&events).Error
	return events, err
}

func (s *GormStore) CountSuccessfulSends(ctx context.Context, filter AuditFilter) (int64, error) {
	var count int64
	err := s.DB.WithContext(ctx).Model(&models.EmailLog{}).
		Scopes(s.auditScope(filter, "zoho_view_id")).
		Where("is_success = ?", true).
		Count(&count).Error
	return count, err
}

func (s *GormStore) ListBccEmails(ctx context.Context, clientID uint) ([]string, error) {
	var emails []string
	err := s.DB.WithContext(ctx).Model(&models.SequenceStep{}).
		Where("client_id = ? AND bcc_email <> ''", clientID).
		Distinct().
		Order("bcc_email ASC").
		Pluck("bcc_email", &emails).Error
	return emails, err
}

func (s *GormStore) GetAccessToken(ctx context.Context, apiName string) (*models.ApiAccessToken, error) {
	var tok models.ApiAccessToken
	if err := s.DB.WithContext(ctx).Where("api_name = ?", apiName).First(&tok).Error; err != nil {
		return nil, notFound(err)
	}
	return &tok, nil
}

func (s *GormStore) SaveAccessToken(ctx context.Context, token *models.ApiAccessToken) error {
	token.UpdatedAt = time.Now().UTC()
	return s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "api_name"}},
			DoUpdates: clause.AssignmentColumns([]string{"access_token", "expires_at", "updated_at"}),
		}).
		Create(token).Error
}
