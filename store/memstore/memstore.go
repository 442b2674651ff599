// Package memstore is an in-process implementation of store.Store used by
// tests and by the memory database driver.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"pitchmail/models"
	"pitchmail/store"
)

type Store struct {
	mu sync.Mutex

	steps       map[uint]*models.SequenceStep
	credentials map[uint]*models.SmtpCredential
	contacts    map[uint]*models.Contact
	emailLogs   []models.EmailLog
	engagements []models.EmailTrackingLog
	dedupKeys   map[string]struct{}
	tokens      map[string]*models.ApiAccessToken

	nextID uint
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		steps:       make(map[uint]*models.SequenceStep),
		credentials: make(map[uint]*models.SmtpCredential),
		contacts:    make(map[uint]*models.Contact),
		dedupKeys:   make(map[string]struct{}),
		tokens:      make(map[string]*models.ApiAccessToken),
	}
}

func (s *Store) id() uint {
	s.nextID++
	return s.nextID
}

// AddCredential stores a relay profile, assigning an id when missing.
func (s *Store) AddCredential(cred *models.SmtpCredential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cred.ID == 0 {
		cred.ID = s.id()
	}
	c := *cred
	s.credentials[c.ID] = &c
}

// AddContacts stores contacts, assigning ids when missing.
func (s *Store) AddContacts(contacts ...*models.Contact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, contact := range contacts {
		if contact.ID == 0 {
			contact.ID = s.id()
		}
		c := *contact
		s.contacts[c.ID] = &c
	}
}

// EmailLogs returns a copy of every send log row in insertion order.
func (s *Store) EmailLogs() []models.EmailLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.EmailLog(nil), s.emailLogs...)
}

// Engagements returns a copy of every engagement row in insertion order.
func (s *Store) Engagements() []models.EmailTrackingLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.EmailTrackingLog(nil), s.engagements...)
}

func (s *Store) DueSteps(_ context.Context, now time.Time) ([]models.SequenceStep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []models.SequenceStep
	for _, step := range s.steps {
		if !step.IsSent && !step.ScheduledAt.After(now) {
			due = append(due, *step)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].ScheduledAt.Equal(due[j].ScheduledAt) {
			return due[i].ID < due[j].ID
		}
		return due[i].ScheduledAt.Before(due[j].ScheduledAt)
	})
	return due, nil
}

func (s *Store) GetStep(_ context.Context, id uint) (*models.SequenceStep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	step, ok := s.steps[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *step
	return &c, nil
}

func (s *Store) CreateSteps(_ context.Context, steps []*models.SequenceStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, step := range steps {
		if step.ID == 0 {
			step.ID = s.id()
		}
		if step.Status == "" {
			step.Status = models.StepPending
		}
		step.ScheduledAt = step.ScheduledAt.UTC()
		c := *step
		s.steps[c.ID] = &c
	}
	return nil
}

func (s *Store) MarkStepCompleted(_ context.Context, id uint, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	step, ok := s.steps[id]
	if !ok {
		return store.ErrNotFound
	}
	if step.IsSent {
		return store.ErrAlreadyCompleted
	}
	at = at.UTC()
	step.IsSent = true
	step.Status = models.StepCompleted
	step.CompletedAt = &at
	return nil
}

func (s *Store) GetSmtpCredential(_ context.Context, id uint) (*models.SmtpCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.credentials[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *cred
	return &c, nil
}

func (s *Store) sortedContacts(dataFileID uint) []models.Contact {
	var out []models.Contact
	for _, c := range s.contacts {
		if c.DataFileID == dataFileID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) ListContacts(_ context.Context, dataFileID uint) ([]models.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedContacts(dataFileID), nil
}

func (s *Store) GetContact(_ context.Context, dataFileID uint, contactID *uint) (*models.Contact, uint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	contacts := s.sortedContacts(dataFileID)
	for i := range contacts {
		if contactID != nil && contacts[i].ID != *contactID {
			continue
		}
		var next uint
		if i+1 < len(contacts) {
			next = contacts[i+1].ID
		}
		return &contacts[i], next, nil
	}
	return nil, 0, store.ErrNotFound
}

func (s *Store) MarkContactSent(_ context.Context, contactID uint, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.contacts[contactID]; ok {
		at = at.UTC()
		c.EmailSentAt = &at
	}
	return nil
}

func (s *Store) HasSuccessfulSend(_ context.Context, stepID uint, email string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	email = strings.TrimSpace(email)
	for _, entry := range s.emailLogs {
		if entry.StepID == stepID && entry.IsSuccess && strings.EqualFold(entry.ToEmail, email) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) AppendEmailLog(_ context.Context, entry *models.EmailLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID == 0 {
		entry.ID = s.id()
	}
	s.emailLogs = append(s.emailLogs, *entry)
	return nil
}

func (s *Store) FindEmailLogByTrackingID(_ context.Context, trackingID string) (*models.EmailLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.emailLogs {
		if s.emailLogs[i].TrackingID == trackingID {
			c := s.emailLogs[i]
			return &c, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) AppendEngagement(_ context.Context, event *models.EmailTrackingLog) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.dedupKeys[event.DedupKey]; dup {
		return false, nil
	}
	s.dedupKeys[event.DedupKey] = struct{}{}
	if event.ID == 0 {
		event.ID = s.id()
	}
	s.engagements = append(s.engagements, *event)
	return true, nil
}

func matches(filter store.AuditFilter, clientID, stepID, dataFileID uint, viewID string) bool {
	if clientID != filter.ClientID {
		return false
	}
	if filter.StepID != 0 && stepID != filter.StepID {
		return false
	}
	if filter.DataFileID != 0 && dataFileID != filter.DataFileID {
		return false
	}
	if filter.ViewID != "" && viewID != filter.ViewID {
		return false
	}
	return true
}

func derefFile(id *uint) uint {
	if id == nil {
		return 0
	}
	return *id
}

func (s *Store) filteredLogs(filter store.AuditFilter) []models.EmailLog {
	var out []models.EmailLog
	for _, entry := range s.emailLogs {
		if matches(filter, entry.ClientID, entry.StepID, derefFile(entry.DataFileID), entry.ZohoViewID) {
			out = append(out, entry)
		}
	}
	return out
}

func (s *Store) ListEmailLogs(_ context.Context, filter store.AuditFilter) ([]models.EmailLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.filteredLogs(filter)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SentAt.Equal(out[j].SentAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].SentAt.After(out[j].SentAt)
	})
	if limit := filter.EffectiveLimit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListEngagements(_ context.Context, filter store.AuditFilter) ([]models.EmailTrackingLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.EmailTrackingLog
	for _, ev := range s.engagements {
		if matches(filter, ev.ClientID, ev.StepID, ev.DataFileID, ev.ZohoViewID) {
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID > out[j].ID
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if limit := filter.EffectiveLimit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CountSuccessfulSends(_ context.Context, filter store.AuditFilter) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, entry := range s.filteredLogs(filter) {
		if entry.IsSuccess {
			n++
		}
	}
	return n, nil
}

func (s *Store) ListBccEmails(_ context.Context, clientID uint) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]struct{})
	var out []string
	for _, step := range s.steps {
		if step.ClientID != clientID || step.BccEmail == "" {
			continue
		}
		if _, ok := seen[step.BccEmail]; ok {
			continue
		}
		seen[step.BccEmail] = struct{}{}
		out = append(out, step.BccEmail)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) GetAccessToken(_ context.Context, apiName string) (*models.ApiAccessToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[apiName]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *tok
	return &c, nil
}

func (s *Store) SaveAccessToken(_ context.Context, token *models.ApiAccessToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *token
	c.UpdatedAt = time.Now().UTC()
	s.tokens[c.ApiName] = &c
	return nil
}
