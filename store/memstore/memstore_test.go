package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pitchmail/models"
	"pitchmail/store"
)

func uintPtr(v uint) *uint { return &v }

func TestDueStepsOrderedAndFiltered(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Date(2025, 1, 10, 14, 0, 0, 0, time.UTC)

	require.NoError(t, s.CreateSteps(ctx, []*models.SequenceStep{
		{ClientID: 1, ScheduledAt: base.Add(time.Minute)},
		{ClientID: 1, ScheduledAt: base},
		{ClientID: 1, ScheduledAt: base.Add(time.Hour)},
	}))

	due, err := s.DueSteps(ctx, base.Add(2*time.Minute))
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.True(t, due[0].ScheduledAt.Equal(base))
	assert.Equal(t, models.StepPending, due[0].Status)
}

func TestMarkStepCompletedOnce(t *testing.T) {
	s := New()
	ctx := context.Background()
	step := &models.SequenceStep{ClientID: 1, ScheduledAt: time.Now()}
	require.NoError(t, s.CreateSteps(ctx, []*models.SequenceStep{step}))

	require.NoError(t, s.MarkStepCompleted(ctx, step.ID, time.Now()))
	assert.ErrorIs(t, s.MarkStepCompleted(ctx, step.ID, time.Now()), store.ErrAlreadyCompleted)
	assert.ErrorIs(t, s.MarkStepCompleted(ctx, 999, time.Now()), store.ErrNotFound)

	got, err := s.GetStep(ctx, step.ID)
	require.NoError(t, err)
	assert.True(t, got.IsSent)
	assert.Equal(t, models.StepCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)

	due, err := s.DueSteps(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestHasSuccessfulSendIgnoresCase(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.AppendEmailLog(ctx, &models.EmailLog{StepID: 3, ToEmail: "Ann@Example.com", IsSuccess: true, TrackingID: "a"}))
	require.NoError(t, s.AppendEmailLog(ctx, &models.EmailLog{StepID: 3, ToEmail: "bob@example.com", IsSuccess: false, TrackingID: "b"}))

	ok, err := s.HasSuccessfulSend(ctx, 3, " ann@example.COM ")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.HasSuccessfulSend(ctx, 3, "bob@example.com")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.HasSuccessfulSend(ctx, 4, "ann@example.com")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAppendEngagementDedup(t *testing.T) {
	s := New()
	ctx := context.Background()

	first, err := s.AppendEngagement(ctx, &models.EmailTrackingLog{DedupKey: models.OpenDedupKey("t1"), ClientID: 1})
	require.NoError(t, err)
	second, err := s.AppendEngagement(ctx, &models.EmailTrackingLog{DedupKey: models.OpenDedupKey("t1"), ClientID: 1})
	require.NoError(t, err)

	assert.True(t, first)
	assert.False(t, second)
	assert.Len(t, s.Engagements(), 1)
}

func TestGetContactReturnsNext(t *testing.T) {
	s := New()
	ctx := context.Background()
	a := &models.Contact{DataFileID: 7, Email: "a@example.com"}
	b := &models.Contact{DataFileID: 7, Email: "b@example.com"}
	other := &models.Contact{DataFileID: 8, Email: "c@example.com"}
	s.AddContacts(a, b, other)

	got, next, err := s.GetContact(ctx, 7, nil)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, b.ID, next)

	got, next, err = s.GetContact(ctx, 7, uintPtr(b.ID))
	require.NoError(t, err)
	assert.Equal(t, "b@example.com", got.Email)
	assert.Zero(t, next)

	_, _, err = s.GetContact(ctx, 7, uintPtr(other.ID))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAuditFilters(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, s.AppendEmailLog(ctx, &models.EmailLog{ClientID: 1, StepID: 1, DataFileID: uintPtr(5), IsSuccess: true, SentAt: now, TrackingID: "1"}))
	require.NoError(t, s.AppendEmailLog(ctx, &models.EmailLog{ClientID: 1, StepID: 2, ZohoViewID: "v1", IsSuccess: true, SentAt: now.Add(time.Second), TrackingID: "2"}))
	require.NoError(t, s.AppendEmailLog(ctx, &models.EmailLog{ClientID: 1, StepID: 2, ZohoViewID: "v1", IsSuccess: false, SentAt: now, TrackingID: "3"}))
	require.NoError(t, s.AppendEmailLog(ctx, &models.EmailLog{ClientID: 2, StepID: 9, IsSuccess: true, SentAt: now, TrackingID: "4"}))

	n, err := s.CountSuccessfulSends(ctx, store.AuditFilter{ClientID: 1})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	n, err = s.CountSuccessfulSends(ctx, store.AuditFilter{ClientID: 1, ViewID: "v1"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	logs, err := s.ListEmailLogs(ctx, store.AuditFilter{ClientID: 1, Limit: 2})
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "2", logs[0].TrackingID)

	logs, err = s.ListEmailLogs(ctx, store.AuditFilter{ClientID: 1, DataFileID: 5})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "1", logs[0].TrackingID)
}

func TestListBccEmailsDistinct(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.CreateSteps(ctx, []*models.SequenceStep{
		{ClientID: 1, BccEmail: "z@example.com"},
		{ClientID: 1, BccEmail: "a@example.com"},
		{ClientID: 1, BccEmail: "z@example.com"},
		{ClientID: 1},
		{ClientID: 2, BccEmail: "other@example.com"},
	}))

	emails, err := s.ListBccEmails(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a@example.com", "z@example.com"}, emails)
}
