package utils

import (
	"context"
	"errors"
	"net/textproto"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"

	"pitchmail/models"
)

type scriptedSender struct {
	mu     sync.Mutex
	errs   []error
	calls  int
	block  chan struct{}
	sentTo [][]string
}

func (s *scriptedSender) DialAndSend(m ...*gomail.Message) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.sentTo = append(s.sentTo, m[0].GetHeader("To"))
	if len(s.errs) == 0 {
		return nil
	}
	err := s.errs[0]
	s.errs = s.errs[1:]
	return err
}

func testMailer(sender *scriptedSender, attempts int) *SMTPMailer {
	m := NewSMTPMailer(attempts)
	m.Backoff = func(int) time.Duration { return 0 }
	m.NewSender = func(*models.SmtpCredential) MessageSender { return sender }
	return m
}

var testProfile = &models.SmtpCredential{Server: "smtp.example.com", Port: 587, Username: "u", Password: "p", FromEmail: "from@example.com"}

func TestSMTPMailerRetriesTemporaryErrors(t *testing.T) {
	sender := &scriptedSender{errs: []error{&textproto.Error{Code: 451, Msg: "try later"}}}
	err := testMailer(sender, 3).Send(context.Background(), testProfile, OutgoingEmail{To: "ann@example.com", Subject: "s", HTMLBody: "b"})
	require.NoError(t, err)
	assert.Equal(t, 2, sender.calls)
}

func TestSMTPMailerStopsOnPermanentError(t *testing.T) {
	sender := &scriptedSender{errs: []error{&textproto.Error{Code: 550, Msg: "mailbox unavailable"}}}
	err := testMailer(sender, 3).Send(context.Background(), testProfile, OutgoingEmail{To: "ann@example.com"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mailbox unavailable")
	assert.Equal(t, 1, sender.calls)
}

func TestSMTPMailerGivesUpAfterMaxAttempts(t *testing.T) {
	temp := errors.New("421 service not available, try again")
	sender := &scriptedSender{errs: []error{temp, temp, temp, temp}}
	err := testMailer(sender, 3).Send(context.Background(), testProfile, OutgoingEmail{To: "ann@example.com"})
	require.Error(t, err)
	assert.Equal(t, 3, sender.calls)
}

func TestSMTPMailerHonoursContext(t *testing.T) {
	sender := &scriptedSender{block: make(chan struct{})}
	defer close(sender.block)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := testMailer(sender, 3).Send(ctx, testProfile, OutgoingEmail{To: "ann@example.com"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSMTPMailerSetsDisplayName(t *testing.T) {
	sender := &scriptedSender{}
	err := testMailer(sender, 1).Send(context.Background(), testProfile, OutgoingEmail{
		To: "noreply@localhost", ToName: "ann@example.com", Bcc: []string{"boss@example.com"},
	})
	require.NoError(t, err)
	require.Len(t, sender.sentTo, 1)
	assert.Contains(t, sender.sentTo[0][0], "noreply@localhost")
	assert.Contains(t, sender.sentTo[0][0], "ann@example.com")
}

func TestIsTemporarySMTPError(t *testing.T) {
	assert.True(t, IsTemporarySMTPError(&textproto.Error{Code: 421}))
	assert.True(t, IsTemporarySMTPError(errors.New("Temporary failure")))
	assert.False(t, IsTemporarySMTPError(&textproto.Error{Code: 550}))
	assert.False(t, IsTemporarySMTPError(context.Canceled))
	assert.False(t, IsTemporarySMTPError(nil))
}

func TestRetryStopsWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, 5, func(int) time.Duration { return time.Hour }, nil, func() error {
		calls++
		cancel()
		return errors.New("boom")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestRetryPassesAttemptNumbersToDelay(t *testing.T) {
	var asked []int
	calls := 0
	err := Retry(context.Background(), 4, func(attempt int) time.Duration {
		asked = append(asked, attempt)
		return 0
	}, nil, func() error {
		calls++
		return errors.New("again")
	})
	assert.EqualError(t, err, "again")
	assert.Equal(t, 4, calls)
	assert.Equal(t, []int{2, 3, 4}, asked)
}

func TestRetryPermanentErrorStopsImmediately(t *testing.T) {
	permanent := errors.New("no such user")
	calls := 0
	err := Retry(context.Background(), 5, nil, func(error) bool { return false }, func() error {
		calls++
		return permanent
	})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestQuadraticBackoff(t *testing.T) {
	assert.Equal(t, 4*time.Second, QuadraticBackoff(2))
	assert.Equal(t, 9*time.Second, QuadraticBackoff(3))
}
