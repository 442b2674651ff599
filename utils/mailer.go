package utils

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"

	"pitchmail/models"
)

// OutgoingEmail is one message handed to a transport.
type OutgoingEmail struct {
	FromEmail string
	FromName  string
	To        string
	ToName    string
	Bcc       []string
	Subject   string
	HTMLBody  string
}

// MailTransport delivers a message through a relay profile. The profile
// password must already be decrypted.
type MailTransport interface {
	Send(ctx context.Context, profile *models.SmtpCredential, email OutgoingEmail) error
}

// MessageSender is satisfied by *gomail.Dialer.
type MessageSender interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPMailer sends through gomail with bounded retries on temporary errors.
type SMTPMailer struct {
	MaxAttempts int
	Backoff     func(attempt int) time.Duration
	NewSender   func(profile *models.SmtpCredential) MessageSender
	Logger      *logrus.Entry
}

func NewSMTPMailer(maxAttempts int) *SMTPMailer {
	return &SMTPMailer{
		MaxAttempts: maxAttempts,
		Backoff:     QuadraticBackoff,
		NewSender:   newDialer,
		Logger:      logrus.WithField("component", "mailer"),
	}
}

func newDialer(profile *models.SmtpCredential) MessageSender {
	d := gomail.NewDialer(profile.Server, profile.Port, profile.Username, profile.Password)
	d.LocalName = "localhost"
	// STARTTLS is negotiated whenever the server offers it; UseSSL selects implicit TLS on 465.
	d.SSL = profile.UseSSL && profile.Port == 465
	d.TLSConfig = &tls.Config{ServerName: profile.Server}
	return d
}

func buildMessage(email OutgoingEmail) *gomail.Message {
	m := gomail.NewMessage()
	m.SetAddressHeader("From", email.FromEmail, email.FromName)
	if email.ToName != "" {
		m.SetAddressHeader("To", email.To, email.ToName)
	} else {
		m.SetHeader("To", email.To)
	}
	if len(email.Bcc) > 0 {
		m.SetHeader("Bcc", email.Bcc...)
	}
	m.SetHeader("Subject", email.Subject)
	m.SetBody("text/html", email.HTMLBody)
	return m
}

// Send delivers the message, retrying temporary failures. A cancelled or
// expired ctx abandons the attempt in flight.
func (s *SMTPMailer) Send(ctx context.Context, profile *models.SmtpCredential, email OutgoingEmail) error {
	if profile == nil {
		return errors.New("smtp profile is required")
	}
	if strings.TrimSpace(email.To) == "" {
		return errors.New("recipient address is required")
	}

	msg := buildMessage(email)
	sender := s.NewSender(profile)
	attempt := 0

	err := Retry(ctx, s.MaxAttempts, s.Backoff, IsTemporarySMTPError, func() error {
		attempt++
		err := sendWithContext(ctx, sender, msg)
		if err != nil {
			s.Logger.WithFields(logrus.Fields{
				"attempt": attempt,
				"server":  profile.Server,
				"to":      email.To,
			}).WithError(err).Warn("smtp send failed")
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("send failed after %d attempt(s): %w", attempt, err)
	}
	return nil
}

func sendWithContext(ctx context.Context, sender MessageSender, msg *gomail.Message) error {
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("smtp panic: %v", r)
			}
		}()
		done <- sender.DialAndSend(msg)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsTemporarySMTPError reports whether a send failure is worth retrying:
// 4xx replies, network timeouts and relay "try again" responses.
func IsTemporarySMTPError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		return protoErr.Code >= 400 && protoErr.Code < 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, marker := range []string{"try again", "temporary", "421", "450", "451", "452"} {
		if strings.Contains(errStr, marker) {
			return true
		}
	}
	return false
}
