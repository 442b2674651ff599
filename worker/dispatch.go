package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/badoux/checkmail"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"pitchmail/models"
	"pitchmail/notifier"
	"pitchmail/store"
	"pitchmail/utils"
)

var ErrInvalidProfile = errors.New("smtp profile missing or incomplete")

const (
	defaultSendTimeout   = 30 * time.Second
	// Room for a full CRM rate-limit cycle (5 waits of 8s) plus the requests.
	defaultSourceTimeout = 2 * time.Minute
)

// RunResult summarises one ProcessStep call.
type RunResult struct {
	StepID    uint `json:"step_id"`
	Sent      int  `json:"sent"`
	Failed    int  `json:"failed"`
	Skipped   int  `json:"skipped"`
	Completed bool `json:"completed"`
}

// Dispatcher sends one step to all of its recipients.
type Dispatcher struct {
	Store     store.Store
	Source    RecipientSource
	Transport utils.MailTransport
	Secrets   *utils.SecretBox
	Notifier  notifier.Notifier
	Progress  *ProgressHub

	TrackingBaseURL   string
	BccDisplayAddress string
	// Timeout bounds every send. SourceTimeout bounds one recipient page,
	// including any rate-limit waits inside the source.
	Timeout       time.Duration
	SourceTimeout time.Duration

	Now           func() time.Time
	NewTrackingID func() string
	Logger        *logrus.Entry
}

func NewDispatcher(st store.Store, source RecipientSource, transport utils.MailTransport, secrets *utils.SecretBox) *Dispatcher {
	return &Dispatcher{
		Store:             st,
		Source:            source,
		Transport:         transport,
		Secrets:           secrets,
		Notifier:          notifier.Nop{},
		BccDisplayAddress: "noreply@localhost",
		Timeout:           defaultSendTimeout,
		SourceTimeout:     defaultSourceTimeout,
		Now:               time.Now,
		NewTrackingID:     func() string { return uuid.New().String() },
		Logger:            logrus.WithField("component", "dispatch"),
	}
}

func (d *Dispatcher) now() time.Time {
	return d.Now().UTC()
}

// resolveProfile loads the step's relay profile and decrypts its password.
func (d *Dispatcher) resolveProfile(ctx context.Context, clientID, smtpID uint) (*models.SmtpCredential, error) {
	cred, err := d.Store.GetSmtpCredential(ctx, smtpID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: smtp id %d not found", ErrInvalidProfile, smtpID)
	}
	if err != nil {
		return nil, fmt.Errorf("load smtp profile: %w", err)
	}
	if cred.ClientID != clientID {
		return nil, fmt.Errorf("%w: smtp id %d belongs to another client", ErrInvalidProfile, smtpID)
	}
	if err := utils.ValidateStruct(cred); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}

	password, err := d.Secrets.Decrypt(cred.Password)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}
	profile := *cred
	profile.Password = password
	return &profile, nil
}

func (d *Dispatcher) listPage(ctx context.Context, step *models.SequenceStep, token string) (Page, error) {
	pctx, cancel := context.WithTimeout(ctx, d.SourceTimeout)
	defer cancel()
	return d.Source.ListRecipients(pctx, step, token)
}

// ProcessStep delivers step to every reachable recipient at most once and
// marks it completed. The step is left pending when the profile is invalid,
// the source fails or ctx is cancelled; a later run resumes it and skips
// recipients that already have a successful send.
func (d *Dispatcher) ProcessStep(ctx context.Context, step models.SequenceStep) (RunResult, error) {
	res := RunResult{StepID: step.ID}
	log := d.Logger.WithFields(logrus.Fields{
		"step_id":   step.ID,
		"client_id": step.ClientID,
	})

	profile, err := d.resolveProfile(ctx, step.ClientID, step.SmtpID)
	if err != nil {
		utils.LogError("dispatch_config", err, map[string]interface{}{
			"step_id": step.ID,
			"smtp_id": step.SmtpID,
		})
		return res, err
	}

	log.Info("Processing sequence step")
	d.Progress.Publish(ProgressEvent{StepID: step.ID, Status: StatusStarted})

	seen := make(map[string]struct{})
	seenTokens := make(map[string]struct{})
	token := ""
	for {
		if err := ctx.Err(); err != nil {
			log.WithFields(logrus.Fields{"sent": res.Sent, "failed": res.Failed}).Info("Step run cancelled")
			return res, err
		}

		page, err := d.listPage(ctx, &step, token)
		if err != nil {
			utils.LogError("dispatch_source", err, map[string]interface{}{
				"step_id":    step.ID,
				"page_token": token,
			})
			return res, fmt.Errorf("list recipients: %w", err)
		}

		for _, r := range page.Recipients {
			if err := ctx.Err(); err != nil {
				log.WithFields(logrus.Fields{"sent": res.Sent, "failed": res.Failed}).Info("Step run cancelled")
				return res, err
			}
			if err := d.processRecipient(ctx, &step, profile, r, seen, &res); err != nil {
				return res, err
			}
		}

		if !page.HasMore || len(page.Recipients) == 0 || page.NextPageToken == "" {
			break
		}
		if _, repeated := seenTokens[page.NextPageToken]; repeated {
			log.WithField("page_token", page.NextPageToken).Warn("Recipient source repeated a page token")
			break
		}
		seenTokens[page.NextPageToken] = struct{}{}
		token = page.NextPageToken
	}

	completedAt := d.now()
	err = d.Store.MarkStepCompleted(context.WithoutCancel(ctx), step.ID, completedAt)
	switch {
	case errors.Is(err, store.ErrAlreadyCompleted):
		log.Warn("Step was completed by another run")
		return res, nil
	case err != nil:
		return res, fmt.Errorf("mark step completed: %w", err)
	}
	res.Completed = true

	log.WithFields(logrus.Fields{
		"sent":    res.Sent,
		"failed":  res.Failed,
		"skipped": res.Skipped,
	}).Info("Sequence step completed")

	d.Progress.Publish(ProgressEvent{StepID: step.ID, Status: StatusDone, Sent: res.Sent, Failed: res.Failed, Skipped: res.Skipped})
	if err := d.Notifier.StepCompleted(context.WithoutCancel(ctx), notifier.StepCompleted{
		StepID:      step.ID,
		ClientID:    step.ClientID,
		Sent:        res.Sent,
		Failed:      res.Failed,
		Skipped:     res.Skipped,
		CompletedAt: completedAt,
	}); err != nil {
		log.WithError(err).Warn("step completed notification failed")
	}
	return res, nil
}

// processRecipient handles one recipient. Send failures are recorded and
// swallowed; only store failures are returned, since the at-most-once
// check cannot be trusted without the store.
func (d *Dispatcher) processRecipient(ctx context.Context, step *models.SequenceStep, profile *models.SmtpCredential, r Recipient, seen map[string]struct{}, res *RunResult) error {
	email := strings.TrimSpace(r.Email)
	log := d.Logger.WithFields(logrus.Fields{"step_id": step.ID, "email": email})

	skip := func(reason string) {
		res.Skipped++
		log.WithField("reason", reason).Debug("Recipient skipped")
		d.Progress.Publish(ProgressEvent{StepID: step.ID, Email: email, Status: StatusSkipped, Sent: res.Sent, Failed: res.Failed, Skipped: res.Skipped})
	}

	if email == "" || checkmail.ValidateFormat(email) != nil {
		skip("invalid address")
		return nil
	}
	key := strings.ToLower(email)
	if _, dup := seen[key]; dup {
		skip("duplicate in run")
		return nil
	}
	seen[key] = struct{}{}

	sent, err := d.Store.HasSuccessfulSend(ctx, step.ID, email)
	if err != nil {
		return fmt.Errorf("check prior send: %w", err)
	}
	if sent {
		skip("already sent")
		return nil
	}

	r.Email = email
	entry, err := d.deliver(ctx, step, profile, r, models.ProcessBulk)
	if err != nil {
		return err
	}

	status := StatusSent
	if entry.IsSuccess {
		res.Sent++
	} else {
		res.Failed++
		status = StatusFailed
	}
	d.Progress.Publish(ProgressEvent{StepID: step.ID, Email: email, Status: status, Sent: res.Sent, Failed: res.Failed, Skipped: res.Skipped})
	return nil
}

// deliver composes, sends and records one message. The returned error is
// non-nil only when the send log could not be written.
func (d *Dispatcher) deliver(ctx context.Context, step *models.SequenceStep, profile *models.SmtpCredential, r Recipient, process string) (*models.EmailLog, error) {
	trackingID := d.NewTrackingID()
	fields := utils.TrackingFields{
		Email:       r.Email,
		TrackingID:  trackingID,
		ClientID:    step.ClientID,
		DataFileID:  step.DataFile(),
		ViewID:      step.ZohoViewID,
		StepID:      step.ID,
		ContactID:   r.ContactID,
		FullName:    r.FullName,
		Location:    r.Location,
		Company:     r.Company,
		Website:     r.Website,
		LinkedinURL: r.LinkedinURL,
		JobTitle:    r.JobTitle,
	}
	body := utils.InjectTracking(r.Body, d.TrackingBaseURL, fields)

	log := d.Logger.WithFields(logrus.Fields{
		"step_id":     step.ID,
		"email":       r.Email,
		"tracking_id": trackingID,
	})

	sendErr := d.send(ctx, profile, utils.OutgoingEmail{
		FromEmail: profile.FromEmail,
		FromName:  profile.FromName,
		To:        r.Email,
		ToName:    r.FullName,
		Subject:   r.Subject,
		HTMLBody:  body,
	})
	if sendErr != nil {
		log.WithError(sendErr).Warn("Send failed")
	}

	if sendErr == nil && step.BccEmail != "" {
		// The copy is untracked and shows the recipient only as a display name.
		if err := d.send(ctx, profile, utils.OutgoingEmail{
			FromEmail: profile.FromEmail,
			FromName:  profile.FromName,
			To:        d.BccDisplayAddress,
			ToName:    r.Email,
			Bcc:       []string{step.BccEmail},
			Subject:   r.Subject,
			HTMLBody:  r.Body,
		}); err != nil {
			log.WithError(err).WithField("bcc", step.BccEmail).Warn("BCC copy failed")
		}
	}

	now := d.now()
	entry := &models.EmailLog{
		StepID:      step.ID,
		ContactID:   r.ContactID,
		ToEmail:     r.Email,
		Subject:     r.Subject,
		Body:        body,
		IsSuccess:   sendErr == nil,
		ZohoViewID:  step.ZohoViewID,
		DataFileID:  step.DataFileID,
		SentAt:      now,
		ClientID:    step.ClientID,
		TrackingID:  trackingID,
		ProcessName: process,
	}
	if sendErr != nil {
		entry.ErrorMessage = sendErr.Error()
	}

	// Writes outlive cancellation so a finished send is never left unrecorded.
	wctx := context.WithoutCancel(ctx)
	if err := d.Store.AppendEmailLog(wctx, entry); err != nil {
		utils.LogError("dispatch_audit", err, map[string]interface{}{
			"step_id":     step.ID,
			"email":       r.Email,
			"tracking_id": trackingID,
			"is_success":  entry.IsSuccess,
		})
		return nil, fmt.Errorf("append email log: %w", err)
	}
	if entry.IsSuccess && r.LocalContactID != 0 {
		if err := d.Store.MarkContactSent(wctx, r.LocalContactID, now); err != nil {
			log.WithError(err).Warn("failed to stamp contact")
		}
	}
	return entry, nil
}

// send runs one transport call under its own timeout. It is detached from
// ctx cancellation so a relay conversation is never cut off half way.
func (d *Dispatcher) send(ctx context.Context, profile *models.SmtpCredential, email utils.OutgoingEmail) (err error) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.Timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("send panic: %v", r)
			utils.LogError("dispatch_send_panic", err, map[string]interface{}{"to": email.To})
		}
	}()
	return d.Transport.Send(sctx, profile, email)
}

// SingleSend identifies one contact to send outside any scheduled step.
type SingleSend struct {
	ClientID   uint
	DataFileID uint
	ContactID  *uint
	SmtpID     uint
	BccEmail   string
}

type SingleResult struct {
	Email         string `json:"email"`
	TrackingID    string `json:"tracking_id"`
	Success       bool   `json:"success"`
	Error         string `json:"error,omitempty"`
	NextContactID uint   `json:"next_contact_id,omitempty"`
}

// SendSingle sends one contact's message immediately through the same
// composer. It is not subject to the per-step at-most-once check.
func (d *Dispatcher) SendSingle(ctx context.Context, req SingleSend) (*SingleResult, error) {
	profile, err := d.resolveProfile(ctx, req.ClientID, req.SmtpID)
	if err != nil {
		return nil, err
	}

	contact, next, err := d.Store.GetContact(ctx, req.DataFileID, req.ContactID)
	if err != nil {
		return nil, err
	}
	r := recipientFromContact(*contact)
	r.Email = strings.TrimSpace(r.Email)
	if r.Email == "" || checkmail.ValidateFormat(r.Email) != nil {
		return nil, fmt.Errorf("contact %d has no valid email address", contact.ID)
	}

	dataFileID := req.DataFileID
	step := &models.SequenceStep{
		ClientID:   req.ClientID,
		DataFileID: &dataFileID,
		SmtpID:     req.SmtpID,
		BccEmail:   req.BccEmail,
	}
	entry, err := d.deliver(ctx, step, profile, r, models.ProcessSingle)
	if err != nil {
		return nil, err
	}
	return &SingleResult{
		Email:         entry.ToEmail,
		TrackingID:    entry.TrackingID,
		Success:       entry.IsSuccess,
		Error:         entry.ErrorMessage,
		NextContactID: next,
	}, nil
}
