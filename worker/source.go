package worker

import (
	"context"
	"errors"
	"strconv"

	"pitchmail/crm"
	"pitchmail/models"
	"pitchmail/store"
)

var ErrNoRecipientTarget = errors.New("step has no recipient target")

// Recipient is one addressee of a step together with its message.
type Recipient struct {
	ContactID string
	// LocalContactID is set for recipients read from a local data file.
	LocalContactID uint

	Email   string
	Subject string
	Body    string

	FullName    string
	Company     string
	Location    string
	JobTitle    string
	Website     string
	LinkedinURL string
}

// Page is one batch of recipients. Local sources return everything in a
// single page with HasMore false.
type Page struct {
	Recipients    []Recipient
	NextPageToken string
	HasMore       bool
}

// RecipientSource lists the recipients of a step a page at a time.
type RecipientSource interface {
	ListRecipients(ctx context.Context, step *models.SequenceStep, pageToken string) (Page, error)
}

func recipientFromContact(c models.Contact) Recipient {
	return Recipient{
		ContactID:      strconv.FormatUint(uint64(c.ID), 10),
		LocalContactID: c.ID,
		Email:          c.Email,
		Subject:        c.EmailSubject,
		Body:           c.EmailBody,
		FullName:       c.FullName,
		Company:        c.CompanyName,
		Location:       c.CountryOrAddress,
		JobTitle:       c.JobTitle,
		Website:        c.Website,
		LinkedinURL:    c.LinkedinURL,
	}
}

// LocalSource reads the contacts of a data file.
type LocalSource struct {
	Store store.Store
}

func (s *LocalSource) ListRecipients(ctx context.Context, step *models.SequenceStep, _ string) (Page, error) {
	if step.DataFileID == nil {
		return Page{}, ErrNoRecipientTarget
	}
	contacts, err := s.Store.ListContacts(ctx, *step.DataFileID)
	if err != nil {
		return Page{}, err
	}
	page := Page{Recipients: make([]Recipient, 0, len(contacts))}
	for _, c := range contacts {
		page.Recipients = append(page.Recipients, recipientFromContact(c))
	}
	return page, nil
}

// ViewLister is satisfied by *crm.Client.
type ViewLister interface {
	ListViewContacts(ctx context.Context, viewID, pageToken string) (*crm.ListResponse, error)
}

// RemoteSource pages through a CRM custom view.
type RemoteSource struct {
	Client ViewLister
}

func (s *RemoteSource) ListRecipients(ctx context.Context, step *models.SequenceStep, pageToken string) (Page, error) {
	if step.ZohoViewID == "" {
		return Page{}, ErrNoRecipientTarget
	}
	resp, err := s.Client.ListViewContacts(ctx, step.ZohoViewID, pageToken)
	if err != nil {
		return Page{}, err
	}

	page := Page{
		Recipients:    make([]Recipient, 0, len(resp.Data)),
		NextPageToken: resp.Info.NextPageToken,
		HasMore:       resp.Info.MoreRecords,
	}
	for _, c := range resp.Data {
		page.Recipients = append(page.Recipients, Recipient{
			ContactID:   c.ID,
			Email:       c.Email,
			Subject:     c.EmailSubject,
			Body:        c.SampleEmailBody,
			FullName:    c.FullName,
			Company:     c.Account.Name,
			Location:    c.MailingCountry,
			JobTitle:    c.JobTitle,
			Website:     c.Website,
			LinkedinURL: c.LinkedinURL,
		})
	}
	return page, nil
}

// SourceRouter picks the local or remote source from the step target.
type SourceRouter struct {
	Local  RecipientSource
	Remote RecipientSource
}

func (r *SourceRouter) ListRecipients(ctx context.Context, step *models.SequenceStep, pageToken string) (Page, error) {
	switch {
	case step.DataFileID != nil:
		return r.Local.ListRecipients(ctx, step, pageToken)
	case step.UsesRemoteView():
		if r.Remote == nil {
			return Page{}, errors.New("remote recipient source not configured")
		}
		return r.Remote.ListRecipients(ctx, step, pageToken)
	}
	return Page{}, ErrNoRecipientTarget
}
