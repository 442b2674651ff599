package worker

import (
	"context"

	"pitchmail/crm"
)

type crmResponse = crm.ListResponse

type viewListerFunc func(ctx context.Context, viewID, token string) (*crm.ListResponse, error)

func (f viewListerFunc) ListViewContacts(ctx context.Context, viewID, token string) (*crm.ListResponse, error) {
	return f(ctx, viewID, token)
}

func sampleCRMResponse() *crm.ListResponse {
	return &crm.ListResponse{
		Data: []crm.Contact{{
			ID:              "crm-1",
			FullName:        "Ann Lee",
			Email:           "ann@example.com",
			EmailSubject:    "Subject line",
			SampleEmailBody: "<p>Body</p>",
			Account:         crm.AccountRef{ID: "a1", Name: "Acme"},
		}},
		Info: crm.PageInfo{MoreRecords: true, NextPageToken: "next"},
	}
}
