package crm

import (
	"bytes"
	"encoding/json"
)

// ListResponse is the body of a custom view records call.
type ListResponse struct {
	Data []Contact `json:"data"`
	Info PageInfo  `json:"info"`
}

type PageInfo struct {
	PerPage           int    `json:"per_page"`
	Count             int    `json:"count"`
	MoreRecords       bool   `json:"more_records"`
	NextPageToken     string `json:"next_page_token"`
	PreviousPageToken string `json:"previous_page_token"`
}

// Contact holds the subset of CRM contact fields the dispatcher reads.
type Contact struct {
	ID              string     `json:"id"`
	FullName        string     `json:"Full_Name"`
	Email           string     `json:"Email"`
	Website         string     `json:"Website"`
	JobTitle        string     `json:"Job_Title"`
	LinkedinURL     string     `json:"LinkedIn_URL"`
	MailingCountry  string     `json:"Mailing_Country"`
	SampleEmailBody string     `json:"Sample_email_body"`
	EmailSubject    string     `json:"email_subject"`
	Account         AccountRef `json:"Account_Name"`
}

// AccountRef is a lookup field. The API returns an object, but older views
// return a bare string or null.
type AccountRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (a *AccountRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*a = AccountRef{}
		return nil
	}
	if data[0] == '"' {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return err
		}
		*a = AccountRef{Name: name}
		return nil
	}

	type plain AccountRef
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*a = AccountRef(p)
	return nil
}
