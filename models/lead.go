package models

import (
	"time"

	"gorm.io/gorm"
)

// DataFile is an uploaded list of contacts.
type DataFile struct {
	gorm.Model
	ClientID     uint   `gorm:"not null;index" json:"client_id"`
	Name         string `json:"name"`
	DataFileName string `json:"data_file_name"`
	Description  string `json:"description"`

	Contacts []Contact `gorm:"foreignKey:DataFileID" json:"contacts,omitempty"`
}

// Contact is a recipient in a data file together with its generated message.
type Contact struct {
	gorm.Model
	DataFileID uint `gorm:"not null;index" json:"data_file_id"`

	FullName         string `json:"full_name"`
	Email            string `gorm:"index" json:"email"`
	Website          string `json:"website"`
	CompanyName      string `json:"company_name"`
	JobTitle         string `json:"job_title"`
	LinkedinURL      string `json:"linkedin_url"`
	CountryOrAddress string `json:"country_or_address"`

	EmailSubject string `json:"email_subject"`
	EmailBody    string `gorm:"type:text" json:"email_body"`

	EmailSentAt *time.Time `json:"email_sent_at"`
}
