package models

import (
	"time"

	"gorm.io/gorm"
)

// SmtpCredential is a tenant's mail relay profile. The dispatcher only reads it.
type SmtpCredential struct {
	gorm.Model
	ClientID uint `gorm:"not null;index" json:"client_id"`

	Server    string `gorm:"not null" json:"server" validate:"required,hostname|ip"`
	Port      int    `gorm:"not null" json:"port" validate:"required,min=1,max=65535"`
	Username  string `gorm:"not null" json:"username" validate:"required"`
	Password  string `gorm:"not null" json:"-" validate:"required"` // encrypted when ENCRYPTION_KEY is set
	FromEmail string `gorm:"not null" json:"from_email" validate:"required,email"`
	FromName  string `json:"from_name"`
	UseSSL    bool   `gorm:"default:true" json:"use_ssl"`
}

// ApiAccessToken caches short-lived CRM access tokens between refreshes.
type ApiAccessToken struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	ApiName     string    `gorm:"not null;uniqueIndex" json:"api_name"`
	AccessToken string    `gorm:"not null" json:"-"`
	ExpiresAt   time.Time `gorm:"not null" json:"expires_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
