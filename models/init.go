package models

// All lists every table the service migrates.
func All() []interface{} {
	return []interface{}{
		&SmtpCredential{},
		&ApiAccessToken{},
		&DataFile{},
		&Contact{},
		&SequenceStep{},
		&EmailLog{},
		&EmailTrackingLog{},
	}
}
