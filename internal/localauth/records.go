package localauth

type identityRecord struct {
	ID              string         `gorm:"column:id;primaryKey"`
	Email           string         `gorm:"column:email;uniqueIndex;not null"`
	PasswordHash    string         `gorm:"column:password_hash;not null"`
	Attributes      map[string]any `gorm:"column:attributes;serializer:json"`
	ConfirmedAtUnix int64          `gorm:"column:confirmed_at_unix;not null;default:0"`
	CreatedAtUnix   int64          `gorm:"column:created_at_unix;not null"`
}

func (identityRecord) TableName() string {
	return "identities"
}

// sessionRecord pairs one refresh token with the session id embedded in its access token.
type sessionRecord struct {
	SessionID         string `gorm:"column:session_id;primaryKey"`
	IdentityID        string `gorm:"column:identity_id;index;not null"`
	TokenHash         string `gorm:"column:token_hash;uniqueIndex;not null"`
	ExpiresUnix       int64  `gorm:"column:expires_unix;not null"`
	RevokedAtUnix     int64  `gorm:"column:revoked_at_unix;not null;default:0"`
	PreviousSessionID string `gorm:"column:previous_session_id;not null;default:''"`
	IssuedAtUnix      int64  `gorm:"column:issued_at_unix;not null"`
}

func (sessionRecord) TableName() string {
	return "sessions"
}
