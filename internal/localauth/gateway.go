// Package localauth is a self-hosted identity store: bcrypt credentials and
// rotating refresh sessions in a SQL database, HS256 access tokens.
package localauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tyemirov/tusers/internal/gateway"
	"github.com/tyemirov/tusers/pkg/sessionvalidator"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	minPasswordLength = 6
	maxPasswordLength = 72
)

var (
	errMissingSigningKey  = errors.New("localauth.missing_signing_key")
	errEmailNotConfirmed  = errors.New("localauth.email_not_confirmed")
	errSessionRevoked     = errors.New("localauth.session_revoked")
	errSessionExpired     = errors.New("localauth.session_expired")
	errSessionNotFound    = errors.New("localauth.session_not_found")
	errIdentityNotFound   = errors.New("localauth.identity_not_found")
	errInvalidEmail       = errors.New("localauth.invalid_email")
	errInvalidPassword    = errors.New("localauth.invalid_password")
	errPasswordMismatched = errors.New("localauth.password_mismatch")
)

// Config configures the local identity store.
type Config struct {
	SigningKey  []byte
	Issuer      string
	AccessTTL   time.Duration
	RefreshTTL  time.Duration
	AutoConfirm bool
}

type clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// Gateway implements gateway.IdentityGateway on a GORM database.
type Gateway struct {
	db          *gorm.DB
	tokens      *sessionvalidator.Validator
	accessTTL   time.Duration
	refreshTTL  time.Duration
	autoConfirm bool
	hashCost    int
	clock       clock
	logger      *zap.Logger
	// dummyHash keeps unknown-email logins as slow as wrong-password ones.
	dummyHash []byte
}

// NewGateway builds a Gateway over an already migrated database (see OpenDatabase).
func NewGateway(db *gorm.DB, configuration Config, logger *zap.Logger) (*Gateway, error) {
	return newGateway(db, configuration, logger, systemClock{}, bcrypt.DefaultCost)
}

func newGateway(db *gorm.DB, configuration Config, logger *zap.Logger, now clock, hashCost int) (*Gateway, error) {
	if db == nil {
		return nil, fmt.Errorf("localauth.new: nil database")
	}
	if len(configuration.SigningKey) == 0 {
		return nil, fmt.Errorf("localauth.new: %w", errMissingSigningKey)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	tokens, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: configuration.SigningKey,
		Issuer:     configuration.Issuer,
		Clock:      now,
	})
	if err != nil {
		return nil, fmt.Errorf("localauth.new: %w", err)
	}
	dummyHash, hashErr := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), hashCost)
	if hashErr != nil {
		return nil, fmt.Errorf("localauth.new: %w", hashErr)
	}
	return &Gateway{
		db:          db,
		tokens:      tokens,
		accessTTL:   configuration.AccessTTL,
		refreshTTL:  configuration.RefreshTTL,
		autoConfirm: configuration.AutoConfirm,
		hashCost:    hashCost,
		clock:       now,
		logger:      logger,
		dummyHash:   dummyHash,
	}, nil
}

// Register creates an identity. With auto-confirm disabled no session is issued.
func (store *Gateway) Register(ctx context.Context, email string, password string, attributes map[string]any) (gateway.Identity, gateway.Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if !strings.Contains(email, "@") {
		return gateway.Identity{}, gateway.Session{}, fmt.Errorf("localauth.register: %w: %w", gateway.ErrValidation, errInvalidEmail)
	}
	if len(password) < minPasswordLength || len(password) > maxPasswordLength {
		return gateway.Identity{}, gateway.Session{}, fmt.Errorf("localauth.register: %w: %w", gateway.ErrValidation, errInvalidPassword)
	}
	passwordHash, hashErr := bcrypt.GenerateFromPassword([]byte(password), store.hashCost)
	if hashErr != nil {
		return gateway.Identity{}, gateway.Session{}, fmt.Errorf("localauth.register.hash: %w", hashErr)
	}

	now := store.clock.Now().UTC()
	record := identityRecord{
		ID:            uuid.NewString(),
		Email:         email,
		PasswordHash:  string(passwordHash),
		Attributes:    gateway.StripImmutableFields(attributes),
		CreatedAtUnix: now.Unix(),
	}
	if store.autoConfirm {
		record.ConfirmedAtUnix = now.Unix()
	}

	var session gateway.Session
	transactionErr := store.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&identityRecord{}).Where("email = ?", email).Count(&existing).Error; err != nil {
			return unavailable("localauth.register.lookup", err)
		}
		if existing > 0 {
			return fmt.Errorf("localauth.register: %w", gateway.ErrIdentityConflict)
		}
		if err := tx.Create(&record).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("localauth.register: %w", gateway.ErrIdentityConflict)
			}
			return unavailable("localauth.register.insert", err)
		}
		if !store.autoConfirm {
			return nil
		}
		issued, issueErr := store.issueSession(tx, record, "")
		if issueErr != nil {
			return issueErr
		}
		session = issued
		return nil
	})
	if transactionErr != nil {
		return gateway.Identity{}, gateway.Session{}, transactionErr
	}
	return identityFromRecord(record), session, nil
}

// Authenticate verifies a password and opens a new session.
func (store *Gateway) Authenticate(ctx context.Context, email string, password string) (gateway.Identity, gateway.Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	var record identityRecord
	lookupErr := store.db.WithContext(ctx).Where("email = ?", email).Take(&record).Error
	if lookupErr != nil {
		if errors.Is(lookupErr, gorm.ErrRecordNotFound) {
			_ = bcrypt.CompareHashAndPassword(store.dummyHash, []byte(password))
			return gateway.Identity{}, gateway.Session{}, fmt.Errorf("localauth.authenticate: %w: %w", gateway.ErrInvalidCredentials, errIdentityNotFound)
		}
		return gateway.Identity{}, gateway.Session{}, unavailable("localauth.authenticate.lookup", lookupErr)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(record.PasswordHash), []byte(password)); err != nil {
		return gateway.Identity{}, gateway.Session{}, fmt.Errorf("localauth.authenticate: %w: %w", gateway.ErrInvalidCredentials, errPasswordMismatched)
	}
	if record.ConfirmedAtUnix == 0 {
		return gateway.Identity{}, gateway.Session{}, fmt.Errorf("localauth.authenticate: %w: %w", gateway.ErrInvalidCredentials, errEmailNotConfirmed)
	}
	session, issueErr := store.issueSession(store.db.WithContext(ctx), record, "")
	if issueErr != nil {
		return gateway.Identity{}, gateway.Session{}, issueErr
	}
	return identityFromRecord(record), session, nil
}

// ResolveSession validates the access token and checks that its session is still live.
func (store *Gateway) ResolveSession(ctx context.Context, accessToken string) (gateway.Identity, error) {
	claims, validateErr := store.tokens.ValidateToken(accessToken)
	if validateErr != nil {
		return gateway.Identity{}, fmt.Errorf("localauth.resolve: %w: %w", gateway.ErrSessionInvalid, validateErr)
	}
	db := store.db.WithContext(ctx)
	var session sessionRecord
	if err := db.Where("session_id = ?", claims.SessionID).Take(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return gateway.Identity{}, fmt.Errorf("localauth.resolve: %w: %w", gateway.ErrSessionInvalid, errSessionNotFound)
		}
		return gateway.Identity{}, unavailable("localauth.resolve.session", err)
	}
	if session.RevokedAtUnix != 0 {
		return gateway.Identity{}, fmt.Errorf("localauth.resolve: %w: %w", gateway.ErrSessionInvalid, errSessionRevoked)
	}
	var record identityRecord
	if err := db.Where("id = ?", session.IdentityID).Take(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return gateway.Identity{}, fmt.Errorf("localauth.resolve: %w: %w", gateway.ErrSessionInvalid, errIdentityNotFound)
		}
		return gateway.Identity{}, unavailable("localauth.resolve.identity", err)
	}
	return identityFromRecord(record), nil
}

// RefreshSession rotates the refresh token: the old session is revoked and a
// new one chained to it is issued.
func (store *Gateway) RefreshSession(ctx context.Context, refreshToken string) (gateway.Identity, gateway.Session, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return gateway.Identity{}, gateway.Session{}, fmt.Errorf("localauth.refresh: %w", gateway.ErrSessionInvalid)
	}
	var identity gateway.Identity
	var session gateway.Session
	transactionErr := store.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, findErr := store.findLiveSession(tx, refreshToken)
		if findErr != nil {
			return findErr
		}
		var record identityRecord
		if err := tx.Where("id = ?", current.IdentityID).Take(&record).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("localauth.refresh: %w: %w", gateway.ErrSessionInvalid, errIdentityNotFound)
			}
			return unavailable("localauth.refresh.identity", err)
		}
		result := tx.Model(&sessionRecord{}).
			Where("session_id = ? AND revoked_at_unix = 0", current.SessionID).
			Update("revoked_at_unix", store.clock.Now().UTC().Unix())
		if result.Error != nil {
			return unavailable("localauth.refresh.revoke", result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("localauth.refresh: %w: %w", gateway.ErrSessionInvalid, errSessionRevoked)
		}
		issued, issueErr := store.issueSession(tx, record, current.SessionID)
		if issueErr != nil {
			return issueErr
		}
		identity = identityFromRecord(record)
		session = issued
		return nil
	})
	if transactionErr != nil {
		return gateway.Identity{}, gateway.Session{}, transactionErr
	}
	return identity, session, nil
}

// RevokeSession revokes the session named by the refresh token, falling back to
// the access token's session id. Unknown or already revoked sessions are not an error.
func (store *Gateway) RevokeSession(ctx context.Context, session gateway.Session) error {
	db := store.db.WithContext(ctx)
	query := db.Model(&sessionRecord{}).Where("revoked_at_unix = 0")
	switch {
	case strings.TrimSpace(session.RefreshToken) != "":
		query = query.Where("token_hash = ?", hashOpaque(session.RefreshToken))
	default:
		claims, validateErr := store.tokens.ValidateToken(session.AccessToken)
		if validateErr != nil {
			store.logger.Debug("revocation skipped for unreadable access token",
				zap.String("code", "localauth.revoke.unreadable"),
				zap.Error(validateErr))
			return nil
		}
		query = query.Where("session_id = ?", claims.SessionID)
	}
	if err := query.Update("revoked_at_unix", store.clock.Now().UTC().Unix()).Error; err != nil {
		return unavailable("localauth.revoke", err)
	}
	return nil
}

// AdminDelete removes the identity and all of its sessions.
func (store *Gateway) AdminDelete(ctx context.Context, identityID string) error {
	return store.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id = ?", identityID).Delete(&identityRecord{})
		if result.Error != nil {
			return unavailable("localauth.admin_delete", result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("localauth.admin_delete: %w", gateway.ErrNotFound)
		}
		if err := tx.Where("identity_id = ?", identityID).Delete(&sessionRecord{}).Error; err != nil {
			return unavailable("localauth.admin_delete.sessions", err)
		}
		return nil
	})
}

func (store *Gateway) findLiveSession(tx *gorm.DB, refreshToken string) (sessionRecord, error) {
	var current sessionRecord
	if err := tx.Where("token_hash = ?", hashOpaque(refreshToken)).Take(&current).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return sessionRecord{}, fmt.Errorf("localauth.refresh: %w: %w", gateway.ErrSessionInvalid, errSessionNotFound)
		}
		return sessionRecord{}, unavailable("localauth.refresh.lookup", err)
	}
	if current.RevokedAtUnix != 0 {
		return sessionRecord{}, fmt.Errorf("localauth.refresh: %w: %w", gateway.ErrSessionInvalid, errSessionRevoked)
	}
	if time.Unix(current.ExpiresUnix, 0).Before(store.clock.Now()) {
		return sessionRecord{}, fmt.Errorf("localauth.refresh: %w: %w", gateway.ErrSessionInvalid, errSessionExpired)
	}
	return current, nil
}

func (store *Gateway) issueSession(tx *gorm.DB, identity identityRecord, previousSessionID string) (gateway.Session, error) {
	now := store.clock.Now().UTC()
	opaque, hashValue, randomErr := generateRefreshOpaque()
	if randomErr != nil {
		return gateway.Session{}, fmt.Errorf("localauth.issue: %w", randomErr)
	}
	record := sessionRecord{
		SessionID:         uuid.NewString(),
		IdentityID:        identity.ID,
		TokenHash:         hashValue,
		ExpiresUnix:       now.Add(store.refreshTTL).Unix(),
		PreviousSessionID: previousSessionID,
		IssuedAtUnix:      now.Unix(),
	}
	if err := tx.Create(&record).Error; err != nil {
		return gateway.Session{}, unavailable("localauth.issue.insert", err)
	}
	accessToken, _, mintErr := store.tokens.Mint(identity.ID, identity.Email, record.SessionID, store.accessTTL)
	if mintErr != nil {
		return gateway.Session{}, fmt.Errorf("localauth.issue: %w", mintErr)
	}
	return gateway.Session{AccessToken: accessToken, RefreshToken: opaque}, nil
}

func identityFromRecord(record identityRecord) gateway.Identity {
	return gateway.Identity{
		ID:         record.ID,
		Email:      record.Email,
		Attributes: record.Attributes,
	}
}

func unavailable(operation string, err error) error {
	return fmt.Errorf("%s: %w: %w", operation, gateway.ErrGatewayUnavailable, err)
}
