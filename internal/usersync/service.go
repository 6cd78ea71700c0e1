// Package usersync keeps the identity store and the profile store consistent for
// a user entity that is split across both.
package usersync

import (
	"context"
	"errors"
	"fmt"

	"github.com/tyemirov/tusers/internal/gateway"
	"github.com/tyemirov/tusers/internal/metrics"
	"go.uber.org/zap"
)

const (
	metricCreateSuccess       = "users.create.success"
	metricCreateDangling      = "users.create.dangling_identity"
	metricDeleteSuccess       = "users.delete.success"
	metricDeleteOrphanCleanup = "users.delete.orphan_profile"
	metricLoginSuccess        = "auth.login.success"
	metricLoginFailure        = "auth.login.failure"
	metricLogoutSuccess       = "auth.logout.success"
	metricLogoutRevokeFailure = "auth.logout.revoke_failure"
	metricRefreshSuccess      = "auth.refresh.success"
	metricRefreshFailure      = "auth.refresh.failure"
)

// Service orchestrates the identity and profile gateways. Calls within one
// operation are strictly sequential.
type Service struct {
	identities gateway.IdentityGateway
	profiles   gateway.ProfileStore
	logger     *zap.Logger
	metrics    metrics.Recorder
}

// NewService wires the synchronizer.
func NewService(identities gateway.IdentityGateway, profiles gateway.ProfileStore, logger *zap.Logger, recorder metrics.Recorder) *Service {
	if identities == nil || profiles == nil {
		panic("usersync: identity gateway and profile store are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if recorder == nil {
		recorder = metrics.NopRecorder{}
	}
	return &Service{identities: identities, profiles: profiles, logger: logger, metrics: recorder}
}

// CreateUser registers the identity and then inserts its profile. A failed
// registration never produces a profile; a failed insert yields a
// *ProfileCreationFailedError carrying the orphaned identity id.
func (service *Service) CreateUser(ctx context.Context, email string, password string, attributes map[string]any) (gateway.Profile, gateway.Session, error) {
	profileAttributes := gateway.StripImmutableFields(attributes)

	identity, session, registerErr := service.identities.Register(ctx, email, password, profileAttributes)
	if registerErr != nil {
		return gateway.Profile{}, gateway.Session{}, fmt.Errorf("users.create.register: %w", registerErr)
	}

	profileEmail := identity.Email
	if profileEmail == "" {
		profileEmail = email
	}
	stored, insertErr := service.profiles.Insert(ctx, gateway.Profile{
		ID:         identity.ID,
		Email:      profileEmail,
		Attributes: profileAttributes,
	})
	if insertErr != nil {
		service.metrics.Increment(metricCreateDangling)
		service.logger.Error("profile insert failed after identity registration",
			zap.String("code", "users.create.dangling_identity"),
			zap.String("identity_id", identity.ID),
			zap.Error(insertErr))
		return gateway.Profile{}, session, &ProfileCreationFailedError{
			IdentityID: identity.ID,
			Session:    session,
			Err:        insertErr,
		}
	}

	service.metrics.Increment(metricCreateSuccess)
	return stored, session, nil
}

// UpdateUser applies updates to the profile. Immutable fields are stripped here
// and again by the store.
func (service *Service) UpdateUser(ctx context.Context, profileID string, updates map[string]any) (gateway.Profile, error) {
	fields := gateway.StripImmutableFields(updates)
	if len(fields) == 0 {
		return service.profiles.SelectByID(ctx, profileID)
	}
	return service.profiles.Update(ctx, profileID, fields)
}

// DeleteUser removes the identity and then the profile. A missing identity still
// cleans up the profile; any other identity failure aborts before the profile is touched.
func (service *Service) DeleteUser(ctx context.Context, profileID string) error {
	if deleteErr := service.identities.AdminDelete(ctx, profileID); deleteErr != nil {
		if !errors.Is(deleteErr, gateway.ErrNotFound) {
			return fmt.Errorf("users.delete.identity: %w", deleteErr)
		}
		service.metrics.Increment(metricDeleteOrphanCleanup)
		service.logger.Info("identity already absent, removing profile",
			zap.String("code", "users.delete.identity_absent"),
			zap.String("identity_id", profileID))
	}
	if deleteErr := service.profiles.Delete(ctx, profileID); deleteErr != nil {
		return fmt.Errorf("users.delete.profile: %w", deleteErr)
	}
	service.metrics.Increment(metricDeleteSuccess)
	return nil
}

// GetUser returns one profile.
func (service *Service) GetUser(ctx context.Context, profileID string) (gateway.Profile, error) {
	return service.profiles.SelectByID(ctx, profileID)
}

// ListUsers returns every profile.
func (service *Service) ListUsers(ctx context.Context) ([]gateway.Profile, error) {
	return service.profiles.SelectAll(ctx)
}

// Login authenticates the credentials and returns the session to be issued.
func (service *Service) Login(ctx context.Context, email string, password string) (gateway.Identity, gateway.Session, error) {
	identity, session, err := service.identities.Authenticate(ctx, email, password)
	if err != nil {
		service.metrics.Increment(metricLoginFailure)
		return gateway.Identity{}, gateway.Session{}, fmt.Errorf("users.login: %w", err)
	}
	service.metrics.Increment(metricLoginSuccess)
	return identity, session, nil
}

// Logout revokes the session at the identity store. Callers clear cookies
// regardless of the outcome.
func (service *Service) Logout(ctx context.Context, session gateway.Session) error {
	if session.AccessToken == "" {
		return nil
	}
	if err := service.identities.RevokeSession(ctx, session); err != nil {
		service.metrics.Increment(metricLogoutRevokeFailure)
		return fmt.Errorf("users.logout: %w", err)
	}
	service.metrics.Increment(metricLogoutSuccess)
	return nil
}

// Refresh exchanges a refresh token for a new session.
func (service *Service) Refresh(ctx context.Context, refreshToken string) (gateway.Identity, gateway.Session, error) {
	if refreshToken == "" {
		service.metrics.Increment(metricRefreshFailure)
		return gateway.Identity{}, gateway.Session{}, fmt.Errorf("users.refresh: %w", gateway.ErrSessionInvalid)
	}
	identity, session, err := service.identities.RefreshSession(ctx, refreshToken)
	if err != nil {
		service.metrics.Increment(metricRefreshFailure)
		return gateway.Identity{}, gateway.Session{}, fmt.Errorf("users.refresh: %w", err)
	}
	service.metrics.Increment(metricRefreshSuccess)
	return identity, session, nil
}

// ResolveSession resolves an access token to its identity.
func (service *Service) ResolveSession(ctx context.Context, accessToken string) (gateway.Identity, error) {
	return service.identities.ResolveSession(ctx, accessToken)
}
