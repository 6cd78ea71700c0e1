package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// WithIdentityDeadline bounds every identity store call by timeout.
func WithIdentityDeadline(identities IdentityGateway, timeout time.Duration) IdentityGateway {
	return deadlineIdentityGateway{next: identities, timeout: timeout}
}

// WithProfileDeadline bounds every profile store call by timeout.
func WithProfileDeadline(profiles ProfileStore, timeout time.Duration) ProfileStore {
	return deadlineProfileStore{next: profiles, timeout: timeout}
}

func bounded(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// classifyDeadline maps an expired call deadline to ErrGatewayUnavailable while keeping
// context.DeadlineExceeded in the chain.
func classifyDeadline(ctx context.Context, operation string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrGatewayUnavailable) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", operation, ErrGatewayUnavailable, context.DeadlineExceeded)
	}
	return err
}

type deadlineIdentityGateway struct {
	next    IdentityGateway
	timeout time.Duration
}

func (gateway deadlineIdentityGateway) Register(ctx context.Context, email string, password string, attributes map[string]any) (Identity, Session, error) {
	callCtx, cancel := bounded(ctx, gateway.timeout)
	defer cancel()
	identity, session, err := gateway.next.Register(callCtx, email, password, attributes)
	return identity, session, classifyDeadline(callCtx, "identity.register", err)
}

func (gateway deadlineIdentityGateway) Authenticate(ctx context.Context, email string, password string) (Identity, Session, error) {
	callCtx, cancel := bounded(ctx, gateway.timeout)
	defer cancel()
	identity, session, err := gateway.next.Authenticate(callCtx, email, password)
	return identity, session, classifyDeadline(callCtx, "identity.authenticate", err)
}

func (gateway deadlineIdentityGateway) ResolveSession(ctx context.Context, accessToken string) (Identity, error) {
	callCtx, cancel := bounded(ctx, gateway.timeout)
	defer cancel()
	identity, err := gateway.next.ResolveSession(callCtx, accessToken)
	return identity, classifyDeadline(callCtx, "identity.resolve_session", err)
}

func (gateway deadlineIdentityGateway) RefreshSession(ctx context.Context, refreshToken string) (Identity, Session, error) {
	callCtx, cancel := bounded(ctx, gateway.timeout)
	defer cancel()
	identity, session, err := gateway.next.RefreshSession(callCtx, refreshToken)
	return identity, session, classifyDeadline(callCtx, "identity.refresh_session", err)
}

func (gateway deadlineIdentityGateway) RevokeSession(ctx context.Context, session Session) error {
	callCtx, cancel := bounded(ctx, gateway.timeout)
	defer cancel()
	return classifyDeadline(callCtx, "identity.revoke_session", gateway.next.RevokeSession(callCtx, session))
}

func (gateway deadlineIdentityGateway) AdminDelete(ctx context.Context, identityID string) error {
	callCtx, cancel := bounded(ctx, gateway.timeout)
	defer cancel()
	return classifyDeadline(callCtx, "identity.admin_delete", gateway.next.AdminDelete(callCtx, identityID))
}

type deadlineProfileStore struct {
	next    ProfileStore
	timeout time.Duration
}

func (store deadlineProfileStore) Insert(ctx context.Context, profile Profile) (Profile, error) {
	callCtx, cancel := bounded(ctx, store.timeout)
	defer cancel()
	stored, err := store.next.Insert(callCtx, profile)
	return stored, classifyDeadline(callCtx, "profile.insert", err)
}

func (store deadlineProfileStore) SelectAll(ctx context.Context) ([]Profile, error) {
	callCtx, cancel := bounded(ctx, store.timeout)
	defer cancel()
	profiles, err := store.next.SelectAll(callCtx)
	return profiles, classifyDeadline(callCtx, "profile.select_all", err)
}

func (store deadlineProfileStore) SelectByID(ctx context.Context, profileID string) (Profile, error) {
	callCtx, cancel := bounded(ctx, store.timeout)
	defer cancel()
	profile, err := store.next.SelectByID(callCtx, profileID)
	return profile, classifyDeadline(callCtx, "profile.select_by_id", err)
}

func (store deadlineProfileStore) Update(ctx context.Context, profileID string, fields map[string]any) (Profile, error) {
	callCtx, cancel := bounded(ctx, store.timeout)
	defer cancel()
	profile, err := store.next.Update(callCtx, profileID, fields)
	return profile, classifyDeadline(callCtx, "profile.update", err)
}

func (store deadlineProfileStore) Delete(ctx context.Context, profileID string) error {
	callCtx, cancel := bounded(ctx, store.timeout)
	defer cancel()
	return classifyDeadline(callCtx, "profile.delete", store.next.Delete(callCtx, profileID))
}
