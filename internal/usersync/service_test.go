package usersync

import (
	"context"
	"errors"
	"testing"

	"github.com/tyemirov/tusers/internal/gateway"
	"github.com/tyemirov/tusers/internal/metrics"
	"go.uber.org/zap/zaptest"
)

type stubIdentityGateway struct {
	calls            *[]string
	registerFunc     func(email string, password string, attributes map[string]any) (gateway.Identity, gateway.Session, error)
	authenticateFunc func(email string, password string) (gateway.Identity, gateway.Session, error)
	revokeFunc       func(session gateway.Session) error
	refreshFunc      func(refreshToken string) (gateway.Identity, gateway.Session, error)
	adminDeleteFunc  func(identityID string) error
}

func (stub *stubIdentityGateway) record(call string) {
	if stub.calls != nil {
		*stub.calls = append(*stub.calls, call)
	}
}

func (stub *stubIdentityGateway) Register(ctx context.Context, email string, password string, attributes map[string]any) (gateway.Identity, gateway.Session, error) {
	stub.record("identity.register")
	if stub.registerFunc != nil {
		return stub.registerFunc(email, password, attributes)
	}
	return gateway.Identity{ID: "identity-1", Email: email}, gateway.Session{}, nil
}

func (stub *stubIdentityGateway) Authenticate(ctx context.Context, email string, password string) (gateway.Identity, gateway.Session, error) {
	stub.record("identity.authenticate")
	if stub.authenticateFunc != nil {
		return stub.authenticateFunc(email, password)
	}
	return gateway.Identity{}, gateway.Session{}, gateway.ErrInvalidCredentials
}

func (stub *stubIdentityGateway) ResolveSession(ctx context.Context, accessToken string) (gateway.Identity, error) {
	stub.record("identity.resolve_session")
	return gateway.Identity{}, gateway.ErrSessionInvalid
}

func (stub *stubIdentityGateway) RefreshSession(ctx context.Context, refreshToken string) (gateway.Identity, gateway.Session, error) {
	stub.record("identity.refresh_session")
	if stub.refreshFunc != nil {
		return stub.refreshFunc(refreshToken)
	}
	return gateway.Identity{}, gateway.Session{}, gateway.ErrSessionInvalid
}

func (stub *stubIdentityGateway) RevokeSession(ctx context.Context, session gateway.Session) error {
	stub.record("identity.revoke_session")
	if stub.revokeFunc != nil {
		return stub.revokeFunc(session)
	}
	return nil
}

func (stub *stubIdentityGateway) AdminDelete(ctx context.Context, identityID string) error {
	stub.record("identity.admin_delete")
	if stub.adminDeleteFunc != nil {
		return stub.adminDeleteFunc(identityID)
	}
	return nil
}

type fakeProfileStore struct {
	calls     *[]string
	rows      map[string]gateway.Profile
	insertErr error
	deleteErr error
}

func newFakeProfileStore(calls *[]string) *fakeProfileStore {
	return &fakeProfileStore{calls: calls, rows: make(map[string]gateway.Profile)}
}

func (store *fakeProfileStore) record(call string) {
	if store.calls != nil {
		*store.calls = append(*store.calls, call)
	}
}

func (store *fakeProfileStore) Insert(ctx context.Context, profile gateway.Profile) (gateway.Profile, error) {
	store.record("profile.insert")
	if store.insertErr != nil {
		return gateway.Profile{}, store.insertErr
	}
	if _, exists := store.rows[profile.ID]; exists {
		return gateway.Profile{}, gateway.ErrConflict
	}
	store.rows[profile.ID] = profile
	return profile, nil
}

func (store *fakeProfileStore) SelectAll(ctx context.Context) ([]gateway.Profile, error) {
	store.record("profile.select_all")
	profiles := make([]gateway.Profile, 0, len(store.rows))
	for _, profile := range store.rows {
		profiles = append(profiles, profile)
	}
	return profiles, nil
}

func (store *fakeProfileStore) SelectByID(ctx context.Context, profileID string) (gateway.Profile, error) {
	store.record("profile.select_by_id")
	profile, ok := store.rows[profileID]
	if !ok {
		return gateway.Profile{}, gateway.ErrNotFound
	}
	return profile, nil
}

func (store *fakeProfileStore) Update(ctx context.Context, profileID string, fields map[string]any) (gateway.Profile, error) {
	store.record("profile.update")
	profile, ok := store.rows[profileID]
	if !ok {
		return gateway.Profile{}, gateway.ErrNotFound
	}
	merged := make(map[string]any, len(profile.Attributes)+len(fields))
	for key, value := range profile.Attributes {
		merged[key] = value
	}
	for key, value := range fields {
		if key == "email" {
			profile.Email = value.(string)
			continue
		}
		merged[key] = value
	}
	profile.Attributes = merged
	store.rows[profileID] = profile
	return profile, nil
}

func (store *fakeProfileStore) Delete(ctx context.Context, profileID string) error {
	store.record("profile.delete")
	if store.deleteErr != nil {
		return store.deleteErr
	}
	delete(store.rows, profileID)
	return nil
}

func TestCreateUserRegisterFailureLeavesNoProfile(t *testing.T) {
	t.Parallel()

	failures := []error{gateway.ErrValidation, gateway.ErrIdentityConflict, gateway.ErrGatewayUnavailable}
	for _, failure := range failures {
		failure := failure
		t.Run(failure.Error(), func(t *testing.T) {
			t.Parallel()

			var calls []string
			identities := &stubIdentityGateway{calls: &calls, registerFunc: func(string, string, map[string]any) (gateway.Identity, gateway.Session, error) {
				return gateway.Identity{}, gateway.Session{}, failure
			}}
			profiles := newFakeProfileStore(&calls)
			service := NewService(identities, profiles, zaptest.NewLogger(t), nil)

			_, _, err := service.CreateUser(context.Background(), "a@b.com", "secret1", map[string]any{"name": "Ann"})
			if !errors.Is(err, failure) {
				t.Fatalf("expected %v, got %v", failure, err)
			}
			if len(profiles.rows) != 0 {
				t.Fatalf("expected no profile rows, got %d", len(profiles.rows))
			}
			if len(calls) != 1 || calls[0] != "identity.register" {
				t.Fatalf("expected only the register call, got %v", calls)
			}
		})
	}
}

func TestCreateUserSurfacesDanglingIdentity(t *testing.T) {
	t.Parallel()

	issued := gateway.Session{AccessToken: "access", RefreshToken: "refresh"}
	identities := &stubIdentityGateway{registerFunc: func(email string, _ string, _ map[string]any) (gateway.Identity, gateway.Session, error) {
		return gateway.Identity{ID: "identity-42", Email: email}, issued, nil
	}}
	profiles := newFakeProfileStore(nil)
	profiles.insertErr = errors.New("profile.insert: connection reset")
	recorder := metrics.NewCounterMetrics()
	service := NewService(identities, profiles, zaptest.NewLogger(t), recorder)

	_, session, err := service.CreateUser(context.Background(), "a@b.com", "secret1", nil)
	var failure *ProfileCreationFailedError
	if !errors.As(err, &failure) {
		t.Fatalf("expected ProfileCreationFailedError, got %v", err)
	}
	if !errors.Is(err, ErrProfileCreationFailed) {
		t.Fatalf("expected ErrProfileCreationFailed in chain")
	}
	if failure.IdentityID != "identity-42" {
		t.Fatalf("expected orphaned identity id, got %q", failure.IdentityID)
	}
	if failure.Session != issued || session != issued {
		t.Fatalf("expected issued session to be carried")
	}
	if _, lookupErr := service.GetUser(context.Background(), "identity-42"); !errors.Is(lookupErr, gateway.ErrNotFound) {
		t.Fatalf("expected no profile for dangling identity, got %v", lookupErr)
	}
	if recorder.Count(metricCreateDangling) != 1 {
		t.Fatalf("expected dangling identity metric")
	}
}

func TestCreateUserReturnsMergedProfile(t *testing.T) {
	t.Parallel()

	var calls []string
	identities := &stubIdentityGateway{calls: &calls}
	profiles := newFakeProfileStore(&calls)
	service := NewService(identities, profiles, zaptest.NewLogger(t), nil)

	profile, session, err := service.CreateUser(context.Background(), "a@b.com", "secret1", map[string]any{
		"name":     "Ann",
		"password": "leak",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !session.IsZero() {
		t.Fatalf("expected no session from confirmation-required provider")
	}
	if profile.ID != "identity-1" || profile.Email != "a@b.com" || profile.Attributes["name"] != "Ann" {
		t.Fatalf("unexpected profile: %#v", profile)
	}
	if _, leaked := profile.Attributes["password"]; leaked {
		t.Fatalf("password must never reach the profile store")
	}
	if len(calls) != 2 || calls[0] != "identity.register" || calls[1] != "profile.insert" {
		t.Fatalf("expected register then insert, got %v", calls)
	}
}

func TestUpdateUserKeepsImmutableFields(t *testing.T) {
	t.Parallel()

	profiles := newFakeProfileStore(nil)
	profiles.rows["123"] = gateway.Profile{ID: "123", Email: "old@x.com", Attributes: map[string]any{"name": "Al"}}
	service := NewService(&stubIdentityGateway{}, profiles, zaptest.NewLogger(t), nil)

	updated, err := service.UpdateUser(context.Background(), "123", map[string]any{
		"email":    "new@x.com",
		"password": "hunter22",
		"name":     "Bob",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Email != "old@x.com" {
		t.Fatalf("expected email to stay unchanged, got %q", updated.Email)
	}
	if updated.Attributes["name"] != "Bob" {
		t.Fatalf("expected name update, got %v", updated.Attributes["name"])
	}
	if _, ok := updated.Attributes["password"]; ok {
		t.Fatalf("password must not be stored")
	}
}

func TestUpdateUserMissingProfile(t *testing.T) {
	t.Parallel()

	service := NewService(&stubIdentityGateway{}, newFakeProfileStore(nil), zaptest.NewLogger(t), nil)
	if _, err := service.UpdateUser(context.Background(), "missing", map[string]any{"name": "Bob"}); !errors.Is(err, gateway.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := service.UpdateUser(context.Background(), "missing", map[string]any{"email": "x@y.com"}); !errors.Is(err, gateway.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for empty update, got %v", err)
	}
}

func TestDeleteUserCleansOrphanProfile(t *testing.T) {
	t.Parallel()

	var calls []string
	identities := &stubIdentityGateway{calls: &calls, adminDeleteFunc: func(string) error {
		return gateway.ErrNotFound
	}}
	profiles := newFakeProfileStore(&calls)
	profiles.rows["123"] = gateway.Profile{ID: "123", Email: "stale@x.com"}
	recorder := metrics.NewCounterMetrics()
	service := NewService(identities, profiles, zaptest.NewLogger(t), recorder)

	if err := service.DeleteUser(context.Background(), "123"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, exists := profiles.rows["123"]; exists {
		t.Fatalf("expected stale profile to be removed")
	}
	if len(calls) != 2 || calls[0] != "identity.admin_delete" || calls[1] != "profile.delete" {
		t.Fatalf("expected identity delete before profile delete, got %v", calls)
	}
	if recorder.Count(metricDeleteOrphanCleanup) != 1 {
		t.Fatalf("expected orphan cleanup metric")
	}
}

func TestDeleteUserAbortsWhenIdentityDeleteFails(t *testing.T) {
	t.Parallel()

	var calls []string
	identities := &stubIdentityGateway{calls: &calls, adminDeleteFunc: func(string) error {
		return gateway.ErrGatewayUnavailable
	}}
	profiles := newFakeProfileStore(&calls)
	profiles.rows["123"] = gateway.Profile{ID: "123", Email: "a@x.com"}
	service := NewService(identities, profiles, zaptest.NewLogger(t), nil)

	err := service.DeleteUser(context.Background(), "123")
	if !errors.Is(err, gateway.ErrGatewayUnavailable) {
		t.Fatalf("expected ErrGatewayUnavailable, got %v", err)
	}
	if _, exists := profiles.rows["123"]; !exists {
		t.Fatalf("profile must survive when identity deletion fails")
	}
	if len(calls) != 1 {
		t.Fatalf("expected profile store to stay untouched, got %v", calls)
	}
}

func TestLoginRecordsOutcome(t *testing.T) {
	t.Parallel()

	recorder := metrics.NewCounterMetrics()
	identities := &stubIdentityGateway{authenticateFunc: func(email string, password string) (gateway.Identity, gateway.Session, error) {
		if password != "secret1" {
			return gateway.Identity{}, gateway.Session{}, gateway.ErrInvalidCredentials
		}
		return gateway.Identity{ID: "identity-1", Email: email}, gateway.Session{AccessToken: "a", RefreshToken: "r"}, nil
	}}
	service := NewService(identities, newFakeProfileStore(nil), zaptest.NewLogger(t), recorder)

	if _, _, err := service.Login(context.Background(), "a@b.com", "wrong"); !errors.Is(err, gateway.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	_, session, err := service.Login(context.Background(), "a@b.com", "secret1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session.AccessToken != "a" || session.RefreshToken != "r" {
		t.Fatalf("unexpected session: %#v", session)
	}
	if recorder.Count(metricLoginFailure) != 1 || recorder.Count(metricLoginSuccess) != 1 {
		t.Fatalf("expected one failure and one success metric")
	}
}

func TestLogoutPassesFullSession(t *testing.T) {
	t.Parallel()

	var revoked gateway.Session
	var calls []string
	identities := &stubIdentityGateway{calls: &calls, revokeFunc: func(session gateway.Session) error {
		revoked = session
		return nil
	}}
	service := NewService(identities, newFakeProfileStore(nil), zaptest.NewLogger(t), nil)

	if err := service.Logout(context.Background(), gateway.Session{}); err != nil {
		t.Fatalf("unexpected error for absent session: %v", err)
	}
	if len(calls) != 0 {
		t.Fatalf("expected no gateway call without a session, got %v", calls)
	}

	session := gateway.Session{AccessToken: "access", RefreshToken: "refresh"}
	if err := service.Logout(context.Background(), session); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if revoked != session {
		t.Fatalf("expected both tokens to reach the gateway, got %#v", revoked)
	}
}

func TestRefreshRequiresToken(t *testing.T) {
	t.Parallel()

	var calls []string
	service := NewService(&stubIdentityGateway{calls: &calls}, newFakeProfileStore(nil), zaptest.NewLogger(t), nil)
	if _, _, err := service.Refresh(context.Background(), ""); !errors.Is(err, gateway.ErrSessionInvalid) {
		t.Fatalf("expected ErrSessionInvalid, got %v", err)
	}
	if len(calls) != 0 {
		t.Fatalf("expected no gateway call, got %v", calls)
	}
}
