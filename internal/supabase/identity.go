package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/tyemirov/tusers/internal/gateway"
)

const (
	signupPath    = "/auth/v1/signup"
	tokenPath     = "/auth/v1/token"
	userPath      = "/auth/v1/user"
	logoutPath    = "/auth/v1/logout"
	adminUserPath = "/auth/v1/admin/users/"
)

type userPayload struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
	// Identities is nil when the key is absent. GoTrue answers a repeated
	// signup that awaits confirmation with a fake user and an empty list.
	Identities *[]json.RawMessage `json:"identities"`
}

// sessionPayload covers both signup shapes: a session wrapping the user, or a
// bare user when email confirmation is pending.
type sessionPayload struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	User         *userPayload `json:"user"`
	userPayload
}

func (payload sessionPayload) user() userPayload {
	if payload.User != nil {
		return *payload.User
	}
	return payload.userPayload
}

func (payload sessionPayload) identity() gateway.Identity {
	return payload.user().identity()
}

func (payload sessionPayload) session() gateway.Session {
	return gateway.Session{AccessToken: payload.AccessToken, RefreshToken: payload.RefreshToken}
}

func (payload userPayload) obfuscatedDuplicate() bool {
	return payload.Identities != nil && len(*payload.Identities) == 0
}

func (payload userPayload) identity() gateway.Identity {
	return gateway.Identity{ID: payload.ID, Email: payload.Email, Attributes: payload.UserMetadata}
}

// IdentityGateway implements gateway.IdentityGateway on GoTrue.
type IdentityGateway struct {
	client *Client
}

// NewIdentityGateway wraps client.
func NewIdentityGateway(client *Client) *IdentityGateway {
	return &IdentityGateway{client: client}
}

// Register signs up with attributes stored as user metadata.
func (identities *IdentityGateway) Register(ctx context.Context, email string, password string, attributes map[string]any) (gateway.Identity, gateway.Session, error) {
	body := map[string]any{"email": email, "password": password}
	if len(attributes) > 0 {
		body["data"] = attributes
	}
	var payload sessionPayload
	err := identities.client.do(ctx, request{method: http.MethodPost, path: signupPath, body: body}, &payload)
	if err != nil {
		return gateway.Identity{}, gateway.Session{}, classifySignup(err)
	}
	if payload.user().obfuscatedDuplicate() {
		return gateway.Identity{}, gateway.Session{}, fmt.Errorf("supabase.signup: %w", gateway.ErrIdentityConflict)
	}
	identity := payload.identity()
	if identity.ID == "" {
		return gateway.Identity{}, gateway.Session{}, fmt.Errorf("supabase.signup: %w: response without user id", gateway.ErrGatewayUnavailable)
	}
	return identity, payload.session(), nil
}

// Authenticate performs the password grant.
func (identities *IdentityGateway) Authenticate(ctx context.Context, email string, password string) (gateway.Identity, gateway.Session, error) {
	var payload sessionPayload
	err := identities.client.do(ctx, request{
		method: http.MethodPost,
		path:   tokenPath,
		query:  url.Values{"grant_type": []string{"password"}},
		body:   map[string]string{"email": email, "password": password},
	}, &payload)
	if err != nil {
		return gateway.Identity{}, gateway.Session{}, classifyGrant("supabase.authenticate", err, gateway.ErrInvalidCredentials)
	}
	return payload.identity(), payload.session(), nil
}

// ResolveSession asks GoTrue for the user behind accessToken.
func (identities *IdentityGateway) ResolveSession(ctx context.Context, accessToken string) (gateway.Identity, error) {
	if strings.TrimSpace(accessToken) == "" {
		return gateway.Identity{}, fmt.Errorf("supabase.resolve: %w", gateway.ErrSessionInvalid)
	}
	var payload userPayload
	err := identities.client.do(ctx, request{method: http.MethodGet, path: userPath, bearer: accessToken}, &payload)
	if err != nil {
		return gateway.Identity{}, classifyGrant("supabase.resolve", err, gateway.ErrSessionInvalid)
	}
	if payload.ID == "" {
		return gateway.Identity{}, fmt.Errorf("supabase.resolve: %w", gateway.ErrSessionInvalid)
	}
	return payload.identity(), nil
}

// RefreshSession performs the refresh_token grant.
func (identities *IdentityGateway) RefreshSession(ctx context.Context, refreshToken string) (gateway.Identity, gateway.Session, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return gateway.Identity{}, gateway.Session{}, fmt.Errorf("supabase.refresh: %w", gateway.ErrSessionInvalid)
	}
	var payload sessionPayload
	err := identities.client.do(ctx, request{
		method: http.MethodPost,
		path:   tokenPath,
		query:  url.Values{"grant_type": []string{"refresh_token"}},
		body:   map[string]string{"refresh_token": refreshToken},
	}, &payload)
	if err != nil {
		return gateway.Identity{}, gateway.Session{}, classifyGrant("supabase.refresh", err, gateway.ErrSessionInvalid)
	}
	return payload.identity(), payload.session(), nil
}

// RevokeSession signs the session out. An access token the provider no longer
// accepts is exchanged through the refresh grant first; a session that is
// already gone counts as revoked.
func (identities *IdentityGateway) RevokeSession(ctx context.Context, session gateway.Session) error {
	if strings.TrimSpace(session.AccessToken) == "" && strings.TrimSpace(session.RefreshToken) == "" {
		return nil
	}
	if strings.TrimSpace(session.AccessToken) != "" {
		logoutErr := identities.logout(ctx, session.AccessToken)
		if logoutErr == nil || !isRejectedToken(logoutErr) {
			return logoutErr
		}
	}
	if strings.TrimSpace(session.RefreshToken) == "" {
		return nil
	}
	_, restored, refreshErr := identities.RefreshSession(ctx, session.RefreshToken)
	if refreshErr != nil {
		if errors.Is(refreshErr, gateway.ErrSessionInvalid) {
			return nil
		}
		return fmt.Errorf("supabase.revoke.restore: %w", refreshErr)
	}
	if logoutErr := identities.logout(ctx, restored.AccessToken); logoutErr != nil && !isRejectedToken(logoutErr) {
		return logoutErr
	}
	return nil
}

// AdminDelete removes the identity with the service key.
func (identities *IdentityGateway) AdminDelete(ctx context.Context, identityID string) error {
	if strings.TrimSpace(identityID) == "" {
		return fmt.Errorf("supabase.admin_delete: %w", gateway.ErrNotFound)
	}
	err := identities.client.do(ctx, request{method: http.MethodDelete, path: adminUserPath + identityID}, nil)
	if err == nil {
		return nil
	}
	if apiErr, ok := asAPIError(err); ok && !errors.Is(err, gateway.ErrGatewayUnavailable) {
		switch {
		case apiErr.Status == http.StatusNotFound:
			return fmt.Errorf("supabase.admin_delete: %w: %w", gateway.ErrNotFound, err)
		case apiErr.Status == http.StatusBadRequest || apiErr.Status == http.StatusUnprocessableEntity:
			// GoTrue rejects ids that are not UUIDs; no such identity can exist.
			return fmt.Errorf("supabase.admin_delete: %w: %w", gateway.ErrNotFound, err)
		}
	}
	return fmt.Errorf("supabase.admin_delete: %w", unavailableUnlessClassified(err))
}

func (identities *IdentityGateway) logout(ctx context.Context, accessToken string) error {
	err := identities.client.do(ctx, request{method: http.MethodPost, path: logoutPath, bearer: accessToken}, nil)
	if err == nil {
		return nil
	}
	if apiErr, ok := asAPIError(err); ok && apiErr.Status == http.StatusNotFound {
		return nil
	}
	if isRejectedToken(err) {
		return fmt.Errorf("supabase.logout: %w: %w", gateway.ErrSessionInvalid, err)
	}
	return fmt.Errorf("supabase.logout: %w", unavailableUnlessClassified(err))
}

func isRejectedToken(err error) bool {
	if errors.Is(err, gateway.ErrSessionInvalid) {
		return true
	}
	apiErr, ok := asAPIError(err)
	return ok && !errors.Is(err, gateway.ErrGatewayUnavailable) &&
		(apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden)
}

func classifySignup(err error) error {
	apiErr, ok := asAPIError(err)
	if !ok || errors.Is(err, gateway.ErrGatewayUnavailable) {
		return fmt.Errorf("supabase.signup: %w", unavailableUnlessClassified(err))
	}
	if apiErr.Code == "user_already_exists" || apiErr.Code == "email_exists" || alreadyRegistered(apiErr.Message) {
		return fmt.Errorf("supabase.signup: %w: %w", gateway.ErrIdentityConflict, err)
	}
	if apiErr.Status == http.StatusBadRequest || apiErr.Status == http.StatusUnprocessableEntity {
		return fmt.Errorf("supabase.signup: %w: %w", gateway.ErrValidation, err)
	}
	return fmt.Errorf("supabase.signup: %w: %w", gateway.ErrGatewayUnavailable, err)
}

// alreadyRegistered matches the conflict messages of GoTrue versions that
// predate error_code.
func alreadyRegistered(message string) bool {
	message = strings.ToLower(message)
	return strings.Contains(message, "already registered") || strings.Contains(message, "already been registered")
}

// classifyGrant maps client-side rejections of a token or credential grant to rejected.
func classifyGrant(operation string, err error, rejected error) error {
	apiErr, ok := asAPIError(err)
	if !ok || errors.Is(err, gateway.ErrGatewayUnavailable) {
		return fmt.Errorf("%s: %w", operation, unavailableUnlessClassified(err))
	}
	switch apiErr.Status {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity:
		return fmt.Errorf("%s: %w: %w", operation, rejected, err)
	default:
		return fmt.Errorf("%s: %w: %w", operation, gateway.ErrGatewayUnavailable, err)
	}
}

func unavailableUnlessClassified(err error) error {
	for _, known := range []error{gateway.ErrGatewayUnavailable, gateway.ErrValidation} {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%w: %w", gateway.ErrGatewayUnavailable, err)
}
