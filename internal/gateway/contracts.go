package gateway

import (
	"context"
	"encoding/json"
	"fmt"
)

// Session is the access/refresh token pair issued by the identity store.
type Session struct {
	AccessToken  string
	RefreshToken string
}

// IsZero reports whether no session was issued.
func (session Session) IsZero() bool {
	return session.AccessToken == "" && session.RefreshToken == ""
}

// Identity is the identity store's view of a user.
type Identity struct {
	ID         string         `json:"id"`
	Email      string         `json:"email"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// IdentityGateway is the operation set the service needs from the identity store.
type IdentityGateway interface {
	// Register creates an identity. The returned session is zero when the provider
	// requires email confirmation before activation.
	Register(ctx context.Context, email string, password string, attributes map[string]any) (Identity, Session, error)
	Authenticate(ctx context.Context, email string, password string) (Identity, Session, error)
	ResolveSession(ctx context.Context, accessToken string) (Identity, error)
	RefreshSession(ctx context.Context, refreshToken string) (Identity, Session, error)
	// RevokeSession is idempotent.
	RevokeSession(ctx context.Context, session Session) error
	AdminDelete(ctx context.Context, identityID string) error
}

// Profile is a profile store record keyed by identity id. Attributes hold every
// application field other than id and email.
type Profile struct {
	ID         string
	Email      string
	Attributes map[string]any
}

// ProfileStore is the operation set the service needs from the profile store.
type ProfileStore interface {
	Insert(ctx context.Context, profile Profile) (Profile, error)
	SelectAll(ctx context.Context) ([]Profile, error)
	SelectByID(ctx context.Context, profileID string) (Profile, error)
	Update(ctx context.Context, profileID string, fields map[string]any) (Profile, error)
	// Delete is idempotent.
	Delete(ctx context.Context, profileID string) error
}

// Fields flattens the profile into a single column map.
func (profile Profile) Fields() map[string]any {
	fields := make(map[string]any, len(profile.Attributes)+2)
	for key, value := range profile.Attributes {
		fields[key] = value
	}
	fields["id"] = profile.ID
	fields["email"] = profile.Email
	return fields
}

// ProfileFromFields splits a flat column map into a Profile.
func ProfileFromFields(fields map[string]any) (Profile, error) {
	profileID, ok := fields["id"].(string)
	if !ok || profileID == "" {
		return Profile{}, fmt.Errorf("profile.decode: missing id")
	}
	email, _ := fields["email"].(string)
	attributes := make(map[string]any, len(fields))
	for key, value := range fields {
		if key == "id" || key == "email" {
			continue
		}
		attributes[key] = value
	}
	return Profile{ID: profileID, Email: email, Attributes: attributes}, nil
}

// MarshalJSON renders the profile as {id, email, ...attributes}.
func (profile Profile) MarshalJSON() ([]byte, error) {
	return json.Marshal(profile.Fields())
}

// UnmarshalJSON reads the flat representation produced by MarshalJSON.
func (profile *Profile) UnmarshalJSON(data []byte) error {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	decoded, err := ProfileFromFields(fields)
	if err != nil {
		return err
	}
	*profile = decoded
	return nil
}
