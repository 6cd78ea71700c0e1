package usersync

import (
	"errors"
	"fmt"

	"github.com/tyemirov/tusers/internal/gateway"
)

// ErrProfileCreationFailed marks a dangling identity: registered, but without a profile.
var ErrProfileCreationFailed = errors.New("users.profile_creation_failed")

// ProfileCreationFailedError reports a dangling identity. The identity is not rolled
// back; a caller or reconciler can retry the profile insert or delete the identity.
// Session holds whatever session the identity store issued during registration.
type ProfileCreationFailedError struct {
	IdentityID string
	Session    gateway.Session
	Err        error
}

func (failure *ProfileCreationFailedError) Error() string {
	return fmt.Sprintf("%s: identity %s: %v", ErrProfileCreationFailed, failure.IdentityID, failure.Err)
}

// Unwrap exposes both the marker and the store failure.
func (failure *ProfileCreationFailedError) Unwrap() []error {
	return []error{ErrProfileCreationFailed, failure.Err}
}
