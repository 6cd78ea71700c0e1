package gateway

import "errors"

var (
	// ErrValidation indicates malformed input rejected by a store or by request validation.
	ErrValidation = errors.New("gateway.validation")
	// ErrIdentityConflict indicates the email is already registered.
	ErrIdentityConflict = errors.New("gateway.identity_conflict")
	// ErrInvalidCredentials indicates an email/password mismatch. Unknown email and wrong password are not distinguished.
	ErrInvalidCredentials = errors.New("gateway.invalid_credentials")
	// ErrSessionInvalid indicates a malformed, expired, or revoked token.
	ErrSessionInvalid = errors.New("gateway.session_invalid")
	// ErrNotFound indicates the identity or profile does not exist.
	ErrNotFound = errors.New("gateway.not_found")
	// ErrConflict indicates a profile already exists for the id.
	ErrConflict = errors.New("gateway.conflict")
	// ErrGatewayUnavailable indicates the remote store failed or did not answer in time.
	ErrGatewayUnavailable = errors.New("gateway.unavailable")
)
