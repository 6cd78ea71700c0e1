package authkit

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/tyemirov/tusers/internal/gateway"
)

const (
	minPasswordLength = 6
	maxPasswordBytes  = 72
)

// ErrInvalidJSON indicates the request body is not a JSON object.
var ErrInvalidJSON = errors.New("request.invalid_json")

// PasswordByteLimit caps a password at the bytes bcrypt hashes. Length rules
// count runes, so multi-byte passwords need this check too.
var PasswordByteLimit = validation.By(func(value interface{}) error {
	password, _ := value.(string)
	if len(password) > maxPasswordBytes {
		return fmt.Errorf("the length must be no more than %d bytes", maxPasswordBytes)
	}
	return nil
})

// Registration is a signup or user-creation request: credentials plus any extra profile fields.
type Registration struct {
	Email      string         `json:"email"`
	Password   string         `json:"password"`
	Attributes map[string]any `json:"-"`
}

// Validate checks the credential shape.
func (registration Registration) Validate() error {
	return validation.ValidateStruct(&registration,
		validation.Field(&registration.Email, validation.Required, is.EmailFormat),
		validation.Field(&registration.Password, validation.Required, validation.Length(minPasswordLength, 0), PasswordByteLimit),
	)
}

// Credentials is a login request.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Validate checks the credential shape. Password length is not enforced so a
// short wrong password is reported as bad credentials.
func (credentials Credentials) Validate() error {
	return validation.ValidateStruct(&credentials,
		validation.Field(&credentials.Email, validation.Required, is.EmailFormat),
		validation.Field(&credentials.Password, validation.Required),
	)
}

// DecodeRegistration reads and validates a registration body.
func DecodeRegistration(contextGin *gin.Context) (Registration, error) {
	fields, decodeErr := DecodeObject(contextGin)
	if decodeErr != nil {
		return Registration{}, decodeErr
	}
	registration := Registration{
		Email:      NormalizeEmail(stringField(fields, "email")),
		Password:   stringField(fields, "password"),
		Attributes: gateway.StripImmutableFields(fields),
	}
	if err := registration.Validate(); err != nil {
		return Registration{}, validationFailure(err)
	}
	return registration, nil
}

// DecodeCredentials reads and validates a login body.
func DecodeCredentials(contextGin *gin.Context) (Credentials, error) {
	fields, decodeErr := DecodeObject(contextGin)
	if decodeErr != nil {
		return Credentials{}, decodeErr
	}
	credentials := Credentials{
		Email:    NormalizeEmail(stringField(fields, "email")),
		Password: stringField(fields, "password"),
	}
	if err := credentials.Validate(); err != nil {
		return Credentials{}, validationFailure(err)
	}
	return credentials, nil
}

// DecodeObject reads the body as a JSON object.
func DecodeObject(contextGin *gin.Context) (map[string]any, error) {
	var fields map[string]any
	if err := contextGin.ShouldBindJSON(&fields); err != nil || fields == nil {
		return nil, fmt.Errorf("%w: %w", gateway.ErrValidation, ErrInvalidJSON)
	}
	return fields, nil
}

// NormalizeEmail trims and lower-cases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// validationFailure wraps field errors so RespondError renders them as a 400.
func validationFailure(err error) error {
	return fmt.Errorf("%w: %w", gateway.ErrValidation, err)
}

// ValidationFailure wraps field errors collected by resource handlers.
func ValidationFailure(fieldErrors validation.Errors) error {
	return validationFailure(fieldErrors)
}

func stringField(fields map[string]any, key string) string {
	value, _ := fields[key].(string)
	return value
}
