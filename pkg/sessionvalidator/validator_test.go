package sessionvalidator

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

type fixedClock struct {
	current time.Time
}

func (clock fixedClock) Now() time.Time {
	return clock.current
}

func newValidator(t *testing.T, issuer string, now time.Time) *Validator {
	t.Helper()
	validator, err := New(Config{
		SigningKey: []byte("secret-key"),
		Issuer:     issuer,
		Clock:      fixedClock{current: now},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return validator
}

func TestNewValidatorRequiresSigningKeyAndIssuer(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{Issuer: "issuer"}); !errors.Is(err, ErrMissingSigningKey) {
		t.Fatalf("expected missing signing key error, got %v", err)
	}
	if _, err := New(Config{SigningKey: []byte("secret")}); !errors.Is(err, ErrMissingIssuer) {
		t.Fatalf("expected missing issuer error, got %v", err)
	}
}

func TestNewValidatorDefaults(t *testing.T) {
	t.Parallel()

	validator, err := New(Config{SigningKey: []byte("secret"), Issuer: "issuer"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if validator.cookieName != DefaultCookieName {
		t.Fatalf("expected default cookie name, got %s", validator.cookieName)
	}
	if validator.clock == nil {
		t.Fatalf("expected default clock to be set")
	}
}

func TestMintAndValidate(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0).UTC()
	validator := newValidator(t, "tusers", now)

	tokenValue, expiresAt, mintErr := validator.Mint("identity-1", "a@b.com", "session-1", time.Hour)
	if mintErr != nil {
		t.Fatalf("unexpected mint error: %v", mintErr)
	}
	if !expiresAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("unexpected expiry: %v", expiresAt)
	}

	claims, validateErr := validator.ValidateToken(tokenValue)
	if validateErr != nil {
		t.Fatalf("unexpected validation error: %v", validateErr)
	}
	if claims.IdentityID() != "identity-1" || claims.Email != "a@b.com" || claims.SessionID != "session-1" {
		t.Fatalf("unexpected claims: %#v", claims)
	}
	if !claims.ExpiresAtTime().Equal(now.Add(time.Hour)) {
		t.Fatalf("unexpected expiry: %v", claims.ExpiresAtTime())
	}
}

func TestValidateTokenRejectsInvalidCases(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	validator := newValidator(t, "tusers", now)

	foreignKey, _ := New(Config{SigningKey: []byte("other-key"), Issuer: "tusers", Clock: fixedClock{current: now}})
	foreignIssuer := newValidator(t, "someone-else", now)
	stale := newValidator(t, "tusers", now.Add(-2*time.Hour))

	mint := func(source *Validator, sessionID string) string {
		tokenValue, _, err := source.Mint("identity-1", "a@b.com", sessionID, time.Hour)
		if err != nil {
			t.Fatalf("failed to mint: %v", err)
		}
		return tokenValue
	}

	tests := []struct {
		name      string
		token     string
		expectErr error
	}{
		{name: "empty token", token: "", expectErr: ErrMissingToken},
		{name: "garbage", token: "not-a-jwt", expectErr: ErrInvalidToken},
		{name: "bad signature", token: mint(foreignKey, "session-1"), expectErr: ErrInvalidToken},
		{name: "wrong issuer", token: mint(foreignIssuer, "session-1"), expectErr: ErrInvalidIssuer},
		{name: "expired", token: mint(stale, "session-1"), expectErr: ErrTokenExpired},
		{name: "no session", token: mint(validator, ""), expectErr: ErrMissingSession},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			_, validateErr := validator.ValidateToken(testCase.token)
			if !errors.Is(validateErr, testCase.expectErr) {
				t.Fatalf("expected %v, got %v", testCase.expectErr, validateErr)
			}
		})
	}
}

func TestValidateTokenRejectsOtherAlgorithms(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0).UTC()
	validator := newValidator(t, "tusers", now)
	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		SessionID: "session-1",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "tusers",
			Subject:   "identity-1",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})
	tokenValue, signErr := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if signErr != nil {
		t.Fatalf("failed to sign: %v", signErr)
	}
	if _, err := validator.ValidateToken(tokenValue); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token for alg none, got %v", err)
	}
}

func TestValidateRequest(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	validator := newValidator(t, "tusers", now)
	tokenValue, _, _ := validator.Mint("identity-1", "a@b.com", "session-1", time.Minute)

	request := httptest.NewRequest(http.MethodGet, "/protected", nil)
	request.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: tokenValue})
	claims, validateErr := validator.ValidateRequest(request)
	if validateErr != nil {
		t.Fatalf("unexpected validation error: %v", validateErr)
	}
	if claims.IdentityID() != "identity-1" {
		t.Fatalf("unexpected identity: %v", claims.IdentityID())
	}

	_, missingErr := validator.ValidateRequest(httptest.NewRequest(http.MethodGet, "/protected", nil))
	if !errors.Is(missingErr, ErrMissingCookie) {
		t.Fatalf("expected missing cookie error, got %v", missingErr)
	}
}

func TestGinMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	now := time.Unix(1700000000, 0).UTC()
	validator := newValidator(t, "tusers", now)
	tokenValue, _, _ := validator.Mint("identity-1", "a@b.com", "session-1", time.Minute)

	router := gin.New()
	router.Use(validator.GinMiddleware(""))
	router.GET("/protected", func(contextGin *gin.Context) {
		value, exists := contextGin.Get(DefaultContextKey)
		if !exists {
			t.Fatalf("claims missing")
		}
		if _, ok := value.(*Claims); !ok {
			t.Fatalf("unexpected claims type: %T", value)
		}
		contextGin.Status(http.StatusOK)
	})

	request := httptest.NewRequest(http.MethodGet, "/protected", nil)
	request.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: tokenValue})
	response := httptest.NewRecorder()
	router.ServeHTTP(response, request)
	if response.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", response.Code)
	}

	responseMissing := httptest.NewRecorder()
	router.ServeHTTP(responseMissing, httptest.NewRequest(http.MethodGet, "/protected", nil))
	if responseMissing.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for missing cookie, got %d", responseMissing.Code)
	}
}
