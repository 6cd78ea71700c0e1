package authkit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tyemirov/tusers/internal/gateway"
)

func TestSessionCodecRoundTrip(t *testing.T) {
	t.Parallel()

	codec := NewSessionCodec(DefaultServerConfig(false))
	session := gateway.Session{AccessToken: "access-token", RefreshToken: "refresh-token"}

	recorder := httptest.NewRecorder()
	codec.Issue(recorder, session)

	request := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, cookie := range recorder.Result().Cookies() {
		request.AddCookie(cookie)
	}
	decoded, present := codec.Read(request)
	if !present {
		t.Fatalf("expected session to be present")
	}
	if decoded != session {
		t.Fatalf("expected %#v, got %#v", session, decoded)
	}
}

func TestSessionCodecCookieAttributes(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name       string
		production bool
	}{
		{name: "development", production: false},
		{name: "production", production: true},
	}
	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			codec := NewSessionCodec(DefaultServerConfig(testCase.production))
			cookies := collectCookies(codec.Cookies(gateway.Session{AccessToken: "a", RefreshToken: "r"}))

			access := cookies[AccessCookieName]
			refresh := cookies[RefreshCookieName]
			if access == nil || refresh == nil {
				t.Fatalf("expected both cookies, got %v", cookies)
			}
			for _, cookie := range []*http.Cookie{access, refresh} {
				if !cookie.HttpOnly {
					t.Fatalf("%s must be HttpOnly", cookie.Name)
				}
				if cookie.SameSite != http.SameSiteLaxMode {
					t.Fatalf("%s must be SameSite=Lax", cookie.Name)
				}
				if cookie.Secure != testCase.production {
					t.Fatalf("%s secure=%v, expected %v", cookie.Name, cookie.Secure, testCase.production)
				}
			}
			if access.MaxAge != int((24 * time.Hour).Seconds()) {
				t.Fatalf("unexpected access max-age %d", access.MaxAge)
			}
			if refresh.MaxAge != int((7 * 24 * time.Hour).Seconds()) {
				t.Fatalf("unexpected refresh max-age %d", refresh.MaxAge)
			}
		})
	}
}

func TestSessionCodecClearRemovesBothCookies(t *testing.T) {
	t.Parallel()

	codec := NewSessionCodec(DefaultServerConfig(false))
	recorder := httptest.NewRecorder()
	codec.Clear(recorder)

	cookies := collectCookies(recorder.Result().Cookies())
	for _, name := range []string{AccessCookieName, RefreshCookieName} {
		cookie := cookies[name]
		if cookie == nil {
			t.Fatalf("expected clearing cookie for %s", name)
		}
		if cookie.MaxAge >= 0 || cookie.Value != "" {
			t.Fatalf("expected %s to be expired, got %#v", name, cookie)
		}
	}
}

func TestSessionCodecReadWithoutAccessToken(t *testing.T) {
	t.Parallel()

	codec := NewSessionCodec(DefaultServerConfig(false))
	request := httptest.NewRequest(http.MethodGet, "/", nil)
	request.AddCookie(&http.Cookie{Name: RefreshCookieName, Value: "refresh-only"})

	if _, present := codec.Read(request); present {
		t.Fatalf("expected session to be absent without an access token")
	}
	if codec.RefreshToken(request) != "refresh-only" {
		t.Fatalf("expected refresh token to be readable on its own")
	}
}

func collectCookies(cookies []*http.Cookie) map[string]*http.Cookie {
	collected := make(map[string]*http.Cookie)
	for _, cookie := range cookies {
		collected[cookie.Name] = cookie
	}
	return collected
}
