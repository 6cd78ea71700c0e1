package authkit

import (
	"net/http"
	"strings"
	"time"

	"github.com/tyemirov/tusers/internal/gateway"
)

// SessionCodec converts sessions to and from the access/refresh cookie pair.
type SessionCodec struct {
	configuration ServerConfig
	now           func() time.Time
}

// NewSessionCodec constructs a codec for the supplied configuration.
func NewSessionCodec(configuration ServerConfig) SessionCodec {
	return SessionCodec{configuration: configuration, now: time.Now}
}

// Cookies renders the session as its two cookies.
func (codec SessionCodec) Cookies(session gateway.Session) []*http.Cookie {
	now := codec.now().UTC()
	return []*http.Cookie{
		codec.cookie(codec.configuration.AccessCookieName, session.AccessToken, codec.configuration.AccessTTL, now),
		codec.cookie(codec.configuration.RefreshCookieName, session.RefreshToken, codec.configuration.RefreshTTL, now),
	}
}

// ClearingCookies expires both cookies.
func (codec SessionCodec) ClearingCookies() []*http.Cookie {
	return []*http.Cookie{
		codec.expired(codec.configuration.AccessCookieName),
		codec.expired(codec.configuration.RefreshCookieName),
	}
}

// Issue writes the session cookies to the response.
func (codec SessionCodec) Issue(writer http.ResponseWriter, session gateway.Session) {
	for _, cookie := range codec.Cookies(session) {
		http.SetCookie(writer, cookie)
	}
}

// Clear removes both cookies, whichever of them the client holds.
func (codec SessionCodec) Clear(writer http.ResponseWriter) {
	for _, cookie := range codec.ClearingCookies() {
		http.SetCookie(writer, cookie)
	}
}

// Read extracts the session from request cookies. It reports false when the
// access token is absent; the refresh token may be empty.
func (codec SessionCodec) Read(request *http.Request) (gateway.Session, bool) {
	if request == nil {
		return gateway.Session{}, false
	}
	accessToken := cookieValue(request, codec.configuration.AccessCookieName)
	if accessToken == "" {
		return gateway.Session{}, false
	}
	return gateway.Session{
		AccessToken:  accessToken,
		RefreshToken: cookieValue(request, codec.configuration.RefreshCookieName),
	}, true
}

// RefreshToken returns the refresh cookie value, if any.
func (codec SessionCodec) RefreshToken(request *http.Request) string {
	if request == nil {
		return ""
	}
	return cookieValue(request, codec.configuration.RefreshCookieName)
}

func (codec SessionCodec) cookie(name string, value string, ttl time.Duration, now time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   codec.configuration.CookieDomain,
		MaxAge:   int(ttl / time.Second),
		Expires:  now.Add(ttl),
		Secure:   codec.configuration.Production,
		HttpOnly: true,
		SameSite: codec.configuration.SameSiteMode,
	}
}

func (codec SessionCodec) expired(name string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   codec.configuration.CookieDomain,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0).UTC(),
		Secure:   codec.configuration.Production,
		HttpOnly: true,
		SameSite: codec.configuration.SameSiteMode,
	}
}

func cookieValue(request *http.Request, name string) string {
	cookie, err := request.Cookie(name)
	if err != nil || cookie == nil {
		return ""
	}
	return strings.TrimSpace(cookie.Value)
}
