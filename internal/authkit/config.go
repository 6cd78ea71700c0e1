package authkit

import (
	"net/http"
	"time"
)

const (
	// AccessCookieName carries the access token.
	AccessCookieName = "sb-access-token"
	// RefreshCookieName carries the refresh token.
	RefreshCookieName = "sb-refresh-token"

	// DefaultAccessTTL must match the identity provider's access token lifetime.
	DefaultAccessTTL = 24 * time.Hour
	// DefaultRefreshTTL must match the identity provider's refresh token lifetime.
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

// ServerConfig configures cookies and session lifetimes. It is built once at
// startup and never mutated.
type ServerConfig struct {
	CookieDomain      string
	AccessCookieName  string
	RefreshCookieName string
	AccessTTL         time.Duration
	RefreshTTL        time.Duration
	SameSiteMode      http.SameSite
	Production        bool
}

// DefaultServerConfig returns the cookie settings used by the service.
func DefaultServerConfig(production bool) ServerConfig {
	return ServerConfig{
		AccessCookieName:  AccessCookieName,
		RefreshCookieName: RefreshCookieName,
		AccessTTL:         DefaultAccessTTL,
		RefreshTTL:        DefaultRefreshTTL,
		SameSiteMode:      http.SameSiteLaxMode,
		Production:        production,
	}
}
