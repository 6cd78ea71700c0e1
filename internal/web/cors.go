package web

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var (
	errWildcardOrigin      = errors.New("cors: wildcard origin not allowed when credentials are enabled")
	errEmptyAllowedOrigins = errors.New("cors: no explicit origins provided")
	errInvalidOrigin       = errors.New("cors: invalid origin format")
)

// Methods served under /api. Profiles are replaced with PUT, never patched.
var corsAllowedMethods = []string{
	http.MethodGet,
	http.MethodPost,
	http.MethodPut,
	http.MethodDelete,
	http.MethodOptions,
}

// ConfigureCORS allows credentialed requests from the configured client origins.
// Browsers need Retry-After exposed to back off after a throttled signup or login.
func ConfigureCORS(logger *zap.Logger, allowedOrigins []string) (gin.HandlerFunc, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	origins, err := sanitizeOrigins(logger, allowedOrigins)
	if err != nil {
		return nil, err
	}
	return cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     corsAllowedMethods,
		AllowHeaders:     []string{"Content-Type", "X-Requested-With"},
		ExposeHeaders:    []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}), nil
}

// sanitizeOrigins normalizes origins to scheme://host in configuration order,
// dropping blanks and duplicates.
func sanitizeOrigins(logger *zap.Logger, allowed []string) ([]string, error) {
	origins := make([]string, 0, len(allowed))
	seen := make(map[string]bool, len(allowed))
	for _, raw := range allowed {
		origin, insecure, err := normalizeOrigin(raw)
		if err != nil {
			return nil, err
		}
		if origin == "" || seen[origin] {
			continue
		}
		if insecure {
			logger.Warn("plain http cors origin outside localhost",
				zap.String("code", "cors.origin.insecure"),
				zap.String("origin", origin))
		}
		seen[origin] = true
		origins = append(origins, origin)
	}
	if len(origins) == 0 {
		return nil, errEmptyAllowedOrigins
	}
	return origins, nil
}

// normalizeOrigin returns "" for a blank entry. insecure reports plain http
// to a host other than the local machine.
func normalizeOrigin(raw string) (origin string, insecure bool, err error) {
	trimmed := strings.TrimSpace(raw)
	switch trimmed {
	case "":
		return "", false, nil
	case "*":
		return "", false, errWildcardOrigin
	}
	parsed, parseErr := url.Parse(trimmed)
	if parseErr != nil || parsed.Host == "" {
		return "", false, fmt.Errorf("%w: %s", errInvalidOrigin, trimmed)
	}
	if strings.TrimSuffix(parsed.Path, "/") != "" || parsed.RawQuery != "" || parsed.Fragment != "" || parsed.User != nil {
		return "", false, fmt.Errorf("%w: %s is not a bare origin", errInvalidOrigin, trimmed)
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "https" && scheme != "http" {
		return "", false, fmt.Errorf("%w: %s uses unsupported scheme", errInvalidOrigin, trimmed)
	}
	origin = scheme + "://" + strings.ToLower(parsed.Host)
	return origin, scheme == "http" && !isLoopbackHost(parsed.Hostname()), nil
}

func isLoopbackHost(host string) bool {
	switch strings.ToLower(host) {
	case "localhost", "127.0.0.1", "::1":
		return true
	default:
		return false
	}
}
