package authkit

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tyemirov/tusers/internal/gateway"
	"go.uber.org/zap"
)

// IdentityContextKey holds the resolved gateway.Identity on the gin context.
const IdentityContextKey = "auth_identity"

// SessionResolver resolves an access token to the caller's identity.
type SessionResolver interface {
	ResolveSession(ctx context.Context, accessToken string) (gateway.Identity, error)
}

// RequireSession rejects requests whose access cookie is missing or does not
// resolve, and attaches the identity otherwise. Expired tokens are never renewed here.
func RequireSession(configuration ServerConfig, resolver SessionResolver, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	codec := NewSessionCodec(configuration)
	return func(contextGin *gin.Context) {
		session, present := codec.Read(contextGin.Request)
		if !present {
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
			return
		}
		identity, resolveErr := resolver.ResolveSession(contextGin.Request.Context(), session.AccessToken)
		if resolveErr != nil || identity.ID == "" {
			logger.Debug("session rejected",
				zap.String("code", "auth.session.rejected"),
				zap.Error(resolveErr))
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
			return
		}
		contextGin.Set(IdentityContextKey, identity)
		contextGin.Next()
	}
}

// IdentityFromContext returns the identity attached by RequireSession.
func IdentityFromContext(contextGin *gin.Context) (gateway.Identity, bool) {
	value, found := contextGin.Get(IdentityContextKey)
	if !found {
		return gateway.Identity{}, false
	}
	identity, ok := value.(gateway.Identity)
	return identity, ok && identity.ID != ""
}
