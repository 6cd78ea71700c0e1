package authkit

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/tyemirov/tusers/internal/gateway"
	"github.com/tyemirov/tusers/internal/usersync"
	"go.uber.org/zap"
)

// RespondError maps a service error to its HTTP status and a client-safe body.
// Internal detail is logged under code, never written to the response.
func RespondError(contextGin *gin.Context, logger *zap.Logger, code string, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var fieldErrors validation.Errors
	var danglingErr *usersync.ProfileCreationFailedError

	switch {
	case errors.As(err, &danglingErr):
		logger.Error("dangling identity", zap.String("code", code), zap.String("identity_id", danglingErr.IdentityID), zap.Error(err))
		contextGin.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":       "User profile could not be created",
			"identity_id": danglingErr.IdentityID,
		})
	case errors.As(err, &fieldErrors):
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"errors": fieldErrors})
	case errors.Is(err, ErrInvalidJSON):
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_json"})
	case errors.Is(err, gateway.ErrValidation):
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid input"})
	case errors.Is(err, gateway.ErrInvalidCredentials):
		contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
	case errors.Is(err, gateway.ErrSessionInvalid):
		contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
	case errors.Is(err, gateway.ErrNotFound):
		contextGin.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "User not found"})
	case errors.Is(err, gateway.ErrIdentityConflict):
		contextGin.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "Email already registered"})
	case errors.Is(err, gateway.ErrConflict):
		contextGin.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "User profile already exists"})
	case errors.Is(err, gateway.ErrGatewayUnavailable) && errors.Is(err, context.DeadlineExceeded):
		logger.Error("gateway timeout", zap.String("code", code), zap.Error(err))
		contextGin.AbortWithStatusJSON(http.StatusGatewayTimeout, gin.H{"error": "Upstream service timed out"})
	case errors.Is(err, gateway.ErrGatewayUnavailable):
		logger.Error("gateway unavailable", zap.String("code", code), zap.Error(err))
		contextGin.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "Upstream service unavailable"})
	default:
		logger.Error("unexpected failure", zap.String("code", code), zap.Error(err))
		contextGin.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
