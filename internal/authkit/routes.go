package authkit

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tyemirov/tusers/internal/gateway"
	"github.com/tyemirov/tusers/internal/usersync"
	"go.uber.org/zap"
)

const (
	messageSignupSuccess  = "Registration successful. Please check your email for verification."
	messageLoginSuccess   = "Login successful"
	messageLogoutSuccess  = "Logout successful"
	messageRefreshSuccess = "Session refreshed"
)

// AuthService is the synchronizer surface used by the auth routes.
type AuthService interface {
	SessionResolver
	CreateUser(ctx context.Context, email string, password string, attributes map[string]any) (gateway.Profile, gateway.Session, error)
	Login(ctx context.Context, email string, password string) (gateway.Identity, gateway.Session, error)
	Logout(ctx context.Context, session gateway.Session) error
	Refresh(ctx context.Context, refreshToken string) (gateway.Identity, gateway.Session, error)
}

// MountAuthRoutes registers /auth/signup, /auth/login, /auth/logout, /auth/refresh, and /auth/me.
func MountAuthRoutes(router gin.IRouter, configuration ServerConfig, users AuthService, limiter *AttemptLimiter, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	codec := NewSessionCodec(configuration)

	router.POST("/auth/signup", limiter.Middleware(), func(contextGin *gin.Context) {
		registration, decodeErr := DecodeRegistration(contextGin)
		if decodeErr != nil {
			RespondError(contextGin, logger, "auth.signup.invalid", decodeErr)
			return
		}

		profile, session, createErr := users.CreateUser(contextGin.Request.Context(), registration.Email, registration.Password, registration.Attributes)
		if createErr != nil {
			var danglingErr *usersync.ProfileCreationFailedError
			if errors.As(createErr, &danglingErr) && !danglingErr.Session.IsZero() {
				codec.Issue(contextGin.Writer, danglingErr.Session)
			}
			RespondError(contextGin, logger, "auth.signup.failed", createErr)
			return
		}

		if !session.IsZero() {
			codec.Issue(contextGin.Writer, session)
		}
		contextGin.JSON(http.StatusCreated, gin.H{
			"message": messageSignupSuccess,
			"user":    profile,
		})
	})

	router.POST("/auth/login", limiter.Middleware(), func(contextGin *gin.Context) {
		credentials, decodeErr := DecodeCredentials(contextGin)
		if decodeErr != nil {
			RespondError(contextGin, logger, "auth.login.invalid", decodeErr)
			return
		}

		identity, session, loginErr := users.Login(contextGin.Request.Context(), credentials.Email, credentials.Password)
		if loginErr != nil {
			RespondError(contextGin, logger, "auth.login.failed", loginErr)
			return
		}

		codec.Issue(contextGin.Writer, session)
		contextGin.JSON(http.StatusOK, gin.H{
			"message": messageLoginSuccess,
			"user":    identity,
		})
	})

	router.POST("/auth/logout", func(contextGin *gin.Context) {
		var revokeErr error
		if session, present := codec.Read(contextGin.Request); present {
			revokeErr = users.Logout(contextGin.Request.Context(), session)
		}
		codec.Clear(contextGin.Writer)

		if revokeErr != nil {
			logger.Error("session revocation failed after clearing cookies",
				zap.String("code", "auth.logout.revoke_failed"),
				zap.Error(revokeErr))
			contextGin.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "Logout incomplete: the session could not be revoked",
			})
			return
		}
		contextGin.JSON(http.StatusOK, gin.H{"message": messageLogoutSuccess})
	})

	router.POST("/auth/refresh", func(contextGin *gin.Context) {
		identity, session, refreshErr := users.Refresh(contextGin.Request.Context(), codec.RefreshToken(contextGin.Request))
		if refreshErr != nil {
			if !errors.Is(refreshErr, gateway.ErrGatewayUnavailable) {
				codec.Clear(contextGin.Writer)
			}
			RespondError(contextGin, logger, "auth.refresh.failed", refreshErr)
			return
		}

		codec.Issue(contextGin.Writer, session)
		contextGin.JSON(http.StatusOK, gin.H{
			"message": messageRefreshSuccess,
			"user":    identity,
		})
	})

	router.GET("/auth/me", RequireSession(configuration, users, logger), func(contextGin *gin.Context) {
		identity, ok := IdentityFromContext(contextGin)
		if !ok {
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
			return
		}
		contextGin.JSON(http.StatusOK, gin.H{"user": identity})
	})
}
