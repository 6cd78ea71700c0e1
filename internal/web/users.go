package web

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/tyemirov/tusers/internal/authkit"
	"github.com/tyemirov/tusers/internal/gateway"
	"go.uber.org/zap"
)

const minUpdatePasswordLength = 6

// UserService is the synchronizer surface used by the user resource routes.
type UserService interface {
	authkit.SessionResolver
	CreateUser(ctx context.Context, email string, password string, attributes map[string]any) (gateway.Profile, gateway.Session, error)
	UpdateUser(ctx context.Context, profileID string, updates map[string]any) (gateway.Profile, error)
	DeleteUser(ctx context.Context, profileID string) error
	GetUser(ctx context.Context, profileID string) (gateway.Profile, error)
	ListUsers(ctx context.Context) ([]gateway.Profile, error)
}

// MountUserRoutes registers the /users resource. Creation is open; everything
// else requires a session.
func MountUserRoutes(router gin.IRouter, configuration authkit.ServerConfig, users UserService, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	requireSession := authkit.RequireSession(configuration, users, logger)

	router.GET("/users", requireSession, func(contextGin *gin.Context) {
		profiles, listErr := users.ListUsers(contextGin.Request.Context())
		if listErr != nil {
			authkit.RespondError(contextGin, logger, "users.list.failed", listErr)
			return
		}
		if profiles == nil {
			profiles = []gateway.Profile{}
		}
		contextGin.JSON(http.StatusOK, profiles)
	})

	router.GET("/users/:id", requireSession, func(contextGin *gin.Context) {
		profile, getErr := users.GetUser(contextGin.Request.Context(), contextGin.Param("id"))
		if getErr != nil {
			authkit.RespondError(contextGin, logger, "users.get.failed", getErr)
			return
		}
		contextGin.JSON(http.StatusOK, profile)
	})

	router.POST("/users", func(contextGin *gin.Context) {
		registration, decodeErr := authkit.DecodeRegistration(contextGin)
		if decodeErr != nil {
			authkit.RespondError(contextGin, logger, "users.create.invalid", decodeErr)
			return
		}
		profile, _, createErr := users.CreateUser(contextGin.Request.Context(), registration.Email, registration.Password, registration.Attributes)
		if createErr != nil {
			authkit.RespondError(contextGin, logger, "users.create.failed", createErr)
			return
		}
		contextGin.JSON(http.StatusCreated, profile)
	})

	router.PUT("/users/:id", requireSession, func(contextGin *gin.Context) {
		updates, decodeErr := authkit.DecodeObject(contextGin)
		if decodeErr != nil {
			authkit.RespondError(contextGin, logger, "users.update.invalid", decodeErr)
			return
		}
		if fieldErrors := validateUpdate(updates); len(fieldErrors) > 0 {
			authkit.RespondError(contextGin, logger, "users.update.invalid", authkit.ValidationFailure(fieldErrors))
			return
		}
		profile, updateErr := users.UpdateUser(contextGin.Request.Context(), contextGin.Param("id"), updates)
		if updateErr != nil {
			authkit.RespondError(contextGin, logger, "users.update.failed", updateErr)
			return
		}
		contextGin.JSON(http.StatusOK, profile)
	})

	router.DELETE("/users/:id", requireSession, func(contextGin *gin.Context) {
		if deleteErr := users.DeleteUser(contextGin.Request.Context(), contextGin.Param("id")); deleteErr != nil {
			authkit.RespondError(contextGin, logger, "users.delete.failed", deleteErr)
			return
		}
		contextGin.Status(http.StatusNoContent)
	})
}

// validateUpdate checks the fields that are present. Email and password are
// validated even though the update never applies them.
func validateUpdate(updates map[string]any) validation.Errors {
	fieldErrors := validation.Errors{}
	if value, present := updates["email"]; present {
		email, _ := value.(string)
		if err := validation.Validate(strings.TrimSpace(email), validation.Required, is.EmailFormat); err != nil {
			fieldErrors["email"] = err
		}
	}
	if value, present := updates["password"]; present {
		password, _ := value.(string)
		if err := validation.Validate(password, validation.Required, validation.Length(minUpdatePasswordLength, 0), authkit.PasswordByteLimit); err != nil {
			fieldErrors["password"] = err
		}
	}
	if value, present := updates["name"]; present {
		name, _ := value.(string)
		if err := validation.Validate(strings.TrimSpace(name), validation.Required); err != nil {
			fieldErrors["name"] = err
		}
	}
	return fieldErrors
}
