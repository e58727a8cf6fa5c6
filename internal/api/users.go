package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dormitricity/orchestrator/internal/auth"
	"github.com/dormitricity/orchestrator/internal/storage"
	"github.com/dormitricity/orchestrator/pkg/types"
)

const (
	sessionTTL  = 7 * 24 * time.Hour
	minPassword = 8
)

type credentialsRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func validEmail(email string) bool {
	at := strings.Index(email, "@")
	return at > 0 && at < len(email)-1 && !strings.ContainsAny(email, " \t")
}

// Register creates an account and returns a session token.
func (h *Handler) Register(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{Error: "BAD_INPUT", Detail: err.Error()})
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if !validEmail(req.Email) {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{Error: "BAD_INPUT", Detail: "invalid email"})
		return
	}
	if len(req.Password) < minPassword {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{Error: "BAD_INPUT", Detail: "password too short"})
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.ErrorResponse{Error: "INTERNAL"})
		return
	}

	user := &storage.UserRecord{
		ID:        uuid.NewString(),
		Email:     req.Email,
		PwHash:    hash,
		CreatedTS: h.clock.Now().Unix(),
	}
	if err := h.store.CreateUser(c.Request.Context(), user); err != nil {
		if errors.Is(err, storage.ErrEmailInUse) {
			c.JSON(http.StatusConflict, types.ErrorResponse{Error: "EMAIL_IN_USE"})
			return
		}
		c.JSON(http.StatusInternalServerError, types.ErrorResponse{Error: "INTERNAL", Detail: err.Error()})
		return
	}

	token, err := h.auth.SignUserToken(user.ID, user.Email, sessionTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.ErrorResponse{Error: "INTERNAL"})
		return
	}

	logrus.WithField("uid", user.ID).Info("Registered user")
	c.JSON(http.StatusOK, gin.H{"token": token, "email": user.Email})
}

// Login verifies credentials and returns a session token. Unknown email
// and wrong password are indistinguishable to the caller.
func (h *Handler) Login(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{Error: "BAD_INPUT", Detail: err.Error()})
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	user, err := h.store.UserByEmail(c.Request.Context(), req.Email)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			c.JSON(http.StatusUnauthorized, types.ErrorResponse{Error: "BAD_CREDENTIALS"})
			return
		}
		c.JSON(http.StatusInternalServerError, types.ErrorResponse{Error: "INTERNAL", Detail: err.Error()})
		return
	}
	if !auth.VerifyPassword(req.Password, user.PwHash) {
		c.JSON(http.StatusUnauthorized, types.ErrorResponse{Error: "BAD_CREDENTIALS"})
		return
	}

	token, err := h.auth.SignUserToken(user.ID, user.Email, sessionTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.ErrorResponse{Error: "INTERNAL"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "email": user.Email})
}

type deleteAccountRequest struct {
	Email string `json:"email" binding:"required"`
}

// DeleteAccount removes the authenticated user's account after an email
// confirmation check, cascading to subscriptions and orphaned targets.
func (h *Handler) DeleteAccount(c *gin.Context) {
	var req deleteAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{Error: "BAD_INPUT", Detail: err.Error()})
		return
	}

	if strings.ToLower(strings.TrimSpace(req.Email)) != c.GetString(auth.CtxUserEmail) {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{Error: "EMAIL_MISMATCH"})
		return
	}

	uid := c.GetString(auth.CtxUserID)
	deletedSubs, disabledTargets, err := h.store.DeleteUser(c.Request.Context(), uid)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, types.ErrorResponse{Error: "USER_NOT_FOUND"})
			return
		}
		c.JSON(http.StatusInternalServerError, types.ErrorResponse{Error: "INTERNAL", Detail: err.Error()})
		return
	}

	logrus.WithFields(logrus.Fields{
		"uid":              uid,
		"deleted_subs":     deletedSubs,
		"disabled_targets": disabledTargets,
	}).Info("Deleted user account")
	c.JSON(http.StatusOK, gin.H{
		"deleted_subs":     deletedSubs,
		"disabled_targets": disabledTargets,
	})
}
