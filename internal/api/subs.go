package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/dormitricity/orchestrator/internal/auth"
	"github.com/dormitricity/orchestrator/internal/storage"
	"github.com/dormitricity/orchestrator/pkg/types"
)

const (
	seriesDefaultLimit = 1000
	seriesMaxLimit     = 5000
)

// allowedCooldowns are the cooldown windows a subscription may choose:
// 12h, 18h, 24h, 48h.
var allowedCooldowns = map[int64]bool{
	43200:  true,
	64800:  true,
	86400:  true,
	172800: true,
}

// ListSubscriptions returns the caller's subscriptions with the cached
// latest reading for each location.
func (h *Handler) ListSubscriptions(c *gin.Context) {
	uid := c.GetString(auth.CtxUserID)
	subs, err := h.store.SubscriptionsForUser(c.Request.Context(), uid)
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.ErrorResponse{Error: "INTERNAL", Detail: err.Error()})
		return
	}
	if subs == nil {
		subs = []types.Subscription{}
	}
	c.JSON(http.StatusOK, gin.H{"subscriptions": subs})
}

type createSubRequest struct {
	CanonicalID string `json:"canonical_id" binding:"required"`
}

// CreateSubscription subscribes the caller to a location, deriving the
// pseudonymous key and enabling the crawl target.
func (h *Handler) CreateSubscription(c *gin.Context) {
	var req createSubRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{Error: "BAD_INPUT", Detail: err.Error()})
		return
	}
	canonical := strings.TrimSpace(req.CanonicalID)
	if canonical == "" {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{Error: "BAD_INPUT", Detail: "canonical_id is required"})
		return
	}

	uid := c.GetString(auth.CtxUserID)
	hashedDir := h.auth.HashedDir(canonical)
	now := h.clock.Now().Unix()

	err := h.store.InsertSubscription(c.Request.Context(), uid, hashedDir, canonical, now, h.opts.MaxSubsPerUser)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrMaxSubs):
			c.JSON(http.StatusBadRequest, types.ErrorResponse{Error: "MAX_SUBS_REACHED"})
		case errors.Is(err, storage.ErrAlreadySubscribed):
			c.JSON(http.StatusConflict, types.ErrorResponse{Error: "ALREADY_SUBSCRIBED"})
		default:
			c.JSON(http.StatusInternalServerError, types.ErrorResponse{Error: "INTERNAL", Detail: err.Error()})
		}
		return
	}

	if err := h.store.EnsureTargetEnabled(c.Request.Context(), hashedDir, canonical); err != nil {
		c.JSON(http.StatusInternalServerError, types.ErrorResponse{Error: "INTERNAL", Detail: err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"hashed_dir": hashedDir, "canonical_id": canonical})
}

type updateSubRequest struct {
	ThresholdKWH  float64             `json:"threshold_kwh"`
	WithinHours   float64             `json:"within_hours"`
	CooldownSec   int64               `json:"cooldown_sec"`
	NotifyChannel types.NotifyChannel `json:"notify_channel"`
	NotifyToken   string              `json:"notify_token"`
}

func (r *updateSubRequest) validate() string {
	if r.ThresholdKWH < 0 || r.WithinHours < 0 {
		return "thresholds must be non-negative"
	}
	if !types.ValidChannel(r.NotifyChannel) {
		return "unknown notify_channel"
	}
	if r.NotifyChannel != types.ChannelNone && r.NotifyToken == "" {
		return "notify_token is required for this channel"
	}
	if !allowedCooldowns[r.CooldownSec] {
		return "cooldown_sec must be one of 43200, 64800, 86400, 172800"
	}
	return ""
}

// UpdateSubscription replaces the alert rules and notification settings
// of one subscription.
func (h *Handler) UpdateSubscription(c *gin.Context) {
	var req updateSubRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{Error: "BAD_INPUT", Detail: err.Error()})
		return
	}
	if detail := req.validate(); detail != "" {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{Error: "BAD_INPUT", Detail: detail})
		return
	}

	uid := c.GetString(auth.CtxUserID)
	err := h.store.UpdateSubscriptionNotify(c.Request.Context(), uid, c.Param("hashed_dir"),
		req.ThresholdKWH, req.WithinHours, req.CooldownSec, req.NotifyChannel, req.NotifyToken)
	if err != nil {
		if errors.Is(err, storage.ErrSubNotFound) {
			c.JSON(http.StatusNotFound, types.ErrorResponse{Error: "SUB_NOT_FOUND"})
			return
		}
		c.JSON(http.StatusInternalServerError, types.ErrorResponse{Error: "INTERNAL", Detail: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": true})
}

// DeleteSubscription unsubscribes the caller. The last subscriber of a
// location also disables its crawl target.
func (h *Handler) DeleteSubscription(c *gin.Context) {
	uid := c.GetString(auth.CtxUserID)
	disabled, err := h.store.DeleteSubscription(c.Request.Context(), uid, c.Param("hashed_dir"))
	if err != nil {
		if errors.Is(err, storage.ErrSubNotFound) {
			c.JSON(http.StatusNotFound, types.ErrorResponse{Error: "SUB_NOT_FOUND"})
			return
		}
		c.JSON(http.StatusInternalServerError, types.ErrorResponse{Error: "INTERNAL", Detail: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true, "target_disabled": disabled})
}

type testNotifyRequest struct {
	NotifyChannel types.NotifyChannel `json:"notify_channel" binding:"required"`
	NotifyToken   string              `json:"notify_token" binding:"required"`
}

// TestNotify sends a canned message through the given channel so the user
// can validate settings before saving them.
func (h *Handler) TestNotify(c *gin.Context) {
	var req testNotifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{Error: "BAD_INPUT", Detail: err.Error()})
		return
	}
	if !types.ValidChannel(req.NotifyChannel) || req.NotifyChannel == types.ChannelNone {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{Error: "BAD_INPUT", Detail: "unknown notify_channel"})
		return
	}

	result := h.notifier.SendTest(c.Request.Context(), req.NotifyChannel, req.NotifyToken)
	c.JSON(http.StatusOK, result)
}

// Series returns the reading history of a location the caller subscribes
// to. Ownership failures and unknown locations are indistinguishable.
func (h *Handler) Series(c *gin.Context) {
	uid := c.GetString(auth.CtxUserID)
	hashedDir := c.Param("hashed_dir")

	subscribed, err := h.store.HasSubscription(c.Request.Context(), uid, hashedDir)
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.ErrorResponse{Error: "INTERNAL", Detail: err.Error()})
		return
	}
	if !subscribed {
		c.JSON(http.StatusNotFound, types.ErrorResponse{Error: "NOT_FOUND_OR_EMPTY"})
		return
	}

	since, _ := strconv.ParseInt(c.DefaultQuery("since", "0"), 10, 64)
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(seriesDefaultLimit)))
	if err != nil || limit < 1 {
		limit = seriesDefaultLimit
	}
	if limit > seriesMaxLimit {
		limit = seriesMaxLimit
	}

	points, err := h.store.Series(c.Request.Context(), hashedDir, since, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.ErrorResponse{Error: "INTERNAL", Detail: err.Error()})
		return
	}
	if points == nil {
		points = []types.SeriesPoint{}
	}

	latest, err := h.store.Latest(c.Request.Context(), hashedDir)
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.ErrorResponse{Error: "INTERNAL", Detail: err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"hashed_dir": hashedDir,
		"points":     points,
		"latest":     latest,
	})
}
