package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/zaqqye/bustrack/internal/apperr"
	"github.com/zaqqye/bustrack/internal/authz"
	"github.com/zaqqye/bustrack/internal/models"
	"github.com/zaqqye/bustrack/internal/store"
)

type BusController struct {
	Dir     store.Directory
	Authz   *authz.Resolver
	Timeout time.Duration
}

func (b *BusController) ctx(c *gin.Context) (context.Context, context.CancelFunc) {
	timeout := b.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return context.WithTimeout(c.Request.Context(), timeout)
}

// Get returns a bus the caller may observe, with its route.
func (b *BusController) Get(c *gin.Context) {
	caller, ok := currentCaller(c)
	if !ok {
		return
	}
	busID, ok := busIDParam(c, "id")
	if !ok {
		return
	}
	ctx, cancel := b.ctx(c)
	defer cancel()
	bus, err := b.Authz.CanObserve(ctx, caller, busID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bus": bus})
}

// SetTracking flips tracking_enabled. The body must contain that field only.
func (b *BusController) SetTracking(c *gin.Context) {
	caller, ok := currentCaller(c)
	if !ok {
		return
	}
	busID, ok := busIDParam(c, "id")
	if !ok {
		return
	}

	var body map[string]json.RawMessage
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	raw, present := body["tracking_enabled"]
	if len(body) != 1 || !present {
		status := http.StatusBadRequest
		if caller.Role == models.RoleDriver {
			status = http.StatusForbidden
		}
		c.JSON(status, gin.H{"error": "only tracking_enabled can be updated"})
		return
	}
	var enabled *bool
	if err := json.Unmarshal(raw, &enabled); err != nil || enabled == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tracking_enabled must be a boolean"})
		return
	}

	ctx, cancel := b.ctx(c)
	defer cancel()
	bus, err := b.Dir.BusByID(ctx, busID)
	if err != nil && !(caller.Role == models.RoleDriver && errors.Is(err, apperr.ErrNotFound)) {
		respondError(c, err)
		return
	}
	if caller.Role != models.RoleAdmin && !(caller.Role == models.RoleDriver && err == nil && bus.AssignedTo(caller.ID)) {
		c.JSON(http.StatusForbidden, gin.H{"error": "you are not assigned to this bus"})
		return
	}
	bus, err = b.Dir.SetTrackingEnabled(ctx, busID, *enabled)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bus": bus})
}
