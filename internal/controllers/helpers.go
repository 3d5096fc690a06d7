package controllers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/zaqqye/bustrack/internal/apperr"
	"github.com/zaqqye/bustrack/internal/authz"
	"github.com/zaqqye/bustrack/internal/models"
)

func currentUser(c *gin.Context) (models.User, bool) {
	uVal, ok := c.Get("user")
	if !ok {
		return models.User{}, false
	}
	user, ok := uVal.(models.User)
	return user, ok
}

func currentCaller(c *gin.Context) (authz.Caller, bool) {
	user, ok := currentUser(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return authz.Caller{}, false
	}
	return authz.CallerFrom(user), true
}

// respondError writes err as {"error": message} with its mapped status.
func respondError(c *gin.Context, err error) {
	status := apperr.Status(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	c.JSON(status, gin.H{"error": apperr.Message(err)})
}

// busIDParam reads a positive bus id from the named path parameter.
func busIDParam(c *gin.Context, name string) (uint, bool) {
	raw := strings.TrimSpace(c.Param(name))
	n, err := strconv.ParseUint(raw, 10, 0)
	if err != nil || n == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid bus id"})
		return 0, false
	}
	return uint(n), true
}
