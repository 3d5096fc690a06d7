package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/zaqqye/bustrack/internal/config"
	"github.com/zaqqye/bustrack/internal/store"
)

type ConfigController struct {
	Cfg *config.Config
}

// Get tells clients how to talk to the realtime endpoint.
func (cc *ConfigController) Get(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"ws_path":               "/ws",
		"client_hints":          cc.Cfg.WSAllowClientHints,
		"history_default_limit": store.DefaultHistoryLimit,
		"history_max_limit":     store.MaxHistoryLimit,
		"stale_after_seconds":   int(cc.Cfg.StaleAfter.Seconds()),
		"schema_version":        1,
	})
}
