package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/zaqqye/bustrack/internal/authz"
	"github.com/zaqqye/bustrack/internal/config"
	"github.com/zaqqye/bustrack/internal/controllers"
	"github.com/zaqqye/bustrack/internal/middleware"
	"github.com/zaqqye/bustrack/internal/models"
	"github.com/zaqqye/bustrack/internal/store"
	"github.com/zaqqye/bustrack/internal/tracking"
	"github.com/zaqqye/bustrack/internal/ws"
)

// Deps is everything the HTTP surface is built from.
type Deps struct {
	Cfg      *config.Config
	Dir      store.Directory
	Authz    *authz.Resolver
	Tracking *tracking.Service
	Hub      *ws.Hub
}

func Register(r *gin.Engine, d Deps) {
	authCfg := middleware.AuthConfig{
		JWTSecret:     d.Cfg.JWTSecret,
		JWTExpiresIn:  d.Cfg.JWTExpiresIn,
		LookupTimeout: d.Cfg.StoreTimeout,
	}
	authCtrl := &controllers.AuthController{Dir: d.Dir, Auth: authCfg, Timeout: d.Cfg.StoreTimeout}
	busCtrl := &controllers.BusController{Dir: d.Dir, Authz: d.Authz, Timeout: d.Cfg.StoreTimeout}
	gpsCtrl := &controllers.GPSController{Svc: d.Tracking}
	cfgCtrl := &controllers.ConfigController{Cfg: d.Cfg}

	// Public
	r.POST("/api/auth/login", authCtrl.Login)
	r.GET("/api/config/public", cfgCtrl.Get)

	// Protected
	authMW := middleware.AuthMiddleware(d.Dir, authCfg)
	api := r.Group("/api", authMW)
	{
		api.GET("/auth/me", authCtrl.Me)
		api.POST("/auth/logout", authCtrl.Logout)

		api.GET("/bus/:id", busCtrl.Get)
		api.PUT("/bus/:id/tracking", middleware.RequireRoles(models.RoleDriver), busCtrl.SetTracking)

		gps := api.Group("/gps")
		{
			gps.POST("", middleware.RequireRoles(models.RoleDriver), gpsCtrl.Report)
			gps.GET("/all/active", middleware.RequireRoles(models.RoleAdmin), gpsCtrl.ActiveBuses)
			gps.GET("/:busId", gpsCtrl.Latest)
			gps.GET("/:busId/history", gpsCtrl.History)
		}
	}

	// Websocket: browsers cannot set headers on the upgrade request.
	wsAuth := authCfg
	wsAuth.AllowQueryToken = true
	r.GET("/ws", middleware.AuthMiddleware(d.Dir, wsAuth), ws.Handler(d.Hub, d.Authz, ws.Options{
		AllowClientHints: d.Cfg.WSAllowClientHints,
		StoreTimeout:     d.Cfg.StoreTimeout,
	}))
}
