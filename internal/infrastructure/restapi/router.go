package restapi

import (
	"time"

	"vaultsync/internal/app/port"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig carries the HTTP-level settings for SetupRouter.
type RouterConfig struct {
	AllowedOrigins []string
	// Gatherer backs /metrics; nil disables the endpoint.
	Gatherer prometheus.Gatherer
}

// SetupRouter configures and returns the Gin router.
func SetupRouter(vault *VaultHandler, events *EventsHandler, cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(vault.logger))

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 0 || containsWildcard(cfg.AllowedOrigins) {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	router.Use(cors.New(corsCfg))

	router.GET("/healthz", vault.HealthHandler)
	if cfg.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := router.Group("/api/v1")
	{
		v1.GET("/session", vault.GetSessionHandler)
		v1.POST("/session/connect", vault.ConnectHandler)
		v1.POST("/session/disconnect", vault.DisconnectHandler)
		v1.POST("/session/account", vault.SelectAccountHandler)

		v1.GET("/token", vault.GetTokenHandler)
		v1.GET("/balances", vault.GetBalancesHandler)
		v1.POST("/balances/refresh", vault.RefreshBalancesHandler)
		v1.GET("/allowance", vault.GetAllowanceHandler)

		v1.POST("/transactions", vault.StartTransactionHandler)
		v1.GET("/transactions/current", vault.GetTransactionStatusHandler)
		v1.DELETE("/transactions/current", vault.CancelTransactionHandler)

		if events != nil {
			v1.GET("/events", events.Serve)
		}
	}

	return router
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}

func requestLogger(log port.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}
