package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/talentx/authcore"
	"github.com/talentx/authcore/metrics/export/prometheus"
	mw "github.com/talentx/authcore/middleware"
)

// Config controls the HTTP surface.
type Config struct {
	AllowOrigins []string
	// RatePerSecond and RateBurst size the per-IP bucket on /auth. Zero
	// disables it.
	RatePerSecond float64
	RateBurst     int
	// MetricsEnabled mounts GET /metrics.
	MetricsEnabled bool
}

func DefaultConfig() Config {
	return Config{
		AllowOrigins:   []string{"http://localhost:3000"},
		RatePerSecond:  10,
		RateBurst:      30,
		MetricsEnabled: true,
	}
}

// Handler holds the engine behind every route.
type Handler struct {
	engine *authcore.Engine
}

func NewHandler(engine *authcore.Engine) *Handler {
	return &Handler{engine: engine}
}

// NewRouter builds the gin engine with CORS, client context, throttling,
// health and metrics wired in.
func NewRouter(engine *authcore.Engine, cfg Config) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE"},
		AllowHeaders:     []string{"Origin", "Authorization", "Content-Type", "Content-Length", mw.SessionHeader},
		ExposeHeaders:    []string{"Content-Type", "Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	router.Use(mw.ClientContext())

	h := NewHandler(engine)
	router.GET("/healthz", h.health)
	if cfg.MetricsEnabled {
		router.GET("/metrics", gin.WrapH(prometheus.New(engine).Handler()))
	}

	auth := router.Group("/auth")
	if cfg.RatePerSecond > 0 && cfg.RateBurst > 0 {
		auth.Use(NewIPLimiter(cfg.RatePerSecond, cfg.RateBurst, 0).Middleware())
	}
	h.AddAuthAPI(auth)
	h.AddMFAAPI(auth)
	h.AddSessionAPI(auth)
	return router
}

func (h *Handler) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	rtt, err := h.engine.Ping(ctx)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "redisLatencyMs": rtt.Milliseconds()})
}
