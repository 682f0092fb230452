// Package httpapi wires the Gin transport of the promo bot: health and
// metrics endpoints, the Telegram webhook receiver and the admin API.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-promo-bot/internal/config"
	"github.com/tbourn/go-promo-bot/internal/http/handlers"
	"github.com/tbourn/go-promo-bot/internal/http/middleware"
	"github.com/tbourn/go-promo-bot/internal/repo"
)

// WebhookPath is where Telegram pushes updates in webhook mode.
const WebhookPath = "/telegram/webhook"

// Deps are the application components the routes dispatch to. Bot is only
// needed in webhook mode; Members may be nil when the roster is read-only.
type Deps struct {
	Promos    handlers.PromoService
	Sessions  handlers.SessionService
	Reminders handlers.ReminderService
	Members   handlers.MemberStore
	Bot       handlers.UpdateHandler
	DB        *gorm.DB // processed-update dedup; nil disables it
}

// RegisterRoutes attaches middleware and endpoints to r.
//
// Middleware order matters:
//  1. OpenTelemetry
//  2. RequestID
//  3. RedactingLogger
//  4. Recovery
//  5. Body size limiter
//  6. Metrics
//  7. CORS and security headers
//
// The webhook is mounted in webhook mode only and the admin group only when
// an admin token is configured. Admin requests are rate limited per client
// before authentication, then gzip-compressed.
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{}))
	r.Use(middleware.Recovery())
	r.Use(limitBody(1 << 20))

	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins)...)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      true,
		EnablePolicy: true,
	}))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	if cfg.Telegram.Mode == "webhook" && deps.Bot != nil {
		wh := handlers.NewWebhook(deps.Bot, cfg.Telegram.WebhookSecret, dedup(deps.DB, cfg.UpdateDedupTTL))
		r.POST(WebhookPath, wh.Receive)
	}

	if cfg.AdminToken == "" {
		return
	}
	h := handlers.New(deps.Promos, deps.Sessions, deps.Reminders, deps.Members)
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())

	api := groupWithPrefix(r, cfg.APIBasePath)
	api.Use(rl.Handler(), middleware.AdminAuth(cfg.AdminToken), gzip.Gzip(gzip.DefaultCompression))
	{
		api.GET("/promos/:phone", h.GetPromo)
		api.GET("/stats", h.Stats)
		api.GET("/users", h.ListUsers)
		api.POST("/members", h.AddMember)
		api.POST("/reminders/run", h.RunReminders)
	}
}

// dedup claims update ids in the processed_updates table.
func dedup(db *gorm.DB, ttl time.Duration) handlers.ClaimFunc {
	if db == nil {
		return nil
	}
	return func(ctx context.Context, updateID, chatID int64) (bool, error) {
		return repo.MarkUpdateProcessed(ctx, db, updateID, chatID, ttl, time.Now().UTC())
	}
}

// corsMiddleware allows every origin when none is configured, otherwise only
// the allowlist, echoing the matching Origin.
func corsMiddleware(origins []string) []gin.HandlerFunc {
	base := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"X-Request-ID", "Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 {
		base.AllowAllOrigins = true
		return []gin.HandlerFunc{
			// ACAO: * even without an Origin header, for plain health probes.
			func(c *gin.Context) {
				c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
				c.Next()
			},
			cors.New(base),
		}
	}

	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	base.AllowOrigins = origins
	return []gin.HandlerFunc{
		func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		},
		cors.New(base),
	}
}

// limitBody caps request bodies at maxBytes.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
