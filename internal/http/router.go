// Package httpapi wires the HTTP transport (Gin) to the webhook pipeline,
// the scheduled-job services, and the admin endpoints. It centralizes
// cross-cutting concerns: tracing, correlation IDs, structured logging,
// panic recovery, metrics, signature verification, security headers, and
// rate limiting.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate the correlation id
//  3. Logger: structured access logs
//  4. Recovery: panics become JSON 500s
//  5. Metrics
//  6. Rate limiter (webhook route excluded, the platform sets the pace)
//  7. Security headers
//
// The webhook POST route additionally runs VerifySignature so handlers only
// ever see authenticated bodies.
package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-wa-backend/internal/agent"
	"github.com/tbourn/go-wa-backend/internal/blob"
	"github.com/tbourn/go-wa-backend/internal/config"
	"github.com/tbourn/go-wa-backend/internal/http/handlers"
	"github.com/tbourn/go-wa-backend/internal/http/middleware"
	"github.com/tbourn/go-wa-backend/internal/services"
	"github.com/tbourn/go-wa-backend/internal/webhook"
	"github.com/tbourn/go-wa-backend/internal/whats"
)

// Deps bundles the collaborators the router needs. All fields are required
// except Blob, which media handling degrades without only if no media
// messages arrive.
type Deps struct {
	DB      *gorm.DB
	Gateway *whats.Client
	Agent   agent.Agent
	Blob    blob.Store
}

// RegisterRoutes attaches all middleware and endpoints to the Gin engine.
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured access logging
	r.Use(middleware.Logger())

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Security headers
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{NoStore: true}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// Dependency injection: services ← repo/db/gateway
	convSvc := services.NewConversationService(deps.DB, deps.Gateway, deps.Agent, deps.Blob)
	convSvc.HistoryLimit = cfg.HistoryLimit
	dispatcher := services.NewDispatcher(deps.DB, convSvc)
	jobSvc := services.NewJobService(deps.DB)

	// Webhook surface. The platform paces deliveries, so the rate limiter is
	// not applied here; the signature gate is the authentication.
	wh := &handlers.WebhookHandler{
		Tokens: deps.Gateway,
		Dispatch: func(ctx context.Context, p webhook.Payload) error {
			return dispatcher.Dispatch(ctx, p)
		},
	}
	// The platform is pointed at the root path; /webhook is an alias so the
	// callback URL can live behind path-based ingress routing.
	verify := middleware.VerifySignature(cfg.WhatsApp.AppSecret)
	r.GET("/", wh.Subscribe)
	r.POST("/", verify, wh.Receive)
	r.GET("/webhook", wh.Subscribe)
	r.POST("/webhook", verify, wh.Receive)

	// Operator API, rate limited per client IP.
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByClientIP())
	admin := handlers.NewAdmin(deps.DB, jobSvc)
	api := groupWithPrefix(r, cfg.APIBasePath)
	api.Use(rl.Handler())
	{
		api.GET("/conversations/:sender/turns", admin.ListTurns)

		api.POST("/jobs", admin.CreateJob)
		api.GET("/jobs", admin.ListJobs)
		api.GET("/jobs/:owner/:idx", admin.GetJob)
		api.DELETE("/jobs/:owner/:idx", admin.DeleteJob)
	}
}

// limitBody caps the request body size for all endpoints using
// http.MaxBytesReader; oversized bodies error on read downstream.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" || prefix == "/" {
		return r.Group("/")
	}
	return r.Group(prefix)
}
