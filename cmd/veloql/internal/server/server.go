// Package server exposes a runtime over HTTP.
//
//	POST /graphql          queries and mutations, JSON or multipart uploads
//	GET  /graphql          queries from URL parameters
//	GET  /graphql/stream   subscriptions as server-sent events
//	GET  /graphql/schema   the SDL of the API
//	GET  /playground       the GraphQL playground
//	GET  /files/*key       file downloads
//	GET  /metrics          prometheus metrics
//	GET  /healthz          liveness
//
// The runtime can be swapped while serving, e.g. after a model reload.
package server

import (
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/99designs/gqlgen/graphql/playground"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/syssam/veloql/engine"
	"github.com/syssam/veloql/privacy"
)

// Viewer headers. A trusted proxy in front of the server authenticates the
// caller and forwards the identity.
const (
	HeaderUserID = "X-Veloql-User"
	HeaderRoles  = "X-Veloql-Roles"
	HeaderTenant = "X-Veloql-Tenant"
)

type (
	// Server serves the current runtime.
	Server struct {
		current  atomic.Pointer[state]
		base     prometheus.Gatherer
		origins  []string
		filesURL string
		log      *zap.Logger
	}

	state struct {
		rt  *engine.Runtime
		reg *prometheus.Registry
	}

	// Option configures a server.
	Option func(*Server)
)

// WithOrigins sets the allowed CORS origins. "*" allows any origin.
func WithOrigins(origins ...string) Option {
	return func(s *Server) {
		s.origins = origins
	}
}

// WithFilesURL sets the path prefix of file downloads. It must match the
// prefix the runtime renders into file URLs.
func WithFilesURL(prefix string) Option {
	return func(s *Server) {
		s.filesURL = prefix
	}
}

// WithGatherer adds process level metrics to /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.base = g
	}
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Server) {
		s.log = log
	}
}

// New returns a server of rt. reg holds the metrics of rt and may be nil.
func New(rt *engine.Runtime, reg *prometheus.Registry, opts ...Option) *Server {
	s := &Server{
		origins:  []string{"*"},
		filesURL: "/files",
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.Swap(rt, reg)
	return s
}

// Swap replaces the served runtime. Requests in flight finish on the
// previous one.
func (s *Server) Swap(rt *engine.Runtime, reg *prometheus.Registry) {
	s.current.Store(&state{rt: rt, reg: reg})
}

// Runtime returns the served runtime.
func (s *Server) Runtime() *engine.Runtime {
	return s.current.Load().rt
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), s.logRequests(), s.cors(), viewer())

	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/playground", gin.WrapF(playground.Handler("veloql", "/graphql")))
	r.POST("/graphql", s.query)
	r.GET("/graphql", s.query)
	r.GET("/graphql/stream", s.stream)
	r.POST("/graphql/stream", s.stream)
	r.GET("/graphql/schema", s.sdl)
	r.GET(strings.TrimSuffix(s.filesURL, "/")+"/*key", s.file)
	r.GET("/metrics", s.metrics)
	return r
}

func (s *Server) cors() gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Authorization", "Content-Type", HeaderUserID, HeaderRoles, HeaderTenant},
		ExposeHeaders: []string{"Content-Disposition"},
		MaxAge:        12 * time.Hour,
	}
	for _, o := range s.origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
		}
	}
	if !cfg.AllowAllOrigins {
		cfg.AllowOrigins = s.origins
		cfg.AllowCredentials = true
	}
	return cors.New(cfg)
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)))
	}
}

// viewer puts the identity forwarded in the viewer headers into the
// request context.
func viewer() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderUserID)
		if id == "" {
			c.Next()
			return
		}
		var roles []string
		for _, r := range strings.Split(c.GetHeader(HeaderRoles), ",") {
			if r = strings.TrimSpace(r); r != "" {
				roles = append(roles, r)
			}
		}
		ctx := privacy.WithViewer(c.Request.Context(), &privacy.SimpleViewer{
			UserID:   id,
			Roles:    roles,
			TenantID: c.GetHeader(HeaderTenant),
		})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func (s *Server) sdl(c *gin.Context) {
	c.String(http.StatusOK, s.Runtime().Schema().SDL())
}

func (s *Server) metrics(c *gin.Context) {
	st := s.current.Load()
	var gs prometheus.Gatherers
	if s.base != nil {
		gs = append(gs, s.base)
	}
	if st.reg != nil {
		gs = append(gs, st.reg)
	}
	promhttp.HandlerFor(gs, promhttp.HandlerOpts{}).ServeHTTP(c.Writer, c.Request)
}
