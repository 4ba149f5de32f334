// Package httpapi exposes health, the probe journal and metrics over HTTP.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"resilience/internal/journal"
)

// Journal is the read side of the probe journal.
type Journal interface {
	Recent(ctx context.Context, target string, limit int) ([]journal.Entry, error)
	Ping(ctx context.Context) error
}

// Options configure the router.
type Options struct {
	Journal Journal
	Metrics http.Handler
	Logger  *slog.Logger
	// Mode is passed to gin.SetMode; defaults to release.
	Mode string
}

const maxLimit = 1000

// NewRouter builds the gin engine.
func NewRouter(o Options) *gin.Engine {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Mode == "" {
		o.Mode = gin.ReleaseMode
	}
	gin.SetMode(o.Mode)

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(o.Logger))

	h := &handlers{journal: o.Journal, log: o.Logger}
	r.GET("/healthz", h.health)
	r.GET("/probes", h.probes)
	if o.Metrics != nil {
		r.GET("/metrics", gin.WrapH(o.Metrics))
	}
	return r
}

func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		st := time.Now()
		c.Next()
		log.Debug("http api request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("dur", time.Since(st)))
	}
}

type handlers struct {
	journal Journal
	log     *slog.Logger
}

func (h *handlers) health(c *gin.Context) {
	if h.journal != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.journal.Ping(ctx); err != nil {
			h.log.Warn("health check failed", "err", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handlers) probes(c *gin.Context) {
	if h.journal == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "journal disabled"})
		return
	}
	limit := 100
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxLimit)
	}

	entries, err := h.journal.Recent(c.Request.Context(), c.Query("target"), limit)
	if err != nil {
		h.log.Error("journal query failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "journal unavailable"})
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}
