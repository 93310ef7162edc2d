// Package api exposes collected survey data over a read-only HTTP API:
// session listings, per-session wifi overviews, and spatial queries
// against the local wifi catalog.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/openbmap/radiobeacon-core/internal/catalog"
	"github.com/openbmap/radiobeacon-core/internal/model"
	"github.com/openbmap/radiobeacon-core/internal/storage"
)

// SessionReader is the slice of the persistence layer the API serves from.
type SessionReader interface {
	Sessions(ctx context.Context) ([]model.Session, error)
	SessionByID(ctx context.Context, id int64) (model.Session, error)
	WifiOverview(ctx context.Context, sessionID int64) ([]storage.WifiOverviewEntry, error)
}

// CatalogQuerier answers spatial queries against the wifi catalog.
type CatalogQuerier interface {
	Enabled() bool
	QueryBounds(ctx context.Context, bbox catalog.BoundingBox, maxResults int, grouped bool) ([]catalog.Point, error)
	Size(ctx context.Context) (int64, error)
}

// Dependencies holds everything needed to build the router.
type Dependencies struct {
	Sessions SessionReader
	Catalog  CatalogQuerier
	Logger   *slog.Logger
}

// requestIDMiddleware tags every request with an id for log correlation.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("RequestID", requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

// NewRouter creates a gin router with all read endpoints configured.
func NewRouter(deps Dependencies) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	sessions := newSessionHandler(deps.Sessions)
	cat := newCatalogHandler(deps.Catalog)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/sessions", sessions.list)
		v1.GET("/sessions/:id", sessions.get)
		v1.GET("/sessions/:id/wifis/overview", sessions.wifiOverview)
		v1.GET("/catalog", cat.info)
		v1.GET("/catalog/query", cat.query)
	}

	return router
}

// Server wraps the router in an http.Server with sane timeouts.
type Server struct {
	addr   string
	router *gin.Engine
	logger *slog.Logger
}

// NewServer builds a server listening on addr.
func NewServer(addr string, deps Dependencies) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:   addr,
		router: NewRouter(deps),
		logger: logger,
	}
}

// Run serves until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api server listening", "address", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
