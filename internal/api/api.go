// Package api provides the HTTP API server for drydock.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	v1 "drydock/internal/api/v1"
	internalconfig "drydock/internal/config"
	"drydock/internal/db"
	"drydock/internal/logging"
	"drydock/internal/services"
)

type Server struct {
	cfg        *internalconfig.Config
	db         db.Database
	httpServer *http.Server

	sync      *services.WorkspaceSyncService
	backups   *services.BackupService
	scheduler *services.BackupScheduler
	watcher   *services.WatcherService
	sessions  *services.SessionManager
}

func New(
	cfg *internalconfig.Config,
	database db.Database,
	syncService *services.WorkspaceSyncService,
	backups *services.BackupService,
	scheduler *services.BackupScheduler,
	watcher *services.WatcherService,
	sessions *services.SessionManager,
) *Server {
	return &Server{
		cfg:       cfg,
		db:        database,
		sync:      syncService,
		backups:   backups,
		scheduler: scheduler,
		watcher:   watcher,
		sessions:  sessions,
	}
}

// Start runs the HTTP server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())

	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	router.GET("/health", s.healthCheck)

	v1Group := router.Group("/api/v1")
	handlers := v1.NewAPIHandlers(s.sync, s.backups, s.scheduler, s.watcher, s.sessions)
	handlers.RegisterRoutes(v1Group)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.APIPort),
		Handler: router,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("API server error: %v", err)
		}
	}()
	logging.Info("API server listening on :%d", s.cfg.APIPort)

	<-ctx.Done()

	logging.Info("shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) healthCheck(c *gin.Context) {
	status := "healthy"
	if err := s.db.Conn().Ping(); err != nil {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  status,
		"service": "drydock-api",
	})
}
