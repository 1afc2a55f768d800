package v1

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"drydock/internal/services"
)

type APIHandlers struct {
	sync      *services.WorkspaceSyncService
	backups   *services.BackupService
	scheduler *services.BackupScheduler
	watcher   *services.WatcherService
	sessions  *services.SessionManager
}

func NewAPIHandlers(
	sync *services.WorkspaceSyncService,
	backups *services.BackupService,
	scheduler *services.BackupScheduler,
	watcher *services.WatcherService,
	sessions *services.SessionManager,
) *APIHandlers {
	return &APIHandlers{
		sync:      sync,
		backups:   backups,
		scheduler: scheduler,
		watcher:   watcher,
		sessions:  sessions,
	}
}

func (h *APIHandlers) RegisterRoutes(group *gin.RouterGroup) {
	ws := group.Group("/workspaces/:owner_id")

	ws.GET("/status", h.getStatus)
	ws.DELETE("/session", h.closeSession)

	ws.GET("/files", h.listFiles)
	ws.GET("/file", h.readFile)
	ws.PUT("/file", h.writeFile)
	ws.DELETE("/file", h.deleteFile)
	ws.POST("/exec", h.execCommand)

	ws.POST("/upload", h.uploadFolder)
	ws.POST("/download", h.downloadFolder)

	ws.GET("/backup", h.getBackupInfo)
	ws.GET("/backup/tree", h.getBackupTree)
	ws.POST("/backup", h.backupNow)
	ws.POST("/backup/restore", h.restoreBackup)
	ws.DELETE("/backup", h.clearBackup)
	ws.PUT("/backup/file", h.upsertBackupFile)
	ws.DELETE("/backup/file", h.deleteBackupFile)
	ws.POST("/backup/schedule", h.startBackupSchedule)
	ws.DELETE("/backup/schedule", h.stopBackupSchedule)

	ws.POST("/watch", h.startWatch)
	ws.DELETE("/watch", h.stopWatch)
}

// respondError maps service errors onto HTTP statuses. Classification stays
// in the services package; this is only a translation table.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrSandboxDisabled):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "sandbox support is not enabled"})
	case errors.Is(err, services.ErrBackupInFlight):
		c.JSON(http.StatusConflict, gin.H{"error": "a backup is already running"})
	case errors.Is(err, services.ErrBackupTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
	default:
		switch services.ClassifySandboxError(err) {
		case services.KindNotFound:
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case services.KindUnavailable:
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		case services.KindTimeout:
			c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
	}
}
