package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"drydock/internal/services"
)

type writeFileRequest struct {
	Path    string `json:"path" binding:"required"`
	Content string `json:"content"`
}

type execRequest struct {
	Cmd            []string `json:"cmd" binding:"required"`
	Cwd            string   `json:"cwd"`
	TimeoutSeconds int      `json:"timeout_seconds"`
}

type localPathRequest struct {
	LocalPath string `json:"local_path" binding:"required"`
}

func (h *APIHandlers) getStatus(c *gin.Context) {
	status, err := h.sync.Status(c.Request.Context(), c.Param("owner_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *APIHandlers) closeSession(c *gin.Context) {
	if err := h.sessions.CloseSession(c.Request.Context(), c.Param("owner_id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"closed": true})
}

func (h *APIHandlers) listFiles(c *gin.Context) {
	entries, err := h.sync.ListFiles(c.Request.Context(), c.Param("owner_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": entries, "count": len(entries)})
}

func (h *APIHandlers) readFile(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path query parameter is required"})
		return
	}

	content, err := h.sync.ReadFile(c.Request.Context(), c.Param("owner_id"), path)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": path, "content": string(content)})
}

func (h *APIHandlers) writeFile(c *gin.Context) {
	var req writeFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path is required"})
		return
	}

	if err := h.sync.WriteFile(c.Request.Context(), c.Param("owner_id"), req.Path, []byte(req.Content)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": req.Path, "written": true})
}

func (h *APIHandlers) deleteFile(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path query parameter is required"})
		return
	}

	if err := h.sync.DeleteFile(c.Request.Context(), c.Param("owner_id"), path); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": path, "deleted": true})
}

func (h *APIHandlers) execCommand(c *gin.Context) {
	var req execRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Cmd) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cmd is required"})
		return
	}

	result, err := h.sync.Exec(c.Request.Context(), c.Param("owner_id"), services.ExecRequest{
		Cmd:            req.Cmd,
		Cwd:            req.Cwd,
		TimeoutSeconds: req.TimeoutSeconds,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"exit_code": result.ExitCode,
		"stdout":    result.Stdout,
		"stderr":    result.Stderr,
		"truncated": result.Truncated,
	})
}

func (h *APIHandlers) uploadFolder(c *gin.Context) {
	var req localPathRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "local_path is required"})
		return
	}

	result, err := h.sync.UploadFolder(c.Request.Context(), c.Param("owner_id"), req.LocalPath)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *APIHandlers) downloadFolder(c *gin.Context) {
	var req localPathRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "local_path is required"})
		return
	}

	result, err := h.sync.DownloadToLocal(c.Request.Context(), c.Param("owner_id"), req.LocalPath)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *APIHandlers) getBackupInfo(c *gin.Context) {
	info, err := h.backups.ReadInfo(c.Request.Context(), c.Param("owner_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if info == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no backup exists"})
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *APIHandlers) getBackupTree(c *gin.Context) {
	entries, err := h.backups.ListAsTree(c.Request.Context(), c.Param("owner_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

func (h *APIHandlers) backupNow(c *gin.Context) {
	if err := h.scheduler.BackupNow(c.Request.Context(), c.Param("owner_id")); err != nil {
		respondError(c, err)
		return
	}

	info, err := h.backups.ReadInfo(c.Request.Context(), c.Param("owner_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *APIHandlers) restoreBackup(c *gin.Context) {
	restored, err := h.sync.RestoreFromBackup(c.Request.Context(), c.Param("owner_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"restored": restored})
}

func (h *APIHandlers) clearBackup(c *gin.Context) {
	cleared, err := h.backups.Clear(c.Request.Context(), c.Param("owner_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if !cleared {
		c.JSON(http.StatusNotFound, gin.H{"error": "no backup exists"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": true})
}

func (h *APIHandlers) upsertBackupFile(c *gin.Context) {
	var req writeFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path is required"})
		return
	}

	if err := h.backups.UpsertFile(c.Request.Context(), c.Param("owner_id"), req.Path, req.Content); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": req.Path, "written": true})
}

func (h *APIHandlers) deleteBackupFile(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path query parameter is required"})
		return
	}

	deleted, err := h.backups.DeleteFile(c.Request.Context(), c.Param("owner_id"), path)
	if err != nil {
		respondError(c, err)
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "file not in backup"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": path, "deleted": true})
}

func (h *APIHandlers) startBackupSchedule(c *gin.Context) {
	if err := h.scheduler.Start(c.Param("owner_id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"scheduled": true})
}

func (h *APIHandlers) stopBackupSchedule(c *gin.Context) {
	h.scheduler.Stop(c.Param("owner_id"))
	c.JSON(http.StatusOK, gin.H{"scheduled": false})
}

func (h *APIHandlers) startWatch(c *gin.Context) {
	var req localPathRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "local_path is required"})
		return
	}

	started, err := h.watcher.StartWatching(c.Param("owner_id"), req.LocalPath)
	if err != nil {
		respondError(c, err)
		return
	}
	if !started {
		c.JSON(http.StatusBadRequest, gin.H{"error": "local_path does not exist or is not a directory"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"watching": true})
}

func (h *APIHandlers) stopWatch(c *gin.Context) {
	h.watcher.StopWatching(c.Param("owner_id"))
	c.JSON(http.StatusOK, gin.H{"watching": false})
}
