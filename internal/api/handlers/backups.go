package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/network-backup-manager/internal/history"
	"github.com/yourusername/network-backup-manager/internal/service"
)

// BackupHandler handles backup artifact requests
type BackupHandler struct {
	orch *service.Orchestrator
}

// NewBackupHandler creates a new backup handler
func NewBackupHandler(orch *service.Orchestrator) *BackupHandler {
	return &BackupHandler{orch: orch}
}

type syncRequest struct {
	ProviderID string `json:"provider_id"`
}

// RegisterRoutes registers backup routes
func (h *BackupHandler) RegisterRoutes(group *gin.RouterGroup) {
	backups := group.Group("/backups")
	{
		backups.GET("/:id", h.Get)
		backups.GET("/:id/download", h.Download)
		backups.POST("/:id/verify", h.Verify)
		backups.POST("/:id/sync", h.Sync)
		backups.DELETE("/:id", h.Delete)
	}

	group.GET("/history", h.History)
	group.GET("/profiles", h.Profiles)
}

// Get returns an artifact record
func (h *BackupHandler) Get(c *gin.Context) {
	b, err := h.orch.GetBackup(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

// Download streams the stored configuration file
func (h *BackupHandler) Download(c *gin.Context) {
	data, b, err := h.orch.DownloadBackup(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", b.FileName))
	c.Header("X-Checksum-SHA256", b.Checksum)
	c.Data(http.StatusOK, "application/octet-stream", data)
}

// Verify recomputes the checksum of an artifact
func (h *BackupHandler) Verify(c *gin.Context) {
	res, err := h.orch.VerifyBackup(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Sync copies an artifact to a secondary provider
func (h *BackupHandler) Sync(c *gin.Context) {
	var req syncRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid request body")
			return
		}
	}

	b, err := h.orch.TriggerSync(c.Request.Context(), c.Param("id"), req.ProviderID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

// Delete removes an artifact from its primary provider
func (h *BackupHandler) Delete(c *gin.Context) {
	if err := h.orch.DeleteBackup(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// History lists ledger records
func (h *BackupHandler) History(c *gin.Context) {
	filter := history.Filter{
		SubjectID: c.Query("subject_id"),
		Action:    c.Query("action"),
		Status:    c.Query("status"),
		Limit:     100,
	}
	if raw := c.Query("limit"); raw != "" {
		var limit int
		if _, err := fmt.Sscanf(raw, "%d", &limit); err != nil || limit < 1 || limit > 1000 {
			badRequest(c, "limit must be between 1 and 1000")
			return
		}
		filter.Limit = limit
	}

	records, err := h.orch.History(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": records})
}

// Profiles lists vendor profiles in resolution order
func (h *BackupHandler) Profiles(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"profiles": h.orch.Profiles()})
}
