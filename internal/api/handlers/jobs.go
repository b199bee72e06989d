package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/network-backup-manager/internal/schedule"
	"github.com/yourusername/network-backup-manager/internal/service"
)

// JobHandler handles job and schedule requests
type JobHandler struct {
	orch *service.Orchestrator
}

// NewJobHandler creates a new job handler
func NewJobHandler(orch *service.Orchestrator) *JobHandler {
	return &JobHandler{orch: orch}
}

type cronRequest struct {
	Pattern string `json:"pattern" binding:"required"`
}

// RegisterRoutes registers job and schedule routes
func (h *JobHandler) RegisterRoutes(group *gin.RouterGroup) {
	jobs := group.Group("/jobs")
	{
		jobs.GET("", h.List)
		jobs.GET("/status", h.Status)
		jobs.POST("/:id/pause", h.Pause)
		jobs.POST("/:id/resume", h.Resume)
		jobs.POST("/:id/run", h.RunNow)
	}

	schedules := group.Group("/schedules")
	{
		schedules.POST("/validate", h.ValidateCron)
		schedules.POST("/from-friendly", h.FromFriendly)
	}
}

// List returns every job
func (h *JobHandler) List(c *gin.Context) {
	jobs, err := h.orch.ListJobs(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

// Status reports scheduler capacity and recent activity
func (h *JobHandler) Status(c *gin.Context) {
	status, err := h.orch.Status(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// Pause stops future runs of a job
func (h *JobHandler) Pause(c *gin.Context) {
	job, err := h.orch.PauseJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// Resume re-enables a job
func (h *JobHandler) Resume(c *gin.Context) {
	job, err := h.orch.ResumeJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// RunNow dispatches a job without waiting for it
func (h *JobHandler) RunNow(c *gin.Context) {
	if err := h.orch.RunJobNow(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "dispatched"})
}

// ValidateCron checks a pattern and previews its next runs
func (h *JobHandler) ValidateCron(c *gin.Context) {
	var req cronRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "pattern is required")
		return
	}
	c.JSON(http.StatusOK, h.orch.ValidateCronPattern(req.Pattern))
}

// FromFriendly converts a daily, weekly or monthly schedule to cron
func (h *JobHandler) FromFriendly(c *gin.Context) {
	var req schedule.Friendly
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	pattern, err := schedule.ToCron(req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.orch.ValidateCronPattern(pattern))
}
