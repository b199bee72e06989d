package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/network-backup-manager/internal/backuperr"
	"github.com/yourusername/network-backup-manager/internal/models"
	"github.com/yourusername/network-backup-manager/internal/service"
)

// EquipmentHandler handles equipment requests
type EquipmentHandler struct {
	orch             *service.Orchestrator
	defaultRetention int
}

// NewEquipmentHandler creates a new equipment handler
func NewEquipmentHandler(orch *service.Orchestrator, defaultRetention int) *EquipmentHandler {
	return &EquipmentHandler{orch: orch, defaultRetention: defaultRetention}
}

// RegisterRoutes registers equipment routes
func (h *EquipmentHandler) RegisterRoutes(group *gin.RouterGroup) {
	equipment := group.Group("/equipment")
	{
		equipment.GET("", h.List)
		equipment.POST("", h.Create)
		equipment.GET("/:id", h.Get)
		equipment.PUT("/:id", h.Update)
		equipment.DELETE("/:id", h.Delete)
		equipment.POST("/:id/test-connectivity", h.TestConnectivity)
		equipment.POST("/:id/backup", h.ExecuteBackup)
		equipment.GET("/:id/backups", h.ListBackups)
		equipment.GET("/:id/retention", h.Retention)
	}
}

// List returns every equipment
func (h *EquipmentHandler) List(c *gin.Context) {
	states, err := h.orch.ListEquipment(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	out := make([]*service.EquipmentState, 0, len(states))
	for _, st := range states {
		out = append(out, redact(st))
	}
	c.JSON(http.StatusOK, gin.H{"equipment": out})
}

// Get returns one equipment
func (h *EquipmentHandler) Get(c *gin.Context) {
	st, err := h.orch.GetEquipment(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, redact(st))
}

// Create registers a new equipment. A refused schedule is reported next to
// the stored equipment.
func (h *EquipmentHandler) Create(c *gin.Context) {
	var req models.Equipment
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	req.ID = ""

	st, err := h.orch.CreateEquipment(c.Request.Context(), &req)
	if err != nil {
		if st == nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"equipment": redact(st), "schedule_error": backuperr.Message(err)})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"equipment": redact(st)})
}

// Update replaces the configuration of an equipment. Omitted secrets keep
// their stored values.
func (h *EquipmentHandler) Update(c *gin.Context) {
	var req models.Equipment
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	req.ID = c.Param("id")

	st, err := h.orch.UpdateEquipmentConfig(c.Request.Context(), &req)
	if err != nil {
		if st == nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"equipment": redact(st), "schedule_error": backuperr.Message(err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"equipment": redact(st)})
}

// Delete removes an equipment and its job
func (h *EquipmentHandler) Delete(c *gin.Context) {
	if err := h.orch.DeleteEquipment(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// TestConnectivity runs a ping and handshake
func (h *EquipmentHandler) TestConnectivity(c *gin.Context) {
	report, err := h.orch.TestConnectivity(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// ExecuteBackup runs a backup now and waits for the artifact
func (h *EquipmentHandler) ExecuteBackup(c *gin.Context) {
	b, err := h.orch.ExecuteBackupNow(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, b)
}

// ListBackups lists the active artifacts of an equipment
func (h *EquipmentHandler) ListBackups(c *gin.Context) {
	backups, err := h.orch.ListBackups(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"backups": backups})
}

// Retention previews the retention policy for an equipment
func (h *EquipmentHandler) Retention(c *gin.Context) {
	keep := h.defaultRetention
	if raw := c.Query("keep"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			badRequest(c, "keep must be a positive integer")
			return
		}
		keep = n
	}

	stats, err := h.orch.RetentionStats(c.Request.Context(), c.Param("id"), keep)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// redact strips credentials before an equipment leaves the API.
func redact(st *service.EquipmentState) *service.EquipmentState {
	if st == nil || st.Equipment == nil {
		return st
	}
	e := *st.Equipment
	e.SSH.Password = ""
	e.SSH.PrivateKey = ""
	e.HTTP.Password = ""
	return &service.EquipmentState{Equipment: &e, Job: st.Job, Profile: st.Profile}
}
