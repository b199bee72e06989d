package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/network-backup-manager/internal/models"
	"github.com/yourusername/network-backup-manager/internal/service"
)

// ProviderHandler handles storage provider requests
type ProviderHandler struct {
	orch *service.Orchestrator
}

// NewProviderHandler creates a new provider handler
func NewProviderHandler(orch *service.Orchestrator) *ProviderHandler {
	return &ProviderHandler{orch: orch}
}

// RegisterRoutes registers provider routes
func (h *ProviderHandler) RegisterRoutes(group *gin.RouterGroup) {
	providers := group.Group("/providers")
	{
		providers.GET("", h.List)
		providers.POST("", h.Create)
		providers.PUT("/:id", h.Update)
		providers.DELETE("/:id", h.Delete)
	}
}

// List returns providers without their configs, which hold secrets
func (h *ProviderHandler) List(c *gin.Context) {
	list, err := h.orch.ListProviders(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	out := make([]models.Provider, 0, len(list))
	for _, p := range list {
		out = append(out, models.Provider{ID: p.ID, Name: p.Name, Type: p.Type, IsActive: p.IsActive})
	}
	c.JSON(http.StatusOK, gin.H{"providers": out})
}

// Create stores a new provider
func (h *ProviderHandler) Create(c *gin.Context) {
	var req models.Provider
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	req.ID = ""

	if err := h.orch.SaveProvider(c.Request.Context(), &req); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": req.ID})
}

// Update replaces a provider's config
func (h *ProviderHandler) Update(c *gin.Context) {
	var req models.Provider
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	req.ID = c.Param("id")

	if err := h.orch.SaveProvider(c.Request.Context(), &req); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": req.ID})
}

// Delete removes a provider
func (h *ProviderHandler) Delete(c *gin.Context) {
	if err := h.orch.DeleteProvider(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
