package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/network-backup-manager/internal/backup"
	"github.com/yourusername/network-backup-manager/internal/backuperr"
	"github.com/yourusername/network-backup-manager/internal/logging"
	"github.com/yourusername/network-backup-manager/internal/scheduler"
	"github.com/yourusername/network-backup-manager/internal/service"
	"github.com/yourusername/network-backup-manager/internal/workerpool"
)

// statusFor maps a domain error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, scheduler.ErrBusy),
		errors.Is(err, backup.ErrInvalidTransition),
		errors.Is(err, backup.ErrSyncInProgress):
		return http.StatusConflict
	case errors.Is(err, scheduler.ErrStopped), errors.Is(err, workerpool.ErrFull):
		return http.StatusServiceUnavailable
	}

	switch backuperr.KindOf(err) {
	case backuperr.KindConfiguration:
		return http.StatusUnprocessableEntity
	case backuperr.KindConnectivity, backuperr.KindAuthentication, backuperr.KindExecution,
		backuperr.KindTransfer, backuperr.KindSync:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as JSON. Unclassified failures are logged and
// reported without detail.
func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	body := gin.H{"error": backuperr.Message(err)}

	if kind := backuperr.KindOf(err); kind != backuperr.KindUnknown {
		body["kind"] = kind
		if step := backuperr.StepOf(err); step > 0 {
			body["step"] = step
		}
	}

	if status == http.StatusInternalServerError {
		logging.Component("api").Error("request_failed", "path", c.FullPath(), "error", err)
		body = gin.H{"error": "internal error"}
	}

	_ = c.Error(err)
	c.AbortWithStatusJSON(status, body)
}

func badRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": message})
}
