package api

import (
	"errors"
	"net/http"
	"time"

	"entitlement-api/internal/response"
	"entitlement-api/internal/services"
	"entitlement-api/pkg/logging"

	"github.com/gin-gonic/gin"
)

// AppStoreNotification handles App Store Server Notifications V2
func (h *Handler) AppStoreNotification(c *gin.Context) {
	if c.Request.Method != http.MethodPost {
		c.Header("Allow", http.MethodPost)
		response.ErrorJSON(c, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	startTime := time.Now()

	body, err := c.GetRawData()
	if err != nil {
		logging.Errorf("Failed to read request body: %v", err)
		response.ErrorJSON(c, http.StatusBadRequest, "Failed to read request body")
		return
	}
	if len(body) == 0 {
		response.ErrorJSON(c, http.StatusBadRequest, "Empty request body")
		return
	}

	result, err := h.Notifications.Process(c.Request.Context(), body)
	if err != nil {
		status, message := notificationErrorResponse(err)
		logging.Errorf("App Store notification failed - status: %d, error: %v", status, err)
		response.ErrorJSON(c, status, message)
		return
	}

	logging.Infof("App Store notification processed - type: %s, result: %s, matched: %d, duration: %v",
		result.NotificationType, result.Message, result.Matched, time.Since(startTime))
	response.SuccessJSON(c, result)
}

// notificationErrorResponse keeps verification details out of the response body.
func notificationErrorResponse(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrSignatureInvalid):
		return http.StatusUnauthorized, "Signature verification failed"
	case errors.Is(err, services.ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable, "Signature verification unavailable"
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest, services.Message(err, "Invalid notification format")
	default:
		return http.StatusInternalServerError, "Failed to process notification"
	}
}
