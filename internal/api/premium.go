package api

import (
	"errors"
	"net/http"

	"entitlement-api/internal/middleware"
	"entitlement-api/internal/response"
	"entitlement-api/internal/services"
	"entitlement-api/pkg/logging"

	"github.com/gin-gonic/gin"
)

// SetPremium verifies a receipt and grants premium, or clears it when isPremium is false
func (h *Handler) SetPremium(c *gin.Context) {
	userID := middleware.UserID(c)

	var req services.PremiumStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, "Invalid request format: "+err.Error())
		return
	}

	result, err := h.Entitlements.SetPremiumStatus(c.Request.Context(), userID, req)
	if err != nil {
		status := premiumErrorStatus(err)
		if status >= http.StatusInternalServerError {
			logging.Errorf("Failed to set premium status - user: %s, error: %v", userID, err)
		} else {
			logging.Infof("Premium status rejected - user: %s, error: %v", userID, err)
		}
		response.ErrorJSON(c, status, services.Message(err, "Failed to update premium status"))
		return
	}

	response.SuccessJSON(c, result)
}

// GetPremium returns the stored entitlement of the current user
func (h *Handler) GetPremium(c *gin.Context) {
	userID := middleware.UserID(c)

	entitlement, err := h.Entitlements.GetEntitlement(c.Request.Context(), userID)
	if err != nil {
		logging.Errorf("Failed to load entitlement - user: %s, error: %v", userID, err)
		response.ErrorJSON(c, http.StatusInternalServerError, "Failed to load premium status")
		return
	}

	response.SuccessJSON(c, entitlement)
}

// DeleteAccount deletes the current user together with the entitlement
func (h *Handler) DeleteAccount(c *gin.Context) {
	userID := middleware.UserID(c)

	if err := h.Entitlements.DeleteAccount(c.Request.Context(), userID); err != nil {
		logging.Errorf("Failed to delete account - user: %s, error: %v", userID, err)
		response.ErrorJSON(c, http.StatusInternalServerError, "Failed to delete account")
		return
	}

	response.SuccessJSON(c, gin.H{"deleted": true})
}

func premiumErrorStatus(err error) int {
	switch {
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrSubscriptionExpired):
		return http.StatusPaymentRequired
	case errors.Is(err, services.ErrReceiptRejected),
		errors.Is(err, services.ErrNoActiveSubscription),
		errors.Is(err, services.ErrMissingExpiration):
		return http.StatusUnprocessableEntity
	case errors.Is(err, services.ErrUpstreamUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
