package wallet

import (
	"github.com/gin-gonic/gin"
	"github.com/trustbank/trade-api/internal/auth"
	"github.com/trustbank/trade-api/pkg/response"
)

// GinHandlers contains HTTP handlers for wallet endpoints.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// GetWalletHandler handles GET requests for the caller's wallet in a
// currency.
func (h *GinHandlers) GetWalletHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := auth.UserIDFromContext(c)
		if userID == "" {
			response.Unauthorized(c, "Invalid user ID in token")
			return
		}

		currency := c.Param("currency")
		if currency == "" {
			response.BadRequest(c, "Currency is required")
			return
		}

		w, err := h.service.Get(userID, currency)
		response.Handle(c, w, err)
	}
}

// CreditHandler handles internal POST requests confirming a deposit into a
// user's wallet.
func (h *GinHandlers) CreditHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("user_id")

		var req struct {
			Currency string  `json:"currency" binding:"required"`
			Amount   float64 `json:"amount" binding:"required,gt=0"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		if err := h.service.Credit(userID, req.Currency, req.Amount); err != nil {
			response.Handle(c, nil, err)
			return
		}

		w, err := h.service.Get(userID, req.Currency)
		response.Handle(c, w, err)
	}
}
