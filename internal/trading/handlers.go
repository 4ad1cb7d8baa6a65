package trading

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/trustbank/trade-api/internal/auth"
	"github.com/trustbank/trade-api/pkg/response"
)

// GinHandlers contains HTTP handlers for trade endpoints.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// CreateTradeHandler handles POST requests to create and submit a trade
// against a previously issued quote. Requires a valid JWT and an
// Idempotency-Key header.
func (h *GinHandlers) CreateTradeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		idempotencyKey := c.GetHeader("Idempotency-Key")
		if idempotencyKey == "" {
			response.BadRequest(c, "Idempotency-Key header is required")
			return
		}

		userID := auth.UserIDFromContext(c)
		if userID == "" {
			response.Unauthorized(c, "Invalid user ID in token")
			return
		}

		var req CreateTradeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		trade, err := h.service.CreateTrade(c.Request.Context(), userID, &req, idempotencyKey)
		// A trade that failed payment still exists; return it alongside the
		// error mapping so the caller sees the terminal record.
		if err != nil {
			response.HandleWithData(c, trade, err)
			return
		}
		response.Success(c, trade)
	}
}

// GetTradeHandler handles GET requests for a single trade, scoped to the
// authenticated user.
func (h *GinHandlers) GetTradeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := auth.UserIDFromContext(c)
		if userID == "" {
			response.Unauthorized(c, "Invalid user ID in token")
			return
		}

		tradeID := c.Param("trade_id")
		if tradeID == "" {
			response.BadRequest(c, "Trade ID is required")
			return
		}

		trade, err := h.service.GetUserTrade(tradeID, userID)
		if err != nil || trade == nil {
			response.NotFound(c, "Trade not found")
			return
		}
		response.Success(c, trade)
	}
}

// ListTradesHandler handles GET requests for the user's trade history.
func (h *GinHandlers) ListTradesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := auth.UserIDFromContext(c)
		if userID == "" {
			response.Unauthorized(c, "Invalid user ID in token")
			return
		}

		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "25"))
		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

		trades, err := h.service.ListUserTrades(userID, limit, offset)
		response.Handle(c, trades, err)
	}
}
