package reconciler

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/trustbank/trade-api/internal/types"
	"github.com/trustbank/trade-api/pkg/response"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw webhook body.
const SignatureHeader = "X-Exchange-Signature"

// GinHandlers contains HTTP handlers for reconciliation endpoints.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// WebhookHandler handles signed status notifications from the exchange.
// Responses: 200 on idempotent success, 401 on signature failure, 400 on a
// malformed body. Unknown references return 200 so the provider stops
// retrying a delivery we can never apply; the drop is logged server-side.
func (h *GinHandlers) WebhookHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := c.GetRawData()
		if err != nil {
			response.BadRequest(c, "unreadable body")
			return
		}

		err = h.service.HandleWebhook(raw, c.GetHeader(SignatureHeader))
		switch {
		case err == nil:
			response.Success(c, gin.H{"received": true})
		case errors.Is(err, types.ErrSignatureInvalid):
			response.Unauthorized(c, "invalid webhook signature")
		case errors.Is(err, ErrMalformedPayload):
			response.BadRequest(c, err.Error())
		case errors.Is(err, types.ErrUnknownReference):
			response.Success(c, gin.H{"received": true, "applied": false})
		default:
			response.Handle(c, nil, err)
		}
	}
}

// ReconcileTradeHandler handles internal POST requests forcing one poll
// cycle for a trade.
func (h *GinHandlers) ReconcileTradeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tradeID := c.Param("trade_id")

		trade, err := h.service.trades.GetTrade(tradeID)
		if err != nil || trade == nil {
			response.NotFound(c, "Trade not found")
			return
		}

		if err := h.service.PollOnce(c.Request.Context(), trade); err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, trade)
	}
}
