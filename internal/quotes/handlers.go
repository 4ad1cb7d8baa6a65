package quotes

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/trustbank/trade-api/internal/types"
	"github.com/trustbank/trade-api/pkg/response"
)

// GinHandlers contains HTTP handlers for quote endpoints.
type GinHandlers struct {
	provider *Provider
}

func NewGinHandlers(provider *Provider) *GinHandlers {
	return &GinHandlers{
		provider: provider,
	}
}

// GetQuoteHandler handles GET requests for a rate quote.
// Query parameters: pair, side, volume.
func (h *GinHandlers) GetQuoteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		pair := c.Query("pair")
		side := types.TradeSide(c.Query("side"))
		volume, err := strconv.ParseFloat(c.Query("volume"), 64)
		if err != nil {
			response.BadRequest(c, "volume must be a number")
			return
		}

		quote, err := h.provider.GetQuote(c.Request.Context(), pair, side, volume)
		response.Handle(c, quote, err)
	}
}
