package kyc

import (
	"github.com/gin-gonic/gin"
	"github.com/trustbank/trade-api/pkg/response"
)

// GinHandlers contains HTTP handlers for KYC endpoints.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// SetTierHandler handles internal POST requests recording the outcome of a
// verification review as the user's tier.
func (h *GinHandlers) SetTierHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("user_id")

		var req struct {
			Tier int `json:"tier" binding:"required,min=1,max=3"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		if err := h.service.SetTier(userID, req.Tier); err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, gin.H{"user_id": userID, "tier": req.Tier})
	}
}
