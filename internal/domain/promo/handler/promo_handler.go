package handler

import (
	"net/http"
	"time"

	"sparkdate/internal/domain/promo/service"
	"sparkdate/pkg/response"
	"sparkdate/pkg/utils"

	"github.com/gin-gonic/gin"
)

// PromoHandler 兑换码处理器
type PromoHandler struct {
	validator service.PromoValidator
	redeemer  service.PromoRedeemer
	creator   service.PromoCreator
}

func NewPromoHandler(validator service.PromoValidator, redeemer service.PromoRedeemer, creator service.PromoCreator) *PromoHandler {
	return &PromoHandler{validator: validator, redeemer: redeemer, creator: creator}
}

// ValidatePromoCode 预校验兑换码，纯读，结论不保证到兑换时仍然成立
// @Summary 校验兑换码
// @Tags Promo
// @Param code query string true "Promo code"
// @Param planId query string false "Plan ID"
// @Router /promos/validate [get]
func (h *PromoHandler) ValidatePromoCode(c *gin.Context) {
	code := c.Query("code")
	if code == "" {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, "code is required")
		return
	}
	planID := c.Query("planId")

	userID := utils.GetUserIDFromContext(c)
	if userID == "" {
		response.Error(c, http.StatusUnauthorized, response.ErrTokenInvalid, "User not authenticated")
		return
	}

	verdict, err := h.validator.Validate(code, userID, planID)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.ErrServerInternal, "please try again")
		return
	}

	if !verdict.Valid() {
		response.Success(c, gin.H{
			"isValid": false,
			"error":   string(verdict.Reason),
		})
		return
	}

	response.Success(c, gin.H{
		"isValid":         true,
		"discountPercent": verdict.DiscountPercent,
		"isFreeAccess":    verdict.FreeAccess,
	})
}

// ApplyPromoCodeInput 兑换输入
type ApplyPromoCodeInput struct {
	Code   string `json:"code" binding:"required"`
	PlanID string `json:"planId" binding:"required"`
}

// ApplyPromoCode 提交兑换
// @Summary 兑换
// @Tags Promo
// @Router /promos/apply [post]
func (h *PromoHandler) ApplyPromoCode(c *gin.Context) {
	var input ApplyPromoCodeInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	userID := utils.GetUserIDFromContext(c)
	if userID == "" {
		response.Error(c, http.StatusUnauthorized, response.ErrTokenInvalid, "User not authenticated")
		return
	}

	outcome, err := h.redeemer.Redeem(input.Code, userID, input.PlanID)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.ErrServerInternal, "please try again")
		return
	}

	if !outcome.Success {
		response.FailWithData(c, rejectCode(outcome.Reason), string(outcome.Reason), outcome)
		return
	}
	response.Success(c, outcome)
}

// CreatePromoCodeInput 管理端创建兑换码
type CreatePromoCodeInput struct {
	Code            string    `json:"code" binding:"required,min=3,max=64"`
	DiscountPercent int       `json:"discountPercent" binding:"required,min=1,max=100"`
	MaxUses         *int      `json:"maxUses" binding:"omitempty,min=1"`
	MaxUsesPerUser  int       `json:"maxUsesPerUser" binding:"omitempty,min=1"`
	ValidFrom       time.Time `json:"validFrom" binding:"required"`
	ValidUntil      time.Time `json:"validUntil" binding:"required"`
	ApplicablePlans []string  `json:"applicablePlans"`
}

// CreatePromoCode 管理员创建兑换码
// @Summary 创建兑换码
// @Tags Promo
// @Router /promos [post]
func (h *PromoHandler) CreatePromoCode(c *gin.Context) {
	var input CreatePromoCodeInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	if !input.ValidUntil.After(input.ValidFrom) {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, "validUntil must be after validFrom")
		return
	}

	if input.MaxUsesPerUser == 0 {
		input.MaxUsesPerUser = 1
	}

	promo, err := h.creator.CreatePromoCode(input.Code, input.DiscountPercent, input.MaxUses,
		input.MaxUsesPerUser, input.ValidFrom, input.ValidUntil, input.ApplicablePlans)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.ErrServerInternal, err.Error())
		return
	}
	response.Success(c, promo)
}

// rejectCode 校验失败原因到业务码的映射
func rejectCode(reason service.RejectReason) int {
	switch reason {
	case service.ReasonInactive:
		return response.ErrPromoInactive
	case service.ReasonNotStarted:
		return response.ErrPromoNotStarted
	case service.ReasonExpired:
		return response.ErrPromoExpired
	case service.ReasonExhausted:
		return response.ErrPromoExhausted
	case service.ReasonPlanMismatch:
		return response.ErrPromoPlanMismatch
	case service.ReasonAlreadyUsed:
		return response.ErrPromoAlreadyUsed
	default:
		return response.ErrPromoInvalid
	}
}
