package handler

import (
	"errors"
	"io"
	"net/http"

	"sparkdate/internal/domain/billing/processor"
	"sparkdate/internal/domain/billing/service"
	"sparkdate/pkg/response"
	"sparkdate/pkg/utils"

	"github.com/gin-gonic/gin"
)

// 回调载荷大小上限，防御异常请求。Stripe 事件（如多行项的
// invoice.payment_failed）可能远超 64KB，截断会导致验签失败
const maxWebhookBodyBytes = 1 << 20

// BillingHandler 订阅支付处理器
type BillingHandler struct {
	checkout service.CheckoutService
	webhook  service.WebhookService
}

func NewBillingHandler(checkout service.CheckoutService, webhook service.WebhookService) *BillingHandler {
	return &BillingHandler{checkout: checkout, webhook: webhook}
}

// CreateCheckoutSessionInput 下单输入
type CreateCheckoutSessionInput struct {
	PlanID          string `json:"planId" binding:"required"`
	Email           string `json:"email" binding:"required,email"`
	PromoCode       string `json:"promoCode"`
	DiscountPercent int    `json:"discountPercent" binding:"omitempty,min=1,max=99"`
}

// CreateCheckoutSession 创建支付会话
// @Summary 创建支付会话
// @Tags Billing
// @Router /billing/checkout-session [post]
func (h *BillingHandler) CreateCheckoutSession(c *gin.Context) {
	var input CreateCheckoutSessionInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	userID := utils.GetUserIDFromContext(c)
	if userID == "" {
		response.Error(c, http.StatusUnauthorized, response.ErrTokenInvalid, "User not authenticated")
		return
	}

	result, err := h.checkout.CreateCheckoutSession(c.Request.Context(),
		input.PlanID, userID, input.Email, input.PromoCode, input.DiscountPercent)
	if err != nil {
		if errors.Is(err, service.ErrUnknownPlan) {
			response.Error(c, http.StatusBadRequest, response.ErrPlanUnknown, "unknown plan")
			return
		}
		response.Error(c, http.StatusInternalServerError, response.ErrCheckoutFailed, "please try again")
		return
	}

	response.Success(c, result)
}

// Webhook 处理器回调入口。无鉴权中间件，安全性完全依赖验签。
// 200 确认消费（含幂等跳过），400 验签失败，500 让发送方重试
// @Summary 支付回调
// @Tags Billing
// @Router /billing/webhook [post]
func (h *BillingHandler) Webhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	signature := c.GetHeader("Stripe-Signature")

	if err := h.webhook.HandleEvent(c.Request.Context(), payload, signature); err != nil {
		if errors.Is(err, processor.ErrSignatureVerification) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "signature verification failed"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "processing failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
