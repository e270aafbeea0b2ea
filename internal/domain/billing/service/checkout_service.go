package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sparkdate/internal/domain/billing/processor"
	"sparkdate/internal/pkg/config"
	"sparkdate/pkg/logger"
	"sparkdate/pkg/metrics"

	"go.uber.org/zap"
)

// ErrUnknownPlan 套餐不存在或未配置处理器价格
var ErrUnknownPlan = errors.New("unknown plan")

// CheckoutResult 支付会话创建结果
// DiscountApplied=false 且请求带了折扣时表示降级：会话创建成功但折扣没挂上
type CheckoutResult struct {
	SessionID       string `json:"sessionId"`
	URL             string `json:"url"`
	DiscountApplied bool   `json:"discountApplied"`
}

// CheckoutService 支付会话工厂
type CheckoutService interface {
	CreateCheckoutSession(ctx context.Context, planID, userID, userEmail, promoCode string, discountPercent int) (*CheckoutResult, error)
}

// RedemptionMarker 折扣附加到会话后推进兑换流水状态
type RedemptionMarker interface {
	MarkRedemptionApplied(userID, promoCode string) error
}

type checkoutService struct {
	proc    processor.PaymentProcessor
	plans   map[string]config.PlanConfig
	marker  RedemptionMarker
	timeout time.Duration
}

func NewCheckoutService(proc processor.PaymentProcessor, plans map[string]config.PlanConfig,
	marker RedemptionMarker, timeout time.Duration) CheckoutService {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &checkoutService{proc: proc, plans: plans, marker: marker, timeout: timeout}
}

// CreateCheckoutSession 创建订阅支付会话。
// 对处理器的调用有超时上限，失败直接返回让用户重试，不挂起请求
func (s *checkoutService) CreateCheckoutSession(ctx context.Context, planID, userID, userEmail, promoCode string, discountPercent int) (*CheckoutResult, error) {
	plan, ok := s.plans[planID]
	if !ok || plan.PriceID == "" {
		return nil, ErrUnknownPlan
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	// promo code 进 metadata 与折扣对象是否创建成功无关：
	// 回调靠 metadata 找回 pending 流水
	params := processor.CheckoutParams{
		PriceID:         plan.PriceID,
		PlanID:          planID,
		UserID:          userID,
		UserEmail:       userEmail,
		PromoCode:       promoCode,
		DiscountPercent: discountPercent,
	}

	discountApplied := false
	if promoCode != "" && discountPercent > 0 && discountPercent < 100 {
		label := fmt.Sprintf("%s (%d%% off)", promoCode, discountPercent)
		couponID, err := s.proc.CreateSingleUseCoupon(ctx, discountPercent, label)
		if err != nil {
			// 折扣对象创建失败不阻塞下单，降级为无折扣会话
			logger.Log.Warn("coupon creation failed, proceeding without discount",
				zap.String("promo_code", promoCode),
				zap.String("user_id", userID),
				zap.Error(err))
		} else {
			params.CouponID = couponID
			discountApplied = true
		}
	}

	sess, err := s.proc.CreateCheckoutSession(ctx, params)
	if err != nil {
		metrics.CheckoutSessionsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	if promoCode != "" && !discountApplied {
		metrics.CheckoutSessionsTotal.WithLabelValues("degraded").Inc()
	} else {
		metrics.CheckoutSessionsTotal.WithLabelValues("ok").Inc()
	}

	// 折扣挂上后流水推进到 applied。失败只记录，回调闭环不依赖这一步
	if discountApplied && s.marker != nil {
		if err := s.marker.MarkRedemptionApplied(userID, promoCode); err != nil {
			logger.Log.Warn("failed to mark redemption applied",
				zap.String("user_id", userID),
				zap.String("promo_code", promoCode),
				zap.Error(err))
		}
	}

	return &CheckoutResult{
		SessionID:       sess.ID,
		URL:             sess.URL,
		DiscountApplied: discountApplied,
	}, nil
}
