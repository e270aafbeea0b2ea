package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sparkdate/internal/domain/billing/processor"
	userModel "sparkdate/internal/domain/user/model"
	"sparkdate/internal/pkg/config"
	"sparkdate/internal/pkg/push"
	"sparkdate/pkg/logger"
	"sparkdate/pkg/metrics"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// EntitlementStore 回调处理需要的权益读写。每个写方法只动自己
// 拥有的字段，user repository 满足该接口
type EntitlementStore interface {
	GetByID(id string) (*userModel.User, error)
	GetByPremiumSubscriptionID(subscriptionID string) (*userModel.User, error)
	ActivateSubscription(userID, planID, subscriptionID string, expiresAt, syncedAt time.Time) error
	RefreshSubscription(userID string, expiresAt, syncedAt time.Time) error
	LapseSubscription(userID string, syncedAt time.Time) error
	RevokeSubscription(userID string, syncedAt time.Time) error
}

// RedemptionResolver 支付确认后推进 pending 兑换流水
type RedemptionResolver interface {
	ResolvePendingRedemption(userID, promoCode string) error
}

// WebhookService 回调对账：把处理器的异步事件幂等地应用到权益上
type WebhookService interface {
	// HandleEvent 验签失败返回 processor.ErrSignatureVerification；
	// 其他错误表示瞬时失败，调用方应让传输层重试
	HandleEvent(ctx context.Context, payload []byte, signatureHeader string) error
}

type webhookService struct {
	proc     processor.PaymentProcessor
	deduper  EventDeduper
	users    EntitlementStore
	resolver RedemptionResolver
	plans    map[string]config.PlanConfig
}

func NewWebhookService(proc processor.PaymentProcessor, deduper EventDeduper,
	users EntitlementStore, resolver RedemptionResolver, plans map[string]config.PlanConfig) WebhookService {
	return &webhookService{
		proc:     proc,
		deduper:  deduper,
		users:    users,
		resolver: resolver,
		plans:    plans,
	}
}

func (s *webhookService) HandleEvent(ctx context.Context, payload []byte, signatureHeader string) error {
	// 1. 验签。不可信的载荷直接拒绝，绝不处理
	evt, err := s.proc.ParseWebhookEvent(payload, signatureHeader)
	if err != nil {
		if errors.Is(err, processor.ErrSignatureVerification) {
			logger.Log.Error("webhook signature verification failed", zap.Error(err))
		}
		return err
	}

	if evt.Type == processor.EventIgnored {
		metrics.WebhookEventsTotal.WithLabelValues(string(evt.Type), "ignored").Inc()
		return nil
	}

	// 2. 幂等：事件 ID 占位。重复投递确认成功但不再生效
	fresh, err := s.deduper.Reserve(ctx, evt.ID)
	if err != nil {
		return err
	}
	if !fresh {
		logger.Log.Info("duplicate webhook event skipped",
			zap.String("event_id", evt.ID),
			zap.String("type", string(evt.Type)))
		metrics.WebhookEventsTotal.WithLabelValues(string(evt.Type), "deduplicated").Inc()
		return nil
	}

	// 3. 应用状态转换。失败时释放占位，否则重试会被误判为重复
	if err := s.apply(ctx, evt); err != nil {
		if releaseErr := s.deduper.Release(ctx, evt.ID); releaseErr != nil {
			logger.Log.Error("failed to release dedup reservation",
				zap.String("event_id", evt.ID),
				zap.Error(releaseErr))
		}
		metrics.WebhookEventsTotal.WithLabelValues(string(evt.Type), "failed").Inc()
		return err
	}

	metrics.WebhookEventsTotal.WithLabelValues(string(evt.Type), "processed").Inc()
	return nil
}

func (s *webhookService) apply(ctx context.Context, evt *processor.Event) error {
	switch evt.Type {
	case processor.EventCheckoutCompleted:
		return s.applyCheckoutCompleted(ctx, evt)
	case processor.EventSubscriptionUpdated:
		return s.applySubscriptionUpdated(evt)
	case processor.EventSubscriptionDeleted:
		return s.applySubscriptionDeleted(evt)
	case processor.EventPaymentFailed:
		return s.applyPaymentFailed(evt)
	default:
		return nil
	}
}

// applyCheckoutCompleted 首次开通：Unentitled -> Active
func (s *webhookService) applyCheckoutCompleted(ctx context.Context, evt *processor.Event) error {
	userID := evt.UserID
	planID := evt.PlanID

	if evt.SubscriptionID == "" {
		// 没有订阅的会话与权益无关（理论上不会出现，mode 固定为订阅）
		logger.Log.Warn("checkout completed without subscription",
			zap.String("session_id", evt.SessionID))
		return nil
	}

	// 到期时间以处理器侧订阅周期为准；metadata 缺 user 时也从订阅上补
	periodEnd, err := s.resolvePeriodEnd(ctx, evt, &userID, &planID)
	if err != nil {
		return err
	}

	if userID == "" {
		// metadata 丢失属于数据问题，重试无意义，记录后确认
		logger.Log.Error("checkout completed event missing user metadata",
			zap.String("session_id", evt.SessionID),
			zap.String("subscription_id", evt.SubscriptionID))
		return nil
	}

	if err := s.users.ActivateSubscription(userID, planID, evt.SubscriptionID, periodEnd, evt.CreatedAt); err != nil {
		return err
	}

	logger.Log.Info("subscription activated",
		zap.String("user_id", userID),
		zap.String("plan_id", planID),
		zap.String("subscription_id", evt.SubscriptionID),
		zap.Time("expires_at", periodEnd))

	// 兑换流水闭环：pending -> completed，并递增 used_count
	if evt.PromoCode != "" {
		if err := s.resolver.ResolvePendingRedemption(userID, evt.PromoCode); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				// 没有对应流水：码可能是在别的会话里用掉的，只记录
				logger.Log.Warn("no pending redemption for promo code",
					zap.String("user_id", userID),
					zap.String("promo_code", evt.PromoCode))
				return nil
			}
			return err
		}
	}

	s.notify(userID, "Payment successful",
		"Your premium membership is now active. Enjoy!")
	return nil
}

// resolvePeriodEnd 拉取订阅快照。拉取失败时用套餐时长兜底，
// 后续 subscription_updated 会把到期时间校准回来
func (s *webhookService) resolvePeriodEnd(ctx context.Context, evt *processor.Event, userID, planID *string) (time.Time, error) {
	sub, err := s.proc.RetrieveSubscription(ctx, evt.SubscriptionID)
	if err == nil {
		if *userID == "" {
			*userID = sub.UserID
		}
		if *planID == "" {
			*planID = sub.PlanID
		}
		return sub.CurrentPeriodEnd, nil
	}

	plan, ok := s.plans[*planID]
	if !ok {
		return time.Time{}, fmt.Errorf("retrieve subscription %s: %w", evt.SubscriptionID, err)
	}
	logger.Log.Warn("subscription retrieval failed, falling back to plan duration",
		zap.String("subscription_id", evt.SubscriptionID),
		zap.Error(err))
	return evt.CreatedAt.AddDate(0, plan.Months, 0), nil
}

// applySubscriptionUpdated 续费刷新或异常停用。
// 传输层不保证顺序，凭事件时间戳丢弃过期事件
func (s *webhookService) applySubscriptionUpdated(evt *processor.Event) error {
	user, err := s.findUser(evt)
	if err != nil {
		return err
	}
	if user == nil || s.staleEvent(user, evt) || s.supersededSubscription(user, evt) {
		return nil
	}

	if evt.SubscriptionStatus == "active" {
		return s.users.RefreshSubscription(user.ID, evt.CurrentPeriodEnd, evt.CreatedAt)
	}

	logger.Log.Warn("subscription lapsed",
		zap.String("user_id", user.ID),
		zap.String("status", evt.SubscriptionStatus))
	return s.users.LapseSubscription(user.ID, evt.CreatedAt)
}

// applySubscriptionDeleted 订阅终止：停用并清空订阅 ID。
// 与 updated 同样做过期与换订阅判定，晚到的终止不能砍掉新订阅
func (s *webhookService) applySubscriptionDeleted(evt *processor.Event) error {
	user, err := s.findUser(evt)
	if err != nil {
		return err
	}
	if user == nil || s.staleEvent(user, evt) || s.supersededSubscription(user, evt) {
		return nil
	}

	logger.Log.Info("subscription revoked",
		zap.String("user_id", user.ID),
		zap.String("subscription_id", evt.SubscriptionID))
	return s.users.RevokeSubscription(user.ID, evt.CreatedAt)
}

// staleEvent 乱序保护：早于已应用事件的更新直接确认丢弃
func (s *webhookService) staleEvent(user *userModel.User, evt *processor.Event) bool {
	if user.PremiumSyncedAt == nil || evt.CreatedAt.After(*user.PremiumSyncedAt) {
		return false
	}
	logger.Log.Info("stale subscription event skipped",
		zap.String("event_id", evt.ID),
		zap.String("user_id", user.ID),
		zap.Time("event_created", evt.CreatedAt),
		zap.Time("last_applied", *user.PremiumSyncedAt))
	return true
}

// supersededSubscription 事件指向的订阅与用户当前绑定的不一致：
// 用户已换新订阅，旧订阅的晚到事件确认丢弃
func (s *webhookService) supersededSubscription(user *userModel.User, evt *processor.Event) bool {
	if evt.SubscriptionID == "" || user.PremiumSubscriptionID == nil ||
		*user.PremiumSubscriptionID == "" || *user.PremiumSubscriptionID == evt.SubscriptionID {
		return false
	}
	logger.Log.Info("event for superseded subscription skipped",
		zap.String("event_id", evt.ID),
		zap.String("user_id", user.ID),
		zap.String("event_subscription_id", evt.SubscriptionID),
		zap.String("current_subscription_id", *user.PremiumSubscriptionID))
	return true
}

// applyPaymentFailed 仅告警，不动权益：处理器还会自动重试扣款，
// 是否真正停用以后续 subscription_updated 为准
func (s *webhookService) applyPaymentFailed(evt *processor.Event) error {
	user, err := s.findUser(evt)
	if err != nil {
		return err
	}
	if user == nil {
		return nil
	}

	logger.Log.Warn("subscription payment failed",
		zap.String("user_id", user.ID),
		zap.String("subscription_id", evt.SubscriptionID))

	s.notify(user.ID, "Payment issue",
		"We couldn't process your subscription payment. We'll retry automatically.")
	return nil
}

// findUser metadata 里的 user_id 优先，缺失时按订阅 ID 反查。
// 找不到用户属于永久性问题，记录后按成功确认，避免无限重试
func (s *webhookService) findUser(evt *processor.Event) (*userModel.User, error) {
	if evt.UserID != "" {
		user, err := s.users.GetByID(evt.UserID)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	if evt.SubscriptionID != "" {
		user, err := s.users.GetByPremiumSubscriptionID(evt.SubscriptionID)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	logger.Log.Error("webhook event references unknown user",
		zap.String("event_id", evt.ID),
		zap.String("user_id", evt.UserID),
		zap.String("subscription_id", evt.SubscriptionID))
	return nil, nil
}

func (s *webhookService) notify(userID, title, body string) {
	if push.GlobalPushService == nil {
		return
	}
	go func() {
		if err := push.GlobalPushService.PushToAccount(userID, title, body, nil); err != nil {
			logger.Log.Warn("push notification failed",
				zap.String("user_id", userID),
				zap.Error(err))
		}
	}()
}
