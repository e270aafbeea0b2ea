package processor

import (
	"context"
	"errors"
	"time"
)

// ErrSignatureVerification 回调验签失败，拒绝处理且不确认消费
var ErrSignatureVerification = errors.New("webhook signature verification failed")

// EventType 归一化后的回调事件类型
type EventType string

const (
	EventCheckoutCompleted   EventType = "checkout_completed"
	EventSubscriptionUpdated EventType = "subscription_updated"
	EventSubscriptionDeleted EventType = "subscription_deleted"
	EventPaymentFailed       EventType = "payment_failed"
	EventIgnored             EventType = "ignored" // 与权益无关的事件，直接确认
)

// Event 归一化回调事件。metadata 里的 user_id/plan_id/promo_code
// 是回调与发起用户、兑换流水关联的唯一通道
type Event struct {
	ID        string
	Type      EventType
	CreatedAt time.Time

	SessionID      string
	SubscriptionID string
	UserID         string
	PlanID         string
	PromoCode      string

	SubscriptionStatus string
	CurrentPeriodEnd   time.Time
}

// CheckoutParams 创建支付会话参数
type CheckoutParams struct {
	PriceID         string
	PlanID          string
	UserID          string
	UserEmail       string
	PromoCode       string // 可选
	CouponID        string // 可选，处理器侧一次性折扣对象
	DiscountPercent int
}

// CheckoutSession 支付会话
type CheckoutSession struct {
	ID  string
	URL string
}

// Subscription 处理器侧订阅快照
type Subscription struct {
	ID               string
	Status           string
	CurrentPeriodEnd time.Time
	UserID           string
	PlanID           string
}

// PaymentProcessor 支付处理器边界。引擎只消费这四种能力，
// 任何提供等价能力的处理器都可以替换进来
type PaymentProcessor interface {
	// CreateCheckoutSession 创建订阅支付会话，metadata 同时写到
	// 会话和订阅上（不同事件类型透出的对象不同）
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error)

	// CreateSingleUseCoupon 创建一次性、仅首期生效的折扣对象，
	// 限定单次兑换，防止折扣泄漏复用
	CreateSingleUseCoupon(ctx context.Context, percentOff int, label string) (string, error)

	// RetrieveSubscription 拉取订阅快照（开通时取周期结束时间）
	RetrieveSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)

	// ParseWebhookEvent 验签并解析回调。验签失败返回
	// ErrSignatureVerification
	ParseWebhookEvent(payload []byte, signatureHeader string) (*Event, error)
}
