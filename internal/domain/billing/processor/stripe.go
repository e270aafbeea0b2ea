package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"sparkdate/internal/pkg/config"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/checkout/session"
	"github.com/stripe/stripe-go/v79/coupon"
	"github.com/stripe/stripe-go/v79/subscription"
	"github.com/stripe/stripe-go/v79/webhook"
)

// StripeProcessor Stripe 实现
type StripeProcessor struct {
	cfg config.StripeConfig
}

func NewStripeProcessor() (*StripeProcessor, error) {
	cfg := config.GlobalConfig.Stripe
	if cfg.SecretKey == "" {
		return nil, errors.New("stripe config missing")
	}
	stripe.Key = cfg.SecretKey

	return &StripeProcessor{cfg: cfg}, nil
}

func (p *StripeProcessor) CreateCheckoutSession(ctx context.Context, cp CheckoutParams) (*CheckoutSession, error) {
	metadata := map[string]string{
		"user_id": cp.UserID,
		"plan_id": cp.PlanID,
	}
	if cp.PromoCode != "" {
		metadata["promo_code"] = cp.PromoCode
		metadata["discount_percent"] = fmt.Sprintf("%d", cp.DiscountPercent)
	}

	params := &stripe.CheckoutSessionParams{
		Mode:          stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		CustomerEmail: stripe.String(cp.UserEmail),
		SuccessURL:    stripe.String(p.cfg.SuccessURL),
		CancelURL:     stripe.String(p.cfg.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(cp.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: metadata,
		},
	}
	params.Context = ctx
	// metadata 必须同时写到会话和订阅：checkout.session.completed 透出
	// 会话对象，customer.subscription.* 透出订阅对象
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	if cp.CouponID != "" {
		params.Discounts = []*stripe.CheckoutSessionDiscountParams{
			{Coupon: stripe.String(cp.CouponID)},
		}
	}

	s, err := session.New(params)
	if err != nil {
		return nil, err
	}
	return &CheckoutSession{ID: s.ID, URL: s.URL}, nil
}

// CreateSingleUseCoupon duration=once 仅首期生效，max_redemptions=1 用完即废
func (p *StripeProcessor) CreateSingleUseCoupon(ctx context.Context, percentOff int, label string) (string, error) {
	params := &stripe.CouponParams{
		PercentOff:     stripe.Float64(float64(percentOff)),
		Duration:       stripe.String(string(stripe.CouponDurationOnce)),
		MaxRedemptions: stripe.Int64(1),
		Name:           stripe.String(label),
	}
	params.Context = ctx

	c, err := coupon.New(params)
	if err != nil {
		return "", err
	}
	return c.ID, nil
}

func (p *StripeProcessor) RetrieveSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	s, err := subscription.Get(subscriptionID, params)
	if err != nil {
		return nil, err
	}
	return &Subscription{
		ID:               s.ID,
		Status:           string(s.Status),
		CurrentPeriodEnd: time.Unix(s.CurrentPeriodEnd, 0),
		UserID:           s.Metadata["user_id"],
		PlanID:           s.Metadata["plan_id"],
	}, nil
}

func (p *StripeProcessor) ParseWebhookEvent(payload []byte, signatureHeader string) (*Event, error) {
	stripeEvent, err := webhook.ConstructEvent(payload, signatureHeader, p.cfg.WebhookSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureVerification, err)
	}

	evt := &Event{
		ID:        stripeEvent.ID,
		CreatedAt: time.Unix(stripeEvent.Created, 0),
	}

	switch stripeEvent.Type {
	case "checkout.session.completed":
		var s stripe.CheckoutSession
		if err := json.Unmarshal(stripeEvent.Data.Raw, &s); err != nil {
			return nil, err
		}
		evt.Type = EventCheckoutCompleted
		evt.SessionID = s.ID
		if s.Subscription != nil {
			evt.SubscriptionID = s.Subscription.ID
		}
		evt.UserID = s.Metadata["user_id"]
		evt.PlanID = s.Metadata["plan_id"]
		evt.PromoCode = s.Metadata["promo_code"]

	case "customer.subscription.updated", "customer.subscription.deleted":
		var s stripe.Subscription
		if err := json.Unmarshal(stripeEvent.Data.Raw, &s); err != nil {
			return nil, err
		}
		if stripeEvent.Type == "customer.subscription.updated" {
			evt.Type = EventSubscriptionUpdated
		} else {
			evt.Type = EventSubscriptionDeleted
		}
		evt.SubscriptionID = s.ID
		evt.UserID = s.Metadata["user_id"]
		evt.PlanID = s.Metadata["plan_id"]
		evt.SubscriptionStatus = string(s.Status)
		evt.CurrentPeriodEnd = time.Unix(s.CurrentPeriodEnd, 0)

	case "invoice.payment_failed":
		var inv stripe.Invoice
		if err := json.Unmarshal(stripeEvent.Data.Raw, &inv); err != nil {
			return nil, err
		}
		evt.Type = EventPaymentFailed
		if inv.Subscription != nil {
			evt.SubscriptionID = inv.Subscription.ID
		}

	default:
		evt.Type = EventIgnored
	}

	return evt, nil
}

// 确保实现了接口
var _ PaymentProcessor = (*StripeProcessor)(nil)
