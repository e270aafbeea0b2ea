package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 权益引擎核心指标
var (
	// RedemptionsTotal 兑换请求结果分布 outcome: free / pending / rejected
	RedemptionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sparkdate",
		Name:      "promo_redemptions_total",
		Help:      "Promo code redemption attempts by outcome",
	}, []string{"outcome"})

	// WebhookEventsTotal 回调事件处理结果 result: processed / deduplicated / failed / ignored
	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sparkdate",
		Name:      "webhook_events_total",
		Help:      "Payment processor webhook events by type and result",
	}, []string{"type", "result"})

	// CheckoutSessionsTotal 支付会话创建结果 result: ok / degraded / failed
	CheckoutSessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sparkdate",
		Name:      "checkout_sessions_total",
		Help:      "Checkout session creation results",
	}, []string{"result"})

	// CounterRepairTotal 计数补偿任务 result: repaired / dropped
	CounterRepairTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sparkdate",
		Name:      "promo_counter_repair_total",
		Help:      "Usage counter repair attempts by result",
	}, []string{"result"})
)
