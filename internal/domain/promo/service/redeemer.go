package service

import (
	"errors"
	"time"

	"sparkdate/internal/domain/promo/model"
	"sparkdate/internal/domain/promo/repository"
	userRepo "sparkdate/internal/domain/user/repository"
	"sparkdate/internal/pkg/config"
	"sparkdate/pkg/logger"
	"sparkdate/pkg/metrics"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RedemptionOutcome 兑换结果。Success=false 时 Reason 给出原因
type RedemptionOutcome struct {
	Success           bool         `json:"success"`
	FreeAccess        bool         `json:"isFreeAccess"`
	RedirectToPayment bool         `json:"redirectToPayment"`
	DiscountPercent   int          `json:"discountPercent,omitempty"`
	Reason            RejectReason `json:"error,omitempty"`
}

// CounterRetryQueue 计数补偿队列：used_count 递增失败后交给后台重试
type CounterRetryQueue interface {
	Enqueue(redemptionID, promoCodeID string, countApplied bool)
}

// PromoRedeemer 兑换执行器
type PromoRedeemer interface {
	Redeem(code, userID, planID string) (RedemptionOutcome, error)
	// MarkRedemptionApplied 折扣已附加到支付会话，流水 pending -> applied
	MarkRedemptionApplied(userID, promoCode string) error
	// ResolvePendingRedemption 支付回调确认后，把未闭环流水推进到 completed
	// 并递增 used_count
	ResolvePendingRedemption(userID, promoCode string) error
}

type promoRedeemer struct {
	repo      repository.PromoRepository
	users     userRepo.UserRepository
	validator PromoValidator
	retries   CounterRetryQueue
	plans     map[string]config.PlanConfig
	now       func() time.Time
}

func NewPromoRedeemer(repo repository.PromoRepository, users userRepo.UserRepository,
	validator PromoValidator, retries CounterRetryQueue, plans map[string]config.PlanConfig) PromoRedeemer {
	return &promoRedeemer{
		repo:      repo,
		users:     users,
		validator: validator,
		retries:   retries,
		plans:     plans,
		now:       time.Now,
	}
}

// Redeem 重新校验后落地兑换。客户端缓存的校验结论不可信：
// 时间窗口和使用计数随时在变
func (s *promoRedeemer) Redeem(code, userID, planID string) (RedemptionOutcome, error) {
	verdict, err := s.validator.Validate(code, userID, planID)
	if err != nil {
		return RedemptionOutcome{}, err
	}
	if !verdict.Valid() {
		metrics.RedemptionsTotal.WithLabelValues("rejected").Inc()
		return RedemptionOutcome{Reason: verdict.Reason}, nil
	}

	promo := verdict.Promo
	plan, ok := s.plans[planID]
	if !ok {
		metrics.RedemptionsTotal.WithLabelValues("rejected").Inc()
		return RedemptionOutcome{Reason: ReasonPlanMismatch}, nil
	}

	if promo.IsFreeAccess() {
		return s.redeemFree(promo, userID, planID, plan)
	}
	return s.redeemPartial(promo, userID, planID)
}

// redeemFree 免费开通：占位、写流水(completed)、写权益，三者同一事务；
// 计数递增在事务提交后执行，失败只补偿计数，绝不重放权益写入
func (s *promoRedeemer) redeemFree(promo *model.PromoCode, userID, planID string, plan config.PlanConfig) (RedemptionOutcome, error) {
	expiresAt := s.now().AddDate(0, plan.Months, 0)
	redemption := &model.PromoCodeRedemption{
		UserID:          userID,
		PromoCodeID:     promo.ID,
		PromoCode:       promo.Code,
		DiscountPercent: promo.DiscountPercent,
		PlanID:          planID,
		RedeemedAt:      s.now(),
		Status:          model.RedemptionStatusCompleted,
	}

	err := s.repo.ReserveRedemption(redemption, promo.MaxUsesPerUser, func(tx *gorm.DB) error {
		return s.users.GrantPromoPremium(tx, userID, planID, expiresAt)
	})
	if err != nil {
		if errors.Is(err, repository.ErrUsageSlotTaken) {
			metrics.RedemptionsTotal.WithLabelValues("rejected").Inc()
			return RedemptionOutcome{Reason: ReasonAlreadyUsed}, nil
		}
		return RedemptionOutcome{}, err
	}

	s.countUsage(redemption.ID, promo.ID)
	metrics.RedemptionsTotal.WithLabelValues("free").Inc()

	return RedemptionOutcome{Success: true, FreeAccess: true, DiscountPercent: promo.DiscountPercent}, nil
}

// redeemPartial 部分折扣：只插入 pending 流水占住名额，权益等回调
func (s *promoRedeemer) redeemPartial(promo *model.PromoCode, userID, planID string) (RedemptionOutcome, error) {
	redemption := &model.PromoCodeRedemption{
		UserID:          userID,
		PromoCodeID:     promo.ID,
		PromoCode:       promo.Code,
		DiscountPercent: promo.DiscountPercent,
		PlanID:          planID,
		RedeemedAt:      s.now(),
		Status:          model.RedemptionStatusPending,
	}

	if err := s.repo.ReserveRedemption(redemption, promo.MaxUsesPerUser, nil); err != nil {
		if errors.Is(err, repository.ErrUsageSlotTaken) {
			metrics.RedemptionsTotal.WithLabelValues("rejected").Inc()
			return RedemptionOutcome{Reason: ReasonAlreadyUsed}, nil
		}
		return RedemptionOutcome{}, err
	}

	metrics.RedemptionsTotal.WithLabelValues("pending").Inc()
	return RedemptionOutcome{
		Success:           true,
		RedirectToPayment: true,
		DiscountPercent:   promo.DiscountPercent,
	}, nil
}

func (s *promoRedeemer) MarkRedemptionApplied(userID, promoCode string) error {
	redemption, err := s.repo.GetOpenRedemption(userID, promoCode)
	if err != nil {
		return err
	}
	return s.repo.UpdateRedemptionStatus(redemption.ID, model.RedemptionStatusApplied)
}

func (s *promoRedeemer) ResolvePendingRedemption(userID, promoCode string) error {
	redemption, err := s.repo.GetOpenRedemption(userID, promoCode)
	if err != nil {
		return err
	}
	if err := s.repo.UpdateRedemptionStatus(redemption.ID, model.RedemptionStatusCompleted); err != nil {
		return err
	}
	s.countUsage(redemption.ID, redemption.PromoCodeID)
	return nil
}

// countUsage 递增 used_count 并标记流水已计数。
// 失败进入补偿队列，由后台重试 + 读修复扫描兜底，不影响已生效的权益
func (s *promoRedeemer) countUsage(redemptionID, promoCodeID string) {
	if err := s.repo.IncrementUsedCount(promoCodeID); err != nil {
		logger.Log.Warn("used_count increment failed, queued for retry",
			zap.String("redemption_id", redemptionID),
			zap.String("promo_code_id", promoCodeID),
			zap.Error(err))
		s.retries.Enqueue(redemptionID, promoCodeID, false)
		return
	}
	if err := s.repo.MarkRedemptionCounted(redemptionID); err != nil {
		logger.Log.Warn("failed to mark redemption counted",
			zap.String("redemption_id", redemptionID),
			zap.Error(err))
		s.retries.Enqueue(redemptionID, promoCodeID, true)
	}
}
