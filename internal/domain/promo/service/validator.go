package service

import (
	"errors"
	"time"

	"sparkdate/internal/domain/promo/model"
	"sparkdate/internal/domain/promo/repository"

	"gorm.io/gorm"
)

// RejectReason 校验失败原因，直接作为面向用户的文案返回
type RejectReason string

const (
	ReasonNotFound     RejectReason = "invalid code"
	ReasonInactive     RejectReason = "code is inactive"
	ReasonNotStarted   RejectReason = "code is not yet active"
	ReasonExpired      RejectReason = "code has expired"
	ReasonExhausted    RejectReason = "code has been fully redeemed"
	ReasonPlanMismatch RejectReason = "code does not apply to this plan"
	ReasonAlreadyUsed  RejectReason = "code already used"
)

// Verdict 校验结论。失败是数据不是错误，error 只表示存储故障
type Verdict struct {
	Reason          RejectReason // 空表示有效
	DiscountPercent int
	FreeAccess      bool
	Promo           *model.PromoCode // 有效时携带，供 Redeemer 复用
}

// Valid 是否通过全部检查
func (v Verdict) Valid() bool {
	return v.Reason == ""
}

// PromoValidator 兑换码校验，纯读：不动 used_count，不写流水
type PromoValidator interface {
	Validate(code, userID, planID string) (Verdict, error)
}

type promoValidator struct {
	repo repository.PromoRepository
	now  func() time.Time
}

func NewPromoValidator(repo repository.PromoRepository) PromoValidator {
	return &promoValidator{repo: repo, now: time.Now}
}

func reject(reason RejectReason) Verdict {
	return Verdict{Reason: reason}
}

// Validate 按固定顺序检查，首个失败即返回
func (s *promoValidator) Validate(code, userID, planID string) (Verdict, error) {
	// 1. 规范化后查码
	promo, err := s.repo.GetByCode(code)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return reject(ReasonNotFound), nil
		}
		return Verdict{}, err
	}

	// 2. 管理端开关
	if !promo.IsActive {
		return reject(ReasonInactive), nil
	}

	// 3. 时间窗口，边界含端点
	now := s.now()
	if now.Before(promo.ValidFrom) {
		return reject(ReasonNotStarted), nil
	}
	if now.After(promo.ValidUntil) {
		return reject(ReasonExpired), nil
	}

	// 4. 全局次数上限
	if promo.MaxUses != nil && promo.UsedCount >= *promo.MaxUses {
		return reject(ReasonExhausted), nil
	}

	// 5. 套餐限制
	if planID != "" && !promo.AppliesToPlan(planID) {
		return reject(ReasonPlanMismatch), nil
	}

	// 6. 该用户的名额，pending 也计入
	count, err := s.repo.CountUserRedemptions(userID, promo.ID)
	if err != nil {
		return Verdict{}, err
	}
	if count >= int64(promo.MaxUsesPerUser) {
		return reject(ReasonAlreadyUsed), nil
	}

	return Verdict{
		DiscountPercent: promo.DiscountPercent,
		FreeAccess:      promo.IsFreeAccess(),
		Promo:           promo,
	}, nil
}
