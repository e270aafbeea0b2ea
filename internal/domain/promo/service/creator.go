package service

import (
	"time"

	"sparkdate/internal/domain/promo/model"
	"sparkdate/internal/domain/promo/repository"
)

// PromoCreator 管理端创建兑换码
type PromoCreator interface {
	CreatePromoCode(code string, discountPercent int, maxUses *int, maxUsesPerUser int,
		validFrom, validUntil time.Time, applicablePlans []string) (*model.PromoCode, error)
}

type promoCreator struct {
	repo repository.PromoRepository
}

func NewPromoCreator(repo repository.PromoRepository) PromoCreator {
	return &promoCreator{repo: repo}
}

func (s *promoCreator) CreatePromoCode(code string, discountPercent int, maxUses *int, maxUsesPerUser int,
	validFrom, validUntil time.Time, applicablePlans []string) (*model.PromoCode, error) {
	promo := &model.PromoCode{
		Code:            model.NormalizeCode(code),
		DiscountPercent: discountPercent,
		MaxUses:         maxUses,
		MaxUsesPerUser:  maxUsesPerUser,
		ValidFrom:       validFrom,
		ValidUntil:      validUntil,
		IsActive:        true,
		ApplicablePlans: applicablePlans,
	}
	if err := s.repo.CreatePromoCode(promo); err != nil {
		return nil, err
	}
	return promo, nil
}
