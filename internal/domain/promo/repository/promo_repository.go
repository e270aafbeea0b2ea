package repository

import (
	"errors"
	"time"

	"sparkdate/internal/domain/promo/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrUsageSlotTaken 同一用户对同一兑换码的名额已被占用
var ErrUsageSlotTaken = errors.New("per-user usage limit reached")

// ErrCodeExhausted 全局次数上限已用完，条件递增未命中任何行
var ErrCodeExhausted = errors.New("promo code usage exhausted")

// PromoRepository 兑换码与兑换流水的数据访问
type PromoRepository interface {
	CreatePromoCode(code *model.PromoCode) error
	GetByCode(code string) (*model.PromoCode, error)
	CountUserRedemptions(userID, promoCodeID string) (int64, error)

	// ReserveRedemption 原子的"检查并占位"：锁定兑换码行、重新统计该用户
	// 的流水数、插入新流水，必要时在同一事务内执行 grant（免费开通写权益）。
	// 两次并发兑换只有一个能拿到名额，另一个得到 ErrUsageSlotTaken
	ReserveRedemption(redemption *model.PromoCodeRedemption, maxUsesPerUser int, grant func(tx *gorm.DB) error) error

	// IncrementUsedCount 条件原子递增，带 max_uses 上限保护
	IncrementUsedCount(promoCodeID string) error
	MarkRedemptionCounted(redemptionID string) error

	GetRedemptionByID(redemptionID string) (*model.PromoCodeRedemption, error)
	// GetOpenRedemption 该用户该码最近一条未闭环的流水（pending 或 applied）
	GetOpenRedemption(userID, promoCode string) (*model.PromoCodeRedemption, error)
	UpdateRedemptionStatus(redemptionID, status string) error

	// ListUncountedCompleted 读修复扫描：已完成但 used_count 还没记上的流水
	ListUncountedCompleted(olderThan time.Time, limit int) ([]model.PromoCodeRedemption, error)
	// ExpireStaleRedemptions 超时未支付的流水批量置为 expired
	ExpireStaleRedemptions(olderThan time.Time) (int64, error)
}

type promoRepository struct {
	db *gorm.DB
}

func NewPromoRepository(db *gorm.DB) PromoRepository {
	return &promoRepository{db: db}
}

func (r *promoRepository) CreatePromoCode(code *model.PromoCode) error {
	code.Code = model.NormalizeCode(code.Code)
	return r.db.Create(code).Error
}

func (r *promoRepository) GetByCode(code string) (*model.PromoCode, error) {
	var promo model.PromoCode
	if err := r.db.Where("code = ?", model.NormalizeCode(code)).First(&promo).Error; err != nil {
		return nil, err
	}
	return &promo, nil
}

func (r *promoRepository) CountUserRedemptions(userID, promoCodeID string) (int64, error) {
	var count int64
	err := r.db.Model(&model.PromoCodeRedemption{}).
		Where("user_id = ? AND promo_code_id = ?", userID, promoCodeID).
		Count(&count).Error
	return count, err
}

func (r *promoRepository) ReserveRedemption(redemption *model.PromoCodeRedemption, maxUsesPerUser int, grant func(tx *gorm.DB) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		// 锁住兑换码行，串行化同一个码上的占位
		var promo model.PromoCode
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", redemption.PromoCodeID).
			First(&promo).Error; err != nil {
			return err
		}

		// 持锁后重新统计，校验阶段的计数可能已经过期
		var count int64
		if err := tx.Model(&model.PromoCodeRedemption{}).
			Where("user_id = ? AND promo_code_id = ?", redemption.UserID, redemption.PromoCodeID).
			Count(&count).Error; err != nil {
			return err
		}
		if count >= int64(maxUsesPerUser) {
			return ErrUsageSlotTaken
		}

		if err := tx.Create(redemption).Error; err != nil {
			return err
		}

		if grant != nil {
			return grant(tx)
		}
		return nil
	})
}

// IncrementUsedCount 数据库侧递增，绝不在应用层读改写
func (r *promoRepository) IncrementUsedCount(promoCodeID string) error {
	result := r.db.Model(&model.PromoCode{}).
		Where("id = ? AND (max_uses IS NULL OR used_count < max_uses)", promoCodeID).
		UpdateColumn("used_count", gorm.Expr("used_count + 1"))

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrCodeExhausted
	}
	return nil
}

func (r *promoRepository) MarkRedemptionCounted(redemptionID string) error {
	return r.db.Model(&model.PromoCodeRedemption{}).
		Where("id = ?", redemptionID).
		UpdateColumn("usage_counted", true).Error
}

func (r *promoRepository) GetRedemptionByID(redemptionID string) (*model.PromoCodeRedemption, error) {
	var redemption model.PromoCodeRedemption
	if err := r.db.Where("id = ?", redemptionID).First(&redemption).Error; err != nil {
		return nil, err
	}
	return &redemption, nil
}

func (r *promoRepository) GetOpenRedemption(userID, promoCode string) (*model.PromoCodeRedemption, error) {
	var redemption model.PromoCodeRedemption
	err := r.db.Where("user_id = ? AND promo_code = ? AND status IN ?",
		userID, model.NormalizeCode(promoCode),
		[]string{model.RedemptionStatusPending, model.RedemptionStatusApplied}).
		Order("redeemed_at DESC").
		First(&redemption).Error
	if err != nil {
		return nil, err
	}
	return &redemption, nil
}

func (r *promoRepository) UpdateRedemptionStatus(redemptionID, status string) error {
	return r.db.Model(&model.PromoCodeRedemption{}).
		Where("id = ?", redemptionID).
		Update("status", status).Error
}

func (r *promoRepository) ExpireStaleRedemptions(olderThan time.Time) (int64, error) {
	result := r.db.Model(&model.PromoCodeRedemption{}).
		Where("status IN ? AND redeemed_at < ?",
			[]string{model.RedemptionStatusPending, model.RedemptionStatusApplied}, olderThan).
		Update("status", model.RedemptionStatusExpired)
	return result.RowsAffected, result.Error
}

func (r *promoRepository) ListUncountedCompleted(olderThan time.Time, limit int) ([]model.PromoCodeRedemption, error) {
	var redemptions []model.PromoCodeRedemption
	err := r.db.Where("status = ? AND usage_counted = ? AND updated_at < ?",
		model.RedemptionStatusCompleted, false, olderThan).
		Limit(limit).
		Find(&redemptions).Error
	return redemptions, err
}
