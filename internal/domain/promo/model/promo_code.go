package model

import (
	"strings"
	"time"

	baseModel "sparkdate/pkg/model"
)

// PromoCode 兑换码定义，管理端创建，业务侧只增长 used_count
type PromoCode struct {
	baseModel.BaseModel
	Code            string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"code"`
	DiscountPercent int       `gorm:"not null" json:"discountPercent"` // 0-100，100 表示免费开通
	MaxUses         *int      `json:"maxUses,omitempty"`               // 全局次数上限，nil 表示不限
	UsedCount       int       `gorm:"not null;default:0" json:"usedCount"`
	MaxUsesPerUser  int       `gorm:"not null;default:1" json:"maxUsesPerUser"`
	ValidFrom       time.Time `gorm:"not null" json:"validFrom"`
	ValidUntil      time.Time `gorm:"not null" json:"validUntil"`
	IsActive        bool      `gorm:"not null;default:true" json:"isActive"` // 管理端开关，独立于时间窗口
	ApplicablePlans []string  `gorm:"serializer:json;type:jsonb" json:"applicablePlans,omitempty"`
}

// IsFreeAccess 100% 折扣即免费开通
func (p *PromoCode) IsFreeAccess() bool {
	return p.DiscountPercent == 100
}

// AppliesToPlan 套餐限制为空时适用所有套餐
func (p *PromoCode) AppliesToPlan(planID string) bool {
	if len(p.ApplicablePlans) == 0 {
		return true
	}
	for _, id := range p.ApplicablePlans {
		if id == planID {
			return true
		}
	}
	return false
}

// NormalizeCode 兑换码大小写不敏感，统一去空格转大写
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// 兑换流水状态
const (
	RedemptionStatusPending   = "pending"   // 部分折扣，等待支付完成
	RedemptionStatusApplied   = "applied"   // 折扣已附加到支付会话
	RedemptionStatusCompleted = "completed" // 兑换完成（免费开通或支付成功）
	RedemptionStatusExpired   = "expired"   // 超时未支付
)

// PromoCodeRedemption 兑换流水，只追加不删除，作为审计与幂等依据
// (user_id, promo_code_id) 的行数受 MaxUsesPerUser 约束，pending 也占名额
type PromoCodeRedemption struct {
	baseModel.BaseModel
	UserID          string    `gorm:"type:uuid;index:idx_redemptions_user_code;not null" json:"userId"`
	PromoCodeID     string    `gorm:"type:uuid;index:idx_redemptions_user_code;not null" json:"promoCodeId"`
	PromoCode       string    `gorm:"type:varchar(64);not null" json:"promoCode"` // 冗余存储，便于回调按码查找
	DiscountPercent int       `gorm:"not null" json:"discountPercent"`
	PlanID          string    `gorm:"type:varchar(32);not null" json:"planId"`
	RedeemedAt      time.Time `gorm:"not null" json:"redeemedAt"`
	Status          string    `gorm:"type:varchar(16);not null;default:'pending'" json:"status"`
	// used_count 是否已为本行递增，读修复扫描依据
	UsageCounted bool `gorm:"not null;default:false" json:"-"`
}
