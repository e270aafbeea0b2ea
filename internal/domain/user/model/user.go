package model

import (
	"time"

	baseModel "sparkdate/pkg/model"
)

// 用户角色
const (
	RoleUser  = 1
	RoleAdmin = 9
)

// 用户状态
const (
	StatusNormal  = 1
	StatusBanned  = 2
	StatusDeleted = 3
)

// 会员来源
const (
	PremiumSourcePromoCode    = "promo_code"   // 兑换码免费开通，不自动续费
	PremiumSourceSubscription = "subscription" // Stripe 订阅，由回调驱动
)

// User 用户模型（资料 + 会员权益）
type User struct {
	baseModel.BaseModel
	Mobile    string     `gorm:"uniqueIndex;not null" json:"mobile"`
	Nickname  string     `gorm:"type:varchar(50)" json:"nickname"`
	AvatarURL string     `gorm:"type:varchar(255)" json:"avatarUrl"`
	Bio       string     `gorm:"type:varchar(500)" json:"bio"`
	Gender    int        `gorm:"default:0" json:"gender"` // 0:未知 1:男 2:女
	BirthDate *time.Time `json:"birthDate,omitempty"`

	Role        int        `gorm:"default:1" json:"role"`
	Status      int        `gorm:"default:1" json:"status"`
	BannedUntil *time.Time `json:"-"`

	Token         string     `gorm:"type:varchar(512)" json:"-"`
	TokenExpireAt *time.Time `json:"-"`

	// 会员权益子对象：Redeemer 和 Reconciler 共同维护
	// 功能开关只读这里，不读兑换流水
	IsPremium             bool       `gorm:"default:false" json:"isPremium"`
	PremiumPlan           string     `gorm:"type:varchar(32)" json:"premiumPlan,omitempty"`
	PremiumExpiresAt      *time.Time `json:"premiumExpiresAt,omitempty"`
	PremiumAutoRenew      bool       `gorm:"default:false" json:"premiumAutoRenew"`
	PremiumSource         string     `gorm:"type:varchar(16)" json:"premiumSource,omitempty"`
	PremiumSubscriptionID *string    `gorm:"index" json:"premiumSubscriptionId,omitempty"`
	// 最近一次已应用的订阅事件时间，用于乱序回调的新旧判断
	PremiumSyncedAt *time.Time `json:"-"`
}

// HasActivePremium 判断当前是否持有有效会员
func (u *User) HasActivePremium() bool {
	return u.IsPremium && u.PremiumExpiresAt != nil && u.PremiumExpiresAt.After(time.Now())
}
