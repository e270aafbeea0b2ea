package repository

import (
	"time"

	"sparkdate/internal/domain/user/model"

	"gorm.io/gorm"
)

// UserRepository 用户仓库接口
// 会员权益相关方法只更新各自拥有的字段，绝不整体覆盖子对象，
// 避免 Redeemer 与 Reconciler 并发写入时互相覆盖
type UserRepository interface {
	Create(user *model.User) error
	GetByID(id string) (*model.User, error)
	GetByMobile(mobile string) (*model.User, error)
	GetByPremiumSubscriptionID(subscriptionID string) (*model.User, error)
	GetList(offset, limit int) ([]model.User, int64, error)
	Update(user *model.User) error
	Delete(user *model.User) error

	// GrantPromoPremium 兑换码免费开通（仅 Redeemer 调用）
	GrantPromoPremium(tx *gorm.DB, userID, planID string, expiresAt time.Time) error
	// ActivateSubscription 首次订阅开通（仅 Reconciler 调用）
	ActivateSubscription(userID, planID, subscriptionID string, expiresAt, syncedAt time.Time) error
	// RefreshSubscription 续费刷新到期时间
	RefreshSubscription(userID string, expiresAt, syncedAt time.Time) error
	// LapseSubscription 订阅异常，停用会员但保留到期时间与订阅 ID 供审计
	LapseSubscription(userID string, syncedAt time.Time) error
	// RevokeSubscription 订阅终止，停用会员并清空订阅 ID
	RevokeSubscription(userID string, syncedAt time.Time) error
}

// userRepository 实现
type userRepository struct {
	db *gorm.DB
}

// NewUserRepository 创建新的仓库实例
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) Create(user *model.User) error {
	return r.db.Create(user).Error
}

func (r *userRepository) GetByID(id string) (*model.User, error) {
	var user model.User
	if err := r.db.Where("id = ?", id).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) GetByMobile(mobile string) (*model.User, error) {
	var user model.User
	if err := r.db.Where("mobile = ?", mobile).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) GetByPremiumSubscriptionID(subscriptionID string) (*model.User, error) {
	var user model.User
	if err := r.db.Where("premium_subscription_id = ?", subscriptionID).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) GetList(offset, limit int) ([]model.User, int64, error) {
	var users []model.User
	var total int64

	if err := r.db.Model(&model.User{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if err := r.db.Offset(offset).Limit(limit).Find(&users).Error; err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

func (r *userRepository) Update(user *model.User) error {
	return r.db.Save(user).Error
}

// GrantPromoPremium 兑换码开通路径
// 传入 tx 以便与兑换流水写入放在同一事务：要么同时生效，要么都不生效
func (r *userRepository) GrantPromoPremium(tx *gorm.DB, userID, planID string, expiresAt time.Time) error {
	if tx == nil {
		tx = r.db
	}
	return tx.Model(&model.User{}).Where("id = ?", userID).Updates(map[string]interface{}{
		"is_premium":         true,
		"premium_plan":       planID,
		"premium_expires_at": expiresAt,
		"premium_auto_renew": false,
		"premium_source":     model.PremiumSourcePromoCode,
	}).Error
}

func (r *userRepository) ActivateSubscription(userID, planID, subscriptionID string, expiresAt, syncedAt time.Time) error {
	return r.db.Model(&model.User{}).Where("id = ?", userID).Updates(map[string]interface{}{
		"is_premium":              true,
		"premium_plan":            planID,
		"premium_expires_at":      expiresAt,
		"premium_auto_renew":      true,
		"premium_source":          model.PremiumSourceSubscription,
		"premium_subscription_id": subscriptionID,
		"premium_synced_at":       syncedAt,
	}).Error
}

func (r *userRepository) RefreshSubscription(userID string, expiresAt, syncedAt time.Time) error {
	return r.db.Model(&model.User{}).Where("id = ?", userID).Updates(map[string]interface{}{
		"is_premium":         true,
		"premium_expires_at": expiresAt,
		"premium_synced_at":  syncedAt,
	}).Error
}

// LapseSubscription 到期时间与订阅 ID 保留，仅停用
func (r *userRepository) LapseSubscription(userID string, syncedAt time.Time) error {
	return r.db.Model(&model.User{}).Where("id = ?", userID).Updates(map[string]interface{}{
		"is_premium":        false,
		"premium_synced_at": syncedAt,
	}).Error
}

// RevokeSubscription 同样推进 premium_synced_at：终止之前发出的 updated
// 事件晚到时必须被判定为过期，否则会把已终止的会员刷回去
func (r *userRepository) RevokeSubscription(userID string, syncedAt time.Time) error {
	return r.db.Model(&model.User{}).Where("id = ?", userID).Updates(map[string]interface{}{
		"is_premium":              false,
		"premium_auto_renew":      false,
		"premium_subscription_id": nil,
		"premium_synced_at":       syncedAt,
	}).Error
}

func (r *userRepository) Delete(user *model.User) error {
	return r.db.Delete(user).Error
}
