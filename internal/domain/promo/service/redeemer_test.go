package service

import (
	"errors"
	"testing"
	"time"

	"sparkdate/internal/domain/promo/model"
	"sparkdate/internal/domain/promo/repository"
	userModel "sparkdate/internal/domain/user/model"
	"sparkdate/internal/pkg/config"
	baseModel "sparkdate/pkg/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"gorm.io/gorm"
)

// MockUserRepository is a mock of the user repository
type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) Create(user *userModel.User) error {
	args := m.Called(user)
	return args.Error(0)
}

func (m *MockUserRepository) GetByID(id string) (*userModel.User, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*userModel.User), args.Error(1)
}

func (m *MockUserRepository) GetByMobile(mobile string) (*userModel.User, error) {
	args := m.Called(mobile)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*userModel.User), args.Error(1)
}

func (m *MockUserRepository) GetByPremiumSubscriptionID(subscriptionID string) (*userModel.User, error) {
	args := m.Called(subscriptionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*userModel.User), args.Error(1)
}

func (m *MockUserRepository) GetList(offset, limit int) ([]userModel.User, int64, error) {
	args := m.Called(offset, limit)
	return args.Get(0).([]userModel.User), args.Get(1).(int64), args.Error(2)
}

func (m *MockUserRepository) Update(user *userModel.User) error {
	args := m.Called(user)
	return args.Error(0)
}

func (m *MockUserRepository) Delete(user *userModel.User) error {
	args := m.Called(user)
	return args.Error(0)
}

func (m *MockUserRepository) GrantPromoPremium(tx *gorm.DB, userID, planID string, expiresAt time.Time) error {
	args := m.Called(tx, userID, planID, expiresAt)
	return args.Error(0)
}

func (m *MockUserRepository) ActivateSubscription(userID, planID, subscriptionID string, expiresAt, syncedAt time.Time) error {
	args := m.Called(userID, planID, subscriptionID, expiresAt, syncedAt)
	return args.Error(0)
}

func (m *MockUserRepository) RefreshSubscription(userID string, expiresAt, syncedAt time.Time) error {
	args := m.Called(userID, expiresAt, syncedAt)
	return args.Error(0)
}

func (m *MockUserRepository) LapseSubscription(userID string, syncedAt time.Time) error {
	args := m.Called(userID, syncedAt)
	return args.Error(0)
}

func (m *MockUserRepository) RevokeSubscription(userID string, syncedAt time.Time) error {
	args := m.Called(userID, syncedAt)
	return args.Error(0)
}

// MockValidator is a mock of PromoValidator
type MockValidator struct {
	mock.Mock
}

func (m *MockValidator) Validate(code, userID, planID string) (Verdict, error) {
	args := m.Called(code, userID, planID)
	return args.Get(0).(Verdict), args.Error(1)
}

// MockRetryQueue is a mock of CounterRetryQueue
type MockRetryQueue struct {
	mock.Mock
}

func (m *MockRetryQueue) Enqueue(redemptionID, promoCodeID string, countApplied bool) {
	m.Called(redemptionID, promoCodeID, countApplied)
}

var testPlans = map[string]config.PlanConfig{
	"monthly":   {PriceID: "price_m", Months: 1},
	"quarterly": {PriceID: "price_q", Months: 3},
	"yearly":    {PriceID: "price_y", Months: 12},
}

type redeemerFixture struct {
	repo      *MockPromoRepository
	users     *MockUserRepository
	validator *MockValidator
	retries   *MockRetryQueue
	redeemer  *promoRedeemer
}

func newRedeemerFixture() *redeemerFixture {
	f := &redeemerFixture{
		repo:      new(MockPromoRepository),
		users:     new(MockUserRepository),
		validator: new(MockValidator),
		retries:   new(MockRetryQueue),
	}
	f.redeemer = &promoRedeemer{
		repo:      f.repo,
		users:     f.users,
		validator: f.validator,
		retries:   f.retries,
		plans:     testPlans,
		now:       func() time.Time { return testNow },
	}
	return f
}

func validVerdict(promo *model.PromoCode) Verdict {
	return Verdict{
		DiscountPercent: promo.DiscountPercent,
		FreeAccess:      promo.IsFreeAccess(),
		Promo:           promo,
	}
}

func TestRedeemFreeAccess(t *testing.T) {
	t.Run("Free code grants premium in one transaction", func(t *testing.T) {
		f := newRedeemerFixture()
		promo := createTestPromo("promo-1", "VIPFREE", 100)

		f.validator.On("Validate", "VIPFREE", "user-1", "monthly").Return(validVerdict(promo), nil)
		f.repo.On("ReserveRedemption", mock.AnythingOfType("*model.PromoCodeRedemption"), 1, mock.Anything).
			Run(func(args mock.Arguments) {
				redemption := args.Get(0).(*model.PromoCodeRedemption)
				redemption.ID = "red-1"
				assert.Equal(t, model.RedemptionStatusCompleted, redemption.Status)
				// 权益写入与流水插入同一事务
				grant := args.Get(2).(func(tx *gorm.DB) error)
				assert.NoError(t, grant(nil))
			}).Return(nil)
		f.users.On("GrantPromoPremium", mock.Anything, "user-1", "monthly", testNow.AddDate(0, 1, 0)).Return(nil)
		f.repo.On("IncrementUsedCount", "promo-1").Return(nil)
		f.repo.On("MarkRedemptionCounted", "red-1").Return(nil)

		outcome, err := f.redeemer.Redeem("VIPFREE", "user-1", "monthly")

		assert.NoError(t, err)
		assert.True(t, outcome.Success)
		assert.True(t, outcome.FreeAccess)
		assert.False(t, outcome.RedirectToPayment)
		f.repo.AssertExpectations(t)
		f.users.AssertExpectations(t)
	})

	t.Run("Counter failure is queued and does not fail the redemption", func(t *testing.T) {
		f := newRedeemerFixture()
		promo := createTestPromo("promo-1", "VIPFREE", 100)

		f.validator.On("Validate", "VIPFREE", "user-1", "yearly").Return(validVerdict(promo), nil)
		f.repo.On("ReserveRedemption", mock.Anything, 1, mock.Anything).
			Run(func(args mock.Arguments) {
				args.Get(0).(*model.PromoCodeRedemption).ID = "red-2"
			}).Return(nil)
		f.repo.On("IncrementUsedCount", "promo-1").Return(errors.New("connection reset"))
		f.retries.On("Enqueue", "red-2", "promo-1", false).Return()

		outcome, err := f.redeemer.Redeem("VIPFREE", "user-1", "yearly")

		assert.NoError(t, err)
		assert.True(t, outcome.Success)
		f.retries.AssertExpectations(t)
		f.repo.AssertNotCalled(t, "MarkRedemptionCounted", mock.Anything)
	})

	t.Run("Mark failure after successful increment queues with count applied", func(t *testing.T) {
		f := newRedeemerFixture()
		promo := createTestPromo("promo-1", "VIPFREE", 100)

		f.validator.On("Validate", "VIPFREE", "user-1", "monthly").Return(validVerdict(promo), nil)
		f.repo.On("ReserveRedemption", mock.Anything, 1, mock.Anything).
			Run(func(args mock.Arguments) {
				args.Get(0).(*model.PromoCodeRedemption).ID = "red-3"
			}).Return(nil)
		f.repo.On("IncrementUsedCount", "promo-1").Return(nil)
		f.repo.On("MarkRedemptionCounted", "red-3").Return(errors.New("connection reset"))
		f.retries.On("Enqueue", "red-3", "promo-1", true).Return()

		outcome, err := f.redeemer.Redeem("VIPFREE", "user-1", "monthly")

		assert.NoError(t, err)
		assert.True(t, outcome.Success)
		f.retries.AssertExpectations(t)
	})

	t.Run("Concurrent slot loss maps to already used", func(t *testing.T) {
		f := newRedeemerFixture()
		promo := createTestPromo("promo-1", "VIPFREE", 100)

		f.validator.On("Validate", "VIPFREE", "user-1", "monthly").Return(validVerdict(promo), nil)
		f.repo.On("ReserveRedemption", mock.Anything, 1, mock.Anything).Return(repository.ErrUsageSlotTaken)

		outcome, err := f.redeemer.Redeem("VIPFREE", "user-1", "monthly")

		assert.NoError(t, err)
		assert.False(t, outcome.Success)
		assert.Equal(t, ReasonAlreadyUsed, outcome.Reason)
		f.repo.AssertNotCalled(t, "IncrementUsedCount", mock.Anything)
	})
}

func TestRedeemPartialDiscount(t *testing.T) {
	t.Run("Partial discount reserves pending ledger row", func(t *testing.T) {
		f := newRedeemerFixture()
		promo := createTestPromo("promo-2", "SAVE20", 20)

		f.validator.On("Validate", "SAVE20", "user-1", "monthly").Return(validVerdict(promo), nil)
		f.repo.On("ReserveRedemption", mock.AnythingOfType("*model.PromoCodeRedemption"), 1, mock.Anything).
			Run(func(args mock.Arguments) {
				redemption := args.Get(0).(*model.PromoCodeRedemption)
				assert.Equal(t, model.RedemptionStatusPending, redemption.Status)
				assert.Equal(t, "SAVE20", redemption.PromoCode)
				assert.Equal(t, 20, redemption.DiscountPercent)
				assert.Nil(t, args.Get(2))
			}).Return(nil)

		outcome, err := f.redeemer.Redeem("SAVE20", "user-1", "monthly")

		assert.NoError(t, err)
		assert.True(t, outcome.Success)
		assert.True(t, outcome.RedirectToPayment)
		assert.False(t, outcome.FreeAccess)
		assert.Equal(t, 20, outcome.DiscountPercent)
		// 权益与计数都等支付回调，此刻不动
		f.users.AssertNotCalled(t, "GrantPromoPremium", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		f.repo.AssertNotCalled(t, "IncrementUsedCount", mock.Anything)
	})
}

func TestRedeemRejections(t *testing.T) {
	t.Run("Invalid verdict writes nothing", func(t *testing.T) {
		f := newRedeemerFixture()

		f.validator.On("Validate", "OLD", "user-1", "monthly").Return(Verdict{Reason: ReasonExpired}, nil)

		outcome, err := f.redeemer.Redeem("OLD", "user-1", "monthly")

		assert.NoError(t, err)
		assert.False(t, outcome.Success)
		assert.Equal(t, ReasonExpired, outcome.Reason)
		f.repo.AssertNotCalled(t, "ReserveRedemption", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Unknown plan rejected before reservation", func(t *testing.T) {
		f := newRedeemerFixture()
		promo := createTestPromo("promo-2", "SAVE20", 20)

		f.validator.On("Validate", "SAVE20", "user-1", "lifetime").Return(validVerdict(promo), nil)

		outcome, err := f.redeemer.Redeem("SAVE20", "user-1", "lifetime")

		assert.NoError(t, err)
		assert.Equal(t, ReasonPlanMismatch, outcome.Reason)
		f.repo.AssertNotCalled(t, "ReserveRedemption", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Validator storage failure propagates", func(t *testing.T) {
		f := newRedeemerFixture()

		f.validator.On("Validate", "SAVE20", "user-1", "monthly").Return(Verdict{}, errors.New("db down"))

		_, err := f.redeemer.Redeem("SAVE20", "user-1", "monthly")

		assert.Error(t, err)
	})
}

func TestMarkRedemptionApplied(t *testing.T) {
	t.Run("Pending row advances to applied", func(t *testing.T) {
		f := newRedeemerFixture()
		redemption := &model.PromoCodeRedemption{
			BaseModel:   baseModel.BaseModel{ID: "red-8"},
			UserID:      "user-1",
			PromoCodeID: "promo-2",
			PromoCode:   "SAVE20",
			Status:      model.RedemptionStatusPending,
		}

		f.repo.On("GetOpenRedemption", "user-1", "SAVE20").Return(redemption, nil)
		f.repo.On("UpdateRedemptionStatus", "red-8", model.RedemptionStatusApplied).Return(nil)

		err := f.redeemer.MarkRedemptionApplied("user-1", "SAVE20")

		assert.NoError(t, err)
		f.repo.AssertExpectations(t)
		// 只推进状态，不动权益也不计数
		f.repo.AssertNotCalled(t, "IncrementUsedCount", mock.Anything)
	})
}

func TestResolvePendingRedemption(t *testing.T) {
	t.Run("Open row completed and counted", func(t *testing.T) {
		f := newRedeemerFixture()
		redemption := &model.PromoCodeRedemption{
			BaseModel:   baseModel.BaseModel{ID: "red-9"},
			UserID:      "user-1",
			PromoCodeID: "promo-2",
			PromoCode:   "SAVE20",
			Status:      model.RedemptionStatusApplied,
		}

		f.repo.On("GetOpenRedemption", "user-1", "SAVE20").Return(redemption, nil)
		f.repo.On("UpdateRedemptionStatus", "red-9", model.RedemptionStatusCompleted).Return(nil)
		f.repo.On("IncrementUsedCount", "promo-2").Return(nil)
		f.repo.On("MarkRedemptionCounted", "red-9").Return(nil)

		err := f.redeemer.ResolvePendingRedemption("user-1", "SAVE20")

		assert.NoError(t, err)
		f.repo.AssertExpectations(t)
	})

	t.Run("Missing open row surfaces not found", func(t *testing.T) {
		f := newRedeemerFixture()

		f.repo.On("GetOpenRedemption", "user-1", "SAVE20").Return(nil, gorm.ErrRecordNotFound)

		err := f.redeemer.ResolvePendingRedemption("user-1", "SAVE20")

		assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
		f.repo.AssertNotCalled(t, "UpdateRedemptionStatus", mock.Anything, mock.Anything)
	})
}
