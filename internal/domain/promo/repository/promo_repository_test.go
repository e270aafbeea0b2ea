package repository

import (
	"testing"
	"time"

	"sparkdate/internal/domain/promo/model"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	sqlDB, mock, err := sqlmock.New()
	assert.NoError(t, err)

	db, err := gorm.Open(postgres.New(postgres.Config{
		Conn:                 sqlDB,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
	})
	assert.NoError(t, err)
	return db, mock
}

func TestIncrementUsedCount(t *testing.T) {
	t.Run("Increment happens in the database, guarded by max uses", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewPromoRepository(db)

		// 软删除会把自定义条件括起来再追加 deleted_at 谓词
		mock.ExpectExec(`UPDATE "promo_codes" SET "used_count"=used_count \+ 1 WHERE \(id = \$1 AND \(max_uses IS NULL OR used_count < max_uses\)\) AND "promo_codes"\."deleted_at" IS NULL`).
			WithArgs("promo-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.IncrementUsedCount("promo-1")

		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("No row matched means the code is exhausted", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewPromoRepository(db)

		mock.ExpectExec(`UPDATE "promo_codes" SET "used_count"=used_count \+ 1`).
			WithArgs("promo-1").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := repo.IncrementUsedCount("promo-1")

		assert.ErrorIs(t, err, ErrCodeExhausted)
	})
}

func TestMarkRedemptionCounted(t *testing.T) {
	t.Run("Sets the usage counted flag only", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewPromoRepository(db)

		mock.ExpectExec(`UPDATE "promo_code_redemptions" SET "usage_counted"=\$1 WHERE id = \$2`).
			WithArgs(true, "red-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.MarkRedemptionCounted("red-1")

		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestUpdateRedemptionStatus(t *testing.T) {
	t.Run("Status transition touches updated at", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewPromoRepository(db)

		mock.ExpectExec(`UPDATE "promo_code_redemptions" SET "status"=\$1,"updated_at"=\$2 WHERE id = \$3`).
			WithArgs(model.RedemptionStatusCompleted, sqlmock.AnyArg(), "red-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.UpdateRedemptionStatus("red-1", model.RedemptionStatusCompleted)

		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestReserveRedemption(t *testing.T) {
	t.Run("Recount under lock rejects an occupied slot", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewPromoRepository(db)

		now := time.Now()
		promoColumns := []string{"id", "code", "discount_percent", "used_count",
			"max_uses_per_user", "valid_from", "valid_until", "is_active"}

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT \* FROM "promo_codes" WHERE id = \$1 .* FOR UPDATE`).
			WillReturnRows(sqlmock.NewRows(promoColumns).
				AddRow("promo-1", "SAVE20", 20, 0, 1, now.Add(-time.Hour), now.Add(time.Hour), true))
		mock.ExpectQuery(`SELECT count\(\*\) FROM "promo_code_redemptions" WHERE \(user_id = \$1 AND promo_code_id = \$2\)`).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
		mock.ExpectRollback()

		redemption := &model.PromoCodeRedemption{
			UserID:      "user-1",
			PromoCodeID: "promo-1",
			PromoCode:   "SAVE20",
			PlanID:      "monthly",
			RedeemedAt:  now,
			Status:      model.RedemptionStatusPending,
		}

		err := repo.ReserveRedemption(redemption, 1, nil)

		assert.ErrorIs(t, err, ErrUsageSlotTaken)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestExpireStaleRedemptions(t *testing.T) {
	t.Run("Open rows older than the cutoff are expired in bulk", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewPromoRepository(db)

		mock.ExpectExec(`UPDATE "promo_code_redemptions" SET "status"=\$1,"updated_at"=\$2 WHERE \(status IN \(\$3,\$4\) AND redeemed_at < \$5\)`).
			WillReturnResult(sqlmock.NewResult(0, 3))

		expired, err := repo.ExpireStaleRedemptions(time.Now().Add(-24 * time.Hour))

		assert.NoError(t, err)
		assert.Equal(t, int64(3), expired)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
