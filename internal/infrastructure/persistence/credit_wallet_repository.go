package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/aimeter/backend/internal/domain/metering"
	"github.com/aimeter/backend/internal/domain/shared"
	"github.com/aimeter/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormCreditWalletRepository implements metering.CreditWalletRepository.
// Mutations hold a SELECT ... FOR UPDATE row lock on the wallet for the
// length of the transaction.
type GormCreditWalletRepository struct {
	db *gorm.DB
}

// NewGormCreditWalletRepository creates a new wallet repository
func NewGormCreditWalletRepository(db *gorm.DB) *GormCreditWalletRepository {
	return &GormCreditWalletRepository{db: db}
}

// FindByBillable retrieves the wallet of a billable
func (r *GormCreditWalletRepository) FindByBillable(ctx context.Context, billable metering.BillableRef) (*metering.CreditWallet, error) {
	var model models.CreditWalletModel
	err := r.db.WithContext(ctx).
		Scopes(billableScope(billable)).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// Mutate locks the wallet row, applies fn and persists the new balance
// together with the returned ledger entry
func (r *GormCreditWalletRepository) Mutate(
	ctx context.Context,
	billable metering.BillableRef,
	currency string,
	fn metering.WalletMutation,
) (*metering.CreditWallet, *metering.CreditTransaction, error) {
	var (
		wallet *metering.CreditWallet
		txn    *metering.CreditTransaction
	)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model, err := lockWallet(tx, billable)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			model, err = createWallet(tx, billable, currency)
		}
		if err != nil {
			return err
		}

		wallet = model.ToDomain()
		txn, err = fn(wallet)
		if err != nil {
			return err
		}

		if err := tx.Model(&models.CreditWalletModel{}).
			Where("id = ?", wallet.ID).
			Updates(map[string]any{
				"balance":    wallet.Balance,
				"updated_at": wallet.UpdatedAt,
			}).Error; err != nil {
			return fmt.Errorf("failed to update wallet balance: %w", err)
		}

		if txn != nil {
			txn.WalletID = wallet.ID
			if err := tx.Create(models.CreditTransactionModelFromDomain(txn)).Error; err != nil {
				return fmt.Errorf("failed to append credit transaction: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return wallet, txn, nil
}

// ListTransactions lists ledger entries of a wallet, newest first
func (r *GormCreditWalletRepository) ListTransactions(ctx context.Context, walletID uuid.UUID, limit int) ([]*metering.CreditTransaction, error) {
	query := r.db.WithContext(ctx).Where("wallet_id = ?", walletID).Order("occurred_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []models.CreditTransactionModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list credit transactions: %w", err)
	}
	txns := make([]*metering.CreditTransaction, len(rows))
	for i := range rows {
		txns[i] = rows[i].ToDomain()
	}
	return txns, nil
}

func lockWallet(tx *gorm.DB, billable metering.BillableRef) (*models.CreditWalletModel, error) {
	var model models.CreditWalletModel
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Scopes(billableScope(billable)).
		First(&model).Error
	if err != nil {
		return nil, err
	}
	return &model, nil
}

// createWallet inserts an empty wallet and locks it. A concurrent insert
// of the same wallet is absorbed by the unique index and the row is
// locked as it stands.
func createWallet(tx *gorm.DB, billable metering.BillableRef, currency string) (*models.CreditWalletModel, error) {
	wallet, err := metering.NewCreditWallet(billable, currency)
	if err != nil {
		return nil, err
	}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
		Create(models.CreditWalletModelFromDomain(wallet)).Error; err != nil {
		return nil, fmt.Errorf("failed to create wallet: %w", err)
	}
	model, err := lockWallet(tx, billable)
	if err != nil {
		return nil, fmt.Errorf("failed to lock wallet: %w", err)
	}
	return model, nil
}

var _ metering.CreditWalletRepository = (*GormCreditWalletRepository)(nil)
