package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/cashback/internal/clock"
	"github.com/smallbiznis/cashback/internal/config"
	obsmetrics "github.com/smallbiznis/cashback/internal/observability/metrics"
	"github.com/smallbiznis/cashback/internal/wallet/domain"
	"github.com/smallbiznis/cashback/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const transactionColumns = `id, transaction_id, user_id, type, amount, currency, balance_before, balance_after,
	source_type, source_id, description, created_at`

// errAlreadyCredited rolls back a credit that lost the race on the source
// unique key.
var errAlreadyCredited = errors.New("already credited")

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Config     config.Config
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db              *gorm.DB
	log             *zap.Logger
	genID           *snowflake.Node
	clock           clock.Clock
	defaultCurrency string
	obsMetrics      *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:              p.DB,
		log:             p.Log.Named("wallet.service"),
		genID:           p.GenID,
		clock:           p.Clock,
		defaultCurrency: p.Config.Affiliate.DefaultCurrency,
		obsMetrics:      p.ObsMetrics,
	}
}

func (s *Service) CreditCashback(ctx context.Context, req domain.CreditRequest) (domain.Transaction, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return domain.Transaction{}, domain.ErrInvalidUserID
	}
	purchaseID := strings.TrimSpace(req.PurchaseID)
	if purchaseID == "" {
		return domain.Transaction{}, domain.ErrInvalidPurchaseID
	}
	if req.Amount.IsNegative() {
		return domain.Transaction{}, domain.ErrInvalidAmount
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.defaultCurrency
	}
	if currency == "" {
		return domain.Transaction{}, domain.ErrInvalidCurrency
	}

	existing, err := s.findBySource(ctx, s.db, purchaseID)
	if err != nil {
		return domain.Transaction{}, err
	}
	if existing != nil {
		return *existing, nil
	}

	amount := req.Amount.Round(2)
	now := s.clock.Now()
	txn := domain.Transaction{
		ID:            s.genID.Generate(),
		TransactionID: domain.NewTransactionID(),
		UserID:        userID,
		Type:          domain.TransactionTypeCashback,
		Amount:        amount,
		Currency:      currency,
		SourceType:    domain.SourceTypeAffiliatePurchase,
		SourceID:      purchaseID,
		Description:   strings.TrimSpace(req.Description),
		CreatedAt:     now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dialect := tx.Dialector.Name()
		if err := tx.WithContext(ctx).Exec(
			db.InsertIgnore(dialect, `INSERT INTO wallets (user_id, balance, currency, created_at, updated_at)
			 VALUES (?, 0, ?, ?, ?)`, "user_id"),
			userID, currency, now, now,
		).Error; err != nil {
			return err
		}

		// The increment takes the row lock, so the read below sees this
		// transaction's balance.
		if err := tx.WithContext(ctx).Exec(
			`UPDATE wallets SET balance = balance + ?, updated_at = ? WHERE user_id = ?`,
			amount, now, userID,
		).Error; err != nil {
			return err
		}
		var row struct{ Balance decimal.Decimal }
		if err := tx.WithContext(ctx).Raw(
			`SELECT balance FROM wallets WHERE user_id = ?`, userID,
		).Scan(&row).Error; err != nil {
			return err
		}
		txn.BalanceAfter = row.Balance
		txn.BalanceBefore = row.Balance.Sub(amount)

		result := tx.WithContext(ctx).Exec(
			db.InsertIgnore(dialect, `INSERT INTO wallet_transactions (`+transactionColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, "source_type, source_id, type"),
			txn.ID,
			txn.TransactionID,
			txn.UserID,
			txn.Type,
			txn.Amount,
			txn.Currency,
			txn.BalanceBefore,
			txn.BalanceAfter,
			txn.SourceType,
			txn.SourceID,
			txn.Description,
			txn.CreatedAt,
		)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return errAlreadyCredited
		}

		return tx.WithContext(ctx).Exec(
			db.InsertIgnore(dialect, `INSERT INTO user_cashbacks (id, user_id, purchase_id, brand_id, amount, currency, status,
				wallet_transaction_id, expires_at, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, "purchase_id"),
			s.genID.Generate(),
			userID,
			purchaseID,
			strings.TrimSpace(req.BrandID),
			amount,
			currency,
			domain.UserCashbackActive,
			txn.TransactionID,
			now.Add(domain.CashbackValidity),
			now,
		).Error
	})
	if errors.Is(err, errAlreadyCredited) {
		winner, findErr := s.findBySource(ctx, s.db, purchaseID)
		if findErr != nil {
			return domain.Transaction{}, findErr
		}
		if winner != nil {
			return *winner, nil
		}
	}
	if err != nil {
		return domain.Transaction{}, err
	}

	credited, _ := amount.Float64()
	s.obsMetrics.RecordCashbackCredited(ctx, currency, credited)
	s.log.Info("wallet.cashback.credited",
		zap.String("user_id", userID),
		zap.String("purchase_id", purchaseID),
		zap.String("transaction_id", txn.TransactionID),
		zap.String("amount", amount.StringFixed(2)),
	)
	return txn, nil
}

func (s *Service) CancelCashback(ctx context.Context, purchaseID, reason string) error {
	purchaseID = strings.TrimSpace(purchaseID)
	if purchaseID == "" {
		return domain.ErrInvalidPurchaseID
	}
	result := s.db.WithContext(ctx).Exec(
		`UPDATE user_cashbacks SET status = ?, cancel_reason = ?, cancelled_at = ?
		 WHERE purchase_id = ? AND status = ?`,
		domain.UserCashbackCancelled, strings.TrimSpace(reason), s.clock.Now(),
		purchaseID, domain.UserCashbackActive,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		s.log.Debug("wallet.cashback.cancel_skipped", zap.String("purchase_id", purchaseID))
		return nil
	}
	s.log.Info("wallet.cashback.cancelled",
		zap.String("purchase_id", purchaseID),
		zap.String("reason", reason),
	)
	return nil
}

func (s *Service) GetBalance(ctx context.Context, userID string) (domain.Wallet, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.Wallet{}, domain.ErrInvalidUserID
	}
	var wallet domain.Wallet
	if err := s.db.WithContext(ctx).Raw(
		`SELECT user_id, balance, currency, created_at, updated_at FROM wallets WHERE user_id = ?`, userID,
	).Scan(&wallet).Error; err != nil {
		return domain.Wallet{}, err
	}
	if wallet.UserID == "" {
		return domain.Wallet{UserID: userID, Balance: decimal.Zero, Currency: s.defaultCurrency}, nil
	}
	return wallet, nil
}

func (s *Service) findBySource(ctx context.Context, conn *gorm.DB, purchaseID string) (*domain.Transaction, error) {
	var txn domain.Transaction
	if err := conn.WithContext(ctx).Raw(
		`SELECT `+transactionColumns+` FROM wallet_transactions
		 WHERE source_type = ? AND source_id = ? AND type = ?`,
		domain.SourceTypeAffiliatePurchase, purchaseID, domain.TransactionTypeCashback,
	).Scan(&txn).Error; err != nil {
		return nil, err
	}
	if txn.ID == 0 {
		return nil, nil
	}
	return &txn, nil
}
