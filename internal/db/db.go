package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/teslabit/tradesim/internal/ledger"
	"github.com/teslabit/tradesim/internal/models"
	"github.com/teslabit/tradesim/internal/wallet"
)

var ErrNotFound = errors.New("not found")

// DB wraps a PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB initializes a new database connection pool with shopspring decimal
// codecs registered, so NUMERIC columns scan straight into decimal.Decimal.
func NewDB(ctx context.Context, connString string) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool
func (db *DB) Close() {
	db.Pool.Close()
}

// CreateUser inserts a new user together with its zeroed holding. The two
// rows are created in one transaction so a user never exists without a
// holding.
func (db *DB) CreateUser(ctx context.Context, u models.User) (*models.User, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	user := &models.User{}
	err = tx.QueryRow(ctx,
		`INSERT INTO users (id, email, phone, name, role, password_hash)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, email, phone, name, role, password_hash, created_at`,
		u.ID, u.Email, u.Phone, u.Name, u.Role, u.PasswordHash).Scan(
		&user.ID, &user.Email, &user.Phone, &user.Name, &user.Role, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO holdings (user_id, tesla_shares, bitcoin_balance, cumulative_usd_cost)
		 VALUES ($1, 0, 0, 0)`, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create holding: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return user, nil
}

// GetUserByIdentifier retrieves a user by email or phone number.
func (db *DB) GetUserByIdentifier(ctx context.Context, identifier string) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		`SELECT id, email, phone, name, role, password_hash, created_at
		 FROM users WHERE email = $1 OR phone = $1`, identifier).Scan(
		&user.ID, &user.Email, &user.Phone, &user.Name, &user.Role, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetHolding retrieves a user's holding.
func (db *DB) GetHolding(ctx context.Context, userID uuid.UUID) (models.Holding, error) {
	var h models.Holding
	err := db.Pool.QueryRow(ctx,
		`SELECT user_id, tesla_shares, bitcoin_balance, cumulative_usd_cost, updated_at
		 FROM holdings WHERE user_id = $1`, userID).Scan(
		&h.UserID, &h.TeslaShares, &h.BitcoinBalance, &h.CumulativeUsdCost, &h.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Holding{}, ErrNotFound
		}
		return models.Holding{}, fmt.Errorf("failed to get holding: %w", err)
	}
	return h, nil
}

func lockHolding(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (models.Holding, error) {
	var h models.Holding
	err := tx.QueryRow(ctx,
		`SELECT user_id, tesla_shares, bitcoin_balance, cumulative_usd_cost, updated_at
		 FROM holdings WHERE user_id = $1 FOR UPDATE`, userID).Scan(
		&h.UserID, &h.TeslaShares, &h.BitcoinBalance, &h.CumulativeUsdCost, &h.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Holding{}, ErrNotFound
		}
		return models.Holding{}, fmt.Errorf("failed to lock holding: %w", err)
	}
	return h, nil
}

func writeHolding(ctx context.Context, tx pgx.Tx, h models.Holding) error {
	_, err := tx.Exec(ctx,
		`UPDATE holdings
		 SET tesla_shares = $2, bitcoin_balance = $3, cumulative_usd_cost = $4, updated_at = now()
		 WHERE user_id = $1`,
		h.UserID, h.TeslaShares, h.BitcoinBalance, h.CumulativeUsdCost)
	if err != nil {
		return fmt.Errorf("failed to update holding: %w", err)
	}
	return nil
}

func insertTransaction(ctx context.Context, tx pgx.Tx, t models.Transaction) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO transactions (id, user_id, kind, shares, usd_amount, btc_amount, fee)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.UserID, t.Kind, t.Shares, t.UsdAmount, t.BtcAmount, t.Fee)
	if err != nil {
		return fmt.Errorf("failed to record transaction: %w", err)
	}
	return nil
}

// PurchaseTeslaShares applies a share purchase to a user's holding. The
// holding row is locked for the duration of the transaction, so concurrent
// sessions on the same account serialize and the balance check cannot race
// the debit. The quotes are the caller's snapshot; they are applied as-is.
func (db *DB) PurchaseTeslaShares(ctx context.Context, userID uuid.UUID, shareCount int64, tesla, bitcoin models.Quote) (ledger.TradeReceipt, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return ledger.TradeReceipt{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	h, err := lockHolding(ctx, tx, userID)
	if err != nil {
		return ledger.TradeReceipt{}, err
	}

	receipt, err := ledger.BuyShares(h, shareCount, tesla, bitcoin)
	if err != nil {
		return ledger.TradeReceipt{}, err
	}

	if err := writeHolding(ctx, tx, receipt.Holding); err != nil {
		return ledger.TradeReceipt{}, err
	}
	err = insertTransaction(ctx, tx, models.Transaction{
		ID:        uuid.New(),
		UserID:    userID,
		Kind:      models.TxTeslaBuy,
		Shares:    shareCount,
		UsdAmount: receipt.UsdCost,
		BtcAmount: receipt.BtcDebited,
		Fee:       decimal.Zero,
	})
	if err != nil {
		return ledger.TradeReceipt{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return ledger.TradeReceipt{}, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return receipt, nil
}

// PurchaseBitcoin credits a user's holding with purchased bitcoin and the
// admin custody wallet with the same amount, atomically.
func (db *DB) PurchaseBitcoin(ctx context.Context, userID uuid.UUID, usdAmount decimal.Decimal, bitcoin models.Quote, feeRate decimal.Decimal) (ledger.PurchaseReceipt, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return ledger.PurchaseReceipt{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	h, err := lockHolding(ctx, tx, userID)
	if err != nil {
		return ledger.PurchaseReceipt{}, err
	}

	receipt, err := ledger.BuyBitcoin(h, usdAmount, bitcoin, feeRate)
	if err != nil {
		return ledger.PurchaseReceipt{}, err
	}

	if err := writeHolding(ctx, tx, receipt.Holding); err != nil {
		return ledger.PurchaseReceipt{}, err
	}
	_, err = tx.Exec(ctx,
		`UPDATE admin_wallet SET balance = balance + $1, updated_at = now() WHERE id = 1`,
		receipt.BtcCredited)
	if err != nil {
		return ledger.PurchaseReceipt{}, fmt.Errorf("failed to credit admin wallet: %w", err)
	}
	err = insertTransaction(ctx, tx, models.Transaction{
		ID:        uuid.New(),
		UserID:    userID,
		Kind:      models.TxBitcoinBuy,
		UsdAmount: usdAmount,
		BtcAmount: receipt.BtcCredited,
		Fee:       receipt.Fee,
	})
	if err != nil {
		return ledger.PurchaseReceipt{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return ledger.PurchaseReceipt{}, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return receipt, nil
}

// AdminWalletBalance returns the custody wallet balance.
func (db *DB) AdminWalletBalance(ctx context.Context) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := db.Pool.QueryRow(ctx, `SELECT balance FROM admin_wallet WHERE id = 1`).Scan(&balance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get admin wallet balance: %w", err)
	}
	return balance, nil
}

// WithdrawBitcoin debits the admin custody wallet. The wallet row is locked
// so concurrent withdrawals serialize against the balance check.
func (db *DB) WithdrawBitcoin(ctx context.Context, adminID uuid.UUID, destination string, amount, networkFee decimal.Decimal) (wallet.Withdrawal, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return wallet.Withdrawal{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var balance decimal.Decimal
	if err := tx.QueryRow(ctx, `SELECT balance FROM admin_wallet WHERE id = 1 FOR UPDATE`).Scan(&balance); err != nil {
		return wallet.Withdrawal{}, fmt.Errorf("failed to lock admin wallet: %w", err)
	}

	w, err := wallet.Withdraw(balance, destination, amount, networkFee)
	if err != nil {
		return wallet.Withdrawal{}, err
	}

	_, err = tx.Exec(ctx,
		`UPDATE admin_wallet SET balance = $1, updated_at = now() WHERE id = 1`, w.NewBalance)
	if err != nil {
		return wallet.Withdrawal{}, fmt.Errorf("failed to update admin wallet: %w", err)
	}
	err = insertTransaction(ctx, tx, models.Transaction{
		ID:        uuid.New(),
		UserID:    adminID,
		Kind:      models.TxBitcoinOutlay,
		BtcAmount: amount,
		Fee:       networkFee,
	})
	if err != nil {
		return wallet.Withdrawal{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return wallet.Withdrawal{}, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return w, nil
}

// GetUserTransactions retrieves a user's audit trail, newest first.
func (db *DB) GetUserTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]models.Transaction, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT id, user_id, kind, shares, usd_amount, btc_amount, fee, created_at
		 FROM transactions WHERE user_id = $1
		 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get transactions: %w", err)
	}
	defer rows.Close()

	var txs []models.Transaction
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Kind, &t.Shares, &t.UsdAmount, &t.BtcAmount, &t.Fee, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

// Overview aggregates per-user holdings with platform totals and the most
// recent purchases, for the admin panel.
func (db *DB) Overview(ctx context.Context) (models.Overview, error) {
	var ov models.Overview

	rows, err := db.Pool.Query(ctx, `
		SELECT u.id, u.email, u.phone, u.name, h.tesla_shares, h.bitcoin_balance
		FROM users u JOIN holdings h ON h.user_id = u.id
		WHERE u.role = 'user'
		ORDER BY u.created_at ASC`)
	if err != nil {
		return models.Overview{}, fmt.Errorf("failed to get overview: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var s models.UserSummary
		if err := rows.Scan(&s.UserID, &s.Email, &s.Phone, &s.Name, &s.TeslaShares, &s.BitcoinBalance); err != nil {
			return models.Overview{}, fmt.Errorf("failed to scan overview row: %w", err)
		}
		ov.Users = append(ov.Users, s)
		ov.TotalTeslaShares += s.TeslaShares
		ov.TotalBitcoin = ov.TotalBitcoin.Add(s.BitcoinBalance)
	}
	if err := rows.Err(); err != nil {
		return models.Overview{}, err
	}

	ov.WalletBalance, err = db.AdminWalletBalance(ctx)
	if err != nil {
		return models.Overview{}, err
	}

	recent, err := db.recentPurchases(ctx, 20)
	if err != nil {
		return models.Overview{}, err
	}
	ov.RecentPurchases = recent
	return ov, nil
}

func (db *DB) recentPurchases(ctx context.Context, limit int) ([]models.Transaction, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT id, user_id, kind, shares, usd_amount, btc_amount, fee, created_at
		 FROM transactions WHERE kind IN ('tesla_buy', 'btc_purchase')
		 ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent purchases: %w", err)
	}
	defer rows.Close()

	var txs []models.Transaction
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Kind, &t.Shares, &t.UsdAmount, &t.BtcAmount, &t.Fee, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}
