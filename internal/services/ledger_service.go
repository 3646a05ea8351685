package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/wanderplan/backend/internal/config"
	"github.com/wanderplan/backend/internal/metrics"
	"github.com/wanderplan/backend/internal/models"
)

var ErrAmountNotPositive = errors.New("amount must be positive")

// LedgerResult is the outcome of a Debit/Credit call. Success=false with a nil
// error means a business rejection (insufficient balance); infrastructure
// failures come back as errors.
type LedgerResult struct {
	Success    bool   `json:"success"`
	NewBalance int64  `json:"new_balance"`
	Message    string `json:"message"`
}

// CreditLedgerService owns all mutations of user_credits. Balance can only
// decrease through Debit, and every mutation appends a credit_transactions row
// inside the same database transaction.
type CreditLedgerService struct {
	db    *sql.DB
	redis *redis.Client
	cfg   *config.CreditsConfig
}

func NewCreditLedgerService(db *sql.DB, redisClient *redis.Client, cfg *config.CreditsConfig) *CreditLedgerService {
	if cfg == nil {
		cfg = config.LoadCreditsConfig()
	}
	return &CreditLedgerService{
		db:    db,
		redis: redisClient,
		cfg:   cfg,
	}
}

const (
	ensureRowQuery = `INSERT INTO user_credits (user_id, balance, total_purchased, total_used) VALUES ($1, 0, 0, 0) ON CONFLICT (user_id) DO NOTHING`

	// The sufficiency guard and the decrement are one statement: two
	// concurrent debits can never both pass a stale balance check.
	debitQuery = `UPDATE user_credits SET balance = balance - $2, total_used = total_used + $2, updated_at = now() WHERE user_id = $1 AND balance >= $2 RETURNING balance`

	purchaseQuery = `UPDATE user_credits SET balance = balance + $2, total_purchased = total_purchased + $2, updated_at = now() WHERE user_id = $1 RETURNING balance`

	refundQuery = `UPDATE user_credits SET balance = balance + $2, total_used = total_used - $2, updated_at = now() WHERE user_id = $1 RETURNING balance`

	insertTxnQuery = `INSERT INTO credit_transactions (id, user_id, amount, type, description, reference_id) VALUES ($1, $2, $3, $4, $5, $6)`

	selectBalanceQuery = `SELECT balance, total_purchased, total_used, updated_at FROM user_credits WHERE user_id = $1`

	referenceExistsQuery = `SELECT EXISTS(SELECT 1 FROM credit_transactions WHERE reference_id = $1)`
)

// Debit atomically withdraws amount credits from userID. On insufficient
// balance nothing is written and the current balance is reported back.
func (s *CreditLedgerService) Debit(ctx context.Context, userID string, amount int64, description, referenceID string) (LedgerResult, error) {
	if amount <= 0 {
		return LedgerResult{}, ErrAmountNotPositive
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return LedgerResult{}, fmt.Errorf("begin debit: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, ensureRowQuery, userID); err != nil {
		return LedgerResult{}, fmt.Errorf("ensure credits row: %w", err)
	}

	var newBalance int64
	err = tx.QueryRowContext(ctx, debitQuery, userID, amount).Scan(&newBalance)
	if err == sql.ErrNoRows {
		// Guard failed: report the balance we lost to, without mutation.
		var current int64
		if err := tx.QueryRowContext(ctx, `SELECT balance FROM user_credits WHERE user_id = $1`, userID).Scan(&current); err != nil {
			return LedgerResult{}, fmt.Errorf("read balance: %w", err)
		}
		return LedgerResult{Success: false, NewBalance: current, Message: "insufficient credits"}, nil
	}
	if err != nil {
		return LedgerResult{}, fmt.Errorf("debit update: %w", err)
	}

	if _, err := tx.ExecContext(ctx, insertTxnQuery,
		uuid.NewString(), userID, -amount, models.TxnUsage, description, nullable(referenceID)); err != nil {
		if isUniqueViolation(err) {
			return s.alreadyProcessed(ctx, userID)
		}
		return LedgerResult{}, fmt.Errorf("append usage transaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return LedgerResult{}, fmt.Errorf("commit debit: %w", err)
	}

	s.invalidateBalance(ctx, userID)
	metrics.LedgerTransactionsTotal.WithLabelValues(string(models.TxnUsage)).Inc()
	return LedgerResult{Success: true, NewBalance: newBalance, Message: "debited"}, nil
}

// Credit atomically deposits purchased credits. When referenceID was already
// applied the call is a no-op returning success with the existing balance,
// which makes webhook replays safe.
func (s *CreditLedgerService) Credit(ctx context.Context, userID string, amount int64, description, referenceID string) (LedgerResult, error) {
	return s.applyCredit(ctx, userID, amount, models.TxnPurchase, description, referenceID)
}

// Refund compensates a prior usage debit of the same amount. It restores
// balance by unwinding total_used, keeping balance == purchased - used intact.
func (s *CreditLedgerService) Refund(ctx context.Context, userID string, amount int64, description, referenceID string) (LedgerResult, error) {
	return s.applyCredit(ctx, userID, amount, models.TxnRefund, description, referenceID)
}

func (s *CreditLedgerService) applyCredit(ctx context.Context, userID string, amount int64, txnType models.TransactionType, description, referenceID string) (LedgerResult, error) {
	if amount <= 0 {
		return LedgerResult{}, ErrAmountNotPositive
	}

	// First idempotency layer. The unique index below is the second; this one
	// avoids opening a write transaction for the common replay case.
	if referenceID != "" {
		var exists bool
		if err := s.db.QueryRowContext(ctx, referenceExistsQuery, referenceID).Scan(&exists); err != nil {
			return LedgerResult{}, fmt.Errorf("reference lookup: %w", err)
		}
		if exists {
			return s.alreadyProcessed(ctx, userID)
		}
	}

	updateQuery := purchaseQuery
	if txnType == models.TxnRefund {
		updateQuery = refundQuery
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return LedgerResult{}, fmt.Errorf("begin credit: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, ensureRowQuery, userID); err != nil {
		return LedgerResult{}, fmt.Errorf("ensure credits row: %w", err)
	}

	var newBalance int64
	if err := tx.QueryRowContext(ctx, updateQuery, userID, amount).Scan(&newBalance); err != nil {
		return LedgerResult{}, fmt.Errorf("credit update: %w", err)
	}

	if _, err := tx.ExecContext(ctx, insertTxnQuery,
		uuid.NewString(), userID, amount, txnType, description, nullable(referenceID)); err != nil {
		if isUniqueViolation(err) {
			// A concurrent delivery won the race; its result stands.
			return s.alreadyProcessed(ctx, userID)
		}
		return LedgerResult{}, fmt.Errorf("append %s transaction: %w", txnType, err)
	}

	if err := tx.Commit(); err != nil {
		return LedgerResult{}, fmt.Errorf("commit credit: %w", err)
	}

	s.invalidateBalance(ctx, userID)
	metrics.LedgerTransactionsTotal.WithLabelValues(string(txnType)).Inc()
	return LedgerResult{Success: true, NewBalance: newBalance, Message: "credited"}, nil
}

func (s *CreditLedgerService) alreadyProcessed(ctx context.Context, userID string) (LedgerResult, error) {
	bal, err := s.readBalance(ctx, userID)
	if err != nil {
		return LedgerResult{}, err
	}
	return LedgerResult{Success: true, NewBalance: bal.Balance, Message: "already processed"}, nil
}

// Balance returns the credit summary for a user through the read-through
// cache. Unknown users get an implicit zero record. The cache is never the
// source of truth: it has a short TTL and is dropped after every local
// mutation.
func (s *CreditLedgerService) Balance(ctx context.Context, userID string) (models.CreditBalance, error) {
	if s.redis != nil {
		if cached, err := s.redis.Get(ctx, balanceKey(userID)).Bytes(); err == nil {
			var b models.CreditBalance
			if err := json.Unmarshal(cached, &b); err == nil {
				return b, nil
			}
		}
	}

	b, err := s.readBalance(ctx, userID)
	if err != nil {
		return models.CreditBalance{}, err
	}

	if s.redis != nil {
		if data, err := json.Marshal(b); err == nil {
			if err := s.redis.Set(ctx, balanceKey(userID), data, s.cfg.BalanceCacheTTL).Err(); err != nil {
				log.Printf("balance cache set failed: %v", err)
			}
		}
	}
	return b, nil
}

func (s *CreditLedgerService) readBalance(ctx context.Context, userID string) (models.CreditBalance, error) {
	b := models.CreditBalance{UserID: userID}
	err := s.db.QueryRowContext(ctx, selectBalanceQuery, userID).
		Scan(&b.Balance, &b.TotalPurchased, &b.TotalUsed, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return models.CreditBalance{UserID: userID, UpdatedAt: time.Time{}}, nil
	}
	if err != nil {
		return models.CreditBalance{}, fmt.Errorf("read credits: %w", err)
	}
	return b, nil
}

// Transactions lists a user's ledger entries, newest first.
func (s *CreditLedgerService) Transactions(ctx context.Context, userID string, limit int) ([]models.CreditTransaction, error) {
	if limit <= 0 {
		limit = s.cfg.TransactionLimit
	}
	if limit > s.cfg.TransactionMax {
		limit = s.cfg.TransactionMax
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, amount, type, description, reference_id, created_at
		   FROM credit_transactions
		  WHERE user_id = $1
		  ORDER BY created_at DESC
		  LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	txns := []models.CreditTransaction{}
	for rows.Next() {
		var t models.CreditTransaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Amount, &t.Type, &t.Description, &t.ReferenceID, &t.CreatedAt); err != nil {
			return nil, err
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

func (s *CreditLedgerService) invalidateBalance(ctx context.Context, userID string) {
	if s.redis == nil {
		return
	}
	if err := s.redis.Del(ctx, balanceKey(userID)).Err(); err != nil {
		log.Printf("balance cache invalidation failed for %s: %v", userID, err)
	}
}

func balanceKey(userID string) string {
	return "credits:balance:" + userID
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
