package models

import (
	"time"
)

type TransactionType string

const (
	TxnPurchase TransactionType = "purchase"
	TxnUsage    TransactionType = "usage"
	TxnRefund   TransactionType = "refund"
)

// CreditBalance mirrors one row of user_credits. The row is created lazily on
// the first credit or debit for a user and is only ever mutated by the ledger.
// Invariant: Balance == TotalPurchased - TotalUsed and Balance >= 0.
type CreditBalance struct {
	UserID         string    `json:"user_id" db:"user_id"`
	Balance        int64     `json:"balance" db:"balance"`
	TotalPurchased int64     `json:"total_purchased" db:"total_purchased"`
	TotalUsed      int64     `json:"total_used" db:"total_used"`
	UpdatedAt      time.Time `json:"updated_at,omitempty" db:"updated_at"`
}

// CreditTransaction is an append-only ledger entry. Amount is signed: positive
// for purchase/refund, negative for usage. ReferenceID carries the external
// correlation key (order id, generation id) and doubles as the idempotency key.
type CreditTransaction struct {
	ID          string          `json:"id" db:"id"`
	UserID      string          `json:"user_id" db:"user_id"`
	Amount      int64           `json:"amount" db:"amount"`
	Type        TransactionType `json:"type" db:"type"`
	Description string          `json:"description" db:"description"`
	ReferenceID *string         `json:"reference_id,omitempty" db:"reference_id"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// CreditPackage is a catalog row. The webhook resolves credited amounts only
// through ProductID lookups, never from payload-provided amounts.
type CreditPackage struct {
	ID         string `json:"id" db:"id"`
	Name       string `json:"name" db:"name"`
	Credits    int64  `json:"credits" db:"credits"`
	PriceCents int64  `json:"price_cents" db:"price_cents"`
	ProductID  string `json:"product_id" db:"product_id"`
	IsActive   bool   `json:"is_active" db:"is_active"`
	SortOrder  int    `json:"sort_order" db:"sort_order"`
}

// Profile is a minimal mirror of the external auth provider's profile table,
// kept so webhook events carrying only a buyer email can be resolved to a user.
type Profile struct {
	ID    string `json:"id" db:"id"`
	Email string `json:"email" db:"email"`
}
