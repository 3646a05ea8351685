package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log"

	"github.com/spf13/viper"
)

var (
	ErrInvalidWebhookEvent = errors.New("invalid webhook event")
	ErrUnresolvedUser      = errors.New("cannot resolve user for webhook")
	ErrUnknownProduct      = errors.New("cannot resolve credits for product")
)

// PaymentWebhook is the payment provider's delivery payload. Amount is kept
// only for logging; credited amounts always come from the package catalog.
type PaymentWebhook struct {
	Event        string `json:"event"`
	OrderID      string `json:"order_id"`
	ProductID    string `json:"product_id"`
	ProductName  string `json:"product_name"`
	BuyerEmail   string `json:"buyer_email"`
	BuyerID      string `json:"buyer_id"`
	Amount       int64  `json:"amount"`
	CustomFields struct {
		UserID string `json:"user_id"`
	} `json:"custom_fields"`
}

type WebhookStatus string

const (
	WebhookApplied   WebhookStatus = "applied"
	WebhookIgnored   WebhookStatus = "ignored"
	WebhookDuplicate WebhookStatus = "duplicate"
)

type WebhookOutcome struct {
	Status       WebhookStatus
	CreditsAdded int64
	NewBalance   int64
	Message      string
}

// WebhookService turns verified payment-completion events into ledger credits.
type WebhookService struct {
	db       *sql.DB
	ledger   *CreditLedgerService
	packages *PackageService
	secret   string
	env      string

	allowedEvents map[string]bool
}

func NewWebhookService(db *sql.DB, ledger *CreditLedgerService, packages *PackageService) *WebhookService {
	viper.SetDefault("app.env", "development")
	return &WebhookService{
		db:       db,
		ledger:   ledger,
		packages: packages,
		secret:   viper.GetString("webhook.secret"),
		env:      viper.GetString("app.env"),
		allowedEvents: map[string]bool{
			"payment.completed": true,
			"order.completed":   true,
		},
	}
}

// VerifySignature checks the HMAC-SHA256 hex signature computed over the raw
// request body. An unset secret is tolerated only outside production.
func (s *WebhookService) VerifySignature(body []byte, signature string) bool {
	if s.secret == "" {
		if s.env == "production" {
			log.Println("webhook secret not configured in production, rejecting delivery")
			return false
		}
		log.Println("webhook secret not configured, skipping verification (development)")
		return true
	}

	mac := hmac.New(sha256.New, []byte(s.secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Process runs the post-signature pipeline: event filter, user resolution,
// catalog pricing, dedup, then the idempotent Credit. Replays of the same
// order id short-circuit as duplicates before touching the ledger.
func (s *WebhookService) Process(ctx context.Context, payload PaymentWebhook) (WebhookOutcome, error) {
	if payload.Event == "" {
		return WebhookOutcome{}, ErrInvalidWebhookEvent
	}
	if !s.allowedEvents[payload.Event] {
		return WebhookOutcome{Status: WebhookIgnored, Message: "event ignored"}, nil
	}
	if payload.ProductID == "" && payload.OrderID == "" {
		return WebhookOutcome{}, ErrInvalidWebhookEvent
	}

	userID, err := s.resolveUser(ctx, payload)
	if err != nil {
		return WebhookOutcome{}, err
	}

	pkg, err := s.packages.FindByProductID(ctx, payload.ProductID)
	if err != nil {
		if errors.Is(err, ErrPackageNotFound) || payload.ProductID == "" {
			// No amount-based fallback: an unmatched product is rejected.
			return WebhookOutcome{}, ErrUnknownProduct
		}
		return WebhookOutcome{}, err
	}

	if payload.OrderID != "" {
		var exists bool
		if err := s.db.QueryRowContext(ctx, referenceExistsQuery, payload.OrderID).Scan(&exists); err != nil {
			return WebhookOutcome{}, fmt.Errorf("order dedup check: %w", err)
		}
		if exists {
			bal, err := s.ledger.Balance(ctx, userID)
			if err != nil {
				return WebhookOutcome{}, err
			}
			return WebhookOutcome{Status: WebhookDuplicate, NewBalance: bal.Balance, Message: "order already processed"}, nil
		}
	}

	description := fmt.Sprintf("%d credits purchased", pkg.Credits)
	if payload.ProductName != "" {
		description = payload.ProductName + " purchase"
	}

	result, err := s.ledger.Credit(ctx, userID, pkg.Credits, description, payload.OrderID)
	if err != nil {
		return WebhookOutcome{}, fmt.Errorf("apply credit: %w", err)
	}

	log.Printf("webhook credited user %s: +%d credits, balance %d (order %s)",
		userID, pkg.Credits, result.NewBalance, payload.OrderID)

	return WebhookOutcome{
		Status:       WebhookApplied,
		CreditsAdded: pkg.Credits,
		NewBalance:   result.NewBalance,
		Message:      "credits added",
	}, nil
}

func (s *WebhookService) resolveUser(ctx context.Context, payload PaymentWebhook) (string, error) {
	if payload.CustomFields.UserID != "" {
		return payload.CustomFields.UserID, nil
	}
	if payload.BuyerID != "" {
		return payload.BuyerID, nil
	}
	if payload.BuyerEmail != "" {
		var id string
		err := s.db.QueryRowContext(ctx, `SELECT id FROM profiles WHERE email = $1`, payload.BuyerEmail).Scan(&id)
		if err == nil {
			return id, nil
		}
		if err != sql.ErrNoRows {
			return "", fmt.Errorf("profile lookup: %w", err)
		}
	}
	return "", ErrUnresolvedUser
}
