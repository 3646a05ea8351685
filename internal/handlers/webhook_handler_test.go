package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/wanderplan/backend/internal/config"
	"github.com/wanderplan/backend/internal/services"
)

func newTestWebhookHandler(db *sql.DB, secret, env string) *WebhookHandler {
	viper.Set("webhook.secret", secret)
	viper.Set("app.env", env)

	ledger := services.NewCreditLedgerService(db, nil, &config.CreditsConfig{CostPerGeneration: 1, TransactionLimit: 20, TransactionMax: 100})
	service := services.NewWebhookService(db, ledger, services.NewPackageService(db))
	return NewWebhookHandler(service)
}

func webhookRequest(body, signature string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payment", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set("X-Webhook-Signature", signature)
	}
	return req
}

func sign(secret, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestWebhookHandler_HandlePayment(t *testing.T) {
	t.Run("rejects bad signature", func(t *testing.T) {
		handler := newTestWebhookHandler(nil, "topsecret", "production")

		rec := httptest.NewRecorder()
		handler.HandlePayment(rec, webhookRequest(`{"event":"payment.completed"}`, "deadbeef"))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		var resp APIResponse
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, CodeInvalidWebhook, resp.Error.Code)
	})

	t.Run("rejects malformed payload", func(t *testing.T) {
		handler := newTestWebhookHandler(nil, "topsecret", "production")

		body := `{"event":`
		rec := httptest.NewRecorder()
		handler.HandlePayment(rec, webhookRequest(body, sign("topsecret", body)))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("acknowledges ignored events", func(t *testing.T) {
		db, dbMock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		handler := newTestWebhookHandler(db, "topsecret", "production")

		body := `{"event":"payment.refunded","order_id":"order-1"}`
		rec := httptest.NewRecorder()
		handler.HandlePayment(rec, webhookRequest(body, sign("topsecret", body)))

		assert.Equal(t, http.StatusOK, rec.Code)
		var resp map[string]any
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, true, resp["success"])
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("applies completed payments", func(t *testing.T) {
		db, dbMock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		handler := newTestWebhookHandler(db, "topsecret", "production")

		dbMock.ExpectQuery("SELECT id, name, credits, price_cents, product_id, is_active, sort_order").
			WithArgs("prod-starter").
			WillReturnRows(sqlmock.NewRows([]string{"id", "name", "credits", "price_cents", "product_id", "is_active", "sort_order"}).
				AddRow("pkg-1", "Starter", int64(10), int64(500), "prod-starter", true, 1))
		dbMock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM credit_transactions WHERE reference_id = \$1\)`).
			WithArgs("order-1").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		dbMock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM credit_transactions WHERE reference_id = \$1\)`).
			WithArgs("order-1").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		dbMock.ExpectBegin()
		dbMock.ExpectExec("INSERT INTO user_credits").
			WithArgs("user-1").
			WillReturnResult(sqlmock.NewResult(0, 0))
		dbMock.ExpectQuery(`UPDATE user_credits SET balance = balance \+ \$2, total_purchased = total_purchased \+ \$2`).
			WithArgs("user-1", int64(10)).
			WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(10))
		dbMock.ExpectExec("INSERT INTO credit_transactions").
			WithArgs(sqlmock.AnyArg(), "user-1", int64(10), "purchase", sqlmock.AnyArg(), "order-1").
			WillReturnResult(sqlmock.NewResult(1, 1))
		dbMock.ExpectCommit()

		body := `{"event":"payment.completed","order_id":"order-1","product_id":"prod-starter","custom_fields":{"user_id":"user-1"}}`
		rec := httptest.NewRecorder()
		handler.HandlePayment(rec, webhookRequest(body, sign("topsecret", body)))

		assert.Equal(t, http.StatusOK, rec.Code)
		var resp map[string]any
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, true, resp["success"])
		assert.Equal(t, float64(10), resp["credits_added"])
		assert.Equal(t, float64(10), resp["new_balance"])
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("rejects unmatched products", func(t *testing.T) {
		db, dbMock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		handler := newTestWebhookHandler(db, "topsecret", "production")

		dbMock.ExpectQuery("SELECT id, name, credits, price_cents, product_id, is_active, sort_order").
			WithArgs("prod-unknown").
			WillReturnError(sql.ErrNoRows)

		body := `{"event":"payment.completed","order_id":"order-1","product_id":"prod-unknown","custom_fields":{"user_id":"user-1"}}`
		rec := httptest.NewRecorder()
		handler.HandlePayment(rec, webhookRequest(body, sign("topsecret", body)))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		var resp APIResponse
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, CodeInvalidInput, resp.Error.Code)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})
}
