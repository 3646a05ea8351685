package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/wanderplan/backend/internal/config"
	"github.com/wanderplan/backend/internal/models"
	"github.com/wanderplan/backend/internal/services"
)

type MockItineraryGenerator struct {
	mock.Mock
}

func (m *MockItineraryGenerator) GenerateItinerary(ctx context.Context, req models.GenerateItineraryRequest) (map[string]any, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]any), args.Error(1)
}

const validGenerateBody = `{
	"destinations": [{"name": "Lisbon"}],
	"startDate": "2026-05-01",
	"endDate": "2026-05-03",
	"companion": "couple",
	"styles": ["food"]
}`

func newTestGenerateHandler(db *sql.DB, generator services.ItineraryGenerator, refundOnFailure bool) *GenerateHandler {
	cfg := &config.CreditsConfig{
		CostPerGeneration: 1,
		RefundOnFailure:   refundOnFailure,
		BalanceCacheTTL:   30 * time.Second,
		TransactionLimit:  20,
		TransactionMax:    100,
	}
	return &GenerateHandler{
		ledger:    services.NewCreditLedgerService(db, nil, cfg),
		generator: generator,
		validator: services.NewValidationHelper(),
		cfg:       cfg,
		timeout:   5 * time.Second,
	}
}

func generateRequest(body string, userID string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/itineraries/generate", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req = req.WithContext(context.WithValue(req.Context(), "userID", userID))
	}
	return req
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func expectSuccessfulDebit(mock sqlmock.Sqlmock, userID string, remaining int64) {
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO user_credits").
		WithArgs(userID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`UPDATE user_credits SET balance = balance - \$2, total_used = total_used \+ \$2`).
		WithArgs(userID, int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(remaining))
	mock.ExpectExec("INSERT INTO credit_transactions").
		WithArgs(sqlmock.AnyArg(), userID, int64(-1), "usage", "Itinerary generation", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
}

func TestGenerateHandler_Generate(t *testing.T) {
	t.Run("requires authentication", func(t *testing.T) {
		handler := newTestGenerateHandler(nil, new(MockItineraryGenerator), false)

		rec := httptest.NewRecorder()
		handler.Generate(rec, generateRequest(validGenerateBody, ""))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		resp := decodeEnvelope(t, rec)
		assert.False(t, resp.Success)
		assert.Equal(t, CodeUnauthorized, resp.Error.Code)
	})

	t.Run("rejects unknown fields", func(t *testing.T) {
		handler := newTestGenerateHandler(nil, new(MockItineraryGenerator), false)

		rec := httptest.NewRecorder()
		handler.Generate(rec, generateRequest(`{"destinations":[{"name":"Lisbon"}],"surprise":true}`, "user-1"))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, CodeInvalidInput, decodeEnvelope(t, rec).Error.Code)
	})

	t.Run("rejects missing fields with details", func(t *testing.T) {
		handler := newTestGenerateHandler(nil, new(MockItineraryGenerator), false)

		rec := httptest.NewRecorder()
		handler.Generate(rec, generateRequest(`{"destinations":[{"name":"Lisbon"}]}`, "user-1"))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		resp := decodeEnvelope(t, rec)
		assert.Equal(t, CodeInvalidInput, resp.Error.Code)
		assert.NotNil(t, resp.Error.Details)
	})

	t.Run("rejects end date before start date", func(t *testing.T) {
		handler := newTestGenerateHandler(nil, new(MockItineraryGenerator), false)

		body := strings.Replace(validGenerateBody, "2026-05-03", "2026-04-01", 1)
		rec := httptest.NewRecorder()
		handler.Generate(rec, generateRequest(body, "user-1"))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("insufficient credits returns 402 before calling the model", func(t *testing.T) {
		db, dbMock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		generator := new(MockItineraryGenerator)
		handler := newTestGenerateHandler(db, generator, false)

		dbMock.ExpectBegin()
		dbMock.ExpectExec("INSERT INTO user_credits").
			WithArgs("user-1").
			WillReturnResult(sqlmock.NewResult(0, 0))
		dbMock.ExpectQuery(`UPDATE user_credits SET balance = balance - \$2, total_used = total_used \+ \$2`).
			WithArgs("user-1", int64(1)).
			WillReturnError(sql.ErrNoRows)
		dbMock.ExpectQuery(`SELECT balance FROM user_credits WHERE user_id = \$1`).
			WithArgs("user-1").
			WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(0))
		dbMock.ExpectRollback()

		rec := httptest.NewRecorder()
		handler.Generate(rec, generateRequest(validGenerateBody, "user-1"))

		assert.Equal(t, http.StatusPaymentRequired, rec.Code)
		resp := decodeEnvelope(t, rec)
		assert.Equal(t, CodeInsufficientCredits, resp.Error.Code)
		details, ok := resp.Error.Details.(map[string]any)
		assert.True(t, ok)
		assert.Equal(t, float64(0), details["balance"])
		assert.Equal(t, float64(1), details["required"])

		generator.AssertNotCalled(t, "GenerateItinerary")
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("successful generation attaches credits usage", func(t *testing.T) {
		db, dbMock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		generator := new(MockItineraryGenerator)
		generator.On("GenerateItinerary", mock.Anything, mock.Anything).
			Return(map[string]any{"title": "Lisbon Trip", "days": []any{}}, nil)

		handler := newTestGenerateHandler(db, generator, false)
		expectSuccessfulDebit(dbMock, "user-1", 4)

		rec := httptest.NewRecorder()
		handler.Generate(rec, generateRequest(validGenerateBody, "user-1"))

		assert.Equal(t, http.StatusOK, rec.Code)

		var itinerary map[string]any
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &itinerary))
		assert.Equal(t, "Lisbon Trip", itinerary["title"])

		credits, ok := itinerary["_credits"].(map[string]any)
		assert.True(t, ok)
		assert.Equal(t, float64(1), credits["used"])
		assert.Equal(t, float64(4), credits["remaining"])

		generator.AssertExpectations(t)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("failed generation keeps the debit by default", func(t *testing.T) {
		db, dbMock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		generator := new(MockItineraryGenerator)
		generator.On("GenerateItinerary", mock.Anything, mock.Anything).
			Return(nil, &services.UpstreamError{StatusCode: 500, Message: "backend overloaded"})

		handler := newTestGenerateHandler(db, generator, false)
		expectSuccessfulDebit(dbMock, "user-1", 0)
		// No refund statements are expected.

		rec := httptest.NewRecorder()
		handler.Generate(rec, generateRequest(validGenerateBody, "user-1"))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, CodeAPIError, decodeEnvelope(t, rec).Error.Code)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("failed generation refunds when configured", func(t *testing.T) {
		db, dbMock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		generator := new(MockItineraryGenerator)
		generator.On("GenerateItinerary", mock.Anything, mock.Anything).
			Return(nil, &services.UpstreamError{StatusCode: 500, Message: "backend overloaded"})

		handler := newTestGenerateHandler(db, generator, true)
		expectSuccessfulDebit(dbMock, "user-1", 0)

		dbMock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM credit_transactions WHERE reference_id = \$1\)`).
			WithArgs(sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		dbMock.ExpectBegin()
		dbMock.ExpectExec("INSERT INTO user_credits").
			WithArgs("user-1").
			WillReturnResult(sqlmock.NewResult(0, 0))
		dbMock.ExpectQuery(`UPDATE user_credits SET balance = balance \+ \$2, total_used = total_used - \$2`).
			WithArgs("user-1", int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(1))
		dbMock.ExpectExec("INSERT INTO credit_transactions").
			WithArgs(sqlmock.AnyArg(), "user-1", int64(1), "refund", "Refund: generation failed", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		dbMock.ExpectCommit()

		rec := httptest.NewRecorder()
		handler.Generate(rec, generateRequest(validGenerateBody, "user-1"))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("missing api key maps to its own error code", func(t *testing.T) {
		db, dbMock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		generator := new(MockItineraryGenerator)
		generator.On("GenerateItinerary", mock.Anything, mock.Anything).
			Return(nil, services.ErrAPIKeyMissing)

		handler := newTestGenerateHandler(db, generator, false)
		expectSuccessfulDebit(dbMock, "user-1", 4)

		rec := httptest.NewRecorder()
		handler.Generate(rec, generateRequest(validGenerateBody, "user-1"))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, CodeMissingAPIKey, decodeEnvelope(t, rec).Error.Code)
	})

	t.Run("timeout maps to 504", func(t *testing.T) {
		db, dbMock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		generator := new(MockItineraryGenerator)
		generator.On("GenerateItinerary", mock.Anything, mock.Anything).
			Return(nil, context.DeadlineExceeded)

		handler := newTestGenerateHandler(db, generator, false)
		expectSuccessfulDebit(dbMock, "user-1", 4)

		rec := httptest.NewRecorder()
		handler.Generate(rec, generateRequest(validGenerateBody, "user-1"))

		assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
		assert.Equal(t, CodeAPIError, decodeEnvelope(t, rec).Error.Code)
	})
}
