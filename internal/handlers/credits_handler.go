package handlers

import (
	"net/http"
	"strconv"

	"github.com/wanderplan/backend/internal/middleware"
	"github.com/wanderplan/backend/internal/services"
)

// CreditsHandler serves GET /credits with action=balance|transactions|packages.
// The packages action is public; balance and transactions need a bearer token.
type CreditsHandler struct {
	ledger   *services.CreditLedgerService
	packages *services.PackageService
}

func NewCreditsHandler(ledger *services.CreditLedgerService, packages *services.PackageService) *CreditsHandler {
	return &CreditsHandler{ledger: ledger, packages: packages}
}

// Query dispatches on the action query parameter.
// @Summary Query credits
// @Description Balance, transaction history or the purchasable package catalog
// @Tags credits
// @Produce json
// @Param action query string false "balance (default), transactions or packages"
// @Success 200 {object} handlers.APIResponse
// @Router /credits [get]
func (h *CreditsHandler) Query(w http.ResponseWriter, r *http.Request) {
	action := r.URL.Query().Get("action")

	if action == "packages" {
		pkgs, err := h.packages.ListActive(r.Context())
		if err != nil {
			WriteError(w, http.StatusInternalServerError, CodeInternalError, "Could not load credit packages", debugDetails(err.Error()))
			return
		}
		WriteSuccess(w, http.StatusOK, map[string]any{"packages": pkgs})
		return
	}

	userID, err := middleware.ResolveUserID(r)
	if err != nil {
		WriteError(w, http.StatusUnauthorized, CodeUnauthorized, "Sign-in required", nil)
		return
	}

	switch action {
	case "balance", "":
		balance, err := h.ledger.Balance(r.Context(), userID)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, CodeInternalError, "Could not load credit balance", debugDetails(err.Error()))
			return
		}
		WriteSuccess(w, http.StatusOK, balance)

	case "transactions":
		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				limit = n
			}
		}
		txns, err := h.ledger.Transactions(r.Context(), userID, limit)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, CodeInternalError, "Could not load transactions", debugDetails(err.Error()))
			return
		}
		WriteSuccess(w, http.StatusOK, map[string]any{"transactions": txns})

	default:
		WriteError(w, http.StatusBadRequest, CodeInvalidInput, "Unknown action", nil)
	}
}
