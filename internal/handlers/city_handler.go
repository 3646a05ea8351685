package handlers

import (
	"net/http"

	"github.com/wanderplan/backend/internal/services"
)

// CityHandler serves the public autocomplete endpoint backing the destination
// picker.
type CityHandler struct {
	service *services.CityService
}

func NewCityHandler(service *services.CityService) *CityHandler {
	return &CityHandler{service: service}
}

// Search looks up cities matching the q parameter.
// @Summary Search cities
// @Description Proxy to OpenStreetMap Nominatim with cached results
// @Tags cities
// @Produce json
// @Param q query string true "City name prefix (min 2 chars)"
// @Success 200 {object} handlers.APIResponse
// @Router /cities/search [get]
func (h *CityHandler) Search(w http.ResponseWriter, r *http.Request) {
	cities, err := h.service.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		WriteError(w, http.StatusInternalServerError, CodeAPIError, "City search failed", debugDetails(err.Error()))
		return
	}
	WriteSuccess(w, http.StatusOK, map[string]any{"cities": cities})
}
