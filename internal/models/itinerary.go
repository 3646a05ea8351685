package models

// Destination is one stop of a trip. The autocomplete endpoint returns the
// same shape, so the client can feed search results straight back in.
type Destination struct {
	Name        string `json:"name" validate:"required"`
	Country     string `json:"country,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	Lat         string `json:"lat,omitempty"`
	Lon         string `json:"lon,omitempty"`
}

// GenerateItineraryRequest is the body of POST /itineraries/generate.
// Dates use YYYY-MM-DD.
type GenerateItineraryRequest struct {
	Destinations []Destination `json:"destinations" validate:"required,min=1,dive"`
	StartDate    string        `json:"startDate" validate:"required,datetime=2006-01-02"`
	EndDate      string        `json:"endDate" validate:"required,datetime=2006-01-02"`
	Companion    string        `json:"companion" validate:"required"`
	Styles       []string      `json:"styles" validate:"required,min=1"`
}

// CreditsUsage is attached to successful generation responses under "_credits".
type CreditsUsage struct {
	Used      int64 `json:"used"`
	Remaining int64 `json:"remaining"`
}

// City is a cleaned-up Nominatim search result.
type City struct {
	Name        string `json:"name"`
	Country     string `json:"country"`
	DisplayName string `json:"displayName"`
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
}
