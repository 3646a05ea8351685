package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/wanderplan/backend/internal/models"
)

// Display labels for the trip preference codes the client sends. Unknown
// codes pass through verbatim so the prompt degrades gracefully.
var companionLabels = map[string]string{
	"alone":   "traveling solo",
	"friends": "with friends",
	"couple":  "as a couple",
	"family":  "with family",
}

var styleLabels = map[string]string{
	"food":      "food tours",
	"relax":     "relaxation",
	"activity":  "outdoor activities",
	"culture":   "arts & culture",
	"shopping":  "shopping",
	"nature":    "nature exploration",
	"photo":     "photo spots",
	"nightlife": "nightlife",
}

// TripDays returns the inclusive day count of a trip, e.g. 2026-05-01 to
// 2026-05-03 is 3 days.
func TripDays(startDate, endDate string) (int, error) {
	start, err := time.Parse("2006-01-02", startDate)
	if err != nil {
		return 0, fmt.Errorf("invalid start date: %w", err)
	}
	end, err := time.Parse("2006-01-02", endDate)
	if err != nil {
		return 0, fmt.Errorf("invalid end date: %w", err)
	}
	if end.Before(start) {
		return 0, fmt.Errorf("end date before start date")
	}
	return int(end.Sub(start).Hours()/24) + 1, nil
}

func destinationsToText(destinations []models.Destination) string {
	names := make([]string, 0, len(destinations))
	for _, d := range destinations {
		names = append(names, d.Name)
	}
	return strings.Join(names, " → ")
}

func stylesToText(styles []string) string {
	labels := make([]string, 0, len(styles))
	for _, s := range styles {
		if label, ok := styleLabels[s]; ok {
			labels = append(labels, label)
		} else {
			labels = append(labels, s)
		}
	}
	return strings.Join(labels, ", ")
}

func companionToText(companion string) string {
	if label, ok := companionLabels[companion]; ok {
		return label
	}
	return companion
}

// BuildItineraryPrompt renders the planning prompt sent to the model.
func BuildItineraryPrompt(req models.GenerateItineraryRequest) (string, error) {
	tripDays, err := TripDays(req.StartDate, req.EndDate)
	if err != nil {
		return "", err
	}

	destinationText := destinationsToText(req.Destinations)
	styleText := stylesToText(req.Styles)
	companionText := companionToText(req.Companion)

	return fmt.Sprintf(`You are an expert travel planner and evocative travel writer.
Create a detailed, inspiring itinerary for the following trip.

Trip details:
- Destinations: %s
- Dates: %s to %s (%d days)
- Traveling: %s
- Travel styles: %s

Strict rules:
1. Generate a full schedule for every one of the %d days. Do not stop early.
2. Group each day's stops by neighborhood to minimize travel time, and state how to get between stops.
3. Spread the selected travel styles evenly across the whole trip.
4. Only recommend well-reviewed places, and describe each one in at least two sentences with an evocative, essay-like tone.

Respond with this JSON structure and nothing else:
{
  "title": "Trip title",
  "summary": "Trip summary in 2-3 sentences",
  "days": [
    {
      "day": 1,
      "date": "YYYY-MM-DD",
      "location": "Main area for the day",
      "schedule": [
        {
          "time": "09:00",
          "activity": "Activity name",
          "description": "Detailed description",
          "type": "food/activity/culture/nature/shopping/transport"
        }
      ]
    }
  ],
  "tips": ["Travel tip 1", "Travel tip 2"]
}

Cover each day from morning to evening, account for travel and meal times, and return JSON only with no extra commentary.`,
		destinationText, req.StartDate, req.EndDate, tripDays, companionText, styleText, tripDays), nil
}
