package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/wanderplan/backend/internal/models"
)

// CityService proxies city autocomplete to OpenStreetMap Nominatim. Results
// are cached in redis per normalized query; Nominatim's usage policy asks for
// a identifying User-Agent and light request rates, which the cache provides.
type CityService struct {
	redis     *redis.Client
	client    *http.Client
	baseURL   string
	userAgent string
	cacheTTL  time.Duration
}

func NewCityService(redisClient *redis.Client) *CityService {
	return &CityService{
		redis:     redisClient,
		client:    &http.Client{Timeout: 10 * time.Second},
		baseURL:   "https://nominatim.openstreetmap.org",
		userAgent: "WanderPlan/1.0",
		cacheTTL:  24 * time.Hour,
	}
}

type nominatimResult struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	Type        string `json:"type"`
	Class       string `json:"class"`
	Address     struct {
		City    string `json:"city"`
		Town    string `json:"town"`
		Village string `json:"village"`
		Country string `json:"country"`
	} `json:"address"`
}

// Search returns matching cities for a free-text query. Queries shorter than
// two characters return an empty list without hitting the upstream.
func (s *CityService) Search(ctx context.Context, query string) ([]models.City, error) {
	query = strings.TrimSpace(query)
	if len(query) < 2 {
		return []models.City{}, nil
	}

	cacheKey := "cities:search:" + strings.ToLower(query)
	if s.redis != nil {
		if cached, err := s.redis.Get(ctx, cacheKey).Bytes(); err == nil {
			var cities []models.City
			if err := json.Unmarshal(cached, &cities); err == nil {
				return cities, nil
			}
		}
	}

	endpoint := fmt.Sprintf("%s/search?q=%s&format=json&limit=8&addressdetails=1&featuretype=city",
		s.baseURL, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("city search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("city search: upstream status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	var results []nominatimResult
	if err := json.Unmarshal(raw, &results); err != nil {
		return nil, fmt.Errorf("city search: %w", err)
	}

	cities := []models.City{}
	for _, item := range results {
		if item.Type != "city" && item.Type != "town" && item.Type != "village" && item.Class != "place" {
			continue
		}
		name := item.Address.City
		if name == "" {
			name = item.Address.Town
		}
		if name == "" {
			name = item.Address.Village
		}
		if name == "" {
			name = item.Name
		}
		if name == "" {
			continue
		}
		cities = append(cities, models.City{
			Name:        name,
			Country:     item.Address.Country,
			DisplayName: item.DisplayName,
			Lat:         item.Lat,
			Lon:         item.Lon,
		})
	}

	if s.redis != nil {
		if data, err := json.Marshal(cities); err == nil {
			if err := s.redis.Set(ctx, cacheKey, data, s.cacheTTL).Err(); err != nil {
				log.Printf("city cache set failed: %v", err)
			}
		}
	}
	return cities, nil
}
