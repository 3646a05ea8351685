package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/wanderplan/backend/internal/models"
)

var (
	ErrAPIKeyMissing   = errors.New("generation API key not configured")
	ErrEmptyCompletion = errors.New("no response text from model")
	ErrParseFailed     = errors.New("could not parse itinerary from model response")
)

// UpstreamError carries an error message returned by the generation API.
type UpstreamError struct {
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("generation API error (%d): %s", e.StatusCode, e.Message)
}

// ItineraryGenerator abstracts the model call so the usage gate can be tested
// without network access.
type ItineraryGenerator interface {
	GenerateItinerary(ctx context.Context, req models.GenerateItineraryRequest) (map[string]any, error)
}

// GeminiService calls Google's generative language REST API and turns the
// free-text completion into a structured itinerary document.
type GeminiService struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

func NewGeminiService() *GeminiService {
	viper.SetDefault("gemini.model", "gemini-2.0-flash")
	viper.SetDefault("gemini.timeout_seconds", 45)

	return &GeminiService{
		apiKey:  viper.GetString("gemini.api_key"),
		model:   viper.GetString("gemini.model"),
		baseURL: "https://generativelanguage.googleapis.com/v1beta",
		client: &http.Client{
			Timeout: time.Duration(viper.GetInt("gemini.timeout_seconds")) * time.Second,
		},
	}
}

type geminiRequest struct {
	Contents []struct {
		Parts []struct {
			Text string `json:"text"`
		} `json:"parts"`
	} `json:"contents"`
	GenerationConfig struct {
		Temperature     float64 `json:"temperature"`
		MaxOutputTokens int     `json:"maxOutputTokens"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// GenerateItinerary builds the planning prompt, calls the model and extracts
// the itinerary JSON. The response shape is model-controlled, so it is kept
// as a generic document rather than a rigid struct.
func (s *GeminiService) GenerateItinerary(ctx context.Context, req models.GenerateItineraryRequest) (map[string]any, error) {
	if s.apiKey == "" {
		return nil, ErrAPIKeyMissing
	}

	prompt, err := BuildItineraryPrompt(req)
	if err != nil {
		return nil, err
	}

	var body geminiRequest
	body.Contents = make([]struct {
		Parts []struct {
			Text string `json:"text"`
		} `json:"parts"`
	}, 1)
	body.Contents[0].Parts = []struct {
		Text string `json:"text"`
	}{{Text: prompt}}
	body.GenerationConfig.Temperature = 0.7
	body.GenerationConfig.MaxOutputTokens = 4096

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", s.baseURL, s.model, url.QueryEscape(s.apiKey))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("generation call: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read generation response: %w", err)
	}

	var parsed geminiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Message: "unparseable API response"}
	}
	if parsed.Error != nil {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Message: parsed.Error.Message}
	}

	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return nil, ErrEmptyCompletion
	}
	text := parsed.Candidates[0].Content.Parts[0].Text
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyCompletion
	}

	jsonText, err := ExtractJSON(text)
	if err != nil {
		return nil, err
	}

	var itinerary map[string]any
	if err := json.Unmarshal([]byte(jsonText), &itinerary); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParseFailed, err)
	}
	return itinerary, nil
}

// IsTimeout reports whether a generation error was caused by the call
// deadline rather than an API-level failure.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var uerr *url.Error
	return errors.As(err, &uerr) && uerr.Timeout()
}

// ExtractJSON recovers the first complete JSON object embedded in model
// output. Completions routinely wrap the document in markdown code fences or
// prepend prose, and the document itself nests objects many levels deep, so a
// greedy regex is not an option: we strip fence markers, then scan from the
// first '{' tracking brace depth with string and escape awareness.
func ExtractJSON(text string) (string, error) {
	cleaned := strings.ReplaceAll(text, "```json", "")
	cleaned = strings.ReplaceAll(cleaned, "```", "")

	start := strings.IndexByte(cleaned, '{')
	if start < 0 {
		return "", fmt.Errorf("%w: no JSON object in response", ErrParseFailed)
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(cleaned); i++ {
		c := cleaned[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return cleaned[start : i+1], nil
			}
		}
	}
	// Truncated completion: opening braces never closed.
	return "", fmt.Errorf("%w: unbalanced JSON object in response", ErrParseFailed)
}
