// Package registry fetches trial records from a ClinicalTrials.gov-style
// registry API, with caching and circuit breaking for resilience.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/trial-match-server/internal/domain"
)

// Client handles interactions with the trial registry API
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	rateLimit  *rate.Limiter
}

// Config represents configuration for the registry API client
type Config struct {
	BaseURL   string        `json:"base_url"`
	APIKey    string        `json:"api_key"`
	Timeout   time.Duration `json:"timeout"`
	RateLimit int           `json:"rate_limit"` // requests per second
}

// studiesResponse represents the JSON response structure from the registry API
type studiesResponse struct {
	Studies []study `json:"studies"`
}

type study struct {
	ProtocolSection struct {
		IdentificationModule struct {
			NCTID      string `json:"nctId"`
			BriefTitle string `json:"briefTitle"`
		} `json:"identificationModule"`
		EligibilityModule struct {
			EligibilityCriteria string `json:"eligibilityCriteria"`
		} `json:"eligibilityModule"`
	} `json:"protocolSection"`
}

// NewClient creates a new trial registry API client
func NewClient(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = "https://clinicaltrials.gov/api/v2/"
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 10
	}

	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		apiKey:  config.APIKey,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		rateLimit: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
	}
}

// GetTrial fetches one trial record by its registry identifier.
func (c *Client) GetTrial(ctx context.Context, trialID string) (*domain.TrialRecord, error) {
	if trialID == "" {
		return nil, fmt.Errorf("trial id is required")
	}

	body, err := c.get(ctx, fmt.Sprintf("%s/studies/%s", c.baseURL, url.PathEscape(trialID)))
	if err != nil {
		return nil, err
	}

	var s study
	if err := json.Unmarshal(body, &s); err != nil {
		return nil, fmt.Errorf("failed to decode registry response: %w", err)
	}

	record := recordFromStudy(s)
	if record.ID == "" {
		return nil, domain.ErrNotFound
	}
	return record, nil
}

// SearchTrials fetches trial records matching a condition keyword.
func (c *Client) SearchTrials(ctx context.Context, condition string, limit int) ([]domain.TrialRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	query := url.Values{}
	query.Set("query.cond", condition)
	query.Set("pageSize", fmt.Sprintf("%d", limit))

	body, err := c.get(ctx, fmt.Sprintf("%s/studies?%s", c.baseURL, query.Encode()))
	if err != nil {
		return nil, err
	}

	var response studiesResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to decode registry response: %w", err)
	}

	records := make([]domain.TrialRecord, 0, len(response.Studies))
	for _, s := range response.Studies {
		record := recordFromStudy(s)
		if record.ID != "" {
			records = append(records, *record)
		}
	}
	return records, nil
}

// get performs one rate-limited GET request and returns the body.
func (c *Client) get(ctx context.Context, requestURL string) ([]byte, error) {
	if err := c.rateLimit.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registry request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, domain.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("registry returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry response: %w", err)
	}
	return body, nil
}

// recordFromStudy flattens a registry study into the trial-record shape
// the feature extractor consumes.
func recordFromStudy(s study) *domain.TrialRecord {
	inclusion, exclusion := splitCriteria(s.ProtocolSection.EligibilityModule.EligibilityCriteria)
	return &domain.TrialRecord{
		ID:                s.ProtocolSection.IdentificationModule.NCTID,
		Title:             s.ProtocolSection.IdentificationModule.BriefTitle,
		InclusionCriteria: inclusion,
		ExclusionCriteria: exclusion,
	}
}

// splitCriteria separates a combined eligibility-criteria text into its
// inclusion and exclusion sections. Registries publish both in one
// field, introduced by "Inclusion Criteria:" and "Exclusion Criteria:"
// headings.
func splitCriteria(text string) (inclusion, exclusion string) {
	lower := strings.ToLower(text)

	exclusionIdx := strings.Index(lower, "exclusion criteria")
	if exclusionIdx < 0 {
		inclusion = text
	} else {
		inclusion = text[:exclusionIdx]
		exclusion = text[exclusionIdx:]
		if colon := strings.Index(exclusion, ":"); colon >= 0 {
			exclusion = exclusion[colon+1:]
		}
	}

	if idx := strings.Index(strings.ToLower(inclusion), "inclusion criteria"); idx >= 0 {
		inclusion = inclusion[idx:]
		if colon := strings.Index(inclusion, ":"); colon >= 0 {
			inclusion = inclusion[colon+1:]
		}
	}

	return strings.TrimSpace(inclusion), strings.TrimSpace(exclusion)
}
