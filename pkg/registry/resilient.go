package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/trial-match-server/internal/domain"
)

// ResilientClient wraps the registry client with a circuit breaker and
// a Redis cache. Cached records are served first; registry failures
// trip the breaker so a flapping upstream does not stall matching.
type ResilientClient struct {
	client  *Client
	cache   *TrialCache
	breaker *gobreaker.CircuitBreaker
	logger  *logrus.Logger
}

// NewResilientClient creates a resilient registry client. The cache is
// optional; pass nil to fetch straight from the registry.
func NewResilientClient(client *Client, cache *TrialCache, logger *logrus.Logger) *ResilientClient {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "TrialRegistry",
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})

	return &ResilientClient{
		client:  client,
		cache:   cache,
		breaker: breaker,
		logger:  logger,
	}
}

// GetTrial returns a trial record, serving from cache when possible.
func (r *ResilientClient) GetTrial(ctx context.Context, trialID string) (*domain.TrialRecord, error) {
	if r.cache != nil {
		record, hit, err := r.cache.GetTrial(ctx, trialID)
		if err != nil {
			r.logger.WithError(err).WithField("trial_id", trialID).Warn("Trial cache lookup failed")
		} else if hit {
			return record, nil
		}
	}

	result, err := r.breaker.Execute(func() (interface{}, error) {
		return r.client.GetTrial(ctx, trialID)
	})
	if err != nil {
		return nil, fmt.Errorf("registry fetch for trial %s failed: %w", trialID, err)
	}

	record := result.(*domain.TrialRecord)
	if r.cache != nil {
		if err := r.cache.SetTrial(ctx, record, 0); err != nil {
			r.logger.WithError(err).WithField("trial_id", trialID).Warn("Failed to cache trial record")
		}
	}
	return record, nil
}

// SearchTrials returns trial records matching a condition keyword.
func (r *ResilientClient) SearchTrials(ctx context.Context, condition string, limit int) ([]domain.TrialRecord, error) {
	result, err := r.breaker.Execute(func() (interface{}, error) {
		return r.client.SearchTrials(ctx, condition, limit)
	})
	if err != nil {
		return nil, fmt.Errorf("registry search for %q failed: %w", condition, err)
	}

	records := result.([]domain.TrialRecord)
	if r.cache != nil {
		for i := range records {
			if err := r.cache.SetTrial(ctx, &records[i], 0); err != nil {
				r.logger.WithError(err).Warn("Failed to cache trial record")
				break
			}
		}
	}
	return records, nil
}
