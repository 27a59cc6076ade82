// Package search coordinates a lead search end to end: validate the
// request, pre-authorize the estimated cost, run the external lookup, then
// settle the actual charge. Settlement is the commit point; every earlier
// step aborts without a persisted side effect.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/leadscout/internal/places"
	"github.com/MarkoPoloResearchLab/leadscout/internal/store/historystore"
	"github.com/MarkoPoloResearchLab/leadscout/pkg/tokens"
	"go.uber.org/zap"
)

// Request bounds applied during validation.
const (
	DefaultMaxResults   = 20
	DefaultRadiusMeters = 5000
	MinRadiusMeters     = 100
	MaxRadiusMeters     = 50000

	defaultLookupTimeout = 90 * time.Second
)

// Request is a raw client search. Zero radius or max results pick the
// documented defaults.
type Request struct {
	Keyword    string
	Location   string
	Radius     int
	MaxResults int
}

// Meta summarizes how a completed search was settled.
type Meta struct {
	Query           string               `json:"query"`
	Location        string               `json:"location"`
	Radius          int                  `json:"radius"`
	MaxResults      int                  `json:"max_results"`
	ResultsCount    int                  `json:"results_count"`
	TokensCharged   int64                `json:"tokens_charged"`
	RemainingTokens int64                `json:"remaining_tokens"`
	CostBreakdown   tokens.CostBreakdown `json:"cost_breakdown"`
	SearchID        string               `json:"search_id,omitempty"`
}

// Result is a completed, settled search.
type Result struct {
	Businesses []places.Business `json:"businesses"`
	Meta       Meta              `json:"meta"`
}

// TokenService is the metering surface the orchestrator needs.
type TokenService interface {
	Balance(ctx context.Context, userID tokens.UserID) (int64, error)
	Debit(ctx context.Context, userID tokens.UserID, amount tokens.TokenAmount, searchContext tokens.SearchContext) (int64, error)
}

// HistoryStore persists completed searches.
type HistoryStore interface {
	Save(ctx context.Context, record historystore.SearchRecord) (string, error)
}

// Config carries Orchestrator dependencies.
type Config struct {
	Pricing       tokens.PricingConfig
	Tokens        TokenService
	Lookup        places.Lookup
	History       HistoryStore
	LookupTimeout time.Duration
	Logger        *zap.Logger
}

// Orchestrator runs one search request at a time per call; all shared
// state lives behind the token service's transaction boundary.
type Orchestrator struct {
	pricing       tokens.PricingConfig
	tokens        TokenService
	lookup        places.Lookup
	history       HistoryStore
	lookupTimeout time.Duration
	logger        *zap.Logger
}

// NewOrchestrator validates dependencies and wires an Orchestrator.
// History is optional: a search is settled even when the history write
// fails, so the dependency may be absent in tests.
func NewOrchestrator(config Config) (*Orchestrator, error) {
	if config.Tokens == nil {
		return nil, fmt.Errorf("%w: token service dependency is nil", tokens.ErrInvalidServiceConfig)
	}
	if config.Lookup == nil {
		return nil, fmt.Errorf("%w: lookup dependency is nil", tokens.ErrInvalidServiceConfig)
	}
	orchestrator := &Orchestrator{
		pricing:       config.Pricing,
		tokens:        config.Tokens,
		lookup:        config.Lookup,
		history:       config.History,
		lookupTimeout: config.LookupTimeout,
		logger:        config.Logger,
	}
	if orchestrator.pricing == (tokens.PricingConfig{}) {
		orchestrator.pricing = tokens.DefaultPricingConfig()
	}
	if orchestrator.lookupTimeout <= 0 {
		orchestrator.lookupTimeout = defaultLookupTimeout
	}
	if orchestrator.logger == nil {
		orchestrator.logger = zap.NewNop()
	}
	return orchestrator, nil
}

// Run executes one search for one user: at most one debit, none on any
// failure before settlement.
func (orchestrator *Orchestrator) Run(ctx context.Context, userID tokens.UserID, request Request) (Result, error) {
	normalized, err := normalizeRequest(request, orchestrator.pricing.MaxResultsLimit)
	if err != nil {
		return Result{}, err
	}

	estimate := tokens.QuoteCost(orchestrator.pricing, normalized.MaxResults)
	balance, err := orchestrator.tokens.Balance(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	if balance < estimate {
		return Result{}, tokens.InsufficientTokensError{
			CurrentBalance: balance,
			RequiredTokens: estimate,
		}
	}

	lookupCtx, cancel := context.WithTimeout(ctx, orchestrator.lookupTimeout)
	defer cancel()
	businesses, err := orchestrator.lookup.Search(lookupCtx, places.Query{
		Keyword:      normalized.Keyword,
		Location:     normalized.Location,
		RadiusMeters: normalized.Radius,
		MaxResults:   normalized.MaxResults,
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrSearchFailed, err)
	}

	// The caller may have gone away during the lookup; nothing has been
	// persisted yet, so aborting here is free.
	if ctx.Err() != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrSearchFailed, ctx.Err())
	}

	// Settlement runs detached from client cancellation: once the debit
	// transaction starts it either commits or rolls back whole.
	settleCtx := context.WithoutCancel(ctx)
	actualCharge := tokens.QuoteCost(orchestrator.pricing, len(businesses))
	chargeAmount, err := tokens.NewTokenAmount(actualCharge)
	if err != nil {
		return Result{}, err
	}
	remaining, err := orchestrator.tokens.Debit(settleCtx, userID, chargeAmount, tokens.SearchContext{
		Keyword:          normalized.Keyword,
		Location:         normalized.Location,
		RadiusMeters:     normalized.Radius,
		RequestedResults: normalized.MaxResults,
		ResultsFound:     len(businesses),
	})
	if err != nil {
		if errors.Is(err, tokens.ErrInsufficientTokens) {
			return Result{}, SettlementError{Err: err}
		}
		return Result{}, err
	}

	searchID := orchestrator.saveHistory(settleCtx, userID, normalized, businesses, actualCharge)

	return Result{
		Businesses: businesses,
		Meta: Meta{
			Query:           normalized.Keyword,
			Location:        normalized.Location,
			Radius:          normalized.Radius,
			MaxResults:      normalized.MaxResults,
			ResultsCount:    len(businesses),
			TokensCharged:   actualCharge,
			RemainingTokens: remaining,
			CostBreakdown:   tokens.QuoteBreakdown(orchestrator.pricing, len(businesses)),
			SearchID:        searchID,
		},
	}, nil
}

// EstimateCharge exposes the pre-authorization quote for display.
func (orchestrator *Orchestrator) EstimateCharge(maxResults int) int64 {
	return tokens.QuoteCost(orchestrator.pricing, clampInt(maxResults, 1, orchestrator.pricing.MaxResultsLimit))
}

// saveHistory is best effort: a settled search is never unwound because
// the history write failed.
func (orchestrator *Orchestrator) saveHistory(ctx context.Context, userID tokens.UserID, request Request, businesses []places.Business, charged int64) string {
	if orchestrator.history == nil {
		return ""
	}
	resultsJSON, err := json.Marshal(businesses)
	if err != nil {
		orchestrator.logger.Warn("search history encode failed", zap.String("user_id", userID.String()), zap.Error(err))
		return ""
	}
	searchID, err := orchestrator.history.Save(ctx, historystore.SearchRecord{
		UserID:        userID.String(),
		Keyword:       request.Keyword,
		Location:      request.Location,
		RadiusMeters:  request.Radius,
		MaxResults:    request.MaxResults,
		ResultsCount:  len(businesses),
		TokensCharged: charged,
		Results:       resultsJSON,
	})
	if err != nil {
		orchestrator.logger.Warn("search history save failed", zap.String("user_id", userID.String()), zap.Error(err))
		return ""
	}
	return searchID
}

func normalizeRequest(request Request, maxResultsLimit int) (Request, error) {
	normalized := Request{
		Keyword:    strings.TrimSpace(request.Keyword),
		Location:   strings.TrimSpace(request.Location),
		Radius:     request.Radius,
		MaxResults: request.MaxResults,
	}
	if normalized.Keyword == "" {
		return Request{}, ValidationError{Field: "keyword", Reason: "must not be empty"}
	}
	if normalized.Location == "" {
		return Request{}, ValidationError{Field: "location", Reason: "must not be empty"}
	}
	if normalized.MaxResults == 0 {
		normalized.MaxResults = DefaultMaxResults
	}
	normalized.MaxResults = clampInt(normalized.MaxResults, 1, maxResultsLimit)
	if normalized.Radius == 0 {
		normalized.Radius = DefaultRadiusMeters
	}
	normalized.Radius = clampInt(normalized.Radius, MinRadiusMeters, MaxRadiusMeters)
	return normalized, nil
}

func clampInt(value int, low int, high int) int {
	if value < low {
		return low
	}
	if value > high {
		return high
	}
	return value
}
