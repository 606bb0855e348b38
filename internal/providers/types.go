package providers

import (
	"context"
	"errors"
	"strings"

	"github.com/ggonzalez94/xquotes/internal/httpx"
	"github.com/ggonzalez94/xquotes/internal/model"
	"github.com/ggonzalez94/xquotes/internal/route"
	"github.com/shopspring/decimal"
)

// PlaceholderAccount fills the sender/receiver parameters quote endpoints require.
// It is never a real wallet.
const PlaceholderAccount = "0x0000000000000000000000000000000000000001"

type Provider interface {
	Info() model.ProviderInfo
}

type CatalogProvider interface {
	Provider
	ListChains(ctx context.Context) ([]model.Chain, error)
	ListTokens(ctx context.Context, chainID string) ([]model.Token, error)
}

type AggregatorProvider interface {
	CatalogProvider
	Quote(ctx context.Context, req QuoteRequest) model.NormalizedQuote
}

type BridgeProvider interface {
	CatalogProvider
	Quote(ctx context.Context, req QuoteRequest) BridgeQuotes
	QuoteBest(ctx context.Context, req QuoteRequest) (model.NormalizedQuote, route.Source)
}

// SpotPriceFeed is a generic USD spot price source.
type SpotPriceFeed interface {
	SimplePrice(ctx context.Context, feedID string) (decimal.Decimal, error)
	TokenPrice(ctx context.Context, platform, address string) (decimal.Decimal, error)
}

// CallOptions override the provider's configured endpoint and key for one call.
type CallOptions struct {
	BaseURL string
	APIKey  string
}

type QuoteRequest struct {
	FromChain     string
	FromToken     string
	ToChain       string
	ToToken       string
	USDAmount     decimal.Decimal
	UnitPriceFrom decimal.Decimal
	Call          CallOptions
}

type BridgeQuotes struct {
	Auto   model.NormalizedQuote `json:"auto"`
	Manual model.NormalizedQuote `json:"manual"`
}

// TransportKind classifies a request failure that carried no upstream status.
// Timeouts and connection failures are UpstreamUnavailable.
func TransportKind(err error) model.ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, httpx.ErrEmptyBody):
		return model.ErrNoQuoteAvailable
	case errors.Is(err, httpx.ErrDecode):
		return model.ErrUnknownUpstreamError
	default:
		return model.ErrUpstreamUnavailable
	}
}

// BaseURLOr returns the per-call override when set.
func (o CallOptions) BaseURLOr(fallback string) string {
	if v := strings.TrimRight(strings.TrimSpace(o.BaseURL), "/"); v != "" {
		return v
	}
	return fallback
}

// MessageContains reports whether msg contains any of patterns, case-insensitively.
func MessageContains(msg string, patterns ...string) bool {
	lower := strings.ToLower(msg)
	for _, p := range patterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
