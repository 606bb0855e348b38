package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const EnvelopeVersion = "v1"

// ZeroOutput is the rendered output amount of every failed quote.
const ZeroOutput = "0.0000"

type Envelope struct {
	Version  string       `json:"version"`
	Success  bool         `json:"success"`
	Data     any          `json:"data,omitempty"`
	Error    *ErrorBody   `json:"error"`
	Warnings []string     `json:"warnings,omitempty"`
	Meta     EnvelopeMeta `json:"meta"`
}

type ErrorBody struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

type EnvelopeMeta struct {
	RequestID string           `json:"request_id"`
	Timestamp time.Time        `json:"timestamp"`
	Command   string           `json:"command"`
	Providers []ProviderStatus `json:"providers,omitempty"`
	Cache     CacheStatus      `json:"cache"`
	Partial   bool             `json:"partial"`
}

type ProviderStatus struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
}

type CacheStatus struct {
	Status string `json:"status"`
	AgeMS  int64  `json:"age_ms"`
	Stale  bool   `json:"stale"`
}

const (
	KindAggregator = "aggregator"
	KindBridge     = "bridge"
)

// Matrix row keys.
const (
	RowAggregator   = "aggregator"
	RowBridgeAuto   = "bridge_auto"
	RowBridgeManual = "bridge_manual"
)

type ProviderInfo struct {
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	RequiresKey  bool     `json:"requires_key"`
	Capabilities []string `json:"capabilities"`
	KeyEnvVar    string   `json:"key_env_var,omitempty"`
}

// ProviderConfig is one row of the provider registry.
type ProviderConfig struct {
	Name      string     `json:"name"`
	Kind      string     `json:"kind"`
	Endpoint  string     `json:"endpoint,omitempty"`
	APIKey    string     `json:"-"`
	HasAPIKey bool       `json:"has_api_key"`
	Active    bool       `json:"active"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

type Chain struct {
	ChainID  string `json:"chain_id"`
	Name     string `json:"name"`
	Key      string `json:"key,omitempty"`
	Native   string `json:"native_symbol,omitempty"`
	LogoURI  string `json:"logo_uri,omitempty"`
	Provider string `json:"provider"`
}

type Token struct {
	ChainID  string           `json:"chain_id"`
	Address  string           `json:"address"`
	Symbol   string           `json:"symbol"`
	Name     string           `json:"name,omitempty"`
	Decimals int              `json:"decimals"`
	LogoURI  string           `json:"logo_uri,omitempty"`
	PriceUSD *decimal.Decimal `json:"price_usd,omitempty"`
	Provider string           `json:"provider"`
}

// ErrorKind classifies a failed quote. The zero value means success.
type ErrorKind string

const (
	ErrInvalidAmount        ErrorKind = "InvalidAmount"
	ErrInvalidAmountFormat  ErrorKind = "InvalidAmountFormat"
	ErrRateLimited          ErrorKind = "RateLimited"
	ErrRouteNotFound        ErrorKind = "RouteNotFound"
	ErrNoLiquidity          ErrorKind = "NoLiquidity"
	ErrBadRequest           ErrorKind = "BadRequest"
	ErrUpstreamServerError  ErrorKind = "UpstreamServerError"
	ErrUpstreamUnavailable  ErrorKind = "UpstreamUnavailable"
	ErrNoQuoteAvailable     ErrorKind = "NoQuoteAvailable"
	ErrUnknownUpstreamError ErrorKind = "UnknownUpstreamError"
)

// Label is the short user-facing text shown in a matrix cell.
func (k ErrorKind) Label() string {
	switch k {
	case ErrInvalidAmount:
		return "Invalid amount"
	case ErrInvalidAmountFormat:
		return "Amount rejected by provider"
	case ErrRateLimited:
		return "Rate limited, try again shortly"
	case ErrRouteNotFound:
		return "No route found"
	case ErrNoLiquidity:
		return "Insufficient liquidity"
	case ErrBadRequest:
		return "Request rejected by provider"
	case ErrUpstreamServerError:
		return "Provider error"
	case ErrUpstreamUnavailable:
		return "Provider unavailable"
	case ErrNoQuoteAvailable:
		return "No quote available"
	case "":
		return ""
	default:
		return "Unknown provider error"
	}
}

// NormalizedQuote is a single matrix cell. A quote is either a success with a
// positive OutputAmount or carries an ErrorKind with OutputAmount ZeroOutput.
type NormalizedQuote struct {
	OutputAmount         string          `json:"output_amount"`
	EstimatedTimeSeconds *int64          `json:"estimated_time_seconds,omitempty"`
	ProviderLabel        string          `json:"provider_label"`
	RouteLabel           string          `json:"route_label,omitempty"`
	InputTokenAmount     string          `json:"input_token_amount"`
	UnitPrice            decimal.Decimal `json:"unit_price"`
	ErrorKind            ErrorKind       `json:"error_kind,omitempty"`
	Error                string          `json:"error,omitempty"`
	Detail               string          `json:"-"`
}

func (q NormalizedQuote) OK() bool {
	return q.ErrorKind == ""
}

// ErrorQuote builds a failed cell for provider.
func ErrorQuote(kind ErrorKind, provider, detail, inputAmount string, unitPrice decimal.Decimal) NormalizedQuote {
	return NormalizedQuote{
		OutputAmount:     ZeroOutput,
		ProviderLabel:    provider,
		InputTokenAmount: inputAmount,
		UnitPrice:        unitPrice,
		ErrorKind:        kind,
		Error:            kind.Label(),
		Detail:           detail,
	}
}

// Matrix maps a row key to amount label to quote.
type Matrix map[string]map[string]NormalizedQuote

func (m Matrix) Set(row, label string, q NormalizedQuote) {
	if m[row] == nil {
		m[row] = map[string]NormalizedQuote{}
	}
	m[row][label] = q
}

type Checkpoint struct {
	USD   float64 `json:"usd"`
	Label string  `json:"label"`
}

type PairInfo struct {
	FromChain string `json:"from_chain"`
	FromToken string `json:"from_token"`
	ToChain   string `json:"to_chain"`
	ToToken   string `json:"to_token"`
}

type PriceInfo struct {
	ChainID string          `json:"chain_id"`
	Token   string          `json:"token"`
	USD     decimal.Decimal `json:"usd"`
}

type AggregateResult struct {
	Pair        PairInfo     `json:"pair"`
	Checkpoints []Checkpoint `json:"checkpoints"`
	FromPrice   PriceInfo    `json:"from_price"`
	ToPrice     PriceInfo    `json:"to_price"`
	Providers   []string     `json:"providers"`
	Matrix      Matrix       `json:"matrix"`
}

// SingleQuote is the result of quoting one notional across providers.
type SingleQuote struct {
	Pair       PairInfo                   `json:"pair"`
	AmountUSD  float64                    `json:"amount_usd"`
	Label      string                     `json:"label"`
	FromPrice  PriceInfo                  `json:"from_price"`
	ToPrice    PriceInfo                  `json:"to_price"`
	Quotes     map[string]NormalizedQuote `json:"quotes"`
	BestSource string                     `json:"best_source,omitempty"`
}
