// Package quote fans a pair out to every active provider at a set of USD
// checkpoints and assembles the comparison matrix.
package quote

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	clierr "github.com/ggonzalez94/xquotes/internal/errors"
	"github.com/ggonzalez94/xquotes/internal/id"
	"github.com/ggonzalez94/xquotes/internal/logging"
	"github.com/ggonzalez94/xquotes/internal/model"
	"github.com/ggonzalez94/xquotes/internal/providers"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultConcurrency = 6
	MaxConcurrency     = 16
	DefaultCallTimeout = 12 * time.Second
)

// BaselineCheckpoints are always part of an aggregation.
var BaselineCheckpoints = []float64{1000, 7000, 30000, 120000}

type Pair struct {
	FromChain string
	FromToken string
	ToChain   string
	ToToken   string
}

type PriceResolver interface {
	ResolvePair(ctx context.Context, fromChain, fromToken, toChain, toToken string) (decimal.Decimal, decimal.Decimal)
}

// ProviderLister reports which providers are enabled.
type ProviderLister interface {
	ListActive(ctx context.Context) ([]model.ProviderConfig, error)
}

type Orchestrator struct {
	prices      PriceResolver
	aggregator  providers.AggregatorProvider
	bridge      providers.BridgeProvider
	lister      ProviderLister
	concurrency int
	callTimeout time.Duration
	log         logrus.FieldLogger
}

type Option func(*Orchestrator)

func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n < 1 {
			n = 1
		}
		if n > MaxConcurrency {
			n = MaxConcurrency
		}
		o.concurrency = n
	}
}

func WithCallTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.callTimeout = d
		}
	}
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(o *Orchestrator) {
		o.log = logging.OrDiscard(log).WithField("component", "quote")
	}
}

// New wires an orchestrator. A nil lister treats every wired adapter as active.
func New(prices PriceResolver, aggregator providers.AggregatorProvider, bridge providers.BridgeProvider, lister ProviderLister, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		prices:      prices,
		aggregator:  aggregator,
		bridge:      bridge,
		lister:      lister,
		concurrency: DefaultConcurrency,
		callTimeout: DefaultCallTimeout,
		log:         logging.Discard(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Aggregate quotes pair at the baseline checkpoints merged with custom. Only
// invalid input fails the call; provider failures become error cells.
func (o *Orchestrator) Aggregate(ctx context.Context, pair Pair, custom []float64) (model.AggregateResult, error) {
	pair, err := NormalizePair(pair)
	if err != nil {
		return model.AggregateResult{}, err
	}
	checkpoints, err := Checkpoints(custom)
	if err != nil {
		return model.AggregateResult{}, err
	}
	active, err := o.activeProviders(ctx)
	if err != nil {
		return model.AggregateResult{}, err
	}

	fromPrice, toPrice := o.resolvePrices(ctx, pair)
	result := model.AggregateResult{
		Pair:        pairInfo(pair),
		Checkpoints: checkpoints,
		FromPrice:   model.PriceInfo{ChainID: pair.FromChain, Token: pair.FromToken, USD: fromPrice},
		ToPrice:     model.PriceInfo{ChainID: pair.ToChain, Token: pair.ToToken, USD: toPrice},
		Providers:   []string{},
		Matrix:      model.Matrix{},
	}
	for _, p := range active {
		result.Providers = append(result.Providers, p.name)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for _, cp := range checkpoints {
		cp := cp
		for _, p := range active {
			p := p
			req := providers.QuoteRequest{
				FromChain:     pair.FromChain,
				FromToken:     pair.FromToken,
				ToChain:       pair.ToChain,
				ToToken:       pair.ToToken,
				USDAmount:     decimal.NewFromFloat(cp.USD),
				UnitPriceFrom: fromPrice,
				Call:          p.call,
			}
			g.Go(func() error {
				callCtx, cancel := context.WithTimeout(gctx, o.callTimeout)
				defer cancel()
				cells := o.quoteOne(callCtx, p, req)
				mu.Lock()
				for row, q := range cells {
					result.Matrix.Set(row, cp.Label, q)
				}
				mu.Unlock()
				return nil
			})
		}
	}
	_ = g.Wait()
	o.log.WithFields(logrus.Fields{
		"checkpoints": len(checkpoints),
		"providers":   len(active),
	}).Debug("aggregation finished")
	return result, nil
}

// Quote quotes a single notional: the aggregator route and the bridge's
// best-of-both route.
func (o *Orchestrator) Quote(ctx context.Context, pair Pair, usd float64) (model.SingleQuote, error) {
	pair, err := NormalizePair(pair)
	if err != nil {
		return model.SingleQuote{}, err
	}
	if err := validateAmount(usd); err != nil {
		return model.SingleQuote{}, err
	}
	active, err := o.activeProviders(ctx)
	if err != nil {
		return model.SingleQuote{}, err
	}
	fromPrice, toPrice := o.resolvePrices(ctx, pair)
	out := model.SingleQuote{
		Pair:      pairInfo(pair),
		AmountUSD: usd,
		Label:     Label(usd),
		FromPrice: model.PriceInfo{ChainID: pair.FromChain, Token: pair.FromToken, USD: fromPrice},
		ToPrice:   model.PriceInfo{ChainID: pair.ToChain, Token: pair.ToToken, USD: toPrice},
		Quotes:    map[string]model.NormalizedQuote{},
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range active {
		p := p
		req := providers.QuoteRequest{
			FromChain:     pair.FromChain,
			FromToken:     pair.FromToken,
			ToChain:       pair.ToChain,
			ToToken:       pair.ToToken,
			USDAmount:     decimal.NewFromFloat(usd),
			UnitPriceFrom: fromPrice,
			Call:          p.call,
		}
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, o.callTimeout)
			defer cancel()
			switch p.kind {
			case model.KindAggregator:
				q := o.aggregator.Quote(callCtx, req)
				mu.Lock()
				out.Quotes[model.KindAggregator] = q
				mu.Unlock()
			case model.KindBridge:
				q, source := o.bridge.QuoteBest(callCtx, req)
				mu.Lock()
				out.Quotes[model.KindBridge] = q
				out.BestSource = string(source)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return out, nil
}

type activeProvider struct {
	name string
	kind string
	call providers.CallOptions
}

// resolvePrices resolves both sides under one call timeout.
func (o *Orchestrator) resolvePrices(ctx context.Context, pair Pair) (decimal.Decimal, decimal.Decimal) {
	ctx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()
	return o.prices.ResolvePair(ctx, pair.FromChain, pair.FromToken, pair.ToChain, pair.ToToken)
}

// activeProviders maps enabled registry rows onto the wired adapters. Only the
// first active row of each kind is used.
func (o *Orchestrator) activeProviders(ctx context.Context) ([]activeProvider, error) {
	if o.lister == nil {
		var out []activeProvider
		if o.aggregator != nil {
			out = append(out, activeProvider{name: o.aggregator.Info().Name, kind: model.KindAggregator})
		}
		if o.bridge != nil {
			out = append(out, activeProvider{name: o.bridge.Info().Name, kind: model.KindBridge})
		}
		return out, nil
	}
	configs, err := o.lister.ListActive(ctx)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "list active providers", err)
	}
	seen := map[string]bool{}
	out := make([]activeProvider, 0, 2)
	for _, cfg := range configs {
		kind := strings.ToLower(strings.TrimSpace(cfg.Kind))
		switch {
		case kind == model.KindAggregator && o.aggregator == nil,
			kind == model.KindBridge && o.bridge == nil:
			o.log.WithField("provider", cfg.Name).Warn("no adapter wired for active provider")
			continue
		case kind != model.KindAggregator && kind != model.KindBridge:
			o.log.WithFields(logrus.Fields{"provider": cfg.Name, "kind": cfg.Kind}).Warn("unknown provider kind")
			continue
		}
		if seen[kind] {
			o.log.WithField("provider", cfg.Name).Debug("another provider of this kind is already active")
			continue
		}
		seen[kind] = true
		out = append(out, activeProvider{
			name: cfg.Name,
			kind: kind,
			call: providers.CallOptions{BaseURL: cfg.Endpoint, APIKey: cfg.APIKey},
		})
	}
	return out, nil
}

func (o *Orchestrator) quoteOne(ctx context.Context, p activeProvider, req providers.QuoteRequest) map[string]model.NormalizedQuote {
	switch p.kind {
	case model.KindAggregator:
		return map[string]model.NormalizedQuote{model.RowAggregator: o.aggregator.Quote(ctx, req)}
	case model.KindBridge:
		both := o.bridge.Quote(ctx, req)
		return map[string]model.NormalizedQuote{
			model.RowBridgeAuto:   both.Auto,
			model.RowBridgeManual: both.Manual,
		}
	default:
		return nil
	}
}

// NormalizePair validates the chain ids and token addresses of pair. "native"
// maps to the zero-address sentinel; addresses are lowercased.
func NormalizePair(pair Pair) (Pair, error) {
	var err error
	out := Pair{FromChain: strings.TrimSpace(pair.FromChain), ToChain: strings.TrimSpace(pair.ToChain)}
	if out.FromChain == "" || out.ToChain == "" {
		return Pair{}, clierr.New(clierr.CodeUsage, "both chains are required")
	}
	if strings.ContainsAny(out.FromChain+out.ToChain, " /?&#") {
		return Pair{}, clierr.New(clierr.CodeUsage, "chain ids must not contain spaces or URL delimiters")
	}
	if out.FromToken, err = normalizeToken(pair.FromToken, "from"); err != nil {
		return Pair{}, err
	}
	if out.ToToken, err = normalizeToken(pair.ToToken, "to"); err != nil {
		return Pair{}, err
	}
	return out, nil
}

func normalizeToken(raw, side string) (string, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return "", clierr.New(clierr.CodeUsage, side+" token is required")
	case strings.EqualFold(raw, "native"):
		return id.NativeZeroAddress, nil
	case !id.ValidAddress(raw):
		return "", clierr.New(clierr.CodeUsage, fmt.Sprintf("%s token %q is not a valid address", side, raw))
	}
	return id.CanonicalAddress(raw), nil
}

// Checkpoints merges custom with the baseline, drops duplicates and sorts
// ascending. Non-positive or non-finite values are rejected.
func Checkpoints(custom []float64) ([]model.Checkpoint, error) {
	values := make([]float64, 0, len(BaselineCheckpoints)+len(custom))
	values = append(values, BaselineCheckpoints...)
	for _, v := range custom {
		if err := validateAmount(v); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	sort.Float64s(values)

	out := make([]model.Checkpoint, 0, len(values))
	seen := map[string]bool{}
	for _, v := range values {
		label := Label(v)
		if seen[label] {
			continue
		}
		seen[label] = true
		out = append(out, model.Checkpoint{USD: v, Label: label})
	}
	return out, nil
}

// Label renders a checkpoint as "$7k" for amounts of at least 1000 and "$500"
// below that.
func Label(usd float64) string {
	if usd >= 1000 {
		return "$" + strconv.FormatFloat(usd/1000, 'f', -1, 64) + "k"
	}
	return "$" + strconv.FormatFloat(usd, 'f', -1, 64)
}

func validateAmount(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return clierr.New(clierr.CodeUsage, fmt.Sprintf("invalid usd amount %v: must be a positive finite number", v))
	}
	return nil
}

func pairInfo(p Pair) model.PairInfo {
	return model.PairInfo{FromChain: p.FromChain, FromToken: p.FromToken, ToChain: p.ToChain, ToToken: p.ToToken}
}
