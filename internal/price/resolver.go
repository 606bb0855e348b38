// Package price resolves USD unit prices for tokens through an ordered list of
// sources, backed by a shared TTL cache.
package price

import (
	"context"
	"strings"

	"github.com/ggonzalez94/xquotes/internal/id"
	"github.com/ggonzalez94/xquotes/internal/logging"
	"github.com/ggonzalez94/xquotes/internal/model"
	"github.com/ggonzalez94/xquotes/internal/pricecache"
	"github.com/ggonzalez94/xquotes/internal/providers"
	"github.com/ggonzalez94/xquotes/internal/providers/tokenlist"
	"github.com/ggonzalez94/xquotes/internal/registry"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Source names reported alongside a resolved price.
const (
	SourceCache       = "cache"
	SourceNativeFeed  = "native_feed"
	SourceNativeTable = "native_table"
	SourceBridgeList  = "bridge_token_list"
	SourceAggList     = "aggregator_token_list"
	SourceKnownFeed   = "known_contract_feed"
	SourcePlatform    = "platform_contract_feed"
	SourceStablecoin  = "stablecoin"
	SourceFallback    = "fallback"
)

var one = decimal.NewFromInt(1)

// TokenSource is a provider token list carrying USD prices.
type TokenSource interface {
	ListTokens(ctx context.Context, chainID string) ([]model.Token, error)
	CachedTokens(chainID string) ([]model.Token, bool)
}

type strategy struct {
	name string
	fn   func(ctx context.Context, chainID, address string) (decimal.Decimal, string, bool)
}

type Resolver struct {
	cache      *pricecache.Cache
	spot       providers.SpotPriceFeed
	log        logrus.FieldLogger
	strategies []strategy
}

// New wires a resolver. Any of spot, bridge or aggregator may be nil, in which
// case the strategies that need them always miss.
func New(cache *pricecache.Cache, spot providers.SpotPriceFeed, bridge, aggregator TokenSource, log logrus.FieldLogger) *Resolver {
	if cache == nil {
		cache = pricecache.New(pricecache.DefaultTTL)
	}
	r := &Resolver{
		cache: cache,
		spot:  spot,
		log:   logging.OrDiscard(log).WithField("component", "price"),
	}
	r.strategies = []strategy{
		{name: "native", fn: r.fromNative},
		{name: SourceBridgeList, fn: r.fromList(bridge, aggregator, SourceBridgeList)},
		{name: SourceAggList, fn: r.fromList(aggregator, bridge, SourceAggList)},
		{name: SourceKnownFeed, fn: r.fromKnownContract},
		{name: SourcePlatform, fn: r.fromPlatform},
		{name: SourceStablecoin, fn: r.fromStablecoin},
	}
	return r
}

// Resolve always returns a positive price. When every source misses it
// returns 1.
func (r *Resolver) Resolve(ctx context.Context, chainID, address string) decimal.Decimal {
	p, _ := r.ResolveWithSource(ctx, chainID, address)
	return p
}

// ResolveWithSource is Resolve plus the name of the source that answered.
func (r *Resolver) ResolveWithSource(ctx context.Context, chainID, address string) (decimal.Decimal, string) {
	chainID = strings.TrimSpace(chainID)
	address = id.CanonicalAddress(address)
	if p, ok := r.cache.Get(chainID, address); ok {
		return p, SourceCache
	}
	log := r.log.WithFields(logrus.Fields{"chain": chainID, "token": address})
	for _, s := range r.strategies {
		p, source, ok := s.fn(ctx, chainID, address)
		if !ok || !p.IsPositive() {
			continue
		}
		r.cache.Put(chainID, address, p)
		log.WithFields(logrus.Fields{"source": source, "usd": p.String()}).Debug("price resolved")
		return p, source
	}
	log.Warn("no price source for token, using 1.0; add a feed mapping")
	return one, SourceFallback
}

// ResolvePair resolves both sides of a pair concurrently.
func (r *Resolver) ResolvePair(ctx context.Context, fromChain, fromToken, toChain, toToken string) (from, to decimal.Decimal) {
	var g errgroup.Group
	g.Go(func() error {
		from = r.Resolve(ctx, fromChain, fromToken)
		return nil
	})
	g.Go(func() error {
		to = r.Resolve(ctx, toChain, toToken)
		return nil
	})
	_ = g.Wait()
	return from, to
}

func (r *Resolver) fromNative(ctx context.Context, chainID, address string) (decimal.Decimal, string, bool) {
	if !id.IsNativeAddress(address) {
		return decimal.Zero, "", false
	}
	feedID, ok := registry.NativeFeedID(chainID)
	if !ok {
		return decimal.Zero, "", false
	}
	if r.spot != nil {
		p, err := r.spot.SimplePrice(ctx, feedID)
		if err == nil && p.IsPositive() {
			return p, SourceNativeFeed, true
		}
		r.miss(SourceNativeFeed, chainID, address, err)
	}
	if p, ok := registry.ApproxNativePrice(feedID); ok {
		return p, SourceNativeTable, true
	}
	return decimal.Zero, "", false
}

// fromList matches the token by address in primary's list, then by symbol.
// The symbol comes from the static registry or the other provider's cached list.
func (r *Resolver) fromList(primary, other TokenSource, source string) func(context.Context, string, string) (decimal.Decimal, string, bool) {
	return func(ctx context.Context, chainID, address string) (decimal.Decimal, string, bool) {
		if primary == nil {
			return decimal.Zero, "", false
		}
		tokens, err := primary.ListTokens(ctx, chainID)
		if err != nil {
			r.miss(source, chainID, address, err)
			return decimal.Zero, "", false
		}
		if t, ok := tokenlist.FindAddress(tokens, address); ok && usable(t.PriceUSD) {
			return *t.PriceUSD, source, true
		}
		symbol := r.symbolFor(chainID, address, other)
		if symbol == "" {
			return decimal.Zero, "", false
		}
		for _, t := range tokens {
			if strings.EqualFold(t.Symbol, symbol) && usable(t.PriceUSD) {
				return *t.PriceUSD, source, true
			}
		}
		return decimal.Zero, "", false
	}
}

func (r *Resolver) symbolFor(chainID, address string, other TokenSource) string {
	if t, ok := id.LookupByAddress(chainID, address); ok {
		return t.Symbol
	}
	if other == nil {
		return ""
	}
	if tokens, ok := other.CachedTokens(chainID); ok {
		if t, ok := tokenlist.FindAddress(tokens, address); ok {
			return t.Symbol
		}
	}
	return ""
}

func (r *Resolver) fromKnownContract(ctx context.Context, chainID, address string) (decimal.Decimal, string, bool) {
	feedID, ok := registry.KnownContractFeedID(address)
	if !ok || r.spot == nil {
		return decimal.Zero, "", false
	}
	p, err := r.spot.SimplePrice(ctx, feedID)
	if err != nil {
		r.miss(SourceKnownFeed, chainID, address, err)
		return decimal.Zero, "", false
	}
	return p, SourceKnownFeed, true
}

func (r *Resolver) fromPlatform(ctx context.Context, chainID, address string) (decimal.Decimal, string, bool) {
	if id.IsNativeAddress(address) || r.spot == nil {
		return decimal.Zero, "", false
	}
	platform, ok := registry.PlatformSlug(chainID)
	if !ok {
		return decimal.Zero, "", false
	}
	p, err := r.spot.TokenPrice(ctx, platform, address)
	if err != nil {
		r.miss(SourcePlatform, chainID, address, err)
		return decimal.Zero, "", false
	}
	return p, SourcePlatform, true
}

func (r *Resolver) fromStablecoin(_ context.Context, _ string, address string) (decimal.Decimal, string, bool) {
	if registry.IsStablecoin(address) {
		return one, SourceStablecoin, true
	}
	return decimal.Zero, "", false
}

func (r *Resolver) miss(source, chainID, address string, err error) {
	r.log.WithFields(logrus.Fields{
		"source": source,
		"chain":  chainID,
		"token":  address,
	}).WithError(err).Debug("price source missed")
}

func usable(p *decimal.Decimal) bool {
	return p != nil && p.IsPositive()
}
