package app

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ggonzalez94/xquotes/internal/cache"
	clierr "github.com/ggonzalez94/xquotes/internal/errors"
	"github.com/ggonzalez94/xquotes/internal/id"
	"github.com/ggonzalez94/xquotes/internal/model"
	"github.com/ggonzalez94/xquotes/internal/price"
	"github.com/ggonzalez94/xquotes/internal/providers"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

const (
	chainsTTL = time.Hour
	tokensTTL = 10 * time.Minute
)

func (s *runtimeState) newChainsCommand() *cobra.Command {
	var provider string
	cmd := &cobra.Command{
		Use:   "chains",
		Short: "List chains a provider supports",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, catalog, err := s.selectCatalog(provider)
			if err != nil {
				return err
			}
			path := trimRootPath(cmd.CommandPath())
			key := cache.Key("chains:"+name, map[string]any{"provider": name})
			return s.runCachedCommand(path, key, chainsTTL, func(ctx context.Context) (any, []model.ProviderStatus, []string, bool, error) {
				start := time.Now()
				data, err := catalog.ListChains(ctx)
				status := []model.ProviderStatus{{Name: name, Status: statusFromErr(err), LatencyMS: time.Since(start).Milliseconds()}}
				if err != nil {
					return nil, status, nil, false, err
				}
				sort.SliceStable(data, func(i, j int) bool { return lessNumeric(data[i].ChainID, data[j].ChainID) })
				return data, status, nil, false, nil
			})
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "lifi", "Catalog provider (lifi|bungee)")
	return cmd
}

func (s *runtimeState) newTokensCommand() *cobra.Command {
	var (
		provider string
		chainArg string
		symbol   string
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "List tokens a provider knows on one chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			chain, err := id.ParseChain(chainArg)
			if err != nil {
				return err
			}
			name, catalog, err := s.selectCatalog(provider)
			if err != nil {
				return err
			}
			path := trimRootPath(cmd.CommandPath())
			key := cache.Key("tokens:"+name, map[string]any{"chain": chain.ID})
			filter := strings.TrimSpace(symbol)
			return s.runCachedCommand(path, key, tokensTTL, func(ctx context.Context) (any, []model.ProviderStatus, []string, bool, error) {
				start := time.Now()
				data, err := catalog.ListTokens(ctx, chain.ID)
				status := []model.ProviderStatus{{Name: name, Status: statusFromErr(err), LatencyMS: time.Since(start).Milliseconds()}}
				if err != nil {
					return nil, status, nil, false, err
				}
				return filterTokens(data, filter, limit), status, nil, false, nil
			})
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "lifi", "Catalog provider (lifi|bungee)")
	cmd.Flags().StringVar(&chainArg, "chain", "", "Chain id or name")
	cmd.Flags().StringVar(&symbol, "symbol", "", "Only tokens with this symbol")
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum tokens to return (0 for all)")
	_ = cmd.MarkFlagRequired("chain")
	return cmd
}

type priceView struct {
	ChainID string          `json:"chain_id"`
	Token   string          `json:"token"`
	Symbol  string          `json:"symbol,omitempty"`
	USD     decimal.Decimal `json:"usd"`
	Source  string          `json:"source"`
}

func (s *runtimeState) newPriceCommand() *cobra.Command {
	var chainArg, tokenArg string
	cmd := &cobra.Command{
		Use:   "price",
		Short: "Resolve the USD price used to size quotes",
		RunE: func(cmd *cobra.Command, args []string) error {
			chain, err := id.ParseChain(chainArg)
			if err != nil {
				return err
			}
			token, err := id.ParseToken(tokenArg, chain.ID)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), s.settings.CommandTimeout)
			defer cancel()
			usd, source := s.resolver.ResolveWithSource(ctx, chain.ID, token.Address)
			var warnings []string
			if source == price.SourceFallback {
				warnings = append(warnings, "no price source matched; using 1.0 placeholder")
			}
			data := priceView{ChainID: chain.ID, Token: token.Address, Symbol: token.Symbol, USD: usd, Source: source}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, warnings, cacheMetaBypass(), nil, false)
		},
	}
	cmd.Flags().StringVar(&chainArg, "chain", "", "Chain id or name")
	cmd.Flags().StringVar(&tokenArg, "token", "", "Token address, symbol or 'native'")
	_ = cmd.MarkFlagRequired("chain")
	_ = cmd.MarkFlagRequired("token")
	return cmd
}

func (s *runtimeState) selectCatalog(name string) (string, providers.CatalogProvider, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	catalog, ok := s.catalogs[name]
	if !ok {
		return "", nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("unsupported catalog provider: %s", name))
	}
	return name, catalog, nil
}

func filterTokens(tokens []model.Token, symbol string, limit int) []model.Token {
	out := make([]model.Token, 0, len(tokens))
	for _, t := range tokens {
		if symbol != "" && !strings.EqualFold(t.Symbol, symbol) {
			continue
		}
		out = append(out, t)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// lessNumeric orders numeric chain ids by value.
func lessNumeric(a, b string) bool {
	if len(a) != len(b) && isDigits(a) && isDigits(b) {
		return len(a) < len(b)
	}
	return a < b
}

func isDigits(v string) bool {
	if v == "" {
		return false
	}
	for _, r := range v {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
