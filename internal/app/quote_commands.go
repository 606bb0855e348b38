package app

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	clierr "github.com/ggonzalez94/xquotes/internal/errors"
	"github.com/ggonzalez94/xquotes/internal/id"
	"github.com/ggonzalez94/xquotes/internal/model"
	"github.com/ggonzalez94/xquotes/internal/quote"
	"github.com/spf13/cobra"
)

type pairFlags struct {
	fromChain string
	fromToken string
	toChain   string
	toToken   string
}

func (p *pairFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&p.fromChain, "from-chain", "", "Source chain id or name")
	cmd.Flags().StringVar(&p.fromToken, "from-token", "", "Source token address, symbol or 'native'")
	cmd.Flags().StringVar(&p.toChain, "to-chain", "", "Destination chain id or name")
	cmd.Flags().StringVar(&p.toToken, "to-token", "", "Destination token address, symbol or 'native'")
	for _, name := range []string{"from-chain", "from-token", "to-chain", "to-token"} {
		_ = cmd.MarkFlagRequired(name)
	}
}

// resolve turns chain names and token symbols into ids and addresses.
func (p pairFlags) resolve() (quote.Pair, error) {
	fromChain, err := id.ParseChain(p.fromChain)
	if err != nil {
		return quote.Pair{}, err
	}
	toChain, err := id.ParseChain(p.toChain)
	if err != nil {
		return quote.Pair{}, err
	}
	fromToken, err := id.ParseToken(p.fromToken, fromChain.ID)
	if err != nil {
		return quote.Pair{}, err
	}
	toToken, err := id.ParseToken(p.toToken, toChain.ID)
	if err != nil {
		return quote.Pair{}, err
	}
	return quote.Pair{
		FromChain: fromChain.ID,
		FromToken: fromToken.Address,
		ToChain:   toChain.ID,
		ToToken:   toToken.Address,
	}, nil
}

func (s *runtimeState) newQuoteCommand() *cobra.Command {
	var (
		pair   pairFlags
		amount string
	)
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Quote one USD notional on the aggregator and the bridge",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := pair.resolve()
			if err != nil {
				return err
			}
			usd, err := parseUSD(amount)
			if err != nil {
				return err
			}
			s.resetCommandDiagnostics()
			ctx, cancel := context.WithTimeout(context.Background(), s.settings.CommandTimeout)
			defer cancel()
			start := time.Now()
			data, err := s.orchestrator.Quote(ctx, p, usd)
			if err != nil {
				return err
			}
			status := quoteStatus(data.Quotes, time.Since(start))
			partial := hasErrors(status)
			s.captureCommandDiagnostics(nil, status, partial)
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, nil, cacheMetaBypass(), status, partial)
		},
	}
	pair.bind(cmd)
	cmd.Flags().StringVar(&amount, "amount-usd", "", "USD notional, e.g. 2500 or 2.5k")
	_ = cmd.MarkFlagRequired("amount-usd")
	return cmd
}

func (s *runtimeState) newAggregateCommand() *cobra.Command {
	var (
		pair        pairFlags
		checkpoints string
	)
	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Quote a pair at USD checkpoints across all active providers",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := pair.resolve()
			if err != nil {
				return err
			}
			custom, err := parseCheckpoints(checkpoints)
			if err != nil {
				return err
			}
			s.resetCommandDiagnostics()
			ctx, cancel := context.WithTimeout(context.Background(), s.settings.CommandTimeout)
			defer cancel()
			start := time.Now()
			data, err := s.orchestrator.Aggregate(ctx, p, custom)
			if err != nil {
				return err
			}
			status := matrixStatus(data.Matrix, time.Since(start))
			partial := hasErrors(status)
			var warnings []string
			if len(data.Providers) == 0 {
				warnings = append(warnings, "no active providers; enable one with 'providers enable'")
			}
			s.captureCommandDiagnostics(warnings, status, partial)
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, warnings, cacheMetaBypass(), status, partial)
		},
	}
	pair.bind(cmd)
	cmd.Flags().StringVar(&checkpoints, "checkpoints", "", "Extra USD checkpoints (comma-separated, e.g. 500,2.5k)")
	return cmd
}

// parseUSD accepts plain numbers with an optional "$" prefix and "k" suffix.
func parseUSD(raw string) (float64, error) {
	v := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(raw)), "$")
	mult := 1.0
	if strings.HasSuffix(v, "k") {
		mult = 1000
		v = strings.TrimSuffix(v, "k")
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, clierr.New(clierr.CodeUsage, fmt.Sprintf("invalid usd amount %q", raw))
	}
	return f * mult, nil
}

func parseCheckpoints(raw string) ([]float64, error) {
	parts := splitCSV(raw)
	out := make([]float64, 0, len(parts))
	for _, part := range parts {
		v, err := parseUSD(part)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// matrixStatus summarizes each matrix row as ok, partial or error.
func matrixStatus(m model.Matrix, elapsed time.Duration) []model.ProviderStatus {
	rows := make([]string, 0, len(m))
	for row := range m {
		rows = append(rows, row)
	}
	sort.Strings(rows)
	out := make([]model.ProviderStatus, 0, len(rows))
	for _, row := range rows {
		ok, total := 0, 0
		for _, q := range m[row] {
			total++
			if q.OK() {
				ok++
			}
		}
		status := "ok"
		switch {
		case ok == 0:
			status = "error"
		case ok < total:
			status = "partial"
		}
		out = append(out, model.ProviderStatus{Name: row, Status: status, LatencyMS: elapsed.Milliseconds()})
	}
	return out
}

func quoteStatus(quotes map[string]model.NormalizedQuote, elapsed time.Duration) []model.ProviderStatus {
	names := make([]string, 0, len(quotes))
	for name := range quotes {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]model.ProviderStatus, 0, len(names))
	for _, name := range names {
		status := "ok"
		if q := quotes[name]; !q.OK() {
			status = string(q.ErrorKind)
		}
		out = append(out, model.ProviderStatus{Name: name, Status: status, LatencyMS: elapsed.Milliseconds()})
	}
	return out
}

func hasErrors(status []model.ProviderStatus) bool {
	for _, s := range status {
		if s.Status != "ok" {
			return true
		}
	}
	return false
}
