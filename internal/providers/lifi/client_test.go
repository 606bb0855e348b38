package lifi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ggonzalez94/xquotes/internal/httpx"
	"github.com/ggonzalez94/xquotes/internal/id"
	"github.com/ggonzalez94/xquotes/internal/model"
	"github.com/ggonzalez94/xquotes/internal/providers"
	"github.com/shopspring/decimal"
)

const polygonUSDC = "0x3c499c542cef5e3811e1192ce70d8cc03d5c3359"

func newLiFiServer(t *testing.T, quoteCalls *int32, quote http.HandlerFunc) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/tokens":
			switch r.URL.Query().Get("chains") {
			case "1":
				_, _ = w.Write([]byte(`{"tokens":{"1":[{"address":"0x0000000000000000000000000000000000000000","symbol":"ETH","decimals":18,"priceUSD":"3800"}]}}`))
			case "137":
				_, _ = w.Write([]byte(`{"tokens":{"137":[{"address":"0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359","symbol":"USDC","decimals":6,"priceUSD":"0.9999"}]}}`))
			default:
				_, _ = w.Write([]byte(`{"tokens":{}}`))
			}
		case "/chains":
			_, _ = w.Write([]byte(`{"chains":[{"id":1,"key":"eth","name":"Ethereum","nativeToken":{"symbol":"ETH"}},{"id":137,"key":"pol","name":"Polygon","nativeToken":{"symbol":"POL"}}]}`))
		case "/quote":
			atomic.AddInt32(quoteCalls, 1)
			quote(w, r)
		default:
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
	}))
}

func newTestClient(srv *httptest.Server) *Client {
	return New(httpx.New(2*time.Second, 0), "", nil).WithBaseURL(srv.URL)
}

func ethToPolygonUSDC(usd int64) providers.QuoteRequest {
	return providers.QuoteRequest{
		FromChain:     "1",
		FromToken:     id.NativeEAddress,
		ToChain:       "137",
		ToToken:       polygonUSDC,
		USDAmount:     decimal.NewFromInt(usd),
		UnitPriceFrom: decimal.NewFromInt(3800),
	}
}

func TestQuoteNormalizesOutput(t *testing.T) {
	var calls int32
	srv := newLiFiServer(t, &calls, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("fromChain") != "1" || q.Get("toChain") != "137" {
			t.Fatalf("unexpected chains: %s", r.URL.RawQuery)
		}
		if q.Get("fromToken") != id.NativeZeroAddress {
			t.Fatalf("expected zero native sentinel, got %s", q.Get("fromToken"))
		}
		if q.Get("fromAmount") != "263157000000000000" {
			t.Fatalf("unexpected fromAmount: %s", q.Get("fromAmount"))
		}
		if q.Get("fromAddress") != providers.PlaceholderAccount {
			t.Fatalf("unexpected fromAddress: %s", q.Get("fromAddress"))
		}
		_, _ = w.Write([]byte(`{
			"action":{"toToken":{"decimals":6}},
			"estimate":{"toAmount":"2630000000","executionDuration":42.4},
			"tool":"stargate",
			"toolDetails":{"key":"stargate","name":"Stargate"}
		}`))
	})
	defer srv.Close()

	quote := newTestClient(srv).Quote(context.Background(), ethToPolygonUSDC(1000))
	if !quote.OK() {
		t.Fatalf("unexpected error quote: %+v", quote)
	}
	if quote.OutputAmount != "2630.00" {
		t.Fatalf("unexpected output amount: %s", quote.OutputAmount)
	}
	if quote.RouteLabel != "Stargate" || quote.ProviderLabel != "LI.FI" {
		t.Fatalf("unexpected labels: %+v", quote)
	}
	if quote.EstimatedTimeSeconds == nil || *quote.EstimatedTimeSeconds != 42 {
		t.Fatalf("unexpected estimated time: %v", quote.EstimatedTimeSeconds)
	}
	if quote.InputTokenAmount != "0.263157" {
		t.Fatalf("unexpected input amount: %s", quote.InputTokenAmount)
	}
}

func TestQuoteFallsBackToTokenListDecimals(t *testing.T) {
	var calls int32
	srv := newLiFiServer(t, &calls, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"estimate":{"toAmount":"1500000"},"includedSteps":[{"toolDetails":{"name":"Across"}}]}`))
	})
	defer srv.Close()

	quote := newTestClient(srv).Quote(context.Background(), ethToPolygonUSDC(1000))
	if quote.OutputAmount != "1.50" {
		t.Fatalf("expected 6-decimal formatting from token list, got %s", quote.OutputAmount)
	}
	if quote.RouteLabel != "Across" {
		t.Fatalf("expected step label, got %s", quote.RouteLabel)
	}
}

func TestQuoteInvalidAmountSkipsQuoteCall(t *testing.T) {
	var calls int32
	srv := newLiFiServer(t, &calls, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})
	defer srv.Close()

	req := ethToPolygonUSDC(1000)
	req.UnitPriceFrom = decimal.Zero
	quote := newTestClient(srv).Quote(context.Background(), req)
	if quote.ErrorKind != model.ErrInvalidAmount || quote.OutputAmount != model.ZeroOutput {
		t.Fatalf("expected invalid amount quote, got %+v", quote)
	}
	if got := atomic.LoadInt32(&calls); got != 0 {
		t.Fatalf("expected no quote call, got %d", got)
	}
}

func TestQuoteRateLimited(t *testing.T) {
	var calls int32
	srv := newLiFiServer(t, &calls, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"message":"Too many requests"}`))
	})
	defer srv.Close()

	quote := newTestClient(srv).Quote(context.Background(), ethToPolygonUSDC(1000))
	if quote.ErrorKind != model.ErrRateLimited || quote.OutputAmount != "0.0000" {
		t.Fatalf("expected rate limited quote, got %+v", quote)
	}
	if quote.Error != model.ErrRateLimited.Label() {
		t.Fatalf("expected short label, got %q", quote.Error)
	}
}

func TestQuoteMissingOutputIsNoQuote(t *testing.T) {
	var calls int32
	srv := newLiFiServer(t, &calls, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"estimate":{}}`))
	})
	defer srv.Close()

	quote := newTestClient(srv).Quote(context.Background(), ethToPolygonUSDC(1000))
	if quote.ErrorKind != model.ErrNoQuoteAvailable {
		t.Fatalf("expected no quote available, got %+v", quote)
	}
}

func TestQuoteTimeoutIsUnavailable(t *testing.T) {
	var calls int32
	srv := newLiFiServer(t, &calls, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		_, _ = w.Write([]byte(`{}`))
	})
	defer srv.Close()

	c := newTestClient(srv)
	_, _ = c.ListTokens(context.Background(), "1")
	_, _ = c.ListTokens(context.Background(), "137")
	c.http = httpx.New(50*time.Millisecond, 0)

	quote := c.Quote(context.Background(), ethToPolygonUSDC(1000))
	if quote.ErrorKind != model.ErrUpstreamUnavailable {
		t.Fatalf("expected upstream unavailable, got %+v", quote)
	}
}

func TestClassifyError(t *testing.T) {
	cases := []struct {
		status int
		body   string
		want   model.ErrorKind
	}{
		{status: 429, body: ``, want: model.ErrRateLimited},
		{status: 404, body: `{"message":"No available quotes for the requested transfer"}`, want: model.ErrRouteNotFound},
		{status: 404, body: `{"message":"Insufficient liquidity in pool"}`, want: model.ErrNoLiquidity},
		{status: 404, body: `not json`, want: model.ErrRouteNotFound},
		{status: 400, body: `{"message":"Invalid fromAmount"}`, want: model.ErrInvalidAmountFormat},
		{status: 400, body: `{"message":"fromToken must be an address"}`, want: model.ErrBadRequest},
		{status: 500, body: `{}`, want: model.ErrUpstreamServerError},
		{status: 503, body: ``, want: model.ErrUpstreamUnavailable},
		{status: 418, body: ``, want: model.ErrUnknownUpstreamError},
	}
	for _, tc := range cases {
		got, detail := classifyError(tc.status, []byte(tc.body))
		if got != tc.want {
			t.Fatalf("classifyError(%d, %q) = %s, want %s", tc.status, tc.body, got, tc.want)
		}
		if detail == "" {
			t.Fatalf("expected detail for status %d", tc.status)
		}
	}
}

func TestListChainsAndTokens(t *testing.T) {
	var calls int32
	srv := newLiFiServer(t, &calls, nil)
	defer srv.Close()

	c := newTestClient(srv)
	chains, err := c.ListChains(context.Background())
	if err != nil {
		t.Fatalf("ListChains failed: %v", err)
	}
	if len(chains) != 2 || chains[1].ChainID != "137" || chains[1].Native != "POL" {
		t.Fatalf("unexpected chains: %+v", chains)
	}

	tokens, err := c.ListTokens(context.Background(), "137")
	if err != nil {
		t.Fatalf("ListTokens failed: %v", err)
	}
	if len(tokens) != 1 || tokens[0].Decimals != 6 || tokens[0].PriceUSD == nil || tokens[0].PriceUSD.String() != "0.9999" {
		t.Fatalf("unexpected tokens: %+v", tokens)
	}
	if _, ok := c.CachedTokens("137"); !ok {
		t.Fatal("expected token list to be memoized")
	}
}

func TestQuoteBoundedBySlowTokenList(t *testing.T) {
	release := make(chan struct{})
	var quoteCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/tokens":
			select {
			case <-release:
			case <-time.After(2 * time.Second):
			}
			_, _ = w.Write([]byte(`{"tokens":{}}`))
		case "/quote":
			atomic.AddInt32(&quoteCalls, 1)
			_, _ = w.Write([]byte(`{"action":{"toToken":{"decimals":6}},"estimate":{"toAmount":"2630000000"}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	quote := newTestClient(srv).Quote(ctx, ethToPolygonUSDC(1000))
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("quote outlived call deadline: %s", elapsed)
	}
	if quote.ErrorKind != model.ErrUpstreamUnavailable {
		t.Fatalf("expected upstream unavailable, got %+v", quote)
	}
}
