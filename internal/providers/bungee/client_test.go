package bungee

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
	"github.com/ggonzalez94/xquotes/internal/route"
	"github.com/shopspring/decimal"
)

func newBungeeServer(t *testing.T, quoteCalls *int32, quote http.HandlerFunc) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/tokens/list":
			switch r.URL.Query().Get("chainIds") {
			case "137":
				_, _ = w.Write([]byte(`{"success":true,"result":{"137":[{"address":"0x3c499c542cef5e3811e1192ce70d8cc03d5c3359","symbol":"USDC","decimals":6,"priceInUsd":1.0}]}}`))
			default:
				_, _ = w.Write([]byte(`{"success":true,"result":{}}`))
			}
		case "/api/v1/supported-chains":
			_, _ = w.Write([]byte(`{"success":true,"result":[{"chainId":10,"name":"Optimism","currency":{"symbol":"ETH"}}]}`))
		case "/api/v1/bungee/quote":
			atomic.AddInt32(quoteCalls, 1)
			quote(w, r)
		default:
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
	}))
}

func newTestClient(srv *httptest.Server) *Client {
	return New(httpx.New(2*time.Second, 0), "", "", nil).WithBaseURL(srv.URL + "/api/v1")
}

func usdcToNative() providers.QuoteRequest {
	return providers.QuoteRequest{
		FromChain:     "137",
		FromToken:     "0x3c499c542cef5e3811e1192ce70d8cc03d5c3359",
		ToChain:       "10",
		ToToken:       id.NativeZeroAddress,
		USDAmount:     decimal.NewFromInt(1000),
		UnitPriceFrom: decimal.NewFromInt(1),
	}
}

func TestQuoteSendsNormalizedParams(t *testing.T) {
	var calls int32
	srv := newBungeeServer(t, &calls, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("originChainId") != "137" || q.Get("destinationChainId") != "10" {
			t.Fatalf("unexpected chains: %s", r.URL.RawQuery)
		}
		if q.Get("outputToken") != id.NativeEAddress {
			t.Fatalf("expected e-form native sentinel, got %s", q.Get("outputToken"))
		}
		if q.Get("inputAmount") != "1000000000" {
			t.Fatalf("unexpected input amount: %s", q.Get("inputAmount"))
		}
		if q.Get("enableManual") != "true" || q.Get("userAddress") != providers.PlaceholderAccount {
			t.Fatalf("unexpected extras: %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{
			"success": true,
			"result": {
				"output": {"token": {"decimals": 18}},
				"autoRoute": {
					"estimatedTime": 10,
					"routeDetails": {"name": "Bungee Protocol"},
					"output": {"amount": "260000000000000000"},
					"outputAmount": "263000000000000000"
				},
				"manualRoutes": [
					{"outputAmount": "264000000000000000", "usedBridgeNames": ["across"], "estimatedTime": 120},
					{"outputAmount": "265000000000000000", "usedBridgeNames": ["stargate"], "estimatedTime": 300}
				]
			}
		}`))
	})
	defer srv.Close()

	got := newTestClient(srv).Quote(context.Background(), usdcToNative())
	if got.Auto.OutputAmount != "0.2630" || got.Auto.RouteLabel != "Bungee Protocol" {
		t.Fatalf("unexpected auto quote: %+v", got.Auto)
	}
	if got.Auto.EstimatedTimeSeconds == nil || *got.Auto.EstimatedTimeSeconds != 10 {
		t.Fatalf("unexpected auto time: %v", got.Auto.EstimatedTimeSeconds)
	}
	if got.Manual.OutputAmount != "0.2650" || got.Manual.RouteLabel != "stargate" {
		t.Fatalf("unexpected manual quote: %+v", got.Manual)
	}
	if got.Auto.InputTokenAmount != "1000.000000" {
		t.Fatalf("unexpected input amount: %s", got.Auto.InputTokenAmount)
	}
}

func TestQuoteManualOnly(t *testing.T) {
	var calls int32
	srv := newBungeeServer(t, &calls, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"success": true,
			"result": {
				"manualRoutes": [
					{"output": {"amount": "500000000000000000"}, "userTxs": [{"stepType": "bridge", "bridgeRoutes": [{"usedBridgeNames": ["hop"]}]}]}
				]
			}
		}`))
	})
	defer srv.Close()

	got := newTestClient(srv).Quote(context.Background(), usdcToNative())
	if got.Manual.OutputAmount != "0.5000" {
		t.Fatalf("expected 0.5000 manual output, got %+v", got.Manual)
	}
	if got.Manual.RouteLabel != "hop" {
		t.Fatalf("expected user tx bridge label, got %s", got.Manual.RouteLabel)
	}
	if got.Auto.ErrorKind != model.ErrNoQuoteAvailable || got.Auto.OutputAmount != model.ZeroOutput {
		t.Fatalf("expected auto no quote, got %+v", got.Auto)
	}
}

func TestQuoteRateLimited(t *testing.T) {
	var calls int32
	srv := newBungeeServer(t, &calls, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"success":false,"statusCode":429,"message":"Rate limit exceeded"}`))
	})
	defer srv.Close()

	got := newTestClient(srv).Quote(context.Background(), usdcToNative())
	for _, q := range []model.NormalizedQuote{got.Auto, got.Manual} {
		if q.ErrorKind != model.ErrRateLimited || q.OutputAmount != "0.0000" {
			t.Fatalf("expected rate limited quote, got %+v", q)
		}
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected a single quote call, got %d", calls)
	}
}

func TestQuoteBestPrefersAuto(t *testing.T) {
	var calls int32
	srv := newBungeeServer(t, &calls, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"success": true,
			"result": {
				"autoRoute": {"outputAmount": "100000000000000000", "routeDetails": {"name": "auto"}},
				"manualRoutes": [{"outputAmount": "900000000000000000", "routeDetails": {"name": "manual"}}]
			}
		}`))
	})
	defer srv.Close()

	quote, source := newTestClient(srv).QuoteBest(context.Background(), usdcToNative())
	if source != route.SourceAuto || quote.OutputAmount != "0.1000" || quote.RouteLabel != "auto" {
		t.Fatalf("expected auto route, got %+v from %s", quote, source)
	}
}

func TestQuoteBestFallsBackToLegacyRoutes(t *testing.T) {
	var calls int32
	srv := newBungeeServer(t, &calls, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"success": true,
			"result": {
				"routes": [
					{"toAmount": "0"},
					{"toAmount": "123400000000000000", "usedBridgeNames": ["celer"], "serviceTime": 600}
				]
			}
		}`))
	})
	defer srv.Close()

	quote, source := newTestClient(srv).QuoteBest(context.Background(), usdcToNative())
	if source != route.SourceLegacy || quote.OutputAmount != "0.1234" || quote.RouteLabel != "celer" {
		t.Fatalf("expected legacy route, got %+v from %s", quote, source)
	}
}

func TestQuoteInvalidAmountSkipsQuoteCall(t *testing.T) {
	var calls int32
	srv := newBungeeServer(t, &calls, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"result":{}}`))
	})
	defer srv.Close()

	req := usdcToNative()
	req.UnitPriceFrom = decimal.Zero
	got := newTestClient(srv).Quote(context.Background(), req)
	if got.Auto.ErrorKind != model.ErrInvalidAmount || got.Manual.ErrorKind != model.ErrInvalidAmount {
		t.Fatalf("expected invalid amount, got %+v", got)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Fatalf("expected no quote call, got %d", calls)
	}
}

func TestQuoteUnsuccessfulEnvelope(t *testing.T) {
	var calls int32
	srv := newBungeeServer(t, &calls, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"error":{"message":"no routes"}}`))
	})
	defer srv.Close()

	got := newTestClient(srv).Quote(context.Background(), usdcToNative())
	if got.Auto.ErrorKind != model.ErrNoQuoteAvailable {
		t.Fatalf("expected no quote available, got %+v", got.Auto)
	}
}

func TestDedicatedBackendHeaders(t *testing.T) {
	var calls int32
	srv := newBungeeServer(t, &calls, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "key" || r.Header.Get("affiliate") != "aff" {
			t.Fatalf("expected dedicated auth headers, got %v", r.Header)
		}
		_, _ = w.Write([]byte(`{"success":true,"result":{"autoRoute":{"outputAmount":"1000000000000000000"}}}`))
	})
	defer srv.Close()

	c := New(httpx.New(2*time.Second, 0), "key", "aff", nil).WithBaseURL(srv.URL + "/api/v1")
	c.dedicatedBaseURL = srv.URL + "/api/v1"
	got := c.Quote(context.Background(), usdcToNative())
	if got.Auto.OutputAmount != "1.0000" {
		t.Fatalf("unexpected auto quote: %+v", got.Auto)
	}
}

func TestClassifyError(t *testing.T) {
	cases := []struct {
		status int
		body   string
		want   model.ErrorKind
	}{
		{status: 429, body: `{"message":"slow down"}`, want: model.ErrRateLimited},
		{status: 404, body: `{"message":"No route found"}`, want: model.ErrRouteNotFound},
		{status: 404, body: `{"error":{"message":"Insufficient liquidity for bridge"}}`, want: model.ErrNoLiquidity},
		{status: 400, body: `{"error":"inputAmount below minimum"}`, want: model.ErrInvalidAmountFormat},
		{status: 400, body: `{"message":"unsupported token"}`, want: model.ErrBadRequest},
		{status: 400, body: `<html>`, want: model.ErrBadRequest},
		{status: 500, body: ``, want: model.ErrUpstreamServerError},
		{status: 503, body: ``, want: model.ErrUpstreamUnavailable},
		{status: 502, body: ``, want: model.ErrUnknownUpstreamError},
	}
	for _, tc := range cases {
		if got, _ := classifyError(tc.status, []byte(tc.body)); got != tc.want {
			t.Fatalf("classifyError(%d, %q) = %s, want %s", tc.status, tc.body, got, tc.want)
		}
	}
}

func TestListChainsAndTokens(t *testing.T) {
	var calls int32
	srv := newBungeeServer(t, &calls, nil)
	defer srv.Close()

	c := newTestClient(srv)
	chains, err := c.ListChains(context.Background())
	if err != nil {
		t.Fatalf("ListChains failed: %v", err)
	}
	if len(chains) != 1 || chains[0].ChainID != "10" || chains[0].Native != "ETH" {
		t.Fatalf("unexpected chains: %+v", chains)
	}
	tokens, err := c.ListTokens(context.Background(), "137")
	if err != nil {
		t.Fatalf("ListTokens failed: %v", err)
	}
	if len(tokens) != 1 || tokens[0].PriceUSD == nil || !tokens[0].PriceUSD.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("unexpected tokens: %+v", tokens)
	}
}
