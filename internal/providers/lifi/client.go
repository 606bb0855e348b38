package lifi

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ggonzalez94/xquotes/internal/httpx"
	"github.com/ggonzalez94/xquotes/internal/id"
	"github.com/ggonzalez94/xquotes/internal/logging"
	"github.com/ggonzalez94/xquotes/internal/model"
	"github.com/ggonzalez94/xquotes/internal/providers"
	"github.com/ggonzalez94/xquotes/internal/providers/tokenlist"
	"github.com/ggonzalez94/xquotes/internal/registry"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	providerLabel = "LI.FI"
	outputPlaces  = 2
	slippage      = "0.005"
)

type Client struct {
	http    *httpx.Client
	baseURL string
	apiKey  string
	tokens  *tokenlist.Memo
	log     logrus.FieldLogger
}

func New(httpClient *httpx.Client, apiKey string, log logrus.FieldLogger) *Client {
	c := &Client{
		http:    httpClient,
		baseURL: registry.LiFiBaseURL,
		apiKey:  strings.TrimSpace(apiKey),
		log:     logging.OrDiscard(log).WithField("provider", "lifi"),
	}
	c.tokens = tokenlist.New(c.fetchTokens, tokenlist.DefaultTTL)
	return c
}

// WithBaseURL points the client at a different API root.
func (c *Client) WithBaseURL(base string) *Client {
	if base = registry.NormalizeEndpoint(base); base != "" {
		c.baseURL = base
	}
	return c
}

func (c *Client) Info() model.ProviderInfo {
	return model.ProviderInfo{
		Name:         "lifi",
		Type:         model.KindAggregator,
		RequiresKey:  false,
		Capabilities: []string{"chains.list", "tokens.list", "quote"},
		KeyEnvVar:    "XQUOTES_LIFI_API_KEY",
	}
}

type chainsResponse struct {
	Chains []struct {
		ID          int64  `json:"id"`
		Key         string `json:"key"`
		Name        string `json:"name"`
		LogoURI     string `json:"logoURI"`
		NativeToken struct {
			Symbol string `json:"symbol"`
		} `json:"nativeToken"`
	} `json:"chains"`
}

type tokensResponse struct {
	Tokens map[string][]lifiToken `json:"tokens"`
}

type lifiToken struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Decimals int    `json:"decimals"`
	LogoURI  string `json:"logoURI"`
	PriceUSD string `json:"priceUSD"`
}

type quoteResponse struct {
	Action struct {
		ToToken struct {
			Decimals int `json:"decimals"`
		} `json:"toToken"`
	} `json:"action"`
	Estimate struct {
		ToAmount          string   `json:"toAmount"`
		ExecutionDuration *float64 `json:"executionDuration"`
	} `json:"estimate"`
	Tool          string      `json:"tool"`
	ToolDetails   toolDetails `json:"toolDetails"`
	IncludedSteps []struct {
		Tool        string      `json:"tool"`
		ToolDetails toolDetails `json:"toolDetails"`
	} `json:"includedSteps"`
}

type toolDetails struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

type errorResponse struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func (c *Client) ListChains(ctx context.Context) ([]model.Chain, error) {
	var resp chainsResponse
	if _, err := c.http.GetJSON(ctx, c.baseURL+"/chains", c.headers(""), &resp); err != nil {
		return nil, err
	}
	out := make([]model.Chain, 0, len(resp.Chains))
	for _, ch := range resp.Chains {
		out = append(out, model.Chain{
			ChainID:  strconv.FormatInt(ch.ID, 10),
			Name:     ch.Name,
			Key:      ch.Key,
			Native:   ch.NativeToken.Symbol,
			LogoURI:  ch.LogoURI,
			Provider: "lifi",
		})
	}
	return out, nil
}

// ListTokens returns the memoized token list for chainID.
func (c *Client) ListTokens(ctx context.Context, chainID string) ([]model.Token, error) {
	return c.tokens.Get(ctx, chainID)
}

// CachedTokens returns the memoized list without fetching.
func (c *Client) CachedTokens(chainID string) ([]model.Token, bool) {
	return c.tokens.Peek(chainID)
}

func (c *Client) fetchTokens(ctx context.Context, chainID string) ([]model.Token, error) {
	vals := url.Values{}
	vals.Set("chains", chainID)
	var resp tokensResponse
	if _, err := c.http.GetJSON(ctx, c.baseURL+"/tokens?"+vals.Encode(), c.headers(""), &resp); err != nil {
		return nil, err
	}
	raw := resp.Tokens[chainID]
	out := make([]model.Token, 0, len(raw))
	for _, t := range raw {
		tok := model.Token{
			ChainID:  chainID,
			Address:  t.Address,
			Symbol:   t.Symbol,
			Name:     t.Name,
			Decimals: t.Decimals,
			LogoURI:  t.LogoURI,
			Provider: "lifi",
		}
		if p, err := decimal.NewFromString(strings.TrimSpace(t.PriceUSD)); err == nil && p.IsPositive() {
			tok.PriceUSD = &p
		}
		out = append(out, tok)
	}
	return out, nil
}

// Quote converts req.USDAmount into base units of the source token and asks
// LI.FI for a single best route. Failures come back as error quotes.
func (c *Client) Quote(ctx context.Context, req providers.QuoteRequest) model.NormalizedQuote {
	fromToken := nativeToZero(req.FromToken)
	toToken := nativeToZero(req.ToToken)
	inputAmount := id.TokenAmountString(req.USDAmount, req.UnitPriceFrom)
	log := c.log.WithFields(logrus.Fields{
		"from_chain": req.FromChain,
		"to_chain":   req.ToChain,
		"usd":        req.USDAmount.String(),
	})

	fromDecimals := c.tokens.Decimals(ctx, req.FromChain, fromToken)
	baseUnits, err := id.USDToBaseUnits(req.USDAmount, req.UnitPriceFrom, fromDecimals)
	if err != nil {
		log.WithError(err).Debug("amount conversion failed")
		return model.ErrorQuote(model.ErrInvalidAmount, providerLabel, err.Error(), inputAmount, req.UnitPriceFrom)
	}

	vals := url.Values{}
	vals.Set("fromChain", req.FromChain)
	vals.Set("toChain", req.ToChain)
	vals.Set("fromToken", fromToken)
	vals.Set("toToken", toToken)
	vals.Set("fromAmount", baseUnits)
	vals.Set("fromAddress", providers.PlaceholderAccount)
	vals.Set("slippage", slippage)
	vals.Set("order", "CHEAPEST")
	vals.Set("allowSwitchChain", "false")

	endpoint := req.Call.BaseURLOr(c.baseURL) + "/quote?" + vals.Encode()
	var resp quoteResponse
	if _, err := c.http.GetJSON(ctx, endpoint, c.headers(req.Call.APIKey), &resp); err != nil {
		kind, detail := classify(err)
		log.WithError(err).WithField("kind", kind).Debug("quote request failed")
		return model.ErrorQuote(kind, providerLabel, detail, inputAmount, req.UnitPriceFrom)
	}

	out, ok := id.ParseBaseUnits(resp.Estimate.ToAmount)
	if !ok || out.Sign() == 0 {
		return model.ErrorQuote(model.ErrNoQuoteAvailable, providerLabel, "quote response has no output amount", inputAmount, req.UnitPriceFrom)
	}
	toDecimals := resp.Action.ToToken.Decimals
	if toDecimals <= 0 {
		toDecimals = c.tokens.Decimals(ctx, req.ToChain, toToken)
	}
	formatted, _ := id.FormatFixed(out.String(), toDecimals, outputPlaces)
	log.WithField("to_amount", id.FormatDecimalCompat(out.String(), toDecimals)).Debug("quote received")

	return model.NormalizedQuote{
		OutputAmount:         formatted,
		EstimatedTimeSeconds: seconds(resp.Estimate.ExecutionDuration),
		ProviderLabel:        providerLabel,
		RouteLabel:           routeLabel(resp),
		InputTokenAmount:     inputAmount,
		UnitPrice:            req.UnitPriceFrom,
	}
}

func (c *Client) headers(override string) map[string]string {
	key := strings.TrimSpace(override)
	if key == "" {
		key = c.apiKey
	}
	if key == "" {
		return nil
	}
	return map[string]string{"x-lifi-api-key": key}
}

func routeLabel(resp quoteResponse) string {
	if name := strings.TrimSpace(resp.ToolDetails.Name); name != "" {
		return name
	}
	if tool := strings.TrimSpace(resp.Tool); tool != "" {
		return tool
	}
	for _, step := range resp.IncludedSteps {
		if name := strings.TrimSpace(step.ToolDetails.Name); name != "" {
			return name
		}
	}
	return providerLabel
}

func seconds(v *float64) *int64 {
	if v == nil || *v < 0 {
		return nil
	}
	s := int64(math.Round(*v))
	return &s
}

func nativeToZero(addr string) string {
	return id.CanonicalAddress(addr)
}

func classify(err error) (model.ErrorKind, string) {
	if status, ok := httpx.AsStatus(err); ok {
		return classifyError(status.StatusCode, status.Body)
	}
	return providers.TransportKind(err), err.Error()
}

// classifyError maps an upstream status and error body onto the quote error
// taxonomy. Message matching follows LI.FI's current wording.
func classifyError(status int, body []byte) (model.ErrorKind, string) {
	var resp errorResponse
	msg := ""
	if err := json.Unmarshal(body, &resp); err == nil {
		msg = strings.TrimSpace(resp.Message)
	}
	detail := "lifi status " + strconv.Itoa(status)
	if msg != "" {
		detail += ": " + msg
	}

	switch {
	case status == http.StatusTooManyRequests:
		return model.ErrRateLimited, detail
	case status == http.StatusNotFound:
		if providers.MessageContains(msg, "liquidity") {
			return model.ErrNoLiquidity, detail
		}
		return model.ErrRouteNotFound, detail
	case status == http.StatusBadRequest:
		if providers.MessageContains(msg, "amount", "too low", "too small", "decimals") {
			return model.ErrInvalidAmountFormat, detail
		}
		return model.ErrBadRequest, detail
	case status == http.StatusInternalServerError:
		return model.ErrUpstreamServerError, detail
	case status == http.StatusServiceUnavailable:
		return model.ErrUpstreamUnavailable, detail
	default:
		return model.ErrUnknownUpstreamError, detail
	}
}

var _ providers.AggregatorProvider = (*Client)(nil)
