package bungee

import (
	"context"
	"encoding/json"
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
	"github.com/ggonzalez94/xquotes/internal/route"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	providerLabel = "Bungee"
	outputPlaces  = 4
	slippagePct   = "0.5"
)

type Client struct {
	http             *httpx.Client
	baseURL          string
	dedicatedBaseURL string
	apiKey           string
	affiliate        string
	tokens           *tokenlist.Memo
	log              logrus.FieldLogger
}

func New(httpClient *httpx.Client, apiKey, affiliate string, log logrus.FieldLogger) *Client {
	c := &Client{
		http:             httpClient,
		baseURL:          registry.BungeeBaseURL,
		dedicatedBaseURL: registry.BungeeDedicatedBaseURL,
		apiKey:           strings.TrimSpace(apiKey),
		affiliate:        strings.TrimSpace(affiliate),
		log:              logging.OrDiscard(log).WithField("provider", "bungee"),
	}
	c.tokens = tokenlist.New(c.fetchTokens, tokenlist.DefaultTTL)
	return c
}

// WithBaseURL points the client at a different public API root.
func (c *Client) WithBaseURL(base string) *Client {
	if base = registry.NormalizeEndpoint(base); base != "" {
		c.baseURL = base
	}
	return c
}

func (c *Client) Info() model.ProviderInfo {
	return model.ProviderInfo{
		Name:         "bungee",
		Type:         model.KindBridge,
		RequiresKey:  false,
		Capabilities: []string{"chains.list", "tokens.list", "quote.auto", "quote.manual", "quote.best"},
		KeyEnvVar:    "XQUOTES_BUNGEE_API_KEY",
	}
}

type envelope struct {
	Success    bool            `json:"success"`
	StatusCode int             `json:"statusCode"`
	Message    string          `json:"message"`
	Error      json.RawMessage `json:"error"`
}

type chainsResponse struct {
	envelope
	Result []struct {
		ChainID  int64  `json:"chainId"`
		Name     string `json:"name"`
		Icon     string `json:"icon"`
		Currency struct {
			Symbol string `json:"symbol"`
		} `json:"currency"`
	} `json:"result"`
}

type tokensResponse struct {
	envelope
	Result map[string][]struct {
		Address    string   `json:"address"`
		Symbol     string   `json:"symbol"`
		Name       string   `json:"name"`
		Decimals   int      `json:"decimals"`
		LogoURI    string   `json:"logoURI"`
		PriceInUSD *float64 `json:"priceInUsd"`
	} `json:"result"`
}

type quoteResponse struct {
	envelope
	Result quoteResult `json:"result"`
}

type quoteResult struct {
	Output       quoteOutput   `json:"output"`
	AutoRoute    *quoteRoute   `json:"autoRoute"`
	ManualRoutes []quoteRoute  `json:"manualRoutes"`
	Routes       []legacyRoute `json:"routes"`
}

type quoteOutput struct {
	Amount string `json:"amount"`
	Token  struct {
		Decimals int `json:"decimals"`
	} `json:"token"`
}

type quoteRoute struct {
	Output          quoteOutput   `json:"output"`
	OutputAmount    string        `json:"outputAmount"`
	EstimatedTime   *int64        `json:"estimatedTime"`
	RouteDetails    quoteDetails  `json:"routeDetails"`
	UsedBridgeNames []string      `json:"usedBridgeNames"`
	UserTxs         []quoteUserTx `json:"userTxs"`
}

type legacyRoute struct {
	ToAmount        string   `json:"toAmount"`
	UsedBridgeNames []string `json:"usedBridgeNames"`
	ServiceTime     *int64   `json:"serviceTime"`
}

type quoteDetails struct {
	Name string `json:"name"`
}

type quoteUserTx struct {
	StepType     string `json:"stepType"`
	BridgeRoutes []struct {
		UsedBridgeNames []string `json:"usedBridgeNames"`
	} `json:"bridgeRoutes"`
}

func (c *Client) ListChains(ctx context.Context) ([]model.Chain, error) {
	var resp chainsResponse
	if _, err := c.http.GetJSON(ctx, c.baseURL+"/supported-chains", nil, &resp); err != nil {
		return nil, err
	}
	out := make([]model.Chain, 0, len(resp.Result))
	for _, ch := range resp.Result {
		out = append(out, model.Chain{
			ChainID:  strconv.FormatInt(ch.ChainID, 10),
			Name:     ch.Name,
			Native:   ch.Currency.Symbol,
			LogoURI:  ch.Icon,
			Provider: "bungee",
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
	vals.Set("chainIds", chainID)
	var resp tokensResponse
	if _, err := c.http.GetJSON(ctx, c.baseURL+"/tokens/list?"+vals.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	raw := resp.Result[chainID]
	out := make([]model.Token, 0, len(raw))
	for _, t := range raw {
		tok := model.Token{
			ChainID:  chainID,
			Address:  t.Address,
			Symbol:   t.Symbol,
			Name:     t.Name,
			Decimals: t.Decimals,
			LogoURI:  t.LogoURI,
			Provider: "bungee",
		}
		if t.PriceInUSD != nil && *t.PriceInUSD > 0 {
			p := decimal.NewFromFloat(*t.PriceInUSD)
			tok.PriceUSD = &p
		}
		out = append(out, tok)
	}
	return out, nil
}

// Quote returns the provider's auto route and its best manual route as two
// independent cells.
func (c *Client) Quote(ctx context.Context, req providers.QuoteRequest) providers.BridgeQuotes {
	call := c.prepare(ctx, req)
	if call.failed != nil {
		return providers.BridgeQuotes{Auto: *call.failed, Manual: *call.failed}
	}
	auto, manual, _ := candidates(call.result)

	out := providers.BridgeQuotes{
		Auto:   call.noQuote("response has no auto route"),
		Manual: call.noQuote("response has no usable manual route"),
	}
	if auto != nil {
		if _, ok := auto.Output(); ok {
			out.Auto = call.success(*auto)
		}
	}
	if best, ok := route.SelectManual(manual); ok {
		out.Manual = call.success(best)
	}
	return out
}

// QuoteBest collapses the response into one quote: the auto route when it has
// output, then the best manual route, then the first legacy route.
func (c *Client) QuoteBest(ctx context.Context, req providers.QuoteRequest) (model.NormalizedQuote, route.Source) {
	call := c.prepare(ctx, req)
	if call.failed != nil {
		return *call.failed, ""
	}
	auto, manual, legacy := candidates(call.result)
	best, source, ok := route.SelectBest(auto, manual, legacy)
	if !ok {
		return call.noQuote("response has no usable route"), ""
	}
	return call.success(best), source
}

type preparedCall struct {
	result     quoteResult
	toDecimals int
	input      string
	unitPrice  decimal.Decimal
	failed     *model.NormalizedQuote
}

func (p preparedCall) success(c route.Candidate) model.NormalizedQuote {
	formatted, _ := id.FormatFixed(c.OutputBaseUnits, p.toDecimals, outputPlaces)
	return model.NormalizedQuote{
		OutputAmount:         formatted,
		EstimatedTimeSeconds: c.EstimatedTimeSeconds,
		ProviderLabel:        providerLabel,
		RouteLabel:           c.Label,
		InputTokenAmount:     p.input,
		UnitPrice:            p.unitPrice,
	}
}

func (p preparedCall) noQuote(detail string) model.NormalizedQuote {
	return model.ErrorQuote(model.ErrNoQuoteAvailable, providerLabel, detail, p.input, p.unitPrice)
}

func (c *Client) prepare(ctx context.Context, req providers.QuoteRequest) preparedCall {
	fromToken := nativeToE(req.FromToken)
	toToken := nativeToE(req.ToToken)
	call := preparedCall{
		input:     id.TokenAmountString(req.USDAmount, req.UnitPriceFrom),
		unitPrice: req.UnitPriceFrom,
	}
	log := c.log.WithFields(logrus.Fields{
		"from_chain": req.FromChain,
		"to_chain":   req.ToChain,
		"usd":        req.USDAmount.String(),
	})
	fail := func(kind model.ErrorKind, detail string) preparedCall {
		q := model.ErrorQuote(kind, providerLabel, detail, call.input, call.unitPrice)
		call.failed = &q
		return call
	}

	fromDecimals := c.tokens.Decimals(ctx, req.FromChain, fromToken)
	baseUnits, err := id.USDToBaseUnits(req.USDAmount, req.UnitPriceFrom, fromDecimals)
	if err != nil {
		log.WithError(err).Debug("amount conversion failed")
		return fail(model.ErrInvalidAmount, err.Error())
	}

	vals := url.Values{}
	vals.Set("originChainId", req.FromChain)
	vals.Set("destinationChainId", req.ToChain)
	vals.Set("inputToken", fromToken)
	vals.Set("outputToken", toToken)
	vals.Set("inputAmount", baseUnits)
	vals.Set("userAddress", providers.PlaceholderAccount)
	vals.Set("receiverAddress", providers.PlaceholderAccount)
	vals.Set("slippage", slippagePct)
	vals.Set("enableManual", "true")

	base, headers := c.endpoint(req.Call)
	var resp quoteResponse
	if _, err := c.http.GetJSON(ctx, base+"/bungee/quote?"+vals.Encode(), headers, &resp); err != nil {
		kind, detail := classify(err)
		log.WithError(err).WithField("kind", kind).Debug("quote request failed")
		return fail(kind, detail)
	}
	if !resp.Success {
		msg := envelopeMessage(resp.envelope)
		if resp.StatusCode == 0 {
			log.Debug("quote response unsuccessful: " + msg)
			return fail(model.ErrNoQuoteAvailable, "bungee unsuccessful response: "+msg)
		}
		kind, detail := classifyMessage(resp.StatusCode, msg)
		log.WithField("kind", kind).Debug(detail)
		return fail(kind, detail)
	}

	call.result = resp.Result
	call.toDecimals = positiveOr(resp.Result.Output.Token.Decimals, 0)
	if call.toDecimals == 0 && resp.Result.AutoRoute != nil {
		call.toDecimals = positiveOr(resp.Result.AutoRoute.Output.Token.Decimals, 0)
	}
	if call.toDecimals == 0 {
		call.toDecimals = c.tokens.Decimals(ctx, req.ToChain, toToken)
	}
	return call
}

// endpoint selects the dedicated backend when both an API key and affiliate id
// are configured.
func (c *Client) endpoint(opts providers.CallOptions) (string, map[string]string) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		apiKey = c.apiKey
	}
	if apiKey != "" && c.affiliate != "" {
		return opts.BaseURLOr(c.dedicatedBaseURL), map[string]string{
			"x-api-key": apiKey,
			"affiliate": c.affiliate,
		}
	}
	return opts.BaseURLOr(c.baseURL), nil
}

func candidates(res quoteResult) (*route.Candidate, []route.Candidate, []route.Candidate) {
	var auto *route.Candidate
	if res.AutoRoute != nil {
		c := routeCandidate(*res.AutoRoute)
		auto = &c
	}
	manual := make([]route.Candidate, 0, len(res.ManualRoutes))
	for _, r := range res.ManualRoutes {
		manual = append(manual, routeCandidate(r))
	}
	legacy := make([]route.Candidate, 0, len(res.Routes))
	for _, r := range res.Routes {
		legacy = append(legacy, route.Candidate{
			OutputBaseUnits:      strings.TrimSpace(r.ToAmount),
			Label:                firstNonEmpty(headOf(r.UsedBridgeNames), providerLabel),
			EstimatedTimeSeconds: r.ServiceTime,
		})
	}
	return auto, manual, legacy
}

func routeCandidate(r quoteRoute) route.Candidate {
	amount := strings.TrimSpace(r.OutputAmount)
	if amount == "" {
		amount = strings.TrimSpace(r.Output.Amount)
	}
	return route.Candidate{
		OutputBaseUnits:      amount,
		Label:                routeLabel(r),
		EstimatedTimeSeconds: r.EstimatedTime,
	}
}

func routeLabel(r quoteRoute) string {
	if name := strings.TrimSpace(r.RouteDetails.Name); name != "" {
		return name
	}
	if name := headOf(r.UsedBridgeNames); name != "" {
		return name
	}
	for _, tx := range r.UserTxs {
		for _, br := range tx.BridgeRoutes {
			if name := headOf(br.UsedBridgeNames); name != "" {
				return name
			}
		}
	}
	return providerLabel
}

func nativeToE(addr string) string {
	if id.IsNativeAddress(addr) {
		return id.NativeEAddress
	}
	return strings.ToLower(strings.TrimSpace(addr))
}

func classify(err error) (model.ErrorKind, string) {
	if status, ok := httpx.AsStatus(err); ok {
		return classifyError(status.StatusCode, status.Body)
	}
	return providers.TransportKind(err), err.Error()
}

// classifyError maps an upstream status and error body onto the quote error
// taxonomy. An unparseable body is classified by status alone.
func classifyError(status int, body []byte) (model.ErrorKind, string) {
	var env envelope
	msg := ""
	if err := json.Unmarshal(body, &env); err == nil {
		msg = envelopeMessage(env)
	}
	return classifyMessage(status, msg)
}

func classifyMessage(status int, msg string) (model.ErrorKind, string) {
	detail := "bungee status " + strconv.Itoa(status)
	if msg != "" {
		detail += ": " + msg
	}
	switch {
	case status == http.StatusTooManyRequests:
		return model.ErrRateLimited, detail
	case status == http.StatusNotFound:
		if providers.MessageContains(msg, "liquidity", "insufficient") {
			return model.ErrNoLiquidity, detail
		}
		return model.ErrRouteNotFound, detail
	case status == http.StatusBadRequest:
		if providers.MessageContains(msg, "amount", "minimum", "maximum", "too small", "too large") {
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

func envelopeMessage(env envelope) string {
	if msg := strings.TrimSpace(env.Message); msg != "" {
		return msg
	}
	if len(env.Error) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(env.Error, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(env.Error, &obj); err == nil {
		return strings.TrimSpace(obj.Message)
	}
	return ""
}

func headOf(items []string) string {
	for _, item := range items {
		if v := strings.TrimSpace(item); v != "" {
			return v
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

var _ providers.BridgeProvider = (*Client)(nil)
