package coingecko

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	clierr "github.com/ggonzalez94/xquotes/internal/errors"
	"github.com/ggonzalez94/xquotes/internal/httpx"
	"github.com/ggonzalez94/xquotes/internal/model"
	"github.com/ggonzalez94/xquotes/internal/registry"
	"github.com/shopspring/decimal"
)

type Client struct {
	http    *httpx.Client
	baseURL string
	apiKey  string
}

func New(httpClient *httpx.Client, apiKey string) *Client {
	return &Client{http: httpClient, baseURL: registry.CoinGeckoBaseURL, apiKey: strings.TrimSpace(apiKey)}
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
		Name:         "coingecko",
		Type:         "price",
		RequiresKey:  false,
		Capabilities: []string{"price.simple", "price.token"},
		KeyEnvVar:    "XQUOTES_COINGECKO_API_KEY",
	}
}

// usd prices keyed by feed id or lowercase contract address.
type priceResponse map[string]struct {
	USD *decimal.Decimal `json:"usd"`
}

// SimplePrice returns the USD price of a feed id such as "ethereum".
func (c *Client) SimplePrice(ctx context.Context, feedID string) (decimal.Decimal, error) {
	feedID = strings.TrimSpace(feedID)
	if feedID == "" {
		return decimal.Zero, clierr.New(clierr.CodeUsage, "feed id is required")
	}
	vals := url.Values{}
	vals.Set("ids", feedID)
	vals.Set("vs_currencies", "usd")

	var resp priceResponse
	if _, err := c.http.GetJSON(ctx, c.baseURL+"/simple/price?"+vals.Encode(), c.headers(), &resp); err != nil {
		return decimal.Zero, err
	}
	return pick(resp, feedID)
}

// TokenPrice returns the USD price of a contract on a feed platform.
func (c *Client) TokenPrice(ctx context.Context, platform, address string) (decimal.Decimal, error) {
	platform = strings.TrimSpace(platform)
	address = strings.ToLower(strings.TrimSpace(address))
	if platform == "" || address == "" {
		return decimal.Zero, clierr.New(clierr.CodeUsage, "platform and contract address are required")
	}
	vals := url.Values{}
	vals.Set("contract_addresses", address)
	vals.Set("vs_currencies", "usd")

	endpoint := fmt.Sprintf("%s/simple/token_price/%s?%s", c.baseURL, url.PathEscape(platform), vals.Encode())
	var resp priceResponse
	if _, err := c.http.GetJSON(ctx, endpoint, c.headers(), &resp); err != nil {
		return decimal.Zero, err
	}
	return pick(resp, address)
}

func (c *Client) headers() map[string]string {
	if c.apiKey == "" {
		return nil
	}
	return map[string]string{"x-cg-demo-api-key": c.apiKey}
}

func pick(resp priceResponse, key string) (decimal.Decimal, error) {
	for k, v := range resp {
		if !strings.EqualFold(k, key) {
			continue
		}
		if v.USD == nil || !v.USD.IsPositive() {
			return decimal.Zero, clierr.New(clierr.CodeNotFound, fmt.Sprintf("no usd price for %s", key))
		}
		return *v.USD, nil
	}
	return decimal.Zero, clierr.New(clierr.CodeNotFound, fmt.Sprintf("no usd price for %s", key))
}
