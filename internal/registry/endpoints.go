package registry

import (
	"net"
	"net/url"
	"strings"
)

const (
	LiFiBaseURL            = "https://li.quest/v1"
	BungeeBaseURL          = "https://public-backend.bungee.exchange/api/v1"
	BungeeDedicatedBaseURL = "https://dedicated-backend.bungee.exchange/api/v1"
	CoinGeckoBaseURL       = "https://api.coingecko.com/api/v3"
)

// DefaultEndpoint returns the built-in base URL for a provider name.
func DefaultEndpoint(provider string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "lifi":
		return LiFiBaseURL, true
	case "bungee":
		return BungeeBaseURL, true
	case "coingecko":
		return CoinGeckoBaseURL, true
	default:
		return "", false
	}
}

// IsAllowedProviderEndpoint accepts https endpoints with a host, and plain
// http only for loopback hosts.
func IsAllowedProviderEndpoint(endpoint string) bool {
	if strings.TrimSpace(endpoint) == "" {
		return true
	}
	parsed, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return false
	}
	if strings.TrimSpace(parsed.Hostname()) == "" {
		return false
	}
	scheme := strings.ToLower(strings.TrimSpace(parsed.Scheme))
	if isLoopbackHost(parsed.Hostname()) {
		return scheme == "http" || scheme == "https"
	}
	return scheme == "https"
}

// NormalizeEndpoint trims whitespace and trailing slashes.
func NormalizeEndpoint(endpoint string) string {
	return strings.TrimRight(strings.TrimSpace(endpoint), "/")
}

func isLoopbackHost(host string) bool {
	h := strings.TrimSpace(strings.ToLower(host))
	if h == "localhost" {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
