package registry

import (
	"strings"

	"github.com/shopspring/decimal"
)

var nativeFeedByChain = map[string]string{
	"1":      "ethereum",
	"10":     "ethereum",
	"56":     "binancecoin",
	"100":    "xdai",
	"137":    "matic-network",
	"250":    "fantom",
	"324":    "ethereum",
	"8453":   "ethereum",
	"42161":  "ethereum",
	"43114":  "avalanche-2",
	"59144":  "ethereum",
	"534352": "ethereum",
}

// Rough last-resort prices used only when the spot feed is unreachable.
var approxNativePrice = map[string]string{
	"ethereum":      "3800",
	"binancecoin":   "650",
	"matic-network": "0.7",
	"avalanche-2":   "35",
	"fantom":        "0.7",
	"xdai":          "1",
}

var platformByChain = map[string]string{
	"1":     "ethereum",
	"10":    "optimistic-ethereum",
	"56":    "binance-smart-chain",
	"137":   "polygon-pos",
	"8453":  "base",
	"42161": "arbitrum-one",
	"43114": "avalanche",
}

// Keyed by lowercase address. Bridged WETH shares an address on OP-stack chains.
var knownContractFeed = map[string]string{
	"0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2": "weth",
	"0x4200000000000000000000000000000000000006": "weth",
	"0x82af49447d8a07e3bd95bd0d56f35241523fbab1": "weth",
	"0x7ceb23fd6bc0add59e62ac25578270cff1b9f619": "weth",
	"0x2170ed0880ac9a755fd29b2688956bd959f933f8": "ethereum",
	"0x49d5c2bdffac6ce2bfdb6640f4f80f226bc10bab": "weth",
	"0x2260fac5e5542a773aa44fbcfedf7c193bc2c599": "wrapped-bitcoin",
	"0x2f2a2543b76a4166549f7aab2e75bef0aefc5b0f": "wrapped-bitcoin",
	"0x0d500b1d8e8ef31e21c99d1db9a6444d3adf1270": "wmatic",
	"0xbb4cdb9cbd36b01bd1cbaebf2de08d9173bc095c": "wbnb",
	"0xb31f66aa3c1e785363f0875a1b74e27b85fd66c7": "wrapped-avax",
	"0x514910771af9ca656af840dff83e8264ecf986ca": "chainlink",
	"0x1f9840a85d5af5bf1d1762f925bdaddc4201f984": "uniswap",
	"0x7fc66500c84a76ad7e9c93437bfc5ac33e2ddae9": "aave",
	"0x912ce59144191c1204e64559fe8253a0e49e6548": "arbitrum",
	"0x4200000000000000000000000000000000000042": "optimism",
}

var stablecoins = map[string]struct{}{
	// ethereum
	"0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48": {},
	"0xdac17f958d2ee523a2206206994597c13d831ec7": {},
	"0x6b175474e89094c44da98b954eedeac495271d0f": {},
	// base
	"0x833589fcd6edb6e08f4c7c32d4f71b54bda02913": {},
	"0x50c5725949a6f0c72e6c4a641f24049a917db0cb": {},
	// arbitrum
	"0xaf88d065e77c8cc2239327c5edb3a432268e5831": {},
	"0xfd086bc7cd5c481dcc9c85ebe478a1c0b69fcbb9": {},
	"0xff970a61a04b1ca14834a43f5de4533ebddb5cc8": {},
	// optimism and arbitrum DAI
	"0xda10009cbd5d07dd0cecc66161fc93d7c9000da1": {},
	"0x0b2c639c533813f4aa9d7837caf62653d097ff85": {},
	"0x94b008aa00579c1307b0ef2c499ad98a8ce58e58": {},
	"0x7f5c764cbc14f9669b88837ca1490cca17c31607": {},
	// polygon
	"0x3c499c542cef5e3811e1192ce70d8cc03d5c3359": {},
	"0x2791bca1f2de4661ed88a30c99a7a9449aa84174": {},
	"0xc2132d05d31c914a87c6611c10748aeb04b58e8f": {},
	"0x8f3cf7ad23cd3cadbd9735aff958023239c6a063": {},
	// bsc
	"0x8ac76a51cc950d9822d68b83fe1ad97b32cd580d": {},
	"0x55d398326f99059ff775485246999027b3197955": {},
	"0x1af3f329e8be154074d8769d1ffa4ee058b1dbc3": {},
	// avalanche
	"0xb97ef9ef8734c71904d8002f8b6bc66dd9c48a6e": {},
	"0x9702230a8ea53601f5cd2dc00fdbc13d4df4a8c7": {},
	"0xd586e7f844cea2f87f50152665bcbc2c279d8d70": {},
}

// NativeFeedID maps a chain id to the spot-feed id of its gas token.
func NativeFeedID(chainID string) (string, bool) {
	id, ok := nativeFeedByChain[strings.TrimSpace(chainID)]
	return id, ok
}

func ApproxNativePrice(feedID string) (decimal.Decimal, bool) {
	raw, ok := approxNativePrice[feedID]
	if !ok {
		return decimal.Zero, false
	}
	return decimal.RequireFromString(raw), true
}

// PlatformSlug maps a chain id to the spot feed's asset platform.
func PlatformSlug(chainID string) (string, bool) {
	slug, ok := platformByChain[strings.TrimSpace(chainID)]
	return slug, ok
}

func KnownContractFeedID(address string) (string, bool) {
	id, ok := knownContractFeed[strings.ToLower(strings.TrimSpace(address))]
	return id, ok
}

func IsStablecoin(address string) bool {
	_, ok := stablecoins[strings.ToLower(strings.TrimSpace(address))]
	return ok
}
