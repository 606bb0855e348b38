package id

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/xquotes/internal/errors"
)

const (
	// NativeZeroAddress is the canonical native-asset sentinel.
	NativeZeroAddress = "0x0000000000000000000000000000000000000000"
	// NativeEAddress is the all-e sentinel some providers expect for native assets.
	NativeEAddress = "0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE"
)

var numericChainPattern = regexp.MustCompile(`^[0-9]+$`)

type Chain struct {
	Name   string
	Slug   string
	ID     string
	Native string
}

type Token struct {
	Symbol   string
	Address  string
	Decimals int
}

var chainBySlug = map[string]Chain{
	"ethereum":  {Name: "Ethereum", Slug: "ethereum", ID: "1", Native: "ETH"},
	"mainnet":   {Name: "Ethereum", Slug: "ethereum", ID: "1", Native: "ETH"},
	"optimism":  {Name: "Optimism", Slug: "optimism", ID: "10", Native: "ETH"},
	"bsc":       {Name: "BSC", Slug: "bsc", ID: "56", Native: "BNB"},
	"gnosis":    {Name: "Gnosis", Slug: "gnosis", ID: "100", Native: "XDAI"},
	"polygon":   {Name: "Polygon", Slug: "polygon", ID: "137", Native: "POL"},
	"fantom":    {Name: "Fantom", Slug: "fantom", ID: "250", Native: "FTM"},
	"zksync":    {Name: "zkSync Era", Slug: "zksync", ID: "324", Native: "ETH"},
	"base":      {Name: "Base", Slug: "base", ID: "8453", Native: "ETH"},
	"arbitrum":  {Name: "Arbitrum", Slug: "arbitrum", ID: "42161", Native: "ETH"},
	"avalanche": {Name: "Avalanche", Slug: "avalanche", ID: "43114", Native: "AVAX"},
	"linea":     {Name: "Linea", Slug: "linea", ID: "59144", Native: "ETH"},
	"scroll":    {Name: "Scroll", Slug: "scroll", ID: "534352", Native: "ETH"},
}

var chainByID = func() map[string]Chain {
	out := make(map[string]Chain, len(chainBySlug))
	for _, chain := range chainBySlug {
		out[chain.ID] = chain
	}
	return out
}()

// Small bootstrap registry used for symbol input and symbol side lookups.
var tokenRegistry = map[string][]Token{
	"1": {
		{Symbol: "USDC", Address: "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", Decimals: 6},
		{Symbol: "USDT", Address: "0xdac17f958d2ee523a2206206994597c13d831ec7", Decimals: 6},
		{Symbol: "DAI", Address: "0x6b175474e89094c44da98b954eedeac495271d0f", Decimals: 18},
		{Symbol: "WETH", Address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", Decimals: 18},
		{Symbol: "WBTC", Address: "0x2260fac5e5542a773aa44fbcfedf7c193bc2c599", Decimals: 8},
	},
	"8453": {
		{Symbol: "USDC", Address: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", Decimals: 6},
		{Symbol: "DAI", Address: "0x50c5725949A6F0c72E6C4a641F24049A917DB0Cb", Decimals: 18},
		{Symbol: "WETH", Address: "0x4200000000000000000000000000000000000006", Decimals: 18},
	},
	"42161": {
		{Symbol: "USDC", Address: "0xaf88d065e77c8cC2239327C5EDb3A432268e5831", Decimals: 6},
		{Symbol: "USDT", Address: "0xFd086bC7CD5C481DCC9C85ebe478A1C0b69FCbb9", Decimals: 6},
		{Symbol: "DAI", Address: "0xDA10009cBd5D07dd0CeCc66161FC93D7c9000da1", Decimals: 18},
		{Symbol: "WETH", Address: "0x82aF49447D8a07e3bd95BD0d56f35241523fBab1", Decimals: 18},
		{Symbol: "WBTC", Address: "0x2f2a2543B76A4166549F7aaB2e75Bef0aefC5B0f", Decimals: 8},
	},
	"10": {
		{Symbol: "USDC", Address: "0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85", Decimals: 6},
		{Symbol: "USDT", Address: "0x94b008aA00579c1307B0EF2c499aD98a8ce58e58", Decimals: 6},
		{Symbol: "DAI", Address: "0xDA10009cBd5D07dd0CeCc66161FC93D7c9000da1", Decimals: 18},
		{Symbol: "WETH", Address: "0x4200000000000000000000000000000000000006", Decimals: 18},
	},
	"137": {
		{Symbol: "USDC", Address: "0x3c499c542cef5e3811e1192ce70d8cc03d5c3359", Decimals: 6},
		{Symbol: "USDT", Address: "0xc2132D05D31c914a87C6611C10748AEb04B58e8F", Decimals: 6},
		{Symbol: "DAI", Address: "0x8f3Cf7ad23Cd3CaDbD9735AFf958023239c6A063", Decimals: 18},
		{Symbol: "WETH", Address: "0x7ceB23fD6bC0adD59E62ac25578270cFf1b9f619", Decimals: 18},
	},
	"56": {
		{Symbol: "USDC", Address: "0x8ac76a51cc950d9822d68b83fe1ad97b32cd580d", Decimals: 18},
		{Symbol: "USDT", Address: "0x55d398326f99059fF775485246999027B3197955", Decimals: 18},
		{Symbol: "DAI", Address: "0x1AF3F329e8BE154074D8769D1FFa4eE058B1DBc3", Decimals: 18},
		{Symbol: "WETH", Address: "0x2170Ed0880ac9A755fd29B2688956BD959F933F8", Decimals: 18},
	},
	"43114": {
		{Symbol: "USDC", Address: "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E", Decimals: 6},
		{Symbol: "USDT", Address: "0x9702230A8Ea53601f5cD2dc00fDBc13d4dF4A8c7", Decimals: 6},
		{Symbol: "DAI", Address: "0xd586E7F844cEa2F87f50152665BCbc2C279D8d70", Decimals: 18},
		{Symbol: "WETH", Address: "0x49D5c2BdFfac6CE2BFdB6640F4F80f226bc10bAB", Decimals: 18},
	},
}

// ParseChain accepts a numeric chain id or a known slug. Numeric input is
// returned exactly as given.
func ParseChain(input string) (Chain, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return Chain{}, clierr.New(clierr.CodeUsage, "chain is required")
	}
	if numericChainPattern.MatchString(raw) {
		if known, ok := chainByID[raw]; ok {
			return known, nil
		}
		return Chain{Name: "EVM-" + raw, Slug: "evm-" + raw, ID: raw}, nil
	}
	if chain, ok := chainBySlug[strings.ToLower(raw)]; ok {
		return chain, nil
	}
	return Chain{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("unsupported chain input: %s", input))
}

// ParseToken resolves "native", the chain's own native symbol, a hex address,
// or a registry symbol to a lowercase address on the given chain.
func ParseToken(input, chainID string) (Token, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return Token{}, clierr.New(clierr.CodeUsage, "token is required")
	}
	switch strings.ToLower(raw) {
	case "native", "gas":
		return Token{Address: NativeZeroAddress, Decimals: 18}, nil
	}
	if chain, ok := KnownChain(chainID); ok && strings.EqualFold(raw, chain.Native) {
		return Token{Symbol: chain.Native, Address: NativeZeroAddress, Decimals: 18}, nil
	}
	if strings.HasPrefix(strings.ToLower(raw), "0x") {
		if !common.IsHexAddress(raw) {
			return Token{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("invalid token address: %s", input))
		}
		addr := CanonicalAddress(raw)
		if token, ok := LookupByAddress(chainID, addr); ok {
			return token, nil
		}
		return Token{Address: addr}, nil
	}

	matches := findTokensBySymbol(chainID, raw)
	if len(matches) == 0 {
		return Token{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("symbol %s not found in registry for chain %s", input, chainID))
	}
	if len(matches) > 1 {
		addresses := make([]string, 0, len(matches))
		for _, m := range matches {
			addresses = append(addresses, m.Address)
		}
		sort.Strings(addresses)
		return Token{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("symbol %s is ambiguous on chain %s, use an address (%s)", input, chainID, strings.Join(addresses, ", ")))
	}
	return matches[0], nil
}

// ValidAddress reports whether addr is a usable EVM token address.
func ValidAddress(addr string) bool {
	return common.IsHexAddress(strings.TrimSpace(addr))
}

// IsNativeAddress reports whether addr is either native-asset sentinel.
func IsNativeAddress(addr string) bool {
	addr = strings.TrimSpace(addr)
	return strings.EqualFold(addr, NativeZeroAddress) || strings.EqualFold(addr, NativeEAddress)
}

// CanonicalAddress lowercases addr and folds both native sentinels into the zero form.
func CanonicalAddress(addr string) string {
	if IsNativeAddress(addr) {
		return NativeZeroAddress
	}
	return strings.ToLower(strings.TrimSpace(addr))
}

func findTokensBySymbol(chainID, symbol string) []Token {
	matches := []Token{}
	for _, t := range tokenRegistry[chainID] {
		if strings.EqualFold(t.Symbol, symbol) {
			matches = append(matches, Token{
				Symbol:   strings.ToUpper(t.Symbol),
				Address:  CanonicalAddress(t.Address),
				Decimals: t.Decimals,
			})
		}
	}
	return matches
}

// KnownChain looks up a chain by numeric id.
func KnownChain(chainID string) (Chain, bool) {
	chain, ok := chainByID[strings.TrimSpace(chainID)]
	return chain, ok
}

func LookupByAddress(chainID, address string) (Token, bool) {
	for _, t := range tokenRegistry[chainID] {
		if strings.EqualFold(t.Address, strings.TrimSpace(address)) {
			return Token{
				Symbol:   strings.ToUpper(t.Symbol),
				Address:  CanonicalAddress(t.Address),
				Decimals: t.Decimals,
			}, true
		}
	}
	return Token{}, false
}
