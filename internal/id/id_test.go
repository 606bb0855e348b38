package id

import (
	"testing"

	clierr "github.com/ggonzalez94/xquotes/internal/errors"
)

func TestParseChainVariants(t *testing.T) {
	chain, err := ParseChain("base")
	if err != nil {
		t.Fatalf("ParseChain(base) failed: %v", err)
	}
	if chain.ID != "8453" {
		t.Fatalf("unexpected id: %s", chain.ID)
	}

	chain, err = ParseChain("8453")
	if err != nil {
		t.Fatalf("ParseChain(8453) failed: %v", err)
	}
	if chain.Slug != "base" {
		t.Fatalf("unexpected slug: %s", chain.Slug)
	}

	chain, err = ParseChain("999999")
	if err != nil {
		t.Fatalf("ParseChain(999999) failed: %v", err)
	}
	if chain.ID != "999999" {
		t.Fatalf("numeric id must round-trip, got %s", chain.ID)
	}

	if _, err := ParseChain("not-a-chain"); err == nil {
		t.Fatal("expected unsupported chain error")
	}
}

func TestParseTokenSymbolAddressAndNative(t *testing.T) {
	token, err := ParseToken("USDC", "1")
	if err != nil {
		t.Fatalf("ParseToken(USDC) failed: %v", err)
	}
	if token.Address != "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48" || token.Decimals != 6 {
		t.Fatalf("unexpected token: %+v", token)
	}

	token, err = ParseToken("0xA0B86991C6218B36C1D19D4A2E9EB0CE3606EB48", "1")
	if err != nil {
		t.Fatalf("ParseToken(address) failed: %v", err)
	}
	if token.Symbol != "USDC" {
		t.Fatalf("expected USDC, got %s", token.Symbol)
	}

	token, err = ParseToken("native", "137")
	if err != nil {
		t.Fatalf("ParseToken(native) failed: %v", err)
	}
	if token.Address != NativeZeroAddress {
		t.Fatalf("unexpected native address: %s", token.Address)
	}

	if _, err := ParseToken("0x1234", "1"); err == nil {
		t.Fatal("expected invalid address error")
	}
	if _, err := ParseToken("NOPE", "1"); err == nil {
		t.Fatal("expected unknown symbol error")
	}
}

func TestParseTokenNativeSymbolFollowsChain(t *testing.T) {
	for _, tc := range []struct {
		input, chain string
	}{
		{"ETH", "1"},
		{"eth", "8453"},
		{"POL", "137"},
		{"bnb", "56"},
		{"gas", "43114"},
	} {
		token, err := ParseToken(tc.input, tc.chain)
		if err != nil {
			t.Fatalf("ParseToken(%s, %s) failed: %v", tc.input, tc.chain, err)
		}
		if token.Address != NativeZeroAddress {
			t.Fatalf("ParseToken(%s, %s) = %s, want native", tc.input, tc.chain, token.Address)
		}
	}

	for _, tc := range []struct {
		input, chain string
	}{
		{"ETH", "137"},
		{"eth", "56"},
		{"ETH", "999999"},
	} {
		token, err := ParseToken(tc.input, tc.chain)
		if err == nil {
			t.Fatalf("ParseToken(%s, %s) = %s, want error", tc.input, tc.chain, token.Address)
		}
		if !clierr.HasCode(err, clierr.CodeUsage) {
			t.Fatalf("expected usage error, got %v", err)
		}
	}

	token, err := ParseToken("WETH", "137")
	if err != nil || token.Address != "0x7ceb23fd6bc0add59e62ac25578270cff1b9f619" {
		t.Fatalf("expected polygon WETH, got %+v err=%v", token, err)
	}
}

func TestNativeSentinels(t *testing.T) {
	for _, addr := range []string{NativeZeroAddress, NativeEAddress, "0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee"} {
		if !IsNativeAddress(addr) {
			t.Fatalf("expected %s to be native", addr)
		}
		if got := CanonicalAddress(addr); got != NativeZeroAddress {
			t.Fatalf("CanonicalAddress(%s) = %s", addr, got)
		}
	}
	if IsNativeAddress("0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48") {
		t.Fatal("USDC is not native")
	}
	if got := CanonicalAddress(" 0xA0B86991C6218B36C1D19D4A2E9EB0CE3606EB48 "); got != "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48" {
		t.Fatalf("unexpected canonical address: %s", got)
	}
}
