package registry

import "testing"

func TestNativeFeedAndApproxPrice(t *testing.T) {
	feed, ok := NativeFeedID("8453")
	if !ok || feed != "ethereum" {
		t.Fatalf("unexpected base feed: %q %v", feed, ok)
	}
	price, ok := ApproxNativePrice(feed)
	if !ok || price.String() != "3800" {
		t.Fatalf("unexpected approx price: %s %v", price, ok)
	}
	if _, ok := NativeFeedID("999999"); ok {
		t.Fatal("did not expect a feed for unknown chain")
	}
}

func TestEveryNativeFeedHasApproxPrice(t *testing.T) {
	for chainID, feed := range nativeFeedByChain {
		if _, ok := ApproxNativePrice(feed); !ok {
			t.Fatalf("chain %s feed %s has no approximate price", chainID, feed)
		}
	}
}

func TestStablecoinLookupIsCaseInsensitive(t *testing.T) {
	if !IsStablecoin("0xA0B86991C6218B36C1D19D4A2E9EB0CE3606EB48") {
		t.Fatal("expected USDC to be a stablecoin")
	}
	if IsStablecoin("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2") {
		t.Fatal("WETH is not a stablecoin")
	}
}

func TestIsAllowedProviderEndpoint(t *testing.T) {
	cases := []struct {
		endpoint string
		want     bool
	}{
		{endpoint: "", want: true},
		{endpoint: "https://li.quest/v1", want: true},
		{endpoint: "http://li.quest/v1", want: false},
		{endpoint: "http://127.0.0.1:8080", want: true},
		{endpoint: "http://localhost:9000/api", want: true},
		{endpoint: "ftp://localhost", want: false},
		{endpoint: "not a url", want: false},
	}
	for _, tc := range cases {
		if got := IsAllowedProviderEndpoint(tc.endpoint); got != tc.want {
			t.Fatalf("IsAllowedProviderEndpoint(%q) = %v, want %v", tc.endpoint, got, tc.want)
		}
	}
	if got := NormalizeEndpoint(" https://li.quest/v1/ "); got != "https://li.quest/v1" {
		t.Fatalf("unexpected normalized endpoint: %s", got)
	}
}
