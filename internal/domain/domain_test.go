package domain

import (
	"testing"
)

func TestCoinGeckoIDRoundTrip(t *testing.T) {
	for sym, id := range CoinGeckoID {
		if got := CoinGeckoIDToSymbol[id]; got != sym {
			t.Errorf("reverse mapping for %s: got %s, want %s", id, got, sym)
		}
	}
}

func TestSupportedSymbolsHaveProviderIDs(t *testing.T) {
	for _, sym := range SupportedSymbols {
		if _, ok := CoinGeckoID[sym]; !ok {
			t.Errorf("symbol %s missing CoinGecko id", sym)
		}
		if _, ok := BinancePair[sym]; !ok {
			t.Errorf("symbol %s missing Binance pair", sym)
		}
	}
}

func TestIsSupportedSymbol(t *testing.T) {
	if !IsSupportedSymbol("BTC") {
		t.Error("BTC should be supported")
	}
	if IsSupportedSymbol("NOPE") {
		t.Error("NOPE should not be supported")
	}
}

func TestIsSupportedInterval(t *testing.T) {
	for _, iv := range SupportedIntervals {
		if !IsSupportedInterval(iv) {
			t.Errorf("interval %s should be supported", iv)
		}
	}
	if IsSupportedInterval("3m") {
		t.Error("3m should not be supported")
	}
}
