package symbols

import (
	"strings"

	"arbflow/internal/model"
)

// quoteCurrencies ordered longest-first so USDT wins over USD when splitting.
var quoteCurrencies = []string{"USDT", "USDC", "BUSD", "USD", "BTC", "ETH"}

// split breaks a canonical symbol (Binance style, e.g. BTCUSDT) into base and
// quote. Unknown quotes fall back to a USDT suffix assumption.
func split(sym string) (base, quote string) {
	sym = strings.ToUpper(sym)
	for _, q := range quoteCurrencies {
		if strings.HasSuffix(sym, q) && len(sym) > len(q) {
			return sym[:len(sym)-len(q)], q
		}
	}
	return sym, "USDT"
}

// ToVenue converts a canonical symbol into the format the given venue expects
// for the given market. Canonical form is uppercase without separators and
// uses BTC instead of XBT. Currently supported venues: binance, bybit, okx,
// kucoin.
func ToVenue(venue, sym string, market model.MarketType) string {
	sym = strings.ToUpper(sym)
	base, quote := split(sym)

	switch strings.ToLower(venue) {
	case "binance", "bybit":
		return sym
	case "okx":
		if market == model.MarketTypeFuture {
			return base + "-" + quote + "-SWAP"
		}
		return base + "-" + quote
	case "kucoin":
		if market == model.MarketTypeFuture {
			if base == "BTC" {
				base = "XBT"
			}
			return base + quote + "M"
		}
		return base + "-" + quote
	default:
		// others already use the desired format
		return sym
	}
}

// ToCanonical converts various venue-specific symbol formats to canonical
// style. It ensures symbols are uppercase without separators and uses BTC
// instead of XBT.
func ToCanonical(venue, sym string) string {
	sym = strings.ToUpper(sym)
	switch strings.ToLower(venue) {
	case "binance":
		switch sym {
		case "1000BONKUSDT":
			sym = "BONKUSDT"
		case "1000PEPEUSDT":
			sym = "PEPEUSDT"
		case "1000SHIBUSDT":
			sym = "SHIBUSDT"
		}
	case "bybit":
		switch sym {
		case "1000BONKUSDT":
			sym = "BONKUSDT"
		case "1000PEPEUSDT":
			sym = "PEPEUSDT"
		case "SHIB1000USDT":
			sym = "SHIBUSDT"
		}
	case "kucoin":
		sym = strings.ReplaceAll(sym, "-", "")
		sym = strings.TrimSuffix(sym, "M")
		if strings.HasPrefix(sym, "XBT") {
			sym = "BTC" + sym[3:]
		}
	case "okx":
		sym = strings.TrimSuffix(sym, "-SWAP")
		sym = strings.ReplaceAll(sym, "-", "")
	default:
		// others already use the desired format
	}
	return sym
}
