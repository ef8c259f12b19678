package symbol

import (
	"strings"
)

// Known quote assets, longest first so BTCUSDT splits as BTC/USDT and not BTC/USD T.
var quoteAssets = []string{"USDT", "USDC", "BUSD", "TUSD", "FDUSD", "BTC", "ETH", "BNB"}

// Normalize puts a symbol in exchange form: upper case, no separators.
// "btc/usdt" and "BTC-USDT" both become "BTCUSDT".
func Normalize(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "/", "")
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, "_", "")
	return strings.ToUpper(s)
}

// Valid reports whether s looks like an exchange symbol after Normalize.
func Valid(s string) bool {
	s = Normalize(s)
	if len(s) < 5 {
		return false
	}
	for _, r := range s {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

// Split breaks a normalized symbol into base and quote assets. The quote is
// matched against the known quote list; an unrecognized quote returns ok=false.
func Split(s string) (base, quote string, ok bool) {
	s = Normalize(s)
	for _, q := range quoteAssets {
		if strings.HasSuffix(s, q) && len(s) > len(q) {
			return s[:len(s)-len(q)], q, true
		}
	}
	return "", "", false
}

// Stream returns the lower-case form used in websocket stream names.
func Stream(s string) string {
	return strings.ToLower(Normalize(s))
}
