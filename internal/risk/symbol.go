package risk

import (
	"regexp"
	"strings"
)

var symbolFormat = regexp.MustCompile(`^[A-Z0-9]{2,10}(/[A-Z0-9]{2,10})?$`)

// sqlKeywords catches plain-letter injection payloads (DROP, UNION, ...)
// that the format regex alone would accept as valid-looking symbols.
var sqlKeywords = []string{
	"SELECT", "DROP", "UNION", "INSERT", "DELETE", "UPDATE",
	"WHERE", "AND", "OR", "NULL", "TRUE", "FALSE", "EXEC",
}

// isValidSymbol reports whether symbol is a safe trading pair identifier
// (e.g. BTC or BTC/USDT) before it reaches a parameterized query.
func isValidSymbol(symbol string) bool {
	if !symbolFormat.MatchString(symbol) {
		return false
	}
	for _, kw := range sqlKeywords {
		if strings.Contains(symbol, kw) {
			return false
		}
	}
	return true
}
