package operations

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Asset is a parsed "123.456 SYMBOL" amount. Amount keeps the decimal text
// so NUMERIC columns receive it without float rounding.
type Asset struct {
	Amount string
	Symbol string
}

// ZeroAsset is the value used for missing or malformed asset input.
var ZeroAsset = Asset{Amount: "0", Symbol: ""}

// Float returns the amount as a float64.
func (a Asset) Float() float64 {
	f, err := strconv.ParseFloat(a.Amount, 64)
	if err != nil {
		return 0
	}
	return f
}

// String formats the asset the way the node does.
func (a Asset) String() string {
	if a.Symbol == "" {
		return a.Amount
	}
	return a.Amount + " " + a.Symbol
}

// Symbols of the appbase numeric asset identifiers.
var naiSymbols = map[string]string{
	"@@000000021": "STEEM",
	"@@000000013": "SBD",
	"@@000000037": "VESTS",
}

type naiAsset struct {
	Amount    json.RawMessage `json:"amount"`
	Precision int             `json:"precision"`
	NAI       string          `json:"nai"`
}

// ParseAsset parses a raw asset value. It accepts the legacy string form
// ("833.000 STEEM"), the appbase object form and the 3-element array form.
// Missing or empty input yields ZeroAsset with no error; malformed input
// yields ZeroAsset and a descriptive error for the caller to log.
func ParseAsset(raw json.RawMessage) (Asset, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" || trimmed == `""` {
		return ZeroAsset, nil
	}

	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ZeroAsset, fmt.Errorf("decode asset string: %w", err)
		}
		return ParseAssetString(s)
	case '{':
		var n naiAsset
		if err := json.Unmarshal(raw, &n); err != nil {
			return ZeroAsset, fmt.Errorf("decode asset object: %w", err)
		}
		return fromNAI(n)
	case '[':
		// ["833000", 3, "@@000000021"]
		var parts []json.RawMessage
		if err := json.Unmarshal(raw, &parts); err != nil || len(parts) != 3 {
			return ZeroAsset, fmt.Errorf("malformed asset array %s", trimmed)
		}
		var n naiAsset
		n.Amount = parts[0]
		if err := json.Unmarshal(parts[1], &n.Precision); err != nil {
			return ZeroAsset, fmt.Errorf("malformed asset precision: %w", err)
		}
		if err := json.Unmarshal(parts[2], &n.NAI); err != nil {
			return ZeroAsset, fmt.Errorf("malformed asset nai: %w", err)
		}
		return fromNAI(n)
	}
	return ZeroAsset, fmt.Errorf("unsupported asset encoding %s", trimmed)
}

// ParseAssetString parses "123.456 SYMBOL". Empty input is not an error.
func ParseAssetString(s string) (Asset, error) {
	fields := strings.Fields(s)
	switch len(fields) {
	case 0:
		return ZeroAsset, nil
	case 2:
	default:
		return ZeroAsset, fmt.Errorf("malformed asset %q", s)
	}

	amount, symbol := fields[0], fields[1]
	if _, err := strconv.ParseFloat(amount, 64); err != nil {
		return ZeroAsset, fmt.Errorf("malformed asset amount %q: %w", s, err)
	}
	if !isSymbol(symbol) {
		return ZeroAsset, fmt.Errorf("malformed asset symbol %q", s)
	}
	return Asset{Amount: amount, Symbol: symbol}, nil
}

func fromNAI(n naiAsset) (Asset, error) {
	var digits string
	if err := json.Unmarshal(n.Amount, &digits); err != nil {
		// amount may also be a bare JSON number
		var num json.Number
		if err := json.Unmarshal(n.Amount, &num); err != nil {
			return ZeroAsset, fmt.Errorf("malformed nai amount %s", string(n.Amount))
		}
		digits = num.String()
	}
	if _, err := strconv.ParseInt(digits, 10, 64); err != nil {
		return ZeroAsset, fmt.Errorf("malformed nai amount %q: %w", digits, err)
	}
	if n.Precision < 0 || n.Precision > 18 {
		return ZeroAsset, fmt.Errorf("malformed nai precision %d", n.Precision)
	}

	symbol, ok := naiSymbols[n.NAI]
	if !ok {
		symbol = strings.TrimPrefix(n.NAI, "@@")
		if len(symbol) > 5 {
			symbol = symbol[len(symbol)-5:]
		}
	}
	return Asset{Amount: scaleDecimal(digits, n.Precision), Symbol: symbol}, nil
}

// scaleDecimal inserts a decimal point precision digits from the right.
func scaleDecimal(digits string, precision int) string {
	neg := strings.HasPrefix(digits, "-")
	digits = strings.TrimPrefix(digits, "-")
	if precision > 0 {
		if len(digits) <= precision {
			digits = strings.Repeat("0", precision-len(digits)+1) + digits
		}
		digits = digits[:len(digits)-precision] + "." + digits[len(digits)-precision:]
	}
	if neg {
		return "-" + digits
	}
	return digits
}

func isSymbol(s string) bool {
	if len(s) == 0 || len(s) > 5 {
		return false
	}
	for _, r := range s {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}
