package normalize

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

const (
	reasonMoneyPattern  = "money value does not match <marker><amount>"
	reasonMoneyCurrency = "unknown currency marker"
	reasonMoneyAmount   = "money amount is not numeric"
	reasonMoneyGrouping = "money amount is not comma-grouped"
)

// moneyPattern captures a 1-3 character currency marker followed by an amount.
// Amounts are comma-grouped with at most one decimal point; dot-grouped forms
// such as "1.000.000" are captured whole so they can be rejected. Trailing
// text such as "(estimated)" is ignored.
var moneyPattern = regexp.MustCompile(`^([^\d\s]{1,3})\s*(\d[\d,.]*)`)

// usdRates converts one unit of the marked currency to US dollars.
var usdRates = map[string]float64{
	"$":   1,
	"US$": 1,
	"USD": 1,
	"¥":   1.0 / 150,
	"JPY": 1.0 / 150,
	"₩":   0.00075,
	"KRW": 0.00075,
	"€":   1.09,
	"EUR": 1.09,
	"A":   0.65,
	"AUD": 0.65,
	"£":   1.27,
	"GBP": 1.27,
	"₹":   0.012,
	"INR": 0.012,
	"DE":  0.55494846,
	"DEM": 0.55494846,
	"DK":  0.15,
	"DKK": 0.15,
	"F":   0.16,
	"FRF": 0.16,
	"R":   0.20,
	"BRL": 0.20,
}

// USDRate returns the conversion rate for a currency marker. Markers written
// with a trailing dollar sign ("A$", "R$") resolve to their prefix.
func USDRate(marker string) (float64, bool) {
	marker = strings.TrimSpace(marker)
	if rate, ok := usdRates[marker]; ok {
		return rate, true
	}
	if trimmed := strings.TrimSuffix(marker, "$"); trimmed != marker && trimmed != "" {
		rate, ok := usdRates[trimmed]
		return rate, ok
	}
	return 0, false
}

// Money parses a box-office string such as "$1,000,000" or "€250,000
// (estimated)" and converts it to whole US dollars, rounded to the nearest
// dollar.
func Money(v any) Result[int64] {
	var s string
	switch t := v.(type) {
	case nil:
		return absent[int64]()
	case string:
		s = t
	case *string:
		if t == nil {
			return absent[int64]()
		}
		s = *t
	default:
		return failed[int64](v, reasonNotText)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return absent[int64]()
	}

	m := moneyPattern.FindStringSubmatch(s)
	if m == nil {
		return failed[int64](s, reasonMoneyPattern)
	}
	rate, ok := USDRate(m[1])
	if !ok {
		return failed[int64](s, reasonMoneyCurrency)
	}
	digits := strings.TrimRight(m[2], ",.")
	if dot := strings.IndexByte(digits, '.'); dot >= 0 && strings.ContainsAny(digits[dot+1:], ".,") {
		return failed[int64](s, reasonMoneyGrouping)
	}
	amount, err := strconv.ParseFloat(strings.ReplaceAll(digits, ",", ""), 64)
	if err != nil {
		return failed[int64](s, reasonMoneyAmount)
	}
	usd := math.Round(amount * rate)
	if math.IsInf(usd, 0) || usd > math.MaxInt64 {
		return failed[int64](s, reasonMoneyAmount)
	}
	return valid(int64(usd))
}
