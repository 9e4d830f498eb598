package ledger

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultCurrency is used when a caller opens an account without a currency.
const DefaultCurrency = "EUR"

// minorUnitExponent lists ISO 4217 currencies whose minor unit is not 1/100.
var minorUnitExponent = map[string]int32{
	"JPY": 0,
	"KRW": 0,
	"ISK": 0,
	"CLP": 0,
	"BHD": 3,
	"JOD": 3,
	"KWD": 3,
	"OMR": 3,
	"TND": 3,
}

// NormalizeCurrency upper-cases code and checks it is three ASCII letters.
// An empty code yields DefaultCurrency.
func NormalizeCurrency(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return DefaultCurrency, nil
	}
	if len(code) != 3 {
		return "", fmt.Errorf("%w: currency %q must be a 3-letter code", ErrInvalidArgument, code)
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return "", fmt.Errorf("%w: currency %q must be a 3-letter code", ErrInvalidArgument, code)
		}
	}
	return code, nil
}

// MinorUnitExponent returns how many decimal places currency's minor unit has.
func MinorUnitExponent(currency string) int32 {
	if exp, ok := minorUnitExponent[strings.ToUpper(currency)]; ok {
		return exp
	}
	return 2
}

// MajorUnits converts an amount in minor units to major units, e.g.
// 1050 EUR cents -> 10.50.
func MajorUnits(amount int64, currency string) decimal.Decimal {
	return decimal.New(amount, -MinorUnitExponent(currency))
}

// FormatAmount renders amount in major units with the currency's precision.
func FormatAmount(amount int64, currency string) string {
	exp := MinorUnitExponent(currency)
	return MajorUnits(amount, currency).StringFixed(exp) + " " + strings.ToUpper(currency)
}
