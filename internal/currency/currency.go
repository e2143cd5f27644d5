package currency

import (
	"errors"
	"fmt"

	"crowdprop/internal/domain"

	"github.com/shopspring/decimal"
)

var ErrUnsupportedCurrency = errors.New("unsupported currency")

// Static rate table, expressed as units of TND per one unit of the currency.
// Rates are configuration frozen at build time; sourcing live rates is not
// this package's concern.
var tndPerUnit = map[domain.Currency]decimal.Decimal{
	domain.CurrencyTND: decimal.NewFromInt(1),
	domain.CurrencyEUR: decimal.RequireFromString("3.32"),
	domain.CurrencyUSD: decimal.RequireFromString("3.16"),
}

// Convert maps amount from one currency to another using the static rate
// table. The result is rounded once, at the end, to 2 decimal places with
// half-up rounding so ledger amounts stay exact to the cent. Intermediate
// values are never rounded.
func Convert(amount decimal.Decimal, from, to domain.Currency) (decimal.Decimal, error) {
	fromRate, ok := tndPerUnit[from]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, from)
	}
	toRate, ok := tndPerUnit[to]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, to)
	}
	if from == to {
		return amount.Round(2), nil
	}
	// amount * (TND per from-unit) / (TND per to-unit)
	converted := amount.Mul(fromRate).Div(toRate)
	return converted.Round(2), nil
}

// Supported reports whether c has an entry in the rate table.
func Supported(c domain.Currency) bool {
	_, ok := tndPerUnit[c]
	return ok
}
