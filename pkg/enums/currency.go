package enums

import "strings"

// Currency is an ISO 4217 code accepted on entitlement records.
type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
	CurrencyGBP Currency = "GBP"
	CurrencyCAD Currency = "CAD"
	CurrencyAUD Currency = "AUD"
)

var validCurrencies = set[Currency]{CurrencyUSD, CurrencyEUR, CurrencyGBP, CurrencyCAD, CurrencyAUD}

func (c Currency) String() string { return string(c) }

func (c Currency) IsValid() bool { return validCurrencies.has(c) }

// ParseCurrency trims and upper-cases before matching, so " eur " is EUR.
func ParseCurrency(value string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(value)))
	if !c.IsValid() {
		return "", validCurrencies.reject(value, "currency")
	}
	return c, nil
}
