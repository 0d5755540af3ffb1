// Package types holds the entities shared by the marketplace stores and pipelines.
package types

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Currency is one of the three settlement currencies a wallet holds.
type Currency string

const (
	CurrencyBTC Currency = "BTC"
	CurrencyETH Currency = "ETH"
	CurrencyXMR Currency = "XMR"
)

// Currencies lists every supported currency in display order.
var Currencies = []Currency{CurrencyBTC, CurrencyETH, CurrencyXMR}

// ParseCurrency accepts any casing of a supported currency code.
func ParseCurrency(s string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(s)))
	switch c {
	case CurrencyBTC, CurrencyETH, CurrencyXMR:
		return c, nil
	}
	return "", &ValidationError{Field: "currency", Reason: fmt.Sprintf("unsupported currency %q", s)}
}

// Amounts carries one decimal value per currency. It is used for asset
// prices and for each wallet balance bucket.
type Amounts struct {
	BTC decimal.Decimal `json:"btc"`
	ETH decimal.Decimal `json:"eth"`
	XMR decimal.Decimal `json:"xmr"`
}

// Get returns the amount held for c. Unknown currencies read as zero.
func (a Amounts) Get(c Currency) decimal.Decimal {
	switch c {
	case CurrencyBTC:
		return a.BTC
	case CurrencyETH:
		return a.ETH
	case CurrencyXMR:
		return a.XMR
	}
	return decimal.Zero
}

// Set replaces the amount held for c.
func (a *Amounts) Set(c Currency, v decimal.Decimal) {
	switch c {
	case CurrencyBTC:
		a.BTC = v
	case CurrencyETH:
		a.ETH = v
	case CurrencyXMR:
		a.XMR = v
	}
}

// Add adds delta (which may be negative) to the amount held for c.
func (a *Amounts) Add(c Currency, delta decimal.Decimal) {
	a.Set(c, a.Get(c).Add(delta))
}

// Addresses holds the receive address of a wallet for each currency.
type Addresses struct {
	BTC string `json:"btc,omitempty"`
	ETH string `json:"eth,omitempty"`
	XMR string `json:"xmr,omitempty"`
}

// Get returns the address configured for c, or "" when none is set.
func (a Addresses) Get(c Currency) string {
	switch c {
	case CurrencyBTC:
		return a.BTC
	case CurrencyETH:
		return a.ETH
	case CurrencyXMR:
		return a.XMR
	}
	return ""
}

// Empty reports whether no address is configured at all.
func (a Addresses) Empty() bool {
	return strings.TrimSpace(a.BTC) == "" && strings.TrimSpace(a.ETH) == "" && strings.TrimSpace(a.XMR) == ""
}
