package main

import (
	"bytes"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Maphikza/vexis-market/internal/types"
)

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "0.001 BTC", formatAmount(types.CurrencyBTC, decimal.RequireFromString("0.001")))
	assert.Equal(t, "2 BTC", formatAmount(types.CurrencyBTC, decimal.NewFromInt(2)))
	assert.Equal(t, "0 BTC", formatAmount(types.CurrencyBTC, decimal.Zero))
	assert.Equal(t, "0.00000001 BTC", formatAmount(types.CurrencyBTC, decimal.RequireFromString("0.00000001")))
	// sub-satoshi values are shown exactly instead of rounded
	assert.Equal(t, "0.000000015 BTC", formatAmount(types.CurrencyBTC, decimal.RequireFromString("0.000000015")))
	assert.Equal(t, "1.5 ETH", formatAmount(types.CurrencyETH, decimal.RequireFromString("1.5")))
	assert.Equal(t, "-", formatAmounts(types.Amounts{}))
}

func TestParsePrice(t *testing.T) {
	p, err := parsePrice("0.002", "", " 3 ")
	require.NoError(t, err)
	assert.True(t, p.BTC.Equal(decimal.RequireFromString("0.002")))
	assert.True(t, p.ETH.IsZero())
	assert.True(t, p.XMR.Equal(decimal.NewFromInt(3)))

	_, err = parsePrice("abc", "", "")
	assert.True(t, types.IsValidation(err))
}

func TestPrintAssetMarksUnlisted(t *testing.T) {
	a := &types.SecurityAsset{ID: "a1", Title: "Port sweeper", Price: types.Amounts{BTC: decimal.RequireFromString("0.001")}}
	var buf bytes.Buffer
	printAsset(&buf, a)
	assert.Contains(t, buf.String(), "a1  Port sweeper [UNLISTED]")
	assert.Contains(t, buf.String(), "price: 0.001 BTC")

	a.IsVerified = true
	a.VexisSecureBadge = true
	buf.Reset()
	printAsset(&buf, a)
	assert.Contains(t, buf.String(), "a1  Port sweeper [VEXIS SECURE]\n")
	assert.NotContains(t, buf.String(), "UNLISTED")
}
