package ledger

import (
	"regexp"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/Maphikza/vexis-market/internal/types"
)

var (
	ethAddressRe = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	xmrAddressRe = regexp.MustCompile(`^[48][1-9A-HJ-NP-Za-km-z]{94}$`)
)

// ValidateAddress checks the format of addr for currency c. BTC addresses
// must also belong to params' network.
func ValidateAddress(c types.Currency, addr string, params *chaincfg.Params) error {
	addr = strings.TrimSpace(addr)
	field := strings.ToLower(string(c)) + "_address"
	if addr == "" {
		return types.Invalid(field, "is required")
	}

	switch c {
	case types.CurrencyBTC:
		decoded, err := btcutil.DecodeAddress(addr, params)
		if err != nil {
			return types.Invalid(field, "not a valid bitcoin address: %v", err)
		}
		if !decoded.IsForNet(params) {
			return types.Invalid(field, "address is not for %s", params.Name)
		}
	case types.CurrencyETH:
		if !ethAddressRe.MatchString(addr) {
			return types.Invalid(field, "expected 0x followed by 40 hex characters")
		}
	case types.CurrencyXMR:
		if !xmrAddressRe.MatchString(addr) {
			return types.Invalid(field, "expected a 95 character base58 address starting with 4 or 8")
		}
	default:
		return types.Invalid("currency", "unsupported currency %q", c)
	}
	return nil
}
