package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/shopspring/decimal"

	"github.com/Maphikza/vexis-market/internal/events"
	"github.com/Maphikza/vexis-market/internal/types"
)

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// formatAmount renders whole-satoshi BTC amounts through btcutil with
// trailing zeros trimmed; anything else prints the stored decimal.
func formatAmount(c types.Currency, v decimal.Decimal) string {
	if c == types.CurrencyBTC {
		if sats := v.Shift(8); sats.IsInteger() {
			num, unit, _ := strings.Cut(btcutil.Amount(sats.IntPart()).Format(btcutil.AmountBTC), " ")
			if strings.Contains(num, ".") {
				num = strings.TrimRight(strings.TrimRight(num, "0"), ".")
			}
			return num + " " + unit
		}
	}
	return v.String() + " " + string(c)
}

func formatAmounts(a types.Amounts) string {
	var parts []string
	for _, c := range types.Currencies {
		if v := a.Get(c); !v.IsZero() {
			parts = append(parts, formatAmount(c, v))
		}
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, ", ")
}

func parsePrice(btc, eth, xmr string) (types.Amounts, error) {
	var out types.Amounts
	for c, s := range map[types.Currency]string{types.CurrencyBTC: btc, types.CurrencyETH: eth, types.CurrencyXMR: xmr} {
		if strings.TrimSpace(s) == "" {
			continue
		}
		v, err := decimal.NewFromString(strings.TrimSpace(s))
		if err != nil {
			return out, types.Invalid("price", "bad %s amount %q", c, s)
		}
		out.Set(c, v)
	}
	return out, nil
}

func parseAmount(s string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, types.Invalid("amount", "not a number: %q", s)
	}
	return v, nil
}

func printAsset(w io.Writer, a *types.SecurityAsset) {
	badge := ""
	if a.VexisSecureBadge {
		badge = " [VEXIS SECURE]"
	}
	if !a.Listable() {
		badge += " [UNLISTED]"
	}
	fmt.Fprintf(w, "%s  %s%s\n", a.ID, a.Title, badge)
	fmt.Fprintf(w, "  vendor: %s  category: %s  language: %s\n", a.VendorID, a.Category, a.Language)
	fmt.Fprintf(w, "  price: %s\n", formatAmounts(a.Price))
	fmt.Fprintf(w, "  authorship: %d  verified: %t  downloads: %d  rating: %.1f (%d)\n",
		a.AuthorshipScore, a.IsVerified, a.Downloads, a.Rating, a.RatingCount)
	if a.IsFlagged {
		fmt.Fprintf(w, "  flagged: %s\n", a.FlagReason)
	}
	if a.SafetyReport != nil {
		fmt.Fprintf(w, "  risk: %s  passed: %t\n", a.SafetyReport.RiskLevel, a.SafetyReport.Passed)
	}
}

func printWallet(w io.Writer, wl *types.VexisWallet) {
	fmt.Fprintf(w, "Wallet %s\n", wl.ID)
	for _, c := range types.Currencies {
		addr := wl.Addresses.Get(c)
		if addr == "" {
			addr = "(not set)"
		}
		fmt.Fprintf(w, "  %s  available %s  escrow %s  disputed %s\n    %s\n", c,
			formatAmount(c, wl.Available.Get(c)),
			formatAmount(c, wl.PendingEscrow.Get(c)),
			formatAmount(c, wl.Disputed.Get(c)),
			addr)
	}
}

func printTransactions(w io.Writer, rows []*types.WalletTransaction) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "No transactions.")
		return
	}
	for _, r := range rows {
		fmt.Fprintf(w, "%s  %-14s %-10s %s", r.Timestamp.Format("2006-01-02 15:04:05"), r.Type, r.Status, formatAmount(r.Currency, r.Amount))
		if r.AssetID != "" {
			fmt.Fprintf(w, "  asset %s", r.AssetID)
		}
		if r.ChainTxHash != "" {
			fmt.Fprintf(w, "  tx %s", r.ChainTxHash)
		}
		if r.Note != "" {
			fmt.Fprintf(w, "  (%s)", r.Note)
		}
		fmt.Fprintln(w)
	}
}

// watch renders bus events to w until the returned stop function is called.
func watch(bus *events.Bus, w io.Writer) func() {
	ch, unsubscribe := bus.Subscribe(64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range ch {
			switch e.Kind {
			case events.KindLog:
				fmt.Fprintf(w, "  %s\n", e.Message)
			case events.KindProgress:
				fmt.Fprintf(w, "  [%3d%%] %s\n", e.Progress, e.Stage)
			case events.KindStage:
				fmt.Fprintf(w, "-> %s\n", e.Stage)
			case events.KindVerdict:
				mark := "PASS"
				if !e.Passed {
					mark = "FLAG"
				}
				fmt.Fprintf(w, "[%s] %s\n", mark, e.Message)
				for _, f := range e.Flags {
					fmt.Fprintf(w, "       - %s\n", f)
				}
			}
		}
	}()
	return func() {
		unsubscribe()
		<-done
	}
}
