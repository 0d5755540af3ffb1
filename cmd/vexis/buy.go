package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Maphikza/vexis-market/internal/escrow"
	"github.com/Maphikza/vexis-market/internal/types"
)

var (
	buyCurrency string
	buyYes      bool
	buyRelease  bool
	buyDispute  string
)

func init() {
	buyCmd.Flags().StringVar(&buyCurrency, "currency", "BTC", "BTC, ETH or XMR")
	buyCmd.Flags().BoolVar(&buyYes, "yes", false, "lock funds without asking")
	buyCmd.Flags().BoolVar(&buyRelease, "release", false, "release to the seller after verification")
	buyCmd.Flags().StringVar(&buyDispute, "dispute", "", "dispute after verification with this reason")
}

// decision is what the buyer does once the asset has been re-checked.
type decision struct {
	release bool
	dispute string
}

var buyCmd = &cobra.Command{
	Use:   "buy [asset-id]",
	Short: "Buy an asset through escrow",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if buyRelease && buyDispute != "" {
			return fmt.Errorf("--release and --dispute are exclusive")
		}
		reader := bufio.NewReader(os.Stdin)
		confirm := func(q string) bool { return buyYes || ask(reader, q) }
		decide := func(*escrow.Check) (decision, bool) {
			switch {
			case buyRelease:
				return decision{release: true}, true
			case buyDispute != "":
				return decision{dispute: buyDispute}, true
			}
			return promptDecision(reader)
		}
		_, err := runPurchase(cmd.Context(), args[0], buyCurrency, confirm, decide)
		return err
	},
}

// runPurchase drives one escrow purchase. Returning false from decide
// abandons the purchase with funds still locked.
func runPurchase(ctx context.Context, assetID, currency string, confirm func(string) bool, decide func(*escrow.Check) (decision, bool)) (escrow.State, error) {
	p, err := escrow.New(ctx, current.escrowDeps(), escrow.Purchase{
		AssetID:  assetID,
		BuyerID:  user(),
		Currency: types.Currency(currency),
	})
	if err != nil {
		return escrow.State{}, err
	}
	defer p.Cancel()

	stop := watch(current.bus, os.Stderr)
	defer stop()

	q := p.State().Quote
	fmt.Printf("Purchase %q from %s for %s\n", q.Title, q.SellerID, formatAmount(q.Currency, q.Amount))
	if q.Badge {
		fmt.Println("This asset carries the Vexis Secure badge.")
	}
	if !confirm("Lock funds in escrow?") {
		fmt.Println("Purchase cancelled.")
		return p.State(), nil
	}

	if _, err := p.Lock(ctx); err != nil {
		return p.State(), err
	}
	fmt.Printf("Escrow %s locked.\n", q.EscrowID)

	check, err := p.Verify(ctx)
	if err != nil {
		return p.State(), err
	}
	if check.Recommendation == escrow.RecommendReady {
		fmt.Println("Verification passed. Ready to release.")
	} else {
		fmt.Println("Verification raised concerns. Review before releasing.")
	}

	d, ok := decide(check)
	if !ok {
		fmt.Printf("Funds stay locked in escrow %s. Settle later with `vexis escrow release` or `vexis escrow dispute`.\n", q.EscrowID)
		return p.State(), nil
	}
	if d.release {
		if _, err := p.Release(ctx); err != nil {
			return p.State(), err
		}
		fmt.Println("Funds released. Purchase complete.")
	} else {
		if _, err := p.Dispute(ctx, d.dispute); err != nil {
			return p.State(), err
		}
		fmt.Println("Dispute opened. Funds are frozen.")
	}
	return p.State(), nil
}

func promptDecision(reader *bufio.Reader) (decision, bool) {
	for {
		fmt.Println("\n1. Release funds to seller")
		fmt.Println("2. Open a dispute")
		fmt.Println("3. Abandon (funds stay locked)")
		fmt.Print("\nEnter your choice (1, 2 or 3): ")
		choice, _ := reader.ReadString('\n')
		switch strings.TrimSpace(choice) {
		case "1":
			return decision{release: true}, true
		case "2":
			fmt.Print("Reason for dispute: ")
			reason, _ := reader.ReadString('\n')
			reason = strings.TrimSpace(reason)
			if reason == "" {
				reason = "buyer dispute"
			}
			return decision{dispute: reason}, true
		case "3":
			return decision{}, false
		default:
			fmt.Println("Invalid choice. Please try again.")
		}
	}
}
