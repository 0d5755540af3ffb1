package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Maphikza/vexis-market/internal/escrow"
)

func init() {
	escrowCmd.AddCommand(escrowReleaseCmd, escrowDisputeCmd)
}

var escrowCmd = &cobra.Command{
	Use:   "escrow",
	Short: "Settle an escrow left open by an abandoned purchase",
}

var escrowReleaseCmd = &cobra.Command{
	Use:   "release [escrow-id]",
	Short: "Release locked funds to the seller",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := escrow.ReleaseLocked(cmd.Context(), current.escrowDeps(), args[0], user())
		if err != nil {
			return err
		}
		fmt.Printf("Funds released to %s. Purchase complete.\n", s.Release.Counterparty)
		return nil
	},
}

var escrowDisputeCmd = &cobra.Command{
	Use:   "dispute [escrow-id] [reason...]",
	Short: "Freeze locked funds with a reason",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := escrow.DisputeLocked(cmd.Context(), current.escrowDeps(), args[0], user(), strings.Join(args[1:], " ")); err != nil {
			return err
		}
		fmt.Println("Dispute opened. Funds are frozen.")
		return nil
	},
}
