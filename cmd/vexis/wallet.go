package main

import (
	"fmt"
	"os"
	"time"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"

	"github.com/Maphikza/vexis-market/internal/config"
	"github.com/Maphikza/vexis-market/internal/types"
)

var (
	walletBTC, walletETH, walletXMR string
	addressCopy                     bool
	txStatus                        string
	txSince                         time.Duration
	txEscrow                        string
)

func init() {
	walletSetupCmd.Flags().StringVar(&walletBTC, "btc", "", "bitcoin payout address")
	walletSetupCmd.Flags().StringVar(&walletETH, "eth", "", "ethereum payout address")
	walletSetupCmd.Flags().StringVar(&walletXMR, "xmr", "", "monero payout address")
	walletAddressCmd.Flags().BoolVar(&addressCopy, "copy", false, "copy the address to the clipboard")
	walletCmd.AddCommand(walletSetupCmd, walletShowCmd, walletDepositCmd, walletWithdrawCmd, walletAddressCmd)

	txListCmd.Flags().StringVar(&txStatus, "status", "", "pending, confirming, completed, failed or disputed")
	txListCmd.Flags().DurationVar(&txSince, "since", 0, "only rows within this window")
	txListCmd.Flags().StringVar(&txEscrow, "escrow", "", "history of one escrow id")
	txCmd.AddCommand(txListCmd)

	configCmd.AddCommand(configInitCmd)
}

var walletCmd = &cobra.Command{
	Use:   "wallet",
	Short: "Manage your marketplace wallet",
}

var walletSetupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Create the wallet or replace its addresses",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := current.ledger.SetupWallet(cmd.Context(), user(), types.Addresses{BTC: walletBTC, ETH: walletETH, XMR: walletXMR})
		if err != nil {
			return err
		}
		printWallet(os.Stdout, w)
		return nil
	},
}

var walletShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show balances and addresses",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := current.ledger.Wallet(cmd.Context(), user())
		if err != nil {
			return err
		}
		printWallet(os.Stdout, w)
		return nil
	},
}

var walletDepositCmd = &cobra.Command{
	Use:   "deposit [currency] [amount] [chain-tx-hash]",
	Short: "Credit a deposit observed on chain",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := types.ParseCurrency(args[0])
		if err != nil {
			return err
		}
		amount, err := parseAmount(args[1])
		if err != nil {
			return err
		}
		hash := ""
		if len(args) > 2 {
			hash = args[2]
		}
		row, err := current.ledger.RecognizeDeposit(cmd.Context(), user(), c, amount, hash)
		if err != nil {
			return err
		}
		return printJSON(row)
	},
}

var walletWithdrawCmd = &cobra.Command{
	Use:   "withdraw [currency] [amount] [address]",
	Short: "Withdraw available funds to an external address",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := types.ParseCurrency(args[0])
		if err != nil {
			return err
		}
		amount, err := parseAmount(args[1])
		if err != nil {
			return err
		}
		row, err := current.ledger.Withdraw(cmd.Context(), user(), c, amount, args[2])
		if err != nil {
			return err
		}
		return printJSON(row)
	},
}

var walletAddressCmd = &cobra.Command{
	Use:   "address [currency]",
	Short: "Print a payout address",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := types.ParseCurrency(args[0])
		if err != nil {
			return err
		}
		w, err := current.ledger.Wallet(cmd.Context(), user())
		if err != nil {
			return err
		}
		addr := w.Addresses.Get(c)
		if addr == "" {
			return fmt.Errorf("no %s address configured", c)
		}
		fmt.Println(addr)
		if addressCopy {
			if err := clipboard.WriteAll(addr); err != nil {
				return fmt.Errorf("error copying to clipboard: %w", err)
			}
			fmt.Fprintln(os.Stderr, "Copied to clipboard.")
		}
		return nil
	},
}

var txCmd = &cobra.Command{
	Use:   "tx",
	Short: "Inspect the ledger",
}

var txListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your ledger rows, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		var (
			rows []*types.WalletTransaction
			err  error
		)
		switch {
		case txEscrow != "":
			rows, err = current.ledger.EscrowHistory(ctx, txEscrow)
		case txStatus != "":
			rows, err = current.ledger.TransactionsByStatus(ctx, user(), types.TransactionStatus(txStatus))
		case txSince > 0:
			rows, err = current.ledger.TransactionsSince(ctx, user(), time.Now().Add(-txSince))
		default:
			rows, err = current.ledger.Transactions(ctx, user())
		}
		if err != nil {
			return err
		}
		printTransactions(os.Stdout, rows)
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the config file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default config file if none exists",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.WriteDefault(configPath); err != nil {
			return err
		}
		fmt.Printf("Config written to %s\n", configPath)
		return nil
	},
}
