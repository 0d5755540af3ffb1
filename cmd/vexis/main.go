package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	configPath  string
	actingUser  string
	metricsAddr string

	current *app
)

var rootCmd = &cobra.Command{
	Use:   "vexis",
	Short: "Vexis security asset marketplace",
	Long: `Vexis lists offensive and defensive security tools, verifies their
authorship and runtime behavior, and sells them through escrow.
Run without arguments for the interactive menu.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "init" && cmd.Parent() != nil && cmd.Parent().Name() == "config" {
			return nil
		}
		return setup()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "vexis.json", "path to the JSON config file")
	rootCmd.PersistentFlags().StringVar(&actingUser, "user", "", "acting user id (defaults to owner_id)")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")

	rootCmd.AddCommand(assetCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(walletCmd)
	rootCmd.AddCommand(buyCmd)
	rootCmd.AddCommand(escrowCmd)
	rootCmd.AddCommand(txCmd)
	rootCmd.AddCommand(testsCmd)
	rootCmd.AddCommand(configCmd)
}

func setup() error {
	if current != nil {
		return nil
	}
	a, err := newApp(configPath)
	if err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}
	a.serveMetrics(metricsAddr)
	current = a
	return nil
}

// user is the identity commands act as.
func user() string {
	if actingUser != "" {
		return actingUser
	}
	return current.cfg.OwnerID
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	defer func() {
		if current != nil {
			current.Close()
		}
	}()

	if len(os.Args) > 1 {
		// CLI mode
		if err := rootCmd.ExecuteContext(ctx); err != nil {
			stop()
			if current != nil {
				current.Close()
			}
			os.Exit(1)
		}
		return
	}

	// Interactive mode
	if err := setup(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	interactiveMode(ctx)
}
