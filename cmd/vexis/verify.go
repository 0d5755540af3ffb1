package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Maphikza/vexis-market/internal/types"
	"github.com/Maphikza/vexis-market/internal/verification"
)

var verifyApply bool

func init() {
	verifyCmd.Flags().BoolVar(&verifyApply, "apply", false, "apply the verdict without asking")
	testsListCmd.Flags().StringVar(&testsStatus, "status", "", "queued, running, completed or failed")
	testsCmd.AddCommand(testsListCmd, testsShowCmd)
}

var verifyCmd = &cobra.Command{
	Use:   "verify [asset-id]",
	Short: "Run authorship, sandbox and safety checks on an asset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm := func(string) bool { return verifyApply }
		if !verifyApply {
			reader := bufio.NewReader(os.Stdin)
			confirm = func(q string) bool { return ask(reader, q) }
		}
		_, err := runVerification(cmd.Context(), args[0], confirm)
		return err
	},
}

// runVerification walks the pipeline to its verdict, then applies it if
// confirm agrees. Interrupting ctx rejects the run.
func runVerification(ctx context.Context, assetID string, confirm func(string) bool) (*types.SecurityAsset, error) {
	p, err := verification.New(ctx, current.verificationDeps(), assetID)
	if err != nil {
		return nil, err
	}
	defer p.Close()

	stop := watch(current.bus, os.Stderr)
	defer stop()

	for {
		stage, err := p.Next(ctx)
		if err != nil {
			return nil, err
		}
		if stage == verification.StageResult {
			break
		}
	}

	v := p.State().Verdict
	fmt.Println()
	if v.Passed {
		fmt.Println("Verdict: PASSED")
	} else {
		fmt.Println("Verdict: FLAGGED")
	}
	for _, r := range v.Reasons {
		fmt.Printf("  - %s\n", r)
	}
	if !confirm("Apply this verdict to the asset?") {
		fmt.Println("Verdict discarded.")
		return nil, nil
	}
	a, err := p.Apply(ctx)
	if err != nil {
		return nil, err
	}
	fmt.Printf("Applied. Verified: %t  Badge: %t\n", a.IsVerified, a.VexisSecureBadge)
	return a, nil
}

var testsStatus string

var testsCmd = &cobra.Command{
	Use:   "tests",
	Short: "Inspect sandbox test runs",
}

var testsListCmd = &cobra.Command{
	Use:   "list [asset-id]",
	Short: "List sandbox runs for an asset, or by status",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			runs []*types.SandboxTest
			err  error
		)
		switch {
		case len(args) == 1:
			runs, err = current.tests.ListByAsset(cmd.Context(), args[0])
		case testsStatus != "":
			runs, err = current.tests.ListByStatus(cmd.Context(), types.SandboxStatus(strings.ToLower(testsStatus)))
		default:
			return fmt.Errorf("give an asset id or --status")
		}
		if err != nil {
			return err
		}
		for _, t := range runs {
			fmt.Printf("%s  asset %s  %-9s started %s  %d log lines\n",
				t.ID, t.AssetID, t.Status, t.StartedAt.Format("2006-01-02 15:04:05"), len(t.Logs))
		}
		return nil
	},
}

var testsShowCmd = &cobra.Command{
	Use:   "show [test-id]",
	Short: "Show one sandbox run with its log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := current.tests.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(t)
	},
}

func ask(reader *bufio.Reader, q string) bool {
	fmt.Printf("%s [y/N]: ", q)
	answer, _ := reader.ReadString('\n')
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}
