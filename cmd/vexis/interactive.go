package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/Maphikza/vexis-market/internal/assets"
	"github.com/Maphikza/vexis-market/internal/escrow"
	"github.com/Maphikza/vexis-market/internal/types"
)

func interactiveMode(ctx context.Context) {
	reader := bufio.NewReader(os.Stdin)

	for {
		fmt.Println("\nVexis Marketplace")
		fmt.Println("1. Browse marketplace")
		fmt.Println("2. Submit an asset")
		fmt.Println("3. Verify an asset")
		fmt.Println("4. Buy an asset")
		fmt.Println("5. Wallet")
		fmt.Println("6. Exit")
		fmt.Print("\nEnter your choice (1-6): ")
		choice, err := reader.ReadString('\n')
		if err != nil {
			return
		}

		switch strings.TrimSpace(choice) {
		case "1":
			if err := browse(ctx); err != nil {
				log.Printf("Error listing assets: %s", err)
			}
		case "2":
			if err := submitInteractive(ctx, reader); err != nil {
				log.Printf("Error submitting asset: %s", err)
			}
		case "3":
			id := prompt(reader, "Asset id: ")
			if _, err := runVerification(ctx, id, func(q string) bool { return ask(reader, q) }); err != nil {
				log.Printf("Error verifying asset: %s", err)
			}
		case "4":
			id := prompt(reader, "Asset id: ")
			currency := prompt(reader, "Currency (BTC, ETH, XMR): ")
			_, err := runPurchase(ctx, id, currency,
				func(q string) bool { return ask(reader, q) },
				func(*escrow.Check) (decision, bool) { return promptDecision(reader) })
			if err != nil {
				log.Printf("Error buying asset: %s", err)
			}
		case "5":
			if err := walletMenu(ctx, reader); err != nil {
				log.Printf("Wallet error: %s", err)
			}
		case "6":
			fmt.Println("Exiting program. Goodbye!")
			return
		default:
			fmt.Println("Invalid choice. Please try again.")
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func prompt(reader *bufio.Reader, label string) string {
	fmt.Print(label)
	s, _ := reader.ReadString('\n')
	return strings.TrimSpace(s)
}

func browse(ctx context.Context) error {
	list, err := current.assets.ListMarketplace(ctx)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Println("The marketplace is empty.")
	}
	for _, a := range list {
		printAsset(os.Stdout, a)
	}
	return nil
}

func submitInteractive(ctx context.Context, reader *bufio.Reader) error {
	req := assets.SubmitRequest{VendorID: user()}
	req.Title = prompt(reader, "Title: ")
	req.Description = prompt(reader, "Description: ")
	req.Category = prompt(reader, "Category (reconnaissance, exploitation, post-exploitation, defense, utility): ")
	req.Language = prompt(reader, "Language [python]: ")
	path := prompt(reader, "Path to source file: ")
	source, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("error reading source: %w", err)
	}
	req.SourceCode = string(source)
	req.UsageProof = prompt(reader, "Usage proof (one line): ")
	req.Price, err = parsePrice(
		prompt(reader, "Price in BTC (blank to skip): "),
		prompt(reader, "Price in ETH (blank to skip): "),
		prompt(reader, "Price in XMR (blank to skip): "))
	if err != nil {
		return err
	}

	a, err := current.assets.Submit(ctx, req)
	if err != nil {
		return err
	}
	fmt.Printf("Draft %s created. Run verification to list it.\n", a.ID)
	return nil
}

func walletMenu(ctx context.Context, reader *bufio.Reader) error {
	w, err := current.ledger.Wallet(ctx, user())
	if err != nil {
		fmt.Println("No wallet yet. At least one payout address is required.")
		w, err = current.ledger.SetupWallet(ctx, user(), types.Addresses{
			BTC: prompt(reader, "BTC address (blank to skip): "),
			ETH: prompt(reader, "ETH address (blank to skip): "),
			XMR: prompt(reader, "XMR address (blank to skip): "),
		})
		if err != nil {
			return err
		}
	}
	printWallet(os.Stdout, w)

	rows, err := current.ledger.Transactions(ctx, user())
	if err != nil {
		return err
	}
	fmt.Println("\nRecent transactions:")
	if len(rows) > 10 {
		rows = rows[:10]
	}
	printTransactions(os.Stdout, rows)
	return nil
}
