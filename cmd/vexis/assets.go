package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/Maphikza/vexis-market/internal/assets"
	"github.com/Maphikza/vexis-market/internal/types"
)

var assetCmd = &cobra.Command{
	Use:   "asset",
	Short: "Submit, browse and manage security assets",
}

var (
	assetTitle, assetDescription, assetCategory, assetLanguage string
	assetSourceFile, assetProof                                string
	assetPriceBTC, assetPriceETH, assetPriceXMR                string

	listFilter, listVendor, listCategory string
	listSince                            time.Duration
)

func init() {
	for _, c := range []*cobra.Command{assetSubmitCmd, assetEditCmd} {
		c.Flags().StringVar(&assetTitle, "title", "", "asset title")
		c.Flags().StringVar(&assetDescription, "description", "", "asset description")
		c.Flags().StringVar(&assetLanguage, "language", "", "source language")
		c.Flags().StringVar(&assetSourceFile, "source", "", "path to the source file")
		c.Flags().StringVar(&assetProof, "proof", "", "usage proof text")
		c.Flags().StringVar(&assetPriceBTC, "btc", "", "price in BTC")
		c.Flags().StringVar(&assetPriceETH, "eth", "", "price in ETH")
		c.Flags().StringVar(&assetPriceXMR, "xmr", "", "price in XMR")
	}
	assetSubmitCmd.Flags().StringVar(&assetCategory, "category", "", "reconnaissance, exploitation, post-exploitation, defense or utility")

	assetListCmd.Flags().StringVar(&listFilter, "filter", "marketplace", "marketplace, all, verified or unverified")
	assetListCmd.Flags().StringVar(&listVendor, "vendor", "", "only assets from this vendor")
	assetListCmd.Flags().StringVar(&listCategory, "category", "", "only assets in this category")
	assetListCmd.Flags().DurationVar(&listSince, "since", 0, "only assets created within this window")

	assetCmd.AddCommand(assetSubmitCmd, assetListCmd, assetShowCmd, assetEditCmd, assetDeleteCmd, assetRateCmd)
}

var assetSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a new asset as a draft",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		source, err := os.ReadFile(assetSourceFile)
		if err != nil {
			return fmt.Errorf("error reading source: %w", err)
		}
		price, err := parsePrice(assetPriceBTC, assetPriceETH, assetPriceXMR)
		if err != nil {
			return err
		}
		a, err := current.assets.Submit(cmd.Context(), assets.SubmitRequest{
			VendorID:    user(),
			Title:       assetTitle,
			Description: assetDescription,
			Category:    assetCategory,
			Language:    assetLanguage,
			SourceCode:  string(source),
			UsageProof:  assetProof,
			Price:       price,
		})
		if err != nil {
			return err
		}
		return printJSON(a)
	},
}

var assetListCmd = &cobra.Command{
	Use:   "list",
	Short: "List assets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		var (
			list []*types.SecurityAsset
			err  error
		)
		switch {
		case listVendor != "":
			list, err = current.assets.ListByVendor(ctx, listVendor)
		case listCategory != "":
			var c types.Category
			if c, err = types.ParseCategory(listCategory); err == nil {
				list, err = current.assets.ListByCategory(ctx, c)
			}
		case listSince > 0:
			list, err = current.assets.ListCreatedSince(ctx, time.Now().Add(-listSince))
		case listFilter == "all":
			list, err = current.assets.ListAll(ctx)
		case listFilter == "verified" || listFilter == "unverified":
			list, err = current.assets.ListByVerified(ctx, listFilter == "verified")
		default:
			list, err = current.assets.ListMarketplace(ctx)
		}
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Println("No assets.")
		}
		for _, a := range list {
			printAsset(os.Stdout, a)
		}
		return nil
	},
}

var assetShowCmd = &cobra.Command{
	Use:   "show [asset-id]",
	Short: "Show one asset with its source",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := current.assets.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(a)
	},
}

var assetEditCmd = &cobra.Command{
	Use:   "edit [asset-id]",
	Short: "Edit your asset; verification is reset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var edit assets.ContentEdit
		flags := cmd.Flags()
		if flags.Changed("title") {
			edit.Title = &assetTitle
		}
		if flags.Changed("description") {
			edit.Description = &assetDescription
		}
		if flags.Changed("language") {
			edit.Language = &assetLanguage
		}
		if flags.Changed("proof") {
			edit.UsageProof = &assetProof
		}
		if flags.Changed("source") {
			source, err := os.ReadFile(assetSourceFile)
			if err != nil {
				return fmt.Errorf("error reading source: %w", err)
			}
			s := string(source)
			edit.SourceCode = &s
		}
		if flags.Changed("btc") || flags.Changed("eth") || flags.Changed("xmr") {
			price, err := parsePrice(assetPriceBTC, assetPriceETH, assetPriceXMR)
			if err != nil {
				return err
			}
			edit.Price = &price
		}
		a, err := current.assets.UpdateContent(cmd.Context(), user(), args[0], edit)
		if err != nil {
			return err
		}
		return printJSON(a)
	},
}

var assetDeleteCmd = &cobra.Command{
	Use:   "delete [asset-id]",
	Short: "Delete your asset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := current.assets.Delete(cmd.Context(), user(), args[0]); err != nil {
			return err
		}
		return printJSON(map[string]string{"deleted": args[0]})
	},
}

var assetRateCmd = &cobra.Command{
	Use:   "rate [asset-id] [1-5]",
	Short: "Rate an asset",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		stars, err := strconv.Atoi(args[1])
		if err != nil {
			return types.Invalid("rating", "not a number: %q", args[1])
		}
		a, err := current.assets.Rate(cmd.Context(), args[0], stars)
		if err != nil {
			return err
		}
		return printJSON(map[string]interface{}{"id": a.ID, "rating": a.Rating, "ratings": a.RatingCount})
	},
}
