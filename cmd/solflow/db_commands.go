package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/brojonat/solflow/service/db"
	"github.com/urfave/cli/v2"
)

func listChangesCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-changes",
		Usage:   "List a wallet's balance changes, newest first",
		Aliases: []string{"changes"},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "wallet",
				Aliases:  []string{"w"},
				Usage:    "Owner wallet address",
				Required: true,
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Limit number of balance changes",
				Value:   50,
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			changes, err := store.ListBalanceChangesByOwner(context.Background(), c.String("wallet"), c.Int("limit"))
			if err != nil {
				return fmt.Errorf("failed to list balance changes: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, changes)
			}

			w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SLOT\tDATE\tTX\tMINT\tCHANGE\tBALANCE\tTYPE")
			for _, ch := range changes {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%.9g\t%.9g\t%s\n",
					ch.BlockSlot,
					ch.BlockDate,
					ch.TxID,
					ch.Mint,
					ch.ChangeAmount,
					ch.NewBalance,
					ch.ChangeType,
				)
			}
			w.Flush()

			fmt.Fprintf(c.App.ErrWriter, "\nTotal: %d balance changes\n", len(changes))
			return nil
		},
	}
}

func getAggregatesCommand() *cli.Command {
	return &cli.Command{
		Name:      "get-aggregates",
		Usage:     "Get a wallet's stored aggregates",
		Aliases:   []string{"aggregates"},
		ArgsUsage: "<wallet>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: wallet address")
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			aggs, err := store.GetWalletAggregates(context.Background(), c.Args().First())
			if errors.Is(err, db.ErrNotFound) {
				return fmt.Errorf("wallet %s has no aggregates", c.Args().First())
			}
			if err != nil {
				return fmt.Errorf("failed to get aggregates: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, aggs)
			}

			out := c.App.Writer
			fmt.Fprintf(out, "Wallet:       %s\n", aggs.Wallet)
			fmt.Fprintf(out, "Slot:         %d\n", aggs.Slot)
			fmt.Fprintf(out, "Updated:      %s\n", aggs.UpdatedAt.Format(time.RFC3339))
			fmt.Fprintf(out, "Total Volume: $%.2f\n", aggs.TotalTradingVolumeUSD)
			for _, month := range slices.Sorted(maps.Keys(aggs.MonthlyTradingVolumeUSD)) {
				fmt.Fprintf(out, "  %s:     $%.2f\n", month, aggs.MonthlyTradingVolumeUSD[month])
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "\nMINT\tAMOUNT\tVALUE USD")
			for _, h := range aggs.Portfolio {
				fmt.Fprintf(w, "%s\t%.9g\t%.2f\n", h.Mint, h.Amount, h.ValueUSD)
			}
			return w.Flush()
		},
	}
}

func listPricesCommand() *cli.Command {
	return &cli.Command{
		Name:  "prices",
		Usage: "List the latest price of every mint, or one mint",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "mint",
				Aliases: []string{"m"},
				Usage:   "Only show this mint",
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			ctx := context.Background()
			if mint := c.String("mint"); mint != "" {
				price, err := store.GetTokenPrice(ctx, mint)
				if errors.Is(err, db.ErrNotFound) {
					return fmt.Errorf("no price for mint %s", mint)
				}
				if err != nil {
					return fmt.Errorf("failed to get price: %w", err)
				}
				return outputJSON(c.App.Writer, price)
			}

			prices, err := store.ListTokenPrices(ctx)
			if err != nil {
				return fmt.Errorf("failed to list prices: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, prices)
			}

			w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "MINT\tPRICE USD\tSLOT")
			for _, p := range prices {
				fmt.Fprintf(w, "%s\t%.6f\t%d\n", p.MintAddress, p.PriceUSD, p.Slot)
			}
			w.Flush()

			fmt.Fprintf(c.App.ErrWriter, "\nTotal: %d prices\n", len(prices))
			return nil
		},
	}
}

func cursorCommand() *cli.Command {
	return &cli.Command{
		Name:  "cursor",
		Usage: "Show the last slot the orchestrator finished",
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			ctx := context.Background()
			cursor, err := store.GetCursor(ctx)
			if err != nil && !errors.Is(err, db.ErrNotFound) {
				return fmt.Errorf("failed to get cursor: %w", err)
			}
			hasCursor := err == nil

			last, hasLast, err := store.LastBlock(ctx)
			if err != nil {
				return fmt.Errorf("failed to get last applied block: %w", err)
			}

			if c.Bool("json") {
				out := map[string]any{"cursor": nil, "last_applied": nil}
				if hasCursor {
					out["cursor"] = cursor
				}
				if hasLast {
					out["last_applied"] = uint64(last)
				}
				return outputJSON(c.App.Writer, out)
			}

			if hasCursor {
				fmt.Fprintf(c.App.Writer, "Cursor:       %d\n", cursor)
			} else {
				fmt.Fprintf(c.App.Writer, "Cursor:       (none)\n")
			}
			if hasLast {
				fmt.Fprintf(c.App.Writer, "Last Applied: %d\n", last)
			} else {
				fmt.Fprintf(c.App.Writer, "Last Applied: (none)\n")
			}
			return nil
		},
	}
}

// Helper function to connect to database
func getStore(c *cli.Context) (*db.Store, func(), error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
		// Try environment variable directly if flag not found
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	pool, err := db.NewPool(context.Background(), dbURL)
	if err != nil {
		return nil, nil, err
	}

	store := db.NewStore(pool, nil)
	closer := func() { pool.Close() }

	return store, closer, nil
}

// Helper function to output JSON
func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
