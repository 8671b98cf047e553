package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/brojonat/solflow/service/aggregate"
	"github.com/brojonat/solflow/service/ledger"
	"github.com/brojonat/solflow/service/pipeline"
	"github.com/brojonat/solflow/service/solana"
	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"
)

// processCommand runs block files through an in-memory ledger.
func processCommand() *cli.Command {
	return &cli.Command{
		Name:      "process",
		Usage:     "Process block JSON files through an in-memory ledger",
		ArgsUsage: "[FILE...]",
		Description: `Read blocks from files (or stdin when no file or "-" is given), apply them
in slot order and print one result per block.

Input is a JSON array of blocks or a stream of concatenated block objects,
as printed by "solflow fetch".

Example:
  solflow fetch --slot 277000000 | solflow process --whitelist 9WzD...AWWM --jq '.aggregates[]'`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "whitelist",
				Aliases: []string{"w"},
				Usage:   "Comma-separated wallet addresses to keep (empty keeps everything)",
				EnvVars: []string{"WHITELIST"},
			},
			&cli.IntFlag{
				Name:  "workers",
				Usage: "Extraction concurrency (0 means GOMAXPROCS)",
			},
			&cli.StringFlag{
				Name:  "jq",
				Usage: "jq expression applied to each block result",
			},
			&cli.BoolFlag{
				Name:  "summary",
				Usage: "Print the final aggregates of every touched wallet instead of per-block results",
			},
			&cli.StringFlag{
				Name:  "format",
				Usage: "Output format: json (default) or table",
				Value: "json",
			},
		},
		Action: func(c *cli.Context) error {
			format := c.String("format")
			if format != "json" && format != "table" {
				return fmt.Errorf("invalid format %q: must be json or table", format)
			}

			var code *gojq.Code
			if expr := c.String("jq"); expr != "" {
				var err error
				code, err = compileJQ(expr)
				if err != nil {
					return err
				}
			}

			blocks, err := readBlocks(c.App.Reader, c.Args().Slice())
			if err != nil {
				return err
			}

			processor := pipeline.NewProcessor(pipeline.ProcessorConfig{
				Whitelist: ledger.ParseWhitelist(c.String("whitelist")),
				Workers:   c.Int("workers"),
				Logger:    cliLogger(),
			})

			results, err := processor.ProcessBlocks(context.Background(), blocks)
			if err != nil {
				return fmt.Errorf("failed to process blocks: %w", err)
			}

			out := c.App.Writer
			if c.Bool("summary") {
				return outputJSON(out, finalAggregates(results))
			}

			if code != nil {
				for _, res := range results {
					values, err := runJQ(code, res)
					if err != nil {
						return fmt.Errorf("slot %d: %w", res.Slot(), err)
					}
					for _, v := range values {
						if err := outputJSON(out, v); err != nil {
							return err
						}
					}
				}
				return nil
			}

			if format == "json" {
				return outputJSON(out, results)
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SLOT\tDATE\tTXS\tSKIPPED\tCHANGES\tPRICES\tWALLETS")
			for _, res := range results {
				fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%d\t%d\t%d\n",
					res.Output.Slot,
					res.Output.BlockDate,
					len(res.Output.Transactions),
					res.Output.Skipped.Total(),
					len(res.Output.BalanceChanges),
					len(res.Output.Prices),
					len(res.Aggregates),
				)
			}
			w.Flush()

			fmt.Fprintf(c.App.ErrWriter, "\nTotal: %d blocks\n", len(results))
			return nil
		},
	}
}

// fetchCommand prints one block from the RPC node in the format process reads.
func fetchCommand() *cli.Command {
	return &cli.Command{
		Name:  "fetch",
		Usage: "Fetch a block from Solana RPC and print it as JSON",
		Flags: []cli.Flag{
			&cli.Uint64Flag{
				Name:     "slot",
				Aliases:  []string{"s"},
				Usage:    "Slot to fetch",
				Required: true,
			},
		},
		Action: func(c *cli.Context) error {
			rpcURL := c.String("solana-rpc-url")
			if rpcURL == "" {
				return fmt.Errorf("solana-rpc-url is required (set SOLANA_RPC_URL env var or use --solana-rpc-url)")
			}

			client := solana.NewClient(solana.NewRPCClient(rpcURL), "cli", nil, cliLogger())
			block, err := client.GetBlock(context.Background(), c.Uint64("slot"))
			if err != nil {
				if errors.Is(err, solana.ErrSlotSkipped) {
					return fmt.Errorf("slot %d has no block", c.Uint64("slot"))
				}
				return err
			}
			return outputJSON(c.App.Writer, block)
		},
	}
}

// readBlocks decodes every block in paths. No paths, or "-", reads stdin.
func readBlocks(stdin io.Reader, paths []string) ([]*solana.Block, error) {
	if len(paths) == 0 {
		paths = []string{"-"}
	}

	var blocks []*solana.Block
	for _, path := range paths {
		r := stdin
		if path != "-" {
			f, err := os.Open(path)
			if err != nil {
				return nil, fmt.Errorf("failed to open %s: %w", path, err)
			}
			defer f.Close()
			r = f
		}

		decoded, err := solana.DecodeBlocksJSON(r)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		blocks = append(blocks, decoded...)
	}
	return blocks, nil
}

// finalAggregates keeps the latest aggregates of each wallet, in order of first appearance.
func finalAggregates(results []*pipeline.BlockResult) []aggregate.WalletAggregates {
	var order []string
	latest := make(map[string]aggregate.WalletAggregates)
	for _, res := range results {
		for _, agg := range res.Aggregates {
			prev, seen := latest[agg.Wallet]
			if !seen {
				order = append(order, agg.Wallet)
				prev = aggregate.WalletAggregates{Wallet: agg.Wallet, MonthlyTradingVolumeUSD: map[string]float64{}}
			}
			latest[agg.Wallet] = aggregate.Merge(prev, agg)
		}
	}

	out := make([]aggregate.WalletAggregates, 0, len(order))
	for _, wallet := range order {
		out = append(out, latest[wallet])
	}
	return out
}

func compileJQ(expr string) (*gojq.Code, error) {
	query, err := gojq.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse jq filter %q: %w", expr, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("failed to compile jq filter %q: %w", expr, err)
	}
	return code, nil
}

// runJQ evaluates code against the JSON form of v and collects every output.
func runJQ(code *gojq.Code, v any) ([]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal input: %w", err)
	}
	var input any
	if err := json.Unmarshal(raw, &input); err != nil {
		return nil, fmt.Errorf("failed to unmarshal input: %w", err)
	}

	var out []any
	iter := code.Run(input)
	for {
		v, ok := iter.Next()
		if !ok {
			return out, nil
		}
		if err, isErr := v.(error); isErr {
			return nil, fmt.Errorf("jq filter error: %w", err)
		}
		out = append(out, v)
	}
}

// cliLogger only reports errors so stdout stays machine readable.
func cliLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}
