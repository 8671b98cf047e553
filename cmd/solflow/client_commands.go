package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/brojonat/solflow/client"
	"github.com/gorilla/websocket"
	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"
)

func clientCommands() *cli.Command {
	return &cli.Command{
		Name:  "client",
		Usage: "HTTP client commands for interacting with the query API",
		Subcommands: []*cli.Command{
			clientAggregatesCommand(),
			clientChangesCommand(),
			clientPricesCommand(),
			clientBackfillCommand(),
			watchCommand(),
		},
	}
}

func newAPIClient(c *cli.Context) (*client.Client, error) {
	serverURL := c.String("server-url")
	if serverURL == "" {
		return nil, fmt.Errorf("server-url is required (set SERVER_URL env var or use --server-url)")
	}
	return client.NewClient(strings.TrimRight(serverURL, "/"), nil, cliLogger()), nil
}

func clientAggregatesCommand() *cli.Command {
	return &cli.Command{
		Name:      "aggregates",
		Usage:     "Get a wallet's aggregates",
		ArgsUsage: "WALLET_ADDRESS",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("wallet address is required")
			}
			cl, err := newAPIClient(c)
			if err != nil {
				return err
			}

			aggs, err := cl.GetAggregates(context.Background(), c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to get aggregates: %w", err)
			}
			return outputJSON(c.App.Writer, aggs)
		},
	}
}

func clientChangesCommand() *cli.Command {
	return &cli.Command{
		Name:      "changes",
		Usage:     "List a wallet's balance changes",
		ArgsUsage: "WALLET_ADDRESS",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Limit number of balance changes (0 uses the server default)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("wallet address is required")
			}
			cl, err := newAPIClient(c)
			if err != nil {
				return err
			}

			changes, err := cl.ListBalanceChanges(context.Background(), c.Args().First(), c.Int("limit"))
			if err != nil {
				return fmt.Errorf("failed to list balance changes: %w", err)
			}
			return outputJSON(c.App.Writer, changes)
		},
	}
}

func clientPricesCommand() *cli.Command {
	return &cli.Command{
		Name:  "prices",
		Usage: "List latest prices, or one mint's price",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "mint",
				Aliases: []string{"m"},
				Usage:   "Only show this mint",
			},
		},
		Action: func(c *cli.Context) error {
			cl, err := newAPIClient(c)
			if err != nil {
				return err
			}

			ctx := context.Background()
			if mint := c.String("mint"); mint != "" {
				price, err := cl.GetPrice(ctx, mint)
				if err != nil {
					return fmt.Errorf("failed to get price: %w", err)
				}
				return outputJSON(c.App.Writer, price)
			}

			prices, err := cl.ListPrices(ctx)
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
			return w.Flush()
		},
	}
}

func clientBackfillCommand() *cli.Command {
	return &cli.Command{
		Name:  "backfill",
		Usage: "Ask the server to process an inclusive slot range",
		Flags: []cli.Flag{
			&cli.Uint64Flag{
				Name:     "start",
				Usage:    "First slot",
				Required: true,
			},
			&cli.Uint64Flag{
				Name:     "end",
				Usage:    "Last slot",
				Required: true,
			},
		},
		Action: func(c *cli.Context) error {
			cl, err := newAPIClient(c)
			if err != nil {
				return err
			}

			bf, err := cl.StartBackfill(context.Background(), c.Uint64("start"), c.Uint64("end"))
			if err != nil {
				return fmt.Errorf("failed to start backfill: %w", err)
			}
			return outputJSON(c.App.Writer, bf)
		},
	}
}

// watchCommand follows a wallet over the websocket endpoint.
func watchCommand() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "Stream a wallet's aggregate updates over websocket",
		ArgsUsage: "WALLET_ADDRESS",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "must-jq",
				Usage:   "jq filter expression that must evaluate to true (can be specified multiple times, all must match)",
				Aliases: []string{"jq"},
			},
			&cli.BoolFlag{
				Name:  "once",
				Usage: "Exit after the first matching event",
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Usage:   "Give up after this long (0 waits forever)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("wallet address is required")
			}
			wsURL, err := walletWebsocketURL(c.String("server-url"), c.Args().First())
			if err != nil {
				return err
			}

			filters := make([]*gojq.Code, 0, len(c.StringSlice("must-jq")))
			for _, expr := range c.StringSlice("must-jq") {
				code, err := compileJQ(expr)
				if err != nil {
					return err
				}
				filters = append(filters, code)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if timeout := c.Duration("timeout"); timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
			if err != nil {
				return fmt.Errorf("failed to connect to %s: %w", wsURL, err)
			}
			defer conn.Close()

			go func() {
				<-ctx.Done()
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(time.Second))
				conn.Close()
			}()

			fmt.Fprintf(c.App.ErrWriter, "Watching wallet %s... (Ctrl-C to exit)\n", c.Args().First())
			for {
				var msg struct {
					Type string          `json:"type"`
					Data json.RawMessage `json:"data"`
				}
				if err := conn.ReadJSON(&msg); err != nil {
					if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
						return nil
					}
					return fmt.Errorf("connection lost: %w", err)
				}
				if msg.Type == "connected" {
					continue
				}

				var event any
				if err := json.Unmarshal(msg.Data, &event); err != nil {
					return fmt.Errorf("invalid event: %w", err)
				}
				if !matchesAll(filters, event) {
					continue
				}
				if err := outputJSON(c.App.Writer, event); err != nil {
					return err
				}
				if c.Bool("once") {
					return nil
				}
			}
		},
	}
}

// walletWebsocketURL maps the HTTP server URL to the wallet websocket endpoint.
func walletWebsocketURL(serverURL, wallet string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid server url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/v1/ws/wallets/" + url.PathEscape(wallet)
	return u.String(), nil
}

// matchesAll reports whether every filter yields a truthy first result.
func matchesAll(filters []*gojq.Code, event any) bool {
	for _, code := range filters {
		v, ok := code.Run(event).Next()
		if !ok {
			return false
		}
		if _, isErr := v.(error); isErr {
			return false
		}
		if !isTruthy(v) {
			return false
		}
	}
	return true
}

// isTruthy checks if a jq result value is truthy.
// In jq, false and null are falsy, everything else is truthy.
func isTruthy(v any) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return true
}
