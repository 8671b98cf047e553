package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	natspkg "github.com/brojonat/solflow/service/nats"
	"github.com/urfave/cli/v2"
)

// subscribeCommand streams ledger events from NATS until interrupted.
func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:  "subscribe",
		Usage: "Subscribe to ledger events",
		Description: `Subscribe to events published to the ledger JetStream stream.

By default every wallet update is printed. Use --wallet for one wallet,
--blocks for block summaries or --prices for discovered prices.

Example:
  solflow nats subscribe --wallet 9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM --json`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "wallet",
				Aliases: []string{"w"},
				Usage:   "Only show updates for this wallet",
			},
			&cli.BoolFlag{
				Name:  "blocks",
				Usage: "Show block summaries",
			},
			&cli.BoolFlag{
				Name:  "prices",
				Usage: "Show discovered prices",
			},
		},
		Action: func(c *cli.Context) error {
			subject, err := subscribeSubject(c.String("wallet"), c.Bool("blocks"), c.Bool("prices"))
			if err != nil {
				return err
			}

			natsURL := c.String("nats-url")
			if natsURL == "" {
				return fmt.Errorf("nats-url is required (set NATS_URL env var or use --nats-url)")
			}

			subscriber, err := natspkg.NewSubscriber(natsURL, cliLogger())
			if err != nil {
				return err
			}
			defer subscriber.Close()

			jsonOutput := c.Bool("json")
			if !jsonOutput {
				fmt.Fprintf(c.App.ErrWriter, "📡 Subscribing to: %s\n   NATS: %s\n\nWaiting for events... (Ctrl-C to exit)\n\n", subject, natsURL)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var (
				mu    sync.Mutex
				count int
			)
			err = subscriber.Subscribe(ctx, subject, func(msg natspkg.Message) {
				mu.Lock()
				defer mu.Unlock()
				count++
				if err := printMessage(c.App.Writer, msg, jsonOutput); err != nil {
					fmt.Fprintf(c.App.ErrWriter, "Error parsing event: %v\n", err)
				}
			})
			if err != nil {
				return err
			}

			if !jsonOutput {
				mu.Lock()
				fmt.Fprintf(c.App.ErrWriter, "\n✅ Received %d events\n", count)
				mu.Unlock()
			}
			return nil
		},
	}
}

func subscribeSubject(wallet string, blocks, prices bool) (string, error) {
	set := 0
	for _, on := range []bool{wallet != "", blocks, prices} {
		if on {
			set++
		}
	}
	if set > 1 {
		return "", fmt.Errorf("--wallet, --blocks and --prices are mutually exclusive")
	}

	switch {
	case wallet != "":
		return natspkg.WalletSubject(wallet), nil
	case blocks:
		return natspkg.BlocksSubject, nil
	case prices:
		return natspkg.AllPricesSubject, nil
	}
	return natspkg.AllWalletsSubject, nil
}

// printMessage writes one event, either as a JSON line or in a short human form.
func printMessage(w io.Writer, msg natspkg.Message, jsonOutput bool) error {
	if jsonOutput {
		_, err := fmt.Fprintln(w, strings.TrimSpace(string(msg.Data)))
		return err
	}

	switch {
	case msg.Subject == natspkg.BlocksSubject:
		var ev natspkg.BlockEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return err
		}
		op := "applied"
		if ev.Undone {
			op = "undone"
		}
		fmt.Fprintf(w, "block %d %s: %d txs, %d changes, %d prices, %d wallets\n",
			ev.Slot, op, ev.Transactions, ev.BalanceChanges, ev.Prices, ev.Wallets)

	case strings.HasPrefix(msg.Subject, strings.TrimSuffix(natspkg.AllPricesSubject, "*")):
		var ev natspkg.PriceEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return err
		}
		fmt.Fprintf(w, "price %s = $%.6f at slot %d\n", ev.MintAddress, ev.PriceUSD, ev.Slot)

	default:
		var ev natspkg.WalletEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return err
		}
		op := ""
		if ev.Undone {
			op = " (undo)"
		}
		fmt.Fprintf(w, "wallet %s at slot %d%s: volume $%.2f, %d holdings\n",
			ev.Aggregates.Wallet, ev.Slot, op, ev.Aggregates.TotalTradingVolumeUSD, len(ev.Aggregates.Portfolio))
	}
	return nil
}
