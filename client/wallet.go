package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// ErrNotFound is returned when the server has no record of the wallet or mint.
var ErrNotFound = errors.New("not found")

// Holding is one mint held by a wallet, valued at the latest known price.
type Holding struct {
	Mint     string  `json:"mint"`
	Amount   float64 `json:"amount"`
	ValueUSD float64 `json:"value_usd"`
}

// Aggregates is a wallet's trading volume and portfolio as of Slot.
type Aggregates struct {
	Wallet                  string             `json:"wallet"`
	TotalTradingVolumeUSD   float64            `json:"total_trading_volume_usd"`
	MonthlyTradingVolumeUSD map[string]float64 `json:"monthly_trading_volume_usd"`
	Portfolio               []Holding          `json:"portfolio"`
	Slot                    uint64             `json:"slot"`
	UpdatedAt               time.Time          `json:"updated_at"`
}

// BalanceChange is one owner/mint balance movement within a transaction.
type BalanceChange struct {
	BlockDate    string  `json:"block_date"`
	BlockTime    int64   `json:"block_time"`
	BlockSlot    uint64  `json:"block_slot"`
	TxID         string  `json:"tx_id"`
	Owner        string  `json:"owner"`
	Mint         string  `json:"mint"`
	ChangeAmount float64 `json:"change_amount"`
	NewBalance   float64 `json:"new_balance"`
	Decimals     uint8   `json:"decimals"`
	ChangeType   string  `json:"change_type"`
	NetworkFee   uint64  `json:"network_fee"`
}

// Price is the USD price of a mint discovered at Slot.
type Price struct {
	MintAddress string  `json:"mint_address"`
	PriceUSD    float64 `json:"price_usd"`
	Slot        uint64  `json:"slot"`
}

// Backfill identifies a started backfill workflow.
type Backfill struct {
	WorkflowID string `json:"workflow_id"`
	RunID      string `json:"run_id"`
	StartSlot  uint64 `json:"start_slot"`
	EndSlot    uint64 `json:"end_slot"`
}

// Client is the HTTP client for the solflow query API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new query API client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// GetAggregates retrieves a wallet's aggregates.
func (c *Client) GetAggregates(ctx context.Context, wallet string) (*Aggregates, error) {
	u := fmt.Sprintf("%s/api/v1/wallets/%s/aggregates", c.baseURL, url.PathEscape(wallet))

	var out Aggregates
	if err := c.get(ctx, u, &out); err != nil {
		return nil, err
	}

	c.logger.Debug("aggregates retrieved", "wallet", wallet, "slot", out.Slot)
	return &out, nil
}

// ListBalanceChanges retrieves a wallet's balance changes, newest first.
// A limit of zero uses the server default.
func (c *Client) ListBalanceChanges(ctx context.Context, wallet string, limit int) ([]BalanceChange, error) {
	u := fmt.Sprintf("%s/api/v1/wallets/%s/balance-changes", c.baseURL, url.PathEscape(wallet))
	if limit > 0 {
		u += "?limit=" + strconv.Itoa(limit)
	}

	var response struct {
		BalanceChanges []BalanceChange `json:"balance_changes"`
	}
	if err := c.get(ctx, u, &response); err != nil {
		return nil, err
	}

	c.logger.Debug("balance changes listed", "wallet", wallet, "count", len(response.BalanceChanges))
	return response.BalanceChanges, nil
}

// GetPrice retrieves the latest price of a mint.
func (c *Client) GetPrice(ctx context.Context, mint string) (*Price, error) {
	u := fmt.Sprintf("%s/api/v1/prices/%s", c.baseURL, url.PathEscape(mint))

	var out Price
	if err := c.get(ctx, u, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListPrices retrieves the latest price of every known mint.
func (c *Client) ListPrices(ctx context.Context) ([]Price, error) {
	var response struct {
		Prices []Price `json:"prices"`
	}
	if err := c.get(ctx, c.baseURL+"/api/v1/prices", &response); err != nil {
		return nil, err
	}
	return response.Prices, nil
}

// StartBackfill asks the server to process an inclusive slot range.
func (c *Client) StartBackfill(ctx context.Context, startSlot, endSlot uint64) (*Backfill, error) {
	body, err := json.Marshal(map[string]uint64{
		"start_slot": startSlot,
		"end_slot":   endSlot,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/v1/backfill", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return nil, c.parseErrorResponse(resp)
	}

	var out Backfill
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	c.logger.Debug("backfill started", "workflow_id", out.WorkflowID, "start_slot", startSlot, "end_slot", endSlot)
	return &out, nil
}

func (c *Client) get(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", errResp.Error, ErrNotFound)
	}
	return fmt.Errorf("request failed: %s", errResp.Error)
}
