package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testWallet = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
	solMint    = "So11111111111111111111111111111111111111112"
)

func TestGetAggregates_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, "/api/v1/wallets/"+testWallet+"/aggregates", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"wallet":                     testWallet,
			"total_trading_volume_usd":   1250.5,
			"monthly_trading_volume_usd": map[string]float64{"2024-05": 250.5, "2024-06": 1000},
			"portfolio": []map[string]any{
				{"mint": solMint, "amount": 3.5, "value_usd": 525},
			},
			"slot":       277000000,
			"updated_at": "2024-06-01T12:00:00Z",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	aggs, err := client.GetAggregates(context.Background(), testWallet)
	require.NoError(t, err)

	assert.Equal(t, testWallet, aggs.Wallet)
	assert.Equal(t, 1250.5, aggs.TotalTradingVolumeUSD)
	assert.Equal(t, 1000.0, aggs.MonthlyTradingVolumeUSD["2024-06"])
	require.Len(t, aggs.Portfolio, 1)
	assert.Equal(t, Holding{Mint: solMint, Amount: 3.5, ValueUSD: 525}, aggs.Portfolio[0])
	assert.Equal(t, uint64(277000000), aggs.Slot)
	assert.Equal(t, time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC), aggs.UpdatedAt)
}

func TestGetAggregates_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{
			"error": "wallet not found",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	_, err := client.GetAggregates(context.Background(), testWallet)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "wallet not found")
}

func TestListBalanceChanges(t *testing.T) {
	tests := []struct {
		name          string
		limit         int
		expectedQuery string
	}{
		{name: "server default", limit: 0, expectedQuery: ""},
		{name: "explicit limit", limit: 25, expectedQuery: "25"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/v1/wallets/"+testWallet+"/balance-changes", r.URL.Path)
				assert.Equal(t, tt.expectedQuery, r.URL.Query().Get("limit"))

				w.Header().Set("Content-Type", "application/json")
				json.NewEncoder(w).Encode(map[string]any{
					"wallet": testWallet,
					"balance_changes": []map[string]any{
						{
							"block_date":    "2024-06-01",
							"block_slot":    100,
							"tx_id":         "5sig",
							"owner":         testWallet,
							"mint":          solMint,
							"change_amount": -0.25,
							"new_balance":   1.75,
							"decimals":      9,
							"change_type":   "SWAP",
							"network_fee":   5000,
						},
					},
					"count": 1,
					"limit": 100,
				})
			}))
			defer server.Close()

			client := NewClient(server.URL, nil, nil)
			changes, err := client.ListBalanceChanges(context.Background(), testWallet, tt.limit)
			require.NoError(t, err)
			require.Len(t, changes, 1)
			assert.Equal(t, "SWAP", changes[0].ChangeType)
			assert.Equal(t, -0.25, changes[0].ChangeAmount)
			assert.Equal(t, uint64(5000), changes[0].NetworkFee)
			assert.Equal(t, uint8(9), changes[0].Decimals)
		})
	}
}

func TestPrices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/v1/prices":
			json.NewEncoder(w).Encode(map[string]any{
				"prices": []map[string]any{
					{"mint_address": solMint, "price_usd": 150.25, "slot": 10},
				},
				"count": 1,
			})
		case "/api/v1/prices/" + solMint:
			json.NewEncoder(w).Encode(map[string]any{"mint_address": solMint, "price_usd": 150.25, "slot": 10})
		default:
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"error": "price not found"})
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	ctx := context.Background()

	prices, err := client.ListPrices(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Price{{MintAddress: solMint, PriceUSD: 150.25, Slot: 10}}, prices)

	price, err := client.GetPrice(ctx, solMint)
	require.NoError(t, err)
	assert.Equal(t, 150.25, price.PriceUSD)

	_, err = client.GetPrice(ctx, "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStartBackfill(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/v1/backfill", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]uint64
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, uint64(100), body["start_slot"])
		assert.Equal(t, uint64(200), body["end_slot"])

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]any{
			"workflow_id": "solflow-backfill-100-200",
			"run_id":      "run-1",
			"start_slot":  100,
			"end_slot":    200,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	bf, err := client.StartBackfill(context.Background(), 100, 200)
	require.NoError(t, err)
	assert.Equal(t, "solflow-backfill-100-200", bf.WorkflowID)
	assert.Equal(t, "run-1", bf.RunID)
}

func TestStartBackfill_ValidationError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{
			"error": "end_slot must not be before start_slot",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	_, err := client.StartBackfill(context.Background(), 200, 100)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "end_slot must not be before start_slot")
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestParseErrorResponse_NonJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream down"))
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	_, err := client.ListPrices(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
	assert.Contains(t, err.Error(), "upstream down")
}

func TestContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	client := NewClient(server.URL, nil, nil)
	_, err := client.GetAggregates(ctx, testWallet)
	assert.Error(t, err)
}
