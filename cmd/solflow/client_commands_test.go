package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/itchyny/gojq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientAggregatesCommand(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/wallets/"+walletA+"/aggregates", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"wallet":                   walletA,
			"total_trading_volume_usd": 100,
			"slot":                     101,
		})
	}))
	defer server.Close()

	out, err := runApp(t, nil, "--server-url", server.URL+"/", "client", "aggregates", walletA)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, walletA, got["wallet"])
	assert.Equal(t, 100.0, got["total_trading_volume_usd"])
}

func TestClientPricesCommand_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "price not found"})
	}))
	defer server.Close()

	_, err := runApp(t, nil, "--server-url", server.URL, "client", "prices", "--mint", "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "price not found")
}

func TestClientBackfillCommand(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
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

	out, err := runApp(t, nil, "--server-url", server.URL, "client", "backfill", "--start", "100", "--end", "200")
	require.NoError(t, err)
	assert.Contains(t, out, "solflow-backfill-100-200")
}

func TestWalletWebsocketURL(t *testing.T) {
	tests := []struct {
		server  string
		want    string
		wantErr bool
	}{
		{server: "http://localhost:8080", want: "ws://localhost:8080/api/v1/ws/wallets/" + walletA},
		{server: "https://ledger.example.com/", want: "wss://ledger.example.com/api/v1/ws/wallets/" + walletA},
		{server: "https://example.com/solflow", want: "wss://example.com/solflow/api/v1/ws/wallets/" + walletA},
		{server: "ftp://example.com", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.server, func(t *testing.T) {
			got, err := walletWebsocketURL(tt.server, walletA)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatchesAll(t *testing.T) {
	event := map[string]any{
		"slot":   101.0,
		"undone": false,
		"aggregates": map[string]any{
			"wallet":                   walletA,
			"total_trading_volume_usd": 150.0,
		},
	}

	tests := []struct {
		name    string
		filters []string
		want    bool
	}{
		{name: "no filters", want: true},
		{name: "volume threshold", filters: []string{".aggregates.total_trading_volume_usd > 100"}, want: true},
		{name: "volume below threshold", filters: []string{".aggregates.total_trading_volume_usd > 200"}, want: false},
		{name: "all must match", filters: []string{".slot == 101", ".undone"}, want: false},
		{name: "null is falsy", filters: []string{".missing"}, want: false},
		{name: "string is truthy", filters: []string{".aggregates.wallet"}, want: true},
		{name: "runtime error fails", filters: []string{".slot | error"}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var codes []*gojq.Code
			for _, f := range tt.filters {
				code, err := compileJQ(f)
				require.NoError(t, err)
				codes = append(codes, code)
			}
			assert.Equal(t, tt.want, matchesAll(codes, event))
		})
	}
}

func TestWatchCommand_Once(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/ws/wallets/"+walletA, r.URL.Path)
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		send := func(typ, data string) {
			require.NoError(t, conn.WriteJSON(map[string]any{"type": typ, "data": json.RawMessage(data)}))
		}
		send("connected", `{"wallet":"`+walletA+`"}`)
		send("aggregates", `{"slot":100,"aggregates":{"total_trading_volume_usd":50}}`)
		send("aggregates", `{"slot":101,"aggregates":{"total_trading_volume_usd":150}}`)

		// wait for the client to hang up
		conn.ReadMessage()
	}))
	defer server.Close()

	out, err := runApp(t, nil,
		"--server-url", server.URL,
		"client", "watch",
		"--jq", ".aggregates.total_trading_volume_usd > 100",
		"--once",
		"--timeout", "5s",
		walletA,
	)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(out)), &got))
	assert.Equal(t, 101.0, got["slot"])
}

func TestWatchCommand_ServerGoingAway(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		conn.WriteJSON(map[string]any{"type": "connected", "data": map[string]string{"wallet": walletA}})
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		conn.ReadMessage()
	}))
	defer server.Close()

	out, err := runApp(t, nil, "--server-url", server.URL, "client", "watch", "--timeout", "5s", walletA)
	require.NoError(t, err)
	assert.Empty(t, out)
}
