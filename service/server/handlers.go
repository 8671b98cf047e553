package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/brojonat/solflow/service/db"
	"github.com/brojonat/solflow/service/temporal"
	solanago "github.com/gagliardetto/solana-go"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB - plenty for a backfill request
	maxAddressLength   = 100     // Solana addresses are 44 chars, give buffer
	defaultListLimit   = 100
	maxListLimit       = 1000
	maxBackfillSlots   = 100_000
)

// handleGetAggregates returns a handler that retrieves a wallet's aggregates.
// GET /api/v1/wallets/{address}/aggregates
func handleGetAggregates(store QueryStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := requestLogger(r, logger)
		address := r.PathValue("address")

		if err := validateAddress(address); err != nil {
			log.Debug("invalid address", "address", address, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		aggs, err := store.GetWalletAggregates(r.Context(), address)
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, "wallet not found", http.StatusNotFound)
			return
		}
		if err != nil {
			log.Error("failed to get wallet aggregates", "address", address, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, aggs, http.StatusOK)
	})
}

// handleListBalanceChanges returns a handler that lists a wallet's balance changes, newest first.
// GET /api/v1/wallets/{address}/balance-changes?limit=N
func handleListBalanceChanges(store QueryStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := requestLogger(r, logger)
		address := r.PathValue("address")

		if err := validateAddress(address); err != nil {
			log.Debug("invalid address", "address", address, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		limit, err := parseLimit(r.URL.Query().Get("limit"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		changes, err := store.ListBalanceChangesByOwner(r.Context(), address, limit)
		if err != nil {
			log.Error("failed to list balance changes", "address", address, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		log.Debug("balance changes listed", "address", address, "count", len(changes))

		writeJSON(w, map[string]any{
			"wallet":          address,
			"balance_changes": changes,
			"count":           len(changes),
			"limit":           limit,
		}, http.StatusOK)
	})
}

// handleListPrices returns a handler that lists the latest price of every mint.
// GET /api/v1/prices
func handleListPrices(store QueryStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		prices, err := store.ListTokenPrices(r.Context())
		if err != nil {
			requestLogger(r, logger).Error("failed to list prices", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, map[string]any{
			"prices": prices,
			"count":  len(prices),
		}, http.StatusOK)
	})
}

// handleGetPrice returns a handler that retrieves the latest price of one mint.
// GET /api/v1/prices/{mint}
func handleGetPrice(store QueryStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := requestLogger(r, logger)
		mint := r.PathValue("mint")

		if err := validateAddress(mint); err != nil {
			log.Debug("invalid mint", "mint", mint, "error", err)
			writeError(w, "invalid mint: "+err.Error(), http.StatusBadRequest)
			return
		}

		price, err := store.GetTokenPrice(r.Context(), mint)
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, "price not found", http.StatusNotFound)
			return
		}
		if err != nil {
			log.Error("failed to get price", "mint", mint, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, price, http.StatusOK)
	})
}

type backfillRequest struct {
	StartSlot uint64 `json:"start_slot"`
	EndSlot   uint64 `json:"end_slot"`
}

// handleBackfill returns a handler that starts a ProcessSlotsWorkflow over a bounded range.
// POST /api/v1/backfill
func handleBackfill(starter BackfillStarter, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := requestLogger(r, logger)

		// Limit request body size to prevent memory exhaustion
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req backfillRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			log.Debug("failed to decode backfill request", "error", err)
			if strings.Contains(err.Error(), "http: request body too large") {
				writeError(w, "request body too large: maximum size is 1MB", http.StatusBadRequest)
				return
			}
			writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
			return
		}

		if err := validateSlotRange(req.StartSlot, req.EndSlot); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		workflowID, runID, err := starter.StartProcessSlots(r.Context(), temporal.ProcessSlotsInput{
			StartSlot: req.StartSlot,
			EndSlot:   req.EndSlot,
		})
		if err != nil {
			log.Error("failed to start backfill", "start_slot", req.StartSlot, "end_slot", req.EndSlot, "error", err)
			writeError(w, "failed to start backfill", http.StatusInternalServerError)
			return
		}

		log.Info("backfill started",
			"workflow_id", workflowID,
			"start_slot", req.StartSlot,
			"end_slot", req.EndSlot,
		)

		writeJSON(w, map[string]any{
			"workflow_id": workflowID,
			"run_id":      runID,
			"start_slot":  req.StartSlot,
			"end_slot":    req.EndSlot,
		}, http.StatusAccepted)
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// validateAddress checks that address is a base58 encoded public key.
func validateAddress(address string) error {
	if address == "" {
		return errorf("address is required")
	}

	if len(address) > maxAddressLength {
		return errorf("address too long: maximum %d characters", maxAddressLength)
	}

	if _, err := solanago.PublicKeyFromBase58(address); err != nil {
		return errorf("invalid address: must be a base58 public key")
	}

	return nil
}

// parseLimit parses a list limit (default 100, max 1000).
func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultListLimit, nil
	}

	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errorf("invalid limit parameter: must be an integer")
	}
	if limit < 1 {
		return 0, errorf("limit must be at least 1")
	}
	if limit > maxListLimit {
		return 0, errorf("limit cannot exceed %d", maxListLimit)
	}
	return limit, nil
}

// validateSlotRange validates an inclusive backfill range.
func validateSlotRange(start, end uint64) error {
	if start == 0 || end == 0 {
		return errorf("start_slot and end_slot are required")
	}

	if end < start {
		return errorf("end_slot must not be before start_slot")
	}

	if end-start+1 > maxBackfillSlots {
		return errorf("range cannot exceed %d slots", maxBackfillSlots)
	}

	return nil
}

// errorf is a helper to format error strings.
func errorf(format string, args ...any) error {
	return &validationError{msg: strings.TrimSpace(fmt.Sprintf(format, args...))}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}
