package solana

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/solflow/service/metrics"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
)

// ErrSlotSkipped is returned when the cluster produced no block for a slot,
// or the node no longer has it.
var ErrSlotSkipped = errors.New("slot skipped or unavailable")

// JSON-RPC error codes the node returns for slots without a block.
const (
	rpcCodeBlockNotAvailable   = -32004
	rpcCodeSlotSkipped         = -32007
	rpcCodeLongTermStorageMiss = -32009
)

// RPCClient is an interface for the Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real Solana nodes.
type RPCClient interface {
	GetBlock(ctx context.Context, slot uint64, opts *rpc.GetBlockOpts) (*rpc.GetBlockResult, error)
	GetSlot(ctx context.Context, commitment rpc.CommitmentType) (uint64, error)
}

// Client fetches decoded blocks from a Solana RPC node.
// It wraps the RPC client with domain-specific operations.
type Client struct {
	rpc        RPCClient
	logger     *slog.Logger
	metrics    *metrics.Metrics
	endpoint   string // RPC endpoint identifier for metrics (e.g. "mainnet", rpc host)
	commitment rpc.CommitmentType
}

// NewClient creates a new Solana client.
// The endpoint parameter is used for metrics labeling.
// If metrics is nil, no metrics will be recorded.
func NewClient(rpcClient RPCClient, endpoint string, m *metrics.Metrics, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		rpc:        rpcClient,
		logger:     logger.With("component", "solana_client"),
		metrics:    m,
		endpoint:   endpoint,
		commitment: rpc.CommitmentFinalized,
	}
}

// WithCommitment returns a copy of the client using the given commitment level.
func (c *Client) WithCommitment(commitment rpc.CommitmentType) *Client {
	cp := *c
	cp.commitment = commitment
	return &cp
}

// GetBlock fetches the block at slot and converts it to the domain model.
// Slots without a block return ErrSlotSkipped.
func (c *Client) GetBlock(ctx context.Context, slot uint64) (*Block, error) {
	maxVersion := uint64(0)
	rewards := false
	opts := &rpc.GetBlockOpts{
		Encoding:                       solana.EncodingBase64,
		TransactionDetails:             rpc.TransactionDetailsFull,
		Rewards:                        &rewards,
		Commitment:                     c.commitment,
		MaxSupportedTransactionVersion: &maxVersion,
	}

	start := time.Now()
	result, err := c.rpc.GetBlock(ctx, slot, opts)
	duration := time.Since(start).Seconds()

	status := "success"
	if err != nil {
		status = "error"
		if isSkippedSlot(err) {
			status = "skipped"
		}
	}
	if c.metrics != nil {
		c.metrics.RecordRPCCall("getBlock", status, c.endpoint, duration)
	}

	if err != nil {
		if isSkippedSlot(err) {
			c.logger.DebugContext(ctx, "slot has no block", "slot", slot, "error", err)
			return nil, fmt.Errorf("slot %d: %w", slot, ErrSlotSkipped)
		}
		c.logger.ErrorContext(ctx, "failed to get block", "slot", slot, "error", err)
		return nil, fmt.Errorf("failed to get block %d: %w", slot, err)
	}
	if result == nil {
		return nil, fmt.Errorf("slot %d: %w", slot, ErrSlotSkipped)
	}

	block := blockFromResult(slot, result, c.logger)

	c.logger.DebugContext(ctx, "fetched block",
		"slot", slot,
		"transactions", len(block.Transactions),
		"duration_seconds", duration,
	)
	return block, nil
}

// GetLatestSlot returns the newest slot at the client's commitment level.
func (c *Client) GetLatestSlot(ctx context.Context) (uint64, error) {
	start := time.Now()
	slot, err := c.rpc.GetSlot(ctx, c.commitment)
	duration := time.Since(start).Seconds()

	status := "success"
	if err != nil {
		status = "error"
	}
	if c.metrics != nil {
		c.metrics.RecordRPCCall("getSlot", status, c.endpoint, duration)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get slot: %w", err)
	}
	return slot, nil
}

func isSkippedSlot(err error) bool {
	var rpcErr *jsonrpc.RPCError
	if !errors.As(err, &rpcErr) {
		return false
	}
	switch rpcErr.Code {
	case rpcCodeBlockNotAvailable, rpcCodeSlotSkipped, rpcCodeLongTermStorageMiss:
		return true
	}
	return false
}
