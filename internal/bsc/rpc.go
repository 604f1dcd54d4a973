// Package bsc talks to BNB Smart Chain nodes: JSON-RPC calls for blocks,
// reserves and token metadata, and websocket log subscriptions for pair swaps.
package bsc

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"dex-candles/internal/domain"
)

// RPCClient defines the node calls the decoder and market lookups need.
type RPCClient interface {
	// BlockTimestamp returns the block's Unix timestamp in seconds.
	BlockTimestamp(ctx context.Context, number uint64) (int64, error)

	// GetReserves calls getReserves on a pair contract.
	GetReserves(ctx context.Context, pair common.Address) (*Reserves, error)

	// ResolvePair reads token0, token1 and their symbols and decimals.
	ResolvePair(ctx context.Context, pair common.Address) (*domain.TradingPair, error)
}
