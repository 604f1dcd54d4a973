package bsc

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// LogSubscriber defines the node websocket subscription interface.
type LogSubscriber interface {
	// SubscribeLogs subscribes to logs matching the filter. The channel is
	// closed when the client is closed.
	SubscribeLogs(ctx context.Context, filter LogsFilter) (<-chan types.Log, error)

	// Close closes the WebSocket connection.
	Close() error
}

// LogsFilter is the eth_subscribe "logs" filter.
type LogsFilter struct {
	Addresses []common.Address
	Topics    [][]common.Hash
}

// SwapFilter matches Swap logs emitted by the given pairs.
func SwapFilter(pairs []common.Address) LogsFilter {
	return LogsFilter{
		Addresses: pairs,
		Topics:    [][]common.Hash{{SwapTopic}},
	}
}

func (f LogsFilter) params() map[string]any {
	p := map[string]any{}
	if len(f.Addresses) > 0 {
		p["address"] = f.Addresses
	}
	if len(f.Topics) > 0 {
		p["topics"] = f.Topics
	}
	return p
}
