package bsc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/core/types"

	"dex-candles/internal/domain"
	"dex-candles/internal/storage"
)

const blockCacheSize = 1024

// Decoder turns Swap logs into normalized SwapEvents. Pair decimals come from
// the registry; unknown pairs are resolved over RPC and stored.
type Decoder struct {
	rpc   RPCClient
	pairs storage.PairStore

	mu         sync.Mutex
	blockTimes map[uint64]int64 // block number -> unix seconds
	order      []uint64         // insertion order for eviction
}

// NewDecoder creates a Decoder.
func NewDecoder(rpc RPCClient, pairs storage.PairStore) *Decoder {
	return &Decoder{
		rpc:        rpc,
		pairs:      pairs,
		blockTimes: make(map[uint64]int64),
	}
}

// Decode converts one log. Unusable logs return an error wrapping
// domain.ErrTransientStreamFault; RPC failures wrap their own cause.
func (d *Decoder) Decode(ctx context.Context, lg types.Log) (domain.SwapEvent, error) {
	if lg.Removed {
		return domain.SwapEvent{}, fmt.Errorf("log removed by reorg: %w", domain.ErrTransientStreamFault)
	}
	if len(lg.Topics) == 0 || lg.Topics[0] != SwapTopic {
		return domain.SwapEvent{}, fmt.Errorf("not a swap log: %w", domain.ErrTransientStreamFault)
	}

	amounts, err := UnpackSwap(lg.Data)
	if err != nil {
		return domain.SwapEvent{}, fmt.Errorf("%v: %w", err, domain.ErrTransientStreamFault)
	}

	pair, err := d.pair(ctx, lg)
	if err != nil {
		return domain.SwapEvent{}, err
	}

	price, volume, err := PriceVolume(amounts, pair.Token0Decimals, pair.Token1Decimals)
	if err != nil {
		return domain.SwapEvent{}, err
	}

	ts, err := d.blockTime(ctx, lg.BlockNumber)
	if err != nil {
		return domain.SwapEvent{}, err
	}

	return domain.SwapEvent{
		PairID:      pair.Address,
		TimestampMs: ts * 1000,
		Price:       price,
		Volume:      volume,
		TxHash:      strings.ToLower(lg.TxHash.Hex()),
		LogIndex:    int(lg.Index),
		BlockNumber: int64(lg.BlockNumber),
		Source:      domain.SourceBSC,
	}, nil
}

func (d *Decoder) pair(ctx context.Context, lg types.Log) (*domain.TradingPair, error) {
	address := strings.ToLower(lg.Address.Hex())

	p, err := d.pairs.GetByAddress(ctx, address)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("lookup pair %s: %w", address, err)
	}

	p, err = d.rpc.ResolvePair(ctx, lg.Address)
	if err != nil {
		return nil, fmt.Errorf("resolve pair %s: %w", address, err)
	}
	if err := d.pairs.Upsert(ctx, p); err != nil {
		return nil, fmt.Errorf("store pair %s: %w", address, err)
	}
	return p, nil
}

func (d *Decoder) blockTime(ctx context.Context, number uint64) (int64, error) {
	d.mu.Lock()
	ts, ok := d.blockTimes[number]
	d.mu.Unlock()
	if ok {
		return ts, nil
	}

	ts, err := d.rpc.BlockTimestamp(ctx, number)
	if err != nil {
		return 0, fmt.Errorf("block %d timestamp: %w", number, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.blockTimes[number]; !ok {
		d.blockTimes[number] = ts
		d.order = append(d.order, number)
		if len(d.order) > blockCacheSize {
			delete(d.blockTimes, d.order[0])
			d.order = d.order[1:]
		}
	}
	return ts, nil
}
