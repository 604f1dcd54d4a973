// Package market looks up the current price and market cap of a pair.
package market

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"dex-candles/internal/bsc"
	"dex-candles/internal/domain"
	"dex-candles/internal/storage"
)

// Source returns a Quote for a pair address.
// Failures wrap domain.ErrUpstreamUnavailable.
type Source interface {
	Quote(ctx context.Context, pair string) (domain.Quote, error)
}

// ChainSource prices a pair from its on-chain reserves. The market cap is the
// pair's pooled liquidity as last reported by the subgraph.
type ChainSource struct {
	rpc   bsc.RPCClient
	pairs storage.PairStore
	now   func() time.Time
}

// NewChainSource creates a ChainSource.
func NewChainSource(rpc bsc.RPCClient, pairs storage.PairStore) *ChainSource {
	return &ChainSource{rpc: rpc, pairs: pairs, now: time.Now}
}

var _ Source = (*ChainSource)(nil)

// Quote reads getReserves for the pair. Unknown pairs are resolved through
// the node and registered.
func (s *ChainSource) Quote(ctx context.Context, pair string) (domain.Quote, error) {
	addr := strings.ToLower(pair)
	if !common.IsHexAddress(addr) {
		return domain.Quote{}, fmt.Errorf("pair %q: %w", pair, domain.ErrInvalidInput)
	}

	p, err := s.pairs.GetByAddress(ctx, addr)
	if errors.Is(err, storage.ErrNotFound) {
		p, err = s.rpc.ResolvePair(ctx, common.HexToAddress(addr))
		if err == nil {
			if uerr := s.pairs.Upsert(ctx, p); uerr != nil {
				return domain.Quote{}, fmt.Errorf("register pair: %w", uerr)
			}
		}
	}
	if err != nil {
		return domain.Quote{}, fmt.Errorf("pair %s: %v: %w", addr, err, domain.ErrUpstreamUnavailable)
	}

	reserves, err := s.rpc.GetReserves(ctx, common.HexToAddress(addr))
	if err != nil {
		return domain.Quote{}, fmt.Errorf("reserves %s: %v: %w", addr, err, domain.ErrUpstreamUnavailable)
	}

	return domain.Quote{
		Price:     bsc.ReservePrice(reserves, p.Token0Decimals, p.Token1Decimals),
		MarketCap: p.ReserveUSD,
		FetchedAt: s.now().UnixMilli(),
	}, nil
}

// RegistrySource quotes from the pair registry alone: no price, market cap
// from the stored reserveUSD. It serves deployments without a node endpoint.
type RegistrySource struct {
	pairs storage.PairStore
}

// NewRegistrySource creates a RegistrySource.
func NewRegistrySource(pairs storage.PairStore) *RegistrySource {
	return &RegistrySource{pairs: pairs}
}

var _ Source = (*RegistrySource)(nil)

func (s *RegistrySource) Quote(ctx context.Context, pair string) (domain.Quote, error) {
	p, err := s.pairs.GetByAddress(ctx, strings.ToLower(pair))
	if err != nil {
		return domain.Quote{}, fmt.Errorf("pair %s: %v: %w", pair, err, domain.ErrUpstreamUnavailable)
	}
	return domain.Quote{MarketCap: p.ReserveUSD, FetchedAt: p.UpdatedAt}, nil
}
