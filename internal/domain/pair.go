package domain

// TradingPair describes a DEX pair contract.
// Corresponds to the pairs table in PostgreSQL.
type TradingPair struct {
	Address        string  `json:"address" yaml:"address"`               // pair contract, lowercase hex
	Token0         string  `json:"token0" yaml:"token0"`                 // base token address
	Token1         string  `json:"token1" yaml:"token1"`                 // quote token address
	Token0Symbol   string  `json:"token0Symbol" yaml:"token0Symbol"`     // e.g. "WBNB"
	Token1Symbol   string  `json:"token1Symbol" yaml:"token1Symbol"`     // e.g. "BUSD"
	Token0Decimals int32   `json:"token0Decimals" yaml:"token0Decimals"` // ERC-20 decimals
	Token1Decimals int32   `json:"token1Decimals" yaml:"token1Decimals"` // ERC-20 decimals
	VolumeUSD      float64 `json:"volumeUSD" yaml:"volumeUSD"`           // lifetime volume from subgraph
	ReserveUSD     float64 `json:"reserveUSD" yaml:"reserveUSD"`         // pooled liquidity from subgraph
	UpdatedAt      int64   `json:"updatedAt,omitempty" yaml:"-"`         // ms
}

// PairStats summarizes a merged series.
type PairStats struct {
	LastPrice float64 `json:"lastPrice"`
	Change24h float64 `json:"change24h"` // percent
	Volume24h float64 `json:"volume24h"`
	MarketCap float64 `json:"marketCap"` // 0 when unknown
}

// Quote is externally sourced market data for a pair.
// Price is nil when no fresh price is available.
type Quote struct {
	Price     *float64 `json:"price,omitempty"`
	MarketCap float64  `json:"marketCap"`
	FetchedAt int64    `json:"fetchedAt"` // ms
}
