package domain

// SwapEvent is a normalized trade on a pair, the unit of input for aggregation.
// Price is quote per base, Volume is in base token units.
type SwapEvent struct {
	PairID      string  `json:"pairId"`      // pair contract address, lowercase hex
	TimestampMs int64   `json:"timestampMs"` // Unix timestamp in milliseconds
	Price       float64 `json:"price"`       // quote per base
	Volume      float64 `json:"volume"`      // base token amount

	// Provenance, optional. Used as the archive dedup key.
	TxHash      string `json:"txHash,omitempty"`
	LogIndex    int    `json:"logIndex,omitempty"`
	BlockNumber int64  `json:"blockNumber,omitempty"`
	Source      string `json:"source,omitempty"`
}

// Event source identifiers.
const (
	SourceBSC       = "bsc"
	SourceKafka     = "kafka"
	SourceSimulated = "simulated"
	SourceSubgraph  = "subgraph"
)
