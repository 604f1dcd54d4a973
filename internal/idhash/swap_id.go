// Package idhash derives deterministic identifiers for archived records.
package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
)

// GeneratedPrefix marks a swap id computed here rather than taken from a chain.
const GeneratedPrefix = "gen-"

// ComputeSwapID computes a deterministic tx id for a swap that carries none.
// Formula: "gen-" + SHA256(pair_id|source|timestamp_ms|price|volume|log_index)
// The same swap delivered twice gets the same id, so the archive keeps one copy.
func ComputeSwapID(
	pairID string,
	source string,
	timestampMs int64,
	price float64,
	volume float64,
	logIndex int,
) string {
	data := fmt.Sprintf("%s|%s|%d|%s|%s|%d",
		pairID,
		source,
		timestampMs,
		strconv.FormatFloat(price, 'g', -1, 64),
		strconv.FormatFloat(volume, 'g', -1, 64),
		logIndex,
	)

	hash := sha256.Sum256([]byte(data))
	return GeneratedPrefix + hex.EncodeToString(hash[:])
}
