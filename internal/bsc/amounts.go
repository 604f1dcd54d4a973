package bsc

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"dex-candles/internal/domain"
)

// Scale converts a raw token amount to whole units.
func Scale(raw *big.Int, decimals int32) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -decimals)
}

// PriceVolume derives a quote-per-base price and base volume from a swap.
// token0 is the base, token1 the quote.
func PriceVolume(a *SwapAmounts, dec0, dec1 int32) (price, volume float64, err error) {
	base := Scale(a.Amount0In, dec0).Add(Scale(a.Amount0Out, dec0))
	quote := Scale(a.Amount1In, dec1).Add(Scale(a.Amount1Out, dec1))

	if base.IsZero() {
		return 0, 0, fmt.Errorf("swap has no base amount: %w", domain.ErrTransientStreamFault)
	}

	price, _ = quote.Div(base).Float64()
	volume, _ = base.Float64()
	return price, volume, nil
}

// ReservePrice returns reserve1/reserve0 in whole units, or nil when the
// pool is empty.
func ReservePrice(r *Reserves, dec0, dec1 int32) *float64 {
	base := Scale(r.Reserve0, dec0)
	if base.IsZero() {
		return nil
	}
	p, _ := Scale(r.Reserve1, dec1).Div(base).Float64()
	return &p
}
