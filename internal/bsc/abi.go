package bsc

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// UniswapV2-compatible pair ABI, the subset PancakeSwap V2 pairs expose that we use.
const pairABIJSON = `[
	{"anonymous":false,"type":"event","name":"Swap","inputs":[
		{"indexed":true,"name":"sender","type":"address"},
		{"indexed":false,"name":"amount0In","type":"uint256"},
		{"indexed":false,"name":"amount1In","type":"uint256"},
		{"indexed":false,"name":"amount0Out","type":"uint256"},
		{"indexed":false,"name":"amount1Out","type":"uint256"},
		{"indexed":true,"name":"to","type":"address"}]},
	{"type":"function","name":"getReserves","stateMutability":"view","inputs":[],"outputs":[
		{"name":"reserve0","type":"uint112"},
		{"name":"reserve1","type":"uint112"},
		{"name":"blockTimestampLast","type":"uint32"}]},
	{"type":"function","name":"token0","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"token1","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]}
]`

const erc20ABIJSON = `[
	{"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]}
]`

const factoryABIJSON = `[
	{"type":"function","name":"getPair","stateMutability":"view","inputs":[
		{"name":"tokenA","type":"address"},
		{"name":"tokenB","type":"address"}],"outputs":[{"name":"pair","type":"address"}]}
]`

var (
	pairABI    = mustParseABI(pairABIJSON)
	erc20ABI   = mustParseABI(erc20ABIJSON)
	factoryABI = mustParseABI(factoryABIJSON)

	// SwapTopic is topic[0] of the pair Swap event.
	SwapTopic = crypto.Keccak256Hash([]byte("Swap(address,uint256,uint256,uint256,uint256,address)"))
)

func mustParseABI(js string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(js))
	if err != nil {
		panic(fmt.Sprintf("parse abi: %v", err))
	}
	return parsed
}

// SwapAmounts are the raw (unscaled) amounts of one Swap log.
type SwapAmounts struct {
	Amount0In  *big.Int
	Amount1In  *big.Int
	Amount0Out *big.Int
	Amount1Out *big.Int
}

// UnpackSwap decodes the non-indexed data of a Swap log.
func UnpackSwap(data []byte) (*SwapAmounts, error) {
	values, err := pairABI.Unpack("Swap", data)
	if err != nil {
		return nil, fmt.Errorf("unpack swap: %w", err)
	}
	if len(values) != 4 {
		return nil, fmt.Errorf("unpack swap: got %d values, want 4", len(values))
	}
	out := make([]*big.Int, 4)
	for i, v := range values {
		n, ok := v.(*big.Int)
		if !ok {
			return nil, fmt.Errorf("unpack swap: value %d is %T", i, v)
		}
		out[i] = n
	}
	return &SwapAmounts{
		Amount0In:  out[0],
		Amount1In:  out[1],
		Amount0Out: out[2],
		Amount1Out: out[3],
	}, nil
}

// PackSwap encodes Swap log data. Used by fakes and tests.
func PackSwap(a SwapAmounts) ([]byte, error) {
	return pairABI.Events["Swap"].Inputs.NonIndexed().Pack(a.Amount0In, a.Amount1In, a.Amount0Out, a.Amount1Out)
}

// Reserves is the decoded getReserves result.
type Reserves struct {
	Reserve0           *big.Int
	Reserve1           *big.Int
	BlockTimestampLast uint32
}

func unpackReserves(data []byte) (*Reserves, error) {
	values, err := pairABI.Unpack("getReserves", data)
	if err != nil {
		return nil, fmt.Errorf("unpack getReserves: %w", err)
	}
	if len(values) != 3 {
		return nil, fmt.Errorf("unpack getReserves: got %d values, want 3", len(values))
	}
	r0, ok0 := values[0].(*big.Int)
	r1, ok1 := values[1].(*big.Int)
	ts, ok2 := values[2].(uint32)
	if !ok0 || !ok1 || !ok2 {
		return nil, fmt.Errorf("unpack getReserves: unexpected types %T %T %T", values[0], values[1], values[2])
	}
	return &Reserves{Reserve0: r0, Reserve1: r1, BlockTimestampLast: ts}, nil
}

func unpackAddress(contract abi.ABI, method string, data []byte) (common.Address, error) {
	values, err := contract.Unpack(method, data)
	if err != nil {
		return common.Address{}, fmt.Errorf("unpack %s: %w", method, err)
	}
	addr, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("unpack %s: value is %T", method, values[0])
	}
	return addr, nil
}
