package dex

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// AverageBlockTimeSeconds is the estimated time between blocks on the target
// chain, used to interpolate per-block timestamps without fetching every
// header (see the block-range fetcher) and to derive the staleness-pruning
// window in the bar store.
const AverageBlockTimeSeconds = 2

// FixedGasEstimateUnits is the gas unit estimate used for every simulated
// swap, constant-product or concentrated, matching the single fixed estimate
// the execution pipeline uses for backtest gas-fee accounting.
const FixedGasEstimateUnits = 130_000

// PriceImpactCapBps bounds the simulated trade size to a fixed fraction of
// the quote-token reserve.
const PriceImpactCapBps = 50

// MaxTradeSizeWei is the hard ceiling on a single simulated trade's
// quote-token (WETH) input, regardless of how large the pool's reserves are.
var MaxTradeSizeWei = new(big.Int).Mul(big.NewInt(5), big.NewInt(1_000_000_000_000_000_000)) // 5 ETH

// Well-known Base-mainnet contract addresses used as defaults; overridable
// via configuration for other deployments.
var (
	WETHAddress            = common.HexToAddress("0x4200000000000000000000000000000000000006")
	UniswapV2RouterAddress = common.HexToAddress("0x4752ba5DBc23f44D87826276BF6Fd6b1C372aD24")
	UniswapV3QuoterAddress = common.HexToAddress("0x3d4e44Eb1374240CE5F1B871ab261CD16335B76a")
	UniswapV3RouterAddress = common.HexToAddress("0x2626664c2603336E57B271c5C0b26F421741e481")
	UniswapV3FactoryAddress = common.HexToAddress("0x33128a8fC17869897dcE68Ed026d694621f6FDfD")
	Multicall3Address      = common.HexToAddress("0xcA11bde05977b3631167028862bE2a173976CA11")
)
