// Package dex implements the pair and indexed-trade primitives shared by the
// constant-product and concentrated-liquidity AMM variants: token identity,
// trade-amount encoding, price-before/price-after queries, and gas
// estimates. Rather than mirroring a DexPair/DexPairInput trait-plus-enum
// split, each concrete variant below implements the Pair interface directly;
// downstream code type-switches once at the boundary (block assembly, trade
// simulation) and never again.
package dex

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Pair identifies an on-chain liquidity pool and exposes the operations the
// rest of the pipeline needs regardless of AMM flavor.
type Pair interface {
	// Address is the pool contract address; it is the pair's identity.
	Address() common.Address
	// Token0 and Token1 are the pool's two constituent tokens, in on-chain
	// sorted order.
	Token0() common.Address
	Token1() common.Address
	// QuoteToken returns WETH (or whichever token was validated as the
	// quote side at resolution time).
	QuoteToken() common.Address
	// BaseToken returns the non-quote token.
	BaseToken() common.Address
	// QuoteIsToken0 reports whether Token0 is the quote side; this decides
	// whether a raw reserve ratio must be inverted to express
	// quote-per-base price.
	QuoteIsToken0() bool
	// GasEstimateUnits is the fixed gas estimate used for simulated trades
	// against this pair.
	GasEstimateUnits() uint64
}

// ConstantProductPair is a Uniswap-v2-style pool: price is implied by
// reserves, x*y=k.
type ConstantProductPair struct {
	address common.Address
	token0  common.Address
	token1  common.Address
	quote0  bool
}

// NewConstantProductPair validates that exactly one of token0/token1 equals
// quote and constructs the pair.
func NewConstantProductPair(address, token0, token1, quote common.Address) (*ConstantProductPair, error) {
	quote0 := token0 == quote
	quote1 := token1 == quote
	if quote0 == quote1 {
		return nil, fmt.Errorf("dex: pair %s must have exactly one quote-token side", address)
	}
	return &ConstantProductPair{address: address, token0: token0, token1: token1, quote0: quote0}, nil
}

func (p *ConstantProductPair) Address() common.Address { return p.address }
func (p *ConstantProductPair) Token0() common.Address { return p.token0 }
func (p *ConstantProductPair) Token1() common.Address { return p.token1 }
func (p *ConstantProductPair) QuoteIsToken0() bool { return p.quote0 }
func (p *ConstantProductPair) GasEstimateUnits() uint64 { return FixedGasEstimateUnits }

func (p *ConstantProductPair) QuoteToken() common.Address {
	if p.quote0 {
		return p.token0
	}
	return p.token1
}

func (p *ConstantProductPair) BaseToken() common.Address {
	if p.quote0 {
		return p.token1
	}
	return p.token0
}

// ConcentratedPair is a Uniswap-v3-style pool: price is implied by
// sqrtPriceX96 and per-tick liquidity, with an explicit fee tier.
type ConcentratedPair struct {
	address common.Address
	token0  common.Address
	token1  common.Address
	feeBps  uint32
	quote0  bool
}

// NewConcentratedPair validates that exactly one of token0/token1 equals
// quote and constructs the pair.
func NewConcentratedPair(address, token0, token1, quote common.Address, feeBps uint32) (*ConcentratedPair, error) {
	quote0 := token0 == quote
	quote1 := token1 == quote
	if quote0 == quote1 {
		return nil, fmt.Errorf("dex: pair %s must have exactly one quote-token side", address)
	}
	return &ConcentratedPair{address: address, token0: token0, token1: token1, feeBps: feeBps, quote0: quote0}, nil
}

func (p *ConcentratedPair) Address() common.Address { return p.address }
func (p *ConcentratedPair) Token0() common.Address { return p.token0 }
func (p *ConcentratedPair) Token1() common.Address { return p.token1 }
func (p *ConcentratedPair) QuoteIsToken0() bool { return p.quote0 }
func (p *ConcentratedPair) GasEstimateUnits() uint64 { return FixedGasEstimateUnits }
func (p *ConcentratedPair) FeeBps() uint32 { return p.feeBps }

func (p *ConcentratedPair) QuoteToken() common.Address {
	if p.quote0 {
		return p.token0
	}
	return p.token1
}

func (p *ConcentratedPair) BaseToken() common.Address {
	if p.quote0 {
		return p.token1
	}
	return p.token0
}
