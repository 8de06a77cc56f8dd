// Package rpcutil holds the shared blockchain-RPC plumbing used by the pair
// resolver, the block-range fetcher, and the trade controller: Multicall3
// batching, a bounded block-header cache, and gas-price lookups.
package rpcutil

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/lattice-trading/dexstrat/internal/dex"
)

// aggregate3 from Multicall3: function aggregate3((address,bool,bytes)[])
// returns ((bool,bytes)[]).
const aggregate3ABI = `[{"inputs":[{"components":[{"name":"target","type":"address"},{"name":"allowFailure","type":"bool"},{"name":"callData","type":"bytes"}],"name":"calls","type":"tuple[]"}],"name":"aggregate3","outputs":[{"components":[{"name":"success","type":"bool"},{"name":"returnData","type":"bytes"}],"name":"returnData","type":"tuple[]"}],"stateMutability":"payable","type":"function"}]`

// MaxBatchSize is the maximum number of calls aggregated into a single
// Multicall3 invocation.
const MaxBatchSize = 1000

// Call3 is one aggregated read-only call.
type Call3 struct {
	Target       common.Address
	AllowFailure bool
	CallData     []byte
}

// Result3 is the outcome of one Call3.
type Result3 struct {
	Success    bool
	ReturnData []byte
}

// Multicall3Client batches eth_call invocations through the well-known
// Multicall3 contract.
type Multicall3Client struct {
	eth     *ethclient.Client
	address common.Address
	abi     abi.ABI
}

// NewMulticall3Client constructs a client bound to address (defaults to
// dex.Multicall3Address when the zero address is given).
func NewMulticall3Client(eth *ethclient.Client, address common.Address) (*Multicall3Client, error) {
	parsed, err := abi.JSON(newJSONReader(aggregate3ABI))
	if err != nil {
		return nil, fmt.Errorf("rpcutil: parsing multicall3 abi: %w", err)
	}
	if address == (common.Address{}) {
		address = dex.Multicall3Address
	}
	return &Multicall3Client{eth: eth, address: address, abi: parsed}, nil
}

// Aggregate executes calls in batches of at most MaxBatchSize, failing the
// whole operation if any chunk's eth_call fails; remaining chunks are not
// attempted.
func (m *Multicall3Client) Aggregate(ctx context.Context, calls []Call3) ([]Result3, error) {
	results := make([]Result3, 0, len(calls))
	for start := 0; start < len(calls); start += MaxBatchSize {
		end := start + MaxBatchSize
		if end > len(calls) {
			end = len(calls)
		}
		chunk, err := m.aggregateChunk(ctx, calls[start:end])
		if err != nil {
			return nil, fmt.Errorf("rpcutil: multicall chunk [%d:%d]: %w", start, end, err)
		}
		results = append(results, chunk...)
	}
	return results, nil
}

func (m *Multicall3Client) aggregateChunk(ctx context.Context, calls []Call3) ([]Result3, error) {
	type rawCall struct {
		Target       common.Address
		AllowFailure bool
		CallData     []byte
	}
	raw := make([]rawCall, len(calls))
	for i, c := range calls {
		raw[i] = rawCall{Target: c.Target, AllowFailure: c.AllowFailure, CallData: c.CallData}
	}

	packed, err := m.abi.Pack("aggregate3", raw)
	if err != nil {
		return nil, fmt.Errorf("packing aggregate3: %w", err)
	}

	out, err := m.eth.CallContract(ctx, callMsg(m.address, packed), nil)
	if err != nil {
		return nil, fmt.Errorf("calling multicall3: %w", err)
	}

	unpacked, err := m.abi.Unpack("aggregate3", out)
	if err != nil {
		return nil, fmt.Errorf("unpacking aggregate3 result: %w", err)
	}
	if len(unpacked) != 1 {
		return nil, fmt.Errorf("unexpected aggregate3 result shape")
	}

	// The tuple[] output comes back as a slice of an anonymous
	// reflect-generated struct; ConvertType copies it field-by-field into
	// our named Result3 (a direct type assertion would never match).
	results := *abi.ConvertType(unpacked[0], new([]Result3)).(*[]Result3)
	if len(results) != len(calls) {
		return nil, fmt.Errorf("aggregate3 returned %d results for %d calls", len(results), len(calls))
	}
	return results, nil
}
