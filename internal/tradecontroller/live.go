package tradecontroller

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/lattice-trading/dexstrat/internal/block"
	"github.com/lattice-trading/dexstrat/internal/dex"
)

// receiptTimeout and receiptPoll bound how long a sent transaction is
// awaited for confirmation: one confirmation within 10 seconds.
const receiptTimeout = 10 * time.Second
const receiptPoll = 500 * time.Millisecond

const erc20ABIJSON = `[
	{"inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"name":"approve","outputs":[{"type":"bool"}],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"type":"uint256"}],"stateMutability":"view","type":"function"}
]`

const v2RouterABIJSON = `[
	{"inputs":[{"name":"amountOutMin","type":"uint256"},{"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"name":"swapExactETHForTokens","outputs":[{"name":"amounts","type":"uint256[]"}],"stateMutability":"payable","type":"function"},
	{"inputs":[{"name":"amountIn","type":"uint256"},{"name":"amountOutMin","type":"uint256"},{"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"name":"swapExactTokensForETH","outputs":[{"name":"amounts","type":"uint256[]"}],"stateMutability":"nonpayable","type":"function"}
]`

const v3RouterABIJSON = `[
	{"inputs":[{"components":[{"name":"tokenIn","type":"address"},{"name":"tokenOut","type":"address"},{"name":"fee","type":"uint24"},{"name":"recipient","type":"address"},{"name":"deadline","type":"uint256"},{"name":"amountIn","type":"uint256"},{"name":"amountOutMinimum","type":"uint256"},{"name":"sqrtPriceLimitX96","type":"uint160"}],"name":"params","type":"tuple"}],"name":"exactInputSingle","outputs":[{"name":"amountOut","type":"uint256"}],"stateMutability":"payable","type":"function"}
]`

// Signer holds the wallet key and chain identity used to build and sign
// live transactions, built directly on go-ethereum's signing and
// receipt-waiting primitives.
type Signer struct {
	Eth        *ethclient.Client
	PrivateKey *ecdsa.PrivateKey
	ChainID    *big.Int
	From       common.Address
}

// NewSigner derives the signer's address from privateKey.
func NewSigner(eth *ethclient.Client, privateKey *ecdsa.PrivateKey, chainID *big.Int) *Signer {
	from := crypto.PubkeyToAddress(privateKey.PublicKey)
	return &Signer{Eth: eth, PrivateKey: privateKey, ChainID: chainID, From: from}
}

// sendCall signs and submits an EIP-1559 transaction calling `to` with
// `data` and `value`, returning its hash.
func (s *Signer) sendCall(ctx context.Context, to common.Address, data []byte, value *big.Int) (common.Hash, error) {
	nonce, err := s.Eth.PendingNonceAt(ctx, s.From)
	if err != nil {
		return common.Hash{}, fmt.Errorf("tradecontroller: nonce lookup: %w", err)
	}
	tip, err := s.Eth.SuggestGasTipCap(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("tradecontroller: gas tip suggestion: %w", err)
	}
	head, err := s.Eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, fmt.Errorf("tradecontroller: head header lookup: %w", err)
	}
	feeCap := new(big.Int).Add(tip, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))

	if value == nil {
		value = big.NewInt(0)
	}
	gasLimit, err := s.Eth.EstimateGas(ctx, ethereum.CallMsg{From: s.From, To: &to, Data: data, Value: value})
	if err != nil {
		return common.Hash{}, fmt.Errorf("tradecontroller: gas estimation: %w", err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   s.ChainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &to,
		Value:     value,
		Data:      data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(s.ChainID), s.PrivateKey)
	if err != nil {
		return common.Hash{}, fmt.Errorf("tradecontroller: signing transaction: %w", err)
	}
	if err := s.Eth.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("tradecontroller: sending transaction: %w", err)
	}
	return signed.Hash(), nil
}

// awaitReceipt polls for a transaction receipt until found or
// receiptTimeout elapses.
func (s *Signer) awaitReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, receiptTimeout)
	defer cancel()
	ticker := time.NewTicker(receiptPoll)
	defer ticker.Stop()
	for {
		receipt, err := s.Eth.TransactionReceipt(ctx, txHash)
		if err == nil {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("tradecontroller: tx %s not confirmed within %s: %w", txHash, receiptTimeout, ctx.Err())
		case <-ticker.C:
		}
	}
}

// ensureApproval reads the router's current allowance for token and, if
// short of amount, approves it and waits for the approval to confirm
// before the dependent swap is sent.
func (s *Signer) ensureApproval(ctx context.Context, erc20ABI abi.ABI, token, spender common.Address, amount *big.Int) error {
	callData, err := erc20ABI.Pack("allowance", s.From, spender)
	if err != nil {
		return fmt.Errorf("tradecontroller: packing allowance call: %w", err)
	}
	out, err := s.Eth.CallContract(ctx, ethereum.CallMsg{From: s.From, To: &token, Data: callData}, nil)
	if err != nil {
		return fmt.Errorf("tradecontroller: reading allowance: %w", err)
	}
	unpacked, err := erc20ABI.Unpack("allowance", out)
	if err != nil || len(unpacked) != 1 {
		return fmt.Errorf("tradecontroller: decoding allowance: %w", err)
	}
	current := unpacked[0].(*big.Int)
	if current.Cmp(amount) >= 0 {
		return nil
	}

	approveData, err := erc20ABI.Pack("approve", spender, amount)
	if err != nil {
		return fmt.Errorf("tradecontroller: packing approve call: %w", err)
	}
	txHash, err := s.sendCall(ctx, token, approveData, nil)
	if err != nil {
		return fmt.Errorf("tradecontroller: sending approve: %w", err)
	}
	if _, err := s.awaitReceipt(ctx, txHash); err != nil {
		return fmt.Errorf("tradecontroller: awaiting approve confirmation: %w", err)
	}
	return nil
}

func mustABI(json string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(json))
	if err != nil {
		panic(err)
	}
	return parsed
}

var (
	erc20ABI    = mustABI(erc20ABIJSON)
	v2RouterABI = mustABI(v2RouterABIJSON)
	v3RouterABI = mustABI(v3RouterABIJSON)
)

// LivePendingTx is the PendingTx handle for a transaction sent on-chain: it
// waits for the receipt and reconstructs the trade that occurred from the
// pair's own Swap/Sync logs within it.
type LivePendingTx struct {
	Signer       *Signer
	TxHash       common.Hash
	TokenAddress common.Address
	Pair         dex.Pair
	Op           Operation
	OpenTrade    dex.IndexedTrade
	OpenTx       common.Hash
}

func (p *LivePendingTx) Wait(ctx context.Context) (TradeMetadata, error) {
	receipt, err := p.Signer.awaitReceipt(ctx, p.TxHash)
	if err != nil {
		return TradeMetadata{}, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return TradeMetadata{}, fmt.Errorf("tradecontroller: tx %s reverted", p.TxHash)
	}
	trade, err := parseTradeFromReceipt(receipt, p.Pair)
	if err != nil {
		return TradeMetadata{}, err
	}
	gasFee := new(big.Int).Mul(new(big.Int).SetUint64(receipt.GasUsed), receipt.EffectiveGasPrice)

	head, err := p.Signer.Eth.HeaderByHash(ctx, receipt.BlockHash)
	var ts uint64
	if err == nil {
		ts = head.Time
	}

	return TradeMetadata{
		TxHash:         p.TxHash,
		BlockNumber:    receipt.BlockNumber.Uint64(),
		BlockTimestamp: ts,
		Op:             p.Op,
		OpenTrade:      p.OpenTrade,
		OpenTx:         p.OpenTx,
		TokenAddress:   p.TokenAddress,
		GasFee:         gasFee,
		IndexedTrade:   trade,
	}, nil
}

var (
	syncV2Args = abi.Arguments{{Type: mustType("uint112")}, {Type: mustType("uint112")}}
	swapV2Args = abi.Arguments{{Type: mustType("uint256")}, {Type: mustType("uint256")}, {Type: mustType("uint256")}, {Type: mustType("uint256")}}
	swapV3Args = abi.Arguments{{Type: mustType("int256")}, {Type: mustType("int256")}, {Type: mustType("uint160")}, {Type: mustType("uint128")}, {Type: mustType("int24")}}
)

func mustType(name string) abi.Type {
	t, err := abi.NewType(name, "", nil)
	if err != nil {
		panic(err)
	}
	return t
}

// parseTradeFromReceipt scans a confirmed transaction's logs for the given
// pair's own Swap(+Sync) event and reconstructs the resulting IndexedTrade,
// matching topics the same way the block assembler does for historical
// blocks, but scoped to the single pair this transaction traded
// against rather than resolving arbitrary pool addresses.
func parseTradeFromReceipt(receipt *types.Receipt, pair dex.Pair) (dex.IndexedTrade, error) {
	logs := receipt.Logs
	for i, lg := range logs {
		if lg.Address != pair.Address() || len(lg.Topics) == 0 {
			continue
		}
		switch p := pair.(type) {
		case *dex.ConstantProductPair:
			if lg.Topics[0] != block.TopicSwapV2 {
				continue
			}
			if i == 0 || len(logs[i-1].Topics) == 0 || logs[i-1].Topics[0] != block.TopicSyncV2 || logs[i-1].Address != lg.Address {
				continue
			}
			reserves, err := syncV2Args.Unpack(logs[i-1].Data)
			if err != nil {
				return nil, fmt.Errorf("tradecontroller: decoding sync from receipt: %w", err)
			}
			swapArgs, err := swapV2Args.Unpack(lg.Data)
			if err != nil {
				return nil, fmt.Errorf("tradecontroller: decoding swap from receipt: %w", err)
			}
			if len(lg.Topics) < 3 {
				continue
			}
			maker := common.HexToAddress(lg.Topics[2].Hex())
			return dex.NewConstantProductTrade(p, maker,
				swapArgs[0].(*big.Int), swapArgs[1].(*big.Int),
				swapArgs[2].(*big.Int), swapArgs[3].(*big.Int),
				reserves[0].(*big.Int), reserves[1].(*big.Int)), nil
		case *dex.ConcentratedPair:
			if lg.Topics[0] != block.TopicSwapV3 {
				continue
			}
			args, err := swapV3Args.Unpack(lg.Data)
			if err != nil {
				return nil, fmt.Errorf("tradecontroller: decoding swap from receipt: %w", err)
			}
			if len(lg.Topics) < 3 {
				continue
			}
			maker := common.HexToAddress(lg.Topics[2].Hex())
			return dex.NewConcentratedTrade(p, maker, args[0].(*big.Int), args[1].(*big.Int), args[2].(*big.Int), args[3].(*big.Int)), nil
		}
	}
	return nil, fmt.Errorf("tradecontroller: no trade for pool %s in tx receipt", pair.Address())
}

// swapDeadlineWindow bounds how far in the future a router swap's deadline
// is set past the current chain head time.
const swapDeadlineWindow = 120 * time.Second

func (s *Signer) deadline(ctx context.Context) (*big.Int, error) {
	head, err := s.Eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("tradecontroller: head header lookup: %w", err)
	}
	return new(big.Int).SetUint64(head.Time + uint64(swapDeadlineWindow.Seconds())), nil
}

// LiveConstantProductOpen sends a live swapExactETHForTokens against a
// constant-product pool, opening a position.
type LiveConstantProductOpen struct {
	Signer        *Signer
	Pair          *dex.ConstantProductPair
	RouterAddress common.Address
	AmountInWei   *big.Int
	AmountOutMin  *big.Int
}

func (r *LiveConstantProductOpen) TokenAddress() common.Address { return r.Pair.BaseToken() }

// Trace is a no-op: constant-product opens carry no pre-flight validation
// beyond what the router itself enforces.
func (r *LiveConstantProductOpen) Trace(context.Context) error { return nil }

func (r *LiveConstantProductOpen) Simulate(context.Context) (TradeMetadata, error) {
	return TradeMetadata{}, fmt.Errorf("tradecontroller: Simulate called on a live request")
}

func (r *LiveConstantProductOpen) Send(ctx context.Context) (PendingTx, error) {
	deadline, err := r.Signer.deadline(ctx)
	if err != nil {
		return nil, err
	}
	path := []common.Address{r.Pair.QuoteToken(), r.Pair.BaseToken()}
	data, err := v2RouterABI.Pack("swapExactETHForTokens", r.AmountOutMin, path, r.Signer.From, deadline)
	if err != nil {
		return nil, fmt.Errorf("tradecontroller: packing swapExactETHForTokens: %w", err)
	}
	txHash, err := r.Signer.sendCall(ctx, r.RouterAddress, data, r.AmountInWei)
	if err != nil {
		return nil, err
	}
	return &LivePendingTx{Signer: r.Signer, TxHash: txHash, TokenAddress: r.TokenAddress(), Pair: r.Pair, Op: OpOpen}, nil
}

// LiveConstantProductClose sends a live swapExactTokensForETH, closing a
// previously opened constant-product position.
type LiveConstantProductClose struct {
	Signer          *Signer
	Pair            *dex.ConstantProductPair
	RouterAddress   common.Address
	AmountInWei     *big.Int
	AmountOutMin    *big.Int
	OpenTradeRecord dex.IndexedTrade
	OpenTxHash      common.Hash
}

func (r *LiveConstantProductClose) TokenAddress() common.Address { return r.Pair.BaseToken() }
func (r *LiveConstantProductClose) OpenTrade() dex.IndexedTrade { return r.OpenTradeRecord }
func (r *LiveConstantProductClose) OpenTx() common.Hash { return r.OpenTxHash }
func (r *LiveConstantProductClose) Trace(context.Context) error { return nil }

func (r *LiveConstantProductClose) Simulate(context.Context) (TradeMetadata, error) {
	return TradeMetadata{}, fmt.Errorf("tradecontroller: Simulate called on a live request")
}

func (r *LiveConstantProductClose) Send(ctx context.Context) (PendingTx, error) {
	if err := r.Signer.ensureApproval(ctx, erc20ABI, r.Pair.BaseToken(), r.RouterAddress, r.AmountInWei); err != nil {
		return nil, err
	}
	deadline, err := r.Signer.deadline(ctx)
	if err != nil {
		return nil, err
	}
	path := []common.Address{r.Pair.BaseToken(), r.Pair.QuoteToken()}
	data, err := v2RouterABI.Pack("swapExactTokensForETH", r.AmountInWei, r.AmountOutMin, path, r.Signer.From, deadline)
	if err != nil {
		return nil, fmt.Errorf("tradecontroller: packing swapExactTokensForETH: %w", err)
	}
	txHash, err := r.Signer.sendCall(ctx, r.RouterAddress, data, nil)
	if err != nil {
		return nil, err
	}
	return &LivePendingTx{
		Signer: r.Signer, TxHash: txHash, TokenAddress: r.TokenAddress(), Pair: r.Pair, Op: OpClose,
		OpenTrade: r.OpenTradeRecord, OpenTx: r.OpenTxHash,
	}, nil
}

// LiveConcentratedOpen/LiveConcentratedClose mirror the constant-product
// requests above but route through the v3 exactInputSingle entry point.
type LiveConcentratedOpen struct {
	Signer        *Signer
	Pair          *dex.ConcentratedPair
	RouterAddress common.Address
	AmountInWei   *big.Int
	AmountOutMin  *big.Int
}

func (r *LiveConcentratedOpen) TokenAddress() common.Address { return r.Pair.BaseToken() }
func (r *LiveConcentratedOpen) Trace(context.Context) error { return nil }

func (r *LiveConcentratedOpen) Simulate(context.Context) (TradeMetadata, error) {
	return TradeMetadata{}, fmt.Errorf("tradecontroller: Simulate called on a live request")
}

func (r *LiveConcentratedOpen) Send(ctx context.Context) (PendingTx, error) {
	deadline, err := r.Signer.deadline(ctx)
	if err != nil {
		return nil, err
	}
	type exactInputSingleParams struct {
		TokenIn           common.Address
		TokenOut          common.Address
		Fee               *big.Int
		Recipient         common.Address
		Deadline          *big.Int
		AmountIn          *big.Int
		AmountOutMinimum  *big.Int
		SqrtPriceLimitX96 *big.Int
	}
	data, err := v3RouterABI.Pack("exactInputSingle", exactInputSingleParams{
		TokenIn: r.Pair.QuoteToken(), TokenOut: r.Pair.BaseToken(),
		Fee: new(big.Int).SetUint64(uint64(r.Pair.FeeBps())), Recipient: r.Signer.From,
		Deadline: deadline, AmountIn: r.AmountInWei, AmountOutMinimum: r.AmountOutMin,
		SqrtPriceLimitX96: big.NewInt(0),
	})
	if err != nil {
		return nil, fmt.Errorf("tradecontroller: packing exactInputSingle: %w", err)
	}
	txHash, err := r.Signer.sendCall(ctx, r.RouterAddress, data, r.AmountInWei)
	if err != nil {
		return nil, err
	}
	return &LivePendingTx{Signer: r.Signer, TxHash: txHash, TokenAddress: r.TokenAddress(), Pair: r.Pair, Op: OpOpen}, nil
}

type LiveConcentratedClose struct {
	Signer          *Signer
	Pair            *dex.ConcentratedPair
	RouterAddress   common.Address
	AmountInWei     *big.Int
	AmountOutMin    *big.Int
	OpenTradeRecord dex.IndexedTrade
	OpenTxHash      common.Hash
}

func (r *LiveConcentratedClose) TokenAddress() common.Address { return r.Pair.BaseToken() }
func (r *LiveConcentratedClose) OpenTrade() dex.IndexedTrade { return r.OpenTradeRecord }
func (r *LiveConcentratedClose) OpenTx() common.Hash { return r.OpenTxHash }
func (r *LiveConcentratedClose) Trace(context.Context) error { return nil }

func (r *LiveConcentratedClose) Simulate(context.Context) (TradeMetadata, error) {
	return TradeMetadata{}, fmt.Errorf("tradecontroller: Simulate called on a live request")
}

func (r *LiveConcentratedClose) Send(ctx context.Context) (PendingTx, error) {
	if err := r.Signer.ensureApproval(ctx, erc20ABI, r.Pair.BaseToken(), r.RouterAddress, r.AmountInWei); err != nil {
		return nil, err
	}
	deadline, err := r.Signer.deadline(ctx)
	if err != nil {
		return nil, err
	}
	type exactInputSingleParams struct {
		TokenIn           common.Address
		TokenOut          common.Address
		Fee               *big.Int
		Recipient         common.Address
		Deadline          *big.Int
		AmountIn          *big.Int
		AmountOutMinimum  *big.Int
		SqrtPriceLimitX96 *big.Int
	}
	data, err := v3RouterABI.Pack("exactInputSingle", exactInputSingleParams{
		TokenIn: r.Pair.BaseToken(), TokenOut: r.Pair.QuoteToken(),
		Fee: new(big.Int).SetUint64(uint64(r.Pair.FeeBps())), Recipient: r.Signer.From,
		Deadline: deadline, AmountIn: r.AmountInWei, AmountOutMinimum: r.AmountOutMin,
		SqrtPriceLimitX96: big.NewInt(0),
	})
	if err != nil {
		return nil, fmt.Errorf("tradecontroller: packing exactInputSingle: %w", err)
	}
	txHash, err := r.Signer.sendCall(ctx, r.RouterAddress, data, nil)
	if err != nil {
		return nil, err
	}
	return &LivePendingTx{
		Signer: r.Signer, TxHash: txHash, TokenAddress: r.TokenAddress(), Pair: r.Pair, Op: OpClose,
		OpenTrade: r.OpenTradeRecord, OpenTx: r.OpenTxHash,
	}, nil
}
