// Package config loads the process configuration: RPC endpoint, wallet key,
// contract addresses, the block-range bounds that select live vs backtest
// mode, and logging knobs from the environment (godotenv then os.Getenv),
// plus optional strategy parameters from a YAML file.
package config

import (
	"crypto/ecdsa"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/joho/godotenv"
)

// BlockBound is either a concrete block number or the literal "latest".
type BlockBound struct {
	Latest bool
	Number uint64
}

func parseBlockBound(raw string) (BlockBound, error) {
	if raw == "latest" {
		return BlockBound{Latest: true}, nil
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return BlockBound{}, fmt.Errorf("config: invalid block bound %q: %w", raw, err)
	}
	return BlockBound{Number: n}, nil
}

// Mode is the run mode implied by the start/end block bounds.
type Mode int

const (
	ModeLive Mode = iota
	ModeBacktest
)

// Config is the fully parsed, validated environment configuration.
type Config struct {
	RPCURL            string
	DBPath            string
	WalletPrivateKey  *ecdsa.PrivateKey
	WalletAddress     common.Address
	WETHAddress       common.Address
	ExecutorAddress   common.Address
	StartBlockID      BlockBound
	EndBlockID        BlockBound
	Mode              Mode
	LogFilter         string
	LogDir            string
	TracingSpanEvents bool
}

// Load reads a .env file if present (missing is not an error, matching
// godotenv's typical local-dev use), then parses and validates every
// required variable.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: loading %s: %w", envFile, err)
		}
	}

	rpcURL := os.Getenv("RPC_URL")
	if rpcURL == "" {
		return nil, fmt.Errorf("config: RPC_URL is required")
	}
	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		return nil, fmt.Errorf("config: DB_PATH is required")
	}

	pkHex := strings.TrimPrefix(os.Getenv("WALLET_PRIVATE_KEY"), "0x")
	if pkHex == "" {
		return nil, fmt.Errorf("config: WALLET_PRIVATE_KEY is required")
	}
	privateKey, err := crypto.HexToECDSA(pkHex)
	if err != nil {
		return nil, fmt.Errorf("config: parsing WALLET_PRIVATE_KEY: %w", err)
	}

	wethRaw := os.Getenv("WETH_ADDRESS")
	if wethRaw == "" {
		return nil, fmt.Errorf("config: WETH_ADDRESS is required")
	}
	executorRaw := os.Getenv("EXECUTOR_ADDRESS")
	if executorRaw == "" {
		return nil, fmt.Errorf("config: EXECUTOR_ADDRESS is required")
	}

	startRaw := os.Getenv("START_BLOCK_ID")
	endRaw := os.Getenv("END_BLOCK_ID")
	if startRaw == "" || endRaw == "" {
		return nil, fmt.Errorf("config: START_BLOCK_ID and END_BLOCK_ID are required")
	}
	start, err := parseBlockBound(startRaw)
	if err != nil {
		return nil, fmt.Errorf("config: START_BLOCK_ID: %w", err)
	}
	end, err := parseBlockBound(endRaw)
	if err != nil {
		return nil, fmt.Errorf("config: END_BLOCK_ID: %w", err)
	}

	var mode Mode
	switch {
	case start.Latest && end.Latest:
		mode = ModeLive
	case start.Latest || end.Latest:
		return nil, fmt.Errorf("config: START_BLOCK_ID and END_BLOCK_ID must both be \"latest\" or both be integers")
	default:
		if start.Number >= end.Number {
			return nil, fmt.Errorf("config: backtest mode requires START_BLOCK_ID < END_BLOCK_ID, got %d >= %d", start.Number, end.Number)
		}
		mode = ModeBacktest
	}

	tracingRaw := os.Getenv("TRACING_SPAN_EVENTS")
	tracing := false
	if tracingRaw != "" {
		tracing, err = strconv.ParseBool(tracingRaw)
		if err != nil {
			return nil, fmt.Errorf("config: invalid TRACING_SPAN_EVENTS %q: %w", tracingRaw, err)
		}
	}

	return &Config{
		RPCURL:            rpcURL,
		DBPath:            dbPath,
		WalletPrivateKey:  privateKey,
		WalletAddress:     crypto.PubkeyToAddress(privateKey.PublicKey),
		WETHAddress:       common.HexToAddress(wethRaw),
		ExecutorAddress:   common.HexToAddress(executorRaw),
		StartBlockID:      start,
		EndBlockID:        end,
		Mode:              mode,
		LogFilter:         os.Getenv("RUST_LOG"),
		LogDir:            os.Getenv("LOG_DIR"),
		TracingSpanEvents: tracing,
	}, nil
}
