package config

import (
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/lattice-trading/dexstrat/internal/barstore"
	"github.com/lattice-trading/dexstrat/internal/dex"
)

// StrategyFile represents the entire configuration structure from strategy.yml
type StrategyFile struct {
	Contracts        map[string]ContractYAMLData `yaml:"contracts"`
	StrategyYAMLData StrategyYAMLData            `yaml:"strategy"`
}

// ContractYAMLData represents a single contract configuration from YAML
type ContractYAMLData struct {
	Address string `yaml:"address"`
}

type StrategyYAMLData struct {
	Resolution     string `yaml:"resolution"`
	RetentionCount int    `yaml:"retentionCount"`
	ReportBuffer   int    `yaml:"reportBuffer"`
}

// StrategyConfig is the parsed, validated strategy configuration, with
// contract addresses defaulted to the well-known deployments when the file
// (or an entry in it) is absent.
type StrategyConfig struct {
	Resolution     barstore.Resolution
	RetentionCount int
	ReportBuffer   int

	V2RouterAddress  common.Address
	V3RouterAddress  common.Address
	V3QuoterAddress  common.Address
	V3FactoryAddress common.Address
	MulticallAddress common.Address
}

// DefaultStrategyConfig is the configuration used when no strategy.yml is
// present: 5-minute bars, a day of retention, well-known contract addresses.
func DefaultStrategyConfig() *StrategyConfig {
	return &StrategyConfig{
		Resolution:       barstore.Resolution5Min,
		RetentionCount:   288,
		ReportBuffer:     16,
		V2RouterAddress:  dex.UniswapV2RouterAddress,
		V3RouterAddress:  dex.UniswapV3RouterAddress,
		V3QuoterAddress:  dex.UniswapV3QuoterAddress,
		V3FactoryAddress: dex.UniswapV3FactoryAddress,
		MulticallAddress: dex.Multicall3Address,
	}
}

// LoadStrategyConfig reads and parses path into a StrategyConfig. A missing
// file is not an error; it yields DefaultStrategyConfig.
func LoadStrategyConfig(path string) (*StrategyConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultStrategyConfig(), nil
		}
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var file StrategyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return file.toStrategyConfig()
}

func (f *StrategyFile) toStrategyConfig() (*StrategyConfig, error) {
	cfg := DefaultStrategyConfig()

	if f.StrategyYAMLData.Resolution != "" {
		resolution, err := barstore.ParseResolution(f.StrategyYAMLData.Resolution)
		if err != nil {
			return nil, fmt.Errorf("config: strategy resolution: %w", err)
		}
		cfg.Resolution = resolution
	}
	if f.StrategyYAMLData.RetentionCount > 0 {
		cfg.RetentionCount = f.StrategyYAMLData.RetentionCount
	}
	if f.StrategyYAMLData.ReportBuffer > 0 {
		cfg.ReportBuffer = f.StrategyYAMLData.ReportBuffer
	}

	for name, data := range f.Contracts {
		if !common.IsHexAddress(data.Address) {
			return nil, fmt.Errorf("config: contract %q has invalid address %q", name, data.Address)
		}
		addr := common.HexToAddress(data.Address)
		switch name {
		case "v2_router":
			cfg.V2RouterAddress = addr
		case "v3_router":
			cfg.V3RouterAddress = addr
		case "v3_quoter":
			cfg.V3QuoterAddress = addr
		case "v3_factory":
			cfg.V3FactoryAddress = addr
		case "multicall3":
			cfg.MulticallAddress = addr
		default:
			return nil, fmt.Errorf("config: unknown contract %q", name)
		}
	}
	return cfg, nil
}
