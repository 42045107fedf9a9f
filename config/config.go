// Package config loads the TOML configuration of a simulation session.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/naoina/toml"
	"github.com/sirupsen/logrus"
	"github.com/theneverse/fork-kit/evm"
	"github.com/theneverse/fork-kit/tokens"
)

// These settings ensure that TOML keys use the same names as Go struct fields.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		return fmt.Errorf("field '%s' is not defined in %s", field, rt.String())
	},
}

// Config describes one simulation session.
type Config struct {
	// RPCURL is the endpoint of the node the fork reads from
	RPCURL string

	// BlockNumber pins the fork, zero selects the latest block
	BlockNumber uint64

	Coinbase     common.Address
	GasLimit     uint64
	BalanceCheck bool
	LogLevel     string

	// Tokens extend the mainnet token table
	Tokens []tokens.Token `toml:",omitempty"`
}

func Default() *Config {
	return &Config{
		RPCURL:   "wss://eth.merkle.io",
		Coinbase: evm.DefaultCoinbase,
		GasLimit: evm.DefaultGasLimit,
		LogLevel: "info",
	}
}

// Load reads the file at path on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(cfg)
	// Add file name to errors that have a line number.
	if _, ok := err.(*toml.LineError); ok {
		err = errors.New(path + ", " + err.Error())
	}
	if err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.RPCURL) == "" {
		return errors.New("rpc url is empty")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	symbols := make(map[string]struct{}, len(c.Tokens))
	for i, t := range c.Tokens {
		if t.Address == (common.Address{}) {
			return fmt.Errorf("token %d (%s): missing address", i, t.Symbol)
		}
		if t.Symbol == "" {
			return fmt.Errorf("token %d (%s): missing symbol", i, t.Address.Hex())
		}
		symbol := strings.ToUpper(t.Symbol)
		if _, ok := symbols[symbol]; ok {
			return fmt.Errorf("token %s: duplicate symbol", t.Symbol)
		}
		symbols[symbol] = struct{}{}
	}
	return nil
}

// Registry returns the mainnet token table extended with the configured tokens.
func (c *Config) Registry() *tokens.Registry {
	registry := tokens.Mainnet()
	for _, t := range c.Tokens {
		registry.Add(t)
	}
	return registry
}

// Logger returns a logger at the configured level.
func (c *Config) Logger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return logger, nil
}

// SimulatorOptions maps the configuration onto simulator options.
func (c *Config) SimulatorOptions(logger logrus.FieldLogger) []evm.SimulatorOption {
	return []evm.SimulatorOption{
		evm.WithCoinbase(c.Coinbase),
		evm.WithGasLimit(c.GasLimit),
		evm.WithBalanceCheck(c.BalanceCheck),
		evm.WithTokens(c.Registry()),
		evm.WithLogger(logger),
	}
}
