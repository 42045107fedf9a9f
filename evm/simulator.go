// Package evm runs calls through the go-ethereum interpreter against a fork
// session.
package evm

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core"
	etherTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/params"
	"github.com/sirupsen/logrus"
	"github.com/theneverse/fork-kit/ledger"
	"github.com/theneverse/fork-kit/tokens"
)

const DefaultGasLimit uint64 = 30_000_000

// DefaultCoinbase is the beneficiary of simulated blocks.
var DefaultCoinbase = common.HexToAddress("0xDecafC0FFEe15BAD000000000000000000000000")

// Simulator executes calls against a fork session.
type Simulator struct {
	session      Session
	chainConfig  *params.ChainConfig
	coinbase     common.Address
	gasLimit     uint64
	balanceCheck bool
	tokens       *tokens.Registry
	vmConfig     vm.Config
	logger       logrus.FieldLogger
}

type SimulatorOption func(*Simulator)

func WithChainConfig(config *params.ChainConfig) SimulatorOption {
	return func(s *Simulator) {
		s.chainConfig = config
	}
}

func WithCoinbase(coinbase common.Address) SimulatorOption {
	return func(s *Simulator) {
		s.coinbase = coinbase
	}
}

// WithGasLimit sets the gas limit of calls that do not carry their own.
func WithGasLimit(gas uint64) SimulatorOption {
	return func(s *Simulator) {
		s.gasLimit = gas
	}
}

// WithBalanceCheck enables the caller balance check. When disabled the caller
// is credited whatever the call value requires.
func WithBalanceCheck(enabled bool) SimulatorOption {
	return func(s *Simulator) {
		s.balanceCheck = enabled
	}
}

// WithTokens sets the token table used by FundToken and TokenBalance.
func WithTokens(registry *tokens.Registry) SimulatorOption {
	return func(s *Simulator) {
		s.tokens = registry
	}
}

// WithVMConfig sets the interpreter configuration, e.g. a tracer.
func WithVMConfig(config vm.Config) SimulatorOption {
	return func(s *Simulator) {
		s.vmConfig = config
	}
}

func WithLogger(logger logrus.FieldLogger) SimulatorOption {
	return func(s *Simulator) {
		s.logger = logger
	}
}

func NewSimulator(session Session, opts ...SimulatorOption) *Simulator {
	s := &Simulator{
		session:     session,
		chainConfig: params.MainnetChainConfig,
		coinbase:    DefaultCoinbase,
		tokens:      tokens.Mainnet(),
		logger:      logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.gasLimit == 0 {
		s.gasLimit = session.Block().GasLimit
	}
	if s.gasLimit == 0 {
		s.gasLimit = DefaultGasLimit
	}
	return s
}

// Tokens returns the token table of the simulator.
func (s *Simulator) Tokens() *tokens.Registry {
	return s.tokens
}

// Call executes p on a fresh view of the session. In committing mode the
// resulting state deltas are pushed into the session, so later views observe
// them. Remote fetch failures and invalid transactions are returned as errors;
// execution failures are reported in the Result.
func (s *Simulator) Call(p *Params) (*Result, error) {
	block := s.session.Block()
	statedb := ledger.New(s.session.NewView(), s.logger)

	value := p.value()
	if !s.balanceCheck {
		if balance := statedb.GetBalance(p.Caller); balance.Cmp(value) < 0 {
			statedb.AddBalance(p.Caller, new(big.Int).Sub(value, balance))
		}
	}

	gasLimit := p.GasLimit
	if gasLimit == 0 {
		gasLimit = s.gasLimit
	}
	blockGasLimit := block.GasLimit
	if blockGasLimit < gasLimit {
		blockGasLimit = gasLimit
	}
	difficulty := new(big.Int)
	if block.Difficulty != nil {
		difficulty.Set(block.Difficulty)
	}
	blockCtx := vm.BlockContext{
		CanTransfer: core.CanTransfer,
		Transfer:    core.Transfer,
		GetHash:     statedb.BlockHash,
		Coinbase:    s.coinbase,
		GasLimit:    blockGasLimit,
		BlockNumber: new(big.Int).Set(block.Number),
		Time:        new(big.Int).SetUint64(block.Time),
		Difficulty:  difficulty,
		BaseFee:     new(big.Int),
	}

	to := p.TransactTo
	msg := etherTypes.NewMessage(
		p.Caller,
		&to,
		statedb.GetNonce(p.Caller),
		value,
		gasLimit,
		new(big.Int),
		new(big.Int),
		new(big.Int),
		p.CallData,
		nil,
		false,
	)
	statedb.Prepare(common.Hash{}, 0)
	evm := vm.NewEVM(blockCtx, core.NewEVMTxContext(msg), statedb, s.chainConfig, s.vmConfig)

	logger := s.logger.WithFields(logrus.Fields{
		"from":   p.Caller.Hex(),
		"to":     to.Hex(),
		"value":  value,
		"commit": p.ApplyChanges,
	})

	res, err := core.ApplyMessage(evm, msg, new(core.GasPool).AddGas(gasLimit))
	if dbErr := statedb.Error(); dbErr != nil {
		logger.WithField("err", dbErr).Warn("Simulation aborted on state read")
		return nil, dbErr
	}
	if err != nil {
		return nil, fmt.Errorf("apply message: %w", err)
	}

	logs := statedb.Logs()
	for _, log := range logs {
		log.BlockNumber = block.NumberU64()
		log.BlockHash = block.Hash
	}
	changes := statedb.Changes()
	if dbErr := statedb.Error(); dbErr != nil {
		return nil, dbErr
	}
	result := &Result{
		Reverted: errors.Is(res.Err, vm.ErrExecutionReverted),
		Err:      res.Err,
		Logs:     logs,
		GasUsed:  res.UsedGas,
		Output:   res.ReturnData,
		Changes:  changes,
	}
	if p.ApplyChanges {
		s.session.Commit(changes)
	}

	logger.WithFields(logrus.Fields{
		"gas":      result.GasUsed,
		"reverted": result.Reverted,
		"logs":     len(result.Logs),
	}).Debug("Simulated call")
	return result, nil
}
