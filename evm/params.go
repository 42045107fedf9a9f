package evm

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	etherTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/theneverse/fork-kit/types"
)

// Params is the pending configuration of one simulated call.
type Params struct {
	Caller       common.Address
	TransactTo   common.Address
	CallData     []byte
	Value        *big.Int
	ApplyChanges bool

	// GasLimit of the call, zero uses the simulator default
	GasLimit uint64
}

func NewParams(caller, to common.Address, data []byte) *Params {
	return &Params{
		Caller:     caller,
		TransactTo: to,
		CallData:   common.CopyBytes(data),
		Value:      new(big.Int),
	}
}

func (p *Params) SetCaller(caller common.Address) {
	p.Caller = caller
}

func (p *Params) SetTransactTo(to common.Address) {
	p.TransactTo = to
}

func (p *Params) SetCallData(data []byte) {
	p.CallData = common.CopyBytes(data)
}

func (p *Params) SetValue(value *big.Int) {
	p.Value = new(big.Int).Set(value)
}

// SetApplyChanges selects committing (true) or preview (false) mode.
func (p *Params) SetApplyChanges(apply bool) {
	p.ApplyChanges = apply
}

func (p *Params) SetGasLimit(gas uint64) {
	p.GasLimit = gas
}

func (p *Params) value() *big.Int {
	if p.Value == nil {
		return new(big.Int)
	}
	return p.Value
}

// Result reports the outcome of a simulated call.
type Result struct {
	// Reverted is set when execution ended in REVERT
	Reverted bool

	// Err is the vm error that stopped execution, nil on success
	Err error

	Logs    []*etherTypes.Log
	GasUsed uint64
	Output  []byte

	// Changes are the state deltas of the call, committed or not
	Changes types.ChangeSet
}

// Failed reports whether execution did not succeed.
func (r *Result) Failed() bool {
	return r.Err != nil
}

// RevertReason decodes the Error(string) payload of a reverted call.
func (r *Result) RevertReason() (string, error) {
	if !r.Reverted {
		return "", errors.New("call not reverted")
	}
	return abi.UnpackRevert(r.Output)
}
