package main

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"
	"github.com/theneverse/fork-kit/evm"
	"github.com/urfave/cli/v2"
)

var CallCmd = cli.Command{
	Action: call,
	Name:   "call",
	Usage:  "executes a call on the fork and prints its outcome without committing it",
	Flags: []cli.Flag{
		&fromFlag,
		&toFlag,
		&dataFlag,
		&valueFlag,
		&fundFlag,
	},
}

var (
	fromFlag = cli.StringFlag{
		Name:     "from",
		Usage:    "caller address",
		Required: true,
	}
	toFlag = cli.StringFlag{
		Name:     "to",
		Usage:    "target address",
		Required: true,
	}
	dataFlag = cli.StringFlag{
		Name:  "data",
		Usage: "hex encoded call data",
		Value: "0x",
	}
	valueFlag = cli.StringFlag{
		Name:  "value",
		Usage: "value transferred with the call, in wei",
		Value: "0",
	}
	fundFlag = cli.Uint64Flag{
		Name:  "fund",
		Usage: "sets the caller balance to this many ether before the call, 0 keeps the forked balance",
		Value: 0,
	}
)

func parseAddress(flag, value string) (common.Address, error) {
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("invalid --%s address %q", flag, value)
	}
	return common.HexToAddress(value), nil
}

func call(ctx *cli.Context) error {
	from, err := parseAddress(fromFlag.Name, ctx.String(fromFlag.Name))
	if err != nil {
		return err
	}
	to, err := parseAddress(toFlag.Name, ctx.String(toFlag.Name))
	if err != nil {
		return err
	}
	data, err := hexutil.Decode(ctx.String(dataFlag.Name))
	if err != nil {
		return fmt.Errorf("invalid --%s: %v", dataFlag.Name, err)
	}
	value, ok := new(big.Int).SetString(ctx.String(valueFlag.Name), 10)
	if !ok || value.Sign() < 0 {
		return fmt.Errorf("invalid --%s %q", valueFlag.Name, ctx.String(valueFlag.Name))
	}

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	if ether := ctx.Uint64(fundFlag.Name); ether != 0 {
		balance := new(uint256.Int).Mul(uint256.NewInt(ether), uint256.NewInt(params.Ether))
		if err := s.factory.OverrideBalance(from, balance); err != nil {
			return err
		}
	}

	p := evm.NewParams(from, to, data)
	p.SetValue(value)
	res, err := s.simulator.Call(p)
	if err != nil {
		return err
	}

	fields := logrus.Fields{
		"gas":      res.GasUsed,
		"logs":     len(res.Logs),
		"accounts": len(res.Changes.Accounts),
		"output":   hexutil.Encode(res.Output),
	}
	if res.Failed() {
		fields["err"] = res.Err
		if reason, err := res.RevertReason(); err == nil {
			fields["reason"] = reason
		}
		s.logger.WithFields(fields).Warn("Call failed")
		return nil
	}
	s.logger.WithFields(fields).Info("Call succeeded")
	return nil
}
