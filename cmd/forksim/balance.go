package main

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

var TokenBalanceCmd = cli.Command{
	Action:    tokenBalance,
	Name:      "token-balance",
	Usage:     "prints the ERC20 balance of a holder at the forked block",
	ArgsUsage: "<symbol> <holder>",
}

func tokenBalance(ctx *cli.Context) error {
	if ctx.Args().Len() != 2 {
		return fmt.Errorf("expected <symbol> <holder>")
	}
	holder, err := parseAddress("holder", ctx.Args().Get(1))
	if err != nil {
		return err
	}

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	token, ok := s.simulator.Tokens().BySymbol(ctx.Args().Get(0))
	if !ok {
		return fmt.Errorf("unknown token %s", ctx.Args().Get(0))
	}
	balance, err := s.simulator.TokenBalance(holder, token.Address)
	if err != nil {
		return err
	}
	fmt.Printf("%s holds %s\n", holder.Hex(), s.simulator.Tokens().Format(balance, token.Address))
	return nil
}
