package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

// Run using
//  go run ./cmd/forksim <command> <flags>

var (
	configFlag = cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file, defaults are used if empty",
		Value: "",
	}
	rpcFlag = cli.StringFlag{
		Name:  "rpc",
		Usage: "endpoint of the node to fork from, overrides the configuration",
		Value: "",
	}
	blockFlag = cli.Uint64Flag{
		Name:  "block",
		Usage: "block number to fork at, 0 for latest",
		Value: 0,
	}
)

func main() {
	app := &cli.App{
		Name:  "forksim",
		Usage: "dry-run transactions against a fork of a live chain",
		Flags: []cli.Flag{
			&configFlag,
			&rpcFlag,
			&blockFlag,
		},
		Commands: []*cli.Command{
			&CallCmd,
			&TokenBalanceCmd,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
