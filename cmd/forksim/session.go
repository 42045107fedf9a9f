package main

import (
	"math/big"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"
	"github.com/theneverse/fork-kit/config"
	"github.com/theneverse/fork-kit/evm"
	"github.com/theneverse/fork-kit/fork"
	"github.com/urfave/cli/v2"
)

// session bundles what every command needs.
type session struct {
	client    *ethclient.Client
	factory   *fork.Factory
	simulator *evm.Simulator
	logger    *logrus.Logger
}

func (s *session) Close() {
	s.client.Close()
}

func loadConfig(ctx *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if path := ctx.String(configFlag.Name); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if url := ctx.String(rpcFlag.Name); url != "" {
		cfg.RPCURL = url
	}
	if ctx.IsSet(blockFlag.Name) {
		cfg.BlockNumber = ctx.Uint64(blockFlag.Name)
	}
	return cfg, cfg.Validate()
}

func openSession(ctx *cli.Context) (*session, error) {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return nil, err
	}
	logger, err := cfg.Logger()
	if err != nil {
		return nil, err
	}

	client, err := fork.Dial(ctx.Context, cfg.RPCURL)
	if err != nil {
		return nil, err
	}

	var number *big.Int
	if cfg.BlockNumber != 0 {
		number = new(big.Int).SetUint64(cfg.BlockNumber)
	}
	factory, err := fork.NewFactoryAtBlock(ctx.Context, client, number, fork.WithLogger(logger))
	if err != nil {
		client.Close()
		return nil, err
	}
	return &session{
		client:    client,
		factory:   factory,
		simulator: evm.NewSimulator(factory, cfg.SimulatorOptions(logger)...),
		logger:    logger,
	}, nil
}
