package fork

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"
	"github.com/theneverse/fork-kit/types"
)

// Factory owns a simulation session: the pinned block, the shared backend
// cache and the override set. Adapters minted by NewView share both by
// reference.
type Factory struct {
	block     types.PinnedBlock
	backend   *Backend
	overrides *Overrides
	logger    logrus.FieldLogger
}

// Option configures a Factory.
type Option func(*Factory)

// WithLogger sets the logger of the factory and its backend.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(f *Factory) {
		f.logger = logger
	}
}

// NewFactory pins block and wires a backend over conn. ctx bounds every remote
// fetch of the session.
func NewFactory(ctx context.Context, conn Connector, block types.PinnedBlock, opts ...Option) (*Factory, error) {
	if conn == nil {
		return nil, errNilConnector
	}
	if err := block.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPinnedBlock, err)
	}
	f := &Factory{
		block:     block.Copy(),
		overrides: NewOverrides(),
		logger:    logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.backend = NewBackend(ctx, conn, f.block, f.logger)
	f.logger.WithFields(logrus.Fields{
		"number": f.block.NumberU64(),
		"hash":   f.block.Hash.Hex(),
	}).Info("Pinned fork block")
	return f, nil
}

// NewFactoryAtBlock pins the block with the given number, or the latest block
// if number is nil, by fetching its header.
func NewFactoryAtBlock(ctx context.Context, conn Connector, number *big.Int, opts ...Option) (*Factory, error) {
	if conn == nil {
		return nil, errNilConnector
	}
	header, err := conn.HeaderByNumber(ctx, number)
	if err == nil && header == nil {
		err = ethereum.NotFound
	}
	if err != nil {
		return nil, &FetchError{Op: "header", Key: fmt.Sprint(number), Err: err}
	}
	return NewFactory(ctx, conn, types.PinnedBlockFromHeader(header), opts...)
}

// Block returns a copy of the pinned block.
func (f *Factory) Block() types.PinnedBlock {
	return f.block.Copy()
}

// Backend returns the shared cache.
func (f *Factory) Backend() *Backend {
	return f.backend
}

// OverrideAccount replaces the whole record of addr: balance, nonce, code and
// existence are all taken from info. Fields are never merged with the fetched
// record; use OverrideBalance for that.
func (f *Factory) OverrideAccount(addr common.Address, info types.AccountInfo) {
	f.overrides.SetAccount(addr, info)
	f.logger.WithFields(logrus.Fields{
		"address": addr.Hex(),
		"balance": info.BalanceBig(),
		"nonce":   info.Nonce,
	}).Debug("Override account")
}

// OverrideBalance sets the balance of addr while keeping nonce and code of its
// current record.
func (f *Factory) OverrideBalance(addr common.Address, balance *uint256.Int) error {
	info, err := f.account(addr)
	if err != nil {
		return err
	}
	info.Balance = new(uint256.Int).Set(balance)
	info.Exists = true
	f.OverrideAccount(addr, info)
	return nil
}

// OverrideStorage writes one storage slot of addr. The current record of addr,
// overridden or fetched, must carry bytecode.
func (f *Factory) OverrideStorage(addr common.Address, slot, value common.Hash) error {
	var fallback *types.AccountInfo
	if _, ok := f.overrides.Account(addr); !ok {
		info, err := f.backend.Account(addr)
		if err != nil {
			return err
		}
		fallback = &info
	}
	return f.overrides.SetContractStorage(addr, slot, value, fallback)
}

// Commit applies the effects of a committed simulation to the override set.
func (f *Factory) Commit(changes types.ChangeSet) {
	if changes.Empty() {
		return
	}
	f.overrides.Apply(changes)
	f.logger.WithFields(logrus.Fields{
		"accounts": len(changes.Accounts),
		"slots":    len(changes.Storage),
	}).Debug("Committed simulation changes")
}

// NewView returns an adapter over the shared backend and override set.
func (f *Factory) NewView() *Adapter {
	return &Adapter{
		factory:   f,
		backend:   f.backend,
		overrides: f.overrides,
	}
}

// Fork returns a factory sharing the backend cache but holding a copy of the
// override set, so simulations on it do not affect f.
func (f *Factory) Fork() *Factory {
	return &Factory{
		block:     f.block,
		backend:   f.backend,
		overrides: f.overrides.Copy(),
		logger:    f.logger,
	}
}

func (f *Factory) account(addr common.Address) (types.AccountInfo, error) {
	if info, ok := f.overrides.Account(addr); ok {
		return info, nil
	}
	return f.backend.Account(addr)
}
