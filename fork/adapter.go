package fork

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/theneverse/fork-kit/types"
)

// Adapter is the state view handed to the execution engine. Every lookup
// resolves overrides first, then the shared backend, then the not-found
// default. Lookups may block the calling goroutine on a remote fetch, so an
// Adapter must not be used where blocking is not allowed.
type Adapter struct {
	factory   *Factory
	backend   *Backend
	overrides *Overrides
}

// Basic returns the account record of addr.
func (a *Adapter) Basic(addr common.Address) (types.AccountInfo, error) {
	if info, ok := a.overrides.Account(addr); ok {
		return info, nil
	}
	return a.backend.Account(addr)
}

// CodeByHash returns the bytecode with the given hash, or nil if no account
// seen in this session carries it.
func (a *Adapter) CodeByHash(hash common.Hash) ([]byte, error) {
	if hash == types.EmptyCodeHash || hash == (common.Hash{}) {
		return nil, nil
	}
	if code, ok := a.overrides.Code(hash); ok {
		return code, nil
	}
	if code, ok := a.backend.Code(hash); ok {
		return code, nil
	}
	return nil, nil
}

// Storage returns the value of a storage slot.
func (a *Adapter) Storage(addr common.Address, slot common.Hash) (common.Hash, error) {
	value, ok, wiped := a.overrides.Storage(addr, slot)
	if ok || wiped {
		return value, nil
	}
	return a.backend.Storage(addr, slot)
}

// BlockHash returns the hash of the canonical block with the given number.
func (a *Adapter) BlockHash(number uint64) (common.Hash, error) {
	return a.backend.BlockHash(number)
}

// Block returns the pinned block of the session.
func (a *Adapter) Block() types.PinnedBlock {
	return a.factory.Block()
}

// OverrideAccount forwards to the factory; siblings see the override at once.
func (a *Adapter) OverrideAccount(addr common.Address, info types.AccountInfo) {
	a.factory.OverrideAccount(addr, info)
}

// OverrideStorage forwards to the factory.
func (a *Adapter) OverrideStorage(addr common.Address, slot, value common.Hash) error {
	return a.factory.OverrideStorage(addr, slot, value)
}
