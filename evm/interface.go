package evm

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/theneverse/fork-kit/fork"
	"github.com/theneverse/fork-kit/types"
)

// Session is the fork a Simulator executes against. *fork.Factory
// implements it.
type Session interface {
	// Block returns the pinned block
	Block() types.PinnedBlock

	// NewView returns a fresh state view over the session
	NewView() *fork.Adapter

	// Commit pushes the effects of a committed call into the session
	Commit(types.ChangeSet)

	// OverrideAccount replaces the record of an account
	OverrideAccount(common.Address, types.AccountInfo)

	// OverrideStorage writes one storage slot of a contract
	OverrideStorage(addr common.Address, slot, value common.Hash) error
}

var _ Session = (*fork.Factory)(nil)
