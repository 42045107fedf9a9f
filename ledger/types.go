package ledger

import (
	"github.com/ethereum/go-ethereum/common"
	etherTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/theneverse/fork-kit/types"
)

// StateReader is the read-only state the ledger executes against. A fork
// adapter satisfies it.
type StateReader interface {
	// Basic returns the account record of an address
	Basic(common.Address) (types.AccountInfo, error)

	// CodeByHash returns the bytecode with the given hash
	CodeByHash(common.Hash) ([]byte, error)

	// Storage returns the value of a storage slot
	Storage(common.Address, common.Hash) (common.Hash, error)

	// BlockHash returns the hash of a canonical block
	BlockHash(uint64) (common.Hash, error)
}

// StateLedger is the EVM database of one simulated call.
type StateLedger interface {
	vm.StateDB

	// Prepare sets the hash and index of the executing transaction
	Prepare(thash common.Hash, ti int)

	// BlockHash resolves a block hash through the reader
	BlockHash(uint64) common.Hash

	// Logs returns the logs emitted so far
	Logs() []*etherTypes.Log

	// Finalise closes the current transaction
	Finalise(deleteEmptyObjects bool)

	// Changes finalises and returns the account and storage deltas
	Changes() types.ChangeSet

	// Error returns the first error returned by the reader
	Error() error
}
