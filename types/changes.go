package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// StorageKey addresses one storage slot of one account.
type StorageKey struct {
	Address common.Address
	Slot    common.Hash
}

// ChangeSet holds the effects of an executed call: the full record of every
// touched account, the storage slots written, and the accounts whose previous
// storage is gone because they were destroyed or created in the call.
type ChangeSet struct {
	Accounts map[common.Address]AccountInfo
	Storage  map[common.Address]map[common.Hash]common.Hash
	Wiped    map[common.Address]struct{}
}

// NewChangeSet returns an empty change set.
func NewChangeSet() ChangeSet {
	return ChangeSet{
		Accounts: make(map[common.Address]AccountInfo),
		Storage:  make(map[common.Address]map[common.Hash]common.Hash),
		Wiped:    make(map[common.Address]struct{}),
	}
}

// SetStorage records a slot write.
func (c ChangeSet) SetStorage(addr common.Address, slot, value common.Hash) {
	slots, ok := c.Storage[addr]
	if !ok {
		slots = make(map[common.Hash]common.Hash)
		c.Storage[addr] = slots
	}
	slots[slot] = value
}

// Empty reports whether the change set carries no effect.
func (c ChangeSet) Empty() bool {
	return len(c.Accounts) == 0 && len(c.Storage) == 0 && len(c.Wiped) == 0
}

// MappingSlot computes the storage slot of key in a solidity mapping declared
// at slot index: keccak256(pad32(key) ++ pad32(index)).
func MappingSlot(key common.Address, index uint64) common.Hash {
	return Keccak256Hash(
		common.LeftPadBytes(key.Bytes(), 32),
		common.BigToHash(new(big.Int).SetUint64(index)).Bytes(),
	)
}
