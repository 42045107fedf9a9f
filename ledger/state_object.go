// Copyright 2014 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package ledger

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/theneverse/fork-kit/types"
)

var emptyCodeHash = types.EmptyCodeHash.Bytes()

type Code []byte

type Storage map[common.Hash]common.Hash

func (s Storage) String() (str string) {
	for key, value := range s {
		str += fmt.Sprintf("%X : %X\n", key, value)
	}

	return
}

func (s Storage) Copy() Storage {
	cpy := make(Storage, len(s))
	for key, value := range s {
		cpy[key] = value
	}

	return cpy
}

// StateObject represents an account which is being modified during a
// simulated call.
//
// Account values are loaded lazily from the StateReader the first time they
// are touched, modified in memory, and handed back as a ChangeSet once the
// call is finalised. Nothing is ever written to the reader.
type StateObject struct {
	address common.Address
	data    Account
	db      *ForkedStateLedger

	code Code // contract bytecode, which gets set when code is loaded

	originStorage  Storage // Storage cache of entries read from the reader
	pendingStorage Storage // Storage entries finalised by earlier transactions of this ledger
	dirtyStorage   Storage // Storage entries that have been modified in the current transaction execution

	// Cache flags.
	// created objects start from empty storage and never consult the reader
	// for slots, so a destroyed and re-deployed contract does not see its
	// previous storage.
	created   bool
	dirtyCode bool // true if the code was updated
	suicided  bool
	deleted   bool
}

// Account is the in-memory representation of an account record.
type Account struct {
	Nonce    uint64
	Balance  *big.Int
	CodeHash []byte
}

// newObject creates a state object.
func newObject(db *ForkedStateLedger, address common.Address, data Account) *StateObject {
	if data.Balance == nil {
		data.Balance = new(big.Int)
	}
	if data.CodeHash == nil {
		data.CodeHash = emptyCodeHash
	}
	return &StateObject{
		db:             db,
		address:        address,
		data:           data,
		originStorage:  make(Storage),
		pendingStorage: make(Storage),
		dirtyStorage:   make(Storage),
	}
}

func (s *StateObject) Address() common.Address {
	return s.address
}

func (s *StateObject) IsEmpty() bool {
	return s.data.Nonce == 0 && s.data.Balance.Sign() == 0 && bytes.Equal(s.data.CodeHash, emptyCodeHash)
}

func (s *StateObject) touch() {
	s.db.journal.append(touchChange{
		account: &s.address,
	})
	if s.address == ripemd {
		// Explicitly put it in the dirty-cache, which is otherwise generated from
		// flattened journals.
		s.db.journal.dirty(s.address)
	}
}

// GetState retrieves a value from the account storage.
func (s *StateObject) GetState(key common.Hash) common.Hash {
	// If we have a dirty value for this state entry, return it
	if value, dirty := s.dirtyStorage[key]; dirty {
		return value
	}
	// Otherwise return the entry's original value
	return s.GetCommittedState(key)
}

// GetCommittedState retrieves the value of a slot as of the start of the
// current transaction.
func (s *StateObject) GetCommittedState(key common.Hash) common.Hash {
	// If we have a pending write or clean cached, return that
	if value, pending := s.pendingStorage[key]; pending {
		return value
	}
	if value, cached := s.originStorage[key]; cached {
		return value
	}
	if s.created {
		return common.Hash{}
	}
	value, err := s.db.reader.Storage(s.address, key)
	if err != nil {
		s.db.setError(fmt.Errorf("can't load storage %x of %x: %w", key, s.address, err))
		return common.Hash{}
	}
	s.originStorage[key] = value
	return value
}

// SetState updates a value in account storage.
func (s *StateObject) SetState(key, value common.Hash) {
	// If the new value is the same as old, don't set
	prev := s.GetState(key)
	if prev == value {
		return
	}
	// New value is different, update and journal the change
	s.db.journal.append(storageChange{
		account:  &s.address,
		key:      key,
		prevalue: prev,
	})
	s.setState(key, value)
}

func (s *StateObject) setState(key, value common.Hash) {
	s.dirtyStorage[key] = value
}

// finalise moves all dirty storage slots into the pending area. It is invoked
// at the end of every transaction.
func (s *StateObject) finalise() {
	for key, value := range s.dirtyStorage {
		s.pendingStorage[key] = value
	}
	if len(s.dirtyStorage) > 0 {
		s.dirtyStorage = make(Storage)
	}
}

// AddBalance adds amount to s's balance.
// It is used to add funds to the destination account of a transfer.
func (s *StateObject) AddBalance(amount *big.Int) {
	// EIP161: We must check emptiness for the objects such that the account
	// clearing (0,0,0 objects) can take effect.
	if amount.Sign() == 0 {
		if s.IsEmpty() {
			s.touch()
		}
		return
	}
	s.SetBalance(new(big.Int).Add(s.Balance(), amount))
}

// SubBalance removes amount from s's balance.
// It is used to remove funds from the origin account of a transfer.
func (s *StateObject) SubBalance(amount *big.Int) {
	if amount.Sign() == 0 {
		return
	}
	s.SetBalance(new(big.Int).Sub(s.Balance(), amount))
}

func (s *StateObject) SetBalance(amount *big.Int) {
	s.db.journal.append(balanceChange{
		account: &s.address,
		prev:    new(big.Int).Set(s.data.Balance),
	})
	s.setBalance(amount)
}

func (s *StateObject) setBalance(amount *big.Int) {
	s.data.Balance = amount
}

// Code returns the contract code associated with this object, if any.
func (s *StateObject) Code() []byte {
	if s.code != nil {
		return s.code
	}
	if bytes.Equal(s.CodeHash(), emptyCodeHash) {
		return nil
	}
	code, err := s.db.reader.CodeByHash(common.BytesToHash(s.CodeHash()))
	if err != nil {
		s.db.setError(fmt.Errorf("can't load code hash %x: %w", s.CodeHash(), err))
	}
	s.code = code
	return code
}

// CodeSize returns the size of the contract code associated with this object,
// or zero if none.
func (s *StateObject) CodeSize() int {
	return len(s.Code())
}

func (s *StateObject) SetCode(codeHash common.Hash, code []byte) {
	prevcode := s.Code()
	s.db.journal.append(codeChange{
		account:  &s.address,
		prevhash: s.CodeHash(),
		prevcode: prevcode,
	})
	s.setCode(codeHash, code)
}

func (s *StateObject) setCode(codeHash common.Hash, code []byte) {
	s.code = code
	s.data.CodeHash = codeHash[:]
	s.dirtyCode = true
}

func (s *StateObject) SetNonce(nonce uint64) {
	s.db.journal.append(nonceChange{
		account: &s.address,
		prev:    s.data.Nonce,
	})
	s.setNonce(nonce)
}

func (s *StateObject) setNonce(nonce uint64) {
	s.data.Nonce = nonce
}

func (s *StateObject) CodeHash() []byte {
	return s.data.CodeHash
}

func (s *StateObject) Balance() *big.Int {
	return s.data.Balance
}

func (s *StateObject) Nonce() uint64 {
	return s.data.Nonce
}

// accountInfo converts the object into the record handed back to the fork.
func (s *StateObject) accountInfo() types.AccountInfo {
	balance, overflow := uint256.FromBig(s.data.Balance)
	if overflow || s.data.Balance.Sign() < 0 {
		s.db.setError(fmt.Errorf("balance of %x out of range: %s", s.address, s.data.Balance))
		balance = new(uint256.Int)
	}
	code := s.Code()
	info := types.AccountInfo{
		Balance:  balance,
		Nonce:    s.data.Nonce,
		CodeHash: common.BytesToHash(s.data.CodeHash),
		Code:     common.CopyBytes(code),
	}
	info.Exists = !info.IsEmpty()
	return info
}

// storageChanges returns every slot written by finalised transactions.
func (s *StateObject) storageChanges() Storage {
	return s.pendingStorage.Copy()
}
