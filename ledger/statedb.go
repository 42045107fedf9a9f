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

// Package ledger provides the EVM state database of a simulated call, layered
// on top of a read-only fork view.
package ledger

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	etherTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"
	"github.com/theneverse/fork-kit/types"
)

type revision struct {
	id           int
	journalIndex int
}

var _ StateLedger = (*ForkedStateLedger)(nil)

// ForkedStateLedger buffers every state transition of a call in memory on top
// of a StateReader. It's the general query interface to retrieve:
// * Contracts
// * Accounts
type ForkedStateLedger struct {
	reader StateReader

	// This map holds 'live' objects, which will get modified while processing a state transition.
	stateObjects      map[common.Address]*StateObject
	stateObjectsDirty map[common.Address]struct{} // State objects modified by finalised transactions

	// DB error.
	// State objects are used by the consensus core and VM which are
	// unable to deal with database-level errors. Any error that occurs
	// during a read is memoized here and will eventually be returned
	// by ForkedStateLedger.Error.
	dbErr error

	// The refund counter, also used by state transitioning.
	refund uint64

	thash   common.Hash
	txIndex int
	logs    []*etherTypes.Log
	logSize uint

	preimages map[common.Hash][]byte

	// Per-transaction access list
	accessList *accessList

	// Journal of state modifications. This is the backbone of
	// Snapshot and RevertToSnapshot.
	journal        *journal
	validRevisions []revision
	nextRevisionId int
	logger         logrus.FieldLogger
}

// New creates a ledger reading through the given reader.
func New(reader StateReader, logger logrus.FieldLogger) *ForkedStateLedger {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ForkedStateLedger{
		reader:            reader,
		stateObjects:      make(map[common.Address]*StateObject),
		stateObjectsDirty: make(map[common.Address]struct{}),
		preimages:         make(map[common.Hash][]byte),
		journal:           newJournal(),
		accessList:        newAccessList(),
		logger:            logger,
	}
}

// setError remembers the first non-nil error it is called with.
func (s *ForkedStateLedger) setError(err error) {
	if s.dbErr == nil {
		s.logger.WithField("err", err).Warn("State read failed")
		s.dbErr = err
	}
}

func (s *ForkedStateLedger) Error() error {
	return s.dbErr
}

// Prepare sets the current transaction hash and index which are used when
// the EVM emits new state logs. It also resets the access list.
func (s *ForkedStateLedger) Prepare(thash common.Hash, ti int) {
	s.thash = thash
	s.txIndex = ti
	s.accessList = newAccessList()
}

// BlockHash resolves the hash of a block through the reader.
func (s *ForkedStateLedger) BlockHash(number uint64) common.Hash {
	hash, err := s.reader.BlockHash(number)
	if err != nil {
		s.setError(fmt.Errorf("can't load block hash %d: %w", number, err))
		return common.Hash{}
	}
	return hash
}

func (s *ForkedStateLedger) AddLog(log *etherTypes.Log) {
	s.journal.append(addLogChange{})

	log.TxHash = s.thash
	log.TxIndex = uint(s.txIndex)
	log.Index = s.logSize
	s.logs = append(s.logs, log)
	s.logSize++
}

func (s *ForkedStateLedger) Logs() []*etherTypes.Log {
	return s.logs
}

// AddPreimage records a SHA3 preimage seen by the VM.
func (s *ForkedStateLedger) AddPreimage(hash common.Hash, preimage []byte) {
	if _, ok := s.preimages[hash]; !ok {
		s.journal.append(addPreimageChange{hash: hash})
		s.preimages[hash] = common.CopyBytes(preimage)
	}
}

// Preimages returns a list of SHA3 preimages that have been submitted.
func (s *ForkedStateLedger) Preimages() map[common.Hash][]byte {
	return s.preimages
}

// AddRefund adds gas to the refund counter
func (s *ForkedStateLedger) AddRefund(gas uint64) {
	s.journal.append(refundChange{prev: s.refund})
	s.refund += gas
}

// SubRefund removes gas from the refund counter.
// This method will panic if the refund counter goes below zero
func (s *ForkedStateLedger) SubRefund(gas uint64) {
	s.journal.append(refundChange{prev: s.refund})
	if gas > s.refund {
		panic(fmt.Sprintf("Refund counter below zero (gas: %d > refund: %d)", gas, s.refund))
	}
	s.refund -= gas
}

// GetRefund returns the current value of the refund counter.
func (s *ForkedStateLedger) GetRefund() uint64 {
	return s.refund
}

// Exist reports whether the given account address exists in the state.
// Notably this also returns true for suicided accounts.
func (s *ForkedStateLedger) Exist(addr common.Address) bool {
	return s.getStateObject(addr) != nil
}

// Empty returns whether the state object is either non-existent
// or empty according to the EIP161 specification (balance = nonce = code = 0)
func (s *ForkedStateLedger) Empty(addr common.Address) bool {
	so := s.getStateObject(addr)
	return so == nil || so.IsEmpty()
}

// GetBalance retrieves the balance from the given address or 0 if object not found
func (s *ForkedStateLedger) GetBalance(addr common.Address) *big.Int {
	stateObject := s.getStateObject(addr)
	if stateObject != nil {
		return stateObject.Balance()
	}
	return common.Big0
}

func (s *ForkedStateLedger) GetNonce(addr common.Address) uint64 {
	stateObject := s.getStateObject(addr)
	if stateObject != nil {
		return stateObject.Nonce()
	}
	return 0
}

func (s *ForkedStateLedger) GetCode(addr common.Address) []byte {
	stateObject := s.getStateObject(addr)
	if stateObject != nil {
		return stateObject.Code()
	}
	return nil
}

func (s *ForkedStateLedger) GetCodeSize(addr common.Address) int {
	stateObject := s.getStateObject(addr)
	if stateObject != nil {
		return stateObject.CodeSize()
	}
	return 0
}

func (s *ForkedStateLedger) GetCodeHash(addr common.Address) common.Hash {
	stateObject := s.getStateObject(addr)
	if stateObject == nil {
		return common.Hash{}
	}
	return common.BytesToHash(stateObject.CodeHash())
}

// GetState retrieves a value from the given account's storage.
func (s *ForkedStateLedger) GetState(addr common.Address, hash common.Hash) common.Hash {
	stateObject := s.getStateObject(addr)
	if stateObject != nil {
		return stateObject.GetState(hash)
	}
	return common.Hash{}
}

// GetCommittedState retrieves a value from the given account's committed storage.
func (s *ForkedStateLedger) GetCommittedState(addr common.Address, hash common.Hash) common.Hash {
	stateObject := s.getStateObject(addr)
	if stateObject != nil {
		return stateObject.GetCommittedState(hash)
	}
	return common.Hash{}
}

func (s *ForkedStateLedger) HasSuicided(addr common.Address) bool {
	stateObject := s.getStateObject(addr)
	if stateObject != nil {
		return stateObject.suicided
	}
	return false
}

/*
 * SETTERS
 */

// AddBalance adds amount to the account associated with addr.
func (s *ForkedStateLedger) AddBalance(addr common.Address, amount *big.Int) {
	stateObject := s.GetOrNewStateObject(addr)
	if stateObject != nil {
		stateObject.AddBalance(amount)
	}
}

// SubBalance subtracts amount from the account associated with addr.
func (s *ForkedStateLedger) SubBalance(addr common.Address, amount *big.Int) {
	stateObject := s.GetOrNewStateObject(addr)
	if stateObject != nil {
		stateObject.SubBalance(amount)
	}
}

func (s *ForkedStateLedger) SetBalance(addr common.Address, amount *big.Int) {
	stateObject := s.GetOrNewStateObject(addr)
	if stateObject != nil {
		stateObject.SetBalance(amount)
	}
}

func (s *ForkedStateLedger) SetNonce(addr common.Address, nonce uint64) {
	stateObject := s.GetOrNewStateObject(addr)
	if stateObject != nil {
		stateObject.SetNonce(nonce)
	}
}

func (s *ForkedStateLedger) SetCode(addr common.Address, code []byte) {
	stateObject := s.GetOrNewStateObject(addr)
	if stateObject != nil {
		stateObject.SetCode(types.Keccak256Hash(code), code)
	}
}

func (s *ForkedStateLedger) SetState(addr common.Address, key, value common.Hash) {
	stateObject := s.GetOrNewStateObject(addr)
	if stateObject != nil {
		stateObject.SetState(key, value)
	}
}

// Suicide marks the given account as suicided.
// This clears the account balance.
//
// The account's state object is still available until the state is finalised,
// getStateObject will return a non-nil account after Suicide.
func (s *ForkedStateLedger) Suicide(addr common.Address) bool {
	stateObject := s.getStateObject(addr)
	if stateObject == nil {
		return false
	}
	s.journal.append(suicideChange{
		account:     &addr,
		prev:        stateObject.suicided,
		prevbalance: new(big.Int).Set(stateObject.Balance()),
	})
	stateObject.suicided = true
	stateObject.data.Balance = new(big.Int)

	return true
}

// ForEachStorage iterates the storage slots of an account known to this
// ledger: slots read from the reader and slots written during execution.
// Slots never touched are not enumerated, the remote state has no iterator.
func (s *ForkedStateLedger) ForEachStorage(addr common.Address, cb func(key, value common.Hash) bool) error {
	so := s.getStateObject(addr)
	if so == nil {
		return nil
	}
	seen := make(map[common.Hash]struct{})
	for _, storage := range []Storage{so.dirtyStorage, so.pendingStorage, so.originStorage} {
		for key, value := range storage {
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			if !cb(key, value) {
				return nil
			}
		}
	}
	return nil
}

//
// Setting, updating & deleting state object methods.
//

// getStateObject retrieves a state object given by the address, returning nil if
// the object is not found or was deleted in this execution context. If you need
// to differentiate between non-existent/just-deleted, use getDeletedStateObject.
func (s *ForkedStateLedger) getStateObject(addr common.Address) *StateObject {
	if obj := s.getDeletedStateObject(addr); obj != nil && !obj.deleted {
		return obj
	}
	return nil
}

// getDeletedStateObject is similar to getStateObject, but instead of returning
// nil for a deleted state object, it returns the actual object with the deleted
// flag set. This is needed by the state journal to revert to the correct s-
// destructed object instead of wiping all knowledge about the state object.
func (s *ForkedStateLedger) getDeletedStateObject(addr common.Address) *StateObject {
	// Prefer live objects if any is available
	if obj := s.stateObjects[addr]; obj != nil {
		return obj
	}
	// Load from the reader
	info, err := s.reader.Basic(addr)
	if err != nil {
		s.setError(fmt.Errorf("can't load account %x: %w", addr, err))
		return nil
	}
	if !info.Exists && info.IsEmpty() {
		return nil
	}
	info = info.Normalize()
	data := Account{
		Nonce:    info.Nonce,
		Balance:  info.BalanceBig(),
		CodeHash: info.CodeHash.Bytes(),
	}
	// Insert into the live set
	obj := newObject(s, addr, data)
	if len(info.Code) > 0 {
		obj.code = common.CopyBytes(info.Code)
	}
	s.setStateObject(obj)
	return obj
}

func (s *ForkedStateLedger) setStateObject(object *StateObject) {
	s.stateObjects[object.Address()] = object
}

// GetOrNewStateObject retrieves a state object or create a new state object if nil.
func (s *ForkedStateLedger) GetOrNewStateObject(addr common.Address) *StateObject {
	stateObject := s.getStateObject(addr)
	if stateObject == nil {
		stateObject, _ = s.createObject(addr)
	}
	return stateObject
}

// createObject creates a new state object. If there is an existing account with
// the given address, it is overwritten and returned as the second return value.
func (s *ForkedStateLedger) createObject(addr common.Address) (newobj, prev *StateObject) {
	prev = s.getDeletedStateObject(addr) // Note, prev might have been deleted, we need that!

	newobj = newObject(s, addr, Account{})
	newobj.created = true
	if prev == nil {
		s.journal.append(createObjectChange{account: &addr})
	} else {
		s.journal.append(resetObjectChange{prev: prev})
	}
	s.setStateObject(newobj)
	if prev != nil && !prev.deleted {
		return newobj, prev
	}
	return newobj, nil
}

// CreateAccount explicitly creates a state object. If a state object with the address
// already exists the balance is carried over to the new account.
//
// CreateAccount is called during the EVM CREATE operation. The situation might arise that
// a contract does the following:
//
//   1. sends funds to sha(account ++ (nonce + 1))
//   2. tx_create(sha(account ++ nonce)) (note that this gets the address of 1)
//
// Carrying over the balance ensures that Ether doesn't disappear.
func (s *ForkedStateLedger) CreateAccount(addr common.Address) {
	newObj, prev := s.createObject(addr)
	if prev != nil {
		newObj.setBalance(prev.data.Balance)
	}
}

// Snapshot returns an identifier for the current revision of the state.
func (s *ForkedStateLedger) Snapshot() int {
	id := s.nextRevisionId
	s.nextRevisionId++
	s.validRevisions = append(s.validRevisions, revision{id, s.journal.length()})
	return id
}

// RevertToSnapshot reverts all state changes made since the given revision.
func (s *ForkedStateLedger) RevertToSnapshot(revid int) {
	// Find the snapshot in the stack of valid snapshots.
	idx := sort.Search(len(s.validRevisions), func(i int) bool {
		return s.validRevisions[i].id >= revid
	})
	if idx == len(s.validRevisions) || s.validRevisions[idx].id != revid {
		panic(fmt.Errorf("revision id %v cannot be reverted", revid))
	}
	snapshot := s.validRevisions[idx].journalIndex

	// Replay the journal to undo changes and remove invalidated snapshots
	s.journal.revert(s, snapshot)
	s.validRevisions = s.validRevisions[:idx]
}

// Finalise finalises the state by removing the s destructed objects and clears
// the journal as well as the refunds.
func (s *ForkedStateLedger) Finalise(deleteEmptyObjects bool) {
	for addr := range s.journal.dirties {
		obj, exist := s.stateObjects[addr]
		if !exist {
			// ripeMD is 'touched' at block 1714175, in tx 0x1237f737031e40bcde4a8b7e717b2d15e3ecadfe49bb1bbc71ee9deb09c6fcf2
			// That tx goes out of gas, and although the notion of 'touched' does not exist there, the
			// touch-event will still be recorded in the journal. Since ripeMD is a special snowflake,
			// it will persist in the journal even though the journal is reverted. In this special circumstance,
			// it may exist in `s.journal.dirties` but not in `s.stateObjects`.
			// Thus, we can safely ignore it here
			continue
		}
		if obj.suicided || (deleteEmptyObjects && obj.IsEmpty()) {
			obj.deleted = true
		} else {
			obj.finalise()
		}
		s.stateObjectsDirty[addr] = struct{}{}
	}
	// Invalidate journal because reverting across transactions is not allowed.
	s.clearJournalAndRefund()
}

func (s *ForkedStateLedger) clearJournalAndRefund() {
	if len(s.journal.entries) > 0 {
		s.journal = newJournal()
		s.refund = 0
	}
	s.validRevisions = s.validRevisions[:0] // Snapshots can be created without journal entires
}

// Changes finalises the state and returns the full record of every account
// modified by the executed transactions along with the storage slots they
// wrote. Destroyed accounts are reported as non-existent, and both destroyed
// and newly created accounts are marked as wiped.
func (s *ForkedStateLedger) Changes() types.ChangeSet {
	s.Finalise(true)

	changes := types.NewChangeSet()
	for addr := range s.stateObjectsDirty {
		obj := s.stateObjects[addr]
		if obj == nil {
			continue
		}
		if obj.created || obj.deleted {
			changes.Wiped[addr] = struct{}{}
		}
		if obj.deleted {
			changes.Accounts[addr] = types.NonExistent()
			continue
		}
		changes.Accounts[addr] = obj.accountInfo()
		for key, value := range obj.storageChanges() {
			changes.SetStorage(addr, key, value)
		}
	}
	s.logger.WithFields(logrus.Fields{
		"accounts": len(changes.Accounts),
		"storage":  len(changes.Storage),
		"wiped":    len(changes.Wiped),
	}).Debug("Collected state changes")
	return changes
}
