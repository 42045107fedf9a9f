package fork

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/theneverse/fork-kit/types"
)

// Overrides is the caller-injected state of a session. It outranks both the
// backend cache and the remote node, and is only written by explicit override
// calls or committed simulations.
type Overrides struct {
	lock     sync.RWMutex
	accounts map[common.Address]types.AccountInfo
	storage  map[common.Address]map[common.Hash]common.Hash
	codes    map[common.Hash][]byte
	wiped    map[common.Address]struct{}
}

// NewOverrides returns an empty override set.
func NewOverrides() *Overrides {
	return &Overrides{
		accounts: make(map[common.Address]types.AccountInfo),
		storage:  make(map[common.Address]map[common.Hash]common.Hash),
		codes:    make(map[common.Hash][]byte),
		wiped:    make(map[common.Address]struct{}),
	}
}

// Account returns the overridden record of addr.
func (o *Overrides) Account(addr common.Address) (types.AccountInfo, bool) {
	o.lock.RLock()
	defer o.lock.RUnlock()
	info, ok := o.accounts[addr]
	if !ok {
		return types.AccountInfo{}, false
	}
	return info.Clone(), true
}

// Storage returns the overridden slot value. wiped reports that the account's
// storage was reset, so slots not present here read as zero.
func (o *Overrides) Storage(addr common.Address, slot common.Hash) (value common.Hash, ok bool, wiped bool) {
	o.lock.RLock()
	defer o.lock.RUnlock()
	if slots, exist := o.storage[addr]; exist {
		if value, ok = slots[slot]; ok {
			return value, true, false
		}
	}
	_, wiped = o.wiped[addr]
	return common.Hash{}, false, wiped
}

// Code returns overridden bytecode by hash.
func (o *Overrides) Code(hash common.Hash) ([]byte, bool) {
	o.lock.RLock()
	defer o.lock.RUnlock()
	code, ok := o.codes[hash]
	return common.CopyBytes(code), ok
}

// SetAccount replaces the whole record of addr.
func (o *Overrides) SetAccount(addr common.Address, info types.AccountInfo) {
	info = info.Normalize()
	o.lock.Lock()
	defer o.lock.Unlock()
	o.setAccount(addr, info)
}

func (o *Overrides) setAccount(addr common.Address, info types.AccountInfo) {
	// a record carrying balance, nonce or code exists whatever its flag says
	info.Exists = info.Exists || !info.IsEmpty()
	if len(info.Code) > 0 {
		o.codes[info.CodeHash] = common.CopyBytes(info.Code)
	}
	o.accounts[addr] = info
}

// SetStorage writes one slot.
func (o *Overrides) SetStorage(addr common.Address, slot, value common.Hash) {
	o.lock.Lock()
	defer o.lock.Unlock()
	o.setStorage(addr, slot, value)
}

func (o *Overrides) setStorage(addr common.Address, slot, value common.Hash) {
	slots, ok := o.storage[addr]
	if !ok {
		slots = make(map[common.Hash]common.Hash)
		o.storage[addr] = slots
	}
	slots[slot] = value
}

// Apply writes a change set atomically: records first, then storage resets,
// then slot writes.
func (o *Overrides) Apply(changes types.ChangeSet) {
	o.lock.Lock()
	defer o.lock.Unlock()
	for addr, info := range changes.Accounts {
		o.setAccount(addr, info.Normalize())
	}
	for addr := range changes.Wiped {
		delete(o.storage, addr)
		o.wiped[addr] = struct{}{}
	}
	for addr, slots := range changes.Storage {
		for slot, value := range slots {
			o.setStorage(addr, slot, value)
		}
	}
}

// SetContractStorage writes one slot if the record of addr carries bytecode.
// The overridden record is checked under the lock; fallback stands in for it
// when addr has no override.
func (o *Overrides) SetContractStorage(addr common.Address, slot, value common.Hash, fallback *types.AccountInfo) error {
	o.lock.Lock()
	defer o.lock.Unlock()
	info, ok := o.accounts[addr]
	if !ok {
		if fallback == nil {
			return fmt.Errorf("%w: %s", ErrOverrideOnNonContract, addr.Hex())
		}
		info = *fallback
	}
	if !info.HasCode() {
		return fmt.Errorf("%w: %s", ErrOverrideOnNonContract, addr.Hex())
	}
	o.setStorage(addr, slot, value)
	return nil
}

// Len returns the number of overridden accounts and slots.
func (o *Overrides) Len() (accounts int, slots int) {
	o.lock.RLock()
	defer o.lock.RUnlock()
	for _, s := range o.storage {
		slots += len(s)
	}
	return len(o.accounts), slots
}

// Copy returns an independent deep copy.
func (o *Overrides) Copy() *Overrides {
	o.lock.RLock()
	defer o.lock.RUnlock()
	cpy := NewOverrides()
	for addr, info := range o.accounts {
		cpy.accounts[addr] = info.Clone()
	}
	for addr, slots := range o.storage {
		s := make(map[common.Hash]common.Hash, len(slots))
		for k, v := range slots {
			s[k] = v
		}
		cpy.storage[addr] = s
	}
	for hash, code := range o.codes {
		cpy.codes[hash] = code
	}
	for addr := range o.wiped {
		cpy.wiped[addr] = struct{}{}
	}
	return cpy
}
