package types

import (
	"bytes"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"golang.org/x/crypto/sha3"
)

var hasherPool = sync.Pool{
	New: func() interface{} { return sha3.NewLegacyKeccak256() },
}

// EmptyCodeHash is the keccak hash of empty code.
var EmptyCodeHash = Keccak256Hash(nil)

// Keccak256Hash hashes the concatenation of data with a pooled legacy keccak hasher.
func Keccak256Hash(data ...[]byte) (h common.Hash) {
	sha := hasherPool.Get().(keccakState)
	defer hasherPool.Put(sha)
	sha.Reset()
	for _, b := range data {
		sha.Write(b)
	}
	sha.Read(h[:])
	return h
}

type keccakState interface {
	Write([]byte) (int, error)
	Read([]byte) (int, error)
	Reset()
}

// AccountInfo is the top-level state of an account at the pinned block, or an
// override of it. A record with Exists == false is the "absent on chain" value.
type AccountInfo struct {
	Balance  *uint256.Int
	Nonce    uint64
	CodeHash common.Hash
	Code     []byte
	Exists   bool
}

// NewAccountInfo builds a record from its fields, deriving the code hash and the
// existence flag.
func NewAccountInfo(balance *uint256.Int, nonce uint64, code []byte) AccountInfo {
	info := AccountInfo{
		Balance: balance,
		Nonce:   nonce,
		Code:    common.CopyBytes(code),
	}
	return info.normalize(true)
}

// NonExistent returns the zero record of an account absent on chain.
func NonExistent() AccountInfo {
	return AccountInfo{
		Balance:  new(uint256.Int),
		CodeHash: EmptyCodeHash,
	}
}

// Normalize returns a copy with a non-nil balance and a code hash matching the
// code. Records without code keep their hash, since a fetched account may carry
// a hash whose code is resolved separately.
func (a AccountInfo) Normalize() AccountInfo {
	return a.Clone().normalize(false)
}

func (a AccountInfo) normalize(deriveExists bool) AccountInfo {
	if a.Balance == nil {
		a.Balance = new(uint256.Int)
	}
	switch {
	case len(a.Code) > 0:
		a.CodeHash = Keccak256Hash(a.Code)
	case a.CodeHash == (common.Hash{}):
		a.CodeHash = EmptyCodeHash
	}
	if deriveExists {
		a.Exists = !a.Balance.IsZero() || a.Nonce != 0 || len(a.Code) > 0
	}
	return a
}

// Clone returns a deep copy of the record.
func (a AccountInfo) Clone() AccountInfo {
	cpy := a
	if a.Balance != nil {
		cpy.Balance = new(uint256.Int).Set(a.Balance)
	}
	cpy.Code = common.CopyBytes(a.Code)
	return cpy
}

// HasCode reports whether the account carries bytecode.
func (a AccountInfo) HasCode() bool {
	if len(a.Code) > 0 {
		return true
	}
	return a.CodeHash != (common.Hash{}) && a.CodeHash != EmptyCodeHash
}

// IsEmpty reports emptiness according to EIP-161 (balance = nonce = code = 0).
func (a AccountInfo) IsEmpty() bool {
	return (a.Balance == nil || a.Balance.IsZero()) && a.Nonce == 0 && !a.HasCode()
}

// BalanceBig returns the balance as a big integer.
func (a AccountInfo) BalanceBig() *big.Int {
	if a.Balance == nil {
		return new(big.Int)
	}
	return a.Balance.ToBig()
}

// Equal reports whether two records describe the same account state.
func (a AccountInfo) Equal(b AccountInfo) bool {
	x, y := a.Normalize(), b.Normalize()
	return x.Exists == y.Exists &&
		x.Nonce == y.Nonce &&
		x.Balance.Eq(y.Balance) &&
		x.CodeHash == y.CodeHash &&
		bytes.Equal(x.Code, y.Code)
}
