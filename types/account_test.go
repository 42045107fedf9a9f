package types

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	etherTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeccak256Hash(t *testing.T) {
	assert.Equal(t, crypto.Keccak256Hash(nil), EmptyCodeHash)
	assert.Equal(t, crypto.Keccak256Hash([]byte{1, 2}, []byte{3}), Keccak256Hash([]byte{1, 2}, []byte{3}))
}

func TestNewAccountInfo(t *testing.T) {
	eoa := NewAccountInfo(uint256.NewInt(5), 0, nil)
	assert.True(t, eoa.Exists)
	assert.False(t, eoa.HasCode())
	assert.Equal(t, EmptyCodeHash, eoa.CodeHash)

	code := []byte{0x60, 0x00, 0x00}
	contract := NewAccountInfo(nil, 0, code)
	assert.True(t, contract.Exists)
	assert.True(t, contract.HasCode())
	assert.Equal(t, crypto.Keccak256Hash(code), contract.CodeHash)
	assert.True(t, contract.Balance.IsZero())

	empty := NewAccountInfo(nil, 0, nil)
	assert.False(t, empty.Exists)
	assert.True(t, empty.IsEmpty())
	assert.True(t, empty.Equal(NonExistent()))
}

func TestAccountInfoClone(t *testing.T) {
	info := NewAccountInfo(uint256.NewInt(1), 2, []byte{0xfe})
	cpy := info.Clone()
	cpy.Balance.SetUint64(100)
	cpy.Code[0] = 0x00

	assert.Equal(t, uint64(1), info.Balance.Uint64())
	assert.Equal(t, []byte{0xfe}, info.Code)
	assert.Equal(t, big.NewInt(1), info.BalanceBig())
}

func TestAccountInfoNormalizeKeepsFetchedHash(t *testing.T) {
	hash := common.HexToHash("0x1234")
	info := AccountInfo{CodeHash: hash, Exists: true}.Normalize()
	assert.Equal(t, hash, info.CodeHash)
	assert.True(t, info.HasCode())
	assert.NotNil(t, info.Balance)
}

func TestMappingSlot(t *testing.T) {
	holder := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	want := crypto.Keccak256Hash(
		common.LeftPadBytes(holder.Bytes(), 32),
		common.LeftPadBytes([]byte{3}, 32),
	)
	assert.Equal(t, want, MappingSlot(holder, 3))
}

func TestPinnedBlockFromHeader(t *testing.T) {
	header := &etherTypes.Header{
		Number:     big.NewInt(100),
		Time:       1700000000,
		Coinbase:   common.HexToAddress("0x01"),
		GasLimit:   30_000_000,
		Difficulty: big.NewInt(0),
		BaseFee:    big.NewInt(7),
	}
	block := PinnedBlockFromHeader(header)
	require.NoError(t, block.Validate())
	assert.Equal(t, uint64(100), block.NumberU64())
	assert.Equal(t, header.Hash(), block.Hash)

	cpy := block.Copy()
	cpy.Number.SetUint64(1)
	assert.Equal(t, uint64(100), block.NumberU64())

	assert.ErrorIs(t, PinnedBlock{}.Validate(), ErrMissingBlockNumber)
}

func TestChangeSet(t *testing.T) {
	changes := NewChangeSet()
	assert.True(t, changes.Empty())

	addr := common.HexToAddress("0x02")
	changes.SetStorage(addr, common.Hash{1}, common.Hash{2})
	assert.False(t, changes.Empty())
	assert.Equal(t, common.Hash{2}, changes.Storage[addr][common.Hash{1}])
}
