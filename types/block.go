package types

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	etherTypes "github.com/ethereum/go-ethereum/core/types"
)

// ErrMissingBlockNumber is returned when a pinned block has no number.
var ErrMissingBlockNumber = errors.New("pinned block has no number")

// PinnedBlock is the block every lookup of a simulation session resolves
// against, together with the metadata needed to configure the EVM.
type PinnedBlock struct {
	Number     *big.Int
	Hash       common.Hash
	ParentHash common.Hash
	Time       uint64
	Coinbase   common.Address
	GasLimit   uint64
	Difficulty *big.Int
	BaseFee    *big.Int
}

// PinnedBlockFromHeader copies the fields of a chain header.
func PinnedBlockFromHeader(header *etherTypes.Header) PinnedBlock {
	block := PinnedBlock{
		Hash:       header.Hash(),
		ParentHash: header.ParentHash,
		Time:       header.Time,
		Coinbase:   header.Coinbase,
		GasLimit:   header.GasLimit,
	}
	if header.Number != nil {
		block.Number = new(big.Int).Set(header.Number)
	}
	if header.Difficulty != nil {
		block.Difficulty = new(big.Int).Set(header.Difficulty)
	}
	if header.BaseFee != nil {
		block.BaseFee = new(big.Int).Set(header.BaseFee)
	}
	return block
}

// Validate checks the metadata required to pin a session.
func (b PinnedBlock) Validate() error {
	if b.Number == nil || b.Number.Sign() < 0 {
		return ErrMissingBlockNumber
	}
	return nil
}

// NumberU64 returns the block number as uint64.
func (b PinnedBlock) NumberU64() uint64 {
	if b.Number == nil {
		return 0
	}
	return b.Number.Uint64()
}

// Copy returns a deep copy so callers can not mutate a pinned reference.
func (b PinnedBlock) Copy() PinnedBlock {
	cpy := b
	if b.Number != nil {
		cpy.Number = new(big.Int).Set(b.Number)
	}
	if b.Difficulty != nil {
		cpy.Difficulty = new(big.Int).Set(b.Difficulty)
	}
	if b.BaseFee != nil {
		cpy.BaseFee = new(big.Int).Set(b.BaseFee)
	}
	return cpy
}
