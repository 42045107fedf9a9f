// Package tokens holds the table of well-known ERC20 tokens used to fund
// accounts in a fork.
package tokens

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/theneverse/fork-kit/types"
)

// DefaultDecimals is used for tokens missing from a registry.
const DefaultDecimals = 18

// Token describes an ERC20 token and the storage slot of its balance mapping.
type Token struct {
	Symbol      string
	Address     common.Address
	Decimals    uint8
	BalanceSlot uint64
}

// BalanceKey returns the storage slot holding the balance of holder.
func (t Token) BalanceKey(holder common.Address) common.Hash {
	return BalanceSlot(holder, t.BalanceSlot)
}

// BalanceSlot computes the slot of holder in a balance mapping declared at
// mappingSlot.
func BalanceSlot(holder common.Address, mappingSlot uint64) common.Hash {
	return types.MappingSlot(holder, mappingSlot)
}

// Registry indexes tokens by address and symbol.
type Registry struct {
	byAddress map[common.Address]Token
	bySymbol  map[string]Token
}

func NewRegistry(tokens ...Token) *Registry {
	r := &Registry{
		byAddress: make(map[common.Address]Token, len(tokens)),
		bySymbol:  make(map[string]Token, len(tokens)),
	}
	for _, t := range tokens {
		r.Add(t)
	}
	return r
}

// Mainnet returns a fresh registry of WETH, USDT and USDC on Ethereum mainnet.
func Mainnet() *Registry {
	return NewRegistry(
		Token{Symbol: "WETH", Address: common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"), Decimals: 18, BalanceSlot: 3},
		Token{Symbol: "USDT", Address: common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7"), Decimals: 6, BalanceSlot: 2},
		Token{Symbol: "USDC", Address: common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"), Decimals: 6, BalanceSlot: 9},
	)
}

// Add registers a token, replacing any token with the same address or symbol.
func (r *Registry) Add(t Token) {
	if prev, ok := r.byAddress[t.Address]; ok {
		delete(r.bySymbol, strings.ToUpper(prev.Symbol))
	}
	if prev, ok := r.bySymbol[strings.ToUpper(t.Symbol)]; ok {
		delete(r.byAddress, prev.Address)
	}
	r.byAddress[t.Address] = t
	r.bySymbol[strings.ToUpper(t.Symbol)] = t
}

func (r *Registry) Lookup(addr common.Address) (Token, bool) {
	t, ok := r.byAddress[addr]
	return t, ok
}

// BySymbol looks a token up by its case-insensitive symbol.
func (r *Registry) BySymbol(symbol string) (Token, bool) {
	t, ok := r.bySymbol[strings.ToUpper(symbol)]
	return t, ok
}

// Decimals returns the decimals of a token, DefaultDecimals if unknown.
func (r *Registry) Decimals(addr common.Address) uint8 {
	if t, ok := r.Lookup(addr); ok {
		return t.Decimals
	}
	return DefaultDecimals
}

// Len returns the number of registered tokens.
func (r *Registry) Len() int {
	return len(r.byAddress)
}

// Format renders a raw token amount with four decimal places and the token
// symbol, e.g. "1.5000 WETH".
func (r *Registry) Format(amount *big.Int, addr common.Address) string {
	symbol := "Token"
	if t, ok := r.Lookup(addr); ok {
		symbol = t.Symbol
	}
	if amount == nil {
		amount = new(big.Int)
	}
	divisor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(r.Decimals(addr))), nil)
	value := new(big.Float).SetPrec(256).Quo(new(big.Float).SetInt(amount), new(big.Float).SetInt(divisor))
	return fmt.Sprintf("%s %s", value.Text('f', 4), symbol)
}
