package evm

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"
	"github.com/theneverse/fork-kit/tokens"
	"github.com/theneverse/fork-kit/types"
)

var ErrUnknownToken = errors.New("unknown token")

// AccountKind selects the shape of a dummy account.
type AccountKind int

const (
	EOA AccountKind = iota
	Contract
)

func (k AccountKind) String() string {
	switch k {
	case EOA:
		return "eoa"
	case Contract:
		return "contract"
	default:
		return fmt.Sprintf("AccountKind(%d)", int(k))
	}
}

// InsertDummyAccount creates an account at a random address. An EOA is
// funded with one ether, a contract gets code and no balance.
func (s *Simulator) InsertDummyAccount(kind AccountKind, code []byte) (common.Address, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return common.Address{}, fmt.Errorf("generate key: %w", err)
	}
	addr := crypto.PubkeyToAddress(key.PublicKey)

	var info types.AccountInfo
	switch kind {
	case EOA:
		info = types.NewAccountInfo(uint256.NewInt(params.Ether), 0, nil)
	case Contract:
		if len(code) == 0 {
			return common.Address{}, errors.New("contract account requires code")
		}
		info = types.NewAccountInfo(new(uint256.Int), 0, code)
	default:
		return common.Address{}, fmt.Errorf("unsupported account kind %s", kind)
	}
	s.session.OverrideAccount(addr, info)
	s.logger.WithFields(logrus.Fields{
		"address": addr.Hex(),
		"kind":    kind,
	}).Info("Inserted dummy account")
	return addr, nil
}

// FundToken sets the ERC20 balance of holder by writing the token's balance
// mapping slot.
func (s *Simulator) FundToken(holder, token common.Address, amount *big.Int) error {
	t, ok := s.tokens.Lookup(token)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownToken, token.Hex())
	}
	if amount.Sign() < 0 || amount.BitLen() > 256 {
		return fmt.Errorf("token amount %s out of range", amount)
	}
	if err := s.session.OverrideStorage(t.Address, t.BalanceKey(holder), common.BigToHash(amount)); err != nil {
		return err
	}
	s.logger.WithFields(logrus.Fields{
		"holder": holder.Hex(),
		"amount": s.tokens.Format(amount, token),
	}).Debug("Funded token balance")
	return nil
}

// FundWETH sets the WETH balance of holder, the token being looked up by
// symbol in the simulator's token table.
func (s *Simulator) FundWETH(holder common.Address, amount *big.Int) error {
	weth, ok := s.tokens.BySymbol("WETH")
	if !ok {
		return fmt.Errorf("%w: WETH", ErrUnknownToken)
	}
	return s.FundToken(holder, weth.Address, amount)
}

// TokenBalance reads the ERC20 balance of holder with a preview balanceOf call.
func (s *Simulator) TokenBalance(holder, token common.Address) (*big.Int, error) {
	data, err := tokens.PackBalanceOf(holder)
	if err != nil {
		return nil, err
	}
	res, err := s.Call(NewParams(holder, token, data))
	if err != nil {
		return nil, err
	}
	if res.Failed() {
		return nil, fmt.Errorf("balanceOf failed: %w", res.Err)
	}
	return tokens.UnpackBalance(res.Output)
}
