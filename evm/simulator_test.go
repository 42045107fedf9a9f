package evm

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core"
	etherTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/theneverse/fork-kit/fork"
	"github.com/theneverse/fork-kit/fork/forktest"
	"github.com/theneverse/fork-kit/tokens"
	"github.com/theneverse/fork-kit/types"
)

var (
	pinned = types.PinnedBlock{
		Number:   big.NewInt(1000),
		Hash:     common.HexToHash("0x1000"),
		Time:     1700000000,
		GasLimit: 30_000_000,
	}
	caller   = common.HexToAddress("0x00000000000000000000000000000000000ca11e")
	alice    = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	contract = common.HexToAddress("0x00000000000000000000000000000000000c0de0")

	// PUSH1 7 PUSH1 1 SSTORE STOP
	storeSeven = []byte{0x60, 0x07, 0x60, 0x01, 0x55, 0x00}
	sevenSlot  = common.BigToHash(big.NewInt(1))
)

func testLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return logger
}

func newTestSimulator(t *testing.T, conn *forktest.Connector, opts ...SimulatorOption) (*fork.Factory, *Simulator) {
	f, err := fork.NewFactory(context.Background(), conn, pinned, fork.WithLogger(testLogger()))
	require.Nil(t, err)
	opts = append([]SimulatorOption{
		WithChainConfig(params.AllEthashProtocolChanges),
		WithLogger(testLogger()),
	}, opts...)
	return f, NewSimulator(f, opts...)
}

func TestSimulator_CommitIsVisibleToSiblings(t *testing.T) {
	conn := forktest.NewConnector()
	conn.SetAccount(contract, big.NewInt(0), 1, storeSeven)
	f, sim := newTestSimulator(t, conn)
	f.OverrideAccount(caller, types.NewAccountInfo(uint256.NewInt(params.Ether), 0, nil))

	p := NewParams(caller, contract, nil)
	p.SetApplyChanges(true)
	res, err := sim.Call(p)
	require.Nil(t, err)
	assert.False(t, res.Reverted)
	assert.Nil(t, res.Err)
	assert.Greater(t, res.GasUsed, uint64(21000))

	value, err := f.NewView().Storage(contract, sevenSlot)
	require.Nil(t, err)
	assert.Equal(t, common.BigToHash(big.NewInt(7)), value)

	// the caller nonce advanced and its balance was kept
	info, err := f.NewView().Basic(caller)
	require.Nil(t, err)
	assert.Equal(t, uint64(1), info.Nonce)
	assert.Equal(t, uint64(params.Ether), info.Balance.Uint64())
}

func TestSimulator_PreviewDoesNotCommit(t *testing.T) {
	conn := forktest.NewConnector()
	conn.SetAccount(contract, big.NewInt(0), 1, storeSeven)
	f, sim := newTestSimulator(t, conn)

	res, err := sim.Call(NewParams(caller, contract, nil))
	require.Nil(t, err)
	assert.False(t, res.Failed())
	assert.Equal(t, common.BigToHash(big.NewInt(7)), res.Changes.Storage[contract][sevenSlot])

	value, err := f.NewView().Storage(contract, sevenSlot)
	require.Nil(t, err)
	assert.Equal(t, common.Hash{}, value)

	info, err := f.NewView().Basic(caller)
	require.Nil(t, err)
	assert.Equal(t, uint64(0), info.Nonce)
}

func TestSimulator_Revert(t *testing.T) {
	conn := forktest.NewConnector()
	// PUSH1 0 PUSH1 0 REVERT
	conn.SetAccount(contract, big.NewInt(0), 1, []byte{0x60, 0x00, 0x60, 0x00, 0xfd})
	_, sim := newTestSimulator(t, conn)

	res, err := sim.Call(NewParams(caller, contract, nil))
	require.Nil(t, err)
	assert.True(t, res.Reverted)
	assert.True(t, errors.Is(res.Err, vm.ErrExecutionReverted))
	assert.Greater(t, res.GasUsed, uint64(0))
	_, err = res.RevertReason()
	assert.Error(t, err)
}

func TestSimulator_LogsAndOutput(t *testing.T) {
	conn := forktest.NewConnector()
	// PUSH1 0 PUSH1 0 LOG0 PUSH1 42 PUSH1 0 MSTORE PUSH1 32 PUSH1 0 RETURN
	conn.SetAccount(contract, big.NewInt(0), 1, common.FromHex("0x60006000a0602a60005260206000f3"))
	_, sim := newTestSimulator(t, conn)

	res, err := sim.Call(NewParams(caller, contract, nil))
	require.Nil(t, err)
	assert.False(t, res.Reverted)
	require.Len(t, res.Logs, 1)
	assert.Equal(t, contract, res.Logs[0].Address)
	assert.Equal(t, uint64(1000), res.Logs[0].BlockNumber)
	assert.Equal(t, pinned.Hash, res.Logs[0].BlockHash)
	assert.Equal(t, common.BigToHash(big.NewInt(42)).Bytes(), res.Output)
}

func TestSimulator_BlockHash(t *testing.T) {
	conn := forktest.NewConnector()
	header := &etherTypes.Header{Number: big.NewInt(999), Difficulty: big.NewInt(1)}
	conn.SetHeader(header)
	// PUSH2 999 BLOCKHASH PUSH1 0 MSTORE PUSH1 32 PUSH1 0 RETURN
	conn.SetAccount(contract, big.NewInt(0), 1, common.FromHex("0x6103e74060005260206000f3"))
	_, sim := newTestSimulator(t, conn)

	res, err := sim.Call(NewParams(caller, contract, nil))
	require.Nil(t, err)
	assert.Equal(t, header.Hash().Bytes(), res.Output)
}

func TestSimulator_BalanceCheck(t *testing.T) {
	conn := forktest.NewConnector()
	conn.SetAccount(alice, big.NewInt(1), 0, nil)
	f, sim := newTestSimulator(t, conn)

	p := NewParams(caller, alice, nil)
	p.SetValue(big.NewInt(5))
	p.SetApplyChanges(true)
	res, err := sim.Call(p)
	require.Nil(t, err)
	assert.False(t, res.Failed())

	info, err := f.NewView().Basic(alice)
	require.Nil(t, err)
	assert.Equal(t, uint64(6), info.Balance.Uint64())

	strict := NewSimulator(f.Fork(), WithBalanceCheck(true), WithLogger(testLogger()))
	p.SetCaller(common.HexToAddress("0x0b0d"))
	_, err = strict.Call(p)
	assert.True(t, errors.Is(err, core.ErrInsufficientFunds))
}

func TestSimulator_FetchErrorAborts(t *testing.T) {
	conn := forktest.NewConnector()
	_, sim := newTestSimulator(t, conn)
	conn.FailWith(errors.New("node down"))

	_, err := sim.Call(NewParams(caller, contract, nil))
	require.Error(t, err)
	assert.True(t, errors.Is(err, fork.ErrRemoteFetchFailed))
}

func TestSimulator_Defaults(t *testing.T) {
	conn := forktest.NewConnector()
	f, err := fork.NewFactory(context.Background(), conn, types.PinnedBlock{Number: big.NewInt(1)}, fork.WithLogger(testLogger()))
	require.Nil(t, err)
	sim := NewSimulator(f)
	assert.Equal(t, DefaultGasLimit, sim.gasLimit)
	assert.Equal(t, DefaultCoinbase, sim.coinbase)
	assert.False(t, sim.balanceCheck)
	assert.Equal(t, 3, sim.Tokens().Len())
}

func TestSimulator_InsertDummyAccount(t *testing.T) {
	conn := forktest.NewConnector()
	f, sim := newTestSimulator(t, conn)

	eoa, err := sim.InsertDummyAccount(EOA, nil)
	require.Nil(t, err)
	info, err := f.NewView().Basic(eoa)
	require.Nil(t, err)
	assert.Equal(t, uint64(params.Ether), info.Balance.Uint64())
	assert.False(t, info.HasCode())

	deployed, err := sim.InsertDummyAccount(Contract, storeSeven)
	require.Nil(t, err)
	assert.NotEqual(t, eoa, deployed)
	info, err = f.NewView().Basic(deployed)
	require.Nil(t, err)
	assert.True(t, info.HasCode())
	assert.True(t, info.Balance.IsZero())

	_, err = sim.InsertDummyAccount(Contract, nil)
	assert.Error(t, err)
	assert.Equal(t, 0, conn.TotalCalls())
}

func TestSimulator_FundToken(t *testing.T) {
	token := common.HexToAddress("0x00000000000000000000000000000000000070c0")
	// balanceOf(address): return sload(keccak256(holder . 5))
	conn := forktest.NewConnector()
	conn.SetAccount(token, big.NewInt(0), 1, common.FromHex("0x600435600052600560205260406000205460005260206000f3"))
	registry := tokens.NewRegistry(tokens.Token{Symbol: "MOCK", Address: token, Decimals: 18, BalanceSlot: 5})
	f, sim := newTestSimulator(t, conn, WithTokens(registry))

	require.Nil(t, sim.FundToken(alice, token, big.NewInt(1234)))
	value, err := f.NewView().Storage(token, tokens.BalanceSlot(alice, 5))
	require.Nil(t, err)
	assert.Equal(t, common.BigToHash(big.NewInt(1234)), value)

	balance, err := sim.TokenBalance(alice, token)
	require.Nil(t, err)
	assert.Equal(t, int64(1234), balance.Int64())

	err = sim.FundToken(alice, common.HexToAddress("0x01"), big.NewInt(1))
	assert.True(t, errors.Is(err, ErrUnknownToken))
	assert.Error(t, sim.FundToken(alice, token, big.NewInt(-1)))
}

func TestSimulator_LiteralOverrides(t *testing.T) {
	conn := forktest.NewConnector()
	f, sim := newTestSimulator(t, conn, WithBalanceCheck(true))
	f.OverrideAccount(caller, types.AccountInfo{Balance: uint256.NewInt(params.Ether)})
	f.OverrideAccount(contract, types.AccountInfo{Code: storeSeven})

	p := NewParams(caller, contract, nil)
	p.SetValue(big.NewInt(1))
	p.SetApplyChanges(true)
	res, err := sim.Call(p)
	require.Nil(t, err)
	require.False(t, res.Failed())
	assert.NotContains(t, res.Changes.Wiped, caller)
	assert.NotContains(t, res.Changes.Wiped, contract)

	value, err := f.NewView().Storage(contract, sevenSlot)
	require.Nil(t, err)
	assert.Equal(t, common.BigToHash(big.NewInt(7)), value)

	info, err := f.NewView().Basic(caller)
	require.Nil(t, err)
	assert.Equal(t, uint64(1), info.Nonce)
	assert.Equal(t, uint64(params.Ether-1), info.Balance.Uint64())

	info, err = f.NewView().Basic(contract)
	require.Nil(t, err)
	assert.True(t, info.HasCode())
	assert.Equal(t, uint64(1), info.Balance.Uint64())
}

func TestSimulator_FundWETH(t *testing.T) {
	weth := common.HexToAddress("0x000000000000000000000000000000000000e7e0")
	conn := forktest.NewConnector()
	conn.SetAccount(weth, big.NewInt(0), 1, common.FromHex("0x600435600052600360205260406000205460005260206000f3"))
	registry := tokens.NewRegistry(tokens.Token{Symbol: "WETH", Address: weth, Decimals: 18, BalanceSlot: 3})
	_, sim := newTestSimulator(t, conn, WithTokens(registry))

	amount := new(big.Int).SetUint64(params.Ether)
	require.Nil(t, sim.FundWETH(alice, amount))
	balance, err := sim.TokenBalance(alice, weth)
	require.Nil(t, err)
	assert.Equal(t, 0, amount.Cmp(balance))

	_, bare := newTestSimulator(t, conn, WithTokens(tokens.NewRegistry()))
	assert.True(t, errors.Is(bare.FundWETH(alice, amount), ErrUnknownToken))
}
