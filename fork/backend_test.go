package fork

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	etherTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/golang/mock/gomock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/theneverse/fork-kit/fork/forktest"
	"github.com/theneverse/fork-kit/fork/mock_fork"
	"github.com/theneverse/fork-kit/types"
)

var (
	pinned = types.PinnedBlock{
		Number:   big.NewInt(1000),
		Time:     1700000000,
		GasLimit: 30_000_000,
	}
	alice    = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	contract = common.HexToAddress("0x00000000000000000000000000000000000c0de0")
	code     = []byte{0x60, 0x07, 0x60, 0x01, 0x55, 0x00}
)

func testLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return logger
}

func TestBackend_AccountFetchedOnce(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	conn := mock_fork.NewMockConnector(ctrl)

	conn.EXPECT().BalanceAt(gomock.Any(), alice, pinned.Number).Return(big.NewInt(42), nil).Times(1)
	conn.EXPECT().NonceAt(gomock.Any(), alice, pinned.Number).Return(uint64(3), nil).Times(1)
	conn.EXPECT().CodeAt(gomock.Any(), alice, pinned.Number).Return(nil, nil).Times(1)

	backend := NewBackend(context.Background(), conn, pinned, testLogger())
	first, err := backend.Account(alice)
	require.Nil(t, err)
	second, err := backend.Account(alice)
	require.Nil(t, err)

	assert.True(t, first.Equal(second))
	assert.Equal(t, uint64(42), first.Balance.Uint64())
	assert.Equal(t, uint64(3), first.Nonce)
	assert.True(t, first.Exists)
	assert.False(t, first.HasCode())
}

func TestBackend_NonExistentAccountIsCached(t *testing.T) {
	conn := forktest.NewConnector()
	backend := NewBackend(context.Background(), conn, pinned, testLogger())

	info, err := backend.Account(alice)
	require.Nil(t, err)
	assert.False(t, info.Exists)
	assert.True(t, info.Balance.IsZero())
	assert.Equal(t, types.EmptyCodeHash, info.CodeHash)

	_, err = backend.Account(alice)
	require.Nil(t, err)
	assert.Equal(t, 1, conn.Calls(forktest.Balance))
}

func TestBackend_CachedValueIsNotShared(t *testing.T) {
	conn := forktest.NewConnector()
	conn.SetAccount(alice, big.NewInt(5), 0, nil)
	backend := NewBackend(context.Background(), conn, pinned, testLogger())

	info, err := backend.Account(alice)
	require.Nil(t, err)
	info.Balance.SetUint64(1000)

	again, err := backend.Account(alice)
	require.Nil(t, err)
	assert.Equal(t, uint64(5), again.Balance.Uint64())
}

func TestBackend_ContractCodeIndexed(t *testing.T) {
	conn := forktest.NewConnector()
	conn.SetAccount(contract, big.NewInt(0), 1, code)
	backend := NewBackend(context.Background(), conn, pinned, testLogger())

	info, err := backend.Account(contract)
	require.Nil(t, err)
	assert.True(t, info.HasCode())
	assert.Equal(t, types.Keccak256Hash(code), info.CodeHash)

	indexed, ok := backend.Code(info.CodeHash)
	assert.True(t, ok)
	assert.Equal(t, code, indexed)
}

func TestBackend_FetchFailure(t *testing.T) {
	conn := forktest.NewConnector()
	conn.SetStorage(contract, common.Hash{1}, common.Hash{2})
	transport := errors.New("connection reset")
	conn.FailWith(transport)
	backend := NewBackend(context.Background(), conn, pinned, testLogger())

	_, err := backend.Storage(contract, common.Hash{1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRemoteFetchFailed))
	assert.True(t, errors.Is(err, transport))
	var fetchErr *FetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, "storage", fetchErr.Op)
	assert.Equal(t, 1, conn.Calls(forktest.Storage))

	_, err = backend.Account(alice)
	assert.True(t, errors.Is(err, ErrRemoteFetchFailed))

	// failures are not memoized, the next lookup goes to the node again
	conn.FailWith(nil)
	value, err := backend.Storage(contract, common.Hash{1})
	require.Nil(t, err)
	assert.Equal(t, common.Hash{2}, value)
	assert.Equal(t, 2, conn.Calls(forktest.Storage))
}

func TestBackend_ConcurrentFirstAccess(t *testing.T) {
	conn := forktest.NewConnector()
	conn.SetAccount(alice, big.NewInt(77), 9, nil)
	conn.SetStorage(contract, common.Hash{5}, common.Hash{6})
	conn.SetDelay(20 * time.Millisecond)
	backend := NewBackend(context.Background(), conn, pinned, testLogger())

	const n = 32
	var (
		wg       sync.WaitGroup
		accounts = make([]types.AccountInfo, n)
		values   = make([]common.Hash, n)
		errs     = make([]error, 2*n)
	)
	for i := 0; i < n; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			accounts[i], errs[2*i] = backend.Account(alice)
		}(i)
		go func(i int) {
			defer wg.Done()
			values[i], errs[2*i+1] = backend.Storage(contract, common.Hash{5})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.Nil(t, err)
	}
	for i := 0; i < n; i++ {
		assert.True(t, accounts[0].Equal(accounts[i]))
		assert.Equal(t, common.Hash{6}, values[i])
	}
	assert.Equal(t, 1, conn.Calls(forktest.Balance))
	assert.Equal(t, 1, conn.Calls(forktest.Nonce))
	assert.Equal(t, 1, conn.Calls(forktest.Code))
	assert.Equal(t, 1, conn.Calls(forktest.Storage))
}

func TestBackend_SlowFetchDoesNotBlockOtherKeys(t *testing.T) {
	conn := forktest.NewConnector()
	backend := NewBackend(context.Background(), conn, pinned, testLogger())

	// resolve one key, then slow the node down
	_, err := backend.Storage(contract, common.Hash{1})
	require.Nil(t, err)
	conn.SetDelay(200 * time.Millisecond)

	go func() {
		_, _ = backend.Storage(contract, common.Hash{2})
	}()
	time.Sleep(10 * time.Millisecond)

	start := time.Now()
	_, err = backend.Storage(contract, common.Hash{1})
	require.Nil(t, err)
	assert.Less(t, int64(time.Since(start)), int64(100*time.Millisecond))
}

func TestBackend_BlockHash(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	conn := mock_fork.NewMockConnector(ctrl)

	header := &etherTypes.Header{Number: big.NewInt(999), Difficulty: big.NewInt(1)}
	conn.EXPECT().HeaderByNumber(gomock.Any(), big.NewInt(999)).Return(header, nil).Times(1)
	conn.EXPECT().HeaderByNumber(gomock.Any(), big.NewInt(5)).Return(nil, ethereum.NotFound).Times(1)

	block := pinned.Copy()
	block.Hash = common.HexToHash("0xbeef")
	backend := NewBackend(context.Background(), conn, block, testLogger())

	for i := 0; i < 2; i++ {
		hash, err := backend.BlockHash(999)
		require.Nil(t, err)
		assert.Equal(t, header.Hash(), hash)

		missing, err := backend.BlockHash(5)
		require.Nil(t, err)
		assert.Equal(t, common.Hash{}, missing)
	}

	// the pinned hash is known and later blocks do not exist yet
	hash, err := backend.BlockHash(1000)
	require.Nil(t, err)
	assert.Equal(t, block.Hash, hash)
	future, err := backend.BlockHash(2000)
	require.Nil(t, err)
	assert.Equal(t, common.Hash{}, future)
}

func TestBackend_BalanceOverflow(t *testing.T) {
	conn := forktest.NewConnector()
	conn.SetAccount(alice, new(big.Int).Lsh(big.NewInt(1), 300), 0, nil)
	backend := NewBackend(context.Background(), conn, pinned, testLogger())

	_, err := backend.Account(alice)
	assert.True(t, errors.Is(err, ErrRemoteFetchFailed))
}

func TestBackend_CanceledSession(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	conn := forktest.NewConnector()
	conn.SetDelay(time.Second)
	backend := NewBackend(ctx, conn, pinned, testLogger())

	cancel()
	_, err := backend.Account(alice)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRemoteFetchFailed))
	assert.True(t, errors.Is(err, context.Canceled))
}
