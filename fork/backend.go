package fork

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"
	"github.com/theneverse/fork-kit/types"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

var (
	cacheHitMeter   = metrics.NewRegisteredMeter("fork/backend/hit", nil)
	fetchMeter      = metrics.NewRegisteredMeter("fork/backend/fetch", nil)
	fetchFailMeter  = metrics.NewRegisteredMeter("fork/backend/fetch/fail", nil)
	fetchTimer      = metrics.NewRegisteredTimer("fork/backend/fetch/time", nil)
	errBalanceRange = errors.New("balance exceeds 256 bits")
)

// Backend is the session cache shared by every adapter of a factory. A miss is
// resolved by a blocking fetch from the connector at the pinned block and the
// result, including "does not exist", is kept for the rest of the session.
//
// Map locks are only held around map access, never during a fetch, and
// concurrent first lookups of one key share a single fetch.
type Backend struct {
	ctx    context.Context
	conn   Connector
	block  types.PinnedBlock
	logger logrus.FieldLogger

	accountsLock sync.RWMutex
	accounts     map[common.Address]types.AccountInfo

	storageLock sync.RWMutex
	storage     map[types.StorageKey]common.Hash

	hashesLock sync.RWMutex
	hashes     map[uint64]common.Hash

	codesLock sync.RWMutex
	codes     map[common.Hash][]byte

	flight singleflight.Group
}

// NewBackend creates an empty cache over conn, pinned to block.
func NewBackend(ctx context.Context, conn Connector, block types.PinnedBlock, logger logrus.FieldLogger) *Backend {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	b := &Backend{
		ctx:      ctx,
		conn:     conn,
		block:    block.Copy(),
		logger:   logger,
		accounts: make(map[common.Address]types.AccountInfo),
		storage:  make(map[types.StorageKey]common.Hash),
		hashes:   make(map[uint64]common.Hash),
		codes:    make(map[common.Hash][]byte),
	}
	if block.Hash != (common.Hash{}) {
		b.hashes[block.NumberU64()] = block.Hash
	}
	return b
}

// Account returns the account record at the pinned block.
func (b *Backend) Account(addr common.Address) (types.AccountInfo, error) {
	v, err := b.resolve("account:"+addr.Hex(),
		func() (interface{}, bool) {
			b.accountsLock.RLock()
			defer b.accountsLock.RUnlock()
			info, ok := b.accounts[addr]
			return info, ok
		},
		func() (interface{}, error) {
			info, err := b.fetchAccount(addr)
			if err != nil {
				return nil, &FetchError{Op: "account", Key: addr.Hex(), Err: err}
			}
			if info.HasCode() {
				b.codesLock.Lock()
				b.codes[info.CodeHash] = common.CopyBytes(info.Code)
				b.codesLock.Unlock()
			}
			b.accountsLock.Lock()
			b.accounts[addr] = info
			b.accountsLock.Unlock()
			return info, nil
		})
	if err != nil {
		return types.AccountInfo{}, err
	}
	return v.(types.AccountInfo).Clone(), nil
}

// Storage returns the value of a storage slot at the pinned block.
func (b *Backend) Storage(addr common.Address, slot common.Hash) (common.Hash, error) {
	key := types.StorageKey{Address: addr, Slot: slot}
	v, err := b.resolve("storage:"+addr.Hex()+slot.Hex(),
		func() (interface{}, bool) {
			b.storageLock.RLock()
			defer b.storageLock.RUnlock()
			value, ok := b.storage[key]
			return value, ok
		},
		func() (interface{}, error) {
			enc, err := b.conn.StorageAt(b.ctx, addr, slot, b.block.Number)
			if err != nil {
				return nil, &FetchError{Op: "storage", Key: fmt.Sprintf("%s/%s", addr.Hex(), slot.Hex()), Err: err}
			}
			value := common.BytesToHash(enc)
			b.storageLock.Lock()
			b.storage[key] = value
			b.storageLock.Unlock()
			return value, nil
		})
	if err != nil {
		return common.Hash{}, err
	}
	return v.(common.Hash), nil
}

// BlockHash returns the hash of a canonical block. Blocks after the pinned one
// and blocks unknown to the node hash to zero.
func (b *Backend) BlockHash(number uint64) (common.Hash, error) {
	if number > b.block.NumberU64() {
		return common.Hash{}, nil
	}
	v, err := b.resolve(fmt.Sprintf("blockhash:%d", number),
		func() (interface{}, bool) {
			b.hashesLock.RLock()
			defer b.hashesLock.RUnlock()
			hash, ok := b.hashes[number]
			return hash, ok
		},
		func() (interface{}, error) {
			var hash common.Hash
			header, err := b.conn.HeaderByNumber(b.ctx, new(big.Int).SetUint64(number))
			switch {
			case errors.Is(err, ethereum.NotFound):
			case err != nil:
				return nil, &FetchError{Op: "blockhash", Key: fmt.Sprint(number), Err: err}
			case header != nil:
				hash = header.Hash()
			}
			b.hashesLock.Lock()
			b.hashes[number] = hash
			b.hashesLock.Unlock()
			return hash, nil
		})
	if err != nil {
		return common.Hash{}, err
	}
	return v.(common.Hash), nil
}

// Code returns bytecode seen on any resolved account.
func (b *Backend) Code(hash common.Hash) ([]byte, bool) {
	b.codesLock.RLock()
	defer b.codesLock.RUnlock()
	code, ok := b.codes[hash]
	return common.CopyBytes(code), ok
}

// resolve runs lookup and, on a miss, fetch on the flight goroutine for key.
// The caller blocks until the flight completes. fetch must store its result
// before returning so that flights started afterwards find it in lookup.
func (b *Backend) resolve(key string, lookup func() (interface{}, bool), fetch func() (interface{}, error)) (interface{}, error) {
	if v, ok := lookup(); ok {
		cacheHitMeter.Mark(1)
		return v, nil
	}
	ch := b.flight.DoChan(key, func() (interface{}, error) {
		if v, ok := lookup(); ok {
			return v, nil
		}
		start := time.Now()
		v, err := fetch()
		fetchTimer.UpdateSince(start)
		if err != nil {
			fetchFailMeter.Mark(1)
			b.logger.WithFields(logrus.Fields{"key": key, "err": err}).Warn("Remote fetch failed")
			return nil, err
		}
		fetchMeter.Mark(1)
		b.logger.WithFields(logrus.Fields{"key": key, "elapsed": time.Since(start)}).Debug("Fetched remote state")
		return v, nil
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-b.ctx.Done():
		return nil, &FetchError{Op: "wait", Key: key, Err: b.ctx.Err()}
	}
}

func (b *Backend) fetchAccount(addr common.Address) (types.AccountInfo, error) {
	var (
		balance *big.Int
		nonce   uint64
		code    []byte
	)
	g, ctx := errgroup.WithContext(b.ctx)
	g.Go(func() (err error) {
		balance, err = b.conn.BalanceAt(ctx, addr, b.block.Number)
		return err
	})
	g.Go(func() (err error) {
		nonce, err = b.conn.NonceAt(ctx, addr, b.block.Number)
		return err
	})
	g.Go(func() (err error) {
		code, err = b.conn.CodeAt(ctx, addr, b.block.Number)
		return err
	})
	if err := g.Wait(); err != nil {
		return types.AccountInfo{}, err
	}
	bal := new(uint256.Int)
	if balance != nil {
		var overflow bool
		if bal, overflow = uint256.FromBig(balance); overflow {
			return types.AccountInfo{}, errBalanceRange
		}
	}
	return types.NewAccountInfo(bal, nonce, code), nil
}
