// Package forktest provides an in-memory remote node for tests of code built
// on fork factories.
package forktest

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Method names counted by Connector.
const (
	Balance = "BalanceAt"
	Nonce   = "NonceAt"
	Code    = "CodeAt"
	Storage = "StorageAt"
	Header  = "HeaderByNumber"
)

type account struct {
	balance *big.Int
	nonce   uint64
	code    []byte
}

// Connector serves fixed chain state and counts the calls it receives.
type Connector struct {
	lock     sync.Mutex
	accounts map[common.Address]account
	storage  map[common.Address]map[common.Hash]common.Hash
	headers  map[uint64]*types.Header
	calls    map[string]int
	err      error
	delay    time.Duration
}

// NewConnector returns a node without any state.
func NewConnector() *Connector {
	return &Connector{
		accounts: make(map[common.Address]account),
		storage:  make(map[common.Address]map[common.Hash]common.Hash),
		headers:  make(map[uint64]*types.Header),
		calls:    make(map[string]int),
	}
}

// SetAccount stores an account.
func (c *Connector) SetAccount(addr common.Address, balance *big.Int, nonce uint64, code []byte) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.accounts[addr] = account{balance: new(big.Int).Set(balance), nonce: nonce, code: common.CopyBytes(code)}
}

// SetStorage stores a slot value.
func (c *Connector) SetStorage(addr common.Address, slot, value common.Hash) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.storage[addr] == nil {
		c.storage[addr] = make(map[common.Hash]common.Hash)
	}
	c.storage[addr][slot] = value
}

// SetHeader stores a canonical header.
func (c *Connector) SetHeader(header *types.Header) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.headers[header.Number.Uint64()] = header
}

// FailWith makes every following call return err. A nil err restores service.
func (c *Connector) FailWith(err error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.err = err
}

// SetDelay makes every call sleep before answering.
func (c *Connector) SetDelay(d time.Duration) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.delay = d
}

// Calls returns the number of calls of method.
func (c *Connector) Calls(method string) int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.calls[method]
}

// TotalCalls returns the number of calls of any method.
func (c *Connector) TotalCalls() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	total := 0
	for _, n := range c.calls {
		total += n
	}
	return total
}

func (c *Connector) enter(ctx context.Context, method string) error {
	c.lock.Lock()
	c.calls[method]++
	delay, err := c.delay, c.err
	c.lock.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (c *Connector) BalanceAt(ctx context.Context, addr common.Address, _ *big.Int) (*big.Int, error) {
	if err := c.enter(ctx, Balance); err != nil {
		return nil, err
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	if acc, ok := c.accounts[addr]; ok {
		return new(big.Int).Set(acc.balance), nil
	}
	return new(big.Int), nil
}

func (c *Connector) NonceAt(ctx context.Context, addr common.Address, _ *big.Int) (uint64, error) {
	if err := c.enter(ctx, Nonce); err != nil {
		return 0, err
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.accounts[addr].nonce, nil
}

func (c *Connector) CodeAt(ctx context.Context, addr common.Address, _ *big.Int) ([]byte, error) {
	if err := c.enter(ctx, Code); err != nil {
		return nil, err
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	return common.CopyBytes(c.accounts[addr].code), nil
}

func (c *Connector) StorageAt(ctx context.Context, addr common.Address, slot common.Hash, _ *big.Int) ([]byte, error) {
	if err := c.enter(ctx, Storage); err != nil {
		return nil, err
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	value := c.storage[addr][slot]
	return value.Bytes(), nil
}

func (c *Connector) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	if err := c.enter(ctx, Header); err != nil {
		return nil, err
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	if number == nil {
		var latest *types.Header
		for _, h := range c.headers {
			if latest == nil || h.Number.Cmp(latest.Number) > 0 {
				latest = h
			}
		}
		if latest == nil {
			return nil, ethereum.NotFound
		}
		return types.CopyHeader(latest), nil
	}
	if h, ok := c.headers[number.Uint64()]; ok {
		return types.CopyHeader(h), nil
	}
	return nil, ethereum.NotFound
}
