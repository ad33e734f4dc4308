package txcoord

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/MateoOdt/DigitalMedia2/internal/chain"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// rpcErr 模拟节点返回的 JSON-RPC 错误对象
type rpcErr struct {
	msg string
}

func (e rpcErr) Error() string  { return e.msg }
func (e rpcErr) ErrorCode() int { return -32000 }

// fakeBackend 可注入错误的 chain.Backend
type fakeBackend struct {
	mu sync.Mutex

	chainID     *big.Int
	nonce       uint64
	gasPrice    *big.Int
	estimateErr error
	sendErr     error
	// receipts 按调用顺序返回，用完后一直返回最后一个
	receipts []receiptResult

	estimateCalls int
	receiptCalls  int
	sent          []*types.Transaction
}

type receiptResult struct {
	receipt *types.Receipt
	err     error
	block   bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		chainID:  big.NewInt(1337),
		gasPrice: big.NewInt(2_000_000_000),
		receipts: []receiptResult{{err: ethereum.NotFound}},
	}
}

func (f *fakeBackend) provider(timeout time.Duration) *chain.Provider {
	return chain.NewStaticProvider(chain.NewClient(f, nil, timeout))
}

func (f *fakeBackend) ChainID(ctx context.Context) (*big.Int, error) {
	return f.chainID, nil
}

func (f *fakeBackend) BlockNumber(ctx context.Context) (uint64, error) {
	return 1, nil
}

func (f *fakeBackend) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (f *fakeBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonce, nil
}

func (f *fakeBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return f.gasPrice, nil
}

func (f *fakeBackend) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.estimateCalls++
	if f.estimateErr != nil {
		return 0, f.estimateErr
	}
	return 21000, nil
}

func (f *fakeBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return f.sendErr
}

func (f *fakeBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	i := f.receiptCalls
	f.receiptCalls++
	if i >= len(f.receipts) {
		i = len(f.receipts) - 1
	}
	r := f.receipts[i]
	f.mu.Unlock()

	if r.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return r.receipt, r.err
}

func (f *fakeBackend) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	return nil, false, ethereum.NotFound
}

func (f *fakeBackend) counts() (estimate, receipt, sent int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.estimateCalls, f.receiptCalls, len(f.sent)
}
