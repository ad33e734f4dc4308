// Package chaintest provides an in-process JSON-RPC node for tests.
// It serves the eth_* and net_* methods the wallet uses over go-ethereum's
// rpc.Server, so clients exercise the real ethclient encoding path.
package chaintest

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
)

// Node 是一个可编程的假节点
type Node struct {
	Eth *EthService
	Net *NetService

	server *rpc.Server
	dials  atomic.Int32
}

func NewNode(chainID int64) *Node {
	n := &Node{
		Eth: &EthService{
			chainID:  big.NewInt(chainID),
			gasPrice: big.NewInt(1_000_000_000),
			balances: make(map[common.Address]*big.Int),
			receipts: make(map[common.Hash]*types.Receipt),
			txs:      make(map[common.Hash]*types.Transaction),
			keys:     make(map[common.Address]*ecdsa.PrivateKey),
		},
		Net:    &NetService{version: big.NewInt(chainID).String()},
		server: rpc.NewServer(),
	}
	if err := n.server.RegisterName("eth", n.Eth); err != nil {
		panic(err)
	}
	if err := n.server.RegisterName("net", n.Net); err != nil {
		panic(err)
	}
	return n
}

// Dial 满足 chain.Dialer，并统计拨号次数
func (n *Node) Dial(ctx context.Context, url string) (*rpc.Client, error) {
	n.dials.Add(1)
	return rpc.DialInProc(n.server), nil
}

func (n *Node) Dials() int {
	return int(n.dials.Load())
}

func (n *Node) Stop() {
	n.server.Stop()
}

// EthService 实现 eth_ 命名空间的一个子集
type EthService struct {
	mu       sync.Mutex
	chainID  *big.Int
	gasPrice *big.Int
	block    uint64
	accounts []common.Address
	balances map[common.Address]*big.Int
	receipts map[common.Hash]*types.Receipt
	txs      map[common.Hash]*types.Transaction
	keys     map[common.Address]*ecdsa.PrivateKey

	chainIDErr   error
	gasPriceWait time.Duration
	// bareSignResult 为 true 时 eth_signTransaction 只返回 raw 十六进制串 (ganache / anvil)
	bareSignResult bool

	chainIDCalls atomic.Int32
	receiptCalls atomic.Int32
}

func (s *EthService) SetAccounts(accounts ...common.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts = accounts
}

// AddSigningAccount 节点托管的账户，eth_signTransaction 使用该私钥签名
func (s *EthService) AddSigningAccount(addr common.Address, key *ecdsa.PrivateKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts = append(s.accounts, addr)
	s.keys[addr] = key
}

// SetBareSignResult 切换 eth_signTransaction 的返回格式: geth 为 {raw, tx}，ganache / anvil 为十六进制串
func (s *EthService) SetBareSignResult(bare bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bareSignResult = bare
}

func (s *EthService) SetBalance(addr common.Address, wei *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[addr] = wei
}

func (s *EthService) SetBlockNumber(n uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.block = n
}

func (s *EthService) SetChainIDError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chainIDErr = err
}

// SetGasPriceDelay 让 eth_gasPrice 挂起一段时间，用于超时测试
func (s *EthService) SetGasPriceDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gasPriceWait = d
}

// Mine 为交易生成一个成功的回执
func (s *EthService) Mine(hash common.Hash, block uint64) *types.Receipt {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := &types.Receipt{
		Type:        types.LegacyTxType,
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      hash,
		GasUsed:     21000,
		BlockNumber: new(big.Int).SetUint64(block),
		Logs:        []*types.Log{},
	}
	s.receipts[hash] = r
	return r
}

func (s *EthService) ChainIDCalls() int { return int(s.chainIDCalls.Load()) }
func (s *EthService) ReceiptCalls() int { return int(s.receiptCalls.Load()) }

// SentTransactions 返回通过 eth_sendRawTransaction 收到的交易
func (s *EthService) SentTransactions() []*types.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.Transaction, 0, len(s.txs))
	for _, tx := range s.txs {
		out = append(out, tx)
	}
	return out
}

// ---- eth_* ----

func (s *EthService) ChainId() (*hexutil.Big, error) {
	s.chainIDCalls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chainIDErr != nil {
		return nil, s.chainIDErr
	}
	return (*hexutil.Big)(s.chainID), nil
}

func (s *EthService) Accounts() []common.Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]common.Address{}, s.accounts...)
}

func (s *EthService) BlockNumber() hexutil.Uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return hexutil.Uint64(s.block)
}

func (s *EthService) GetBalance(addr common.Address, block *string) *hexutil.Big {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.balances[addr]; ok {
		return (*hexutil.Big)(b)
	}
	return (*hexutil.Big)(big.NewInt(0))
}

func (s *EthService) GasPrice(ctx context.Context) (*hexutil.Big, error) {
	s.mu.Lock()
	wait, price := s.gasPriceWait, s.gasPrice
	s.mu.Unlock()

	if wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return (*hexutil.Big)(price), nil
}

func (s *EthService) GetTransactionCount(addr common.Address, block *string) hexutil.Uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n uint64
	for _, tx := range s.txs {
		if from, err := types.Sender(types.LatestSignerForChainID(s.chainID), tx); err == nil && from == addr {
			n++
		}
	}
	return hexutil.Uint64(n)
}

func (s *EthService) EstimateGas(args map[string]interface{}, block *string) (hexutil.Uint64, error) {
	return 21000, nil
}

func (s *EthService) SendRawTransaction(raw hexutil.Bytes) (common.Hash, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return common.Hash{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.txs[tx.Hash()]; ok {
		return common.Hash{}, errors.New("already known")
	}
	s.txs[tx.Hash()] = tx
	return tx.Hash(), nil
}

func (s *EthService) GetTransactionReceipt(hash common.Hash) *types.Receipt {
	s.receiptCalls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.receipts[hash]
}

func (s *EthService) GetTransactionByHash(hash common.Hash) *types.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txs[hash]
}

// SignTxArgs eth_signTransaction 参数
type SignTxArgs struct {
	From     common.Address  `json:"from"`
	To       *common.Address `json:"to"`
	Gas      hexutil.Uint64  `json:"gas"`
	GasPrice *hexutil.Big    `json:"gasPrice"`
	Value    *hexutil.Big    `json:"value"`
	Nonce    hexutil.Uint64  `json:"nonce"`
	Data     hexutil.Bytes   `json:"data"`
}

type SignTxResult struct {
	Raw hexutil.Bytes      `json:"raw"`
	Tx  *types.Transaction `json:"tx"`
}

func (s *EthService) SignTransaction(args SignTxArgs) (interface{}, error) {
	s.mu.Lock()
	key, ok := s.keys[args.From]
	chainID := s.chainID
	bare := s.bareSignResult
	s.mu.Unlock()
	if !ok {
		return nil, errors.New("unknown account")
	}
	if args.To == nil || args.GasPrice == nil || args.Value == nil {
		return nil, errors.New("missing transaction fields")
	}

	tx := types.NewTransaction(uint64(args.Nonce), *args.To, args.Value.ToInt(), uint64(args.Gas), args.GasPrice.ToInt(), args.Data)
	signed, err := types.SignTx(tx, types.NewEIP155Signer(chainID), key)
	if err != nil {
		return nil, err
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, err
	}
	if bare {
		return hexutil.Bytes(raw), nil
	}
	return &SignTxResult{Raw: raw, Tx: signed}, nil
}

// NetService 实现 net_version
type NetService struct {
	version string
}

func (s *NetService) Version() string {
	return s.version
}
