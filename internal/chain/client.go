package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/MateoOdt/DigitalMedia2/pkg/errno"
	"github.com/MateoOdt/DigitalMedia2/pkg/monitor"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// DefaultRPCTimeout 单次 RPC 调用的默认超时
const DefaultRPCTimeout = 10 * time.Second

var errNoNodeRPC = errors.New("raw node rpc not configured")

// Client 对 Backend 的每次调用施加超时并归类错误。
// 由应用入口 (Provider) 创建后注入各个服务，不存在包级单例
type Client struct {
	backend Backend
	node    NodeRPC
	timeout time.Duration

	mu      sync.Mutex
	chainID *big.Int
}

// NewClient node 可以为 nil (例如 simulated backend)，此时 eth_accounts 等原始调用返回错误
func NewClient(backend Backend, node NodeRPC, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultRPCTimeout
	}
	return &Client{backend: backend, node: node, timeout: timeout}
}

// Timeout 返回单次调用超时
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

func (c *Client) call(ctx context.Context, method string, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := fn(callCtx)
	monitor.ObserveRPC(method, start, err)
	return Classify(ctx, method, err)
}

// ChainID eth_chainId，成功后缓存
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	cached := c.chainID
	c.mu.Unlock()
	if cached != nil {
		return new(big.Int).Set(cached), nil
	}

	var id *big.Int
	err := c.call(ctx, "eth_chainId", func(ctx context.Context) (err error) {
		id, err = c.backend.ChainID(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.chainID = id
	c.mu.Unlock()
	return new(big.Int).Set(id), nil
}

// BalanceAt eth_getBalance (latest)，单位 wei
func (c *Client) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	var balance *big.Int
	err := c.call(ctx, "eth_getBalance", func(ctx context.Context) (err error) {
		balance, err = c.backend.BalanceAt(ctx, account, nil)
		return err
	})
	return balance, err
}

func (c *Client) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	var nonce uint64
	err := c.call(ctx, "eth_getTransactionCount", func(ctx context.Context) (err error) {
		nonce, err = c.backend.PendingNonceAt(ctx, account)
		return err
	})
	return nonce, err
}

func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	var price *big.Int
	err := c.call(ctx, "eth_gasPrice", func(ctx context.Context) (err error) {
		price, err = c.backend.SuggestGasPrice(ctx)
		return err
	})
	return price, err
}

func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	var gas uint64
	err := c.call(ctx, "eth_estimateGas", func(ctx context.Context) (err error) {
		gas, err = c.backend.EstimateGas(ctx, msg)
		return err
	})
	return gas, err
}

// SendTransaction eth_sendRawTransaction
func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	return c.call(ctx, "eth_sendRawTransaction", func(ctx context.Context) error {
		return c.backend.SendTransaction(ctx, tx)
	})
}

// TransactionReceipt 交易尚未打包时返回 (nil, nil)
func (c *Client) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	var receipt *types.Receipt
	err := c.call(ctx, "eth_getTransactionReceipt", func(ctx context.Context) (err error) {
		receipt, err = c.backend.TransactionReceipt(ctx, hash)
		if errors.Is(err, ethereum.NotFound) {
			receipt, err = nil, nil
		}
		return err
	})
	return receipt, err
}

// TransactionByHash 节点不认识该交易时返回 errno.ErrNotFound
func (c *Client) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	var (
		tx      *types.Transaction
		pending bool
	)
	err := c.call(ctx, "eth_getTransactionByHash", func(ctx context.Context) (err error) {
		tx, pending, err = c.backend.TransactionByHash(ctx, hash)
		return err
	})
	if errors.Is(err, ethereum.NotFound) {
		return nil, false, errno.ErrNotFound
	}
	return tx, pending, err
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var n uint64
	err := c.call(ctx, "eth_blockNumber", func(ctx context.Context) (err error) {
		n, err = c.backend.BlockNumber(ctx)
		return err
	})
	return n, err
}

// NetworkID net_version，节点返回十进制字符串
func (c *Client) NetworkID(ctx context.Context) (uint64, error) {
	var version string
	if err := c.rawCall(ctx, &version, "net_version"); err != nil {
		return 0, err
	}
	id, err := strconv.ParseUint(version, 0, 64)
	if err != nil {
		return 0, errno.Wrap("net_version", errno.ErrRPCProtocol, fmt.Errorf("无法解析 net_version %q: %w", version, err))
	}
	return id, nil
}

// Accounts eth_accounts，节点托管 (已解锁) 的账户列表
func (c *Client) Accounts(ctx context.Context) ([]common.Address, error) {
	var accounts []common.Address
	if err := c.rawCall(ctx, &accounts, "eth_accounts"); err != nil {
		return nil, err
	}
	return accounts, nil
}

// SendTxArgs eth_signTransaction 的参数
type SendTxArgs struct {
	From     common.Address  `json:"from"`
	To       *common.Address `json:"to"`
	Gas      hexutil.Uint64  `json:"gas"`
	GasPrice *hexutil.Big    `json:"gasPrice"`
	Value    *hexutil.Big    `json:"value"`
	Nonce    hexutil.Uint64  `json:"nonce"`
	Data     hexutil.Bytes   `json:"data"`
	ChainID  *hexutil.Big    `json:"chainId,omitempty"`
}

// SignTransaction eth_signTransaction，由节点用托管账户签名，返回已签名交易 (不广播)
func (c *Client) SignTransaction(ctx context.Context, args SendTxArgs) (*types.Transaction, error) {
	var res json.RawMessage
	if err := c.rawCall(ctx, &res, "eth_signTransaction", args); err != nil {
		return nil, err
	}
	raw, err := decodeSignedRaw(res)
	if err != nil {
		return nil, errno.Wrap("eth_signTransaction", errno.ErrRPCProtocol, err)
	}
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return nil, errno.Wrap("eth_signTransaction", errno.ErrRPCProtocol, err)
	}
	return tx, nil
}

// decodeSignedRaw geth 返回 {raw, tx}，ganache / anvil 直接返回十六进制串
func decodeSignedRaw(res json.RawMessage) (hexutil.Bytes, error) {
	var raw hexutil.Bytes
	if err := json.Unmarshal(res, &raw); err == nil {
		return raw, nil
	}
	var obj struct {
		Raw hexutil.Bytes `json:"raw"`
	}
	if err := json.Unmarshal(res, &obj); err != nil {
		return nil, fmt.Errorf("unexpected eth_signTransaction result: %w", err)
	}
	if len(obj.Raw) == 0 {
		return nil, errors.New("eth_signTransaction result has no raw transaction")
	}
	return obj.Raw, nil
}

func (c *Client) rawCall(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	if c.node == nil {
		return errno.Wrap(method, errno.ErrRPCProtocol, errNoNodeRPC)
	}
	return c.call(ctx, method, func(ctx context.Context) error {
		return c.node.CallContext(ctx, result, method, args...)
	})
}
