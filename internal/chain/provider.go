package chain

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MateoOdt/DigitalMedia2/pkg/errno"
	"github.com/MateoOdt/DigitalMedia2/pkg/logger"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
)

var errProviderClosed = errors.New("provider closed")

// Dialer 建立底层 RPC 连接，测试中替换为 rpc.DialInProc
type Dialer func(ctx context.Context, url string) (*rpc.Client, error)

// Provider 惰性创建并缓存唯一的 Client。
// 第一次 Get 时才拨号，失败不缓存，下一次 Get 会重新拨号。
type Provider struct {
	url     string
	timeout time.Duration
	dial    Dialer

	mu     sync.Mutex
	client *Client
	conn   *rpc.Client
}

type ProviderOption func(*Provider)

func WithDialer(d Dialer) ProviderOption {
	return func(p *Provider) { p.dial = d }
}

func NewProvider(url string, timeout time.Duration, opts ...ProviderOption) *Provider {
	if timeout <= 0 {
		timeout = DefaultRPCTimeout
	}
	p := &Provider{
		url:     url,
		timeout: timeout,
		dial:    rpc.DialContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewStaticProvider 包装一个现成的 Client (simulated backend、测试替身)，不会拨号
func NewStaticProvider(c *Client) *Provider {
	return &Provider{client: c, timeout: c.Timeout()}
}

// Get 返回共享 Client。并发的首次调用会串行化，最多只建立一个连接
func (p *Provider) Get(ctx context.Context) (*Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil {
		return p.client, nil
	}
	if p.dial == nil {
		return nil, errno.Wrap("dial", errno.ErrConnection, errProviderClosed)
	}

	dialCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	conn, err := p.dial(dialCtx, p.url)
	if err != nil {
		logger.Error("RPC 节点连接失败", zap.String("url", p.url), zap.Error(err))
		return nil, errno.Wrap("dial", errno.ErrConnection, err)
	}

	client := NewClient(ethclient.NewClient(conn), conn, p.timeout)

	// HTTP 拨号不会真正建连，用 eth_chainId 探测节点是否可达
	chainID, err := client.ChainID(ctx)
	if err != nil {
		conn.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.Error("RPC 节点探测失败", zap.String("url", p.url), zap.Error(err))
		return nil, errno.Wrap("dial", errno.ErrConnection, err)
	}

	logger.Info("RPC 节点已连接", zap.String("url", p.url), zap.String("chain_id", chainID.String()))
	p.client = client
	p.conn = conn
	return client, nil
}

// Close 释放连接，之后的 Get 会重新拨号
func (p *Provider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn != nil {
		p.conn.Close()
	}
	p.client = nil
	p.conn = nil
}
