package signer

import (
	"context"
	"math/big"

	"github.com/MateoOdt/DigitalMedia2/internal/chain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// NodeClient 节点托管账户所需的 RPC 方法，*chain.Client 满足该接口
type NodeClient interface {
	Accounts(ctx context.Context) ([]common.Address, error)
	SignTransaction(ctx context.Context, args chain.SendTxArgs) (*types.Transaction, error)
}

// NodeSigner 使用节点已解锁的账户 (ganache / geth --dev) 签名: eth_accounts + eth_signTransaction
type NodeSigner struct {
	node NodeClient
}

func NewNodeSigner(node NodeClient) *NodeSigner {
	return &NodeSigner{node: node}
}

func (n *NodeSigner) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	return n.node.Accounts(ctx)
}

func (n *NodeSigner) SignTx(ctx context.Context, from common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	return n.node.SignTransaction(ctx, chain.SendTxArgs{
		From:     from,
		To:       tx.To(),
		Gas:      hexutil.Uint64(tx.Gas()),
		GasPrice: (*hexutil.Big)(tx.GasPrice()),
		Value:    (*hexutil.Big)(tx.Value()),
		Nonce:    hexutil.Uint64(tx.Nonce()),
		Data:     tx.Data(),
		ChainID:  (*hexutil.Big)(chainID),
	})
}

// providerNode 每次调用都从 Provider 取当前连接，节点重连后依然可用
type providerNode struct {
	provider *chain.Provider
}

// NewProviderNodeSigner 基于 Provider 的节点托管账户签名方
func NewProviderNodeSigner(provider *chain.Provider) *NodeSigner {
	return NewNodeSigner(providerNode{provider: provider})
}

func (p providerNode) Accounts(ctx context.Context) ([]common.Address, error) {
	client, err := p.provider.Get(ctx)
	if err != nil {
		return nil, err
	}
	return client.Accounts(ctx)
}

func (p providerNode) SignTransaction(ctx context.Context, args chain.SendTxArgs) (*types.Transaction, error) {
	client, err := p.provider.Get(ctx)
	if err != nil {
		return nil, err
	}
	return client.SignTransaction(ctx, args)
}
