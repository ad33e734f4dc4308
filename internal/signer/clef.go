package signer

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/external"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ClefSigner 通过 Clef (go-ethereum 外部签名器) 管理账户与签名。
// 每个请求都需要用户在 Clef 界面确认，调用会阻塞到确认或拒绝
type ClefSigner struct {
	ext *external.ExternalSigner
}

// DialClef 连接 Clef 的 RPC 端点，例如 http://localhost:8550
func DialClef(endpoint string) (*ClefSigner, error) {
	ext, err := external.NewExternalSigner(endpoint)
	if err != nil {
		return nil, fmt.Errorf("连接 Clef 失败: %w", err)
	}
	return &ClefSigner{ext: ext}, nil
}

func (c *ClefSigner) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	// Clef 客户端 API 不接收 context，放到 goroutine 中以便调用方取消
	done := make(chan []accounts.Account, 1)
	go func() { done <- c.ext.Accounts() }()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case accs := <-done:
		addrs := make([]common.Address, 0, len(accs))
		for _, a := range accs {
			addrs = append(addrs, a.Address)
		}
		return addrs, nil
	}
}

func (c *ClefSigner) SignTx(ctx context.Context, from common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	type result struct {
		tx  *types.Transaction
		err error
	}
	done := make(chan result, 1)
	go func() {
		signed, err := c.ext.SignTx(accounts.Account{Address: from}, tx, chainID)
		done <- result{signed, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		return r.tx, r.err
	}
}
