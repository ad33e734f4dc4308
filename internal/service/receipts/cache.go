package receipts

import (
	"context"
	"errors"
	"time"

	"github.com/MateoOdt/DigitalMedia2/pkg/cache"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// 回执上链后不可变，TTL 只用于回收空间
const DefaultTTL = 24 * time.Hour

// Cache 已上链回执的缓存，命中时跟踪无需再请求节点
type Cache struct {
	backend cache.Cache
	ttl     time.Duration
}

func NewCache(backend cache.Cache, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{backend: backend, ttl: ttl}
}

func key(hash common.Hash) string {
	return "receipt:" + hash.Hex()
}

// Put 缓存回执
func (c *Cache) Put(ctx context.Context, receipt *types.Receipt) error {
	if receipt.Logs == nil {
		// gencodec 要求 logs 字段存在
		cp := *receipt
		cp.Logs = []*types.Log{}
		receipt = &cp
	}
	return c.backend.Set(ctx, key(receipt.TxHash), receipt, c.ttl)
}

// Get 未命中返回 (nil, nil)
func (c *Cache) Get(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	var receipt types.Receipt
	err := c.backend.Get(ctx, key(hash), &receipt)
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &receipt, nil
}
