// Package signer holds the two ways a transaction gets signed: with a key held
// in process (Local) or by an external party that keeps the key (External).
// Callers only see the Signer capability.
package signer

import (
	"context"
	"crypto/ecdsa"
	"math/big"

	"github.com/MateoOdt/DigitalMedia2/pkg/errno"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

type Kind string

const (
	KindLocal    Kind = "local"
	KindExternal Kind = "external"
)

// Signer 交易签名能力
type Signer interface {
	Kind() Kind
	Address() common.Address
	SignTx(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// External 外部签名方 (Clef、节点托管账户等)，私钥不离开对方进程
type External interface {
	// RequestAccounts 请求对方暴露的账户，可能需要用户在对方界面确认
	RequestAccounts(ctx context.Context) ([]common.Address, error)
	SignTx(ctx context.Context, from common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// For 按账户选择签名方式: 持有私钥用 Local，否则交给 External
func For(addr common.Address, key *ecdsa.PrivateKey, ext External) (Signer, error) {
	if key != nil {
		if crypto.PubkeyToAddress(key.PublicKey) != addr {
			return nil, errno.ErrKeyMismatch
		}
		return NewLocal(key), nil
	}
	if ext == nil {
		return nil, errno.ErrSignerUnavailable
	}
	return NewExternal(ext, addr), nil
}

// LocalSigner 用进程内私钥签名 (EIP-155)
type LocalSigner struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

func NewLocal(key *ecdsa.PrivateKey) *LocalSigner {
	return &LocalSigner{key: key, addr: crypto.PubkeyToAddress(key.PublicKey)}
}

func (s *LocalSigner) Kind() Kind              { return KindLocal }
func (s *LocalSigner) Address() common.Address { return s.addr }

func (s *LocalSigner) SignTx(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	return types.SignTx(tx, types.NewEIP155Signer(chainID), s.key)
}

// ExternalSigner 把签名请求转发给 External
type ExternalSigner struct {
	ext  External
	from common.Address
}

func NewExternal(ext External, from common.Address) *ExternalSigner {
	return &ExternalSigner{ext: ext, from: from}
}

func (s *ExternalSigner) Kind() Kind              { return KindExternal }
func (s *ExternalSigner) Address() common.Address { return s.from }

func (s *ExternalSigner) SignTx(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	signed, err := s.ext.SignTx(ctx, s.from, tx, chainID)
	if err != nil {
		return nil, err
	}

	// 外部签名方可能换成别的账户签名，这里校验发送方
	sender, err := types.Sender(types.LatestSignerForChainID(chainID), signed)
	if err != nil {
		return nil, err
	}
	if sender != s.from {
		return nil, errno.ErrKeyMismatch
	}
	return signed, nil
}
