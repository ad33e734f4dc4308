package txcoord

import (
	"context"
	"errors"
	"math/big"

	"github.com/MateoOdt/DigitalMedia2/internal/chain"
	"github.com/MateoOdt/DigitalMedia2/internal/service/account"
	"github.com/MateoOdt/DigitalMedia2/internal/signer"
	"github.com/MateoOdt/DigitalMedia2/pkg/errno"
	"github.com/MateoOdt/DigitalMedia2/pkg/logger"
	"github.com/MateoOdt/DigitalMedia2/pkg/monitor"
	"github.com/MateoOdt/DigitalMedia2/pkg/unit"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// Recorder 在广播成功后持久化提交记录 (history 服务实现)
type Recorder interface {
	RecordSubmitted(ctx context.Context, res *SubmissionResult) error
}

// Coordinator 构造、签名、广播交易，并跟踪确认
type Coordinator struct {
	provider *chain.Provider
	external signer.External
	recorder Recorder
}

type Option func(*Coordinator)

// WithExternalSigner 没有私钥的账户交给该签名方
func WithExternalSigner(ext signer.External) Option {
	return func(c *Coordinator) { c.external = ext }
}

func WithRecorder(r Recorder) Option {
	return func(c *Coordinator) { c.recorder = r }
}

func NewCoordinator(provider *chain.Provider, opts ...Option) *Coordinator {
	c := &Coordinator{provider: provider}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit 向 recipient 转账 amountEther (十进制 ether 字符串)
func (c *Coordinator) Submit(ctx context.Context, sender account.Account, recipient common.Address, amountEther string) (*SubmissionResult, error) {
	value, err := unit.ParseEther(amountEther)
	if err != nil {
		monitor.RecordStageFailure("build")
		return nil, errno.Wrap("build", errno.ErrInvalidAmount, err)
	}
	return c.SubmitRequest(ctx, sender, TransactionRequest{
		From:  sender.Address,
		To:    recipient,
		Value: value,
	})
}

// SubmitRequest BUILDING → SIGNED → SUBMITTED，广播后立即返回。
// 任何阶段失败都不会重试，广播失败也不会调整 nonce
func (c *Coordinator) SubmitRequest(ctx context.Context, sender account.Account, req TransactionRequest) (*SubmissionResult, error) {
	res, stage, err := c.submit(ctx, sender, req)
	if err != nil {
		monitor.RecordStageFailure(stage)
		logger.Error("交易提交失败",
			zap.String("stage", stage),
			zap.String("from", req.From.Hex()),
			zap.String("to", req.To.Hex()),
			zap.Error(err))
		return nil, err
	}

	monitor.RecordSubmitted(string(res.SignedBy))
	logger.Info("交易已广播",
		zap.String("hash", res.Hash.Hex()),
		zap.String("from", req.From.Hex()),
		zap.String("to", req.To.Hex()),
		zap.String("value_ether", unit.ToEther(req.Value)),
		zap.Uint64("nonce", res.Nonce),
		zap.String("signer", string(res.SignedBy)))

	if c.recorder != nil {
		// 交易已经上链，记录失败不影响返回结果
		if rerr := c.recorder.RecordSubmitted(ctx, res); rerr != nil {
			logger.Error("交易记录写入失败", zap.String("hash", res.Hash.Hex()), zap.Error(rerr))
		}
	}
	return res, nil
}

func (c *Coordinator) submit(ctx context.Context, sender account.Account, req TransactionRequest) (*SubmissionResult, string, error) {
	// 1. BUILDING
	if req.Value == nil || req.Value.Sign() < 0 {
		return nil, "build", errno.Wrap("build", errno.ErrInvalidAmount, errors.New("value must be a non-negative wei amount"))
	}
	if req.From == (common.Address{}) {
		req.From = sender.Address
	}
	if req.From != sender.Address {
		return nil, "build", errno.Wrap("build", errno.ErrKeyMismatch, errors.New("request sender differs from account"))
	}

	client, err := c.provider.Get(ctx)
	if err != nil {
		return nil, "build", err
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, "build", errno.Wrap("build", errno.ErrBuild, err)
	}

	var nonce uint64
	if req.Nonce != nil {
		nonce = *req.Nonce
	} else if nonce, err = client.PendingNonceAt(ctx, req.From); err != nil {
		return nil, "build", errno.Wrap("build", errno.ErrBuild, err)
	}

	gasPrice := req.GasPrice
	if gasPrice == nil {
		if gasPrice, err = client.SuggestGasPrice(ctx); err != nil {
			return nil, "build", errno.Wrap("build", errno.ErrBuild, err)
		}
	}

	gasLimit := req.GasLimit
	if gasLimit == 0 {
		to := req.To
		gasLimit, err = client.EstimateGas(ctx, ethereum.CallMsg{
			From:     req.From,
			To:       &to,
			GasPrice: gasPrice,
			Value:    req.Value,
		})
		if err != nil {
			return nil, "estimate", errno.Wrap("estimate", errno.ErrGasEstimation, err)
		}
	}

	tx := types.NewTransaction(nonce, req.To, new(big.Int).Set(req.Value), gasLimit, new(big.Int).Set(gasPrice), nil)

	// 2. SIGNED
	s, err := signer.For(sender.Address, sender.PrivateKey, c.external)
	if err != nil {
		return nil, "sign", errno.Wrap("sign", errno.ErrSigning, err)
	}
	signed, err := s.SignTx(ctx, tx, chainID)
	if err != nil {
		return nil, "sign", errno.Wrap("sign", errno.ErrSigning, err)
	}

	// 3. SUBMITTED
	if err := client.SendTransaction(ctx, signed); err != nil {
		return nil, "broadcast", errno.Wrap("broadcast", errno.ErrBroadcast, err)
	}

	return &SubmissionResult{
		Hash:     signed.Hash(),
		Request:  req,
		Nonce:    nonce,
		GasLimit: gasLimit,
		GasPrice: gasPrice,
		ChainID:  chainID,
		SignedBy: s.Kind(),
	}, "", nil
}

// Lookup 按哈希查询交易，已上链时附带回执
func (c *Coordinator) Lookup(ctx context.Context, hash common.Hash) (*TxDetails, error) {
	client, err := c.provider.Get(ctx)
	if err != nil {
		return nil, err
	}
	tx, pending, err := client.TransactionByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	from, err := types.Sender(types.LatestSignerForChainID(chainID), tx)
	if err != nil {
		return nil, errno.Wrap("lookup", errno.ErrRPCProtocol, err)
	}

	details := &TxDetails{Tx: tx, From: from, Pending: pending}
	if !pending {
		if details.Receipt, err = client.TransactionReceipt(ctx, hash); err != nil {
			return nil, err
		}
	}
	return details, nil
}
