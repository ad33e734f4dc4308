package txcoord

import (
	"math/big"
	"time"

	"github.com/MateoOdt/DigitalMedia2/internal/signer"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Status 交易生命周期状态
type Status string

const (
	StatusBuilding  Status = "BUILDING"
	StatusSigned    Status = "SIGNED"
	StatusSubmitted Status = "SUBMITTED"
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusFailed    Status = "FAILED"
	StatusTimedOut  Status = "TIMED_OUT"
)

// Terminal 跟踪是否到此结束。TIMED_OUT 也是终态，但同一个哈希可以重新跟踪
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusFailed || s == StatusTimedOut
}

const (
	DefaultPollInterval = 5 * time.Second
	DefaultMaxAttempts  = 60

	// 单次轮询的超时下限，避免极短的轮询间隔把每次调用都判成超时
	minPollTimeout = 250 * time.Millisecond
)

// TransactionRequest 构造阶段的输入，签名开始后不再修改
type TransactionRequest struct {
	From     common.Address
	To       common.Address
	Value    *big.Int // wei
	GasLimit uint64   // 0 表示 eth_estimateGas
	GasPrice *big.Int // nil 表示 eth_gasPrice
	Nonce    *uint64  // nil 表示 pending nonce
}

// SubmissionResult 广播成功后立即返回，不等待上链
type SubmissionResult struct {
	Hash     common.Hash
	Request  TransactionRequest
	Nonce    uint64
	GasLimit uint64
	GasPrice *big.Int
	ChainID  *big.Int
	SignedBy signer.Kind
}

// TrackOptions 零值字段使用默认值
type TrackOptions struct {
	PollInterval time.Duration
	MaxAttempts  int
}

func (o TrackOptions) withDefaults() TrackOptions {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	return o
}

// Span 一次完整跟踪的时长上限 MaxAttempts × PollInterval
func (o TrackOptions) Span() time.Duration {
	o = o.withDefaults()
	return time.Duration(o.MaxAttempts) * o.PollInterval
}

// PollState 每次轮询产出一个，最后一个为终态
type PollState struct {
	Hash        common.Hash
	Attempt     int
	MaxAttempts int
	Status      Status
	Receipt     *types.Receipt
	LastError   error
}

// Succeeded 已上链且执行成功 (CONFIRMED 也可能是 revert)
func (p PollState) Succeeded() bool {
	return p.Status == StatusConfirmed && p.Receipt != nil && p.Receipt.Status == types.ReceiptStatusSuccessful
}

// TxDetails 按哈希查询到的交易，Receipt 在未上链时为 nil
type TxDetails struct {
	Tx      *types.Transaction
	From    common.Address
	Pending bool
	Receipt *types.Receipt
}
