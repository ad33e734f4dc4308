package txcoord

import (
	"context"
	"errors"
	"iter"
	"time"

	"github.com/MateoOdt/DigitalMedia2/internal/chain"
	"github.com/MateoOdt/DigitalMedia2/pkg/errno"
	"github.com/MateoOdt/DigitalMedia2/pkg/logger"
	"github.com/MateoOdt/DigitalMedia2/pkg/monitor"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// TrackConfirmation 惰性轮询回执。第一次立即查询，之后每隔 PollInterval 查询一次，
// 最多 MaxAttempts 次。ctx 取消或调用方 break 后不再发出任何 RPC
func (c *Coordinator) TrackConfirmation(ctx context.Context, hash common.Hash, opts TrackOptions) iter.Seq[PollState] {
	opts = opts.withDefaults()

	return func(yield func(PollState) bool) {
		timer := time.NewTimer(0)
		defer timer.Stop()

		for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}
			if ctx.Err() != nil {
				return
			}

			state := c.poll(ctx, hash, attempt, opts)
			if ctx.Err() != nil {
				return
			}
			if state.Status == StatusPending && attempt == opts.MaxAttempts {
				state.Status = StatusTimedOut
			}

			if state.Status.Terminal() {
				monitor.RecordTrackOutcome(string(state.Status))
				logger.Info("交易跟踪结束",
					zap.String("hash", hash.Hex()),
					zap.String("status", string(state.Status)),
					zap.Int("attempt", attempt))
				yield(state)
				return
			}
			if !yield(state) {
				return
			}
			timer.Reset(opts.PollInterval)
		}
	}
}

// poll 单次查询，错误按可重试与否映射为 PENDING 或 FAILED
func (c *Coordinator) poll(ctx context.Context, hash common.Hash, attempt int, opts TrackOptions) PollState {
	monitor.RecordPollAttempt()
	state := PollState{Hash: hash, Attempt: attempt, MaxAttempts: opts.MaxAttempts, Status: StatusPending}

	client, err := c.provider.Get(ctx)
	if err != nil {
		// 节点暂时不可达不影响已广播的交易，继续轮询
		state.LastError = err
		return state
	}

	pollCtx, cancel := context.WithTimeout(ctx, pollTimeout(client.Timeout(), opts.PollInterval))
	defer cancel()

	receipt, err := client.TransactionReceipt(pollCtx, hash)
	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		err = errno.Wrap("eth_getTransactionReceipt", errno.ErrTimeout, err)
	}

	switch {
	case err != nil && chain.IsRetryable(err):
		state.LastError = err
		logger.Warn("回执查询失败，继续轮询", zap.String("hash", hash.Hex()), zap.Int("attempt", attempt), zap.Error(err))
	case err != nil:
		state.Status = StatusFailed
		state.LastError = err
	case receipt != nil && receipt.BlockNumber != nil:
		// 部分节点对未上链交易返回 blockNumber 为空的回执，仍视为 PENDING
		state.Status = StatusConfirmed
		state.Receipt = receipt
	}
	return state
}

func pollTimeout(rpcTimeout, interval time.Duration) time.Duration {
	return max(min(rpcTimeout, interval), minPollTimeout)
}

// WaitForConfirmation 消费完整个序列并返回终态。
// FAILED 返回致命错误，TIMED_OUT 返回 ErrTimeout，状态同时返回供调用方稍后重新跟踪
func (c *Coordinator) WaitForConfirmation(ctx context.Context, hash common.Hash, opts TrackOptions) (PollState, error) {
	var last PollState
	seen := false
	for state := range c.TrackConfirmation(ctx, hash, opts) {
		last, seen = state, true
	}

	switch {
	case !seen || !last.Status.Terminal():
		if err := ctx.Err(); err != nil {
			return last, err
		}
		return last, errno.Wrap("track", errno.ErrTrackFailed, errors.New("tracking ended without a terminal state"))
	case last.Status == StatusFailed:
		return last, errno.Wrap("track", errno.ErrTrackFailed, last.LastError)
	case last.Status == StatusTimedOut:
		return last, errno.Wrap("track", errno.ErrTimeout, last.LastError)
	}
	return last, nil
}
