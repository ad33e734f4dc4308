package worker

import (
	"context"
	"encoding/json"
	"iter"
	"sync"
	"time"

	"github.com/MateoOdt/DigitalMedia2/internal/event"
	"github.com/MateoOdt/DigitalMedia2/internal/service/mq"
	"github.com/MateoOdt/DigitalMedia2/internal/service/receipts"
	"github.com/MateoOdt/DigitalMedia2/internal/service/txcoord"
	"github.com/MateoOdt/DigitalMedia2/pkg/logger"
	"github.com/MateoOdt/DigitalMedia2/pkg/monitor"
	"github.com/MateoOdt/DigitalMedia2/pkg/utils/lock"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"
)

var terminalRetryDelay = 500 * time.Millisecond

// Tracker *txcoord.Coordinator 满足该接口
type Tracker interface {
	TrackConfirmation(ctx context.Context, hash common.Hash, opts txcoord.TrackOptions) iter.Seq[txcoord.PollState]
}

// StateStore *history.Service 满足该接口
type StateStore interface {
	ApplyPollState(ctx context.Context, st txcoord.PollState) error
}

// ConfirmWorker 消费 tx_submitted 事件并跟踪确认。
// 每个哈希持有一把分布式锁，多副本部署时只有一个实例在跟踪
type ConfirmWorker struct {
	consumer mq.Consumer
	tracker  Tracker
	store    StateStore
	locker   lock.DistributedLock
	receipts *receipts.Cache
	opts     txcoord.TrackOptions

	sem chan struct{}
	wg  sync.WaitGroup
}

type Config struct {
	Track       txcoord.TrackOptions
	Concurrency int
}

func NewConfirmWorker(consumer mq.Consumer, tracker Tracker, store StateStore, locker lock.DistributedLock, rc *receipts.Cache, cfg Config) *ConfirmWorker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 16
	}
	return &ConfirmWorker{
		consumer: consumer,
		tracker:  tracker,
		store:    store,
		locker:   locker,
		receipts: rc,
		opts:     cfg.Track,
		sem:      make(chan struct{}, cfg.Concurrency),
	}
}

// Run 阻塞消费，ctx 取消后等待进行中的跟踪退出
func (w *ConfirmWorker) Run(ctx context.Context) error {
	logger.Info("[Worker] 确认跟踪服务启动", zap.Int("concurrency", cap(w.sem)))
	err := w.consumer.Subscribe(ctx, event.TopicTxSubmitted, func(msg *mq.Message) error {
		return w.handle(ctx, msg)
	})
	w.wg.Wait()
	logger.Info("[Worker] 确认跟踪服务停止")
	return err
}

func (w *ConfirmWorker) handle(ctx context.Context, msg *mq.Message) error {
	var ev event.TxSubmittedEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil || !isHash(ev.Hash) {
		// 格式错误的消息重试也不会成功，直接确认
		logger.Warn("[Worker] 忽略无效事件", zap.String("id", msg.ID), zap.ByteString("payload", msg.Payload))
		return nil
	}

	// 并发上限: 没有空位时阻塞消费，形成背压
	select {
	case w.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() { <-w.sem }()
		w.Track(ctx, common.HexToHash(ev.Hash))
	}()
	return nil
}

// Track 跟踪单笔交易并把每次轮询写入 StateStore
func (w *ConfirmWorker) Track(ctx context.Context, hash common.Hash) {
	opts := w.opts
	if opts.PollInterval <= 0 {
		opts.PollInterval = txcoord.DefaultPollInterval
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = txcoord.DefaultMaxAttempts
	}

	lockKey := "track:" + hash.Hex()
	ttl := time.Duration(opts.MaxAttempts)*opts.PollInterval + time.Minute
	locked, err := w.locker.Acquire(ctx, lockKey, ttl)
	if err != nil {
		logger.Error("[Worker] 获取跟踪锁失败", zap.String("hash", hash.Hex()), zap.Error(err))
		return
	}
	if !locked {
		logger.Debug("[Worker] 其它实例正在跟踪", zap.String("hash", hash.Hex()))
		return
	}
	defer func() {
		// ctx 可能已取消，释放锁用独立的 ctx
		releaseCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := w.locker.Release(releaseCtx, lockKey); err != nil {
			logger.Warn("[Worker] 释放跟踪锁失败", zap.String("hash", hash.Hex()), zap.Error(err))
		}
	}()

	monitor.TrackWorkerInFlight(1)
	defer monitor.TrackWorkerInFlight(-1)

	for state := range w.tracker.TrackConfirmation(ctx, hash, opts) {
		w.applyState(ctx, state)
		if state.Status == txcoord.StatusConfirmed && w.receipts != nil {
			if err := w.receipts.Put(ctx, state.Receipt); err != nil {
				logger.Warn("[Worker] 回执缓存失败", zap.String("hash", hash.Hex()), zap.Error(err))
			}
		}
	}
}

// applyState 终态写入失败时重试一次；仍失败的记录由 resume 任务按 updated_at 重新排队
func (w *ConfirmWorker) applyState(ctx context.Context, state txcoord.PollState) {
	err := w.store.ApplyPollState(ctx, state)
	if err != nil && state.Status.Terminal() && ctx.Err() == nil {
		logger.Warn("[Worker] 写入终态失败，重试", zap.String("hash", state.Hash.Hex()), zap.Error(err))
		sleep := time.NewTimer(terminalRetryDelay)
		select {
		case <-ctx.Done():
		case <-sleep.C:
		}
		sleep.Stop()
		err = w.store.ApplyPollState(ctx, state)
	}
	if err != nil {
		logger.Error("[Worker] 写入跟踪状态失败",
			zap.String("hash", state.Hash.Hex()),
			zap.String("status", string(state.Status)),
			zap.Error(err))
	}
}

func isHash(s string) bool {
	b, err := hexutil.Decode(s)
	return err == nil && len(b) == common.HashLength
}
