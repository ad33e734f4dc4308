package resume

import (
	"context"
	"time"

	"github.com/MateoOdt/DigitalMedia2/internal/model"
	"github.com/MateoOdt/DigitalMedia2/pkg/logger"
	"github.com/MateoOdt/DigitalMedia2/pkg/monitor"
	"github.com/MateoOdt/DigitalMedia2/pkg/utils/lock"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const lockKey = "cron:lock:resume_timed_out"

// Store *history.Service 满足该接口
type Store interface {
	ListTimedOut(ctx context.Context, maxResumes, limit int) ([]model.TxRecord, error)
	MarkResumed(ctx context.Context, hash string) (bool, error)
	ListStale(ctx context.Context, before time.Time, maxResumes, limit int) ([]model.TxRecord, error)
	RequeueStale(ctx context.Context, hash string, before time.Time) (bool, error)
}

// CronService 定时把 TIMED_OUT 以及停滞在 submitted 的交易重新放回跟踪队列
type CronService struct {
	cron       *cron.Cron
	store      Store
	locker     lock.DistributedLock
	spec       string
	maxResumes int
	staleAfter time.Duration
	now        func() time.Time
}

type Option func(*CronService)

// WithStaleAfter submitted 记录超过 d 没有更新即视为跟踪中断，0 表示不处理
func WithStaleAfter(d time.Duration) Option {
	return func(s *CronService) { s.staleAfter = d }
}

func NewCronService(store Store, locker lock.DistributedLock, spec string, maxResumes int, opts ...Option) *CronService {
	if spec == "" {
		spec = "@every 1m"
	}
	s := &CronService{
		cron:       cron.New(),
		store:      store,
		locker:     locker,
		spec:       spec,
		maxResumes: maxResumes,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *CronService) Start() error {
	if _, err := s.cron.AddFunc(s.spec, func() { s.ResumeTimedOut(context.Background()) }); err != nil {
		return err
	}
	s.cron.Start()
	logger.Info("Cron Service started", zap.String("spec", s.spec), zap.Int("max_resumes", s.maxResumes))
	return nil
}

// Stop 等待正在执行的任务结束
func (s *CronService) Stop() {
	<-s.cron.Stop().Done()
	logger.Info("Cron Service stopped")
}

// ResumeTimedOut 返回重新排队的交易数
func (s *CronService) ResumeTimedOut(ctx context.Context) int {
	if s.maxResumes <= 0 {
		return 0
	}

	// 防止多实例同时执行
	locked, err := s.locker.Acquire(ctx, lockKey, 30*time.Second)
	if err != nil || !locked {
		logger.Debug("ResumeTimedOut: 获取锁失败或已有实例在运行", zap.Error(err))
		return 0
	}
	defer s.locker.Release(ctx, lockKey)

	resumed := 0
	records, err := s.store.ListTimedOut(ctx, s.maxResumes, 0)
	if err != nil {
		logger.Error("查询超时交易失败", zap.Error(err))
	}
	for _, r := range records {
		resumed += s.requeue(r.Hash, func() (bool, error) { return s.store.MarkResumed(ctx, r.Hash) })
	}

	if s.staleAfter > 0 {
		before := s.now().Add(-s.staleAfter)
		stale, err := s.store.ListStale(ctx, before, s.maxResumes, 0)
		if err != nil {
			logger.Error("查询停滞交易失败", zap.Error(err))
		}
		for _, r := range stale {
			resumed += s.requeue(r.Hash, func() (bool, error) { return s.store.RequeueStale(ctx, r.Hash, before) })
		}
	}

	if resumed > 0 {
		monitor.RecordResumed(resumed)
		logger.Info("交易已重新排队", zap.Int("count", resumed))
	}
	return resumed
}

func (s *CronService) requeue(hash string, fn func() (bool, error)) int {
	ok, err := fn()
	if err != nil {
		logger.Error("重新排队失败", zap.String("hash", hash), zap.Error(err))
		return 0
	}
	if ok {
		return 1
	}
	return 0
}
