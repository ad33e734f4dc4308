package relay

import (
	"context"
	"time"

	"github.com/MateoOdt/DigitalMedia2/internal/model"
	"github.com/MateoOdt/DigitalMedia2/internal/service/mq"
	"github.com/MateoOdt/DigitalMedia2/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultInterval  = 500 * time.Millisecond
	defaultBatchSize = 50
	// 超过该次数仍发送失败的消息标记为 FAILED，不再重试
	maxPublishAttempts = 10
)

// Service 负责将本地消息表的消息搬运到 MQ
type Service struct {
	db        *gorm.DB
	producer  mq.Producer
	interval  time.Duration
	batchSize int
}

func NewService(db *gorm.DB, producer mq.Producer) *Service {
	return &Service{
		db:        db,
		producer:  producer,
		interval:  defaultInterval,
		batchSize: defaultBatchSize,
	}
}

// Start 阻塞轮询直到 ctx 取消
func (s *Service) Start(ctx context.Context) {
	logger.Info("[Relay] 启动消息中继服务", zap.Duration("interval", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("[Relay] 停止服务")
			return
		case <-ticker.C:
			s.ProcessPending(ctx)
		}
	}
}

// ProcessPending 发送一批 PENDING 消息，返回成功投递的条数
func (s *Service) ProcessPending(ctx context.Context) int {
	var messages []model.OutboxMessage
	err := s.db.WithContext(ctx).
		Where("status = ?", model.OutboxPending).
		Order("id ASC").
		Limit(s.batchSize).
		Find(&messages).Error
	if err != nil {
		logger.Error("[Relay] 查询消息失败", zap.Error(err))
		return 0
	}
	if len(messages) == 0 {
		return 0
	}

	logger.Debug("[Relay] 发现待发送消息", zap.Int("count", len(messages)))

	sent := 0
	for i := range messages {
		msg := &messages[i]
		if err := s.producer.Publish(ctx, msg.Topic, msg.Key, msg.Payload); err != nil {
			s.markFailedAttempt(ctx, msg, err)
			continue
		}

		// 只有发送成功才更新状态 => At-least-once，消费者需要幂等
		if err := s.db.WithContext(ctx).Model(msg).Update("status", model.OutboxSent).Error; err != nil {
			logger.Error("[Relay] 更新状态失败", zap.Uint64("id", msg.ID), zap.Error(err))
			continue
		}
		sent++
	}
	return sent
}

func (s *Service) markFailedAttempt(ctx context.Context, msg *model.OutboxMessage, cause error) {
	updates := map[string]interface{}{"attempts": msg.Attempts + 1}
	if msg.Attempts+1 >= maxPublishAttempts {
		updates["status"] = model.OutboxFailed
	}
	logger.Error("[Relay] 发送消息失败",
		zap.Uint64("id", msg.ID),
		zap.String("topic", msg.Topic),
		zap.Int("attempts", msg.Attempts+1),
		zap.Error(cause))
	if err := s.db.WithContext(ctx).Model(msg).Updates(updates).Error; err != nil {
		logger.Error("[Relay] 更新重试次数失败", zap.Uint64("id", msg.ID), zap.Error(err))
	}
}
