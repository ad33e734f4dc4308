package history

import (
	"context"
	"errors"
	"time"

	"github.com/MateoOdt/DigitalMedia2/internal/event"
	"github.com/MateoOdt/DigitalMedia2/internal/model"
	"github.com/MateoOdt/DigitalMedia2/internal/service/txcoord"
	"github.com/MateoOdt/DigitalMedia2/pkg/errno"
	"github.com/MateoOdt/DigitalMedia2/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultListLimit = 50

// Service 交易历史。每次状态变化与对应的 Outbox 事件写在同一个事务里
type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// RecordSubmitted 实现 txcoord.Recorder
func (s *Service) RecordSubmitted(ctx context.Context, res *txcoord.SubmissionResult) error {
	record := model.TxRecord{
		Hash:        res.Hash.Hex(),
		FromAddress: res.Request.From.Hex(),
		ToAddress:   res.Request.To.Hex(),
		Value:       decimal.NewFromBigInt(res.Request.Value, -18),
		Nonce:       res.Nonce,
		GasLimit:    res.GasLimit,
		GasPrice:    decimal.NewFromBigInt(res.GasPrice, 0),
		ChainID:     res.ChainID.Int64(),
		Signer:      string(res.SignedBy),
		Status:      model.TxStatusSubmitted,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&record).Error; err != nil {
			return err
		}
		return model.CreateOutboxMessage(tx, event.TopicTxSubmitted, record.Hash, submittedEvent(&record))
	})
	if err != nil {
		return errno.Wrap("history", errno.ErrDatabase, err)
	}
	return nil
}

// ApplyPollState 写入一次轮询结果。终态只会写一次，并产生 finalized 事件
func (s *Service) ApplyPollState(ctx context.Context, st txcoord.PollState) error {
	hash := st.Hash.Hex()
	updates := map[string]interface{}{
		"attempts":   st.Attempt,
		"last_error": errString(st.LastError),
	}

	if !st.Status.Terminal() {
		err := s.db.WithContext(ctx).Model(&model.TxRecord{}).
			Where("hash = ? AND status = ?", hash, model.TxStatusSubmitted).
			Updates(updates).Error
		if err != nil {
			return errno.Wrap("history", errno.ErrDatabase, err)
		}
		return nil
	}

	now := time.Now()
	status := recordStatus(st.Status)
	updates["status"] = status
	updates["finalized_at"] = &now

	ev := event.TxFinalizedEvent{Hash: hash, Status: status, Error: errString(st.LastError)}
	if st.Receipt != nil {
		receiptStatus := st.Receipt.Status
		updates["receipt_status"] = receiptStatus
		ev.ReceiptStatus = &receiptStatus
		if st.Receipt.BlockNumber != nil {
			block := st.Receipt.BlockNumber.Uint64()
			updates["block_number"] = block
			ev.BlockNumber = &block
		}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&model.TxRecord{}).
			Where("hash = ? AND status = ?", hash, model.TxStatusSubmitted).
			Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			// 未记录或已是终态
			return nil
		}
		return model.CreateOutboxMessage(tx, event.TopicTxFinalized, hash, ev)
	})
	if err != nil {
		return errno.Wrap("history", errno.ErrDatabase, err)
	}
	return nil
}

// Get 按哈希查询记录
func (s *Service) Get(ctx context.Context, hash common.Hash) (*model.TxRecord, error) {
	var record model.TxRecord
	err := s.db.WithContext(ctx).Where("hash = ?", hash.Hex()).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errno.ErrNotFound
	}
	if err != nil {
		return nil, errno.Wrap("history", errno.ErrDatabase, err)
	}
	return &record, nil
}

// ListByAddress 作为发送方或接收方的交易，按时间倒序
func (s *Service) ListByAddress(ctx context.Context, addr common.Address, limit int) ([]model.TxRecord, error) {
	if limit <= 0 || limit > defaultListLimit {
		limit = defaultListLimit
	}
	var records []model.TxRecord
	err := s.db.WithContext(ctx).
		Where("from_address = ? OR to_address = ?", addr.Hex(), addr.Hex()).
		Order("id DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, errno.Wrap("history", errno.ErrDatabase, err)
	}
	return records, nil
}

// ListTimedOut 还可以重新跟踪的超时交易
func (s *Service) ListTimedOut(ctx context.Context, maxResumes, limit int) ([]model.TxRecord, error) {
	if limit <= 0 || limit > defaultListLimit {
		limit = defaultListLimit
	}
	var records []model.TxRecord
	err := s.db.WithContext(ctx).
		Where("status = ? AND resumes < ?", model.TxStatusTimedOut, maxResumes).
		Order("id ASC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, errno.Wrap("history", errno.ErrDatabase, err)
	}
	return records, nil
}

// ListStale 仍是 submitted 但 updated_at 早于 before 的记录 (跟踪中断或终态写入失败)
func (s *Service) ListStale(ctx context.Context, before time.Time, maxResumes, limit int) ([]model.TxRecord, error) {
	if limit <= 0 || limit > defaultListLimit {
		limit = defaultListLimit
	}
	var records []model.TxRecord
	err := s.db.WithContext(ctx).
		Where("status = ? AND updated_at < ? AND resumes < ?", model.TxStatusSubmitted, before, maxResumes).
		Order("id ASC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, errno.Wrap("history", errno.ErrDatabase, err)
	}
	return records, nil
}

// MarkResumed 把超时记录放回 submitted 并重新发出 submitted 事件。
// 返回 false 表示记录已被其它实例处理
func (s *Service) MarkResumed(ctx context.Context, hash string) (bool, error) {
	return s.requeue(ctx, hash, func(db *gorm.DB) *gorm.DB {
		return db.Where("hash = ? AND status = ?", hash, model.TxStatusTimedOut)
	})
}

// RequeueStale 重新发出停滞记录的 submitted 事件。before 之后有过更新的记录不会被处理
func (s *Service) RequeueStale(ctx context.Context, hash string, before time.Time) (bool, error) {
	return s.requeue(ctx, hash, func(db *gorm.DB) *gorm.DB {
		return db.Where("hash = ? AND status = ? AND updated_at < ?", hash, model.TxStatusSubmitted, before)
	})
}

func (s *Service) requeue(ctx context.Context, hash string, scope func(*gorm.DB) *gorm.DB) (bool, error) {
	resumed := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := scope(tx.Model(&model.TxRecord{})).
			Updates(map[string]interface{}{
				"status":       model.TxStatusSubmitted,
				"resumes":      gorm.Expr("resumes + 1"),
				"attempts":     0,
				"finalized_at": nil,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}

		var record model.TxRecord
		if err := tx.Where("hash = ?", hash).First(&record).Error; err != nil {
			return err
		}
		resumed = true
		return model.CreateOutboxMessage(tx, event.TopicTxSubmitted, hash, submittedEvent(&record))
	})
	if err != nil {
		return false, errno.Wrap("history", errno.ErrDatabase, err)
	}
	if resumed {
		logger.Info("交易重新排队跟踪", zap.String("hash", hash))
	}
	return resumed, nil
}

func submittedEvent(r *model.TxRecord) event.TxSubmittedEvent {
	return event.TxSubmittedEvent{
		Hash:    r.Hash,
		From:    r.FromAddress,
		To:      r.ToAddress,
		Value:   r.Value.String(),
		Nonce:   r.Nonce,
		ChainID: r.ChainID,
		Signer:  r.Signer,
		Resume:  r.Resumes,
	}
}

func recordStatus(s txcoord.Status) string {
	switch s {
	case txcoord.StatusConfirmed:
		return model.TxStatusConfirmed
	case txcoord.StatusFailed:
		return model.TxStatusFailed
	case txcoord.StatusTimedOut:
		return model.TxStatusTimedOut
	}
	return model.TxStatusSubmitted
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
