package history

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/MateoOdt/DigitalMedia2/internal/event"
	"github.com/MateoOdt/DigitalMedia2/internal/model"
	"github.com/MateoOdt/DigitalMedia2/internal/service/txcoord"
	"github.com/MateoOdt/DigitalMedia2/internal/signer"
	"github.com/MateoOdt/DigitalMedia2/pkg/database"
	"github.com/MateoOdt/DigitalMedia2/pkg/errno"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// 需要本地 PostgreSQL (可用 TEST_DATABASE_DSN 指定)，不可达时跳过
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_DSN")
	if dsn == "" {
		dsn = "host=localhost user=wallet_user password=wallet_password dbname=wallet_db port=5432 sslmode=disable TimeZone=UTC connect_timeout=2"
	}
	db, err := database.ConnectPostgres(dsn, false)
	if err != nil {
		t.Skipf("PostgreSQL 不可用，跳过: %v", err)
	}
	if err := db.AutoMigrate(model.AllModels()...); err != nil {
		t.Skipf("迁移失败，跳过: %v", err)
	}
	return db
}

func newSubmission(t *testing.T) *txcoord.SubmissionResult {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	from := crypto.PubkeyToAddress(key.PublicKey)
	to := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	value, _ := new(big.Int).SetString("1500000000000000000", 10)

	return &txcoord.SubmissionResult{
		Hash:     crypto.Keccak256Hash([]byte(fmt.Sprintf("%s-%d", from.Hex(), time.Now().UnixNano()))),
		Request:  txcoord.TransactionRequest{From: from, To: to, Value: value},
		Nonce:    3,
		GasLimit: 21000,
		GasPrice: big.NewInt(1_000_000_000),
		ChainID:  big.NewInt(1337),
		SignedBy: signer.KindLocal,
	}
}

func outboxFor(t *testing.T, db *gorm.DB, topic, hash string) []model.OutboxMessage {
	t.Helper()
	var msgs []model.OutboxMessage
	require.NoError(t, db.Where("topic = ? AND key = ?", topic, hash).Order("id").Find(&msgs).Error)
	return msgs
}

func TestRecordAndFinalize(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db)
	ctx := context.Background()
	res := newSubmission(t)

	require.NoError(t, svc.RecordSubmitted(ctx, res))

	record, err := svc.Get(ctx, res.Hash)
	require.NoError(t, err)
	assert.Equal(t, model.TxStatusSubmitted, record.Status)
	assert.Equal(t, "1.5", record.Value.String())
	assert.Equal(t, "local", record.Signer)

	submitted := outboxFor(t, db, event.TopicTxSubmitted, res.Hash.Hex())
	require.Len(t, submitted, 1)
	var ev event.TxSubmittedEvent
	require.NoError(t, json.Unmarshal(submitted[0].Payload, &ev))
	assert.Equal(t, res.Request.From.Hex(), ev.From)
	assert.Equal(t, "1.5", ev.Value)

	// PENDING 只更新尝试次数
	require.NoError(t, svc.ApplyPollState(ctx, txcoord.PollState{Hash: res.Hash, Attempt: 1, Status: txcoord.StatusPending}))

	receipt := &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(12)}
	final := txcoord.PollState{Hash: res.Hash, Attempt: 2, Status: txcoord.StatusConfirmed, Receipt: receipt}
	require.NoError(t, svc.ApplyPollState(ctx, final))
	// 重复写终态不产生新事件
	require.NoError(t, svc.ApplyPollState(ctx, final))

	record, err = svc.Get(ctx, res.Hash)
	require.NoError(t, err)
	assert.Equal(t, model.TxStatusConfirmed, record.Status)
	assert.Equal(t, 2, record.Attempts)
	require.NotNil(t, record.BlockNumber)
	assert.Equal(t, uint64(12), *record.BlockNumber)
	assert.NotNil(t, record.FinalizedAt)

	assert.Len(t, outboxFor(t, db, event.TopicTxFinalized, res.Hash.Hex()), 1)

	list, err := svc.ListByAddress(ctx, res.Request.From, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, res.Hash.Hex(), list[0].Hash)
}

func TestResumeTimedOut(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db)
	ctx := context.Background()
	res := newSubmission(t)
	hash := res.Hash.Hex()

	require.NoError(t, svc.RecordSubmitted(ctx, res))
	require.NoError(t, svc.ApplyPollState(ctx, txcoord.PollState{Hash: res.Hash, Attempt: 60, Status: txcoord.StatusTimedOut}))

	timedOut, err := svc.ListTimedOut(ctx, 1, 50)
	require.NoError(t, err)
	found := false
	for _, r := range timedOut {
		found = found || r.Hash == hash
	}
	assert.True(t, found)

	ok, err := svc.MarkResumed(ctx, hash)
	require.NoError(t, err)
	assert.True(t, ok)

	// 已经不是 timed_out
	ok, err = svc.MarkResumed(ctx, hash)
	require.NoError(t, err)
	assert.False(t, ok)

	record, err := svc.Get(ctx, res.Hash)
	require.NoError(t, err)
	assert.Equal(t, model.TxStatusSubmitted, record.Status)
	assert.Equal(t, 1, record.Resumes)
	assert.Len(t, outboxFor(t, db, event.TopicTxSubmitted, hash), 2)

	// 再次超时后达到上限，不再出现在待恢复列表中
	require.NoError(t, svc.ApplyPollState(ctx, txcoord.PollState{Hash: res.Hash, Attempt: 60, Status: txcoord.StatusTimedOut}))
	timedOut, err = svc.ListTimedOut(ctx, 1, 50)
	require.NoError(t, err)
	for _, r := range timedOut {
		assert.NotEqual(t, hash, r.Hash)
	}
}

func TestRequeueStale(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db)
	ctx := context.Background()
	res := newSubmission(t)
	hash := res.Hash.Hex()

	require.NoError(t, svc.RecordSubmitted(ctx, res))

	// 刚写入的记录不算停滞
	ok, err := svc.RequeueStale(ctx, hash, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)

	before := time.Now().Add(time.Minute)
	stale, err := svc.ListStale(ctx, before, 1, 50)
	require.NoError(t, err)
	found := false
	for _, r := range stale {
		found = found || r.Hash == hash
	}
	assert.True(t, found)

	ok, err = svc.RequeueStale(ctx, hash, before)
	require.NoError(t, err)
	assert.True(t, ok)

	record, err := svc.Get(ctx, res.Hash)
	require.NoError(t, err)
	assert.Equal(t, model.TxStatusSubmitted, record.Status)
	assert.Equal(t, 1, record.Resumes)
	assert.Len(t, outboxFor(t, db, event.TopicTxSubmitted, hash), 2)

	// 达到上限后不再列出
	stale, err = svc.ListStale(ctx, time.Now().Add(time.Minute), 1, 50)
	require.NoError(t, err)
	for _, r := range stale {
		assert.NotEqual(t, hash, r.Hash)
	}
}

func TestApplyPollState_ReceiptWithoutBlockNumber(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db)
	ctx := context.Background()
	res := newSubmission(t)
	require.NoError(t, svc.RecordSubmitted(ctx, res))

	st := txcoord.PollState{Hash: res.Hash, Attempt: 1, Status: txcoord.StatusConfirmed, Receipt: &types.Receipt{Status: types.ReceiptStatusSuccessful}}
	require.NoError(t, svc.ApplyPollState(ctx, st))

	record, err := svc.Get(ctx, res.Hash)
	require.NoError(t, err)
	assert.Equal(t, model.TxStatusConfirmed, record.Status)
	assert.Nil(t, record.BlockNumber)
}

func TestGet_NotFound(t *testing.T) {
	db := openTestDB(t)
	_, err := NewService(db).Get(context.Background(), common.HexToHash("0xdead"))
	assert.ErrorIs(t, err, errno.ErrNotFound)
}
