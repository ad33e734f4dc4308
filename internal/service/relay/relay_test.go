package relay

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/MateoOdt/DigitalMedia2/internal/model"
	"github.com/MateoOdt/DigitalMedia2/pkg/database"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

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
	require.NoError(t, db.AutoMigrate(model.AllModels()...))
	// 清掉其它测试留下的 PENDING 消息，避免批量大小影响断言
	require.NoError(t, db.Model(&model.OutboxMessage{}).Where("status = ?", model.OutboxPending).Update("status", model.OutboxSent).Error)
	return db
}

type recordingProducer struct {
	mu   sync.Mutex
	err  error
	keys []string
}

func (p *recordingProducer) Publish(ctx context.Context, topic string, key string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.keys = append(p.keys, key)
	return nil
}

func TestProcessPending(t *testing.T) {
	db := openTestDB(t)
	key := uuid.NewString()
	require.NoError(t, model.CreateOutboxMessage(db, "relay_test", key, map[string]string{"a": "b"}))

	producer := &recordingProducer{}
	sent := NewService(db, producer).ProcessPending(context.Background())
	assert.Equal(t, 1, sent)
	assert.Equal(t, []string{key}, producer.keys)

	var msg model.OutboxMessage
	require.NoError(t, db.Where("key = ?", key).First(&msg).Error)
	assert.Equal(t, model.OutboxSent, msg.Status)
}

func TestProcessPending_PublishFails(t *testing.T) {
	db := openTestDB(t)
	key := uuid.NewString()
	require.NoError(t, model.CreateOutboxMessage(db, "relay_test", key, map[string]string{"a": "b"}))

	svc := NewService(db, &recordingProducer{err: errors.New("broker down")})
	for i := 0; i < maxPublishAttempts; i++ {
		assert.Equal(t, 0, svc.ProcessPending(context.Background()))
	}

	var msg model.OutboxMessage
	require.NoError(t, db.Where("key = ?", key).First(&msg).Error)
	assert.Equal(t, model.OutboxFailed, msg.Status)
	assert.Equal(t, maxPublishAttempts, msg.Attempts)
}
