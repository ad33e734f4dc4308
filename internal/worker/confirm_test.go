package worker

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/MateoOdt/DigitalMedia2/internal/event"
	"github.com/MateoOdt/DigitalMedia2/internal/service/mq"
	"github.com/MateoOdt/DigitalMedia2/internal/service/receipts"
	"github.com/MateoOdt/DigitalMedia2/internal/service/txcoord"
	"github.com/MateoOdt/DigitalMedia2/pkg/cache"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var hashA = common.HexToHash("0xaaaa000000000000000000000000000000000000000000000000000000000001")

// sliceConsumer 依次投递消息后返回
type sliceConsumer struct {
	msgs []*mq.Message
	errs []error
}

func (c *sliceConsumer) Subscribe(ctx context.Context, topic string, handler func(msg *mq.Message) error) error {
	for _, m := range c.msgs {
		c.errs = append(c.errs, handler(m))
	}
	return nil
}

func (c *sliceConsumer) Close() error { return nil }

type fakeTracker struct {
	mu    sync.Mutex
	calls []common.Hash
}

func (f *fakeTracker) TrackConfirmation(ctx context.Context, hash common.Hash, opts txcoord.TrackOptions) iter.Seq[txcoord.PollState] {
	f.mu.Lock()
	f.calls = append(f.calls, hash)
	f.mu.Unlock()

	return func(yield func(txcoord.PollState) bool) {
		if !yield(txcoord.PollState{Hash: hash, Attempt: 1, MaxAttempts: opts.MaxAttempts, Status: txcoord.StatusPending}) {
			return
		}
		yield(txcoord.PollState{
			Hash:        hash,
			Attempt:     2,
			MaxAttempts: opts.MaxAttempts,
			Status:      txcoord.StatusConfirmed,
			Receipt:     &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: hash, BlockNumber: big.NewInt(5)},
		})
	}
}

type memStore struct {
	mu     sync.Mutex
	states []txcoord.PollState
	// failures 前 n 次写入终态返回错误
	failures int
	calls    int
}

func (m *memStore) ApplyPollState(ctx context.Context, st txcoord.PollState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if st.Status.Terminal() && m.failures > 0 {
		m.failures--
		return errors.New("db down")
	}
	m.states = append(m.states, st)
	return nil
}

type memLock struct {
	mu   sync.Mutex
	held map[string]bool
}

func newMemLock() *memLock { return &memLock{held: make(map[string]bool)} }

func (l *memLock) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return false, nil
	}
	l.held[key] = true
	return true, nil
}

func (l *memLock) Release(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
	return nil
}

func submittedMsg(t *testing.T, hash common.Hash) *mq.Message {
	t.Helper()
	payload, err := json.Marshal(event.TxSubmittedEvent{Hash: hash.Hex()})
	require.NoError(t, err)
	return &mq.Message{ID: "1-0", Topic: event.TopicTxSubmitted, Key: hash.Hex(), Payload: payload}
}

func TestConfirmWorker_TracksSubmitted(t *testing.T) {
	consumer := &sliceConsumer{msgs: []*mq.Message{
		submittedMsg(t, hashA),
		{ID: "2-0", Payload: []byte("not json")},
		{ID: "3-0", Payload: []byte(`{"hash":"0x1234"}`)},
	}}
	tracker := &fakeTracker{}
	store := &memStore{}
	locks := newMemLock()
	rc := receipts.NewCache(cache.NewMemoryCache(time.Minute, time.Minute), 0)

	w := NewConfirmWorker(consumer, tracker, store, locks, rc, Config{Track: txcoord.TrackOptions{PollInterval: time.Millisecond, MaxAttempts: 3}})
	require.NoError(t, w.Run(context.Background()))

	for _, err := range consumer.errs {
		assert.NoError(t, err, "无效消息也应确认")
	}
	assert.Equal(t, []common.Hash{hashA}, tracker.calls)
	require.Len(t, store.states, 2)
	assert.Equal(t, txcoord.StatusPending, store.states[0].Status)
	assert.Equal(t, txcoord.StatusConfirmed, store.states[1].Status)
	assert.Equal(t, 3, store.states[0].MaxAttempts)

	receipt, err := rc.Get(context.Background(), hashA)
	require.NoError(t, err)
	require.NotNil(t, receipt)
	assert.Equal(t, int64(5), receipt.BlockNumber.Int64())

	// 锁已释放
	assert.Empty(t, locks.held)
}

func TestConfirmWorker_SkipsWhenLocked(t *testing.T) {
	tracker := &fakeTracker{}
	store := &memStore{}
	locks := newMemLock()
	_, _ = locks.Acquire(context.Background(), "track:"+hashA.Hex(), time.Minute)

	w := NewConfirmWorker(&sliceConsumer{}, tracker, store, locks, nil, Config{})
	w.Track(context.Background(), hashA)

	assert.Empty(t, tracker.calls)
	assert.Empty(t, store.states)
	assert.True(t, locks.held["track:"+hashA.Hex()], "不应释放其它实例的锁")
}

func TestConfirmWorker_RetriesTerminalWrite(t *testing.T) {
	terminalRetryDelay = time.Millisecond
	store := &memStore{failures: 1}
	w := NewConfirmWorker(&sliceConsumer{}, &fakeTracker{}, store, newMemLock(), nil, Config{})
	w.Track(context.Background(), hashA)

	require.Len(t, store.states, 2)
	assert.Equal(t, txcoord.StatusConfirmed, store.states[1].Status)
	assert.Equal(t, 3, store.calls)

	// 连续失败只重试一次
	store = &memStore{failures: 5}
	w = NewConfirmWorker(&sliceConsumer{}, &fakeTracker{}, store, newMemLock(), nil, Config{})
	w.Track(context.Background(), hashA)
	require.Len(t, store.states, 1)
	assert.Equal(t, 3, store.calls)
}
