package resume

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MateoOdt/DigitalMedia2/internal/model"

	"github.com/stretchr/testify/assert"
)

type fakeStore struct {
	records []model.TxRecord
	failOn  string
	resumed []string

	stale       []model.TxRecord
	staleBefore time.Time
	requeued    []string
}

func (f *fakeStore) ListStale(ctx context.Context, before time.Time, maxResumes, limit int) ([]model.TxRecord, error) {
	f.staleBefore = before
	var out []model.TxRecord
	for _, r := range f.stale {
		if r.UpdatedAt.Before(before) && r.Resumes < maxResumes {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) RequeueStale(ctx context.Context, hash string, before time.Time) (bool, error) {
	f.requeued = append(f.requeued, hash)
	return true, nil
}

func (f *fakeStore) ListTimedOut(ctx context.Context, maxResumes, limit int) ([]model.TxRecord, error) {
	var out []model.TxRecord
	for _, r := range f.records {
		if r.Resumes < maxResumes {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) MarkResumed(ctx context.Context, hash string) (bool, error) {
	if hash == f.failOn {
		return false, errors.New("db down")
	}
	f.resumed = append(f.resumed, hash)
	return true, nil
}

type memLock struct {
	mu   sync.Mutex
	held map[string]bool
}

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

func TestResumeTimedOut(t *testing.T) {
	store := &fakeStore{
		records: []model.TxRecord{
			{Hash: "0x01", Resumes: 0},
			{Hash: "0x02", Resumes: 3}, // 已达上限
			{Hash: "0x03", Resumes: 1},
			{Hash: "0x04", Resumes: 0},
		},
		failOn: "0x04",
	}
	locks := &memLock{held: map[string]bool{}}
	svc := NewCronService(store, locks, "", 3)

	n := svc.ResumeTimedOut(context.Background())
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"0x01", "0x03"}, store.resumed)
	assert.Empty(t, locks.held)
}

func TestResumeTimedOut_RequeuesStaleSubmitted(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{
		records: []model.TxRecord{{Hash: "0x01"}},
		stale: []model.TxRecord{
			{Hash: "0x10", UpdatedAt: now.Add(-10 * time.Minute)},
			{Hash: "0x11", UpdatedAt: now.Add(-time.Minute)}, // 仍在跟踪
			{Hash: "0x12", UpdatedAt: now.Add(-time.Hour), Resumes: 3},
		},
	}
	svc := NewCronService(store, &memLock{held: map[string]bool{}}, "", 3, WithStaleAfter(5*time.Minute))
	svc.now = func() time.Time { return now }

	n := svc.ResumeTimedOut(context.Background())
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"0x01"}, store.resumed)
	assert.Equal(t, []string{"0x10"}, store.requeued)
	assert.Equal(t, now.Add(-5*time.Minute), store.staleBefore)

	// 未配置时不处理 submitted 记录
	store = &fakeStore{stale: []model.TxRecord{{Hash: "0x10"}}}
	n = NewCronService(store, &memLock{held: map[string]bool{}}, "", 3).ResumeTimedOut(context.Background())
	assert.Equal(t, 0, n)
	assert.Empty(t, store.requeued)
}

func TestResumeTimedOut_Locked(t *testing.T) {
	store := &fakeStore{records: []model.TxRecord{{Hash: "0x01"}}}
	locks := &memLock{held: map[string]bool{lockKey: true}}

	n := NewCronService(store, locks, "@every 1m", 3).ResumeTimedOut(context.Background())
	assert.Equal(t, 0, n)
	assert.Empty(t, store.resumed)
}

func TestResumeTimedOut_Disabled(t *testing.T) {
	store := &fakeStore{records: []model.TxRecord{{Hash: "0x01"}}}
	n := NewCronService(store, &memLock{held: map[string]bool{}}, "", 0).ResumeTimedOut(context.Background())
	assert.Equal(t, 0, n)
}

func TestStartRejectsInvalidSpec(t *testing.T) {
	svc := NewCronService(&fakeStore{}, &memLock{held: map[string]bool{}}, "not a spec", 3)
	assert.Error(t, svc.Start())
}
