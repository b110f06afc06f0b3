package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/giftcard-fulfillment/internal/model"
	"github.com/mmeshcher/giftcard-fulfillment/internal/ordersystem"
)

type stubRenderer struct {
	err error
}

func (r stubRenderer) Render(_ context.Context, code string, _ int) ([]byte, error) {
	if r.err != nil {
		return nil, r.err
	}
	return []byte("%PDF " + code), nil
}

type stubNotifier struct {
	mu    sync.Mutex
	errs  []error
	calls [][]model.Voucher
	to    []string
}

func (n *stubNotifier) NotifyGiftCards(_ context.Context, to, _ string, vouchers []model.Voucher) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.calls = append(n.calls, vouchers)
	n.to = append(n.to, to)
	if len(n.errs) > 0 {
		err := n.errs[0]
		n.errs = n.errs[1:]
		return err
	}
	return nil
}

type stubNoter struct {
	mu    sync.Mutex
	err   error
	notes []string
}

func (s *stubNoter) AddOrderNote(_ context.Context, _, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.notes = append(s.notes, note)
	return s.err
}

func testJob() Job {
	return Job{
		ID:       "job-1",
		OrderID:  "ORD-1",
		OrderRef: "1836855",
		Email:    "buyer@example.com",
		Cards:    []Card{{Code: "A1", Denomination: 100}, {Code: "A2", Denomination: 100}},
	}
}

func TestExecutor_AllEffectsSucceed(t *testing.T) {
	n := &stubNotifier{}
	notes := &stubNoter{}
	exec := NewExecutor(stubRenderer{}, n, notes, "zł", zap.NewNop(), nil)

	job, done := exec.Execute(context.Background(), testJob())

	assert.True(t, done)
	assert.True(t, job.MailSent)
	assert.True(t, job.NoteSent)
	require.Len(t, n.calls, 1)
	require.Len(t, n.calls[0], 2)
	assert.Equal(t, "giftcard_100_A1.pdf", n.calls[0][0].FileName)
	assert.Equal(t, []byte("%PDF A2"), n.calls[0][1].Document)
	assert.Equal(t, []string{"Gift cards issued: A1 (100 zł), A2 (100 zł)"}, notes.notes)
}

func TestExecutor_EffectsAreIndependent(t *testing.T) {
	n := &stubNotifier{errs: []error{errors.New("smtp down")}}
	notes := &stubNoter{}
	exec := NewExecutor(stubRenderer{}, n, notes, "zł", zap.NewNop(), nil)

	job, done := exec.Execute(context.Background(), testJob())
	assert.False(t, done)
	assert.False(t, job.MailSent)
	assert.True(t, job.NoteSent)

	job, done = exec.Execute(context.Background(), job)
	assert.True(t, done)
	assert.Len(t, n.calls, 2)
	assert.Len(t, notes.notes, 1, "note must not be repeated once written")
}

func TestExecutor_RenderFailureSkipsEmail(t *testing.T) {
	n := &stubNotifier{}
	exec := NewExecutor(stubRenderer{err: errors.New("font missing")}, n, &stubNoter{}, "zł", zap.NewNop(), nil)

	job, done := exec.Execute(context.Background(), testJob())

	assert.False(t, done)
	assert.False(t, job.MailSent)
	assert.Empty(t, n.calls)
}

func TestExecutor_SkipsUnavailableTargets(t *testing.T) {
	n := &stubNotifier{}
	notes := &stubNoter{err: ordersystem.ErrNotConfigured}
	exec := NewExecutor(stubRenderer{}, n, notes, "zł", zap.NewNop(), nil)

	job := testJob()
	job.Email = ""

	job, done := exec.Execute(context.Background(), job)

	assert.True(t, done)
	assert.Empty(t, n.calls)

	job = testJob()
	job.OrderRef = ""
	notes.notes = nil

	_, done = exec.Execute(context.Background(), job)
	assert.True(t, done)
	assert.Empty(t, notes.notes)
}

func TestScheduler_Dispatch(t *testing.T) {
	q := NewMemoryQueue()
	s := NewScheduler(q, 90*time.Second)
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	order := model.Order{ID: "ORD-1", Ref: "1836855", BuyerEmail: "buyer@example.com"}

	require.NoError(t, s.Dispatch(context.Background(), order, nil))
	assert.Zero(t, q.Len())

	codes := []model.GiftCode{{Code: "A1", Denomination: 100}}
	require.NoError(t, s.Dispatch(context.Background(), order, codes))

	jobs, err := q.PopDue(context.Background(), now.Add(90*time.Second), 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.NotEmpty(t, jobs[0].ID)
	assert.Equal(t, "ORD-1", jobs[0].OrderID)
	assert.Equal(t, "buyer@example.com", jobs[0].Email)
	assert.Equal(t, []Card{{Code: "A1", Denomination: 100}}, jobs[0].Cards)
	assert.Equal(t, now.Add(90*time.Second), jobs[0].NotBefore)
}

func TestWorker_RetriesThenAbandons(t *testing.T) {
	q := NewMemoryQueue()
	n := &stubNotifier{errs: []error{errors.New("1"), errors.New("2"), errors.New("3")}}
	exec := NewExecutor(stubRenderer{}, n, &stubNoter{}, "zł", zap.NewNop(), nil)

	w := NewWorker(q, exec, zap.NewNop(), time.Second, 2)
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return now }

	require.NoError(t, q.Push(context.Background(), testJob()))

	assert.Equal(t, 1, w.ProcessDue(context.Background()))
	assert.Equal(t, 1, q.Len(), "failed job is requeued")

	assert.Equal(t, 0, w.ProcessDue(context.Background()), "retry waits for backoff")

	now = now.Add(retryBackoff)
	assert.Equal(t, 1, w.ProcessDue(context.Background()))
	assert.Equal(t, 0, q.Len(), "job is abandoned after max attempts")
	assert.Len(t, n.calls, 2)
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	q := NewMemoryQueue()
	n := &stubNotifier{}
	exec := NewExecutor(stubRenderer{}, n, &stubNoter{}, "zł", zap.NewNop(), nil)
	w := NewWorker(q, exec, zap.NewNop(), 10*time.Millisecond, 3)

	require.NoError(t, q.Push(context.Background(), testJob()))

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(stopped)
	}()

	require.Eventually(t, func() bool { return q.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	assert.Len(t, n.calls, 1)
}
