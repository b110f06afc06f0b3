package delivery

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/giftcard-fulfillment/internal/model"
)

const (
	defaultBatchSize = 50
	retryBackoff     = time.Minute
)

// Scheduler ставит задания на доставку в очередь с заданной задержкой.
type Scheduler struct {
	queue Queue
	delay time.Duration
	now   func() time.Time
}

// NewScheduler создаёт Scheduler. Задержка откладывает письмо после выдачи кодов.
func NewScheduler(queue Queue, delay time.Duration) *Scheduler {
	return &Scheduler{queue: queue, delay: delay, now: time.Now}
}

// Dispatch ставит в очередь доставку кодов, выданных заказу.
func (s *Scheduler) Dispatch(ctx context.Context, order model.Order, codes []model.GiftCode) error {
	if len(codes) == 0 {
		return nil
	}

	return s.queue.Push(ctx, Job{
		ID:        uuid.NewString(),
		OrderID:   order.ID,
		OrderRef:  order.Ref,
		Email:     order.BuyerEmail,
		Cards:     CardsFrom(codes),
		NotBefore: s.now().Add(s.delay),
	})
}

// Worker периодически забирает созревшие задания и выполняет их.
type Worker struct {
	queue       Queue
	exec        *Executor
	logger      *zap.Logger
	interval    time.Duration
	maxAttempts int
	batchSize   int
	now         func() time.Time
}

// NewWorker создаёт Worker.
func NewWorker(queue Queue, exec *Executor, logger *zap.Logger, interval time.Duration, maxAttempts int) *Worker {
	return &Worker{
		queue:       queue,
		exec:        exec,
		logger:      logger,
		interval:    interval,
		maxAttempts: maxAttempts,
		batchSize:   defaultBatchSize,
		now:         time.Now,
	}
}

// Run обрабатывает очередь до отмены контекста.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.ProcessDue(ctx)
		}
	}
}

// ProcessDue выполняет одну порцию созревших заданий и возвращает их число.
func (w *Worker) ProcessDue(ctx context.Context) int {
	jobs, err := w.queue.PopDue(ctx, w.now(), w.batchSize)
	if err != nil {
		w.logger.Error("pop due delivery jobs", zap.Error(err))
	}

	for _, job := range jobs {
		updated, done := w.exec.Execute(ctx, job)
		if done {
			continue
		}

		updated.Attempts++
		if updated.Attempts >= w.maxAttempts {
			w.logger.Error("delivery abandoned",
				zap.String("job_id", updated.ID),
				zap.String("order_id", updated.OrderID),
				zap.String("order_ref", updated.OrderRef),
				zap.Bool("mail_sent", updated.MailSent),
				zap.Bool("note_sent", updated.NoteSent),
				zap.Any("cards", updated.Cards),
			)
			continue
		}

		updated.NotBefore = w.now().Add(time.Duration(updated.Attempts) * retryBackoff)
		if err := w.queue.Push(ctx, updated); err != nil {
			w.logger.Error("requeue delivery job", zap.Error(err), zap.String("job_id", updated.ID))
		}
	}

	return len(jobs)
}
