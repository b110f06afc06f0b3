// Package delivery выполняет отложенные побочные эффекты выдачи кодов:
// ваучеры, письмо покупателю и заметку к заказу в магазине.
package delivery

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mmeshcher/giftcard-fulfillment/internal/model"
)

// Card: выданный код в задании на доставку.
type Card struct {
	Code         string `json:"code"`
	Denomination int    `json:"denomination"`
}

// Job: задание на доставку выданных кодов одного заказа.
type Job struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"order_id"`
	OrderRef  string    `json:"order_ref"`
	Email     string    `json:"email"`
	Cards     []Card    `json:"cards"`
	NotBefore time.Time `json:"not_before"`
	Attempts  int       `json:"attempts"`
	MailSent  bool      `json:"mail_sent"`
	NoteSent  bool      `json:"note_sent"`
}

// CardsFrom преобразует выданные коды в карточки задания.
func CardsFrom(codes []model.GiftCode) []Card {
	res := make([]Card, 0, len(codes))
	for _, c := range codes {
		res = append(res, Card{Code: c.Code, Denomination: c.Denomination})
	}
	return res
}

// Queue хранит задания до наступления их времени.
type Queue interface {
	Push(ctx context.Context, job Job) error
	// PopDue забирает из очереди не более limit заданий с NotBefore <= now.
	// Каждое задание достаётся только одному вызывающему.
	PopDue(ctx context.Context, now time.Time, limit int) ([]Job, error)
}

// MemoryQueue: очередь в памяти процесса.
type MemoryQueue struct {
	mu   sync.Mutex
	jobs []Job
}

// NewMemoryQueue создаёт пустую очередь.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

// Push добавляет задание.
func (q *MemoryQueue) Push(_ context.Context, job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.jobs = append(q.jobs, job)
	return nil
}

// PopDue забирает созревшие задания в порядке NotBefore.
func (q *MemoryQueue) PopDue(_ context.Context, now time.Time, limit int) ([]Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	sort.SliceStable(q.jobs, func(i, j int) bool { return q.jobs[i].NotBefore.Before(q.jobs[j].NotBefore) })

	var due []Job
	rest := q.jobs[:0]
	for _, j := range q.jobs {
		if len(due) < limit && !j.NotBefore.After(now) {
			due = append(due, j)
			continue
		}
		rest = append(rest, j)
	}
	q.jobs = rest

	return due, nil
}

// Len возвращает число заданий в очереди.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.jobs)
}
