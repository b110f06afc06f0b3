// Package fulfillment обрабатывает одну доставку вебхука об оплате заказа:
// классифицирует её, выдаёт недостающие коды и ставит в очередь доставку
// только тех кодов, которые были выданы этим вызовом.
package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/giftcard-fulfillment/internal/allocator"
	"github.com/mmeshcher/giftcard-fulfillment/internal/eventlog"
	"github.com/mmeshcher/giftcard-fulfillment/internal/metrics"
	"github.com/mmeshcher/giftcard-fulfillment/internal/model"
	"github.com/mmeshcher/giftcard-fulfillment/internal/normalizer"
)

// Normalizer извлекает заказ из тела вебхука.
type Normalizer interface {
	Normalize(payload []byte) (model.Order, error)
}

// Allocator закрепляет коды за заказом.
type Allocator interface {
	Allocate(ctx context.Context, orderID, orderRef string, reqs []model.Requirement) ([]model.GiftCode, error)
}

// Dispatcher запускает доставку выданных кодов покупателю.
type Dispatcher interface {
	Dispatch(ctx context.Context, order model.Order, codes []model.GiftCode) error
}

// Recorder пишет итог обработки в журнал событий.
type Recorder interface {
	Record(ctx context.Context, e eventlog.Entry)
}

// Result: итог обработки одной доставки.
type Result struct {
	Kind     model.EventKind
	OrderID  string
	OrderRef string
	Claimed  []model.GiftCode
}

// Reconciler связывает нормализацию, выдачу кодов, доставку и журнал.
type Reconciler struct {
	normalizer Normalizer
	allocator  Allocator
	dispatcher Dispatcher
	recorder   Recorder
	metrics    *metrics.Metrics
	logger     *zap.Logger
	timeout    time.Duration
}

// NewReconciler создаёт Reconciler. timeout ограничивает транзакцию выдачи;
// нулевое значение отключает ограничение.
func NewReconciler(n Normalizer, a Allocator, d Dispatcher, r Recorder, m *metrics.Metrics, logger *zap.Logger, timeout time.Duration) *Reconciler {
	return &Reconciler{
		normalizer: n,
		allocator:  a,
		dispatcher: d,
		recorder:   r,
		metrics:    m,
		logger:     logger,
		timeout:    timeout,
	}
}

// Reconcile обрабатывает тело вебхука. Каждый вызов оставляет ровно одну
// запись в журнале. Ошибка возвращается только при сбое выдачи кодов.
func (r *Reconciler) Reconcile(ctx context.Context, deliveryID string, payload []byte) (Result, error) {
	order, err := r.normalizer.Normalize(payload)
	if err != nil {
		msg := "payload has no order section"
		if !errors.Is(err, normalizer.ErrNotAnOrder) {
			msg = err.Error()
		}
		r.finish(ctx, deliveryID, model.EventIgnored, msg, model.Order{}, payload)
		return Result{Kind: model.EventIgnored}, nil
	}

	res := Result{OrderID: order.ID, OrderRef: order.Ref}
	log := r.logger.With(
		zap.String("delivery_id", deliveryID),
		zap.String("order_id", order.ID),
		zap.String("order_ref", order.Ref),
	)
	for _, w := range order.Warnings {
		log.Warn("order line skipped", zap.String("reason", w))
	}

	if !order.Paid {
		res.Kind = model.EventNotPaid
		r.finish(ctx, deliveryID, res.Kind, "order has no confirmed payment", order, payload)
		return res, nil
	}

	reqs := allocator.Aggregate(order.Requirements)
	if len(reqs) == 0 {
		res.Kind = model.EventNoGiftCards
		r.finish(ctx, deliveryID, res.Kind, "order has no gift card lines", order, payload)
		return res, nil
	}

	claimed, err := r.allocate(ctx, order, reqs)
	if err != nil {
		res.Kind = model.EventError

		var exhausted *allocator.PoolExhaustedError
		if errors.As(err, &exhausted) {
			r.metrics.PoolExhausted(exhausted.Denomination)
		}
		log.Error("allocate gift codes", zap.Error(err))
		r.finish(ctx, deliveryID, res.Kind, err.Error(), order, payload)
		return res, fmt.Errorf("allocate codes for order %s: %w", order.ID, err)
	}

	res.Kind = model.EventProcessed
	res.Claimed = claimed
	countClaimed(r.metrics, claimed)

	if len(claimed) > 0 {
		if err := r.dispatcher.Dispatch(ctx, order, claimed); err != nil {
			// коды уже выданы, доставка не откатывает выдачу
			log.Error("schedule delivery", zap.Error(err), zap.Strings("codes", codeList(claimed)))
			r.metrics.DeliveryFailure("schedule")
		}
	}

	log.Info("order processed", zap.Int("assigned", len(claimed)))
	r.finish(ctx, deliveryID, res.Kind, processedMessage(reqs, claimed), order, payload)
	return res, nil
}

// Reject записывает доставку, тело которой не удалось принять целиком,
// как ignored. payload содержит прочитанную часть тела.
func (r *Reconciler) Reject(ctx context.Context, deliveryID string, payload []byte, reason string) Result {
	r.logger.Warn("webhook payload rejected", zap.String("delivery_id", deliveryID), zap.String("reason", reason))
	r.finish(ctx, deliveryID, model.EventIgnored, reason, model.Order{}, payload)
	return Result{Kind: model.EventIgnored}
}

func (r *Reconciler) allocate(ctx context.Context, order model.Order, reqs []model.Requirement) ([]model.GiftCode, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() { r.metrics.ObserveAllocation(time.Since(start)) }()

	return r.allocator.Allocate(ctx, order.ID, order.Ref, reqs)
}

func (r *Reconciler) finish(ctx context.Context, deliveryID string, kind model.EventKind, msg string, order model.Order, payload []byte) {
	r.metrics.WebhookEvent(string(kind))
	r.recorder.Record(ctx, eventlog.Entry{
		DeliveryID: deliveryID,
		Kind:       kind,
		Message:    msg,
		OrderID:    order.ID,
		OrderRef:   order.Ref,
		Payload:    payload,
	})
}

func processedMessage(reqs []model.Requirement, claimed []model.GiftCode) string {
	parts := make([]string, 0, len(reqs))
	for _, q := range reqs {
		parts = append(parts, fmt.Sprintf("%dx%d", q.Quantity, q.Denomination))
	}
	msg := fmt.Sprintf("assigned %d new codes (required %s)", len(claimed), strings.Join(parts, ", "))
	if len(claimed) > 0 {
		msg += ": " + strings.Join(codeList(claimed), ", ")
	}
	return msg
}

func countClaimed(m *metrics.Metrics, claimed []model.GiftCode) {
	byDenom := make(map[int]int)
	for _, c := range claimed {
		byDenom[c.Denomination]++
	}
	for d, n := range byDenom {
		m.CodesClaimed(d, n)
	}
}

func codeList(codes []model.GiftCode) []string {
	res := make([]string, 0, len(codes))
	for _, c := range codes {
		res = append(res, c.Code)
	}
	return res
}
