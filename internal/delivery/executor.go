package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/mmeshcher/giftcard-fulfillment/internal/metrics"
	"github.com/mmeshcher/giftcard-fulfillment/internal/model"
	"github.com/mmeshcher/giftcard-fulfillment/internal/ordersystem"
	"github.com/mmeshcher/giftcard-fulfillment/internal/voucher"
)

// Renderer формирует документ ваучера для одного кода.
type Renderer interface {
	Render(ctx context.Context, code string, denomination int) ([]byte, error)
}

// Notifier отправляет покупателю одно письмо со всеми ваучерами.
type Notifier interface {
	NotifyGiftCards(ctx context.Context, to, orderRef string, vouchers []model.Voucher) error
}

// OrderNoter записывает заметку к заказу в магазине.
type OrderNoter interface {
	AddOrderNote(ctx context.Context, orderRef, note string) error
}

// Executor выполняет побочные эффекты задания. Каждый эффект выполняется не
// более одного раза успешно; сбой одного эффекта не мешает другому.
type Executor struct {
	renderer Renderer
	notifier Notifier
	notes    OrderNoter
	currency string
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewExecutor создаёт Executor.
func NewExecutor(renderer Renderer, notifier Notifier, notes OrderNoter, currency string, logger *zap.Logger, m *metrics.Metrics) *Executor {
	return &Executor{
		renderer: renderer,
		notifier: notifier,
		notes:    notes,
		currency: currency,
		logger:   logger,
		metrics:  m,
	}
}

// Execute выполняет ещё не выполненные эффекты и возвращает обновлённое
// задание. done равен true, если выполнять больше нечего.
func (e *Executor) Execute(ctx context.Context, job Job) (Job, bool) {
	log := e.logger.With(
		zap.String("job_id", job.ID),
		zap.String("order_id", job.OrderID),
		zap.String("order_ref", job.OrderRef),
		zap.Int("attempt", job.Attempts+1),
	)

	if !job.MailSent {
		job.MailSent = e.sendMail(ctx, log, job)
	}
	if !job.NoteSent {
		job.NoteSent = e.addNote(ctx, log, job)
	}

	return job, job.MailSent && job.NoteSent
}

func (e *Executor) sendMail(ctx context.Context, log *zap.Logger, job Job) bool {
	if job.Email == "" {
		log.Warn("no buyer email, gift card email skipped")
		return true
	}

	vouchers := make([]model.Voucher, 0, len(job.Cards))
	for _, c := range job.Cards {
		doc, err := e.renderer.Render(ctx, c.Code, c.Denomination)
		if err != nil {
			log.Error("render voucher", zap.Error(err), zap.String("code", c.Code))
			e.metrics.DeliveryFailure("voucher")
			return false
		}
		vouchers = append(vouchers, model.Voucher{
			Code:         c.Code,
			Denomination: c.Denomination,
			FileName:     voucher.FileName(c.Code, c.Denomination),
			Document:     doc,
		})
	}

	if err := e.notifier.NotifyGiftCards(ctx, job.Email, job.OrderRef, vouchers); err != nil {
		log.Error("send gift card email", zap.Error(err), zap.String("to", job.Email))
		e.metrics.DeliveryFailure("email")
		return false
	}

	log.Info("gift card email sent", zap.String("to", job.Email), zap.Int("vouchers", len(vouchers)))
	return true
}

func (e *Executor) addNote(ctx context.Context, log *zap.Logger, job Job) bool {
	if job.OrderRef == "" {
		log.Warn("no order reference, order note skipped")
		return true
	}

	err := e.notes.AddOrderNote(ctx, job.OrderRef, NoteText(job.Cards, e.currency))
	switch {
	case errors.Is(err, ordersystem.ErrNotConfigured):
		log.Info("order system not configured, order note skipped")
		return true
	case err != nil:
		log.Error("add order note", zap.Error(err))
		e.metrics.DeliveryFailure("order_note")
		return false
	}

	log.Info("order note updated")
	return true
}

// NoteText формирует текст заметки со списком выданных кодов.
func NoteText(cards []Card, currency string) string {
	parts := make([]string, 0, len(cards))
	for _, c := range cards {
		parts = append(parts, fmt.Sprintf("%s (%s)", c.Code, voucher.Amount(c.Denomination, currency)))
	}
	return "Gift cards issued: " + strings.Join(parts, ", ")
}
