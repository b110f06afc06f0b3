// Package service реализует бизнес-логику сервиса выдачи подарочных карт,
// используемую HTTP-обработчиками.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mmeshcher/giftcard-fulfillment/internal/fulfillment"
	"github.com/mmeshcher/giftcard-fulfillment/internal/model"
	"github.com/mmeshcher/giftcard-fulfillment/internal/validation"
	"github.com/mmeshcher/giftcard-fulfillment/internal/voucher"
)

const (
	defaultEventsLimit = 50
	maxEventsLimit     = 500

	rejectInvalidFormat = "invalid format"
)

var (
	// ErrInvalidDenomination возвращается для номинала, отсутствующего в каталоге.
	ErrInvalidDenomination = errors.New("invalid denomination")
	// ErrEmptyBatch возвращается, если в пакете импорта нет ни одного кода.
	ErrEmptyBatch = errors.New("no codes to import")
	// ErrInvalidEventKind возвращается для неизвестной классификации события.
	ErrInvalidEventKind = errors.New("invalid event kind")
	// ErrInvalidCode возвращается для кода неверного формата.
	ErrInvalidCode = errors.New("invalid gift code")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	Ping(ctx context.Context) error
	ImportCodes(ctx context.Context, denomination int, codes []string) (model.ImportResult, error)
	GetCodesByOrder(ctx context.Context, orderID string) ([]model.GiftCode, error)
	GetPoolStats(ctx context.Context) ([]model.PoolStat, error)
	GetEvents(ctx context.Context, f model.EventFilter) ([]model.FulfillmentEvent, error)
}

// Reconciler обрабатывает доставку вебхука.
type Reconciler interface {
	Reconcile(ctx context.Context, deliveryID string, payload []byte) (fulfillment.Result, error)
	Reject(ctx context.Context, deliveryID string, payload []byte, reason string) fulfillment.Result
}

// Renderer формирует документ ваучера.
type Renderer interface {
	Render(ctx context.Context, code string, denomination int) ([]byte, error)
}

// TestMailer отправляет проверочное письмо.
type TestMailer interface {
	SendTest(ctx context.Context, to string) error
}

// Service содержит бизнес-логику сервиса выдачи подарочных карт.
type Service struct {
	repo          Repository
	reconciler    Reconciler
	renderer      Renderer
	mailer        TestMailer
	denominations []int
}

// NewService создаёт сервис. denominations ограничивает номиналы импорта;
// пустой список разрешает любой положительный номинал.
func NewService(repo Repository, reconciler Reconciler, renderer Renderer, mailer TestMailer, denominations []int) *Service {
	return &Service{
		repo:          repo,
		reconciler:    reconciler,
		renderer:      renderer,
		mailer:        mailer,
		denominations: denominations,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// Ping проверяет доступность базы данных.
func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

// HandleOrderWebhook обрабатывает одну доставку вебхука об оплате заказа.
func (s *Service) HandleOrderWebhook(ctx context.Context, deliveryID string, payload []byte) (fulfillment.Result, error) {
	return s.reconciler.Reconcile(ctx, deliveryID, payload)
}

// RejectOrderWebhook фиксирует в журнале доставку, которую не удалось прочитать.
func (s *Service) RejectOrderWebhook(ctx context.Context, deliveryID string, payload []byte, reason string) fulfillment.Result {
	return s.reconciler.Reject(ctx, deliveryID, payload, reason)
}

// ImportCodes добавляет коды в пул. Коды неверного формата, дубликаты в пакете
// и уже существующие коды попадают в список отклонённых, не прерывая импорт.
func (s *Service) ImportCodes(ctx context.Context, denomination int, codes []string) (model.ImportResult, error) {
	if !validation.IsAllowedDenomination(denomination, s.denominations) {
		return model.ImportResult{}, fmt.Errorf("%w: %d", ErrInvalidDenomination, denomination)
	}

	var (
		valid    []string
		rejected []model.RejectedCode
	)
	for _, c := range codes {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if !validation.IsValidGiftCode(c) {
			rejected = append(rejected, model.RejectedCode{Code: c, Reason: rejectInvalidFormat})
			continue
		}
		valid = append(valid, c)
	}

	if len(valid) == 0 && len(rejected) == 0 {
		return model.ImportResult{}, ErrEmptyBatch
	}

	var res model.ImportResult
	if len(valid) > 0 {
		var err error
		res, err = s.repo.ImportCodes(ctx, denomination, valid)
		if err != nil {
			return model.ImportResult{}, err
		}
	}
	res.Rejected = append(rejected, res.Rejected...)
	if res.Rejected == nil {
		res.Rejected = []model.RejectedCode{}
	}
	return res, nil
}

// ListOrderCodes возвращает коды, выданные заказу.
func (s *Service) ListOrderCodes(ctx context.Context, orderID string) ([]model.GiftCode, error) {
	return s.repo.GetCodesByOrder(ctx, orderID)
}

// PoolSummary возвращает число свободных и выданных кодов по номиналам.
func (s *Service) PoolSummary(ctx context.Context) ([]model.PoolStat, error) {
	return s.repo.GetPoolStats(ctx)
}

// ListEvents возвращает события журнала, начиная с самых новых.
func (s *Service) ListEvents(ctx context.Context, f model.EventFilter) ([]model.FulfillmentEvent, error) {
	if f.Kind != "" && !f.Kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEventKind, f.Kind)
	}
	switch {
	case f.Limit <= 0:
		f.Limit = defaultEventsLimit
	case f.Limit > maxEventsLimit:
		f.Limit = maxEventsLimit
	}
	return s.repo.GetEvents(ctx, f)
}

// RenderVoucher формирует пробный ваучер без выдачи кода.
func (s *Service) RenderVoucher(ctx context.Context, code string, denomination int) (model.Voucher, error) {
	if !validation.IsValidGiftCode(code) {
		return model.Voucher{}, ErrInvalidCode
	}
	if denomination <= 0 {
		return model.Voucher{}, fmt.Errorf("%w: %d", ErrInvalidDenomination, denomination)
	}

	doc, err := s.renderer.Render(ctx, code, denomination)
	if err != nil {
		return model.Voucher{}, fmt.Errorf("render voucher: %w", err)
	}
	return model.Voucher{
		Code:         code,
		Denomination: denomination,
		FileName:     voucher.FileName(code, denomination),
		Document:     doc,
	}, nil
}

// SendTestEmail отправляет проверочное письмо.
func (s *Service) SendTestEmail(ctx context.Context, to string) error {
	return s.mailer.SendTest(ctx, to)
}
