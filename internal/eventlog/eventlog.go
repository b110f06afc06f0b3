// Package eventlog ведёт журнал обработки вебхуков.
package eventlog

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/mmeshcher/giftcard-fulfillment/internal/model"
)

// MaxPayloadBytes ограничивает размер сохраняемого тела уведомления.
const MaxPayloadBytes = 64 << 10

const writeTimeout = 5 * time.Second

// Store сохраняет записи журнала.
type Store interface {
	InsertEvent(ctx context.Context, e model.FulfillmentEvent) error
}

// Recorder пишет события в журнал. Ошибки записи только логируются:
// потеря записи журнала не должна прерывать выдачу кодов.
type Recorder struct {
	store  Store
	logger *zap.Logger
}

// NewRecorder создаёт Recorder.
func NewRecorder(store Store, logger *zap.Logger) *Recorder {
	return &Recorder{store: store, logger: logger}
}

// Entry: данные одной записи журнала.
type Entry struct {
	DeliveryID string
	Kind       model.EventKind
	Message    string
	OrderID    string
	OrderRef   string
	Payload    []byte
}

// Record сохраняет запись. Запись выполняется даже если контекст запроса уже отменён.
func (r *Recorder) Record(ctx context.Context, e Entry) {
	ev := model.FulfillmentEvent{
		DeliveryID: e.DeliveryID,
		Kind:       e.Kind,
		Message:    e.Message,
		OrderID:    optional(e.OrderID),
		OrderRef:   optional(e.OrderRef),
		Payload:    Truncate(e.Payload, MaxPayloadBytes),
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	if err := r.store.InsertEvent(writeCtx, ev); err != nil {
		r.logger.Error("record fulfillment event",
			zap.Error(err),
			zap.String("delivery_id", e.DeliveryID),
			zap.String("kind", string(e.Kind)),
			zap.String("order_id", e.OrderID),
		)
	}
}

// Truncate приводит payload к допустимому для колонки TEXT виду и обрезает его
// до limit байт, не разрывая UTF-8 символы. Неверные последовательности
// заменяются на U+FFFD, нулевые байты удаляются.
func Truncate(payload []byte, limit int) string {
	s := strings.ToValidUTF8(string(payload), string(utf8.RuneError))
	s = strings.ReplaceAll(s, "\x00", "")
	if len(s) <= limit {
		return s
	}

	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
