// Package metrics содержит метрики Prometheus сервиса выдачи подарочных карт.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics объединяет счётчики сервиса. Методы безопасны для nil-получателя.
type Metrics struct {
	webhookEvents      *prometheus.CounterVec
	codesClaimed       *prometheus.CounterVec
	poolExhausted      *prometheus.CounterVec
	deliveryFailures   *prometheus.CounterVec
	allocationDuration prometheus.Histogram
}

// New создаёт метрики и регистрирует их в reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		webhookEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "giftcard_webhook_events_total",
				Help: "Webhook deliveries by outcome classification",
			},
			[]string{"kind"},
		),
		codesClaimed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "giftcard_codes_claimed_total",
				Help: "Gift codes claimed by orders",
			},
			[]string{"denomination"},
		),
		poolExhausted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "giftcard_pool_exhausted_total",
				Help: "Allocations failed because no free code was left",
			},
			[]string{"denomination"},
		),
		deliveryFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "giftcard_delivery_failures_total",
				Help: "Failed best-effort side effects after allocation",
			},
			[]string{"effect"},
		),
		allocationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "giftcard_allocation_duration_seconds",
				Help:    "Duration of the allocation transaction",
				Buckets: prometheus.DefBuckets,
			},
		),
	}

	reg.MustRegister(m.webhookEvents, m.codesClaimed, m.poolExhausted, m.deliveryFailures, m.allocationDuration)
	return m
}

// WebhookEvent учитывает итог обработки одной доставки вебхука.
func (m *Metrics) WebhookEvent(kind string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(kind).Inc()
}

// CodesClaimed учитывает выданные коды номинала.
func (m *Metrics) CodesClaimed(denomination, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.codesClaimed.WithLabelValues(strconv.Itoa(denomination)).Add(float64(n))
}

// PoolExhausted учитывает нехватку кодов номинала.
func (m *Metrics) PoolExhausted(denomination int) {
	if m == nil {
		return
	}
	m.poolExhausted.WithLabelValues(strconv.Itoa(denomination)).Inc()
}

// DeliveryFailure учитывает сбой побочного эффекта (voucher, email, order_note, schedule).
func (m *Metrics) DeliveryFailure(effect string) {
	if m == nil {
		return
	}
	m.deliveryFailures.WithLabelValues(effect).Inc()
}

// ObserveAllocation записывает длительность выдачи.
func (m *Metrics) ObserveAllocation(d time.Duration) {
	if m == nil {
		return
	}
	m.allocationDuration.Observe(d.Seconds())
}
