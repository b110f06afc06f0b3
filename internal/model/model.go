// Package model содержит доменные сущности сервиса выдачи подарочных карт.
package model

import "time"

// GiftCode представляет один подарочный код из пула.
type GiftCode struct {
	Code         string
	Denomination int
	OrderID      string
	OrderRef     string
	ClaimedAt    *time.Time
	CreatedAt    time.Time
}

// Claimed сообщает, закреплён ли код за заказом.
func (c GiftCode) Claimed() bool {
	return c.ClaimedAt != nil
}

// Requirement описывает потребность заказа в кодах одного номинала.
type Requirement struct {
	Denomination int `json:"denomination"`
	Quantity     int `json:"quantity"`
}

// Order: нормализованное содержимое уведомления об оплате заказа.
type Order struct {
	ID           string
	Ref          string
	BuyerEmail   string
	Paid         bool
	Requirements []Requirement
	Warnings     []string
}

// EventKind классифицирует итог обработки одной доставки вебхука.
type EventKind string

const (
	EventIgnored     EventKind = "ignored"
	EventNotPaid     EventKind = "not_paid"
	EventNoGiftCards EventKind = "no_giftcards"
	EventProcessed   EventKind = "processed"
	EventError       EventKind = "error"
)

// Valid проверяет, что классификация известна.
func (k EventKind) Valid() bool {
	switch k {
	case EventIgnored, EventNotPaid, EventNoGiftCards, EventProcessed, EventError:
		return true
	}
	return false
}

// FulfillmentEvent: запись журнала об одной доставке вебхука.
type FulfillmentEvent struct {
	ID         int64
	DeliveryID string
	Kind       EventKind
	Message    string
	OrderID    *string
	OrderRef   *string
	Payload    string
	CreatedAt  time.Time
}

// EventFilter ограничивает выборку из журнала событий.
type EventFilter struct {
	Limit   int
	Kind    EventKind
	OrderID string
}

// RejectedCode описывает код, отклонённый при импорте.
type RejectedCode struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

// ImportResult: итог пакетного импорта кодов.
type ImportResult struct {
	Inserted int            `json:"inserted"`
	Rejected []RejectedCode `json:"rejected"`
}

// PoolStat содержит количество свободных и выданных кодов одного номинала.
type PoolStat struct {
	Denomination int `json:"denomination"`
	Free         int `json:"free"`
	Claimed      int `json:"claimed"`
}

// Voucher: отрисованный документ для одного выданного кода.
type Voucher struct {
	Code         string
	Denomination int
	FileName     string
	Document     []byte
}
