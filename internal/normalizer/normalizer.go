// Package normalizer приводит входящие уведомления об оплате заказа к model.Order.
package normalizer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/mmeshcher/giftcard-fulfillment/internal/model"
)

// ErrNotAnOrder возвращается, если в уведомлении нет распознаваемого заказа.
var ErrNotAnOrder = errors.New("payload has no recognizable order")

const paymentConfirmed = "y"

// Catalog определяет, какие позиции заказа являются подарочными картами.
type Catalog interface {
	IsGiftProduct(id int64) bool
	Denomination(size string) (int, bool)
}

// Normalizer разбирает уведомления известных форм:
//
//	{"Results": [order, ...]}  результат поиска заказов, берётся первый;
//	{"order": order}           обёрнутый заказ;
//	order                      заказ на верхнем уровне (есть поле orderId).
type Normalizer struct {
	catalog Catalog
}

// New создаёт Normalizer для каталога.
func New(catalog Catalog) *Normalizer {
	return &Normalizer{catalog: catalog}
}

// Normalize извлекает заказ из уведомления.
func (n *Normalizer) Normalize(payload []byte) (model.Order, error) {
	raw, err := locateOrder(payload)
	if err != nil {
		return model.Order{}, err
	}

	var ro rawOrder
	if err := json.Unmarshal(raw, &ro); err != nil {
		return model.Order{}, fmt.Errorf("%w: decode order: %v", ErrNotAnOrder, err)
	}
	if ro.OrderID == "" {
		return model.Order{}, fmt.Errorf("%w: order has no orderId", ErrNotAnOrder)
	}

	o := model.Order{
		ID:         string(ro.OrderID),
		Ref:        string(ro.OrderSerialNumber),
		BuyerEmail: ro.buyerEmail(),
		Paid:       ro.paid(),
	}
	o.Requirements, o.Warnings = n.requirements(ro.OrderDetails.ProductsResults)

	return o, nil
}

func locateOrder(payload []byte) (json.RawMessage, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(payload, &top); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotAnOrder, err)
	}

	if results, ok := top["Results"]; ok {
		var list []json.RawMessage
		if err := json.Unmarshal(results, &list); err != nil {
			return nil, fmt.Errorf("%w: Results is not a list", ErrNotAnOrder)
		}
		if len(list) == 0 {
			return nil, fmt.Errorf("%w: Results is empty", ErrNotAnOrder)
		}
		return list[0], nil
	}

	if order, ok := top["order"]; ok && !isNull(order) {
		return order, nil
	}

	if _, ok := top["orderId"]; ok {
		return payload, nil
	}

	return nil, ErrNotAnOrder
}

func (n *Normalizer) requirements(products []rawProduct) ([]model.Requirement, []string) {
	var (
		order    []int
		byDenom  = map[int]int{}
		warnings []string
	)

	for _, p := range products {
		id, err := strconv.ParseInt(string(p.ProductID), 10, 64)
		if err != nil || !n.catalog.IsGiftProduct(id) {
			continue
		}

		value, ok := n.catalog.Denomination(p.SizePanelName)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("gift card product %d has unknown size %q", id, p.SizePanelName))
			continue
		}

		qty := 1
		if p.ProductQuantity != nil {
			qty = int(math.Round(*p.ProductQuantity))
		}
		if qty <= 0 {
			warnings = append(warnings, fmt.Sprintf("gift card product %d has non-positive quantity", id))
			continue
		}

		if _, seen := byDenom[value]; !seen {
			order = append(order, value)
		}
		byDenom[value] += qty
	}

	reqs := make([]model.Requirement, 0, len(order))
	for _, d := range order {
		reqs = append(reqs, model.Requirement{Denomination: d, Quantity: byDenom[d]})
	}
	return reqs, warnings
}

type rawOrder struct {
	OrderID           flexString `json:"orderId"`
	OrderSerialNumber flexString `json:"orderSerialNumber"`
	ClientResult      struct {
		ClientAccount struct {
			ClientEmail string `json:"clientEmail"`
		} `json:"clientAccount"`
		ClientBillingAddress struct {
			ClientEmail string `json:"clientEmail"`
		} `json:"clientBillingAddress"`
	} `json:"clientResult"`
	OrderDetails struct {
		ProductsResults []rawProduct `json:"productsResults"`
		Prepaids        []struct {
			PaymentStatus string `json:"paymentStatus"`
		} `json:"prepaids"`
	} `json:"orderDetails"`
}

type rawProduct struct {
	ProductID       flexString `json:"productId"`
	ProductName     string     `json:"productName"`
	ProductQuantity *float64   `json:"productQuantity"`
	SizePanelName   string     `json:"sizePanelName"`
}

func (o *rawOrder) buyerEmail() string {
	if e := strings.TrimSpace(o.ClientResult.ClientAccount.ClientEmail); e != "" {
		return e
	}
	return strings.TrimSpace(o.ClientResult.ClientBillingAddress.ClientEmail)
}

func (o *rawOrder) paid() bool {
	for _, p := range o.OrderDetails.Prepaids {
		if p.PaymentStatus == paymentConfirmed {
			return true
		}
	}
	return false
}

// flexString принимает в JSON как строку, так и число.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if isNull(data) {
		*f = ""
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(s))
		return nil
	}

	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return fmt.Errorf("expected string or number, got %s", data)
	}
	*f = flexString(num.String())
	return nil
}

func isNull(data []byte) bool {
	return bytes.Equal(bytes.TrimSpace(data), []byte("null"))
}
