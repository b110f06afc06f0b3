package normalizer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/giftcard-fulfillment/internal/config"
	"github.com/mmeshcher/giftcard-fulfillment/internal/model"
)

const paidOrder = `{
	"orderId": "shop-1836855",
	"orderSerialNumber": 1836855,
	"clientResult": {"clientAccount": {"clientEmail": "buyer@example.com"}},
	"orderDetails": {
		"prepaids": [{"paymentStatus": "n"}, {"paymentStatus": "y"}],
		"productsResults": [
			{"productId": 14409, "productQuantity": 2, "sizePanelName": "100 zł"},
			{"productId": 777, "productQuantity": 1, "sizePanelName": "M"},
			{"productId": "14409", "sizePanelName": "300 zł"},
			{"productId": 14409, "productQuantity": 1, "sizePanelName": "100 zł"}
		]
	}
}`

func TestNormalize_Shapes(t *testing.T) {
	n := New(config.DefaultCatalog())

	tests := []struct {
		name    string
		payload string
	}{
		{name: "results list", payload: `{"Results": [` + paidOrder + `]}`},
		{name: "wrapped order", payload: `{"order": ` + paidOrder + `}`},
		{name: "bare order", payload: paidOrder},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, err := n.Normalize([]byte(tt.payload))
			require.NoError(t, err)

			assert.Equal(t, "shop-1836855", o.ID)
			assert.Equal(t, "1836855", o.Ref)
			assert.Equal(t, "buyer@example.com", o.BuyerEmail)
			assert.True(t, o.Paid)
			assert.Equal(t, []model.Requirement{
				{Denomination: 100, Quantity: 3},
				{Denomination: 300, Quantity: 1},
			}, o.Requirements)
			assert.Empty(t, o.Warnings)
		})
	}
}

func TestNormalize_NotAnOrder(t *testing.T) {
	n := New(config.DefaultCatalog())

	payloads := map[string]string{
		"invalid json":    `{"Results": [`,
		"empty results":   `{"Results": []}`,
		"results object":  `{"Results": {"orderId": "x"}}`,
		"unknown shape":   `{"event": "ping"}`,
		"null order":      `{"order": null}`,
		"missing orderId": `{"order": {"orderSerialNumber": 5}}`,
		"array":           `[1, 2, 3]`,
	}

	for name, payload := range payloads {
		t.Run(name, func(t *testing.T) {
			_, err := n.Normalize([]byte(payload))
			assert.True(t, errors.Is(err, ErrNotAnOrder), "got %v", err)
		})
	}
}

func TestNormalize_NotPaid(t *testing.T) {
	n := New(config.DefaultCatalog())

	o, err := n.Normalize([]byte(`{"orderId": 42, "orderDetails": {"prepaids": [{"paymentStatus": "n"}]}}`))
	require.NoError(t, err)

	assert.Equal(t, "42", o.ID)
	assert.False(t, o.Paid)
}

func TestNormalize_UnknownSizeAndBillingEmail(t *testing.T) {
	n := New(config.DefaultCatalog())

	o, err := n.Normalize([]byte(`{
		"orderId": "A",
		"clientResult": {"clientBillingAddress": {"clientEmail": " billing@example.com "}},
		"orderDetails": {
			"prepaids": [{"paymentStatus": "y"}],
			"productsResults": [
				{"productId": 14409, "productQuantity": 1, "sizePanelName": "1000 zł"},
				{"productId": 14409, "productQuantity": 0, "sizePanelName": "200 zł"}
			]
		}
	}`))
	require.NoError(t, err)

	assert.Equal(t, "billing@example.com", o.BuyerEmail)
	assert.Empty(t, o.Requirements)
	assert.Len(t, o.Warnings, 2)
}
