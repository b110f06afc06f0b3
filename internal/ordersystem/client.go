// Package ordersystem предоставляет клиент API магазина для записи заметок к заказам.
package ordersystem

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrNotConfigured возвращается, если интеграция с магазином не настроена.
var ErrNotConfigured = errors.New("order system integration not configured")

const ordersPath = "/api/admin/v6/orders/orders"

// Client инкапсулирует HTTP-взаимодействие с API заказов магазина.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient создаёт клиент для домена магазина. Домен без схемы дополняется https://.
func NewClient(domain, apiKey string) *Client {
	base := strings.TrimRight(strings.TrimSpace(domain), "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}

	return &Client{
		baseURL: base,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type orderNote struct {
	OrderSerialNumber any    `json:"orderSerialNumber"`
	OrderNote         string `json:"orderNote"`
}

type notesRequest struct {
	Params struct {
		Orders []orderNote `json:"orders"`
	} `json:"params"`
}

// APIError описывает ошибку, которую вернул API магазина.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("order system: HTTP %d: %s", e.StatusCode, e.Detail)
	}
	return "order system: " + e.Detail
}

// AddOrderNote записывает заметку к заказу с указанным номером.
func (c *Client) AddOrderNote(ctx context.Context, orderRef, note string) error {
	if c == nil || c.baseURL == "" {
		return ErrNotConfigured
	}
	if orderRef == "" {
		return fmt.Errorf("add order note: empty order reference")
	}

	var body notesRequest
	body.Params.Orders = []orderNote{{OrderSerialNumber: serialValue(orderRef), OrderNote: note}}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+ordersPath, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return &APIError{StatusCode: resp.StatusCode, Detail: strings.TrimSpace(string(respBody))}
	}

	if detail, ok := logicalError(respBody); ok {
		return &APIError{Detail: detail}
	}

	return nil
}

// serialValue отправляет числовой номер заказа числом, а прочие номера строкой.
func serialValue(ref string) any {
	if n, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return n
	}
	return ref
}

// logicalError ищет поле errors в ответе, который может быть объектом или списком.
func logicalError(body []byte) (string, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err == nil {
		if e, ok := nonEmptyErrors(obj); ok {
			return e, true
		}
		return "", false
	}

	var list []map[string]json.RawMessage
	if err := json.Unmarshal(body, &list); err == nil {
		for _, item := range list {
			if e, ok := nonEmptyErrors(item); ok {
				return e, true
			}
		}
	}
	return "", false
}

func nonEmptyErrors(obj map[string]json.RawMessage) (string, bool) {
	raw, ok := obj["errors"]
	if !ok {
		return "", false
	}
	switch strings.TrimSpace(string(raw)) {
	case "", "null", "[]", "{}", `""`, "false":
		return "", false
	}
	return string(raw), true
}

// Disabled используется, когда интеграция с магазином не настроена.
type Disabled struct{}

// AddOrderNote всегда возвращает ErrNotConfigured.
func (Disabled) AddOrderNote(context.Context, string, string) error {
	return ErrNotConfigured
}
