package ordersystem

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestAddOrderNote_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Fatalf("method = %s, want PUT", r.Method)
		}
		if r.URL.Path != "/api/admin/v6/orders/orders" {
			t.Fatalf("path = %s, want /api/admin/v6/orders/orders", r.URL.Path)
		}
		if got := r.Header.Get("X-API-KEY"); got != "secret" {
			t.Fatalf("X-API-KEY = %q, want secret", got)
		}

		var body struct {
			Params struct {
				Orders []struct {
					OrderSerialNumber json.Number `json:"orderSerialNumber"`
					OrderNote         string      `json:"orderNote"`
				} `json:"orders"`
			} `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(body.Params.Orders) != 1 {
			t.Fatalf("orders = %d, want 1", len(body.Params.Orders))
		}
		o := body.Params.Orders[0]
		if o.OrderSerialNumber.String() != "1836855" {
			t.Fatalf("orderSerialNumber = %s, want 1836855", o.OrderSerialNumber)
		}
		if o.OrderNote != "Gift cards: A1 (100)" {
			t.Fatalf("orderNote = %q", o.OrderNote)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results": {"ordersResults": []}}`))
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "secret")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := client.AddOrderNote(ctx, "1836855", "Gift cards: A1 (100)"); err != nil {
		t.Fatalf("AddOrderNote error: %v", err)
	}
}

func TestAddOrderNote_HTTPError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("bad key"))
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "wrong")

	err := client.AddOrderNote(context.Background(), "1", "note")

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status code = %d, want %d", apiErr.StatusCode, http.StatusUnauthorized)
	}
}

func TestAddOrderNote_LogicalErrors(t *testing.T) {
	bodies := map[string]string{
		"object": `{"errors": {"faultCode": 2, "faultString": "order not found"}}`,
		"list":   `[{"errors": ["order not found"]}]`,
	}

	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(body))
			}))
			defer ts.Close()

			err := NewClient(ts.URL, "k").AddOrderNote(context.Background(), "ABC-1", "note")
			if err == nil {
				t.Fatalf("expected logical error")
			}
		})
	}
}

func TestAddOrderNote_EmptyErrorsIsSuccess(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"errors": []}`))
	}))
	defer ts.Close()

	if err := NewClient(ts.URL, "k").AddOrderNote(context.Background(), "1", "note"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNewClient_AddsScheme(t *testing.T) {
	c := NewClient("client5056.example.com/", "k")
	if c.baseURL != "https://client5056.example.com" {
		t.Fatalf("baseURL = %q", c.baseURL)
	}
}

func TestDisabled(t *testing.T) {
	err := Disabled{}.AddOrderNote(context.Background(), "1", "note")
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}
