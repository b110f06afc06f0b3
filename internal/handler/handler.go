// Package handler содержит HTTP-обработчики API сервиса выдачи подарочных карт.
package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/giftcard-fulfillment/internal/allocator"
	"github.com/mmeshcher/giftcard-fulfillment/internal/fulfillment"
	"github.com/mmeshcher/giftcard-fulfillment/internal/middleware"
	"github.com/mmeshcher/giftcard-fulfillment/internal/model"
	"github.com/mmeshcher/giftcard-fulfillment/internal/service"
)

const (
	maxWebhookBody = 1 << 20
	maxImportBody  = 8 << 20
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	Ping(ctx context.Context) error
	HandleOrderWebhook(ctx context.Context, deliveryID string, payload []byte) (fulfillment.Result, error)
	RejectOrderWebhook(ctx context.Context, deliveryID string, payload []byte, reason string) fulfillment.Result
	ImportCodes(ctx context.Context, denomination int, codes []string) (model.ImportResult, error)
	ListOrderCodes(ctx context.Context, orderID string) ([]model.GiftCode, error)
	PoolSummary(ctx context.Context) ([]model.PoolStat, error)
	ListEvents(ctx context.Context, f model.EventFilter) ([]model.FulfillmentEvent, error)
	RenderVoucher(ctx context.Context, code string, denomination int) (model.Voucher, error)
	SendTestEmail(ctx context.Context, to string) error
}

// Handler реализует HTTP-обработчики API сервиса выдачи подарочных карт.
type Handler struct {
	service     Service
	logger      *zap.Logger
	adminAuth   *middleware.TokenAuth
	webhookAuth *middleware.TokenAuth
	metrics     http.Handler
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
// metrics отдаётся на /metrics; nil отключает маршрут.
func NewHandler(s Service, logger *zap.Logger, adminAuth, webhookAuth *middleware.TokenAuth, metrics http.Handler) *Handler {
	return &Handler{
		service:     s,
		logger:      logger,
		adminAuth:   adminAuth,
		webhookAuth: webhookAuth,
		metrics:     metrics,
	}
}

type assignedCode struct {
	Code         string `json:"code"`
	Denomination int    `json:"denomination"`
}

type webhookResponse struct {
	Status        string         `json:"status"`
	OrderID       string         `json:"orderId,omitempty"`
	OrderRef      string         `json:"orderRef,omitempty"`
	AssignedCodes []assignedCode `json:"assignedCodes"`
}

type errorResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

// OrderWebhook обрабатывает уведомление магазина об оплате заказа.
func (h *Handler) OrderWebhook(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	deliveryID := uuid.NewString()

	// Непринятое тело записывается как ignored и подтверждается 200.
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		reason := "payload unreadable: " + err.Error()
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			reason = "payload too large"
		}
		res := h.service.RejectOrderWebhook(r.Context(), deliveryID, body, reason)
		writeJSON(w, http.StatusOK, webhookResponse{Status: string(res.Kind), AssignedCodes: []assignedCode{}})
		return
	}

	res, err := h.service.HandleOrderWebhook(r.Context(), deliveryID, body)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, allocator.ErrPoolExhausted) {
			status = http.StatusServiceUnavailable
		}
		h.logger.Error("order webhook error", zap.Error(err), zap.String("delivery_id", deliveryID))
		writeJSON(w, status, errorResponse{Status: string(model.EventError), Error: err.Error()})
		return
	}

	resp := webhookResponse{
		Status:        string(res.Kind),
		OrderID:       res.OrderID,
		OrderRef:      res.OrderRef,
		AssignedCodes: make([]assignedCode, 0, len(res.Claimed)),
	}
	for _, c := range res.Claimed {
		resp.AssignedCodes = append(resp.AssignedCodes, assignedCode{Code: c.Code, Denomination: c.Denomination})
	}

	writeJSON(w, http.StatusOK, resp)
}

type importRequest struct {
	Denomination int      `json:"denomination"`
	Codes        []string `json:"codes"`
}

// ImportCodes загружает коды в пул. Принимает JSON или текст по одному коду в строке.
func (h *Handler) ImportCodes(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	body := http.MaxBytesReader(w, r.Body, maxImportBody)

	var req importRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json":
		if err := json.NewDecoder(body).Decode(&req); err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
	case "text/plain", "":
		d, err := strconv.Atoi(r.URL.Query().Get("denomination"))
		if err != nil {
			http.Error(w, "denomination query parameter is required", http.StatusBadRequest)
			return
		}
		req.Denomination = d

		sc := bufio.NewScanner(body)
		for sc.Scan() {
			req.Codes = append(req.Codes, sc.Text())
		}
		if err := sc.Err(); err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
	default:
		http.Error(w, http.StatusText(http.StatusUnsupportedMediaType), http.StatusUnsupportedMediaType)
		return
	}

	res, err := h.service.ImportCodes(r.Context(), req.Denomination, req.Codes)
	if err != nil {
		if errors.Is(err, service.ErrInvalidDenomination) || errors.Is(err, service.ErrEmptyBatch) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error("import codes error", zap.Error(err), zap.Int("denomination", req.Denomination))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.logger.Info("codes imported",
		zap.Int("denomination", req.Denomination),
		zap.Int("inserted", res.Inserted),
		zap.Int("rejected", len(res.Rejected)),
	)
	writeJSON(w, http.StatusOK, res)
}

type codeResponse struct {
	Code         string  `json:"code"`
	Denomination int     `json:"denomination"`
	OrderID      string  `json:"orderId"`
	OrderRef     string  `json:"orderRef,omitempty"`
	ClaimedAt    *string `json:"claimedAt,omitempty"`
}

// OrderCodes возвращает коды, выданные заказу.
func (h *Handler) OrderCodes(w http.ResponseWriter, r *http.Request) {
	orderID := strings.TrimSpace(r.URL.Query().Get("order_id"))
	if orderID == "" {
		http.Error(w, "order_id query parameter is required", http.StatusBadRequest)
		return
	}

	codes, err := h.service.ListOrderCodes(r.Context(), orderID)
	if err != nil {
		h.logger.Error("list order codes error", zap.Error(err), zap.String("order_id", orderID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := make([]codeResponse, 0, len(codes))
	for _, c := range codes {
		resp = append(resp, codeResponse{
			Code:         c.Code,
			Denomination: c.Denomination,
			OrderID:      c.OrderID,
			OrderRef:     c.OrderRef,
			ClaimedAt:    formatTime(c.ClaimedAt),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// PoolSummary возвращает остатки пула по номиналам.
func (h *Handler) PoolSummary(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.PoolSummary(r.Context())
	if err != nil {
		h.logger.Error("pool summary error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	if stats == nil {
		stats = []model.PoolStat{}
	}
	writeJSON(w, http.StatusOK, stats)
}

type eventResponse struct {
	ID         int64   `json:"id"`
	DeliveryID string  `json:"deliveryId"`
	Kind       string  `json:"kind"`
	Message    string  `json:"message"`
	OrderID    *string `json:"orderId"`
	OrderRef   *string `json:"orderRef"`
	Payload    string  `json:"payload"`
	CreatedAt  string  `json:"createdAt"`
}

// Events возвращает записи журнала, начиная с самых новых.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	f := model.EventFilter{
		Kind:    model.EventKind(q.Get("kind")),
		OrderID: q.Get("order_id"),
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		f.Limit = limit
	}

	events, err := h.service.ListEvents(r.Context(), f)
	if err != nil {
		if errors.Is(err, service.ErrInvalidEventKind) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error("list events error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := make([]eventResponse, 0, len(events))
	for _, e := range events {
		resp = append(resp, eventResponse{
			ID:         e.ID,
			DeliveryID: e.DeliveryID,
			Kind:       string(e.Kind),
			Message:    e.Message,
			OrderID:    e.OrderID,
			OrderRef:   e.OrderRef,
			Payload:    e.Payload,
			CreatedAt:  e.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// VoucherPreview отдаёт пробный ваучер в формате PDF.
func (h *Handler) VoucherPreview(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	code := q.Get("code")
	if code == "" {
		code = "PREVIEW-0000"
	}
	denomination, err := strconv.Atoi(q.Get("denomination"))
	if err != nil {
		http.Error(w, "denomination query parameter is required", http.StatusBadRequest)
		return
	}

	v, err := h.service.RenderVoucher(r.Context(), code, denomination)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCode) || errors.Is(err, service.ErrInvalidDenomination) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error("render voucher preview error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": v.FileName}))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(v.Document)
}

// TestEmail отправляет проверочное письмо на адрес из параметра to.
func (h *Handler) TestEmail(w http.ResponseWriter, r *http.Request) {
	to := strings.TrimSpace(r.URL.Query().Get("to"))
	if to == "" {
		http.Error(w, "to query parameter is required", http.StatusBadRequest)
		return
	}

	if err := h.service.SendTestEmail(r.Context(), to); err != nil {
		h.logger.Error("send test email error", zap.Error(err), zap.String("to", to))
		writeJSON(w, http.StatusBadGateway, errorResponse{Status: "error", Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "sent", "to": to})
}

// Health проверяет доступность базы данных.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Ping(r.Context()); err != nil {
		h.logger.Warn("health check failed", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}
