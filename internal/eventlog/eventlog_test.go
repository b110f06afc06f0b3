package eventlog

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/giftcard-fulfillment/internal/model"
	"github.com/mmeshcher/giftcard-fulfillment/internal/repository/repotest"
)

func TestRecord_StoresEntry(t *testing.T) {
	store := repotest.New()
	r := NewRecorder(store, zap.NewNop())

	r.Record(context.Background(), Entry{
		DeliveryID: "d-1",
		Kind:       model.EventNotPaid,
		Message:    "order is not paid",
		OrderID:    "ORD-1",
		Payload:    []byte(`{"orderId":"ORD-1"}`),
	})

	events := store.Events()
	require.Len(t, events, 1)
	assert.Equal(t, model.EventNotPaid, events[0].Kind)
	require.NotNil(t, events[0].OrderID)
	assert.Equal(t, "ORD-1", *events[0].OrderID)
	assert.Nil(t, events[0].OrderRef)
	assert.Equal(t, `{"orderId":"ORD-1"}`, events[0].Payload)
}

func TestRecord_SwallowsStoreError(t *testing.T) {
	store := repotest.New()
	store.EventErr = errors.New("disk full")
	r := NewRecorder(store, zap.NewNop())

	assert.NotPanics(t, func() {
		r.Record(context.Background(), Entry{DeliveryID: "d-1", Kind: model.EventIgnored})
	})
	assert.Empty(t, store.Events())
}

func TestRecord_CancelledContextStillWrites(t *testing.T) {
	store := repotest.New()
	r := NewRecorder(store, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r.Record(ctx, Entry{DeliveryID: "d-1", Kind: model.EventError, Message: "timeout"})
	assert.Len(t, store.Events(), 1)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate([]byte("abc"), 10))
	assert.Equal(t, "ab", Truncate([]byte("abcdef"), 2))

	// "ł" занимает два байта и не должен разрываться
	got := Truncate([]byte("ał"), 2)
	assert.Equal(t, "a", got)

	long := strings.Repeat("x", MaxPayloadBytes+100)
	assert.Len(t, Truncate([]byte(long), MaxPayloadBytes), MaxPayloadBytes)
}

func TestTruncate_MakesPayloadStorable(t *testing.T) {
	payload := []byte("{\"orderId\":\"ORD-1\",\"note\":\"\xb3\x00\"}")

	got := Truncate(payload, MaxPayloadBytes)

	assert.True(t, utf8.ValidString(got))
	assert.NotContains(t, got, "\x00")
	assert.Equal(t, "{\"orderId\":\"ORD-1\",\"note\":\"\uFFFD\"}", got)
}

func TestRecord_SanitizesPayload(t *testing.T) {
	store := repotest.New()
	r := NewRecorder(store, zap.NewNop())

	r.Record(context.Background(), Entry{
		DeliveryID: "d-1",
		Kind:       model.EventProcessed,
		Payload:    []byte("\xff\xfe{}\x00"),
	})

	events := store.Events()
	require.Len(t, events, 1)
	assert.True(t, utf8.ValidString(events[0].Payload))
	assert.NotContains(t, events[0].Payload, "\x00")
}
