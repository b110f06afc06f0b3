package mailer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/giftcard-fulfillment/internal/model"
)

type captured struct {
	addr string
	auth smtp.Auth
	from string
	to   []string
	msg  []byte
}

func newTestNotifier(cfg Config, c *captured, sendErr error) *SMTPNotifier {
	n := NewSMTP(cfg, "WASSYL", "zł")
	n.now = func() time.Time { return time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC) }
	n.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		c.addr, c.auth, c.from, c.to, c.msg = addr, a, from, to, msg
		return sendErr
	}
	return n
}

func TestNotifyGiftCards_BuildsMultipartWithAttachments(t *testing.T) {
	var c captured
	n := newTestNotifier(Config{Host: "smtp.example.com", Port: 587, From: "shop@example.com"}, &c, nil)

	vouchers := []model.Voucher{
		{Code: "A1", Denomination: 100, FileName: "giftcard_100_A1.pdf", Document: []byte("%PDF-1 first")},
		{Code: "A2", Denomination: 100, FileName: "giftcard_100_A2.pdf", Document: []byte("%PDF-1 second")},
	}

	err := n.NotifyGiftCards(context.Background(), "buyer@example.com", "1836855", vouchers)
	require.NoError(t, err)

	assert.Equal(t, "smtp.example.com:587", c.addr)
	assert.Nil(t, c.auth)
	assert.Equal(t, []string{"buyer@example.com"}, c.to)

	m, err := mail.ReadMessage(bytes.NewReader(c.msg))
	require.NoError(t, err)

	subject, err := new(mime.WordDecoder).DecodeHeader(m.Header.Get("Subject"))
	require.NoError(t, err)
	assert.Contains(t, subject, "1836855")

	mediaType, params, err := mime.ParseMediaType(m.Header.Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/mixed", mediaType)

	mr := multipart.NewReader(m.Body, params["boundary"])

	text, err := mr.NextPart()
	require.NoError(t, err)
	body, err := io.ReadAll(text)
	require.NoError(t, err)
	assert.Contains(t, string(body), "numer karty: A1")
	assert.Contains(t, string(body), "numer karty: A2")
	assert.Contains(t, string(body), "100 zł")

	var names []string
	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(p.Header.Get("Content-Type"), "application/pdf"))
		names = append(names, p.FileName())
	}
	assert.Equal(t, []string{"giftcard_100_A1.pdf", "giftcard_100_A2.pdf"}, names)
}

func TestNotifyGiftCards_UsesAuthWhenConfigured(t *testing.T) {
	var c captured
	n := newTestNotifier(Config{Host: "smtp.example.com", Port: 587, Username: "u", Password: "p", From: "shop@example.com"}, &c, nil)

	err := n.NotifyGiftCards(context.Background(), "buyer@example.com", "1", []model.Voucher{{Code: "A1", Denomination: 100}})
	require.NoError(t, err)
	assert.NotNil(t, c.auth)
}

func TestNotifyGiftCards_Errors(t *testing.T) {
	var c captured
	n := newTestNotifier(Config{Host: "smtp.example.com", Port: 587}, &c, errors.New("550 mailbox unavailable"))

	err := n.NotifyGiftCards(context.Background(), "buyer@example.com", "1", []model.Voucher{{Code: "A1", Denomination: 100}})
	assert.ErrorContains(t, err, "550")

	err = n.NotifyGiftCards(context.Background(), "", "1", []model.Voucher{{Code: "A1", Denomination: 100}})
	assert.Error(t, err)
}

func TestNotifyGiftCards_NothingToSend(t *testing.T) {
	var c captured
	n := newTestNotifier(Config{Host: "smtp.example.com", Port: 587}, &c, nil)

	require.NoError(t, n.NotifyGiftCards(context.Background(), "buyer@example.com", "1", nil))
	assert.Nil(t, c.msg)
}

func TestNoop(t *testing.T) {
	var n Noop

	assert.NoError(t, n.NotifyGiftCards(context.Background(), "buyer@example.com", "1", nil))
	assert.Error(t, n.SendTest(context.Background(), "buyer@example.com"))
}
