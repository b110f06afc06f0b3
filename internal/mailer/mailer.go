// Package mailer отправляет покупателю письмо с выданными подарочными картами.
package mailer

import (
	"bytes"
	"context"
	"embed"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/smtp"
	"net/textproto"
	"strconv"
	"text/template"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/giftcard-fulfillment/internal/model"
	"github.com/mmeshcher/giftcard-fulfillment/internal/voucher"
)

//go:embed templates/*.txt
var templatesFS embed.FS

var giftCardsTmpl = template.Must(template.ParseFS(templatesFS, "templates/giftcards.txt"))

// Config содержит параметры SMTP-сервера.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPNotifier отправляет письма через SMTP. STARTTLS используется, если сервер
// его поддерживает; авторизация выполняется при заданных учётных данных.
type SMTPNotifier struct {
	cfg      Config
	shopName string
	currency string
	send     sendFunc
	now      func() time.Time
}

// NewSMTP создаёт SMTPNotifier.
func NewSMTP(cfg Config, shopName, currency string) *SMTPNotifier {
	return &SMTPNotifier{
		cfg:      cfg,
		shopName: shopName,
		currency: currency,
		send:     smtp.SendMail,
		now:      time.Now,
	}
}

// Attachment: вложение письма.
type Attachment struct {
	FileName    string
	ContentType string
	Data        []byte
}

// Message: письмо одному получателю.
type Message struct {
	From        string
	To          string
	Subject     string
	Body        string
	Date        time.Time
	Attachments []Attachment
}

// NotifyGiftCards отправляет одно письмо со всеми ваучерами заказа.
func (n *SMTPNotifier) NotifyGiftCards(ctx context.Context, to, orderRef string, vouchers []model.Voucher) error {
	if len(vouchers) == 0 {
		return nil
	}

	body, err := n.giftCardsBody(orderRef, vouchers)
	if err != nil {
		return err
	}

	msg := Message{
		From:    n.cfg.From,
		To:      to,
		Subject: fmt.Sprintf("%s – karta podarunkowa (zamówienie %s)", n.shopName, orderRef),
		Body:    body,
		Date:    n.now(),
	}
	for _, v := range vouchers {
		msg.Attachments = append(msg.Attachments, Attachment{
			FileName:    v.FileName,
			ContentType: "application/pdf",
			Data:        v.Document,
		})
	}

	return n.deliver(ctx, msg)
}

// SendTest отправляет проверочное письмо без вложений.
func (n *SMTPNotifier) SendTest(ctx context.Context, to string) error {
	return n.deliver(ctx, Message{
		From:    n.cfg.From,
		To:      to,
		Subject: fmt.Sprintf("Test wysyłki – %s GiftCard", n.shopName),
		Body:    "To jest testowy email wysłany z backendu karty podarunkowej.",
		Date:    n.now(),
	})
}

func (n *SMTPNotifier) deliver(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if msg.To == "" {
		return fmt.Errorf("send email: empty recipient")
	}

	raw, err := BuildMessage(msg)
	if err != nil {
		return err
	}

	var auth smtp.Auth
	if n.cfg.Username != "" && n.cfg.Password != "" {
		auth = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
	}

	addr := n.cfg.Host + ":" + strconv.Itoa(n.cfg.Port)
	if err := n.send(addr, auth, n.cfg.From, []string{msg.To}, raw); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

type cardLine struct {
	Code   string
	Amount string
}

func (n *SMTPNotifier) giftCardsBody(orderRef string, vouchers []model.Voucher) (string, error) {
	data := struct {
		Shop     string
		OrderRef string
		Cards    []cardLine
	}{Shop: n.shopName, OrderRef: orderRef}

	for _, v := range vouchers {
		data.Cards = append(data.Cards, cardLine{Code: v.Code, Amount: voucher.Amount(v.Denomination, n.currency)})
	}

	var buf bytes.Buffer
	if err := giftCardsTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute template: %w", err)
	}
	return buf.String(), nil
}

// BuildMessage собирает письмо в формате multipart/mixed.
func BuildMessage(msg Message) ([]byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	date := msg.Date
	if date.IsZero() {
		date = time.Now()
	}

	fmt.Fprintf(&buf, "From: %s\r\n", msg.From)
	fmt.Fprintf(&buf, "To: %s\r\n", msg.To)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&buf, "Date: %s\r\n", date.Format(time.RFC1123Z))
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", mw.Boundary())

	textPart, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {"text/plain; charset=utf-8"},
		"Content-Transfer-Encoding": {"quoted-printable"},
	})
	if err != nil {
		return nil, fmt.Errorf("create text part: %w", err)
	}
	qp := quotedprintable.NewWriter(textPart)
	if _, err := qp.Write([]byte(msg.Body)); err != nil {
		return nil, fmt.Errorf("write body: %w", err)
	}
	if err := qp.Close(); err != nil {
		return nil, fmt.Errorf("close body: %w", err)
	}

	for _, a := range msg.Attachments {
		part, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {mime.FormatMediaType(a.ContentType, map[string]string{"name": a.FileName})},
			"Content-Disposition":       {mime.FormatMediaType("attachment", map[string]string{"filename": a.FileName})},
			"Content-Transfer-Encoding": {"base64"},
		})
		if err != nil {
			return nil, fmt.Errorf("create attachment part: %w", err)
		}
		if err := writeBase64Lines(part, a.Data); err != nil {
			return nil, fmt.Errorf("write attachment: %w", err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}
	return buf.Bytes(), nil
}

func writeBase64Lines(w io.Writer, data []byte) error {
	const lineLen = 76

	encoded := base64.StdEncoding.EncodeToString(data)
	for len(encoded) > 0 {
		n := lineLen
		if len(encoded) < n {
			n = len(encoded)
		}
		if _, err := w.Write([]byte(encoded[:n] + "\r\n")); err != nil {
			return err
		}
		encoded = encoded[n:]
	}
	return nil
}

// Noop используется, когда SMTP не настроен: письма не отправляются.
type Noop struct {
	Logger *zap.Logger
}

// NotifyGiftCards только логирует пропуск отправки.
func (n Noop) NotifyGiftCards(_ context.Context, to, orderRef string, vouchers []model.Voucher) error {
	if n.Logger != nil {
		n.Logger.Warn("smtp not configured, gift card email skipped",
			zap.String("to", to),
			zap.String("order_ref", orderRef),
			zap.Int("vouchers", len(vouchers)),
		)
	}
	return nil
}

// SendTest сообщает, что отправка не настроена.
func (n Noop) SendTest(context.Context, string) error {
	return fmt.Errorf("smtp not configured")
}
