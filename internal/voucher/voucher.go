// Package voucher формирует PDF-ваучеры подарочных карт.
package voucher

import (
	"context"
	"fmt"
	"strings"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/image"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

// Options задаёт оформление ваучера.
type Options struct {
	ShopName      string
	CurrencyLabel string
	LogoPath      string
}

// Renderer формирует один PDF на один код.
type Renderer struct {
	opts Options
}

// NewRenderer создаёт Renderer.
func NewRenderer(opts Options) *Renderer {
	return &Renderer{opts: opts}
}

// Render возвращает PDF с номиналом и кодом карты.
func (r *Renderer) Render(ctx context.Context, code string, denomination int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if code == "" {
		return nil, fmt.Errorf("render voucher: empty code")
	}

	cfg := config.NewBuilder().Build()
	m := maroto.New(cfg)

	header := []core.Col{
		text.NewCol(8, r.title(), props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
	}
	if r.opts.LogoPath != "" {
		header = append(header, image.NewFromFileCol(4, r.opts.LogoPath, props.Rect{
			Center:  true,
			Percent: 80,
		}))
	} else {
		header = append(header, col.New(4))
	}
	m.AddRow(40, header...)

	m.AddRow(30,
		text.NewCol(12, Amount(denomination, r.opts.CurrencyLabel), props.Text{
			Size:  36,
			Style: fontstyle.Bold,
			Align: align.Center,
			Top:   5,
		}),
	)

	m.AddRow(25,
		col.New(12).Add(
			text.New("Card number", props.Text{Size: 10, Align: align.Center}),
			text.New(code, props.Text{Size: 18, Style: fontstyle.Bold, Align: align.Center, Top: 6}),
		),
	)

	doc, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("render voucher: %w", err)
	}

	return doc.GetBytes(), nil
}

func (r *Renderer) title() string {
	if r.opts.ShopName == "" {
		return "Gift card"
	}
	return r.opts.ShopName + " gift card"
}

// Amount форматирует номинал с обозначением валюты.
func Amount(denomination int, currency string) string {
	if currency == "" {
		return fmt.Sprintf("%d", denomination)
	}
	return fmt.Sprintf("%d %s", denomination, currency)
}

// FileName возвращает имя вложения для ваучера.
func FileName(code string, denomination int) string {
	safe := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == ' ' {
			return '_'
		}
		return r
	}, code)
	return fmt.Sprintf("giftcard_%d_%s.pdf", denomination, safe)
}
