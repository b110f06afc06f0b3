package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/viper"
)

// Variant связывает название варианта товара с номиналом карты.
type Variant struct {
	Size  string `mapstructure:"size"`
	Value int    `mapstructure:"value"`
}

// Catalog описывает, какие позиции заказа являются подарочными картами.
type Catalog struct {
	Products []int64   `mapstructure:"products"`
	Variants []Variant `mapstructure:"variants"`
}

// DefaultCatalog возвращает каталог магазина по умолчанию.
func DefaultCatalog() *Catalog {
	return &Catalog{
		Products: []int64{14409},
		Variants: []Variant{
			{Size: "100 zł", Value: 100},
			{Size: "200 zł", Value: 200},
			{Size: "300 zł", Value: 300},
			{Size: "500 zł", Value: 500},
		},
	}
}

// LoadCatalog читает каталог из yaml-файла. Пустой путь означает каталог по умолчанию.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var c Catalog
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal catalog: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	return &c, nil
}

// Validate проверяет непротиворечивость каталога.
func (c *Catalog) Validate() error {
	if len(c.Products) == 0 {
		return fmt.Errorf("catalog: no gift card products")
	}
	if len(c.Variants) == 0 {
		return fmt.Errorf("catalog: no variants")
	}

	seen := make(map[string]struct{}, len(c.Variants))
	for _, v := range c.Variants {
		key := NormalizeSize(v.Size)
		if key == "" {
			return fmt.Errorf("catalog: empty variant size")
		}
		if v.Value <= 0 {
			return fmt.Errorf("catalog: variant %q has non-positive value %d", v.Size, v.Value)
		}
		if _, dup := seen[key]; dup {
			return fmt.Errorf("catalog: duplicate variant %q", v.Size)
		}
		seen[key] = struct{}{}
	}

	return nil
}

// IsGiftProduct сообщает, является ли товар подарочной картой.
func (c *Catalog) IsGiftProduct(id int64) bool {
	for _, p := range c.Products {
		if p == id {
			return true
		}
	}
	return false
}

// Denomination возвращает номинал для названия варианта.
func (c *Catalog) Denomination(size string) (int, bool) {
	key := NormalizeSize(size)
	for _, v := range c.Variants {
		if NormalizeSize(v.Size) == key {
			return v.Value, true
		}
	}
	return 0, false
}

// Denominations возвращает отсортированный список номиналов каталога.
func (c *Catalog) Denominations() []int {
	set := make(map[int]struct{}, len(c.Variants))
	for _, v := range c.Variants {
		set[v.Value] = struct{}{}
	}

	res := make([]int, 0, len(set))
	for d := range set {
		res = append(res, d)
	}
	sort.Ints(res)
	return res
}

// NormalizeSize приводит название варианта к виду для сравнения.
func NormalizeSize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
