package listener

import (
	"encoding/json"
	"strconv"

	"github.com/commercekit/relay/internal/stores"
)

// Payload decoding helpers. Bus payloads are loosely-typed maps published
// by independent sources; missing or mistyped fields decode to zero values
// so a sloppy publisher degrades the event instead of crashing a handler.

func str(p map[string]interface{}, key string) string {
	v, _ := p[key].(string)
	return v
}

func num(p map[string]interface{}, key string) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	}
	return 0
}

func integer(p map[string]interface{}, key string) int {
	return int(num(p, key))
}

func itoaKey(n int) string {
	return strconv.Itoa(n)
}

func subMap(p map[string]interface{}, key string) map[string]interface{} {
	v, _ := p[key].(map[string]interface{})
	return v
}

func strMap(p map[string]interface{}, key string) map[string]string {
	raw, ok := p[key].(map[string]interface{})
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			out[k] = s
		}
	}
	return out
}

func cartLine(p map[string]interface{}) stores.CartLine {
	if p == nil {
		return stores.CartLine{}
	}
	return stores.CartLine{
		PackageID: integer(p, "package_id"),
		Name:      str(p, "name"),
		Variant:   str(p, "variant"),
		Price:     num(p, "price"),
		Quantity:  integer(p, "quantity"),
		Image:     str(p, "image"),
	}
}

func cartLines(p map[string]interface{}, key string) []stores.CartLine {
	raw, ok := p[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]stores.CartLine, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]interface{}); ok {
			out = append(out, cartLine(m))
		}
	}
	return out
}

func order(p map[string]interface{}) stores.Order {
	o := stores.Order{
		RefID:           str(p, "ref_id"),
		Number:          str(p, "number"),
		Currency:        str(p, "currency"),
		TotalInclTax:    str(p, "total_incl_tax"),
		TotalTax:        str(p, "total_tax"),
		ShippingInclTax: str(p, "shipping_incl_tax"),
		Coupon:          str(p, "coupon"),
	}
	raw, ok := p["lines"].([]interface{})
	if !ok {
		return o
	}
	for _, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		o.Lines = append(o.Lines, stores.OrderLine{
			PackageID:    integer(m, "package_id"),
			ProductID:    str(m, "product_id"),
			Name:         str(m, "name"),
			Variant:      str(m, "variant"),
			Quantity:     integer(m, "quantity"),
			PriceInclTax: str(m, "price_incl_tax"),
			Image:        str(m, "image"),
		})
	}
	return o
}
