package events

import (
	"context"
	"fmt"

	v1 "github.com/commercekit/relay/internal/api/v1"
	"github.com/commercekit/relay/internal/session"
	"github.com/commercekit/relay/internal/stores"
)

// EcommerceEvents maps commerce domain actions to fully-formed events.
// Each factory encapsulates one action's exact field mapping; none of them
// ever fails. Missing data degrades to fallbacks, not dropped events.
type EcommerceEvents struct {
	*Builder
	sessions session.Store
}

// NewEcommerceEvents creates the commerce event factories. The session
// store backs the per-order upsell counters.
func NewEcommerceEvents(builder *Builder, sessions session.Store) *EcommerceEvents {
	return &EcommerceEvents{Builder: builder, sessions: sessions}
}

// AddToCart builds a dl_add_to_cart for one cart line, attributed to the
// list context it was added from.
func (e *EcommerceEvents) AddToCart(line stores.CartLine, listID, listName string) *v1.Event {
	evt := e.NewEvent(v1.EventAddToCart, nil, nil)
	p := e.Product(line)
	p.List = listName

	evt.Ecommerce = &v1.Ecommerce{
		CurrencyCode: e.Currency(),
		Value:        lineValue(line),
		Add: &v1.ActionBlock{
			ActionField: &v1.ActionField{List: listName, Action: "add"},
			Products:    []v1.Product{p},
		},
	}
	if listID != "" {
		evt.Attribution = map[string]string{"list_id": listID, "list_name": listName}
	}
	return evt
}

// RemoveFromCart builds a dl_remove_from_cart for one cart line.
func (e *EcommerceEvents) RemoveFromCart(line stores.CartLine) *v1.Event {
	evt := e.NewEvent(v1.EventRemoveFromCart, nil, nil)
	evt.Ecommerce = &v1.Ecommerce{
		CurrencyCode: e.Currency(),
		Value:        lineValue(line),
		Remove: &v1.ActionBlock{
			ActionField: &v1.ActionField{Action: "remove"},
			Products:    []v1.Product{e.Product(line)},
		},
	}
	return evt
}

// ViewItem builds a dl_view_item for a product detail view.
func (e *EcommerceEvents) ViewItem(line stores.CartLine, listName string) *v1.Event {
	evt := e.NewEvent(v1.EventViewItem, nil, nil)
	p := e.Product(line)
	p.List = listName

	evt.Ecommerce = &v1.Ecommerce{
		CurrencyCode: e.Currency(),
		Detail: &v1.ActionBlock{
			ActionField: &v1.ActionField{List: listName, Action: "detail"},
			Products:    []v1.Product{p},
		},
	}
	return evt
}

// SelectItem builds a dl_select_item for a product chosen from a list.
func (e *EcommerceEvents) SelectItem(line stores.CartLine, listID, listName string, position int) *v1.Event {
	evt := e.NewEvent(v1.EventSelectItem, nil, nil)
	p := e.Product(line)
	p.List = listName
	p.Position = position

	evt.Ecommerce = &v1.Ecommerce{
		CurrencyCode: e.Currency(),
		Click: &v1.ActionBlock{
			ActionField: &v1.ActionField{List: listName, Action: "click"},
			Products:    []v1.Product{p},
		},
	}
	if listID != "" {
		evt.Attribution = map[string]string{"list_id": listID, "list_name": listName}
	}
	return evt
}

// ViewItemList builds a dl_view_item_list carrying one impression per line.
func (e *EcommerceEvents) ViewItemList(lines []stores.CartLine, listName string) *v1.Event {
	evt := e.NewEvent(v1.EventViewItemList, nil, nil)
	evt.Ecommerce = &v1.Ecommerce{
		CurrencyCode: e.Currency(),
		Impressions:  e.Products(lines, listName),
	}
	return evt
}

// ViewCart builds a dl_view_cart with the cart contents as impressions.
func (e *EcommerceEvents) ViewCart(lines []stores.CartLine) *v1.Event {
	evt := e.NewEvent(v1.EventViewCart, nil, nil)
	evt.Ecommerce = &v1.Ecommerce{
		CurrencyCode: e.Currency(),
		Value:        cartValue(lines),
		Impressions:  e.Products(lines, "cart"),
	}
	return evt
}

// BeginCheckout builds a dl_begin_checkout for the first checkout step.
func (e *EcommerceEvents) BeginCheckout(lines []stores.CartLine) *v1.Event {
	evt := e.NewEvent(v1.EventBeginCheckout, nil, nil)
	evt.Ecommerce = &v1.Ecommerce{
		CurrencyCode: e.Currency(),
		Value:        cartValue(lines),
		Checkout: &v1.ActionBlock{
			ActionField: &v1.ActionField{Step: 1, Action: "checkout"},
			Products:    e.Products(lines, ""),
		},
	}
	return evt
}

// PackageSwapped builds the single atomic dl_package_swapped event for a
// package swap. The UI performs the swap as one transaction; separate
// remove and add events would misrepresent the cart delta downstream.
func (e *EcommerceEvents) PackageSwapped(removed, added stores.CartLine) *v1.Event {
	evt := e.NewEvent(v1.EventPackageSwapped, nil, nil)

	delta := subtractMoney(lineValue(added), lineValue(removed))
	evt.Ecommerce = &v1.Ecommerce{
		CurrencyCode: e.Currency(),
		Value:        delta,
		Remove: &v1.ActionBlock{
			Products: []v1.Product{e.Product(removed)},
		},
		Add: &v1.ActionBlock{
			Products: []v1.Product{e.Product(added)},
		},
	}
	return evt
}

// Purchase builds a dl_purchase from a completed order. An order without a
// reference id gets a synthesized "order_<unix-ms>" identifier so the
// event is never dropped for that reason alone; the envelope's event_id
// still disambiguates two such orders in one session.
func (e *EcommerceEvents) Purchase(order stores.Order) *v1.Event {
	evt := e.NewEvent(v1.EventPurchase, nil, nil)

	txID := order.RefID
	if txID == "" {
		txID = fmt.Sprintf("order_%d", e.now().UnixMilli())
	}

	currency := order.Currency
	if currency == "" {
		currency = e.Currency()
	}

	evt.Ecommerce = &v1.Ecommerce{
		CurrencyCode: currency,
		Value:        moneyString(order.TotalInclTax),
		Purchase: &v1.ActionBlock{
			ActionField: &v1.ActionField{
				ID:       txID,
				Revenue:  moneyString(order.TotalInclTax),
				Tax:      moneyString(order.TotalTax),
				Shipping: moneyString(order.ShippingInclTax),
				SubTotal: subtractMoney(order.TotalInclTax, order.TotalTax, order.ShippingInclTax),
				Coupon:   order.Coupon,
			},
			Products: e.orderProducts(order),
		},
	}
	return evt
}

// AcceptedUpsellParams carries the inputs of an upsell acceptance.
// UpsellNumber may be zero, in which case the per-order counter in the
// session store assigns the next ordinal.
type AcceptedUpsellParams struct {
	ClientKey    string
	OrderID      string
	PackageID    int
	UpsellNumber int
	Quantity     int
	Value        float64
}

// AcceptedUpsell builds a dl_accepted_upsell. The event is purchase-shaped
// with a synthesized "<orderID>-US<n>" transaction id, and is always
// redirect-bound: accepting an offer unconditionally navigates.
func (e *EcommerceEvents) AcceptedUpsell(ctx context.Context, p AcceptedUpsellParams) *v1.Event {
	n := p.UpsellNumber
	if n <= 0 && e.sessions != nil {
		if next, err := e.sessions.IncrementUpsell(ctx, p.ClientKey, p.OrderID); err == nil {
			n = next
		}
	}
	if n <= 0 {
		n = 1
	}

	qty := p.Quantity
	if qty <= 0 {
		qty = 1
	}

	evt := e.NewEvent(v1.EventAcceptedUpsell, nil, nil)
	evt.WillRedirect = true

	product := e.Product(stores.CartLine{
		PackageID: p.PackageID,
		Price:     p.Value,
		Quantity:  qty,
	})

	evt.Ecommerce = &v1.Ecommerce{
		CurrencyCode: e.Currency(),
		Value:        money(p.Value),
		Purchase: &v1.ActionBlock{
			ActionField: &v1.ActionField{
				ID:      fmt.Sprintf("%s-US%d", p.OrderID, n),
				Revenue: money(p.Value),
			},
			Products: []v1.Product{product},
		},
	}
	return evt
}

// ViewedUpsell builds a dl_viewed_upsell for an offer page view.
func (e *EcommerceEvents) ViewedUpsell(packageID int, price float64) *v1.Event {
	evt := e.NewEvent(v1.EventViewedUpsell, nil, nil)
	evt.Ecommerce = &v1.Ecommerce{
		CurrencyCode: e.Currency(),
		Detail: &v1.ActionBlock{
			ActionField: &v1.ActionField{List: "upsell", Action: "detail"},
			Products: []v1.Product{e.Product(stores.CartLine{
				PackageID: packageID,
				Price:     price,
				Quantity:  1,
			})},
		},
	}
	return evt
}

// SkippedUpsell builds a dl_skipped_upsell. No commerce payload; the offer
// context rides in the data map.
func (e *EcommerceEvents) SkippedUpsell(orderID string, packageID int) *v1.Event {
	evt := e.NewEvent(v1.EventSkippedUpsell, nil, nil)
	evt.Data = map[string]interface{}{
		"order_id":   orderID,
		"package_id": packageID,
	}
	return evt
}

// PageView builds a dl_page_view for the given page context.
func (e *EcommerceEvents) PageView(page *v1.PageContext) *v1.Event {
	return e.NewEvent(v1.EventPageView, page, nil)
}

func (e *EcommerceEvents) orderProducts(order stores.Order) []v1.Product {
	out := make([]v1.Product, 0, len(order.Lines))
	for i, line := range order.Lines {
		p := e.Product(stores.CartLine{
			PackageID: line.PackageID,
			Name:      line.Name,
			Variant:   line.Variant,
			Quantity:  line.Quantity,
			Image:     line.Image,
		})
		if line.ProductID != "" {
			p.ID = line.ProductID
		}
		if line.PriceInclTax != "" {
			p.Price = moneyString(line.PriceInclTax)
		}
		p.Position = i + 1
		out = append(out, p)
	}
	return out
}

func lineValue(line stores.CartLine) string {
	qty := line.Quantity
	if qty <= 0 {
		qty = 1
	}
	return money(line.Price * float64(qty))
}

func cartValue(lines []stores.CartLine) string {
	total := 0.0
	for _, line := range lines {
		qty := line.Quantity
		if qty <= 0 {
			qty = 1
		}
		total += line.Price * float64(qty)
	}
	return money(total)
}
