package stores

// Order is the read model of a completed order as exposed by the order
// state container. Money fields are decimal strings as received from the
// commerce backend.
type Order struct {
	RefID           string
	Number          string
	Currency        string
	TotalInclTax    string
	TotalTax        string
	ShippingInclTax string
	Coupon          string
	Lines           []OrderLine
}

// OrderLine is one purchased line. PriceInclTax is the per-unit price.
type OrderLine struct {
	PackageID    int
	ProductID    string
	Name         string
	Variant      string
	Quantity     int
	PriceInclTax string
	Image        string
}
