package catalog

import (
	"fmt"
	"html"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/pgfe-filter/pkg/sanitize"
)

// NewItemWindow is how long an item counts as new after creation.
const NewItemWindow = 30 * 24 * time.Hour

// InvalidItemError is returned when an item cannot be formatted.
type InvalidItemError struct {
	ID     int64
	Reason string
}

func (e *InvalidItemError) Error() string {
	return fmt.Sprintf("invalid item %d: %s", e.ID, e.Reason)
}

// Record is a display-ready product.
type Record struct {
	ID        int64
	Title     string
	Permalink string
	Image     Image
	Price     Price
	Rating    Rating
	Vendor    Vendor
	Badges    Badges
	AddToCart Action
}

// Image is the product thumbnail.
type Image struct {
	URL string
	Alt string
}

// Price holds the numeric prices and their rendered markup.
type Price struct {
	Regular decimal.NullDecimal
	Sale    decimal.NullDecimal
	Current decimal.Decimal
	HTML    string
}

// Rating summarizes reviews.
type Rating struct {
	Average float64
	Count   int
	Stars   int
}

// Vendor is the resolved seller of the product.
type Vendor struct {
	ID   int64
	Name string
	URL  string
}

// Badges are the overlay flags of a card.
type Badges struct {
	SalePercent int
	New         bool
	Featured    bool
}

// Action is the primary call to action of a card.
type Action struct {
	URL  string
	Text string
}

// CurrencyPosition places the currency symbol relative to the amount.
type CurrencyPosition string

const (
	CurrencyLeft       CurrencyPosition = "left"
	CurrencyRight      CurrencyPosition = "right"
	CurrencyLeftSpace  CurrencyPosition = "left_space"
	CurrencyRightSpace CurrencyPosition = "right_space"
)

// Currency configures price formatting.
type Currency struct {
	Symbol            string
	Position          CurrencyPosition
	Decimals          int
	DecimalSeparator  string
	ThousandSeparator string
}

// Store describes the storefront the records link into.
type Store struct {
	BaseURL          string
	PlaceholderImage string
	Currency         Currency
}

// Formatter converts items into records.
type Formatter struct {
	store   Store
	vendors VendorBackend
	now     func() time.Time
}

// FormatterOption configures a Formatter.
type FormatterOption func(*Formatter)

// WithFormatClock overrides the time source of the new-item badge.
func WithFormatClock(now func() time.Time) FormatterOption {
	return func(f *Formatter) { f.now = now }
}

// NewFormatter returns a Formatter for store using vendors to resolve shop
// names.
func NewFormatter(store Store, vendors VendorBackend, opts ...FormatterOption) *Formatter {
	store.BaseURL = strings.TrimRight(store.BaseURL, "/")
	if store.Currency.DecimalSeparator == "" {
		store.Currency.DecimalSeparator = "."
	}
	if store.Currency.Position == "" {
		store.Currency.Position = CurrencyLeft
	}
	f := &Formatter{store: store, vendors: vendors, now: time.Now}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Format builds the display record of it. author may be nil when the item has
// no resolvable owner.
func (f *Formatter) Format(it Item, author *Author) (Record, error) {
	if it.ID <= 0 {
		return Record{}, &InvalidItemError{ID: it.ID, Reason: "non-positive id"}
	}
	if strings.TrimSpace(it.Title) == "" {
		return Record{}, &InvalidItemError{ID: it.ID, Reason: "empty title"}
	}
	if it.Price.IsNegative() ||
		(it.RegularPrice.Valid && it.RegularPrice.Decimal.IsNegative()) ||
		(it.SalePrice.Valid && it.SalePrice.Decimal.IsNegative()) {
		return Record{}, &InvalidItemError{ID: it.ID, Reason: "negative price"}
	}
	if math.IsNaN(it.AverageRating) || it.AverageRating < 0 || it.AverageRating > 5 {
		return Record{}, &InvalidItemError{ID: it.ID, Reason: "rating out of range"}
	}

	r := Record{
		ID:        it.ID,
		Title:     it.Title,
		Permalink: f.permalink(it),
		Image:     Image{URL: it.ImageURL, Alt: it.ImageAlt},
		Rating: Rating{
			Average: it.AverageRating,
			Count:   it.ReviewCount,
			Stars:   int(math.Round(it.AverageRating)),
		},
		Badges: Badges{
			SalePercent: salePercent(it),
			New:         f.isNew(it),
			Featured:    it.Featured,
		},
	}
	if r.Image.URL == "" {
		r.Image.URL = f.store.PlaceholderImage
	}
	if r.Image.Alt == "" {
		r.Image.Alt = it.Title
	}
	r.Price = Price{
		Regular: it.RegularPrice,
		Sale:    it.SalePrice,
		Current: it.Price,
		HTML:    f.priceHTML(it),
	}
	if author != nil {
		r.Vendor = f.vendor(*author)
	}
	r.AddToCart = f.addToCart(it, r.Permalink)
	return r, nil
}

func (f *Formatter) permalink(it Item) string {
	slug := it.Slug
	if slug == "" {
		return f.store.BaseURL + "/?p=" + strconv.FormatInt(it.ID, 10)
	}
	return f.store.BaseURL + "/product/" + slug + "/"
}

func (f *Formatter) isNew(it Item) bool {
	if it.CreatedAt.IsZero() {
		return false
	}
	return f.now().Sub(it.CreatedAt) <= NewItemWindow
}

// salePercent is round(100 × (regular − sale) / regular), or 0 when there is
// no discount to show.
func salePercent(it Item) int {
	if !it.OnSale() || !it.RegularPrice.Valid || !it.RegularPrice.Decimal.IsPositive() {
		return 0
	}
	regular := it.RegularPrice.Decimal
	pct := regular.Sub(it.SalePrice.Decimal).Mul(decimal.NewFromInt(100)).Div(regular)
	return int(pct.Round(0).IntPart())
}

func (f *Formatter) vendor(a Author) Vendor {
	name := ""
	if f.vendors != nil {
		name = f.vendors.ShopName(a)
	}
	if name == "" {
		name = strings.TrimSpace(a.DisplayName)
	}
	v := Vendor{ID: a.ID, Name: name}
	if slug := sanitize.Slug(name); slug != "" {
		v.URL = f.store.BaseURL + "/artisans/" + slug
	}
	return v
}

func (f *Formatter) addToCart(it Item, permalink string) Action {
	switch {
	case it.ProductType == "variable":
		return Action{URL: permalink, Text: "Select options"}
	case it.ProductType == "external", !it.InStock:
		return Action{URL: permalink, Text: "Read more"}
	default:
		return Action{URL: f.store.BaseURL + "/?add-to-cart=" + strconv.FormatInt(it.ID, 10), Text: "Add to cart"}
	}
}

func (f *Formatter) priceHTML(it Item) string {
	if it.OnSale() && it.RegularPrice.Valid {
		return `<del aria-hidden="true">` + f.amount(it.RegularPrice.Decimal) + `</del> <ins>` +
			f.amount(it.SalePrice.Decimal) + `</ins>`
	}
	return f.amount(it.Price)
}

// amount renders a single price with the currency symbol.
func (f *Formatter) amount(d decimal.Decimal) string {
	c := f.store.Currency
	num := formatNumber(d, c.Decimals, c.DecimalSeparator, c.ThousandSeparator)
	sym := `<span class="pgfe-price-symbol">` + html.EscapeString(c.Symbol) + `</span>`
	var body string
	switch c.Position {
	case CurrencyRight:
		body = num + sym
	case CurrencyLeftSpace:
		body = sym + "&nbsp;" + num
	case CurrencyRightSpace:
		body = num + "&nbsp;" + sym
	default:
		body = sym + num
	}
	return `<span class="pgfe-price-amount">` + body + `</span>`
}

func formatNumber(d decimal.Decimal, decimals int, decSep, thousandSep string) string {
	s := d.StringFixed(int32(max(decimals, 0)))
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	intPart, frac, _ := strings.Cut(s, ".")

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	for i, ch := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteString(html.EscapeString(thousandSep))
		}
		b.WriteRune(ch)
	}
	if frac != "" {
		b.WriteString(html.EscapeString(decSep))
		b.WriteString(frac)
	}
	return b.String()
}
