// Package render turns display records into the HTML grid fragment.
package render

import (
	"bytes"
	"fmt"
	"html/template"
	"math"
	"strings"

	"github.com/go-faster/errors"

	"github.com/xenking/pgfe-filter/internal/domain/catalog"
	"github.com/xenking/pgfe-filter/internal/domain/filter"
)

const gridClass = "pgfe-simple-grid"

// Renderer renders grids and cards. It is safe for concurrent use.
type Renderer struct {
	tmpl *template.Template
}

// New parses the templates.
func New() (*Renderer, error) {
	t, err := template.New("pgfe").Parse(gridTemplates)
	if err != nil {
		return nil, errors.Wrap(err, "parse templates")
	}
	return &Renderer{tmpl: t}, nil
}

// MustNew is New for package-level initialization.
func MustNew() *Renderer {
	r, err := New()
	if err != nil {
		panic(err)
	}
	return r
}

type gridView struct {
	Class   string
	Columns int
	Style   template.CSS
	Cards   []cardView
}

type cardView struct {
	ID        int64
	Title     string
	Permalink string
	ImageURL  string
	ImageAlt  string
	ImageSize filter.ImageSize
	Lazy      bool
	Hover     bool
	Badges    []badgeView
	Rating    *ratingView
	Vendor    *catalog.Vendor
	PriceHTML template.HTML
	Cart      *catalog.Action
}

type badgeView struct {
	Kind string
	Text string
}

type ratingView struct {
	Stars []string
	Count int
	Label string
}

// Grid renders records inside the grid container. An empty slice renders the
// no-products fragment.
func (r *Renderer) Grid(records []catalog.Record, s filter.Settings) (string, error) {
	if len(records) == 0 {
		return NoProductsHTML, nil
	}
	class := gridClass
	if s.CSSClass != "" {
		class += " " + s.CSSClass
	}
	view := gridView{
		Class:   class,
		Columns: s.Columns,
		Style:   gridStyle(s),
		Cards:   cards(records, s),
	}
	return r.execute("grid", view)
}

// Cards renders records without the container, for appending to an existing
// grid. An empty slice renders nothing.
func (r *Renderer) Cards(records []catalog.Record, s filter.Settings) (string, error) {
	if len(records) == 0 {
		return "", nil
	}
	return r.execute("cards", gridView{Cards: cards(records, s)})
}

// ErrorFragment renders the error message block. retry adds the retry button.
func (r *Renderer) ErrorFragment(message string, retry bool) string {
	out, err := r.execute("error", struct {
		Message   string
		Retry     bool
		RetryText string
	}{Message: message, Retry: retry, RetryText: "Try again"})
	if err != nil {
		return `<div class="pgfe-error-message"><p>` + template.HTMLEscapeString(message) + `</p></div>`
	}
	return out
}

func (r *Renderer) execute(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return "", errors.Wrapf(err, "render %s", name)
	}
	return buf.String(), nil
}

func cards(records []catalog.Record, s filter.Settings) []cardView {
	out := make([]cardView, 0, len(records))
	for _, rec := range records {
		c := cardView{
			ID:        rec.ID,
			Title:     rec.Title,
			Permalink: rec.Permalink,
			ImageURL:  rec.Image.URL,
			ImageAlt:  rec.Image.Alt,
			ImageSize: s.ImageSize,
			Lazy:      s.LazyLoad,
			Hover:     s.HoverEffect,
		}
		if s.ShowBadges {
			c.Badges = badges(rec.Badges)
		}
		if s.ShowRating && rec.Rating.Average > 0 {
			c.Rating = &ratingView{
				Stars: Stars(rec.Rating.Average),
				Count: rec.Rating.Count,
				Label: fmt.Sprintf("Rated %.2f out of 5", rec.Rating.Average),
			}
		}
		if s.ShowVendor && rec.Vendor.Name != "" {
			v := rec.Vendor
			c.Vendor = &v
		}
		if s.ShowPrice && rec.Price.HTML != "" {
			// Price markup is assembled by the formatter from escaped parts.
			c.PriceHTML = template.HTML(rec.Price.HTML)
		}
		if s.ShowAddToCart && rec.AddToCart.URL != "" {
			a := rec.AddToCart
			c.Cart = &a
		}
		out = append(out, c)
	}
	return out
}

func badges(b catalog.Badges) []badgeView {
	var out []badgeView
	if b.SalePercent > 0 {
		out = append(out, badgeView{Kind: "sale", Text: fmt.Sprintf("-%d%%", b.SalePercent)})
	}
	if b.New {
		out = append(out, badgeView{Kind: "new", Text: "New"})
	}
	if b.Featured {
		out = append(out, badgeView{Kind: "featured", Text: "Featured"})
	}
	return out
}

// Stars returns five glyph classes for an average rating rounded to the
// nearest half: "filled", "half" or "empty".
func Stars(avg float64) []string {
	rounded := math.Round(max(0, min(avg, 5))*2) / 2
	out := make([]string, 0, 5)
	for i := 1; i <= 5; i++ {
		switch {
		case float64(i) <= rounded:
			out = append(out, "filled")
		case float64(i)-0.5 == rounded:
			out = append(out, "half")
		default:
			out = append(out, "empty")
		}
	}
	return out
}

// gridStyle emits custom properties for the allow-listed CSS tokens.
func gridStyle(s filter.Settings) template.CSS {
	var parts []string
	add := func(name, value string) {
		if value != "" {
			parts = append(parts, name+": "+value)
		}
	}
	add("--pgfe-grid-gap", s.GridGap)
	add("--pgfe-card-padding", s.CardPadding)
	add("--pgfe-border-radius", s.BorderRadius)
	add("--pgfe-box-shadow", s.BoxShadow)
	// Values passed the CSS allow-list in filter.SanitizeSettings.
	return template.CSS(strings.Join(parts, "; "))
}
