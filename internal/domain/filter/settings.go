package filter

import (
	"strings"

	"github.com/xenking/pgfe-filter/pkg/sanitize"
)

// ImageSize is a named product image rendition.
type ImageSize string

const (
	ImageThumbnail ImageSize = "thumbnail"
	ImageMedium    ImageSize = "medium"
	ImageLarge     ImageSize = "large"
	ImageFull      ImageSize = "full"
)

const (
	DefaultPageSize = 8
	MaxPageSize     = 100
	DefaultColumns  = 4
	MaxColumns      = 6
)

// Settings is the sanitized display configuration of a grid.
//
// The CSS fields are either empty or a value that passed the CSS allow-list.
type Settings struct {
	PageSize int
	Columns  int

	ShowBadges    bool
	ShowRating    bool
	ShowVendor    bool
	ShowPrice     bool
	ShowAddToCart bool
	HoverEffect   bool
	LazyLoad      bool

	ImageSize ImageSize

	GridGap      string
	CardPadding  string
	BorderRadius string
	BoxShadow    string
	CSSClass     string
}

// DefaultSettings returns the settings used when nothing is supplied.
func DefaultSettings() Settings {
	return Settings{
		PageSize:      DefaultPageSize,
		Columns:       DefaultColumns,
		ShowBadges:    true,
		ShowRating:    true,
		ShowVendor:    true,
		ShowPrice:     true,
		ShowAddToCart: true,
		LazyLoad:      true,
		ImageSize:     ImageMedium,
	}
}

// SanitizeSettings keeps allow-listed settings and clamps numeric ranges.
// Unknown or invalid values fall back to the defaults.
func SanitizeSettings(raw map[string]any) Settings {
	s := DefaultSettings()
	if raw == nil {
		return s
	}

	size, ok := raw["posts_per_page"]
	if !ok {
		size = raw["page_size"]
	}
	if n, ok := toInt(size); ok {
		s.PageSize = clamp(int(n), 1, MaxPageSize)
	}
	if n, ok := toInt(raw["columns"]); ok {
		s.Columns = clamp(int(n), 1, MaxColumns)
	}

	for key, dst := range map[string]*bool{
		"show_badges":      &s.ShowBadges,
		"show_rating":      &s.ShowRating,
		"show_vendor":      &s.ShowVendor,
		"show_price":       &s.ShowPrice,
		"show_add_to_cart": &s.ShowAddToCart,
		"hover_effect":     &s.HoverEffect,
		"lazy_load":        &s.LazyLoad,
	} {
		v, present := raw[key]
		if !present {
			continue
		}
		if b, ok := toBool(v); ok {
			*dst = b
		}
	}

	if v, ok := toString(raw["image_size"]); ok {
		switch is := ImageSize(strings.ToLower(strings.TrimSpace(v))); is {
		case ImageThumbnail, ImageMedium, ImageLarge, ImageFull:
			s.ImageSize = is
		}
	}

	for key, dst := range map[string]*string{
		"grid_gap":      &s.GridGap,
		"card_padding":  &s.CardPadding,
		"border_radius": &s.BorderRadius,
		"box_shadow":    &s.BoxShadow,
	} {
		if v, ok := toString(raw[key]); ok && sanitize.CSSValue(v) {
			*dst = strings.TrimSpace(v)
		}
	}

	if v, ok := toString(raw["css_class"]); ok {
		s.CSSClass = sanitize.CSSClass(v)
	}

	return s
}
