// Package filter turns untrusted filter and display input into typed,
// allow-listed values. Sanitization never fails: anything that cannot be
// coerced is dropped or replaced by its default.
package filter

import (
	"sort"
	"strings"

	"github.com/xenking/pgfe-filter/pkg/sanitize"
)

// SelectionType names a preset that pre-configures ordering and predicates.
type SelectionType string

const (
	SelectionLatest      SelectionType = "latest"
	SelectionBestSelling SelectionType = "best_selling"
	SelectionFeatured    SelectionType = "featured"
	SelectionTopRated    SelectionType = "top_rated"
	SelectionNewProducts SelectionType = "new_products"
	SelectionPromotion   SelectionType = "promotion"
	SelectionManual      SelectionType = "manual"
)

var selections = map[SelectionType]struct{}{
	SelectionLatest: {}, SelectionBestSelling: {}, SelectionFeatured: {},
	SelectionTopRated: {}, SelectionNewProducts: {}, SelectionPromotion: {},
	SelectionManual: {},
}

// SortKey is a caller-facing ordering name.
type SortKey string

const (
	SortDate       SortKey = "date"
	SortTitle      SortKey = "title"
	SortMenuOrder  SortKey = "menu_order"
	SortPopularity SortKey = "popularity"
	SortRating     SortKey = "rating"
	SortPrice      SortKey = "price"
	SortPriceDesc  SortKey = "price-desc"
)

var sortKeys = map[SortKey]struct{}{
	SortDate: {}, SortTitle: {}, SortMenuOrder: {}, SortPopularity: {},
	SortRating: {}, SortPrice: {}, SortPriceDesc: {},
}

// Direction is an ordering direction.
type Direction string

const (
	Asc  Direction = "ASC"
	Desc Direction = "DESC"
)

// Logic combines the values of a single filter group.
type Logic string

const (
	LogicOr  Logic = "or"
	LogicAnd Logic = "and"
)

// Set is the sanitized filter input of a single request.
//
// OrderBy and Order are empty when the caller did not supply a recognized
// value, so that selection presets can tell an explicit ordering apart from
// the default one.
type Set struct {
	MinPrice *float64
	MaxPrice *float64

	ParentCategories []int64
	ChildCategories  []int64
	Categories       []int64
	ParentLogic      Logic
	ChildLogic       Logic
	CategoryLogic    Logic

	Vendors []int64

	// Attributes maps an attribute name (without the taxonomy prefix) to
	// term slugs.
	Attributes     map[string][]string
	AttributeLogic map[string]Logic

	Selection SelectionType
	Manual    []int64

	ExcludeProducts   []int64
	ExcludeCategories []int64
	ExcludeVendors    []int64

	Search  string
	OrderBy SortKey
	Order   Direction
}

const maxSearchRunes = 200

// Sanitize reduces a raw filter map to a Set. Unknown keys are ignored.
func Sanitize(raw map[string]any) Set {
	s := Set{
		ParentLogic:   LogicOr,
		ChildLogic:    LogicOr,
		CategoryLogic: LogicOr,
		Selection:     SelectionLatest,
	}
	if raw == nil {
		return s
	}

	if f, ok := toFloat(raw["min_price"]); ok {
		f = max(f, 0)
		s.MinPrice = &f
	}
	if f, ok := toFloat(raw["max_price"]); ok {
		f = max(f, 0)
		s.MaxPrice = &f
	}
	if s.MinPrice != nil && s.MaxPrice != nil && *s.MinPrice > *s.MaxPrice {
		s.MinPrice, s.MaxPrice = s.MaxPrice, s.MinPrice
	}

	s.ParentCategories = toIDs(raw["parent_categories"])
	s.ChildCategories = toIDs(raw["child_categories"])
	s.Categories = toIDs(raw["category_filter"])
	s.Vendors = toIDs(raw["vendor_filter"])
	s.Manual = toIDs(raw["manual_products"])
	s.ExcludeProducts = toIDs(raw["exclude_products"])
	s.ExcludeCategories = toIDs(raw["exclude_categories"])
	s.ExcludeVendors = toIDs(raw["exclude_vendors"])

	s.ParentLogic = logicOf(raw["parent_categories_logic"])
	s.ChildLogic = logicOf(raw["child_categories_logic"])
	s.CategoryLogic = logicOf(raw["category_filter_logic"])

	s.Attributes = sanitizeAttributes(raw["attribute_filters"])
	if logic, ok := raw["attribute_logic"].(map[string]any); ok {
		for name, v := range logic {
			name = sanitize.Key(name)
			if name == "" {
				continue
			}
			if s.AttributeLogic == nil {
				s.AttributeLogic = make(map[string]Logic)
			}
			s.AttributeLogic[name] = logicOf(v)
		}
	}

	if v, ok := toString(raw["selection_type"]); ok {
		if sel := SelectionType(sanitize.Key(v)); isSelection(sel) {
			s.Selection = sel
		}
	}

	if v, ok := toString(raw["search"]); ok {
		s.Search = sanitize.Truncate(sanitize.Text(v), maxSearchRunes)
	}

	if v, ok := toString(raw["orderby"]); ok {
		if key := SortKey(strings.ToLower(strings.TrimSpace(v))); isSortKey(key) {
			s.OrderBy = key
		}
	}
	if v, ok := toString(raw["order"]); ok {
		switch Direction(strings.ToUpper(strings.TrimSpace(v))) {
		case Asc:
			s.Order = Asc
		case Desc:
			s.Order = Desc
		}
	}

	return s
}

func isSelection(s SelectionType) bool {
	_, ok := selections[s]
	return ok
}

func isSortKey(k SortKey) bool {
	_, ok := sortKeys[k]
	return ok
}

func logicOf(v any) Logic {
	if s, ok := toString(v); ok && strings.EqualFold(strings.TrimSpace(s), string(LogicAnd)) {
		return LogicAnd
	}
	return LogicOr
}

func sanitizeAttributes(v any) map[string][]string {
	m, ok := v.(map[string]any)
	if !ok || len(m) == 0 {
		return nil
	}
	out := make(map[string][]string, len(m))
	for name, values := range m {
		name = strings.TrimPrefix(sanitize.Key(name), "pa_")
		if name == "" {
			continue
		}
		seen := make(map[string]struct{})
		var slugs []string
		for _, it := range toList(values) {
			str, ok := toString(it)
			if !ok {
				continue
			}
			slug := sanitize.Slug(sanitize.Text(str))
			if slug == "" {
				continue
			}
			if _, dup := seen[slug]; dup {
				continue
			}
			seen[slug] = struct{}{}
			slugs = append(slugs, slug)
		}
		if len(slugs) > 0 {
			out[name] = append(out[name], slugs...)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// AttributeNames returns the attribute names in lexical order.
func (s Set) AttributeNames() []string {
	names := make([]string, 0, len(s.Attributes))
	for name := range s.Attributes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LogicFor returns the combination logic of an attribute group.
func (s Set) LogicFor(attribute string) Logic {
	if l, ok := s.AttributeLogic[attribute]; ok {
		return l
	}
	return LogicOr
}

// EffectiveOrderBy returns the sort key used when echoing the filters.
// An absent or unknown key reads as date.
func (s Set) EffectiveOrderBy() SortKey {
	if s.OrderBy == "" {
		return SortDate
	}
	return s.OrderBy
}

// EffectiveOrder returns the direction used when echoing the filters.
func (s Set) EffectiveOrder() Direction {
	if s.Order == "" {
		return Desc
	}
	return s.Order
}

// Applied returns the sanitized values echoed back to the caller. Only
// groups that carry a value are included; orderby, order and selection_type
// are always present.
func (s Set) Applied() map[string]any {
	out := map[string]any{
		"selection_type": string(s.Selection),
		"orderby":        string(s.EffectiveOrderBy()),
		"order":          string(s.EffectiveOrder()),
	}
	if s.MinPrice != nil {
		out["min_price"] = *s.MinPrice
	}
	if s.MaxPrice != nil {
		out["max_price"] = *s.MaxPrice
	}
	putIDs := func(key string, ids []int64) {
		if len(ids) > 0 {
			out[key] = ids
		}
	}
	putIDs("parent_categories", s.ParentCategories)
	putIDs("child_categories", s.ChildCategories)
	putIDs("category_filter", s.Categories)
	putIDs("vendor_filter", s.Vendors)
	putIDs("manual_products", s.Manual)
	putIDs("exclude_products", s.ExcludeProducts)
	putIDs("exclude_categories", s.ExcludeCategories)
	putIDs("exclude_vendors", s.ExcludeVendors)

	if len(s.ParentCategories) > 0 {
		out["parent_categories_logic"] = string(s.ParentLogic)
	}
	if len(s.ChildCategories) > 0 {
		out["child_categories_logic"] = string(s.ChildLogic)
	}
	if len(s.Categories) > 0 {
		out["category_filter_logic"] = string(s.CategoryLogic)
	}
	if len(s.Attributes) > 0 {
		attrs := make(map[string]any, len(s.Attributes))
		logic := make(map[string]any, len(s.Attributes))
		for name, slugs := range s.Attributes {
			attrs[name] = slugs
			logic[name] = string(s.LogicFor(name))
		}
		out["attribute_filters"] = attrs
		out["attribute_logic"] = logic
	}
	if s.Search != "" {
		out["search"] = s.Search
	}
	return out
}
