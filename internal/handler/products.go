package handler

import (
	"net/http"

	"github.com/xenking/pgfe-filter/internal/domain/filter"
	"github.com/xenking/pgfe-filter/internal/pipeline"
)

// FilterProducts renders the grid for the posted filters and settings.
func (h *Handler) FilterProducts(w http.ResponseWriter, r *http.Request) {
	data, err := h.pipeline.Filter(r.Context(), filterRequest(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, data)
}

// LoadMore renders the cards of the next page.
func (h *Handler) LoadMore(w http.ResponseWriter, r *http.Request) {
	req := filterRequest(r)
	if req.Page == 0 {
		req.Page = 1
	}
	data, err := h.pipeline.LoadMore(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, data)
}

// CountProducts returns the number of products matching the filters.
func (h *Handler) CountProducts(w http.ResponseWriter, r *http.Request) {
	data, err := h.pipeline.Count(r.Context(), filterRequest(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, data)
}

// PriceRange returns the price bounds of the products matching the filters,
// ignoring any price filter.
func (h *Handler) PriceRange(w http.ResponseWriter, r *http.Request) {
	data, err := h.pipeline.PriceRange(r.Context(), filterRequest(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, data)
}

// ChildCategories lists the children of parent_id.
func (h *Handler) ChildCategories(w http.ResponseWriter, r *http.Request) {
	p := paramsFrom(r.Context())
	req := pipeline.ChildRequest{
		ShowCount: filter.Bool(p["show_count"]),
		Include:   filter.IDs(p["include_ids"]),
		Exclude:   filter.IDs(p["exclude_ids"]),
	}
	if id, ok := filter.Int(p["parent_id"]); ok && id > 0 {
		req.ParentID = id
	}

	data, err := h.pipeline.ChildCategories(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, data)
}
