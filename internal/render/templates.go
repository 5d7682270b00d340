package render

const gridTemplates = `
{{- define "grid" -}}
<div class="{{.Class}}" data-columns="{{.Columns}}"{{if .Style}} style="{{.Style}}"{{end}}>
{{- range .Cards}}{{template "card" .}}{{end -}}
</div>
{{- end -}}

{{- define "cards" -}}
{{- range .Cards}}{{template "card" .}}{{end -}}
{{- end -}}

{{- define "card" -}}
<div class="pgfe-product-item{{if .Hover}} pgfe-hover{{end}}" data-product-id="{{.ID}}">
<div class="pgfe-product-image">
{{- range .Badges}}<span class="pgfe-badge pgfe-badge-{{.Kind}}">{{.Text}}</span>{{end -}}
<a href="{{.Permalink}}"><img src="{{.ImageURL}}" alt="{{.ImageAlt}}" class="pgfe-image-{{.ImageSize}}"{{if .Lazy}} loading="lazy"{{end}}></a>
</div>
<div class="pgfe-product-content">
<h3 class="pgfe-product-title"><a href="{{.Permalink}}">{{.Title}}</a></h3>
{{- if .Rating}}
<div class="pgfe-product-rating"><span class="pgfe-rating-stars" aria-label="{{.Rating.Label}}">
{{- range .Rating.Stars}}<span class="pgfe-star {{.}}">{{if eq . "filled"}}★{{else}}☆{{end}}</span>{{end -}}
</span>{{if .Rating.Count}}<span class="pgfe-rating-count">({{.Rating.Count}})</span>{{end}}</div>
{{- end}}
{{- if .Vendor}}
<div class="pgfe-product-vendor">{{if .Vendor.URL}}<a href="{{.Vendor.URL}}">{{.Vendor.Name}}</a>{{else}}{{.Vendor.Name}}{{end}}</div>
{{- end}}
{{- if .PriceHTML}}
<div class="pgfe-product-price">{{.PriceHTML}}</div>
{{- end}}
{{- if .Cart}}
<div class="pgfe-product-actions"><a href="{{.Cart.URL}}" class="pgfe-add-to-cart-btn" data-product-id="{{.ID}}">{{.Cart.Text}}</a></div>
{{- end}}
</div>
</div>
{{- end -}}

{{- define "error" -}}
<div class="pgfe-error-message"><p>{{.Message}}</p>
{{- if .Retry}}<button type="button" class="pgfe-retry-btn">{{.RetryText}}</button>{{end -}}
</div>
{{- end -}}
`

// NoProductsHTML is rendered when a query matches nothing.
const NoProductsHTML = `<div class="pgfe-no-products"><p>No products found matching your criteria.</p></div>`
