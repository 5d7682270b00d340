package render

import (
	"fmt"
	"strings"

	"github.com/xenking/pgfe-filter/internal/domain/filter"
)

// ResponsiveCSS returns the grid stylesheet for a column count. Wide screens
// use at most four columns, then three, two and one as the viewport narrows.
func ResponsiveCSS(columns int) string {
	columns = max(1, min(columns, filter.MaxColumns))
	var b strings.Builder
	fmt.Fprintf(&b, ".%s{display:grid;grid-template-columns:repeat(%d,1fr);gap:var(--pgfe-grid-gap,20px)}\n", gridClass, columns)
	b.WriteString(".pgfe-product-item{padding:var(--pgfe-card-padding,0);border-radius:var(--pgfe-border-radius,0);box-shadow:var(--pgfe-box-shadow,none)}\n")
	b.WriteString(".pgfe-product-item.pgfe-hover:hover{transform:translateY(-4px)}\n")
	fmt.Fprintf(&b, "@media (max-width:1200px){.%s{grid-template-columns:repeat(%d,1fr)}}\n", gridClass, min(columns, 4))
	fmt.Fprintf(&b, "@media (max-width:992px){.%s{grid-template-columns:repeat(%d,1fr)}}\n", gridClass, min(columns, 3))
	fmt.Fprintf(&b, "@media (max-width:768px){.%s{grid-template-columns:repeat(%d,1fr)}}\n", gridClass, min(columns, 2))
	fmt.Fprintf(&b, "@media (max-width:480px){.%s{grid-template-columns:1fr}}\n", gridClass)
	return b.String()
}
