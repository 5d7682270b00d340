package postgres

import (
	"strconv"
	"strings"

	"github.com/go-faster/errors"

	"github.com/xenking/pgfe-filter/internal/domain/filter"
	"github.com/xenking/pgfe-filter/internal/domain/query"
)

// column is the SQL expression a meta key maps to, as text and as a number.
type column struct {
	text string
	num  string
}

var metaColumns = map[string]column{
	query.MetaPrice:         {text: "p.price::text", num: "p.price"},
	query.MetaSalePrice:     {text: "p.sale_price::text", num: "p.sale_price"},
	query.MetaFeatured:      {text: "CASE WHEN p.featured THEN 'yes' ELSE 'no' END", num: "p.featured::int"},
	query.MetaTotalSales:    {text: "p.total_sales::text", num: "p.total_sales"},
	query.MetaAverageRating: {text: "p.average_rating::text", num: "p.average_rating"},
	query.MetaVendorID:      {text: "p.vendor_id::text", num: "p.vendor_id"},
}

// sqlBuilder accumulates WHERE conditions and their positional arguments.
type sqlBuilder struct {
	conds []string
	args  []any
}

func (b *sqlBuilder) arg(v any) string {
	b.args = append(b.args, v)
	return "$" + strconv.Itoa(len(b.args))
}

func (b *sqlBuilder) where(cond string) { b.conds = append(b.conds, cond) }

func (b *sqlBuilder) whereClause() string {
	if len(b.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(b.conds, " AND ")
}

// metaColumn returns the expressions for key. Keys without a dedicated
// column live in the meta document.
func (b *sqlBuilder) metaColumn(key string) column {
	if c, ok := metaColumns[key]; ok {
		return c
	}
	ref := "p.meta->>" + b.arg(key)
	return column{text: ref, num: "(" + ref + ")::numeric"}
}

// filterArgs adds the conditions of a to b. Ordering and paging are not
// touched.
func (b *sqlBuilder) filterArgs(a query.Args) error {
	if a.PostType != "" && a.PostType != query.PostTypeProduct {
		return errors.Errorf("unsupported post type %q", a.PostType)
	}
	if a.Status != "" {
		b.where("p.status = " + b.arg(a.Status))
	}
	if len(a.Visibility) > 0 {
		b.where("p.visibility = ANY(" + b.arg(a.Visibility) + ")")
	}
	for _, t := range a.Tax {
		cond, err := b.taxCondition(t)
		if err != nil {
			return err
		}
		b.where(cond)
	}
	for _, m := range a.Meta {
		cond, err := b.metaCondition(m)
		if err != nil {
			return err
		}
		b.where(cond)
	}
	if a.CreatedAfter != nil {
		b.where("p.created_at >= " + b.arg(*a.CreatedAfter))
	}
	if a.Search != "" {
		pattern := b.arg("%" + escapeLike(a.Search) + "%")
		b.where("(p.title ILIKE " + pattern + " OR p.content ILIKE " + pattern + ")")
	}
	if len(a.IncludeIDs) > 0 {
		b.where("p.id = ANY(" + b.arg(a.IncludeIDs) + ")")
	}
	if len(a.ExcludeIDs) > 0 {
		b.where("p.id <> ALL(" + b.arg(a.ExcludeIDs) + ")")
	}
	return nil
}

func (b *sqlBuilder) taxCondition(t query.TaxPredicate) (string, error) {
	var (
		tax   = b.arg(t.Taxonomy)
		match string
		terms int
	)
	switch t.Field {
	case query.FieldTermID:
		match = "t.id = ANY(" + b.arg(t.TermIDs) + ")"
		terms = len(t.TermIDs)
	case query.FieldSlug:
		match = "t.slug = ANY(" + b.arg(t.Slugs) + ")"
		terms = len(t.Slugs)
	default:
		return "", errors.Errorf("unknown term field %q", t.Field)
	}
	from := "FROM product_terms pt JOIN terms t ON t.id = pt.term_id WHERE pt.product_id = p.id AND t.taxonomy = " +
		tax + " AND " + match

	switch t.Operator {
	case query.OpIn, "":
		return "EXISTS (SELECT 1 " + from + ")", nil
	case query.OpAnd:
		return "(SELECT count(DISTINCT t.id) " + from + ") = " + b.arg(int64(terms)), nil
	default:
		return "", errors.Errorf("unknown operator %q", t.Operator)
	}
}

func (b *sqlBuilder) metaCondition(m query.MetaPredicate) (string, error) {
	col := b.metaColumn(m.Key)
	if m.Numeric {
		switch m.Compare {
		case query.CompareEq, query.CompareGTE, query.CompareLTE, query.CompareGT:
			return col.num + " " + string(m.Compare) + " " + b.arg(m.Number), nil
		default:
			return "", errors.Errorf("compare %q is not numeric", m.Compare)
		}
	}
	switch m.Compare {
	case query.CompareIn:
		if len(m.IDs) > 0 {
			return col.num + " = ANY(" + b.arg(m.IDs) + ")", nil
		}
		return col.text + " = ANY(" + b.arg(m.Values) + ")", nil
	case query.CompareEq:
		if len(m.Values) != 1 {
			return "", errors.Errorf("meta %s: want one value, got %d", m.Key, len(m.Values))
		}
		return col.text + " = " + b.arg(m.Values[0]), nil
	default:
		return "", errors.Errorf("unsupported compare %q", m.Compare)
	}
}

// orderClause renders the ORDER BY for a. Ties break on the newest id.
func (b *sqlBuilder) orderClause(a query.Args) (string, error) {
	dir := "DESC"
	if a.Order.Direction == filter.Asc {
		dir = "ASC"
	}
	var expr string
	switch a.Order.Field {
	case query.OrderDate, "":
		expr = "p.created_at " + dir
	case query.OrderTitle:
		expr = "p.title " + dir
	case query.OrderMenuOrder:
		expr = "p.menu_order " + dir + ", p.title ASC"
	case query.OrderMetaNum:
		expr = b.metaColumn(a.Order.MetaKey).num + " " + dir + " NULLS LAST"
	case query.OrderIncluded:
		if len(a.IncludeIDs) == 0 {
			expr = "p.created_at DESC"
			break
		}
		expr = "array_position(" + b.arg(a.IncludeIDs) + "::bigint[], p.id)"
	default:
		return "", errors.Errorf("unknown order field %q", a.Order.Field)
	}
	return " ORDER BY " + expr + ", p.id DESC", nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }
