package query

import (
	"time"

	"github.com/go-faster/jx"
)

// Key returns a canonical encoding of the query. Equal queries produce equal
// keys, so the result is safe to hash into cache keys.
func (a Args) Key() []byte {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.ObjStart()
	e.FieldStart("type")
	e.Str(a.PostType)
	e.FieldStart("status")
	e.Str(a.Status)
	e.FieldStart("visibility")
	encodeStrings(e, a.Visibility)

	e.FieldStart("tax")
	e.ArrStart()
	for _, p := range a.Tax {
		e.ObjStart()
		e.FieldStart("taxonomy")
		e.Str(p.Taxonomy)
		e.FieldStart("field")
		e.Str(string(p.Field))
		e.FieldStart("ids")
		encodeIDs(e, p.TermIDs)
		e.FieldStart("slugs")
		encodeStrings(e, p.Slugs)
		e.FieldStart("op")
		e.Str(string(p.Operator))
		e.ObjEnd()
	}
	e.ArrEnd()

	e.FieldStart("meta")
	e.ArrStart()
	for _, p := range a.Meta {
		e.ObjStart()
		e.FieldStart("key")
		e.Str(p.Key)
		e.FieldStart("compare")
		e.Str(string(p.Compare))
		e.FieldStart("values")
		encodeStrings(e, p.Values)
		e.FieldStart("ids")
		encodeIDs(e, p.IDs)
		if p.Numeric {
			e.FieldStart("number")
			e.Str(p.Number.String())
		}
		e.ObjEnd()
	}
	e.ArrEnd()

	if a.CreatedAfter != nil {
		e.FieldStart("created_after")
		e.Str(a.CreatedAfter.UTC().Format(time.RFC3339))
	}
	if a.Search != "" {
		e.FieldStart("search")
		e.Str(a.Search)
	}
	e.FieldStart("include")
	encodeIDs(e, a.IncludeIDs)
	e.FieldStart("exclude")
	encodeIDs(e, a.ExcludeIDs)

	e.FieldStart("order")
	e.ObjStart()
	e.FieldStart("field")
	e.Str(string(a.Order.Field))
	e.FieldStart("meta_key")
	e.Str(a.Order.MetaKey)
	e.FieldStart("dir")
	e.Str(string(a.Order.Direction))
	e.ObjEnd()

	e.FieldStart("page")
	e.Int(a.Page)
	e.FieldStart("page_size")
	e.Int(a.PageSize)
	e.ObjEnd()

	out := make([]byte, len(e.Bytes()))
	copy(out, e.Bytes())
	return out
}

func encodeIDs(e *jx.Encoder, ids []int64) {
	e.ArrStart()
	for _, id := range ids {
		e.Int64(id)
	}
	e.ArrEnd()
}

func encodeStrings(e *jx.Encoder, values []string) {
	e.ArrStart()
	for _, v := range values {
		e.Str(v)
	}
	e.ArrEnd()
}
