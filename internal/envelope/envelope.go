// Package envelope encodes the JSON response envelope shared by every
// endpoint:
//
//	{"success":true,"data":{...}}
//	{"success":false,"data":{"message":"...","error_code":"...","html":"..."}}
package envelope

import (
	"math"
	"sort"
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

// Field is a single named value of an Object.
type Field struct {
	Name  string
	Value any
}

// Object is a JSON object with fields in declaration order.
type Object []Field

// Marshaler is implemented by values that encode themselves.
type Marshaler interface {
	EncodeJX(e *jx.Encoder)
}

// Success encodes a successful envelope around data.
func Success(data Object) []byte {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.ObjStart()
	e.FieldStart("success")
	e.Bool(true)
	e.FieldStart("data")
	encodeObject(e, data)
	e.ObjEnd()
	return clone(e.Bytes())
}

// Failure encodes a failed envelope. html is the error fragment shown in
// place of the grid; debug adds the underlying error detail.
func Failure(err *Error, html string, debug bool) []byte {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.ObjStart()
	e.FieldStart("success")
	e.Bool(false)
	e.FieldStart("data")
	e.ObjStart()
	e.FieldStart("message")
	e.Str(err.Message)
	e.FieldStart("error_code")
	e.Str(err.Code)
	e.FieldStart("recoverable")
	e.Bool(err.Recoverable())
	if err.RetryAfter > 0 {
		e.FieldStart("retry_after")
		e.Int64(RetryAfterSeconds(err.RetryAfter))
	}
	if debug && err.Err != nil {
		e.FieldStart("debug")
		e.Str(err.Err.Error())
	}
	if html != "" {
		e.FieldStart("html")
		e.Str(html)
	}
	e.ObjEnd()
	e.ObjEnd()
	return clone(e.Bytes())
}

// RetryAfterSeconds rounds d up to whole seconds, at least one.
func RetryAfterSeconds(d time.Duration) int64 {
	return max(1, int64(math.Ceil(d.Seconds())))
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func encodeObject(e *jx.Encoder, o Object) {
	e.ObjStart()
	for _, f := range o {
		e.FieldStart(f.Name)
		Encode(e, f.Value)
	}
	e.ObjEnd()
}

// Encode writes v as JSON. Maps are written with sorted keys so equal values
// encode identically.
func Encode(e *jx.Encoder, v any) {
	switch x := v.(type) {
	case nil:
		e.Null()
	case Marshaler:
		x.EncodeJX(e)
	case Object:
		encodeObject(e, x)
	case string:
		e.Str(x)
	case bool:
		e.Bool(x)
	case int:
		e.Int(x)
	case int64:
		e.Int64(x)
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			e.Null()
			return
		}
		e.Float64(x)
	case decimal.Decimal:
		e.Raw([]byte(x.String()))
	case []int64:
		e.ArrStart()
		for _, n := range x {
			e.Int64(n)
		}
		e.ArrEnd()
	case []string:
		e.ArrStart()
		for _, s := range x {
			e.Str(s)
		}
		e.ArrEnd()
	case []any:
		e.ArrStart()
		for _, it := range x {
			Encode(e, it)
		}
		e.ArrEnd()
	case []Object:
		e.ArrStart()
		for _, it := range x {
			encodeObject(e, it)
		}
		e.ArrEnd()
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		e.ObjStart()
		for _, k := range keys {
			e.FieldStart(k)
			Encode(e, x[k])
		}
		e.ObjEnd()
	default:
		e.Null()
	}
}
