package filterclient

import (
	"net/http"
	"sort"
	"time"

	"github.com/go-faster/jx"
)

// Response is a decoded envelope.
type Response struct {
	Status  int
	Success bool
	// Data is the raw "data" object.
	Data jx.Raw

	HTML  string
	Count int64

	Message     string
	ErrorCode   string
	Recoverable bool
	RetryAfter  time.Duration
	Debug       string
}

// Error makes a failed Response usable as an error.
func (r *Response) Error() string {
	if r.ErrorCode == "" {
		return r.Message
	}
	return r.ErrorCode + ": " + r.Message
}

// Retryable reports whether the caller should try again: the service asked
// for it with a hint, or a gateway in front of it failed.
func (r *Response) Retryable() bool {
	if r.Success {
		return false
	}
	if r.RetryAfter > 0 {
		return true
	}
	return r.Status == http.StatusBadGateway || r.Status == http.StatusServiceUnavailable
}

// decodeResponse never fails: bodies that are not an envelope, such as a
// proxy error page, become a failure carrying the status text.
func decodeResponse(status int, raw []byte) *Response {
	resp := &Response{Status: status}
	err := jx.DecodeBytes(raw).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "success":
			v, err := d.Bool()
			resp.Success = v
			return err
		case "data":
			v, err := d.Raw()
			if err != nil {
				return err
			}
			resp.Data = append(jx.Raw(nil), v...)
			return decodeData(resp, v)
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return &Response{Status: status, Message: http.StatusText(status)}
	}
	return resp
}

func decodeData(resp *Response, raw jx.Raw) error {
	if raw.Type() != jx.Object {
		return nil
	}
	return jx.DecodeBytes(raw).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "html":
			resp.HTML, err = d.Str()
		case "count":
			resp.Count, err = d.Int64()
		case "message":
			resp.Message, err = d.Str()
		case "error_code":
			resp.ErrorCode, err = d.Str()
		case "recoverable":
			resp.Recoverable, err = d.Bool()
		case "retry_after":
			var secs int64
			secs, err = d.Int64()
			resp.RetryAfter = time.Duration(secs) * time.Second
		case "debug":
			resp.Debug, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
}

func encodeRequest(nonce string, req Request) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("nonce")
	e.Str(nonce)
	if req.Filters != nil {
		e.FieldStart("filters")
		encodeValue(&e, req.Filters)
	}
	if req.Settings != nil {
		e.FieldStart("settings")
		encodeValue(&e, req.Settings)
	}
	if req.Page > 0 {
		e.FieldStart("page")
		e.Int(req.Page)
	}
	e.ObjEnd()
	return e.Bytes()
}

func encodeValue(e *jx.Encoder, v any) {
	switch x := v.(type) {
	case string:
		e.Str(x)
	case bool:
		e.Bool(x)
	case int:
		e.Int(x)
	case int64:
		e.Int64(x)
	case float64:
		e.Float64(x)
	case []int:
		e.ArrStart()
		for _, n := range x {
			e.Int(n)
		}
		e.ArrEnd()
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
			encodeValue(e, it)
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
			encodeValue(e, x[k])
		}
		e.ObjEnd()
	default:
		e.Null()
	}
}
