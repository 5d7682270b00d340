package handler

import (
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// maxBodyBytes bounds every request body.
const maxBodyBytes = 1 << 20

// params is a decoded request body. Values are string, float64, bool, nil,
// []any or map[string]any.
type params map[string]any

// decodeParams reads a JSON or form-encoded body. Form keys use bracket
// notation: filters[category_filter][]=3 becomes
// {"filters":{"category_filter":["3"]}}.
func decodeParams(w http.ResponseWriter, r *http.Request) (params, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt == "application/json" {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, errors.Wrap(err, "read body")
		}
		if len(strings.TrimSpace(string(data))) == 0 {
			return params{}, nil
		}
		v, err := decodeJSON(jx.DecodeBytes(data))
		if err != nil {
			return nil, errors.Wrap(err, "decode json")
		}
		obj, ok := v.(map[string]any)
		if !ok {
			return nil, errors.New("body is not an object")
		}
		return obj, nil
	}

	if err := r.ParseForm(); err != nil {
		return nil, errors.Wrap(err, "parse form")
	}
	return fromForm(r.Form), nil
}

func decodeJSON(d *jx.Decoder) (any, error) {
	switch d.Next() {
	case jx.String:
		return d.Str()
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return nil, err
		}
		return n.Float64()
	case jx.Bool:
		return d.Bool()
	case jx.Null:
		return nil, d.Null()
	case jx.Array:
		out := []any{}
		err := d.Arr(func(d *jx.Decoder) error {
			v, err := decodeJSON(d)
			if err != nil {
				return err
			}
			out = append(out, v)
			return nil
		})
		return out, err
	case jx.Object:
		out := map[string]any{}
		err := d.Obj(func(d *jx.Decoder, key string) error {
			v, err := decodeJSON(d)
			if err != nil {
				return err
			}
			out[key] = v
			return nil
		})
		return out, err
	default:
		return nil, errors.New("invalid json value")
	}
}

func fromForm(form url.Values) params {
	out := params{}
	for key, values := range form {
		path := splitKey(key)
		for _, v := range values {
			setPath(out, path, v)
		}
	}
	return out
}

// splitKey turns a[b][][c] into [a b "" c].
func splitKey(key string) []string {
	i := strings.IndexByte(key, '[')
	if i <= 0 || !strings.HasSuffix(key, "]") {
		return []string{key}
	}
	path := []string{key[:i]}
	rest := key[i:]
	for len(rest) > 0 && rest[0] == '[' {
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			break
		}
		path = append(path, rest[1:end])
		rest = rest[end+1:]
	}
	return path
}

// setPath stores v at path. An empty segment appends to a list. Conflicting
// shapes keep the value seen first.
func setPath(m map[string]any, path []string, v string) {
	head := path[0]
	if len(path) == 1 {
		if _, exists := m[head]; !exists {
			m[head] = v
		}
		return
	}

	if path[1] == "" {
		list, ok := m[head].([]any)
		if !ok {
			if _, exists := m[head]; exists {
				return
			}
		}
		if len(path) == 2 {
			m[head] = append(list, v)
			return
		}
		child := map[string]any{}
		setPath(child, path[2:], v)
		m[head] = append(list, child)
		return
	}

	child, ok := m[head].(map[string]any)
	if !ok {
		if _, exists := m[head]; exists {
			return
		}
		child = map[string]any{}
		m[head] = child
	}
	setPath(child, path[1:], v)
}

// object returns p[key] as an object. JSON-encoded string values are decoded.
func (p params) object(key string) map[string]any {
	switch v := p[key].(type) {
	case map[string]any:
		return v
	case string:
		if strings.TrimSpace(v) == "" {
			return nil
		}
		decoded, err := decodeJSON(jx.DecodeStr(v))
		if err != nil {
			return nil
		}
		obj, _ := decoded.(map[string]any)
		return obj
	}
	return nil
}
