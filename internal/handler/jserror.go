package handler

import (
	"net/http"
	"strings"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/pgfe-filter/internal/envelope"
	"github.com/xenking/pgfe-filter/pkg/sanitize"
)

const (
	maxContextBytes = 2000
	maxMessageRunes = 1000
	redacted        = "[redacted]"
)

var sensitiveKeys = []string{"password", "token", "key", "secret", "nonce"}

// LogJSError logs a client-side error report. Sensitive context keys are
// redacted and oversized context is dropped.
func (h *Handler) LogJSError(w http.ResponseWriter, r *http.Request) {
	p := paramsFrom(r.Context())

	fields := []zap.Field{
		zap.String("message", sanitize.Truncate(sanitize.Text(stringParam(p, "error")), maxMessageRunes)),
		zap.String("page_url", sanitize.Truncate(stringParam(p, "url"), maxMessageRunes)),
		zap.String("user_agent", sanitize.Truncate(stringParam(p, "user_agent"), maxMessageRunes)),
	}
	if raw, ok := p["context"].(string); ok && len(raw) > maxContextBytes {
		fields = append(fields, zap.Bool("context_dropped", true))
	} else if c := p.object("context"); len(c) > 0 {
		fields = append(fields, zap.Any("context", redact(c)))
	}

	zctx.From(r.Context()).Warn("Client error", fields...)
	h.metrics.IncClientError()
	h.ok(w, envelope.Object{{Name: "logged", Value: true}})
}

func stringParam(p params, key string) string {
	s, _ := p[key].(string)
	return s
}

func isSensitive(key string) bool {
	k := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}

// redact returns a copy of v with sensitive keys replaced at any depth.
func redact(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			if isSensitive(k) {
				out[k] = redacted
				continue
			}
			out[k] = redact(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = redact(val)
		}
		return out
	default:
		return v
	}
}
