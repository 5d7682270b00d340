package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/pgfe-filter/internal/domain/auth"
	"github.com/xenking/pgfe-filter/internal/envelope"
)

// APIKeyHeader carries the optional API key.
const APIKeyHeader = "api_key"

// Authenticate resolves the caller identity. Requests without an API key are
// anonymous. An unknown key is rejected with 401 and a key lacking the read
// scope with 403.
func (h *Handler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := auth.Anonymous
		if key := r.Header.Get(APIKeyHeader); key != "" && h.keys != nil {
			info, err := h.keys.Authenticate(r.Context(), key, auth.ScopeRead)
			switch {
			case errors.Is(err, auth.ErrForbidden):
				h.fail(w, r, envelope.Forbidden(err))
				return
			case errors.Is(err, auth.ErrUnauthorized):
				h.fail(w, r, envelope.Unauthorized(err))
				return
			case err != nil:
				h.fail(w, r, envelope.Internal(errors.Wrap(err, "authenticate")))
				return
			}
			identity = info.ID
		}

		ctx := auth.WithIdentity(r.Context(), identity)
		ctx = zctx.With(ctx, zap.String("identity", identity))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireNonce decodes the body and verifies its nonce against the caller
// identity. Handlers read the decoded body from the context.
func (h *Handler) RequireNonce(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := decodeParams(w, r)
		if err != nil {
			h.fail(w, r, envelope.InvalidRequest(err))
			return
		}

		token, _ := p["nonce"].(string)
		if err := h.nonces.Verify(token, auth.NonceAction, auth.IdentityFrom(r.Context())); err != nil {
			h.fail(w, r, envelope.InvalidNonce(err))
			return
		}
		next.ServeHTTP(w, r.WithContext(withParams(r.Context(), p)))
	})
}

// Nonce issues an anti-forgery token bound to the caller identity.
func (h *Handler) Nonce(w http.ResponseWriter, r *http.Request) {
	token, err := h.nonces.Issue(auth.NonceAction, auth.IdentityFrom(r.Context()))
	if err != nil {
		h.fail(w, r, envelope.Internal(errors.Wrap(err, "issue nonce")))
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	h.ok(w, envelope.Object{
		{Name: "nonce", Value: token},
		{Name: "expires_in", Value: int64(h.nonces.TTL().Seconds())},
	})
}
