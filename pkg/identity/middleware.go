package identity

import (
	"errors"
	"net/http"
	"time"

	"github.com/platinummonkey/parish-registry/pkg/contextkeys"
	"github.com/platinummonkey/parish-registry/pkg/httputil"
)

// BearerMiddleware places the request's bearer token on the context
type BearerMiddleware struct {
	now func() time.Time
}

// NewBearerMiddleware creates the middleware
func NewBearerMiddleware() *BearerMiddleware {
	return &BearerMiddleware{now: time.Now}
}

// Handler rejects requests without a parseable, unexpired bearer token
func (m *BearerMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			httputil.WriteUnauthorized(w, "missing authorization header")
			return
		}

		tok, err := ParseBearer(header, m.now())
		if err != nil {
			if errors.Is(err, ErrTokenExpired) {
				httputil.WriteUnauthorized(w, "token expired")
				return
			}
			httputil.WriteUnauthorized(w, "invalid authorization header")
			return
		}

		ctx := contextkeys.WithPrincipal(r.Context(), tok)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// FromRequest returns the principal set by BearerMiddleware, or nil
func FromRequest(r *http.Request) *Token {
	tok, _ := r.Context().Value(contextkeys.PrincipalKey).(*Token)
	return tok
}
