package api

import (
	"context"
	"net/http"
)

type contextKey int

const clientIPKey contextKey = iota

// ClientIPMiddleware resolves the caller's address once, honouring the
// configured trusted proxies, and stores it on the request context.
func (a *API) ClientIPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := a.extractClientIP(r)
		ctx := context.WithValue(r.Context(), clientIPKey, ip)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func clientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey).(string)
	return ip
}
