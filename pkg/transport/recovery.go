package transport

import (
	"log/slog"
	"net/http"
	"runtime/debug"
)

// Recovery converts a panic in the handler into a 500 response. The server
// keeps accepting requests after a recovered panic. http.ErrAbortHandler is
// re-raised so net/http can abort the connection.
func Recovery() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				slog.Error("panic in HTTP handler",
					"request_id", RequestIDFromContext(r.Context()),
					"path", r.URL.Path,
					"panic", rec,
					"stack", string(debug.Stack()),
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte(`{"error":{"type":"server_error","message":"internal server error"}}`))
			}()
			next.ServeHTTP(w, r)
		})
	}
}
