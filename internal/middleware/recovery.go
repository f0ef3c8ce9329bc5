package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"notehub/internal/httputil"
)

// startedWriter remembers whether the handler already sent headers
type startedWriter struct {
	http.ResponseWriter
	started bool
}

func (w *startedWriter) WriteHeader(code int) {
	w.started = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *startedWriter) Write(b []byte) (int, error) {
	w.started = true
	return w.ResponseWriter.Write(b)
}

// Recovery turns a handler panic into a 500 problem response. If the handler
// had already started the response (a redirect, a partial body) the panic is
// only logged.
func Recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &startedWriter{ResponseWriter: w}
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				logger.Error("handler panic",
					"panic", rec,
					"method", r.Method,
					"path", r.URL.Path,
					"user_id", httputil.ViewerID(r),
					"response_started", sw.started,
					"stack", string(debug.Stack()),
				)
				if !sw.started {
					httputil.RespondError(sw, http.StatusInternalServerError, "internal server error")
				}
			}()

			next.ServeHTTP(sw, r)
		})
	}
}
