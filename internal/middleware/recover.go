package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Recover превращает панику обработчика в 500 с JSON-телом.
// http.ErrAbortHandler пробрасывается: это штатный обрыв ответа.
func Recover(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				switch rec {
				case nil:
					return
				case http.ErrAbortHandler:
					panic(rec)
				}
				logPanic(logger, r, rec)
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"error":"internal"}`))
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func logPanic(logger zerolog.Logger, r *http.Request, rec any) {
	ev := logger.Error().
		Str("rid", GetRequestID(r)).
		Str("method", r.Method).
		Str("path", r.URL.Path)
	if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
		ev = ev.Str("route", rc.RoutePattern())
	}
	ev.Interface("panic", rec).
		Bytes("stack", debug.Stack()).
		Msg("handler panic")
}
