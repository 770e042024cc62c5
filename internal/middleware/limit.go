package middleware

import "net/http"

// LimitBytes ограничивает размер тела запроса; чтение сверх лимита вернёт ошибку.
func LimitBytes(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if n > 0 && r.Body != nil {
				if r.ContentLength > n {
					http.Error(w, `{"error":"request too large"}`, http.StatusRequestEntityTooLarge)
					return
				}
				r.Body = http.MaxBytesReader(w, r.Body, n)
			}
			next.ServeHTTP(w, r)
		})
	}
}
