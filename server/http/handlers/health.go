package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Pinger: зависимость, без которой сервис не готов (хранилище).
type Pinger interface {
	Ping(ctx context.Context) error
}

// Health: 200 если хранилище отвечает, иначе 503.
func Health(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status, body := http.StatusOK, map[string]string{"status": "ok"}
		if err := db.Ping(ctx); err != nil {
			status, body = http.StatusServiceUnavailable, map[string]string{"status": "degraded", "store": err.Error()}
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
