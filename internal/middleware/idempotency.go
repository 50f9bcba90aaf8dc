package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/leviate/backend/internal/services"
)

const (
	IdempotencyKeyHeader     = "Idempotency-Key"
	IdempotentReplayedHeader = "Idempotent-Replayed"
	idempotencyPrefix        = "idempotency:v1:"
	inProgressMarker         = "__in_progress__"
)

type storedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"contentType"`
	Body        string `json:"body"`
}

type recordingWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (w *recordingWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *recordingWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// Idempotency replays the stored response when a client retries a money
// moving request with the same Idempotency-Key. Keys are scoped to the
// authenticated user. Requests without the header, or without redis, pass
// straight through.
func Idempotency(cache *redis.Client, ttl time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(IdempotencyKeyHeader)
			if cache == nil || key == "" || r.Method == http.MethodGet {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > 128 {
				services.SendErrorResponse(w, "Idempotency-Key too long", http.StatusBadRequest, nil)
				return
			}

			userID, _ := UserIDFromContext(r.Context())
			cacheKey := idempotencyPrefix + userID + ":" + key

			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()

			reserved, err := cache.SetNX(ctx, cacheKey, inProgressMarker, ttl).Result()
			if err != nil {
				log.Printf("[IDEMPOTENCY] Reservation failed for %s: %v", cacheKey, err)
				services.SendErrorResponse(w, "Internal server error", http.StatusInternalServerError, nil)
				return
			}
			if !reserved {
				replay(ctx, w, cache, cacheKey)
				return
			}

			rec := &recordingWriter{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			persistCtx, persistCancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer persistCancel()

			// Server errors are not cached so the client can retry.
			if rec.status >= http.StatusInternalServerError {
				cache.Del(persistCtx, cacheKey)
				return
			}

			payload, err := json.Marshal(storedResponse{
				Status:      rec.status,
				ContentType: rec.Header().Get("Content-Type"),
				Body:        rec.body.String(),
			})
			if err == nil {
				err = cache.Set(persistCtx, cacheKey, payload, ttl).Err()
			}
			if err != nil {
				log.Printf("[IDEMPOTENCY] Failed to persist response for %s: %v", cacheKey, err)
				cache.Del(persistCtx, cacheKey)
			}
		})
	}
}

func replay(ctx context.Context, w http.ResponseWriter, cache *redis.Client, cacheKey string) {
	cached, err := cache.Get(ctx, cacheKey).Result()
	if err != nil || cached == inProgressMarker {
		services.SendErrorResponse(w, "Duplicate request is still being processed", http.StatusConflict, nil)
		return
	}

	var stored storedResponse
	if err := json.Unmarshal([]byte(cached), &stored); err != nil {
		log.Printf("[IDEMPOTENCY] Corrupt stored response for %s: %v", cacheKey, err)
		services.SendErrorResponse(w, "Duplicate request", http.StatusConflict, nil)
		return
	}

	if stored.ContentType != "" {
		w.Header().Set("Content-Type", stored.ContentType)
	}
	w.Header().Set(IdempotentReplayedHeader, "true")
	w.WriteHeader(stored.Status)
	w.Write([]byte(stored.Body))
}
