package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cx-tal-miterani/flight-booking-engine/internal/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	// HeaderKey carries the client's idempotency key
	HeaderKey = "Idempotency-Key"
	// HeaderHit is set on replayed responses
	HeaderHit = "X-Idempotency-Hit"

	processing = "PROCESSING"
	lockTTL    = 30 * time.Second
)

// KeyStore is the subset of the Redis client the middleware uses
type KeyStore interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

var _ KeyStore = (*redis.Client)(nil)

// storedResponse is what gets replayed for a repeated key
type storedResponse struct {
	Status int         `json:"status"`
	Header http.Header `json:"header"`
	Body   []byte      `json:"body"`
}

// captureWriter records status and body while forwarding to the client
type captureWriter struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
}

func (cw *captureWriter) WriteHeader(code int) {
	cw.status = code
	cw.ResponseWriter.WriteHeader(code)
}

func (cw *captureWriter) Write(b []byte) (int, error) {
	if cw.status == 0 {
		cw.status = http.StatusOK
	}
	cw.buf.Write(b)
	return cw.ResponseWriter.Write(b)
}

// Idempotency de-duplicates POST requests that carry an Idempotency-Key.
// The first request takes a short SETNX lock; its response is stored for ttl
// and replayed to every repeat. 5xx responses are not stored so the client can
// retry. A nil store disables the middleware.
func Idempotency(store KeyStore, ttl time.Duration, log *logrus.Logger) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(HeaderKey)
			if r.Method != http.MethodPost || key == "" {
				next.ServeHTTP(w, r)
				return
			}

			idemKey := fmt.Sprintf("idempotency:%s:%s", r.URL.Path, key)
			ctx := r.Context()
			entry := log.WithField("idempotency_key", key)

			val, err := store.Get(ctx, idemKey).Result()
			switch {
			case err == nil && val == processing:
				writeConflict(w, "a request with this Idempotency-Key is still in progress")
				return
			case err == nil:
				var resp storedResponse
				if err := json.Unmarshal([]byte(val), &resp); err != nil {
					entry.WithError(err).Warn("discarding unreadable idempotent response")
					_ = store.Del(ctx, idemKey).Err()
					break
				}
				replay(w, resp)
				return
			case !errors.Is(err, redis.Nil):
				entry.WithError(err).Warn("idempotency store unavailable, serving request directly")
				next.ServeHTTP(w, r)
				return
			}

			acquired, err := store.SetNX(ctx, idemKey, processing, lockTTL).Result()
			if err != nil {
				entry.WithError(err).Warn("failed to lock idempotency key, serving request directly")
				next.ServeHTTP(w, r)
				return
			}
			if !acquired {
				writeConflict(w, "a request with this Idempotency-Key is still in progress")
				return
			}

			cw := &captureWriter{ResponseWriter: w}
			next.ServeHTTP(cw, r)

			// the request context may already be gone once the handler returns
			saveCtx := context.WithoutCancel(ctx)
			if cw.status >= http.StatusInternalServerError {
				if err := store.Del(saveCtx, idemKey).Err(); err != nil {
					entry.WithError(err).Warn("failed to release idempotency key")
				}
				return
			}

			data, err := json.Marshal(storedResponse{Status: cw.status, Header: w.Header().Clone(), Body: cw.buf.Bytes()})
			if err != nil {
				entry.WithError(err).Warn("failed to encode idempotent response")
				return
			}
			if err := store.Set(saveCtx, idemKey, data, ttl).Err(); err != nil {
				entry.WithError(err).Warn("failed to store idempotent response")
			}
		})
	}
}

func replay(w http.ResponseWriter, resp storedResponse) {
	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set(HeaderHit, "true")
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(resp.Body)
	metrics.IdempotentReplaysTotal.Inc()
}

func writeConflict(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusConflict)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
