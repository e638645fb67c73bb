package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"deposit-service/pkg/response"
)

// RateStore is the slice of the cache util the limiter needs. Satisfied
// by *cache.Cache.
type RateStore interface {
	Get(ctx context.Context, namespace, key string) (string, error)
	Set(ctx context.Context, namespace, key string, value interface{}, ttl time.Duration) error
	GetTTL(ctx context.Context, namespace, key string) (time.Duration, error)
	IncrWithExpire(ctx context.Context, namespace, key string, window time.Duration) (int64, error)
}

func RateLimiter(store RateStore, limit int, window, blockDuration time.Duration, namespace string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			// 1. Prefer userID if authenticated
			var clientID string
			if userID, ok := GetUserID(ctx); ok && userID != "" {
				clientID = "uid:" + userID
			} else {
				// 2. Fallback: IP (check proxy headers first)
				ip := r.Header.Get("X-Forwarded-For")
				if ip == "" {
					ip = r.RemoteAddr
				}
				clientID = "ip:" + strings.Split(ip, ",")[0]
			}

			blockKey := clientID + ":blocked"

			// Check if already blocked
			blocked, _ := store.Get(ctx, namespace, blockKey)
			if blocked == "1" {
				ttl, _ := store.GetTTL(ctx, namespace, blockKey)
				w.Header().Set("Retry-After", strconv.Itoa(int(ttl.Seconds())))
				response.Error(w, http.StatusTooManyRequests, "Too Many Requests. Try again in "+ttl.String())
				return
			}

			// Increment counter
			count, err := store.IncrWithExpire(ctx, namespace, clientID, window)
			if err != nil {
				// Fail open so a redis outage doesn't block traffic
				next.ServeHTTP(w, r)
				return
			}

			// Over the limit? → block
			if count > int64(limit) {
				store.Set(ctx, namespace, blockKey, "1", blockDuration)
				w.Header().Set("Retry-After", strconv.Itoa(int(blockDuration.Seconds())))
				response.Error(w, http.StatusTooManyRequests, "Too Many Requests. Blocked for "+blockDuration.String())
				return
			}

			ttl, _ := store.GetTTL(ctx, namespace, clientID)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(limit-int(count)))
			w.Header().Set("X-RateLimit-Reset", strconv.Itoa(int(ttl.Seconds())))

			next.ServeHTTP(w, r)
		})
	}
}
