package middleware

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/api"
)

// maxTrackedIPs bounds limiter state; idle IPs age out after an hour.
const maxTrackedIPs = 4096

// SyncRateLimit applies a per-IP token bucket to sync trigger routes.
// ratePerMin of 0 disables limiting. Rejections carry a RATE_LIMITED
// envelope with Retry-After.
func SyncRateLimit(ratePerMin int) mux.MiddlewareFunc {
	if ratePerMin <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	limiters := lru.NewLRU[string, *rate.Limiter](maxTrackedIPs, nil, time.Hour)
	limit := rate.Every(time.Minute / time.Duration(ratePerMin))
	burst := ratePerMin

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Only sync triggers are POSTs; reads stay unlimited.
			if r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}
			ip := remoteIP(r)
			limiter, ok := limiters.Get(ip)
			if !ok {
				limiter = rate.NewLimiter(limit, burst)
				limiters.Add(ip, limiter)
			}
			if !limiter.Allow() {
				retryAfter := int(time.Minute.Seconds()) / ratePerMin
				if retryAfter < 1 {
					retryAfter = 1
				}
				api.WriteErrorRetry(w, r, api.CodeRateLimited,
					"too many sync requests, slow down", &retryAfter)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
