package middleware

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/cache"
)

// classForPath maps a request path to its cache class; empty means
// the response is not cacheable.
func classForPath(path string) string {
	switch {
	case path == "/overview":
		return cache.ClassOverview
	case path == "/campaigns", path == "/flows", path == "/forms", path == "/segments":
		return cache.ClassEntities
	case strings.HasPrefix(path, "/analytics/"):
		return cache.ClassAnalytics
	case path == "/sync/status":
		return cache.ClassSyncStatus
	default:
		return ""
	}
}

// captureWriter buffers a handler's response so a successful body can
// be cached after it is sent.
type captureWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (cw *captureWriter) WriteHeader(status int) {
	cw.status = status
	cw.ResponseWriter.WriteHeader(status)
}

func (cw *captureWriter) Write(b []byte) (int, error) {
	if cw.status == 0 {
		cw.status = http.StatusOK
	}
	cw.body.Write(b)
	return cw.ResponseWriter.Write(b)
}

// ResponseCache serves cacheable GETs from the response cache.
// Concurrent misses for the same key are coalesced into a single
// handler execution. Only 200 responses are stored.
func ResponseCache(c *cache.Cache) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			class := classForPath(r.URL.Path)
			if r.Method != http.MethodGet || class == "" || c == nil {
				next.ServeHTTP(w, r)
				return
			}

			// url.Values.Encode sorts keys, so semantically equal
			// queries share a cache entry.
			key := r.URL.Path + "?" + r.URL.Query().Encode()

			payload, hit, err := c.GetOrFill(r.Context(), class, key, func(ctx context.Context) ([]byte, error) {
				cw := &captureWriter{ResponseWriter: discardHeaderWriter{}, status: 0}
				next.ServeHTTP(cw, r.WithContext(ctx))
				if cw.status != http.StatusOK {
					return nil, errNotCacheable{status: cw.status, body: cw.body.Bytes()}
				}
				return cw.body.Bytes(), nil
			})

			switch {
			case err == nil:
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				if hit {
					w.Header().Set("X-Cache", "HIT")
				} else {
					w.Header().Set("X-Cache", "MISS")
				}
				w.WriteHeader(http.StatusOK)
				w.Write(payload)
			default:
				// Replay the uncacheable response as-is.
				var nc errNotCacheable
				if asNotCacheable(err, &nc) {
					w.Header().Set("Content-Type", "application/json; charset=utf-8")
					w.WriteHeader(nc.status)
					w.Write(nc.body)
					return
				}
				next.ServeHTTP(w, r)
			}
		})
	}
}

type errNotCacheable struct {
	status int
	body   []byte
}

func (e errNotCacheable) Error() string {
	return fmt.Sprintf("response not cacheable: status %d", e.status)
}

func asNotCacheable(err error, target *errNotCacheable) bool {
	nc, ok := err.(errNotCacheable)
	if ok {
		*target = nc
	}
	return ok
}

// discardHeaderWriter absorbs header writes during a coalesced fill;
// the real headers are set when the payload is replayed.
type discardHeaderWriter struct{}

func (discardHeaderWriter) Header() http.Header         { return make(http.Header) }
func (discardHeaderWriter) Write(b []byte) (int, error) { return len(b), nil }
func (discardHeaderWriter) WriteHeader(int)             {}
