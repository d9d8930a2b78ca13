package handler

import (
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"github.com/iurnickita/esbo/internal/auth"
)

// siteLimiter ограничивает частоту запросов каждого сайта-партнера отдельно
type siteLimiter struct {
	mutex    sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func newSiteLimiter(rps float64, burst int) *siteLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &siteLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

func (l *siteLimiter) allow(siteID string) bool {
	if l.rps <= 0 {
		return true
	}
	l.mutex.Lock()
	limiter, ok := l.limiters[siteID]
	if !ok {
		limiter = rate.NewLimiter(l.rps, l.burst)
		l.limiters[siteID] = limiter
	}
	l.mutex.Unlock()
	return limiter.Allow()
}

// Middleware работает после SiteMiddleware или GatewayMiddleware: сайт уже в контексте
func (l *siteLimiter) Middleware(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		site, ok := auth.SiteFromContext(r.Context())
		if ok && !l.allow(site.ID) {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		h.ServeHTTP(w, r)
	}
}
