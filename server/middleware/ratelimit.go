package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/teilomillet/hearth/errors"
	"github.com/teilomillet/hearth/server/metrics"
	"golang.org/x/time/rate"
)

// visitorIdle is how long a client's limiter is kept after its last request.
const visitorIdle = 10 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter limits requests per client. Clients are identified by API key
// when one is presented, by remote IP otherwise.
type RateLimiter struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	limit     rate.Limit
	burst     int
	perMinute int
	lastSweep time.Time
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewRateLimiter allows requestsPerMinute per client with the given burst.
func NewRateLimiter(requestsPerMinute, burst int, m *metrics.Metrics) *RateLimiter {
	rl := &RateLimiter{
		visitors: make(map[string]*visitor),
		metrics:  m,
		now:      time.Now,
	}
	rl.setLimits(requestsPerMinute, burst)
	return rl
}

// SetLimits applies new limits and forgets every client's history.
func (rl *RateLimiter) SetLimits(requestsPerMinute, burst int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.setLimits(requestsPerMinute, burst)
	rl.visitors = make(map[string]*visitor)
}

func (rl *RateLimiter) setLimits(requestsPerMinute, burst int) {
	if burst < 1 {
		burst = 1
	}
	rl.perMinute = requestsPerMinute
	rl.limit = rate.Limit(float64(requestsPerMinute) / 60)
	rl.burst = burst
}

func (rl *RateLimiter) get(client string) (*rate.Limiter, int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastSweep) > visitorIdle {
		for k, v := range rl.visitors {
			if now.Sub(v.lastSeen) > visitorIdle {
				delete(rl.visitors, k)
			}
		}
		rl.lastSweep = now
	}

	v, ok := rl.visitors[client]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.visitors[client] = v
	}
	v.lastSeen = now
	return v.limiter, rl.perMinute
}

// Handler wraps next with the rate limit.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := clientKey(r)
		limiter, perMinute := rl.get(client)

		res := limiter.ReserveN(rl.now(), 1)
		if !res.OK() || res.DelayFrom(rl.now()) > 0 {
			retryAfter := 60
			if res.OK() {
				retryAfter = int(math.Ceil(res.DelayFrom(rl.now()).Seconds()))
				res.CancelAt(rl.now())
			}
			if rl.metrics != nil {
				rl.metrics.RateLimitHits.WithLabelValues(clientLabel(r)).Inc()
			}

			herr := errors.NewRateLimitError(errors.RequestIDFrom(r.Context()), retryAfter)
			herr.Details["limit"] = int64(perMinute)
			herr.Details["window"] = time.Minute.String()
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			errors.WriteError(w, herr)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	if key := presentedKey(r); key != "" {
		return "key:" + key
	}
	return "ip:" + remoteIP(r)
}

// clientLabel keeps API keys out of metric labels.
func clientLabel(r *http.Request) string {
	if presentedKey(r) != "" {
		return "api_key"
	}
	return remoteIP(r)
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
