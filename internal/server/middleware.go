package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

type ctxKey int

const requestIDKey ctxKey = iota

// RequestIDHeader carries the request id in and out.
const RequestIDHeader = "X-Request-ID"

// RequestID returns the id assigned to the request, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	n, err := s.ResponseWriter.Write(b)
	s.bytes += n
	return n, err
}

func accessLog(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)
			if rec.status == 0 {
				rec.status = http.StatusOK
			}

			ev := log.Info()
			if rec.status >= 500 {
				ev = log.Error()
			}
			ev.Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rec.status).
				Int("bytes", rec.bytes).
				Dur("duration", time.Since(start)).
				Str("request_id", RequestID(r.Context())).
				Msg("request")
		})
	}
}

func recovery(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if v := recover(); v != nil {
					if v == http.ErrAbortHandler {
						panic(v)
					}
					log.Error().
						Str("panic", fmt.Sprint(v)).
						Str("stack", string(debug.Stack())).
						Str("request_id", RequestID(r.Context())).
						Msg("handler panicked")
					http.Error(w, "Internal server error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP returns the first X-Forwarded-For entry, else the peer address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// AllowList is a swappable set of CIDR ranges.
type AllowList struct {
	prefixes atomic.Pointer[[]netip.Prefix]
}

// NewAllowList parses cidrs into an allow-list.
func NewAllowList(cidrs []string) (*AllowList, error) {
	a := &AllowList{}
	if err := a.Set(cidrs); err != nil {
		return nil, err
	}
	return a, nil
}

// Set replaces the ranges. On error the previous ranges stay in effect.
func (a *AllowList) Set(cidrs []string) error {
	prefixes := make([]netip.Prefix, 0, len(cidrs))
	for _, c := range cidrs {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		p, err := netip.ParsePrefix(c)
		if err != nil {
			addr, addrErr := netip.ParseAddr(c)
			if addrErr != nil {
				return fmt.Errorf("invalid CIDR %q: %w", c, err)
			}
			p = netip.PrefixFrom(addr, addr.BitLen())
		}
		prefixes = append(prefixes, p.Masked())
	}
	a.prefixes.Store(&prefixes)
	return nil
}

// Allowed reports whether ip falls inside any range.
func (a *AllowList) Allowed(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	prefixes := a.prefixes.Load()
	if prefixes == nil {
		return false
	}
	for _, p := range *prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// restrict forbids requests under any of prefixes from addresses outside
// the allow-list.
func restrict(allow *AllowList, log zerolog.Logger, prefixes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, prefix := range prefixes {
				if !strings.HasPrefix(r.URL.Path, prefix) {
					continue
				}
				ip := clientIP(r)
				if !allow.Allowed(ip) {
					log.Warn().Str("ip", ip).Str("path", r.URL.Path).Msg("restricted path forbidden")
					http.Error(w, "403 Forbidden: IP not allowed.", http.StatusForbidden)
					return
				}
				break
			}
			next.ServeHTTP(w, r)
		})
	}
}

// dailyLimiter allows each client a fixed number of events per day.
type dailyLimiter struct {
	mu        sync.Mutex
	perDay    int
	clients   map[string]*visitor
	now       func() time.Time
	lastSweep time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newDailyLimiter(perDay int) *dailyLimiter {
	return &dailyLimiter{perDay: perDay, clients: make(map[string]*visitor), now: time.Now}
}

// Allow consumes one event for key. A non-positive limit disables limiting.
func (l *dailyLimiter) Allow(key string) bool {
	if l.perDay <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) > time.Hour {
		for k, v := range l.clients {
			if now.Sub(v.lastSeen) > 24*time.Hour {
				delete(l.clients, k)
			}
		}
		l.lastSweep = now
	}

	v, ok := l.clients[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rate.Every(24*time.Hour/time.Duration(l.perDay)), l.perDay)}
		l.clients[key] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}
