package api

import (
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"github.com/warp/leave-engine/leave"
)

// ActorLimiter holds one token bucket per actor.
type ActorLimiter struct {
	mu       sync.Mutex
	limiters map[leave.UserID]*rate.Limiter
	r        rate.Limit // requests per second
	b        int        // burst
}

func NewActorLimiter(r rate.Limit, b int) *ActorLimiter {
	return &ActorLimiter{
		limiters: make(map[leave.UserID]*rate.Limiter),
		r:        r,
		b:        b,
	}
}

func (l *ActorLimiter) limiter(id leave.UserID) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters[id]
	if !ok {
		lim = rate.NewLimiter(l.r, l.b)
		l.limiters[id] = lim
	}
	return lim
}

// Allow takes a token from id's bucket.
func (l *ActorLimiter) Allow(id leave.UserID) bool {
	return l.limiter(id).Allow()
}

// Middleware answers 429 once the resolved actor runs out of tokens. It
// must run after resolveActor.
func (l *ActorLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := actorFrom(r.Context())
		if !l.Allow(actor.ID) {
			writeError(w, http.StatusTooManyRequests, "Too many requests", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
