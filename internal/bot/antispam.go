package bot

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// antispam allows one request per interval per sender. Idle senders are
// evicted opportunistically.
type antispam struct {
	every rate.Limit

	mu       sync.Mutex
	visitors map[int64]*visitor
	ttl      time.Duration
	lookups  uint64
	now      func() time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newAntispam(interval time.Duration) *antispam {
	return &antispam{
		every:    rate.Every(interval),
		visitors: make(map[int64]*visitor),
		ttl:      10 * time.Minute,
		now:      time.Now,
	}
}

// Allow reports whether sender may be served now.
func (a *antispam) Allow(sender int64) bool {
	now := a.now()

	a.mu.Lock()
	a.lookups++
	if a.lookups >= 1000 {
		for k, v := range a.visitors {
			if now.Sub(v.lastSeen) >= a.ttl {
				delete(a.visitors, k)
			}
		}
		a.lookups = 0
	}
	v, ok := a.visitors[sender]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(a.every, 1)}
		a.visitors[sender] = v
	}
	v.lastSeen = now
	lim := v.limiter
	a.mu.Unlock()

	return lim.AllowN(now, 1)
}
