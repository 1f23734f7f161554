package signal

import (
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

const guardCacheSize = 10000

// ConnectionGuard throttles how fast a single user may (re)connect.
// A flapping client otherwise churns rooms through join/teardown cycles
// faster than the engine can keep up.
type ConnectionGuard interface {
	Allow(userID string) bool
}

type connGuardImpl struct {
	limiters *lru.Cache[string, *rate.Limiter]
	rate     rate.Limit
	burst    int
}

func NewConnGuard(connectRate rate.Limit, burst int) ConnectionGuard {
	limiters, _ := lru.New[string, *rate.Limiter](guardCacheSize)
	return &connGuardImpl{
		limiters: limiters,
		rate:     connectRate,
		burst:    burst,
	}
}

func (g *connGuardImpl) Allow(userID string) bool {
	limiter, ok := g.limiters.Get(userID)
	if !ok {
		limiter = rate.NewLimiter(g.rate, g.burst)
		// a racing insert for the same user just wastes one limiter
		g.limiters.Add(userID, limiter)
	}
	return limiter.Allow()
}
