package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/user/docqa/internal/store"
)

// Limiter enforces a minimum interval between requests for one
// (user, endpoint) pair, with markers kept in the shared state store so the
// guard holds across processes. Best-effort: the first write is atomic via
// SetNX, the refresh path accepts a small race window where two
// near-simultaneous requests both pass.
type Limiter struct {
	kv          store.KV
	minInterval time.Duration
	markerTTL   time.Duration
}

func New(kv store.KV, minInterval, markerTTL time.Duration) *Limiter {
	return &Limiter{kv: kv, minInterval: minInterval, markerTTL: markerTTL}
}

func markerKey(uid, endpoint string) string {
	return fmt.Sprintf("rl:%s:%s", uid, endpoint)
}

// Allow reports whether a request at time now may proceed. Denied requests
// leave the marker untouched.
func (l *Limiter) Allow(ctx context.Context, uid, endpoint string, now time.Time) (bool, error) {
	key := markerKey(uid, endpoint)
	ts := strconv.FormatInt(now.UnixMilli(), 10)

	ok, err := l.kv.SetNX(ctx, key, ts, l.markerTTL)
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}

	val, found, err := l.kv.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if found {
		last, err := strconv.ParseInt(val, 10, 64)
		if err == nil && now.Sub(time.UnixMilli(last)) < l.minInterval {
			return false, nil
		}
	}
	if err := l.kv.Set(ctx, key, ts, l.markerTTL); err != nil {
		return false, err
	}
	return true, nil
}
