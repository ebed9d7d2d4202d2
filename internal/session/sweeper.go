package session

import (
	"context"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
)

// Sweeper periodically evicts sessions idle past the inactivity window and
// drops local cache entries whose backing session is gone. Store TTLs already
// guarantee eventual removal of shared state; the sweeper exists for prompt
// removal and because store expiry cannot reach process-local memory.
type Sweeper struct {
	Registry   *Registry
	Cache      *Cache
	Interval   time.Duration
	CronSpec   string // overrides Interval when set
	Inactivity time.Duration
	Stop       chan struct{}

	logger  *log.Logger
	now     func() time.Time
	lastRun time.Time
}

func NewSweeper(reg *Registry, cache *Cache, interval, inactivity time.Duration, cronSpec string) *Sweeper {
	return &Sweeper{
		Registry:   reg,
		Cache:      cache,
		Interval:   interval,
		CronSpec:   cronSpec,
		Inactivity: inactivity,
		Stop:       make(chan struct{}),
		logger:     log.New(log.Writer(), "[SWEEP] ", log.LstdFlags),
		now:        time.Now,
	}
}

func (s *Sweeper) Start() {
	tick := s.Interval
	if s.CronSpec != "" {
		// cron schedules are checked once a minute
		tick = time.Minute
	}
	ticker := time.NewTicker(tick)
	go func() {
		for {
			select {
			case <-s.Stop:
				ticker.Stop()
				return
			case <-ticker.C:
				if s.CronSpec != "" && !s.isDue() {
					continue
				}
				s.lastRun = s.now()
				if err := s.Sweep(context.Background()); err != nil {
					s.logger.Printf("sweep error: %v", err)
				}
			}
		}
	}()
}

// Sweep runs one eviction pass. Keys are snapshotted before any removal.
func (s *Sweeper) Sweep(ctx context.Context) error {
	now := s.now()
	activity, err := s.Registry.LastActivity(ctx)
	if err != nil {
		return err
	}

	evicted := 0
	for uid, last := range activity {
		if now.Sub(last) <= s.Inactivity {
			continue
		}
		if err := s.Registry.Delete(ctx, uid); err != nil {
			s.logger.Printf("evict %s: %v", uid, err)
			continue
		}
		evicted++
	}

	// Cache entries whose session already expired by store TTL: the store
	// cannot invalidate these for us.
	dropped := 0
	for uid := range s.Cache.Entries() {
		state, err := s.Registry.Status(ctx, uid)
		if err != nil {
			continue
		}
		if state.Status != StatusReady {
			s.Cache.Invalidate(uid)
			dropped++
		}
	}

	if evicted > 0 || dropped > 0 {
		s.logger.Printf("sweep done: evicted=%d cache_dropped=%d", evicted, dropped)
	}
	return nil
}

// isDue reports whether the cron spec fires between the last run and now.
// Supports "@daily", "@hourly", and standard 5-field cron expressions.
func (s *Sweeper) isDue() bool {
	now := s.now()
	if s.lastRun.IsZero() {
		return true
	}
	switch s.CronSpec {
	case "@daily":
		return now.Sub(s.lastRun) >= 24*time.Hour
	case "@hourly":
		return now.Sub(s.lastRun) >= time.Hour
	default:
		expr, err := cronexpr.Parse(s.CronSpec)
		if err != nil {
			return now.Sub(s.lastRun) >= s.Interval
		}
		next := expr.Next(s.lastRun)
		return !next.After(now)
	}
}
