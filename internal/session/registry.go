package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/user/docqa/internal/store"
)

// Status of a user's document-processing session.
type Status string

const (
	StatusAbsent     Status = "absent"
	StatusProcessing Status = "processing"
	StatusReady      Status = "ready"
	StatusError      Status = "error"
)

// ErrNotFound reports a uid with no session at all.
var ErrNotFound = errors.New("no session for user")

// State is the client-visible session state. Detail carries the failure
// reason when Status is error.
type State struct {
	Status Status
	Detail string
}

const errPrefix = "error: "

// Registry is the authoritative uid -> session mapping, stored in the shared
// KV with TTL-refresh-on-activity. Every status write also invalidates the
// process-local artifact cache so it never outlives the session it belongs to.
type Registry struct {
	kv    store.KV
	cache *Cache
	ttl   time.Duration
	// activityTTL outlives the session keys so the sweeper can still see
	// recently-dead sessions and drop their cache entries.
	activityTTL time.Duration
	now         func() time.Time
}

func NewRegistry(kv store.KV, cache *Cache, ttl, activityTTL time.Duration) *Registry {
	if activityTTL < ttl {
		activityTTL = ttl
	}
	return &Registry{kv: kv, cache: cache, ttl: ttl, activityTTL: activityTTL, now: time.Now}
}

func statusKey(uid string) string   { return fmt.Sprintf("user:%s:status", uid) }
func artifactKey(uid string) string { return fmt.Sprintf("user:%s:artifact", uid) }
func activityKey(uid string) string { return fmt.Sprintf("user:%s:last_activity", uid) }

// Status returns the session state; StatusAbsent when the uid never uploaded
// or the session expired.
func (r *Registry) Status(ctx context.Context, uid string) (State, error) {
	val, ok, err := r.kv.Get(ctx, statusKey(uid))
	if err != nil {
		return State{}, err
	}
	if !ok {
		return State{Status: StatusAbsent}, nil
	}
	switch {
	case val == string(StatusProcessing):
		return State{Status: StatusProcessing}, nil
	case val == string(StatusReady):
		return State{Status: StatusReady}, nil
	case strings.HasPrefix(val, errPrefix):
		return State{Status: StatusError, Detail: strings.TrimPrefix(val, errPrefix)}, nil
	default:
		return State{}, fmt.Errorf("corrupt session status %q for uid %s", val, uid)
	}
}

// SetProcessing starts (or supersedes) a session. The previous artifact, if
// any, is dropped from both the store and the local cache.
func (r *Registry) SetProcessing(ctx context.Context, uid string) error {
	r.cache.Invalidate(uid)
	if err := r.kv.Del(ctx, artifactKey(uid)); err != nil {
		return err
	}
	if err := r.kv.Set(ctx, statusKey(uid), string(StatusProcessing), r.ttl); err != nil {
		return err
	}
	return r.touchActivity(ctx, uid)
}

// SetReady persists the serialized artifact and flips the session to ready.
// Idempotent: repeating the same write leaves the session unchanged. The local
// cache entry is dropped too: a slow query racing a superseding upload can
// re-cache the old artifact after SetProcessing already invalidated it, so the
// next query must deserialize the fresh blob.
func (r *Registry) SetReady(ctx context.Context, uid string, artifact []byte) error {
	r.cache.Invalidate(uid)
	if err := r.kv.Set(ctx, artifactKey(uid), string(artifact), r.ttl); err != nil {
		return err
	}
	if err := r.kv.Set(ctx, statusKey(uid), string(StatusReady), r.ttl); err != nil {
		return err
	}
	return r.touchActivity(ctx, uid)
}

// SetError records a terminal failure with a short human-readable reason.
func (r *Registry) SetError(ctx context.Context, uid, reason string) error {
	r.cache.Invalidate(uid)
	if err := r.kv.Del(ctx, artifactKey(uid)); err != nil {
		return err
	}
	if err := r.kv.Set(ctx, statusKey(uid), errPrefix+reason, r.ttl); err != nil {
		return err
	}
	return r.touchActivity(ctx, uid)
}

// Artifact fetches the serialized artifact from the store.
func (r *Registry) Artifact(ctx context.Context, uid string) ([]byte, bool, error) {
	val, ok, err := r.kv.Get(ctx, artifactKey(uid))
	if err != nil || !ok {
		return nil, false, err
	}
	return []byte(val), true, nil
}

// Touch refreshes TTLs and last-activity, called on every successful query.
func (r *Registry) Touch(ctx context.Context, uid string) error {
	if err := r.kv.Expire(ctx, statusKey(uid), r.ttl); err != nil {
		return err
	}
	if err := r.kv.Expire(ctx, artifactKey(uid), r.ttl); err != nil {
		return err
	}
	return r.touchActivity(ctx, uid)
}

// Delete evicts the session and its cache entry.
func (r *Registry) Delete(ctx context.Context, uid string) error {
	r.cache.Invalidate(uid)
	return r.kv.Del(ctx, statusKey(uid), artifactKey(uid), activityKey(uid))
}

// LastActivity returns uid -> last activity time for every known session.
func (r *Registry) LastActivity(ctx context.Context) (map[string]time.Time, error) {
	keys, err := r.kv.Keys(ctx, "user:*:last_activity")
	if err != nil {
		return nil, err
	}
	out := make(map[string]time.Time, len(keys))
	for _, key := range keys {
		uid := strings.TrimSuffix(strings.TrimPrefix(key, "user:"), ":last_activity")
		val, ok, err := r.kv.Get(ctx, key)
		if err != nil || !ok {
			continue
		}
		sec, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			continue
		}
		out[uid] = time.Unix(sec, 0)
	}
	return out, nil
}

func (r *Registry) touchActivity(ctx context.Context, uid string) error {
	ts := strconv.FormatInt(r.now().Unix(), 10)
	return r.kv.Set(ctx, activityKey(uid), ts, r.activityTTL)
}
