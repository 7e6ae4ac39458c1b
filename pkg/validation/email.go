// Package validation caches externally supplied identity checks. The
// cache and its lock are advisory: only resolution inputs are cache
// eligible, never permission decisions, and infrastructure failure
// always falls back to the authoritative store rather than changing an
// authorization outcome.
package validation

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/knowledgeops/stacks/pkg/observability"
)

// UserDirectory is the authoritative source for email validity.
type UserDirectory interface {
	EmailExists(ctx context.Context, email string) (bool, error)
}

const (
	defaultCacheTTL = 5 * time.Minute
	defaultLockTTL  = 5 * time.Second
	l1Size          = 1024
	l1TTL           = 30 * time.Second
)

// EmailValidator answers "does a user with this email exist" with a
// short-TTL cache in front of the user store. Concurrent validations
// of the same uncached key are collapsed in-process with singleflight
// and across processes with a short-lived redis lock, preventing
// duplicate-work stampedes.
type EmailValidator struct {
	dir      UserDirectory
	redis    *redis.Client // nil disables the shared cache layer
	l1       *expirable.LRU[string, bool]
	group    singleflight.Group
	cacheTTL time.Duration
	lockTTL  time.Duration
	log      *observability.Logger
}

// NewEmailValidator creates a validator. A nil redis client keeps only
// the in-process layer.
func NewEmailValidator(dir UserDirectory, redisClient *redis.Client, log *observability.Logger) *EmailValidator {
	return &EmailValidator{
		dir:      dir,
		redis:    redisClient,
		l1:       expirable.NewLRU[string, bool](l1Size, nil, l1TTL),
		cacheTTL: defaultCacheTTL,
		lockTTL:  defaultLockTTL,
		log:      log,
	}
}

// Validate reports whether a user record exists for the email.
func (v *EmailValidator) Validate(ctx context.Context, email string) (bool, error) {
	if valid, ok := v.l1.Get(email); ok {
		observability.ValidationCacheHits.WithLabelValues("l1").Inc()
		return valid, nil
	}

	result, err, _ := v.group.Do(email, func() (interface{}, error) {
		return v.validateSlow(ctx, email)
	})
	if err != nil {
		return false, err
	}
	return result.(bool), nil
}

func (v *EmailValidator) validateSlow(ctx context.Context, email string) (bool, error) {
	if valid, ok := v.cacheGet(ctx, email); ok {
		observability.ValidationCacheHits.WithLabelValues("redis").Inc()
		v.l1.Add(email, valid)
		return valid, nil
	}

	// The lock only dedupes work; failing to take it must never block
	// or fail the validation itself.
	release := v.acquireLock(ctx, email)
	defer release()

	// Another holder may have filled the cache while we waited.
	if valid, ok := v.cacheGet(ctx, email); ok {
		observability.ValidationCacheHits.WithLabelValues("redis").Inc()
		v.l1.Add(email, valid)
		return valid, nil
	}

	valid, err := v.dir.EmailExists(ctx, email)
	if err != nil {
		// Source-of-truth failure is a real failure; nothing to fall
		// back to.
		return false, fmt.Errorf("email validation failed: %w", err)
	}
	observability.ValidationCacheHits.WithLabelValues("miss").Inc()

	v.cacheSet(ctx, email, valid)
	v.l1.Add(email, valid)
	return valid, nil
}

func cacheKey(email string) string { return "emailcheck:" + email }
func lockKey(email string) string  { return "lock:emailcheck:" + email }

func (v *EmailValidator) cacheGet(ctx context.Context, email string) (bool, bool) {
	if v.redis == nil {
		return false, false
	}
	value, err := v.redis.Get(ctx, cacheKey(email)).Result()
	if err == redis.Nil {
		return false, false
	}
	if err != nil {
		// Cache unavailable means "proceed to source of truth", never
		// "deny".
		v.log.WithError(err).Warn("validation cache read failed, falling back to user store")
		return false, false
	}
	return value == "1", true
}

func (v *EmailValidator) cacheSet(ctx context.Context, email string, valid bool) {
	if v.redis == nil {
		return
	}
	value := "0"
	if valid {
		value = "1"
	}
	if err := v.redis.Set(ctx, cacheKey(email), value, v.cacheTTL).Err(); err != nil {
		v.log.WithError(err).Warn("validation cache write failed")
	}
}

// acquireLock takes the advisory lock with NX+TTL, polling with
// backoff on contention. It always returns a release function safe to
// defer; on any infrastructure error it gives up and lets the caller
// proceed to the source of truth.
func (v *EmailValidator) acquireLock(ctx context.Context, email string) func() {
	noop := func() {}
	if v.redis == nil {
		return noop
	}

	token := uuid.NewString()
	key := lockKey(email)
	deadline := time.Now().Add(v.lockTTL)
	backoff := 25 * time.Millisecond

	for {
		ok, err := v.redis.SetNX(ctx, key, token, v.lockTTL).Result()
		if err != nil {
			v.log.WithError(err).Warn("validation lock unavailable, proceeding without it")
			return noop
		}
		if ok {
			return func() { v.releaseLock(key, token) }
		}
		if time.Now().After(deadline) {
			// Holder outlived the lock TTL; proceed rather than
			// queue up behind a stuck process.
			return noop
		}

		select {
		case <-ctx.Done():
			return noop
		case <-time.After(backoff):
		}
		if backoff < 200*time.Millisecond {
			backoff *= 2
		}
	}
}

// releaseLock deletes the lock only if we still hold it. Release uses
// a background context so a cancelled request still unlocks.
func (v *EmailValidator) releaseLock(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	value, err := v.redis.Get(ctx, key).Result()
	if err != nil {
		return
	}
	if value == token {
		v.redis.Del(ctx, key)
	}
}
