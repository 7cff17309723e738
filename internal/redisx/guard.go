// Package redisx holds Redis-backed helpers.
package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/vnshop-orders/internal/domain/order"
)

// KeyCheckoutSubmission is checkout:submit:{user_id}:{idempotency_key}.
const KeyCheckoutSubmission = "checkout:submit:%d:%s"

// DefaultGuardTTL bounds how long a submission key blocks a retry.
const DefaultGuardTTL = 30 * time.Second

// New returns a client for addr with short timeouts; the guard sits on the
// checkout path and must fail fast.
func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
}

var _ order.SubmissionGuard = (*SubmissionGuard)(nil)

// SubmissionGuard claims (user, idempotency key) pairs with SET NX.
type SubmissionGuard struct {
	rdb redis.Cmdable
	ttl time.Duration
}

// NewSubmissionGuard returns a guard. A non-positive ttl uses DefaultGuardTTL.
func NewSubmissionGuard(rdb redis.Cmdable, ttl time.Duration) *SubmissionGuard {
	if ttl <= 0 {
		ttl = DefaultGuardTTL
	}
	return &SubmissionGuard{rdb: rdb, ttl: ttl}
}

func submissionKey(userID int64, key string) string {
	return fmt.Sprintf(KeyCheckoutSubmission, userID, key)
}

// Acquire returns false when the pair is already claimed.
func (g *SubmissionGuard) Acquire(ctx context.Context, userID int64, key string) (bool, error) {
	ok, err := g.rdb.SetNX(ctx, submissionKey(userID, key), time.Now().Unix(), g.ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, "claim submission")
	}
	return ok, nil
}

// Release drops the claim so a failed checkout can be retried.
func (g *SubmissionGuard) Release(ctx context.Context, userID int64, key string) error {
	if err := g.rdb.Del(ctx, submissionKey(userID, key)).Err(); err != nil {
		return errors.Wrap(err, "release submission")
	}
	return nil
}
