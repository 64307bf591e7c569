package idempotency

import (
	"context"
	"time"

	redisadapter "github.com/robertarktes/ticket-marketplace/internal/adapters/redis"
)

// Backend stores responses by key. *redisadapter.Idempotency implements it.
type Backend interface {
	Get(ctx context.Context, key string) (*redisadapter.IdempResponse, error)
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
	Set(ctx context.Context, key string, resp redisadapter.IdempResponse, ttl time.Duration) error
}

type Idempotency struct {
	redis Backend
	ttl   time.Duration
}

func NewIdempotency(redis Backend, ttl time.Duration) *Idempotency {
	return &Idempotency{redis: redis, ttl: ttl}
}

type Response struct {
	Status int
	Result []byte
}

// Begin claims key for a new request. It returns the stored response when the key
// was already completed, and inFlight when another request still holds it.
func (i *Idempotency) Begin(ctx context.Context, key string) (stored *Response, inFlight bool, err error) {
	ok, err := i.redis.Reserve(ctx, key, i.ttl)
	if err != nil {
		return nil, false, err
	}
	if ok {
		return nil, false, nil
	}
	existing, err := i.redis.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		// expired between the two calls; let the caller proceed
		return nil, false, nil
	}
	if existing.Status == 0 {
		return nil, true, nil
	}
	return &Response{Status: existing.Status, Result: existing.Result}, false, nil
}

// Finish stores the response for replay. Responses with a 5xx status release the key
// instead so the client can retry.
func (i *Idempotency) Finish(ctx context.Context, key string, resp Response) error {
	if resp.Status >= 500 {
		return i.redis.Release(ctx, key)
	}
	return i.redis.Set(ctx, key, redisadapter.IdempResponse{Status: resp.Status, Result: resp.Result}, i.ttl)
}

// Release drops the claim on key without storing a response, so the next request with
// the same key runs again.
func (i *Idempotency) Release(ctx context.Context, key string) error {
	return i.redis.Release(ctx, key)
}
