package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

type Idempotency struct {
	client *redis.Client
}

func NewIdempotency(client *redis.Client) *Idempotency {
	return &Idempotency{client: client}
}

type IdempResponse struct {
	Status int
	Result []byte
}

const pendingMarker = "pending"

func (i *Idempotency) Get(ctx context.Context, key string) (*IdempResponse, error) {
	val, err := i.client.Get(ctx, "idemp:"+key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if string(val) == pendingMarker {
		return &IdempResponse{}, nil
	}
	var resp IdempResponse
	err = json.Unmarshal(val, &resp)
	return &resp, err
}

// Reserve claims key for an in-flight request. It reports false when another request
// already holds or completed the key.
func (i *Idempotency) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return i.client.SetNX(ctx, "idemp:"+key, pendingMarker, ttl).Result()
}

// Release drops an in-flight claim so the client may retry with the same key.
func (i *Idempotency) Release(ctx context.Context, key string) error {
	return i.client.Del(ctx, "idemp:"+key).Err()
}

func (i *Idempotency) Set(ctx context.Context, key string, resp IdempResponse, ttl time.Duration) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return i.client.Set(ctx, "idemp:"+key, data, ttl).Err()
}
