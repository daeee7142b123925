package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var _ Persister = &RedisPersister{}

// RedisPersister keeps the state as one JSON value under the StoreName key.
type RedisPersister struct {
	client *redis.Client
	key    string
}

func NewRedisPersister(url string) (*RedisPersister, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &RedisPersister{client: client, key: StoreName}, nil
}

func (p *RedisPersister) Close() error {
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}

func (p *RedisPersister) Load(ctx context.Context) (State, error) {
	raw, err := p.client.Get(ctx, p.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return NewState(), nil
	} else if err != nil {
		return State{}, fmt.Errorf("get %s: %w", p.key, err)
	}
	var state State
	if err := json.Unmarshal(raw, &state); err != nil {
		return State{}, fmt.Errorf("decode %s: %w", p.key, err)
	}
	state.normalize()
	return state, nil
}

func (p *RedisPersister) Save(ctx context.Context, state State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return p.client.Set(ctx, p.key, data, 0).Err()
}
