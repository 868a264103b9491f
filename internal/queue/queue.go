package queue

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrEmpty is returned by Pop when the named queue holds no items.
var ErrEmpty = errors.New("queue empty")

// Client exposes the shared FIFO lists backing matchmaking buckets and the
// write-behind log. Several coordinator processes may operate on the same
// lists; every operation is a single atomic Redis command.
type Client struct {
	rdb *redis.Client
}

func New(addr, password string) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &Client{rdb: rdb}, nil
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

// Push appends a value to the tail of the named queue.
func (c *Client) Push(ctx context.Context, name string, values ...string) error {
	if len(values) == 0 {
		return nil
	}
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return c.rdb.RPush(ctx, name, args...).Err()
}

// PushFront restores a value to the head of the named queue, preserving its
// position ahead of later arrivals.
func (c *Client) PushFront(ctx context.Context, name, value string) error {
	return c.rdb.LPush(ctx, name, value).Err()
}

// Pop removes and returns the head of the named queue.
func (c *Client) Pop(ctx context.Context, name string) (string, error) {
	v, err := c.rdb.LPop(ctx, name).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrEmpty
	}
	return v, err
}

func (c *Client) Len(ctx context.Context, name string) (int64, error) {
	return c.rdb.LLen(ctx, name).Result()
}

// Remove deletes every occurrence of value from the named queue and reports
// how many entries were removed.
func (c *Client) Remove(ctx context.Context, name, value string) (int64, error) {
	return c.rdb.LRem(ctx, name, 0, value).Result()
}
