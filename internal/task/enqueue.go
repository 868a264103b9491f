package task

import "context"

// Pusher is the slice of the shared queue client the task queue needs.
type Pusher interface {
	Push(ctx context.Context, name string, values ...string) error
}

// Enqueuer appends write tasks to the write-behind log. Callers must never
// hold a session lock across Enqueue failures longer than the call itself;
// the push is a single queue operation.
type Enqueuer interface {
	Enqueue(ctx context.Context, t Task) error
}

// Queue is the Redis-backed Enqueuer used in production.
type Queue struct {
	pusher Pusher
	name   string
}

func NewQueue(p Pusher, name string) *Queue {
	return &Queue{pusher: p, name: name}
}

func (q *Queue) Enqueue(ctx context.Context, t Task) error {
	data, err := Encode(t)
	if err != nil {
		return err
	}
	return q.pusher.Push(ctx, q.name, string(data))
}
