package execution

import (
	"context"
	"net/http"
	"sync"
)

// ContextBuilder produces the execution context handed to every resolver
// invocation. It is called once per HTTP request and once per WebSocket
// start message. The connection's upgrade request is passed for WebSocket
// operations. An error aborts only the operation being started, never the
// connection it arrived on.
type ContextBuilder func(ctx context.Context, r *http.Request) (context.Context, error)

type contextKey int

const (
	contextKeyRequest contextKey = iota
	contextKeyBackground
)

// DefaultContextBuilder attaches the inbound request and a background task
// collector, so resolvers can reach request metadata and schedule
// post-response work without any configuration.
func DefaultContextBuilder(ctx context.Context, r *http.Request) (context.Context, error) {
	ctx = context.WithValue(ctx, contextKeyRequest, r)
	ctx = context.WithValue(ctx, contextKeyBackground, &BackgroundTasks{})
	return ctx, nil
}

// RequestFromContext returns the inbound request the default context
// builder attached, or nil when a custom builder replaced it.
func RequestFromContext(ctx context.Context) *http.Request {
	r, _ := ctx.Value(contextKeyRequest).(*http.Request)
	return r
}

// BackgroundFromContext returns the background task collector, or nil when
// a custom context builder replaced the default one.
func BackgroundFromContext(ctx context.Context) *BackgroundTasks {
	b, _ := ctx.Value(contextKeyBackground).(*BackgroundTasks)
	return b
}

// BackgroundTasks collects side effects a resolver wants to run after the
// response has been written. Safe for concurrent use by parallel resolvers.
type BackgroundTasks struct {
	mu    sync.Mutex
	tasks []func(ctx context.Context)
}

// Add queues a task. Tasks run in the order they were added.
func (b *BackgroundTasks) Add(task func(ctx context.Context)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tasks = append(b.tasks, task)
}

// Run executes all queued tasks sequentially and clears the queue.
func (b *BackgroundTasks) Run(ctx context.Context) {
	b.mu.Lock()
	tasks := b.tasks
	b.tasks = nil
	b.mu.Unlock()

	for _, task := range tasks {
		task(ctx)
	}
}

// Len reports the number of queued tasks.
func (b *BackgroundTasks) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.tasks)
}
