package scheduler

import (
	"context"
	"fmt"
	"sync"

	"clusterplane/internal/store"
)

// HandlerFunc executes one job. The job is already marked running when
// the handler is invoked; returning nil marks it succeeded. Wrap errors
// with Transient or Permanent to steer the retry policy.
type HandlerFunc func(ctx context.Context, job *store.Job) error

// Registry maps job types to handlers. Registration happens at startup;
// lookups are concurrent with dispatch.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

// Register binds a handler to a job type. Registering the same type
// twice panics: that is always a wiring bug.
func (r *Registry) Register(jobType string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[jobType]; exists {
		panic(fmt.Sprintf("scheduler: handler already registered for %q", jobType))
	}
	r.handlers[jobType] = h
}

// Resolve returns the handler for a job type.
func (r *Registry) Resolve(jobType string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[jobType]
	return h, ok
}
