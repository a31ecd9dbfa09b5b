package routing

import (
	"sync"
)

type binding struct {
	queue   string
	pattern string
}

// Router is the exchange side of routing: it holds (queue, pattern) bindings
// and resolves a published key to the set of queues that receive it.
type Router struct {
	mu       sync.RWMutex
	bindings []binding
}

func NewRouter() *Router {
	return &Router{}
}

// Bind adds a binding. Binding the same pair twice is a no-op.
func (r *Router) Bind(queue, pattern string) error {
	if err := ValidatePattern(pattern); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, b := range r.bindings {
		if b.queue == queue && b.pattern == pattern {
			return nil
		}
	}
	r.bindings = append(r.bindings, binding{queue: queue, pattern: pattern})
	return nil
}

func (r *Router) Unbind(queue, pattern string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.bindings[:0]
	for _, b := range r.bindings {
		if b.queue == queue && b.pattern == pattern {
			continue
		}
		kept = append(kept, b)
	}
	r.bindings = kept
}

// Route returns the distinct queues with at least one matching binding, in
// bind order. An unmatched key yields an empty result, not an error.
func (r *Router) Route(key string) ([]string, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var queues []string
	seen := make(map[string]struct{})
	for _, b := range r.bindings {
		if _, ok := seen[b.queue]; ok {
			continue
		}
		if Matches(key, b.pattern) {
			seen[b.queue] = struct{}{}
			queues = append(queues, b.queue)
		}
	}
	return queues, nil
}

// Bound reports whether queue has any binding matching key.
func (r *Router) Bound(queue, key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, b := range r.bindings {
		if b.queue == queue && Matches(key, b.pattern) {
			return true
		}
	}
	return false
}

// HasQueue reports whether queue has at least one binding.
func (r *Router) HasQueue(queue string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, b := range r.bindings {
		if b.queue == queue {
			return true
		}
	}
	return false
}
