package installer

import (
	"fmt"
	"sort"
	"sync"

	"github.com/oshokin/flatstore/internal/domain/install"
)

// registry records which identifiers have a request in flight.
type registry struct {
	// mu guards requests.
	mu sync.Mutex
	// requests maps an identifier to its running request.
	requests map[install.Identifier]install.Request
}

func newRegistry() *registry {
	return &registry{
		requests: make(map[install.Identifier]install.Request),
	}
}

// acquire claims the identifier of req and returns the function releasing it.
func (r *registry) acquire(req install.Request) (func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if running, ok := r.requests[req.Identifier]; ok {
		return nil, fmt.Errorf("%s (session %s): %w", req.Identifier, running.Session, install.ErrAlreadyInProgress)
	}

	r.requests[req.Identifier] = req

	var once sync.Once

	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()

			delete(r.requests, req.Identifier)
		})
	}, nil
}

// list returns the running requests ordered by identifier.
func (r *registry) list() []install.Request {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]install.Request, 0, len(r.requests))
	for _, req := range r.requests {
		result = append(result, req)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Identifier < result[j].Identifier
	})

	return result
}
