// Package flags holds runtime switches and exposes them over the util
// service. The only flag with built-in behavior is "throttle", which makes
// the dispatcher delay every response; arbitrary flags can still be set and
// read so frontends can coordinate test scenarios through the server.
package flags

import (
	"net/http"
	"sync"

	"github.com/devserve/devserve/pkg/dispatch"
	"github.com/devserve/devserve/pkg/resterr"
)

// Store is a concurrency-safe named bool map.
type Store struct {
	mu    sync.RWMutex
	flags map[string]bool
}

// NewStore creates a Store with the given initial flags.
func NewStore(initial map[string]bool) *Store {
	flags := make(map[string]bool, len(initial))
	for name, value := range initial {
		flags[name] = value
	}
	return &Store{flags: flags}
}

// Bool returns the flag value; unknown flags are false.
func (s *Store) Bool(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flags[name]
}

// Set sets a flag.
func (s *Store) Set(name string, value bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags[name] = value
}

// All returns a copy of the current flags.
func (s *Store) All() map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]bool, len(s.flags))
	for name, value := range s.flags {
		out[name] = value
	}
	return out
}

// Service exposes the store as the util service.
//
// GET /util returns all flags, GET /util/<flag> one flag's value. POST /util
// with a {"flag": bool, ...} body sets flags and returns an empty string.
type Service struct {
	store *Store
}

// NewService creates the util service over store.
func NewService(store *Store) *Service {
	return &Service{store: store}
}

// Name implements dispatch.Service.
func (s *Service) Name() string { return "util" }

// Handle implements dispatch.Service.
func (s *Service) Handle(_ *dispatch.Context, req *dispatch.Request) (any, error) {
	switch req.Method {
	case http.MethodGet:
		if len(req.Tokens) == 0 {
			return s.store.All(), nil
		}
		return s.store.Bool(req.Tokens[0]), nil
	case http.MethodPost:
		for name, value := range req.BodyMap() {
			if b, ok := value.(bool); ok {
				s.store.Set(name, b)
			}
		}
		return "", nil
	}
	return nil, &resterr.RequestError{}
}

// Provider decorates the Context with the flag store.
type Provider struct {
	store *Store
}

// NewProvider creates a capability provider for store.
func NewProvider(store *Store) *Provider {
	return &Provider{store: store}
}

// Name implements dispatch.Provider.
func (p *Provider) Name() string { return "flags" }

// Requires implements dispatch.Provider.
func (p *Provider) Requires() []string { return nil }

// Decorate implements dispatch.Provider.
func (p *Provider) Decorate(ctx *dispatch.Context, _ *http.Request) error {
	ctx.Flags = p.store
	return nil
}
