// Package jsonstore implements the schemaless scratch store.
//
// Unlike the data service, the jsonstore holds one nested tree of JSON
// values addressed by path. There are no access rules, no ownership and no
// system timestamps; frontends use it as a free-form shared blackboard.
package jsonstore

import (
	"net/http"
	"strings"
	"sync"

	"github.com/devserve/devserve/internal/id"
	"github.com/devserve/devserve/pkg/dispatch"
	"github.com/devserve/devserve/pkg/resterr"
	"github.com/devserve/devserve/pkg/storage"
)

// Service is the jsonstore service.
type Service struct {
	mu   sync.RWMutex
	root map[string]any
}

// NewService creates an empty jsonstore.
func NewService() *Service {
	return &Service{root: make(map[string]any)}
}

// Seed replaces the tree contents.
func (s *Service) Seed(data map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.root = make(map[string]any, len(data))
	for k, v := range data {
		s.root[k] = storage.CloneValue(v)
	}
}

// Name implements dispatch.Service.
func (s *Service) Name() string { return "jsonstore" }

// Handle implements dispatch.Service.
func (s *Service) Handle(_ *dispatch.Context, req *dispatch.Request) (any, error) {
	switch req.Method {
	case http.MethodGet:
		return s.get(req.Tokens)
	case http.MethodPost:
		return s.post(req.Tokens, req.Body)
	case http.MethodPut:
		return s.put(req.Tokens, req.Body)
	case http.MethodPatch:
		return s.patch(req.Tokens, req.Body)
	case http.MethodDelete:
		return s.delete(req.Tokens)
	}
	return nil, &resterr.RequestError{}
}

func (s *Service) get(tokens []string) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var node any = s.root
	for _, token := range tokens {
		child, ok := node.(map[string]any)
		if !ok {
			return nil, notFound(tokens)
		}
		node, ok = child[token]
		if !ok {
			return nil, notFound(tokens)
		}
	}
	return storage.CloneValue(node), nil
}

// post stores the body under a fresh id at the given path, creating
// intermediate maps as needed.
func (s *Service) post(tokens []string, body any) (any, error) {
	if body == nil {
		return nil, &resterr.RequestError{Message: "Missing request body"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	node := s.root
	for _, token := range tokens {
		child, ok := node[token].(map[string]any)
		if !ok {
			child = make(map[string]any)
			node[token] = child
		}
		node = child
	}

	entryID := id.New()
	stored := storage.CloneValue(body)
	if m, ok := stored.(map[string]any); ok {
		m["_id"] = entryID
	}
	node[entryID] = stored
	return storage.CloneValue(stored), nil
}

func (s *Service) put(tokens []string, body any) (any, error) {
	if len(tokens) == 0 {
		return nil, &resterr.RequestError{Message: "Missing entry path"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	parent, leaf, err := s.parent(tokens)
	if err != nil {
		return nil, err
	}
	parent[leaf] = storage.CloneValue(body)
	return storage.CloneValue(body), nil
}

func (s *Service) patch(tokens []string, body any) (any, error) {
	if len(tokens) == 0 {
		return nil, &resterr.RequestError{Message: "Missing entry path"}
	}
	patch, ok := body.(map[string]any)
	if !ok {
		return nil, &resterr.RequestError{Message: "Request body must be an object"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	parent, leaf, err := s.parent(tokens)
	if err != nil {
		return nil, err
	}
	target, ok := parent[leaf].(map[string]any)
	if !ok {
		return nil, &resterr.RequestError{Message: "Entry is not an object"}
	}
	for k, v := range patch {
		target[k] = storage.CloneValue(v)
	}
	return storage.CloneValue(target), nil
}

func (s *Service) delete(tokens []string) (any, error) {
	if len(tokens) == 0 {
		return nil, &resterr.RequestError{Message: "Missing entry path"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	parent, leaf, err := s.parent(tokens)
	if err != nil {
		return nil, err
	}
	delete(parent, leaf)
	return nil, nil
}

// parent walks to the map holding the last token. The full path up to and
// including the leaf must exist.
func (s *Service) parent(tokens []string) (map[string]any, string, error) {
	node := s.root
	for _, token := range tokens[:len(tokens)-1] {
		child, ok := node[token].(map[string]any)
		if !ok {
			return nil, "", notFound(tokens)
		}
		node = child
	}
	leaf := tokens[len(tokens)-1]
	if _, ok := node[leaf]; !ok {
		return nil, "", notFound(tokens)
	}
	return node, leaf, nil
}

func notFound(tokens []string) error {
	return &resterr.NotFoundError{Message: "Data not found at " + strings.Join(tokens, "/")}
}
