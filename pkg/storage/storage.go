// Package storage implements the in-memory collection store backing devserve.
//
// An Instance owns a set of named collections, each mapping record IDs to
// records. The store owns canonical state: every record passed in or handed
// out is deep-copied, so callers never alias internal maps. Two instances
// exist in a running server — the public one holding user-visible
// collections and the protected one holding users and sessions.
package storage

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/devserve/devserve/internal/id"
	"github.com/devserve/devserve/pkg/resterr"
)

// Record is a single stored entity: arbitrary fields plus the system fields
// _id, _ownerId, _createdOn and _updatedOn managed by the engine.
type Record = map[string]any

// System field names. Clients can never set these directly; the engine
// stamps them on write and re-attaches them on replace.
const (
	FieldID        = "_id"
	FieldOwnerID   = "_ownerId"
	FieldCreatedOn = "_createdOn"
	FieldUpdatedOn = "_updatedOn"
	FieldDeletedOn = "_deletedOn"
)

var systemFields = []string{FieldID, FieldCreatedOn, FieldUpdatedOn, FieldOwnerID}

// Instance is one isolated collection namespace.
type Instance struct {
	mu          sync.RWMutex
	collections map[string]map[string]Record
}

// NewInstance creates an empty Instance.
func NewInstance() *Instance {
	return &Instance{collections: make(map[string]map[string]Record)}
}

// Seed populates the instance from seed data, replacing existing contents.
// Records are stored as given; the outer key becomes the record ID.
func (s *Instance) Seed(data map[string]map[string]Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.collections = make(map[string]map[string]Record, len(data))
	for name, records := range data {
		collection := make(map[string]Record, len(records))
		for recordID, record := range records {
			stored := CloneRecord(record)
			delete(stored, FieldID)
			collection[recordID] = stored
		}
		s.collections[name] = collection
	}
}

// Collections returns all collection names in sorted order.
func (s *Instance) Collections() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.collections))
	for name := range s.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns every record in the collection with _id attached.
func (s *Instance) List(collection string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	target, ok := s.collections[collection]
	if !ok {
		return nil, &resterr.NotFoundError{Message: "Collection does not exist: " + collection}
	}

	ids := make([]string, 0, len(target))
	for recordID := range target {
		ids = append(ids, recordID)
	}
	sort.Strings(ids)

	result := make([]Record, 0, len(target))
	for _, recordID := range ids {
		result = append(result, withID(target[recordID], recordID))
	}
	return result, nil
}

// Get returns a single record by ID with _id attached.
func (s *Instance) Get(collection, recordID string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	target, ok := s.collections[collection]
	if !ok {
		return nil, &resterr.NotFoundError{Message: "Collection does not exist: " + collection}
	}
	record, ok := target[recordID]
	if !ok {
		return nil, &resterr.NotFoundError{Message: "Entry does not exist: " + recordID}
	}
	return withID(record, recordID), nil
}

// Add stores a new record, creating the collection if absent. Client-supplied
// system fields other than _ownerId are stripped; a fresh unique ID and
// _createdOn timestamp are stamped. Returns the stored record with _id.
func (s *Instance) Add(collection string, data Record) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := cloneClean(data)
	if owner, ok := data[FieldOwnerID]; ok {
		record[FieldOwnerID] = deepCopy(owner)
	}
	record[FieldCreatedOn] = nowMillis()

	target, ok := s.collections[collection]
	if !ok {
		target = make(map[string]Record)
		s.collections[collection] = target
	}

	recordID := id.New()
	for _, exists := target[recordID]; exists; _, exists = target[recordID] {
		recordID = id.New()
	}

	target[recordID] = record
	return withID(record, recordID), nil
}

// Set replaces a record wholesale, re-attaching the existing record's system
// fields onto the replacement and stamping _updatedOn.
func (s *Instance) Set(collection, recordID string, data Record) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, ok := s.collections[collection]
	if !ok {
		return nil, &resterr.NotFoundError{Message: "Collection does not exist: " + collection}
	}
	existing, ok := target[recordID]
	if !ok {
		return nil, &resterr.NotFoundError{Message: "Entry does not exist: " + recordID}
	}

	record := CloneRecord(data)
	delete(record, FieldID)
	for _, field := range systemFields {
		if v, ok := existing[field]; ok {
			record[field] = deepCopy(v)
		}
	}
	record[FieldUpdatedOn] = nowMillis()

	target[recordID] = record
	return withID(record, recordID), nil
}

// Merge shallow-merges non-system fields onto the existing record and stamps
// _updatedOn.
func (s *Instance) Merge(collection, recordID string, data Record) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, ok := s.collections[collection]
	if !ok {
		return nil, &resterr.NotFoundError{Message: "Collection does not exist: " + collection}
	}
	existing, ok := target[recordID]
	if !ok {
		return nil, &resterr.NotFoundError{Message: "Entry does not exist: " + recordID}
	}

	record := CloneRecord(existing)
	for k, v := range cloneClean(data) {
		record[k] = v
	}
	record[FieldUpdatedOn] = nowMillis()

	target[recordID] = record
	return withID(record, recordID), nil
}

// Delete removes a record and returns a deletion timestamp marker.
func (s *Instance) Delete(collection, recordID string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, ok := s.collections[collection]
	if !ok {
		return nil, &resterr.NotFoundError{Message: "Collection does not exist: " + collection}
	}
	if _, ok := target[recordID]; !ok {
		return nil, &resterr.NotFoundError{Message: "Entry does not exist: " + recordID}
	}

	delete(target, recordID)
	return Record{FieldDeletedOn: nowMillis()}, nil
}

// Query performs a linear scan over the collection, returning records whose
// fields all match the query object. String values compare case-insensitively;
// everything else uses loose equality.
func (s *Instance) Query(collection string, match Record) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	target, ok := s.collections[collection]
	if !ok {
		return nil, &resterr.NotFoundError{Message: "Collection does not exist: " + collection}
	}

	result := make([]Record, 0)
	for recordID, record := range target {
		if matches(record, match) {
			result = append(result, withID(record, recordID))
		}
	}
	return result, nil
}

func matches(record, match Record) bool {
	for prop, want := range match {
		have, ok := record[prop]
		if !ok {
			return false
		}
		ws, wok := want.(string)
		hs, hok := have.(string)
		if wok && hok {
			if !strings.EqualFold(ws, hs) {
				return false
			}
			continue
		}
		if !LooseEqual(have, want) {
			return false
		}
	}
	return true
}

// LooseEqual compares two values the way the query layer does: numeric
// values compare by magnitude regardless of concrete type, everything else
// by string rendering.
func LooseEqual(a, b any) bool {
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	if aok && bok {
		return af == bf
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

func withID(record Record, recordID string) Record {
	out := CloneRecord(record)
	out[FieldID] = recordID
	return out
}

// cloneClean deep-copies all non-system fields of data.
func cloneClean(data Record) Record {
	out := make(Record, len(data))
	for k, v := range data {
		if isSystemField(k) {
			continue
		}
		out[k] = deepCopy(v)
	}
	return out
}

func isSystemField(name string) bool {
	for _, f := range systemFields {
		if f == name {
			return true
		}
	}
	return false
}

// CloneValue returns a structural deep copy of an arbitrary JSON-shaped
// value.
func CloneValue(v any) any {
	return deepCopy(v)
}

// CloneRecord returns a structural deep copy of a record.
func CloneRecord(record Record) Record {
	if record == nil {
		return nil
	}
	out := make(Record, len(record))
	for k, v := range record {
		out[k] = deepCopy(v)
	}
	return out
}

// deepCopy copies maps and slices recursively; scalars are returned as-is.
// A structural copy keeps value types intact (a JSON round-trip would turn
// int64 timestamps into float64).
func deepCopy(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = deepCopy(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopy(item)
		}
		return out
	default:
		return v
	}
}
