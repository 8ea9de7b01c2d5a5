// Package crud implements the generic data service.
//
// Every public collection is reachable under /data/<collection> with plain
// REST verbs. Reads support query modifiers applied in a fixed order:
// where, sortBy, offset/pageSize, distinct, count, select, load. Access
// rules gate every operation and redact what the caller may not see or
// write; ownership is stamped on create and enforced by the default rules
// on update and delete.
package crud

import (
	"net/http"

	"github.com/devserve/devserve/pkg/dispatch"
	"github.com/devserve/devserve/pkg/resterr"
	"github.com/devserve/devserve/pkg/storage"
)

// Service is the data service.
type Service struct{}

// NewService creates the data service.
func NewService() *Service {
	return &Service{}
}

// Name implements dispatch.Service.
func (s *Service) Name() string { return "data" }

// Handle implements dispatch.Service.
func (s *Service) Handle(ctx *dispatch.Context, req *dispatch.Request) (any, error) {
	switch req.Method {
	case http.MethodGet:
		return s.read(ctx, req)
	case http.MethodPost:
		return s.create(ctx, req)
	case http.MethodPut:
		return s.replace(ctx, req)
	case http.MethodPatch:
		return s.merge(ctx, req)
	case http.MethodDelete:
		return s.delete(ctx, req)
	}
	return nil, &resterr.RequestError{}
}

func (s *Service) read(ctx *dispatch.Context, req *dispatch.Request) (any, error) {
	switch len(req.Tokens) {
	case 0:
		return ctx.Storage.Collections(), nil
	case 1:
		return s.list(ctx, req, req.Tokens[0])
	case 2:
		return s.get(ctx, req, req.Tokens[0], req.Tokens[1])
	}
	return nil, &resterr.RequestError{}
}

func (s *Service) get(ctx *dispatch.Context, req *dispatch.Request, collection, recordID string) (any, error) {
	record, err := ctx.Storage.Get(collection, recordID)
	if err != nil {
		return nil, err
	}
	if err := check(ctx, "read", collection, record, nil); err != nil {
		return nil, err
	}
	redact(ctx, "read", collection, record)

	if raw, ok := req.Query["load"]; ok {
		for _, spec := range parseLoads(raw) {
			record[spec.prop] = loadOne(ctx, record, spec)
		}
	}
	return record, nil
}

func (s *Service) list(ctx *dispatch.Context, req *dispatch.Request, collection string) (any, error) {
	if err := check(ctx, "read", collection, nil, nil); err != nil {
		return nil, err
	}

	records, err := ctx.Storage.List(collection)
	if err != nil {
		return nil, err
	}

	if raw, ok := req.Query["where"]; ok {
		filter, err := parseWhere(raw)
		if err != nil {
			return nil, err
		}
		records = filter.apply(records)
	}

	for _, record := range records {
		redact(ctx, "read", collection, record)
	}

	if raw, ok := req.Query["sortBy"]; ok {
		sortRecords(records, parseSortBy(raw))
	}

	records = paginate(records, req.Query["offset"], req.Query["pageSize"])

	if raw, ok := req.Query["distinct"]; ok {
		records = distinct(records, raw)
	}

	if _, ok := req.Query["count"]; ok {
		return len(records), nil
	}

	if raw, ok := req.Query["select"]; ok {
		records = selectFields(records, raw)
	}

	if raw, ok := req.Query["load"]; ok {
		for _, spec := range parseLoads(raw) {
			loadRelations(ctx, records, spec)
		}
	}

	return records, nil
}

func (s *Service) create(ctx *dispatch.Context, req *dispatch.Request) (any, error) {
	if len(req.Tokens) != 1 {
		return nil, &resterr.RequestError{Message: "Use PUT to update records"}
	}
	collection := req.Tokens[0]

	body, err := writeBody(req)
	if err != nil {
		return nil, err
	}
	if err := check(ctx, "create", collection, nil, body); err != nil {
		return nil, err
	}
	redact(ctx, "create", collection, body)

	if ctx.User != nil {
		if ownerID, ok := ctx.User[storage.FieldID].(string); ok {
			body[storage.FieldOwnerID] = ownerID
		}
	}

	return ctx.Storage.Add(collection, body)
}

func (s *Service) replace(ctx *dispatch.Context, req *dispatch.Request) (any, error) {
	collection, recordID, err := entryTarget(req)
	if err != nil {
		return nil, err
	}
	body, err := writeBody(req)
	if err != nil {
		return nil, err
	}

	existing, err := ctx.Storage.Get(collection, recordID)
	if err != nil {
		return nil, err
	}
	if err := check(ctx, "update", collection, existing, body); err != nil {
		return nil, err
	}
	redact(ctx, "update", collection, body)

	return ctx.Storage.Set(collection, recordID, body)
}

func (s *Service) merge(ctx *dispatch.Context, req *dispatch.Request) (any, error) {
	collection, recordID, err := entryTarget(req)
	if err != nil {
		return nil, err
	}
	body, err := writeBody(req)
	if err != nil {
		return nil, err
	}

	existing, err := ctx.Storage.Get(collection, recordID)
	if err != nil {
		return nil, err
	}
	if err := check(ctx, "update", collection, existing, body); err != nil {
		return nil, err
	}
	redact(ctx, "update", collection, body)

	return ctx.Storage.Merge(collection, recordID, body)
}

func (s *Service) delete(ctx *dispatch.Context, req *dispatch.Request) (any, error) {
	collection, recordID, err := entryTarget(req)
	if err != nil {
		return nil, err
	}

	existing, err := ctx.Storage.Get(collection, recordID)
	if err != nil {
		return nil, err
	}
	if err := check(ctx, "delete", collection, existing, nil); err != nil {
		return nil, err
	}

	return ctx.Storage.Delete(collection, recordID)
}

// entryTarget extracts the collection and record id for single-entry verbs.
func entryTarget(req *dispatch.Request) (string, string, error) {
	if len(req.Tokens) != 2 {
		return "", "", &resterr.RequestError{Message: "Missing entry ID"}
	}
	return req.Tokens[0], req.Tokens[1], nil
}

// writeBody requires the request body to be a JSON object.
func writeBody(req *dispatch.Request) (storage.Record, error) {
	body := req.BodyMap()
	if body == nil {
		return nil, &resterr.RequestError{}
	}
	return body, nil
}

// check and redact tolerate a pipeline without the rules capability, in
// which case every operation is allowed.
func check(ctx *dispatch.Context, action, collection string, record, newData storage.Record) error {
	if ctx.Access == nil {
		return nil
	}
	return ctx.Access.Check(action, collection, record, newData)
}

func redact(ctx *dispatch.Context, action, collection string, record storage.Record) {
	if ctx.Access != nil {
		ctx.Access.Redact(action, collection, record)
	}
}
