// Package dispatch routes HTTP requests to registered services.
//
// The Dispatcher is the single http.Handler of a devserve server. It owns
// the request lifecycle: CORS headers, path and query parsing, running the
// capability-provider pipeline that decorates the per-request Context, the
// optional throttle delay, and mapping service results and errors onto the
// wire format.
//
// Services and capability providers are both plugin points. A Service owns
// one top-level path segment (users, data, jsonstore, util). A Provider
// decorates the Context with one capability (storage, identity, flags,
// access rules) and declares which earlier capabilities it depends on; the
// constructor rejects pipelines whose declarations are not satisfied.
package dispatch

import (
	"log/slog"
	"net/http"

	"github.com/devserve/devserve/pkg/storage"
)

// Context carries per-request capabilities into service handlers. Providers
// fill it in pipeline order before the service runs.
type Context struct {
	// Storage is the public data instance.
	Storage *storage.Instance

	// User is the authenticated user record, nil for guests.
	User storage.Record

	// Token is the raw access token the request carried, if any.
	Token string

	// IsAdmin is set when the request carries the admin marker header.
	IsAdmin bool

	// Users resolves user records from the protected instance.
	Users UserDirectory

	// Access gates and redacts record access for the bound identity.
	Access AccessChecker

	// Flags exposes the runtime flag store.
	Flags FlagStore

	// Log is the request-scoped logger.
	Log *slog.Logger
}

// Service handles all requests under one top-level path segment.
type Service interface {
	// Name is the path segment the service owns.
	Name() string

	// Handle processes one request. A nil result with a nil error becomes
	// a 204 response; any other result is serialized as JSON.
	Handle(ctx *Context, req *Request) (any, error)
}

// Provider decorates the Context with one capability.
type Provider interface {
	// Name identifies the capability this provider supplies.
	Name() string

	// Requires lists capability names that must be decorated first.
	Requires() []string

	// Decorate fills the provider's fields on ctx. Errors abort the
	// request before any service runs.
	Decorate(ctx *Context, r *http.Request) error
}

// UserDirectory gives read access to user records outside the public
// instance. Implementations strip credential material.
type UserDirectory interface {
	UserByID(id string) (storage.Record, error)
}

// AccessChecker applies access rules for the identity bound to the request.
// Actions are "read", "create", "update" and "delete".
type AccessChecker interface {
	// Check returns nil when the action is allowed. record is the existing
	// record (nil for collection-level checks), newData the incoming body.
	Check(action, collection string, record, newData storage.Record) error

	// Redact removes properties the identity may not see or write,
	// mutating the given record in place.
	Redact(action, collection string, record storage.Record)
}

// FlagStore holds named runtime switches.
type FlagStore interface {
	Bool(name string) bool
	Set(name string, value bool)
}

// StorageProvider supplies the public storage instance. It is the usual
// pipeline root, required by every other provider.
type StorageProvider struct {
	instance *storage.Instance
}

// NewStorageProvider creates a provider decorating ctx.Storage.
func NewStorageProvider(instance *storage.Instance) *StorageProvider {
	return &StorageProvider{instance: instance}
}

// Name implements Provider.
func (p *StorageProvider) Name() string { return "storage" }

// Requires implements Provider.
func (p *StorageProvider) Requires() []string { return nil }

// Decorate implements Provider.
func (p *StorageProvider) Decorate(ctx *Context, _ *http.Request) error {
	ctx.Storage = p.instance
	return nil
}
