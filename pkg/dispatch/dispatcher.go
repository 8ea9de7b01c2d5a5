package dispatch

import (
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/devserve/devserve/pkg/httputil"
	"github.com/devserve/devserve/pkg/resterr"
)

// CORS header values sent on preflight requests.
const (
	corsMethods = "GET, POST, PUT, DELETE, OPTIONS"
	corsHeaders = "X-Requested-With, X-HTTP-Method-Override, Content-Type, Accept, X-Authorization, X-Admin"
	corsMaxAge  = "86400"
)

// Config configures a Dispatcher.
type Config struct {
	// Providers decorate the per-request Context, in order. Each
	// provider's Requires must be satisfied by earlier entries.
	Providers []Provider

	// Services are the registered request handlers.
	Services []Service

	// Flags, when set, is consulted for the "throttle" flag before every
	// response write.
	Flags FlagStore

	// Delay produces the throttle sleep duration. Defaults to a uniform
	// 500-1000ms.
	Delay func() time.Duration

	// Logger receives request lines and fault details. Defaults to a
	// no-op logger.
	Logger *slog.Logger
}

// Dispatcher routes requests to services. It implements http.Handler.
type Dispatcher struct {
	providers []Provider
	services  map[string]Service
	flags     FlagStore
	delay     func() time.Duration
	log       *slog.Logger
}

// New validates the provider pipeline and builds a Dispatcher.
func New(cfg Config) (*Dispatcher, error) {
	seen := make(map[string]bool, len(cfg.Providers))
	for _, p := range cfg.Providers {
		if seen[p.Name()] {
			return nil, fmt.Errorf("duplicate provider %q", p.Name())
		}
		for _, dep := range p.Requires() {
			if !seen[dep] {
				return nil, fmt.Errorf("provider %q requires %q, which is not decorated before it", p.Name(), dep)
			}
		}
		seen[p.Name()] = true
	}

	services := make(map[string]Service, len(cfg.Services))
	for _, svc := range cfg.Services {
		if _, ok := services[svc.Name()]; ok {
			return nil, fmt.Errorf("duplicate service %q", svc.Name())
		}
		services[svc.Name()] = svc
	}

	delay := cfg.Delay
	if delay == nil {
		delay = randomDelay
	}
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Dispatcher{
		providers: cfg.Providers,
		services:  services,
		flags:     cfg.Flags,
		delay:     delay,
		log:       log,
	}, nil
}

// ServeHTTP implements http.Handler.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")

	if r.Method == http.MethodOptions {
		d.throttle()
		w.Header().Set("Access-Control-Allow-Methods", corsMethods)
		w.Header().Set("Access-Control-Allow-Headers", corsHeaders)
		w.Header().Set("Access-Control-Allow-Credentials", "false")
		w.Header().Set("Access-Control-Max-Age", corsMaxAge)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	result, err := d.handle(r)

	d.throttle()
	switch {
	case err != nil:
		status, env := resterr.Map(err)
		if status == http.StatusInternalServerError {
			d.log.Error("unexpected fault", "method", r.Method, "path", r.URL.Path, "error", err)
		}
		_ = httputil.WriteJSON(w, status, env)
		d.logRequest(r, status)
	case result == nil:
		httputil.WriteNoContent(w)
		d.logRequest(r, http.StatusNoContent)
	default:
		_ = httputil.WriteJSON(w, http.StatusOK, result)
		d.logRequest(r, http.StatusOK)
	}
}

func (d *Dispatcher) handle(r *http.Request) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			result, err = nil, fmt.Errorf("panic in service handler: %v", rec)
		}
	}()

	req, err := ParseRequest(r)
	if err != nil {
		return nil, &resterr.RequestError{Message: "Error parsing request body"}
	}

	svc, ok := d.services[req.Service]
	if !ok {
		return nil, &resterr.RequestError{Message: fmt.Sprintf("Service %q is not supported", req.Service)}
	}

	ctx := &Context{Log: d.log}
	for _, p := range d.providers {
		if err := p.Decorate(ctx, r); err != nil {
			return nil, err
		}
	}

	return svc.Handle(ctx, req)
}

// throttle sleeps when the throttle flag is on. It runs before any response
// write so that clients see realistic latency on every path.
func (d *Dispatcher) throttle() {
	if d.flags != nil && d.flags.Bool("throttle") {
		time.Sleep(d.delay())
	}
}

func (d *Dispatcher) logRequest(r *http.Request, status int) {
	d.log.Info("request", "method", r.Method, "path", r.URL.Path, "status", status)
}

func randomDelay() time.Duration {
	return 500*time.Millisecond + time.Duration(rand.Int63n(int64(500*time.Millisecond)))
}
