// Package restapi routes HTTP requests onto the engine: tables at /{table},
// routines at /rpc/{function}, plus the GraphQL, health, admin and metrics
// endpoints.
package restapi

import (
	"context"
	"net/http"

	"pgrest/internal/apierror"
	"pgrest/internal/apirequest"
	"pgrest/internal/engine"
	"pgrest/internal/response"
	"pgrest/internal/schemacache"

	"github.com/go-chi/chi/v5"
)

// Engine runs a parsed request against a schema snapshot.
type Engine interface {
	Handle(ctx context.Context, cache *schemacache.Cache, req *apirequest.Request, id engine.Identity) *response.Response
}

// Config assembles the router. Nil handlers leave their route unregistered.
type Config struct {
	Engine Engine
	// Cache returns the snapshot a request uses for its whole lifetime.
	Cache func() *schemacache.Cache
	// Auth wraps every API route, REST and GraphQL alike.
	Auth func(http.Handler) http.Handler

	GraphQL http.Handler
	Health  http.Handler
	Admin   http.Handler
	Metrics http.Handler
}

var tableMethods = []string{
	http.MethodGet, http.MethodHead, http.MethodPost,
	http.MethodPatch, http.MethodPut, http.MethodDelete,
}

var routineMethods = []string{http.MethodGet, http.MethodHead, http.MethodPost}

// NewRouter builds the HTTP route table.
func NewRouter(cfg Config) http.Handler {
	h := &handlers{engine: cfg.Engine, cache: cfg.Cache}

	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(apierror.InvalidRequest(http.StatusNotFound, "Not found")).Write(w)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		response.Error(apierror.InvalidRequest(http.StatusMethodNotAllowed, "Method %s is not allowed", req.Method)).Write(w)
	})

	if cfg.Health != nil {
		r.Method(http.MethodGet, "/health", cfg.Health)
		r.Method(http.MethodHead, "/health", cfg.Health)
	}
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}
	if cfg.Admin != nil {
		r.Method(http.MethodPost, "/admin/reload-schema", cfg.Admin)
	}

	r.Group(func(api chi.Router) {
		if cfg.Auth != nil {
			api.Use(cfg.Auth)
		}
		if cfg.GraphQL != nil {
			api.Handle("/graphql", cfg.GraphQL)
		}
		for _, method := range routineMethods {
			api.MethodFunc(method, "/rpc/{function}", h.routine)
		}
		for _, method := range tableMethods {
			api.MethodFunc(method, "/{table}", h.table)
		}
	})

	if cfg.GraphQL != nil {
		r.Get("/", func(w http.ResponseWriter, req *http.Request) {
			http.Redirect(w, req, "/graphql", http.StatusFound)
		})
	}
	return r
}
