package restapi

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"

	"pgrest/internal/apierror"
	"pgrest/internal/apirequest"
	"pgrest/internal/engine"
	"pgrest/internal/logging"
	"pgrest/internal/middleware"
	"pgrest/internal/response"
	"pgrest/internal/schemacache"

	"github.com/go-chi/chi/v5"
)

type handlers struct {
	engine Engine
	cache  func() *schemacache.Cache
}

func (h *handlers) table(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "table", false)
}

func (h *handlers) routine(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "function", true)
}

func (h *handlers) serve(w http.ResponseWriter, r *http.Request, param string, rpc bool) {
	// Capture the snapshot first so parsing and execution see the same schema.
	var cache *schemacache.Cache
	if h.cache != nil {
		cache = h.cache()
	}

	resource, err := url.PathUnescape(chi.URLParam(r, param))
	if err != nil || resource == "" {
		response.Error(apierror.InvalidRequest(http.StatusNotFound, "Not found")).Write(w)
		return
	}

	req, err := apirequest.Parse(r, resource, rpc)
	if err != nil {
		logging.FromContext(r.Context()).Debug("request rejected during parsing",
			slog.String("resource", resource),
			slog.String("error", err.Error()),
		)
		response.Error(err).Write(w)
		return
	}
	h.engine.Handle(r.Context(), cache, req, IdentityFromContext(r.Context())).Write(w)
}

// IdentityFromContext converts the verified caller into an engine identity.
// A request that never passed the auth middleware is anonymous with no role.
func IdentityFromContext(ctx context.Context) engine.Identity {
	auth, ok := middleware.AuthFromContext(ctx)
	if !ok {
		return engine.Identity{Claims: []byte("{}"), Anonymous: true}
	}
	claims := auth.RawClaims
	if len(claims) == 0 {
		claims = []byte("{}")
	}
	return engine.Identity{Role: auth.Role, Claims: claims, Anonymous: auth.Anonymous}
}
