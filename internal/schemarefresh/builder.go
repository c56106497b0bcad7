package schemarefresh

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"pgrest/internal/naming"
	"pgrest/internal/resolver"
	"pgrest/internal/schemacache"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/handler"
)

// Snapshot is an immutable view of the schema. Requests capture one snapshot
// and use it for their whole lifetime.
type Snapshot struct {
	Cache *schemacache.Cache
	// GraphQL and Handler are nil when the GraphQL endpoint is disabled.
	GraphQL     *graphql.Schema
	Handler     http.Handler
	BuiltAt     time.Time
	Fingerprint string
	Components  map[string]string
}

// BuildConfig defines inputs for snapshot assembly.
type BuildConfig struct {
	Cache    *schemacache.Cache
	GraphQL  bool
	GraphiQL bool
	Runner   resolver.Runner
	Identity resolver.IdentityFunc
	Naming   naming.Config
	Logger   *slog.Logger
}

// BuildSnapshot derives the GraphQL schema and handler for a loaded cache.
func BuildSnapshot(cfg BuildConfig) (*Snapshot, error) {
	if cfg.Cache == nil {
		return nil, fmt.Errorf("snapshot builder requires a schema cache")
	}
	snapshot := &Snapshot{Cache: cfg.Cache, BuiltAt: time.Now()}
	if !cfg.GraphQL {
		return snapshot, nil
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("snapshot builder requires a runner for GraphQL")
	}

	res := resolver.NewResolver(cfg.Cache, resolver.Config{
		Runner:   cfg.Runner,
		Identity: cfg.Identity,
		Naming:   cfg.Naming,
		Logger:   cfg.Logger,
	})
	schema, err := res.BuildGraphQLSchema()
	if err != nil {
		return nil, fmt.Errorf("failed to build GraphQL schema: %w", err)
	}

	snapshot.GraphQL = &schema
	snapshot.Handler = handler.New(&handler.Config{
		Schema:   &schema,
		Pretty:   true,
		GraphiQL: cfg.GraphiQL,
	})
	return snapshot, nil
}
