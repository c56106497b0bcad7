// Package resolver builds an executable GraphQL schema from a schema cache
// snapshot. Every root field is translated into the same request the REST
// surface produces and runs through the engine, so a whole selection tree,
// embedded relationships included, becomes one SQL statement.
package resolver

import (
	"context"
	"log/slog"

	"github.com/graphql-go/graphql"

	"pgrest/internal/apirequest"
	"pgrest/internal/engine"
	"pgrest/internal/naming"
	"pgrest/internal/scalars"
	"pgrest/internal/schemacache"
)

// Runner executes a request against a schema snapshot.
type Runner interface {
	Run(ctx context.Context, cache *schemacache.Cache, req *apirequest.Request, id engine.Identity) (*engine.Outcome, error)
}

// IdentityFunc returns the caller identity stored in a request context.
type IdentityFunc func(ctx context.Context) engine.Identity

// Config configures a Resolver.
type Config struct {
	Runner   Runner
	Identity IdentityFunc
	Naming   naming.Config
	Logger   *slog.Logger
}

// Resolver builds one GraphQL schema for one cache snapshot. Building is
// single-threaded; the finished schema is safe for concurrent execution.
type Resolver struct {
	runner   Runner
	identity IdentityFunc
	cache    *schemacache.Cache
	namer    *naming.Namer
	logger   *slog.Logger

	tables map[schemacache.QualifiedName]*tableInfo
	order  []*tableInfo

	filterTypes    map[string]*graphql.InputObject
	orderDirection *graphql.Enum
	nonNegativeInt *graphql.Scalar
	jsonType       *graphql.Scalar
	bigIntType     *graphql.Scalar
	decimalType    *graphql.Scalar
}

// NewResolver creates a resolver for cache.
func NewResolver(cache *schemacache.Cache, cfg Config) *Resolver {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	identity := cfg.Identity
	if identity == nil {
		identity = func(context.Context) engine.Identity { return engine.Identity{Anonymous: true} }
	}
	return &Resolver{
		runner:         cfg.Runner,
		identity:       identity,
		cache:          cache,
		namer:          naming.New(cfg.Naming, logger),
		logger:         logger,
		tables:         make(map[schemacache.QualifiedName]*tableInfo),
		filterTypes:    make(map[string]*graphql.InputObject),
		nonNegativeInt: scalars.NonNegativeInt(),
		jsonType:       scalars.JSON(),
		bigIntType:     scalars.BigInt(),
		decimalType:    scalars.Decimal(),
	}
}

// BuildGraphQLSchema constructs the schema: a list query per table and
// insert, update and delete mutations where the table allows them.
func (r *Resolver) BuildGraphQLSchema() (graphql.Schema, error) {
	r.namer.Reset()
	r.registerTables()
	r.registerLinks()

	queryFields := graphql.Fields{}
	mutationFields := graphql.Fields{}
	for _, info := range r.order {
		r.addTableQuery(queryFields, info)
		r.addTableMutations(mutationFields, info)
	}

	// GraphQL requires at least one query field.
	if len(queryFields) == 0 {
		queryFields["_schema"] = &graphql.Field{
			Type:        graphql.String,
			Description: "Placeholder field when no tables are exposed",
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				return "No tables exposed", nil
			},
		}
	}

	schemaConfig := graphql.SchemaConfig{
		Query: graphql.NewObject(graphql.ObjectConfig{Name: "Query", Fields: queryFields}),
	}
	if len(mutationFields) > 0 {
		schemaConfig.Mutation = graphql.NewObject(graphql.ObjectConfig{
			Name:   "Mutation",
			Fields: mutationFields,
		})
	}
	return graphql.NewSchema(schemaConfig)
}

func (r *Resolver) addTableQuery(fields graphql.Fields, info *tableInfo) {
	fields[info.queryName] = &graphql.Field{
		Type:        graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(r.objectType(info)))),
		Description: "Rows of " + info.table.QualifiedName().String(),
		Args:        r.listArgs(info),
		Resolve:     r.makeListResolver(info),
	}
}

func (r *Resolver) listArgs(info *tableInfo) graphql.FieldConfigArgument {
	return graphql.FieldConfigArgument{
		"filter":  &graphql.ArgumentConfig{Type: r.filterInput(info)},
		"orderBy": &graphql.ArgumentConfig{Type: graphql.NewList(graphql.NewNonNull(r.orderByInput(info)))},
		"limit":   &graphql.ArgumentConfig{Type: r.nonNegativeInt},
		"offset":  &graphql.ArgumentConfig{Type: r.nonNegativeInt},
	}
}

func (r *Resolver) makeListResolver(info *tableInfo) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (interface{}, error) {
		ctx, span := startResolverSpan(p.Context, "graphql.query", info)
		req, shape, err := r.readRequest(p, info)
		var rows []interface{}
		if err == nil {
			rows, err = r.run(ctx, req, shape)
		}
		finishResolverSpan(span, err, len(rows))
		span.End()
		if err != nil {
			return nil, fieldError(err)
		}
		return rows, nil
	}
}

// run executes req and decodes the JSON body into the maps graphql-go walks.
func (r *Resolver) run(ctx context.Context, req *apirequest.Request, shape *keyShape) ([]interface{}, error) {
	out, err := r.runner.Run(ctx, r.cache, req, r.identity(ctx))
	if err != nil {
		return nil, err
	}
	if out.Result == nil {
		return []interface{}{}, nil
	}
	rows, err := decodeRows(out.Result.Body)
	if err != nil {
		return nil, err
	}
	shape.restore(rows)
	return rows, nil
}
