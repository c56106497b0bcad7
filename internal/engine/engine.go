// Package engine drives one request through the pipeline
// Parsed -> Resolved -> Planned -> Rendered -> Executed -> Shaped.
//
// The engine owns no schema state. Callers pass the schema cache snapshot
// captured at request start, so a concurrent reload never changes the
// catalog under a running request.
package engine

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"pgrest/internal/apierror"
	"pgrest/internal/apirequest"
	"pgrest/internal/dbexec"
	"pgrest/internal/filter"
	"pgrest/internal/logging"
	"pgrest/internal/observability"
	"pgrest/internal/planner"
	"pgrest/internal/resgraph"
	"pgrest/internal/response"
	"pgrest/internal/schemacache"
	"pgrest/internal/sqlbuilder"
)

// Executor runs rendered statements.
type Executor interface {
	Execute(ctx context.Context, stmt *sqlbuilder.Statement, rc dbexec.RoleContext, opts dbexec.Options) (*dbexec.Result, error)
}

// Identity is the authenticated caller.
type Identity struct {
	Role      string
	Claims    []byte
	Anonymous bool
}

// Config configures an Engine.
type Config struct {
	Executor      Executor
	Limits        planner.Limits
	MaxEmbedDepth int
	Metrics       *observability.RequestMetrics
}

// Engine runs requests against a schema snapshot.
type Engine struct {
	executor      Executor
	limits        planner.Limits
	maxEmbedDepth int
	metrics       *observability.RequestMetrics
}

// New creates an engine.
func New(cfg Config) *Engine {
	return &Engine{
		executor:      cfg.Executor,
		limits:        cfg.Limits,
		maxEmbedDepth: cfg.MaxEmbedDepth,
		metrics:       cfg.Metrics,
	}
}

// Outcome is an executed request before shaping.
type Outcome struct {
	Result *dbexec.Result
	Shape  response.Input
	Cost   planner.PlanCost
}

// Handle runs req and shapes the result. Errors are shaped too.
func (e *Engine) Handle(ctx context.Context, cache *schemacache.Cache, req *apirequest.Request, id Identity) *response.Response {
	start := time.Now()
	e.metrics.IncrementActiveRequests(ctx)
	defer e.metrics.DecrementActiveRequests(ctx)

	out, err := e.Run(ctx, cache, req, id)
	var res *response.Response
	if err == nil {
		err = e.stage(ctx, "shape", func(ctx context.Context) error {
			shaped, shapeErr := response.Shape(out.Shape)
			res = shaped
			return shapeErr
		})
	}

	code := ""
	if err != nil {
		res = response.Error(err)
		code = errorCode(err)
		logFailure(ctx, req, err)
	} else if out.Result != nil {
		e.metrics.RecordResultsCount(ctx, out.Result.PageTotal, req.Action.String())
	}
	e.metrics.RecordRequest(ctx, time.Since(start), req.Action.String(), code)
	return res
}

// Run executes req without shaping, for front ends that build their own
// response from the JSON body.
func (e *Engine) Run(ctx context.Context, cache *schemacache.Cache, req *apirequest.Request, id Identity) (*Outcome, error) {
	if cache == nil {
		return nil, apierror.SchemaCacheNotReady()
	}
	schema := req.Schema
	if schema == "" {
		schema = cache.DefaultSchema()
	}
	if !cache.Exposes(schema) {
		return nil, apierror.SchemaNotExposed(schema, cache.Schemas())
	}

	var (
		err  error
		stmt *sqlbuilder.Statement
		out  = &Outcome{Shape: response.Input{
			Action: req.Action,
			Method: req.Method,
			Media:  req.Accept,
			Prefs:  req.Preferences,
			Path:   req.Path,
		}}
		opts = dbexec.Options{
			ReadOnly: req.ReadOnly(),
			Rollback: req.Preferences.Rollback,
		}
	)
	switch {
	case req.Action == apirequest.ActionCall:
		stmt, err = e.prepareCall(ctx, cache, schema, req, out, &opts)
	case req.Action.IsMutation():
		stmt, err = e.prepareMutation(ctx, cache, schema, req, out)
	default:
		stmt, err = e.prepareRead(ctx, cache, schema, req, out)
	}
	if err != nil {
		return nil, err
	}
	if req.Accept == apirequest.MediaSingularJSON && !out.Shape.Scalar && !out.Shape.Void {
		opts.Singular = true
	}

	e.metrics.RecordEmbedDepth(ctx, int64(out.Cost.Depth), req.Action.String())
	meta := observability.RequestMeta{
		Action:     req.Action.String(),
		Resource:   req.Resource,
		Schema:     schema,
		Role:       id.Role,
		EmbedDepth: out.Cost.Depth,
		Embeds:     out.Cost.Embeds,
	}
	logging.FromContext(ctx).Debug("executing statement",
		append(observability.RequestLogFields(ctx, meta), slog.String("sql", stmt.Main.SQL))...)

	rc := dbexec.RoleContext{
		Role:      id.Role,
		Claims:    id.Claims,
		Method:    req.Method,
		Path:      req.Path,
		Anonymous: id.Anonymous,
	}
	err = e.stage(ctx, "execute", func(ctx context.Context) error {
		res, err := e.executor.Execute(ctx, stmt, rc, opts)
		out.Result = res
		return err
	})
	if err != nil {
		return nil, err
	}
	out.Shape.Result = out.Result
	return out, nil
}

// parse turns filter parameters into one tree, combined with any tree a
// non-REST front end supplied.
func (e *Engine) parse(ctx context.Context, params []filter.Param, extra filter.Node) (filter.Node, error) {
	var where filter.Node
	err := e.stage(ctx, "parse", func(ctx context.Context) error {
		parsed, err := filter.ParseFilters(params)
		if err != nil {
			return err
		}
		where = filter.NewAnd(parsed, extra)
		return nil
	})
	return where, err
}

func (e *Engine) resolve(ctx context.Context, cache *schemacache.Cache, table *schemacache.Table, in resgraph.Input) (*resgraph.ResourceNode, error) {
	var node *resgraph.ResourceNode
	err := e.stage(ctx, "resolve", func(ctx context.Context) error {
		var err error
		node, err = resgraph.ResolveTable(cache, table, in, resgraph.Options{MaxDepth: e.maxEmbedDepth})
		return err
	})
	return node, err
}

func (e *Engine) render(ctx context.Context, plan interface{}) (*sqlbuilder.Statement, error) {
	var stmt *sqlbuilder.Statement
	err := e.stage(ctx, "render", func(ctx context.Context) error {
		var err error
		stmt, err = sqlbuilder.Render(plan)
		return err
	})
	return stmt, err
}

func (e *Engine) prepareRead(ctx context.Context, cache *schemacache.Cache, schema string, req *apirequest.Request, out *Outcome) (*sqlbuilder.Statement, error) {
	table, err := cache.LookupTable(schema, req.Resource)
	if err != nil {
		return nil, err
	}
	where, err := e.parse(ctx, req.Filters, req.Where)
	if err != nil {
		return nil, err
	}
	node, err := e.resolve(ctx, cache, table, inputFor(schema, req, where))
	if err != nil {
		return nil, err
	}

	var plan *planner.ReadPlan
	err = e.stage(ctx, "plan", func(ctx context.Context) error {
		plan, err = planner.PlanRead(node, req.Preferences, e.limits)
		return err
	})
	if err != nil {
		return nil, err
	}
	out.Cost = plan.Cost
	out.Shape.Columns = plan.Root.OutputNames()
	out.Shape.Offset = offsetOf(plan.Root)
	return e.render(ctx, plan)
}

func (e *Engine) prepareMutation(ctx context.Context, cache *schemacache.Cache, schema string, req *apirequest.Request, out *Outcome) (*sqlbuilder.Statement, error) {
	table, err := cache.LookupTable(schema, req.Resource)
	if err != nil {
		return nil, err
	}
	where, err := e.parse(ctx, req.Filters, req.Where)
	if err != nil {
		return nil, err
	}
	in := inputFor(schema, req, where)
	if req.Action == apirequest.ActionInsert || req.Action == apirequest.ActionUpsert {
		in.Filter = nil
	}
	node, err := e.resolve(ctx, cache, table, in)
	if err != nil {
		return nil, err
	}

	var plan *planner.MutatePlan
	err = e.stage(ctx, "plan", func(ctx context.Context) error {
		plan, err = planner.PlanMutate(planner.MutateInput{
			Action:     req.Action,
			Table:      table,
			Payload:    req.Payload,
			Returning:  node,
			OnConflict: req.OnConflict,
			Prefs:      req.Preferences,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	out.Cost = planner.EstimateCost(plan.Returning, e.limits)
	out.Shape.Columns = plan.Returning.OutputNames()
	out.Shape.Table = table
	return e.render(ctx, plan)
}

func (e *Engine) prepareCall(ctx context.Context, cache *schemacache.Cache, schema string, req *apirequest.Request, out *Outcome, opts *dbexec.Options) (*sqlbuilder.Statement, error) {
	routine, err := cache.LookupRoutine(schema, req.Resource)
	if err != nil {
		return nil, err
	}

	args, filters, err := callArguments(routine, req)
	if err != nil {
		return nil, err
	}
	where, err := e.parse(ctx, filters, req.Where)
	if err != nil {
		return nil, err
	}

	var result *resgraph.ResourceNode
	if table, ok := cache.ReturnTable(routine); ok {
		result, err = e.resolve(ctx, cache, table, inputFor(schema, req, where))
		if err != nil {
			return nil, err
		}
	} else if where != nil {
		return nil, apierror.FilterSyntax("Function '%s' does not return rows that can be filtered", routine.Name)
	}

	var plan *planner.CallPlan
	err = e.stage(ctx, "plan", func(ctx context.Context) error {
		plan, err = planner.PlanCall(planner.CallInput{
			Routine:         routine,
			Args:            args,
			Result:          result,
			ReadOnlyRequest: req.ReadOnly(),
			Prefs:           req.Preferences,
		}, e.limits)
		return err
	})
	if err != nil {
		return nil, err
	}

	opts.ReadOnly = plan.ReadOnly
	out.Shape.Scalar = plan.Scalar && !plan.SetReturning
	out.Shape.Void = plan.Void
	if plan.Result != nil {
		out.Cost = planner.EstimateCost(plan.Result, e.limits)
		out.Shape.Columns = plan.Result.OutputNames()
		out.Shape.Offset = offsetOf(plan.Result)
	}
	return e.render(ctx, plan)
}

// callArguments splits the request into routine arguments and result
// filters. GET passes arguments as query parameters named after routine
// parameters; POST passes them as a JSON object.
func callArguments(routine *schemacache.Routine, req *apirequest.Request) (map[string]interface{}, []filter.Param, error) {
	args := make(map[string]interface{})
	var filters []filter.Param

	for _, p := range req.Filters {
		if !strings.Contains(p.Key, ".") && !filter.IsLogicKey(p.Key) {
			if _, ok := routine.Parameter(p.Key); ok && req.ReadOnly() {
				args[p.Key] = p.Value
				continue
			}
		}
		filters = append(filters, p)
	}

	if req.Payload != nil && len(req.Payload.Rows) > 0 {
		if req.Payload.IsArray {
			return nil, nil, apierror.InvalidBody("Function arguments must be a JSON object")
		}
		for k, v := range req.Payload.Rows[0] {
			args[k] = v
		}
	}
	return args, filters, nil
}

func inputFor(schema string, req *apirequest.Request, where filter.Node) resgraph.Input {
	return resgraph.Input{
		Schema: schema,
		Root:   req.Resource,
		Select: req.Select,
		Filter: where,
		Order:  req.Order,
		Limit:  req.Limit,
		Offset: req.Offset,
		Embeds: req.Embeds,
	}
}

func offsetOf(n *planner.Node) int {
	if n == nil || n.Offset == nil {
		return 0
	}
	return *n.Offset
}

func errorCode(err error) string {
	if apiErr, ok := apierror.As(err); ok {
		return apiErr.Code
	}
	return apierror.CodeInternal
}

func logFailure(ctx context.Context, req *apirequest.Request, err error) {
	logger := logging.FromContext(ctx)
	status, body := apierror.Describe(err)
	fields := []any{
		slog.String("action", req.Action.String()),
		slog.String("resource", req.Resource),
		slog.String("code", body.Code),
		slog.Int("status", status),
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", append(fields, slog.String("error", err.Error()))...)
		return
	}
	logger.Debug("request rejected", append(fields, slog.String("error", err.Error()))...)
}
