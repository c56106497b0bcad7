package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"pgrest/internal/logging"
	"pgrest/internal/observability"

	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/parser"
	"github.com/graphql-go/graphql/language/source"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type graphQLEnvelope struct {
	Query         string `json:"query"`
	OperationName string `json:"operationName"`
}

// operationShape summarizes the operation a GraphQL request will execute.
type operationShape struct {
	name      string
	kind      string
	fields    int
	depth     int
	variables int
}

// GraphQLMiddleware instruments /graphql: one span per operation, operation
// fields on the request logger and request metrics labelled graphql.<kind>.
// GraphiQL page loads pass through untouched.
func GraphQLMiddleware(metrics *observability.RequestMetrics) func(http.Handler) http.Handler {
	tracer := otel.Tracer("pgrest/graphql")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			query, operationName := readGraphQLEnvelope(r)
			if strings.TrimSpace(query) == "" {
				next.ServeHTTP(w, r)
				return
			}
			shape := analyzeOperation(query, operationName)

			ctx, span := tracer.Start(r.Context(), "graphql.execute")
			defer span.End()
			span.SetAttributes(
				attribute.String("graphql.operation.type", shape.kind),
				attribute.String("graphql.operation.name", shape.name),
				attribute.Int("graphql.document.fields", shape.fields),
				attribute.Int("graphql.document.depth", shape.depth),
				attribute.Int("graphql.document.variables", shape.variables),
			)

			fields := []any{slog.String("graphql_operation_type", shape.kind)}
			if shape.name != "" {
				fields = append(fields, slog.String("graphql_operation_name", shape.name))
			}
			if spanCtx := span.SpanContext(); spanCtx.IsValid() {
				fields = append(fields, slog.String("trace_id", spanCtx.TraceID().String()))
			}
			ctx = logging.WithLogger(ctx, logging.FromContext(ctx).WithFields(fields...))

			metrics.IncrementActiveRequests(ctx)
			defer metrics.DecrementActiveRequests(ctx)

			start := time.Now()
			capture := &captureWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(capture, r.WithContext(ctx))

			code := graphQLErrorCode(capture.statusCode, capture.body.Bytes())
			if code != "" {
				span.SetStatus(codes.Error, code)
				span.SetAttributes(attribute.String("error.code", code))
			}
			metrics.RecordRequest(ctx, time.Since(start), "graphql."+shape.kind, code)
		})
	}
}

// readGraphQLEnvelope extracts the query and operation name, restoring the body
// for the downstream handler.
func readGraphQLEnvelope(r *http.Request) (string, string) {
	switch r.Method {
	case http.MethodGet:
		return r.URL.Query().Get("query"), r.URL.Query().Get("operationName")
	case http.MethodPost:
	default:
		return "", ""
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return "", ""
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	if strings.Contains(r.Header.Get("Content-Type"), "application/graphql") {
		return string(body), ""
	}
	var env graphQLEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", ""
	}
	return env.Query, env.OperationName
}

func analyzeOperation(query, operationName string) operationShape {
	shape := operationShape{name: operationName, kind: "unknown"}
	doc, err := parser.Parse(parser.ParseParams{
		Source: source.NewSource(&source.Source{Body: []byte(query), Name: "graphql"}),
	})
	if err != nil {
		shape.kind = "invalid"
		return shape
	}

	fragments := make(map[string]*ast.FragmentDefinition)
	var target *ast.OperationDefinition
	for _, def := range doc.Definitions {
		switch d := def.(type) {
		case *ast.FragmentDefinition:
			fragments[d.Name.Value] = d
		case *ast.OperationDefinition:
			named := d.Name != nil && d.Name.Value == operationName
			if target == nil && operationName == "" || named {
				target = d
			}
		}
	}
	if target == nil {
		return shape
	}

	shape.kind = string(target.Operation)
	shape.variables = len(target.VariableDefinitions)
	if target.Name != nil {
		shape.name = target.Name.Value
	}
	shape.fields, shape.depth = countSelections(target.SelectionSet, fragments, 1, map[string]bool{})
	return shape
}

// countSelections returns the field count and maximum depth of a selection
// set. Each fragment is expanded once.
func countSelections(set *ast.SelectionSet, fragments map[string]*ast.FragmentDefinition, depth int, expanded map[string]bool) (int, int) {
	if set == nil {
		return 0, depth - 1
	}
	fields, maxDepth := 0, depth
	merge := func(n, d int) {
		fields += n
		if d > maxDepth {
			maxDepth = d
		}
	}

	for _, selection := range set.Selections {
		switch sel := selection.(type) {
		case *ast.Field:
			fields++
			if sel.SelectionSet != nil {
				merge(countSelections(sel.SelectionSet, fragments, depth+1, expanded))
			}
		case *ast.InlineFragment:
			merge(countSelections(sel.SelectionSet, fragments, depth, expanded))
		case *ast.FragmentSpread:
			name := sel.Name.Value
			if expanded[name] {
				continue
			}
			expanded[name] = true
			if frag, ok := fragments[name]; ok {
				merge(countSelections(frag.SelectionSet, fragments, depth, expanded))
			}
		}
	}
	return fields, maxDepth
}

// graphQLErrorCode returns the first error's extensions.code, "graphql" for
// errors without one, or "" for a clean response.
func graphQLErrorCode(status int, body []byte) string {
	var payload struct {
		Errors []struct {
			Extensions struct {
				Code string `json:"code"`
			} `json:"extensions"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(body), &payload); err != nil || len(payload.Errors) == 0 {
		if status >= 400 {
			return "http_" + strconv.Itoa(status)
		}
		return ""
	}
	if code := payload.Errors[0].Extensions.Code; code != "" {
		return code
	}
	return "graphql"
}

// captureWriter tees the response body so errors can be classified.
type captureWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
	body       bytes.Buffer
}

func (w *captureWriter) WriteHeader(statusCode int) {
	if w.written {
		return
	}
	w.statusCode = statusCode
	w.written = true
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *captureWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	_, _ = w.body.Write(b)
	return w.ResponseWriter.Write(b)
}
