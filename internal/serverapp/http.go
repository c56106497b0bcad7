package serverapp

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"pgrest/internal/config"
	"pgrest/internal/dbexec"
	"pgrest/internal/engine"
	"pgrest/internal/logging"
	"pgrest/internal/middleware"
	"pgrest/internal/planner"
	"pgrest/internal/restapi"
	"pgrest/internal/schemacache"
	"pgrest/internal/schemarefresh"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const adminReloadTimeout = 15 * time.Second

func buildEngine(cfg *config.Config, db *sql.DB, t telemetry) (*engine.Engine, error) {
	mode, err := planner.ParseMaxRowsMode(cfg.API.MaxRowsMode)
	if err != nil {
		return nil, err
	}
	executor := dbexec.NewExecutor(dbexec.Config{
		DB:               db,
		PoolTimeout:      cfg.Database.Pool.AcquireTimeout,
		StatementTimeout: cfg.API.StatementTimeout,
		AllowedRoles:     cfg.Auth.AllowedRoles,
	})
	return engine.New(engine.Config{
		Executor:      executor,
		Limits:        planner.Limits{MaxRows: cfg.API.MaxRows, MaxRowsMode: mode},
		MaxEmbedDepth: cfg.API.MaxEmbedDepth,
		Metrics:       t.requests,
	}), nil
}

func startSchemaManager(ctx context.Context, cfg *config.Config, logger *logging.Logger, db *sql.DB, eng *engine.Engine, t telemetry) (*schemarefresh.Manager, context.CancelFunc, error) {
	var listener schemarefresh.Listener
	if cfg.SchemaRefresh.NotifyChannel != "" {
		listener = &schemarefresh.PGListener{ConnString: cfg.Database.DSN()}
	}

	manager, err := schemarefresh.NewManager(ctx, schemarefresh.Config{
		DB:            db,
		Schemas:       cfg.API.Schemas,
		Logger:        logger,
		Metrics:       t.schemaRefresh,
		MinInterval:   cfg.SchemaRefresh.MinInterval,
		MaxInterval:   cfg.SchemaRefresh.MaxInterval,
		Listener:      listener,
		NotifyChannel: cfg.SchemaRefresh.NotifyChannel,
		GraphQL:       cfg.Server.GraphQLEnabled,
		GraphiQL:      cfg.Server.GraphiQLEnabled,
		Runner:        eng,
		Identity:      restapi.IdentityFromContext,
		Naming:        cfg.Naming,
	})
	if err != nil {
		return nil, nil, err
	}

	schemaCtx, schemaCancel := context.WithCancel(context.Background())
	manager.Start(schemaCtx)
	return manager, schemaCancel, nil
}

func jwtAuthConfig(cfg *config.Config) middleware.JWTAuthConfig {
	return middleware.JWTAuthConfig{
		Secret:    cfg.Auth.JWTSecret,
		Audience:  cfg.Auth.JWTAudience,
		RoleClaim: cfg.Auth.RoleClaim,
		AnonRole:  cfg.API.AnonRole,
		ClockSkew: cfg.Auth.ClockSkew,
	}
}

// buildRouter wires the endpoints. Auth wraps the API routes only; health,
// metrics and the token-guarded admin route stay outside it.
func buildRouter(cfg *config.Config, logger *logging.Logger, db *sql.DB, eng *engine.Engine, manager *schemarefresh.Manager, t telemetry) (http.Handler, error) {
	if cfg.Auth.JWTSecret == "" {
		logger.Warn("no JWT secret configured; every request runs as the anonymous role",
			slog.String("anon_role", cfg.API.AnonRole))
	}

	routerCfg := restapi.Config{
		Engine: eng,
		Cache: func() *schemacache.Cache {
			if snapshot := manager.Current(); snapshot != nil {
				return snapshot.Cache
			}
			return nil
		},
		Auth: middleware.JWTAuthMiddleware(jwtAuthConfig(cfg), t.security),
		Health: restapi.HealthHandler(db, func() bool { return manager.Current() != nil },
			cfg.Server.HealthCheckTimeout),
	}

	if cfg.Server.GraphQLEnabled {
		routerCfg.GraphQL = middleware.GraphQLMiddleware(t.requests)(manager.GraphQLHandler())
		logger.Info("GraphQL endpoint enabled",
			slog.String("path", "/graphql"),
			slog.Bool("graphiql", cfg.Server.GraphiQLEnabled))
	}

	if cfg.Server.Admin.SchemaReloadEnabled {
		guard, err := middleware.AdminTokenAuthMiddleware(middleware.AdminTokenAuthConfig{
			Token:     cfg.Server.Admin.AuthToken,
			Operation: "reload_schema",
		}, t.security)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize admin authentication: %w", err)
		}
		routerCfg.Admin = guard(restapi.SchemaReloadHandler(manager, adminReloadTimeout))
		logger.Info("admin schema reload endpoint enabled", slog.String("path", "/admin/reload-schema"))
	}

	if t.meterProvider != nil {
		routerCfg.Metrics = promhttp.Handler()
		logger.Info("metrics endpoint enabled", slog.String("path", "/metrics"))
	}

	return restapi.NewRouter(routerCfg), nil
}

// wrapHTTPHandler applies the outer middleware. Request order is
// CORS -> otelhttp -> logging -> router.
func wrapHTTPHandler(cfg *config.Config, logger *logging.Logger, handler http.Handler) http.Handler {
	handler = middleware.LoggingMiddleware(logger, "/health", "/metrics")(handler)

	if cfg.Observability.MetricsEnabled || cfg.Observability.TracingEnabled {
		handler = otelhttp.NewHandler(handler, "http.server",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return httpRootSpanName(r)
			}),
			otelhttp.WithMessageEvents(otelhttp.ReadEvents, otelhttp.WriteEvents),
		)
		logger.Info("HTTP instrumentation enabled")
	}

	if cfg.Server.CORSEnabled {
		handler = middleware.CORSMiddleware(middleware.CORSConfig{
			Enabled:          cfg.Server.CORSEnabled,
			AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
			AllowedMethods:   cfg.Server.CORSAllowedMethods,
			AllowedHeaders:   cfg.Server.CORSAllowedHeaders,
			ExposeHeaders:    cfg.Server.CORSExposeHeaders,
			AllowCredentials: cfg.Server.CORSAllowCredentials,
			MaxAge:           cfg.Server.CORSMaxAge,
		})(handler)
	}
	return handler
}

func httpRootSpanName(r *http.Request) string {
	if r == nil {
		return "HTTP /*"
	}
	method := strings.TrimSpace(r.Method)
	if method == "" {
		method = "HTTP"
	}
	return method + " " + normalizeHTTPSpanRoute(r.URL.Path)
}

// normalizeHTTPSpanRoute keeps span names low-cardinality: table and routine
// names collapse into their route pattern.
func normalizeHTTPSpanRoute(rawPath string) string {
	switch {
	case rawPath == "/", rawPath == "/graphql", rawPath == "/health",
		rawPath == "/metrics", rawPath == "/admin/reload-schema":
		return rawPath
	case strings.HasPrefix(rawPath, "/rpc/") && strings.Count(rawPath, "/") == 2:
		return "/rpc/{function}"
	case strings.HasPrefix(rawPath, "/") && len(rawPath) > 1 && strings.Count(rawPath, "/") == 1:
		return "/{table}"
	default:
		return "/*"
	}
}

func buildServer(cfg *config.Config, handler http.Handler, serverAddr string) *http.Server {
	return &http.Server{
		Addr:         serverAddr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}

func startServer(cfg *config.Config, logger *logging.Logger, srv *http.Server) chan error {
	serverErrors := make(chan error, 1)
	go func() {
		logAttrs := []any{
			slog.String("address", srv.Addr),
			slog.Any("schemas", cfg.API.Schemas),
			slog.String("health_endpoint", "/health"),
			slog.Int("max_rows", cfg.API.MaxRows),
			slog.String("log_level", cfg.Observability.Logging.Level),
		}
		if cfg.Server.GraphQLEnabled {
			logAttrs = append(logAttrs, slog.String("graphql_endpoint", "/graphql"))
		}
		if cfg.Observability.MetricsEnabled {
			logAttrs = append(logAttrs, slog.String("metrics_endpoint", "/metrics"))
		}
		logger.Info("server starting", logAttrs...)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- fmt.Errorf("server failed: %w", err)
		}
	}()
	return serverErrors
}
