package restapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"pgrest/internal/logging"
	"pgrest/internal/middleware"
)

// Pinger checks database reachability.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Reloader forces a schema rebuild.
type Reloader interface {
	RefreshNow(ctx context.Context, trigger string) error
}

type healthStatus struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Schema   string `json:"schema"`
}

// HealthHandler reports healthy when the database answers a ping within
// timeout and a schema snapshot has been published.
func HealthHandler(db Pinger, schemaReady func() bool, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := logging.FromContext(r.Context())

		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		status := healthStatus{Status: "healthy", Database: "ok", Schema: "ok"}
		code := http.StatusOK
		if err := db.PingContext(ctx); err != nil {
			reqLogger.Error("health check failed",
				slog.String("error", err.Error()),
				slog.String("check", "database"),
			)
			status.Status, status.Database, code = "unhealthy", "failed", http.StatusServiceUnavailable
		}
		if schemaReady != nil && !schemaReady() {
			reqLogger.Warn("health check failed", slog.String("check", "schema"))
			status.Status, status.Schema, code = "unhealthy", "loading", http.StatusServiceUnavailable
		}
		if code == http.StatusOK {
			reqLogger.Debug("health check passed")
		}
		writeJSON(w, code, status)
	}
}

// SchemaReloadHandler rebuilds the schema snapshot on demand. Failures keep
// the previous snapshot and surface as 500 without internal detail.
func SchemaReloadHandler(reloader Reloader, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := logging.FromContext(r.Context())

		logAttrs := []any{
			slog.String("operation", "schema_reload"),
			slog.String("remote_addr", r.RemoteAddr),
		}
		if auth, ok := middleware.AuthFromContext(r.Context()); ok {
			logAttrs = append(logAttrs, slog.String("authenticated_user", auth.Subject))
		}
		reqLogger.Info("admin endpoint accessed", logAttrs...)

		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		if err := reloader.RefreshNow(ctx, "admin"); err != nil {
			reqLogger.Error("schema reload failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"status":  "error",
				"message": "schema reload failed",
			})
			return
		}

		reqLogger.Info("schema reloaded", logAttrs...)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
