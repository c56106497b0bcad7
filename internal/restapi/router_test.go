package restapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pgrest/internal/apirequest"
	"pgrest/internal/dbexec"
	"pgrest/internal/engine"
	"pgrest/internal/middleware"
	"pgrest/internal/response"
	"pgrest/internal/schemacache"
	"pgrest/internal/testutil"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingEngine struct {
	req   *apirequest.Request
	id    engine.Identity
	cache *schemacache.Cache
}

func (e *recordingEngine) Handle(_ context.Context, cache *schemacache.Cache, req *apirequest.Request, id engine.Identity) *response.Response {
	e.req, e.id, e.cache = req, id, cache
	return &response.Response{Status: http.StatusOK, Headers: http.Header{}, Body: []byte("[]")}
}

func TestRouter_Routes(t *testing.T) {
	tests := []struct {
		name         string
		method       string
		target       string
		body         string
		wantStatus   int
		wantResource string
		wantAction   apirequest.Action
		wantHandled  bool
	}{
		{name: "read table", method: http.MethodGet, target: "/products", wantStatus: http.StatusOK, wantResource: "products", wantAction: apirequest.ActionRead, wantHandled: true},
		{name: "head table", method: http.MethodHead, target: "/products", wantStatus: http.StatusOK, wantResource: "products", wantAction: apirequest.ActionRead, wantHandled: true},
		{name: "insert", method: http.MethodPost, target: "/products", body: `{"name":"tea"}`, wantStatus: http.StatusOK, wantResource: "products", wantAction: apirequest.ActionInsert, wantHandled: true},
		{name: "upsert", method: http.MethodPut, target: "/products?id=eq.1", body: `{"id":1,"name":"tea"}`, wantStatus: http.StatusOK, wantResource: "products", wantAction: apirequest.ActionUpsert, wantHandled: true},
		{name: "update", method: http.MethodPatch, target: "/products?id=eq.1", body: `{"name":"tea"}`, wantStatus: http.StatusOK, wantResource: "products", wantAction: apirequest.ActionUpdate, wantHandled: true},
		{name: "delete", method: http.MethodDelete, target: "/products?id=eq.1", wantStatus: http.StatusOK, wantResource: "products", wantAction: apirequest.ActionDelete, wantHandled: true},
		{name: "escaped table name", method: http.MethodGet, target: "/order%20items", wantStatus: http.StatusOK, wantResource: "order items", wantAction: apirequest.ActionRead, wantHandled: true},
		{name: "routine via get", method: http.MethodGet, target: "/rpc/add?a=1", wantStatus: http.StatusOK, wantResource: "add", wantAction: apirequest.ActionCall, wantHandled: true},
		{name: "routine via post", method: http.MethodPost, target: "/rpc/add", body: `{"a":1}`, wantStatus: http.StatusOK, wantResource: "add", wantAction: apirequest.ActionCall, wantHandled: true},
		{name: "routine rejects patch", method: http.MethodPatch, target: "/rpc/add", wantStatus: http.StatusMethodNotAllowed},
		{name: "nested path", method: http.MethodGet, target: "/products/1", wantStatus: http.StatusNotFound},
		{name: "root redirects to graphql", method: http.MethodGet, target: "/", wantStatus: http.StatusFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := &recordingEngine{}
			cache := testutil.ShopCache()
			router := NewRouter(Config{
				Engine:  eng,
				Cache:   func() *schemacache.Cache { return cache },
				GraphQL: http.NotFoundHandler(),
			})

			req := httptest.NewRequest(tt.method, tt.target, strings.NewReader(tt.body))
			if tt.body != "" {
				req.Header.Set("Content-Type", "application/json")
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if !tt.wantHandled {
				assert.Nil(t, eng.req)
				return
			}
			require.NotNil(t, eng.req)
			assert.Equal(t, tt.wantResource, eng.req.Resource)
			assert.Equal(t, tt.wantAction, eng.req.Action)
			assert.Same(t, cache, eng.cache)
			assert.True(t, eng.id.Anonymous)
		})
	}
}

func TestRouter_ParseErrorSkipsEngine(t *testing.T) {
	eng := &recordingEngine{}
	router := NewRouter(Config{Engine: eng})

	req := httptest.NewRequest(http.MethodGet, "/products", nil)
	req.Header.Set("Accept", "application/xml")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotAcceptable, rec.Code)
	assert.Contains(t, rec.Body.String(), "PGRST107")
	assert.Nil(t, eng.req)
}

func TestRouter_OptionalRoutes(t *testing.T) {
	router := NewRouter(Config{Engine: &recordingEngine{}})

	for _, path := range []string{"/graphql", "/health", "/metrics"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		// Without a dedicated route these fall through to the table route.
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/reload-schema", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_AuthWrapsAPIRoutesOnly(t *testing.T) {
	deny := func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})
	}
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	router := NewRouter(Config{
		Engine:  &recordingEngine{},
		Auth:    deny,
		GraphQL: ok,
		Health:  ok,
		Metrics: ok,
	})

	tests := []struct {
		path string
		want int
	}{
		{path: "/products", want: http.StatusUnauthorized},
		{path: "/rpc/add", want: http.StatusUnauthorized},
		{path: "/graphql", want: http.StatusUnauthorized},
		{path: "/health", want: http.StatusOK},
		{path: "/metrics", want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestRouter_EndToEndWithBearerToken(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	eng := engine.New(engine.Config{Executor: dbexec.NewExecutor(dbexec.Config{DB: db})})
	cache := testutil.ShopCache()
	router := NewRouter(Config{
		Engine: eng,
		Cache:  func() *schemacache.Cache { return cache },
		Auth:   middleware.JWTAuthMiddleware(middleware.JWTAuthConfig{Secret: "reallyreallyreallyreallyverysafe", AnonRole: "web_anon"}, nil),
	})

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"role": "web_user", "sub": "u1"}).
		SignedString([]byte("reallyreallyreallyreallyverysafe"))
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT set_config\('role'`).
		WithArgs("web_user", `{"role":"web_user","sub":"u1"}`, "GET", "/products").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`WITH "pgrst_source" AS \(SELECT .* WHERE "products"."price" < \$1`).
		WithArgs(int64(30)).
		WillReturnRows(sqlmock.NewRows([]string{"total_result_set", "page_total", "body"}).
			AddRow(nil, 1, `[{"id":1,"price":10}]`))
	mock.ExpectCommit()

	req := httptest.NewRequest(http.MethodGet, "/products?price=lt.30", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0-0/*", rec.Header().Get("Content-Range"))
	assert.JSONEq(t, `[{"id":1,"price":10}]`, rec.Body.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRouter_NoSnapshotYet(t *testing.T) {
	eng := engine.New(engine.Config{})
	router := NewRouter(Config{Engine: eng, Cache: func() *schemacache.Cache { return nil }})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/products", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "PGRST002")
}

func TestIdentityFromContext(t *testing.T) {
	id := IdentityFromContext(t.Context())
	assert.True(t, id.Anonymous)
	assert.Empty(t, id.Role)
	assert.Equal(t, "{}", string(id.Claims))

	ctx := middleware.WithAuthContext(t.Context(), middleware.AuthContext{
		Subject:   "u1",
		Role:      "web_user",
		RawClaims: []byte(`{"role":"web_user"}`),
	})
	id = IdentityFromContext(ctx)
	assert.False(t, id.Anonymous)
	assert.Equal(t, "web_user", id.Role)
	assert.JSONEq(t, `{"role":"web_user"}`, string(id.Claims))
}

type fakePinger struct{ err error }

func (p fakePinger) PingContext(context.Context) error { return p.err }

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name       string
		pingErr    error
		ready      bool
		wantStatus int
		wantBody   string
	}{
		{name: "healthy", ready: true, wantStatus: http.StatusOK, wantBody: `{"status":"healthy","database":"ok","schema":"ok"}`},
		{name: "database down", pingErr: errors.New("refused"), ready: true, wantStatus: http.StatusServiceUnavailable, wantBody: `{"status":"unhealthy","database":"failed","schema":"ok"}`},
		{name: "schema loading", ready: false, wantStatus: http.StatusServiceUnavailable, wantBody: `{"status":"unhealthy","database":"ok","schema":"loading"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := HealthHandler(fakePinger{err: tt.pingErr}, func() bool { return tt.ready }, time.Second)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.JSONEq(t, tt.wantBody, rec.Body.String())
			assert.NotContains(t, rec.Body.String(), "refused")
		})
	}
}

type fakeReloader struct {
	trigger string
	err     error
}

func (r *fakeReloader) RefreshNow(_ context.Context, trigger string) error {
	r.trigger = trigger
	return r.err
}

func TestSchemaReloadHandler(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{name: "reloaded", wantStatus: http.StatusOK, wantBody: `{"status":"ok"}`},
		{name: "rebuild failed", err: errors.New("relation \"secret\" vanished"), wantStatus: http.StatusInternalServerError, wantBody: `{"status":"error","message":"schema reload failed"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reloader := &fakeReloader{err: tt.err}
			rec := httptest.NewRecorder()
			SchemaReloadHandler(reloader, time.Second).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/reload-schema", nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.JSONEq(t, tt.wantBody, rec.Body.String())
			assert.Equal(t, "admin", reloader.trigger)
		})
	}
}

func TestRouter_AdminRouteBehindToken(t *testing.T) {
	reloader := &fakeReloader{}
	guard, err := middleware.AdminTokenAuthMiddleware(middleware.AdminTokenAuthConfig{Token: "s3cret", Operation: "reload_schema"}, nil)
	require.NoError(t, err)
	router := NewRouter(Config{
		Engine: &recordingEngine{},
		Admin:  guard(SchemaReloadHandler(reloader, time.Second)),
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/reload-schema", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, reloader.trigger)

	req := httptest.NewRequest(http.MethodPost, "/admin/reload-schema", nil)
	req.Header.Set("X-Admin-Token", "s3cret")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "admin", reloader.trigger)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/reload-schema", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
