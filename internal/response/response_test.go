package response

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pgrest/internal/apierror"
	"pgrest/internal/apirequest"
	"pgrest/internal/dbexec"
	"pgrest/internal/schemacache"
)

func int64Ptr(v int64) *int64 { return &v }

func TestContentRange(t *testing.T) {
	tests := []struct {
		name   string
		offset int
		page   int64
		total  *int64
		want   string
	}{
		{name: "unknown total", offset: 0, page: 3, want: "0-2/*"},
		{name: "known total", offset: 10, page: 5, total: int64Ptr(42), want: "10-14/42"},
		{name: "empty page with count", offset: 0, page: 0, total: int64Ptr(42), want: "*/42"},
		{name: "empty page without count", offset: 100, page: 0, want: "*/*"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ContentRange(tt.offset, tt.page, tt.total))
		})
	}
}

func TestShape_Read(t *testing.T) {
	res, err := Shape(Input{
		Action: apirequest.ActionRead, Method: http.MethodGet, Media: apirequest.MediaJSON,
		Result: &dbexec.Result{PageTotal: 2, Body: []byte(`[{"id":1},{"id":2}]`)},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, "0-1/*", res.Headers.Get("Content-Range"))
	assert.Equal(t, "application/json; charset=utf-8", res.Headers.Get("Content-Type"))
	assert.JSONEq(t, `[{"id":1},{"id":2}]`, string(res.Body))
}

func TestShape_PartialContentWithCount(t *testing.T) {
	res, err := Shape(Input{
		Action: apirequest.ActionRead, Method: http.MethodGet,
		Prefs:  apirequest.Preferences{Count: apirequest.CountExact},
		Result: &dbexec.Result{PageTotal: 2, Total: int64Ptr(10), Body: []byte(`[{},{}]`)},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusPartialContent, res.Status)
	assert.Equal(t, "0-1/10", res.Headers.Get("Content-Range"))
	assert.Equal(t, "count=exact", res.Headers.Get("Preference-Applied"))
}

func TestShape_HeadDropsBody(t *testing.T) {
	res, err := Shape(Input{
		Action: apirequest.ActionRead, Method: http.MethodHead,
		Result: &dbexec.Result{PageTotal: 1, Body: []byte(`[{"id":1}]`)},
	})
	require.NoError(t, err)
	assert.Nil(t, res.Body)
	assert.Equal(t, "0-0/*", res.Headers.Get("Content-Range"))
}

func TestShape_Singular(t *testing.T) {
	res, err := Shape(Input{
		Action: apirequest.ActionRead, Method: http.MethodGet, Media: apirequest.MediaSingularJSON,
		Result: &dbexec.Result{PageTotal: 1, Body: []byte(`[{"id":1}]`)},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":1}`, string(res.Body))
	assert.Equal(t, "application/vnd.pgrst.object+json; charset=utf-8", res.Headers.Get("Content-Type"))

	_, err = Shape(Input{
		Action: apirequest.ActionRead, Method: http.MethodGet, Media: apirequest.MediaSingularJSON,
		Result: &dbexec.Result{PageTotal: 2, Body: []byte(`[{"id":1},{"id":2}]`)},
	})
	status, body := apierror.Describe(err)
	assert.Equal(t, http.StatusNotAcceptable, status)
	assert.Equal(t, apierror.CodeSingularViolation, body.Code)
}

func TestShape_CSV(t *testing.T) {
	res, err := Shape(Input{
		Action: apirequest.ActionRead, Method: http.MethodGet, Media: apirequest.MediaCSV,
		Columns: []string{"id", "name", "tags", "customer"},
		Result: &dbexec.Result{PageTotal: 2, Body: []byte(
			`[{"id":1,"name":"Widget, large","tags":["a","b"],"customer":null},` +
				`{"id":2,"name":"Gadget","tags":null,"customer":{"name":"Ann"}}]`)},
	})
	require.NoError(t, err)
	assert.Equal(t, "text/csv; charset=utf-8", res.Headers.Get("Content-Type"))
	assert.Equal(t, "id,name,tags,customer\n"+
		"1,\"Widget, large\",\"[\"\"a\"\",\"\"b\"\"]\",\n"+
		"2,Gadget,,\"{\"\"name\"\":\"\"Ann\"\"}\"\n", string(res.Body))
}

func TestShape_Mutations(t *testing.T) {
	products := &schemacache.Table{Schema: "public", Name: "products", PrimaryKey: []string{"id"}}

	tests := []struct {
		name         string
		in           Input
		wantStatus   int
		wantBody     string
		wantLocation string
	}{
		{
			name: "insert minimal",
			in: Input{Action: apirequest.ActionInsert, Method: http.MethodPost,
				Result: &dbexec.Result{PageTotal: 1, Body: []byte(`[{"id":5}]`)}},
			wantStatus: http.StatusCreated,
		},
		{
			name: "insert representation",
			in: Input{Action: apirequest.ActionInsert, Method: http.MethodPost,
				Prefs:  apirequest.Preferences{Return: apirequest.ReturnRepresentation},
				Result: &dbexec.Result{PageTotal: 1, Body: []byte(`[{"id":5,"name":"x"}]`)}},
			wantStatus: http.StatusCreated,
			wantBody:   `[{"id":5,"name":"x"}]`,
		},
		{
			name: "insert headers-only",
			in: Input{Action: apirequest.ActionInsert, Method: http.MethodPost, Table: products, Path: "/products",
				Prefs:  apirequest.Preferences{Return: apirequest.ReturnHeadersOnly},
				Result: &dbexec.Result{PageTotal: 1, Body: []byte(`[{"id":5}]`)}},
			wantStatus:   http.StatusCreated,
			wantLocation: "/products?id=eq.5",
		},
		{
			name: "update minimal",
			in: Input{Action: apirequest.ActionUpdate, Method: http.MethodPatch,
				Result: &dbexec.Result{PageTotal: 3, Body: []byte(`[{},{},{}]`)}},
			wantStatus: http.StatusNoContent,
		},
		{
			name: "delete representation",
			in: Input{Action: apirequest.ActionDelete, Method: http.MethodDelete,
				Prefs:  apirequest.Preferences{Return: apirequest.ReturnRepresentation},
				Result: &dbexec.Result{PageTotal: 1, Body: []byte(`[{"id":1}]`)}},
			wantStatus: http.StatusOK,
			wantBody:   `[{"id":1}]`,
		},
		{
			name: "put upsert",
			in: Input{Action: apirequest.ActionUpsert, Method: http.MethodPut,
				Result: &dbexec.Result{PageTotal: 1, Body: []byte(`[{"id":1}]`)}},
			wantStatus: http.StatusNoContent,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Shape(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, res.Status)
			if tt.wantBody == "" {
				assert.Empty(t, res.Body)
			} else {
				assert.JSONEq(t, tt.wantBody, string(res.Body))
			}
			assert.Equal(t, tt.wantLocation, res.Headers.Get("Location"))
		})
	}
}

func TestShape_Call(t *testing.T) {
	res, err := Shape(Input{Action: apirequest.ActionCall, Method: http.MethodPost, Void: true})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, res.Status)

	res, err = Shape(Input{Action: apirequest.ActionCall, Method: http.MethodGet, Scalar: true,
		Result: &dbexec.Result{PageTotal: 1, Body: []byte(`5`)}})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, "5", string(res.Body))
	assert.Empty(t, res.Headers.Get("Content-Range"))
}

func TestError(t *testing.T) {
	res := Error(apierror.TableNotFound("public", "nope"))
	assert.Equal(t, http.StatusNotFound, res.Status)
	assert.JSONEq(t, `{"code":"PGRST205","message":"Could not find the table 'public.nope' in the schema cache",`+
		`"details":null,"hint":"Check the table name, the exposed schemas, or reload the schema cache."}`, string(res.Body))

	res = Error(errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, res.Status)
	assert.JSONEq(t, `{"code":"PGRST900","message":"internal server error","details":null,"hint":null}`, string(res.Body))
}

func TestWrite(t *testing.T) {
	rec := httptest.NewRecorder()
	(&Response{Status: http.StatusCreated, Headers: http.Header{"Location": {"/x"}}, Body: []byte("ok")}).Write(rec)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "/x", rec.Header().Get("Location"))
	assert.Equal(t, "ok", rec.Body.String())
}
