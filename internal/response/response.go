// Package response shapes executor output into HTTP responses: status,
// Content-Range, Preference-Applied, Location and the JSON or CSV body.
package response

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"pgrest/internal/apierror"
	"pgrest/internal/apirequest"
	"pgrest/internal/dbexec"
	"pgrest/internal/schemacache"
)

// Response is a shaped HTTP response.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Input is everything Shape needs about the request and its result.
type Input struct {
	Action apirequest.Action
	Method string
	Media  apirequest.MediaType
	Prefs  apirequest.Preferences
	// Offset is the effective offset of the page, used for Content-Range.
	Offset int
	// Columns orders CSV fields. Empty derives them from the first row.
	Columns []string
	// Table and Path build the Location header of headers-only inserts.
	Table *schemacache.Table
	Path  string
	// Scalar marks routine results that are a single JSON value rather than rows.
	Scalar bool
	Void   bool
	Result *dbexec.Result
}

// Shape builds the response for a successful execution.
func Shape(in Input) (*Response, error) {
	res := in.Result
	if res == nil {
		res = &dbexec.Result{}
	}
	out := &Response{Status: http.StatusOK, Headers: http.Header{}}
	if applied := in.Prefs.Applied(); len(applied) > 0 {
		out.Headers.Set("Preference-Applied", strings.Join(applied, ", "))
	}

	switch in.Action {
	case apirequest.ActionCall:
		if in.Void {
			out.Status = http.StatusNoContent
			return out, nil
		}
		if !in.Scalar {
			out.Headers.Set("Content-Range", ContentRange(in.Offset, res.PageTotal, res.Total))
		}
		if err := out.setBody(in, res); err != nil {
			return nil, err
		}
	case apirequest.ActionRead:
		out.Headers.Set("Content-Range", ContentRange(in.Offset, res.PageTotal, res.Total))
		if partial(in.Offset, res.PageTotal, res.Total) {
			out.Status = http.StatusPartialContent
		}
		if err := out.setBody(in, res); err != nil {
			return nil, err
		}
	default:
		out.Headers.Set("Content-Range", ContentRange(0, res.PageTotal, nil))
		if in.Action == apirequest.ActionInsert || (in.Action == apirequest.ActionUpsert && in.Method == http.MethodPost) {
			out.Status = http.StatusCreated
		}
		switch in.Prefs.Return {
		case apirequest.ReturnRepresentation:
			if err := out.setBody(in, res); err != nil {
				return nil, err
			}
		case apirequest.ReturnHeadersOnly:
			if loc, ok := location(in, res.Body); ok {
				out.Headers.Set("Location", loc)
			}
			if out.Status == http.StatusOK {
				out.Status = http.StatusNoContent
			}
		default:
			if out.Status == http.StatusOK {
				out.Status = http.StatusNoContent
			}
		}
	}

	if in.Method == http.MethodHead {
		out.Body = nil
	}
	return out, nil
}

func (r *Response) setBody(in Input, res *dbexec.Result) error {
	body := res.Body
	if body == nil {
		body = []byte("[]")
	}
	switch in.Media {
	case apirequest.MediaCSV:
		csvBody, err := toCSV(body, in.Columns)
		if err != nil {
			return err
		}
		r.Body = csvBody
	case apirequest.MediaSingularJSON:
		if in.Scalar {
			r.Body = body
			break
		}
		if res.PageTotal != 1 {
			return apierror.SingularViolation(res.PageTotal)
		}
		first, err := firstElement(body)
		if err != nil {
			return err
		}
		r.Body = first
	default:
		r.Body = body
	}
	r.Headers.Set("Content-Type", in.Media.ContentType())
	return nil
}

// ContentRange renders "from-to/total". Empty pages render "*/total" and an
// unknown total renders "*".
func ContentRange(offset int, pageTotal int64, total *int64) string {
	totalText := "*"
	if total != nil {
		totalText = fmt.Sprintf("%d", *total)
	}
	if pageTotal <= 0 {
		return "*/" + totalText
	}
	return fmt.Sprintf("%d-%d/%s", offset, int64(offset)+pageTotal-1, totalText)
}

func partial(offset int, pageTotal int64, total *int64) bool {
	if total == nil || pageTotal == 0 {
		return false
	}
	return offset > 0 || int64(offset)+pageTotal < *total
}

func firstElement(body []byte) ([]byte, error) {
	var rows []json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode result rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, apierror.SingularViolation(0)
	}
	return rows[0], nil
}

// location builds /table?pk=eq.value for the first returned row.
func location(in Input, body []byte) (string, bool) {
	if in.Table == nil || len(in.Table.PrimaryKey) == 0 || len(body) == 0 {
		return "", false
	}
	var rows []map[string]json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil || len(rows) == 0 {
		return "", false
	}
	params := make([]string, 0, len(in.Table.PrimaryKey))
	for _, col := range in.Table.PrimaryKey {
		raw, ok := rows[0][col]
		if !ok {
			return "", false
		}
		params = append(params, url.QueryEscape(col)+"="+url.QueryEscape("eq."+scalarText(raw)))
	}
	return in.Path + "?" + strings.Join(params, "&"), true
}

// scalarText renders a JSON value as filter text: strings unquoted, everything
// else verbatim.
func scalarText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(bytes.TrimSpace(raw))
}

// Error builds the response for a failed request.
func Error(err error) *Response {
	status, body := apierror.Describe(err)
	payload, marshalErr := json.Marshal(body)
	if marshalErr != nil {
		payload = []byte(`{"code":"` + apierror.CodeInternal + `","message":"internal server error","details":null,"hint":null}`)
	}
	headers := http.Header{}
	headers.Set("Content-Type", "application/json; charset=utf-8")
	return &Response{Status: status, Headers: headers, Body: payload}
}

// Write copies the response onto w.
func (r *Response) Write(w http.ResponseWriter) {
	for key, values := range r.Headers {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	w.WriteHeader(r.Status)
	if len(r.Body) > 0 {
		_, _ = w.Write(r.Body)
	}
}
