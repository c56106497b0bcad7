package apirequest

import (
	"bytes"
	"encoding/json"
	"io"
	"mime"
	"sort"
	"strings"

	"pgrest/internal/apierror"
)

// maxPayloadBytes bounds how much of a request body is read.
const maxPayloadBytes = 16 << 20

// Payload is a decoded JSON request body.
type Payload struct {
	// Rows holds one entry per object; a single object body yields one row.
	Rows []map[string]interface{}
	// IsArray records whether the body was a JSON array.
	IsArray bool
	// Keys is the sorted union of keys across rows, or the columns
	// parameter when given.
	Keys []string
	// Consistent reports whether every row has exactly Keys.
	Consistent bool
}

// ReadPayload decodes a JSON object or array of objects. Numbers are kept as
// json.Number so large integers and decimals are not rounded. When columns
// is non-empty only those keys are kept.
func ReadPayload(body io.Reader, contentType string, columns []string) (*Payload, error) {
	if contentType != "" {
		mediaType, _, err := mime.ParseMediaType(contentType)
		if err != nil || (mediaType != "application/json" && !strings.HasSuffix(mediaType, "+json")) {
			return nil, apierror.InvalidBody("Content-Type %q is not supported, use application/json", contentType)
		}
	}
	if body == nil {
		return &Payload{Consistent: true}, nil
	}
	raw, err := io.ReadAll(io.LimitReader(body, maxPayloadBytes))
	if err != nil {
		return nil, apierror.InvalidBody("Failed to read request body: %s", err.Error())
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return &Payload{Consistent: true}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var decoded interface{}
	if err := dec.Decode(&decoded); err != nil {
		return nil, apierror.InvalidBody("Invalid JSON body: %s", err.Error())
	}
	if dec.More() {
		return nil, apierror.InvalidBody("Invalid JSON body: trailing data")
	}

	p := &Payload{}
	switch v := decoded.(type) {
	case map[string]interface{}:
		p.Rows = []map[string]interface{}{v}
	case []interface{}:
		p.IsArray = true
		p.Rows = make([]map[string]interface{}, 0, len(v))
		for i, item := range v {
			obj, ok := item.(map[string]interface{})
			if !ok {
				return nil, apierror.InvalidBody("Element %d of the body array is not an object", i)
			}
			p.Rows = append(p.Rows, obj)
		}
	default:
		return nil, apierror.InvalidBody("Body must be a JSON object or an array of objects")
	}

	if len(columns) > 0 {
		p.restrict(columns)
	} else {
		p.collectKeys()
	}
	return p, nil
}

func (p *Payload) restrict(columns []string) {
	p.Keys = append([]string(nil), columns...)
	for i, row := range p.Rows {
		kept := make(map[string]interface{}, len(columns))
		for _, col := range columns {
			if v, ok := row[col]; ok {
				kept[col] = v
			}
		}
		p.Rows[i] = kept
	}
	// Missing keys in a columns-restricted payload are filled by the planner.
	p.Consistent = true
}

func (p *Payload) collectKeys() {
	union := make(map[string]struct{})
	for _, row := range p.Rows {
		for k := range row {
			union[k] = struct{}{}
		}
	}
	p.Keys = make([]string, 0, len(union))
	for k := range union {
		p.Keys = append(p.Keys, k)
	}
	sort.Strings(p.Keys)

	p.Consistent = true
	for _, row := range p.Rows {
		if len(row) != len(p.Keys) {
			p.Consistent = false
			return
		}
	}
}
