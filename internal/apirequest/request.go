// Package apirequest turns an HTTP request into the parts the engine consumes:
// select tree, filters, ordering, pagination, preferences and payload.
package apirequest

import (
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"pgrest/internal/apierror"
	"pgrest/internal/filter"
)

// Action is the operation a request asks for.
type Action int

const (
	ActionRead Action = iota
	ActionInsert
	ActionUpsert
	ActionUpdate
	ActionDelete
	ActionCall
)

func (a Action) String() string {
	switch a {
	case ActionInsert:
		return "insert"
	case ActionUpsert:
		return "upsert"
	case ActionUpdate:
		return "update"
	case ActionDelete:
		return "delete"
	case ActionCall:
		return "call"
	default:
		return "read"
	}
}

// IsMutation reports whether the action writes to a table.
func (a Action) IsMutation() bool {
	switch a {
	case ActionInsert, ActionUpsert, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// NullsOrder places nulls in an ordering.
type NullsOrder int

const (
	NullsDefault NullsOrder = iota
	NullsFirst
	NullsLast
)

// OrderTerm is one entry of an order parameter.
type OrderTerm struct {
	Column     string
	Descending bool
	Nulls      NullsOrder
}

// EmbedParams are ordering and pagination scoped to an embedded resource.
type EmbedParams struct {
	Order  []OrderTerm
	Limit  *int
	Offset *int
}

// Request is a parsed API request.
type Request struct {
	Action   Action
	Method   string
	Path     string
	Resource string
	// Schema is the profile requested through Accept-Profile or
	// Content-Profile; empty means the default schema.
	Schema string

	Select  []SelectItem
	Filters []filter.Param
	// Where is a filter tree built by another front end. It is combined
	// with Filters by AND.
	Where filter.Node
	Order   []OrderTerm
	Limit   *int
	Offset  *int
	// Embeds maps a dotted embed path to its scoped parameters.
	Embeds map[string]*EmbedParams

	OnConflict []string
	Columns    []string

	Preferences Preferences
	Accept      MediaType

	Payload *Payload
}

// ReadOnly reports whether the request must run in a read-only transaction.
func (r *Request) ReadOnly() bool {
	return r.Method == http.MethodGet || r.Method == http.MethodHead
}

// Parse builds a Request for a table (rpc=false) or routine (rpc=true).
func Parse(r *http.Request, resource string, rpc bool) (*Request, error) {
	req := &Request{
		Method:   r.Method,
		Path:     r.URL.Path,
		Resource: resource,
		Embeds:   make(map[string]*EmbedParams),
	}

	action, err := actionFor(r.Method, rpc)
	if err != nil {
		return nil, err
	}
	req.Action = action

	if req.ReadOnly() {
		req.Schema = r.Header.Get("Accept-Profile")
	} else {
		req.Schema = r.Header.Get("Content-Profile")
	}

	prefs, err := ParsePrefer(r.Header.Values("Prefer"))
	if err != nil {
		return nil, err
	}
	req.Preferences = prefs
	if action == ActionInsert && prefs.Resolution != ResolutionNone {
		req.Action = ActionUpsert
	}

	accept, err := NegotiateAccept(r.Header.Get("Accept"))
	if err != nil {
		return nil, err
	}
	req.Accept = accept

	if err := req.parseQuery(r.URL.Query()); err != nil {
		return nil, err
	}
	if req.Limit == nil && req.Offset == nil && req.ReadOnly() {
		if err := req.applyRange(r.Header.Get("Range")); err != nil {
			return nil, err
		}
	}

	if action != ActionRead && action != ActionDelete && !(rpc && req.ReadOnly()) {
		payload, err := ReadPayload(r.Body, r.Header.Get("Content-Type"), req.Columns)
		if err != nil {
			return nil, err
		}
		req.Payload = payload
	}
	return req, nil
}

func actionFor(method string, rpc bool) (Action, error) {
	if rpc {
		switch method {
		case http.MethodGet, http.MethodHead, http.MethodPost:
			return ActionCall, nil
		}
		return 0, apierror.InvalidRequest(http.StatusMethodNotAllowed, "Method %s is not allowed on functions", method)
	}
	switch method {
	case http.MethodGet, http.MethodHead:
		return ActionRead, nil
	case http.MethodPost:
		return ActionInsert, nil
	case http.MethodPut:
		return ActionUpsert, nil
	case http.MethodPatch:
		return ActionUpdate, nil
	case http.MethodDelete:
		return ActionDelete, nil
	}
	return 0, apierror.InvalidRequest(http.StatusMethodNotAllowed, "Method %s is not allowed", method)
}

// ParseQuery parses a query string into a read request. It is the entry
// point for callers that do not hold an *http.Request.
func ParseQuery(resource string, values url.Values) (*Request, error) {
	req := &Request{
		Method:   http.MethodGet,
		Resource: resource,
		Embeds:   make(map[string]*EmbedParams),
		Accept:   MediaJSON,
	}
	if err := req.parseQuery(values); err != nil {
		return nil, err
	}
	return req, nil
}

func (r *Request) parseQuery(values url.Values) error {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	selectSeen := false
	for _, key := range keys {
		if strings.HasPrefix(key, "_") {
			continue
		}
		for _, value := range values[key] {
			switch key {
			case "select":
				items, err := ParseSelect(value)
				if err != nil {
					return err
				}
				r.Select = items
				selectSeen = true
			case "order":
				terms, err := ParseOrder(value)
				if err != nil {
					return err
				}
				r.Order = terms
			case "limit":
				n, err := parseNonNegative("limit", value)
				if err != nil {
					return err
				}
				r.Limit = &n
			case "offset":
				n, err := parseNonNegative("offset", value)
				if err != nil {
					return err
				}
				r.Offset = &n
			case "on_conflict":
				r.OnConflict = splitList(value)
			case "columns":
				r.Columns = splitList(value)
			default:
				handled, err := r.parseEmbedParam(key, value)
				if err != nil {
					return err
				}
				if !handled {
					r.Filters = append(r.Filters, filter.Param{Key: key, Value: value})
				}
			}
		}
	}
	if !selectSeen {
		r.Select = []SelectItem{{Kind: SelectStar, Name: "*"}}
	}
	return nil
}

// parseEmbedParam handles rel.order, rel.limit and rel.offset.
func (r *Request) parseEmbedParam(key, value string) (bool, error) {
	idx := strings.LastIndexByte(key, '.')
	if idx <= 0 {
		return false, nil
	}
	path, param := key[:idx], key[idx+1:]
	switch param {
	case "order", "limit", "offset":
	default:
		return false, nil
	}
	ep := r.Embeds[path]
	if ep == nil {
		ep = &EmbedParams{}
		r.Embeds[path] = ep
	}
	switch param {
	case "order":
		terms, err := ParseOrder(value)
		if err != nil {
			return true, err
		}
		ep.Order = terms
	case "limit":
		n, err := parseNonNegative(key, value)
		if err != nil {
			return true, err
		}
		ep.Limit = &n
	case "offset":
		n, err := parseNonNegative(key, value)
		if err != nil {
			return true, err
		}
		ep.Offset = &n
	}
	return true, nil
}

// ParseOrder parses "col.desc.nullslast,col2".
func ParseOrder(raw string) ([]OrderTerm, error) {
	var terms []OrderTerm
	for _, item := range splitList(raw) {
		segs := strings.Split(item, ".")
		term := OrderTerm{Column: segs[0]}
		if term.Column == "" {
			return nil, apierror.FilterSyntax("Empty column in order %q", raw)
		}
		for _, mod := range segs[1:] {
			switch mod {
			case "asc":
				term.Descending = false
			case "desc":
				term.Descending = true
			case "nullsfirst":
				term.Nulls = NullsFirst
			case "nullslast":
				term.Nulls = NullsLast
			default:
				return nil, apierror.FilterSyntax("Unknown order modifier %q in %q", mod, item)
			}
		}
		terms = append(terms, term)
	}
	return terms, nil
}

func parseNonNegative(name, value string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n < 0 {
		return 0, apierror.InvalidRange("'%s' must be a non-negative integer, got %q", name, value)
	}
	return n, nil
}

// applyRange reads a "Range: first-last" header as offset and limit.
func (r *Request) applyRange(header string) error {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil
	}
	header = strings.TrimPrefix(header, "items=")
	first, last, ok := strings.Cut(header, "-")
	if !ok {
		return apierror.InvalidRange("Invalid Range header %q", header)
	}
	from, err := parseNonNegative("range", first)
	if err != nil {
		return err
	}
	r.Offset = &from
	if strings.TrimSpace(last) == "" {
		return nil
	}
	to, err := parseNonNegative("range", last)
	if err != nil {
		return err
	}
	if to < from {
		return apierror.InvalidRange("Range end %d precedes start %d", to, from)
	}
	limit := to - from + 1
	r.Limit = &limit
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
