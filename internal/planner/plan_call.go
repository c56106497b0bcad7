package planner

import (
	"encoding/json"
	"sort"
	"strings"

	"pgrest/internal/apierror"
	"pgrest/internal/apirequest"
	"pgrest/internal/resgraph"
	"pgrest/internal/schemacache"
	"pgrest/internal/sqltype"
)

// Arg is one named routine argument.
type Arg struct {
	Name  string
	Type  string
	Value interface{}
}

// CallInput carries what PlanCall needs. Args hold query-string strings or
// decoded JSON values. Result is the resolved tree over the routine's return
// table, nil when the routine returns a scalar or nothing.
type CallInput struct {
	Routine *schemacache.Routine
	Args    map[string]interface{}
	Result  *resgraph.ResourceNode
	// ReadOnlyRequest is set for GET and HEAD.
	ReadOnlyRequest bool
	Prefs           apirequest.Preferences
}

// CallPlan is a planned routine invocation.
type CallPlan struct {
	Routine      *schemacache.Routine
	Args         []Arg
	Result       *Node
	Scalar       bool
	SetReturning bool
	Void         bool
	ReadOnly     bool
	Count        apirequest.CountPreference
}

// PlanCall binds arguments by name. Unknown or missing required arguments
// report the routine as not found with the given argument names, since no
// overload matches the call.
func PlanCall(in CallInput, limits Limits) (*CallPlan, error) {
	r := in.Routine
	given := make([]string, 0, len(in.Args))
	for name := range in.Args {
		given = append(given, name)
	}
	sort.Strings(given)

	for _, name := range given {
		if _, ok := r.Parameter(name); !ok {
			return nil, apierror.RoutineNotFound(r.Schema, r.Name, given)
		}
	}

	plan := &CallPlan{
		Routine:      r,
		SetReturning: r.IsSetReturning,
		Void:         strings.EqualFold(r.ReturnType, "void"),
		Count:        in.Prefs.Count,
		// A GET never writes; a POST to a non-volatile routine cannot either.
		ReadOnly: in.ReadOnlyRequest || r.Volatility != schemacache.Volatile,
	}

	for _, p := range r.Parameters {
		raw, ok := in.Args[p.Name]
		if !ok {
			if !p.HasDefault {
				return nil, apierror.RoutineNotFound(r.Schema, r.Name, given)
			}
			continue
		}
		v, err := coerceArg(p, raw)
		if err != nil {
			return nil, err
		}
		plan.Args = append(plan.Args, Arg{Name: p.Name, Type: p.Type, Value: v})
	}

	if in.Result != nil {
		node, err := planNode(in.Result, true)
		if err != nil {
			return nil, err
		}
		if node.Limit, err = applyMaxRows(node.Limit, limits); err != nil {
			return nil, err
		}
		plan.Result = node
	} else {
		plan.Scalar = !plan.Void
	}
	return plan, nil
}

func coerceArg(p schemacache.Parameter, raw interface{}) (interface{}, error) {
	category := sqltype.Classify(p.Type)
	var (
		v   interface{}
		err error
	)
	switch typed := raw.(type) {
	case string:
		v, err = sqltype.CoerceLiteral(category, typed)
	case json.Number, bool, float64, nil, map[string]interface{}, []interface{}:
		v, err = sqltype.CoerceJSON(category, typed)
	default:
		return nil, apierror.InvalidBody("Argument '%s' has unsupported type %T", p.Name, raw)
	}
	if err != nil {
		return nil, apierror.InvalidBody("Argument '%s': %s", p.Name, err.Error())
	}
	return v, nil
}
