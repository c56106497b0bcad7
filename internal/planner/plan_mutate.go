package planner

import (
	"net/http"
	"sort"
	"strings"

	"pgrest/internal/apierror"
	"pgrest/internal/apirequest"
	"pgrest/internal/resgraph"
	"pgrest/internal/schemacache"
	"pgrest/internal/sqltype"
)

// Operation is the SQL statement a mutation renders to.
type Operation int

const (
	OpInsert Operation = iota
	OpUpdate
	OpDelete
)

func (o Operation) String() string {
	switch o {
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "insert"
	}
}

// Value is one payload cell. Default renders the DEFAULT keyword.
type Value struct {
	Value   interface{}
	Default bool
}

// MutateInput carries what PlanMutate needs. Returning is the resolved
// response tree; its root filter scopes updates and deletes.
type MutateInput struct {
	Action     apirequest.Action
	Table      *schemacache.Table
	Payload    *apirequest.Payload
	Returning  *resgraph.ResourceNode
	OnConflict []string
	Prefs      apirequest.Preferences
}

// MutatePlan is a validated insert, upsert, update or delete.
type MutatePlan struct {
	Operation Operation
	Table     *schemacache.Table
	Columns   []string
	Rows      [][]Value
	Where     Predicate

	Resolution      apirequest.Resolution
	ConflictColumns []string

	Return    apirequest.ReturnPreference
	Count     apirequest.CountPreference
	Returning *Node
}

// Upsert reports whether the insert carries an ON CONFLICT clause.
func (p *MutatePlan) Upsert() bool {
	return p.Operation == OpInsert && p.Resolution != apirequest.ResolutionNone
}

// PlanMutate validates a mutation against the table definition. A failed
// validation never produces a plan.
func PlanMutate(in MutateInput) (*MutatePlan, error) {
	table := in.Table
	plan := &MutatePlan{
		Table:  table,
		Return: in.Prefs.Return,
		Count:  in.Prefs.Count,
	}

	switch in.Action {
	case apirequest.ActionInsert, apirequest.ActionUpsert:
		plan.Operation = OpInsert
		if !table.Insertable {
			return nil, apierror.NotInsertable(table.Name)
		}
	case apirequest.ActionUpdate:
		plan.Operation = OpUpdate
		if !table.Updatable {
			return nil, apierror.NotUpdatable(table.Name)
		}
	case apirequest.ActionDelete:
		plan.Operation = OpDelete
		if !table.Deletable {
			return nil, apierror.NotDeletable(table.Name)
		}
	default:
		return nil, apierror.InvalidRequest(http.StatusMethodNotAllowed, "%s is not a mutation", in.Action)
	}

	returning, err := planNode(in.Returning, true)
	if err != nil {
		return nil, err
	}
	if plan.Operation != OpInsert {
		// The filter selects the rows to change; the returned rows are exactly those.
		plan.Where = returning.Where
		returning.Where = nil
		if err := rejectEmbedFilters(returning); err != nil {
			return nil, err
		}
	}
	plan.Returning = returning

	if plan.Operation == OpDelete {
		return plan, nil
	}

	if err := planPayload(plan, in); err != nil {
		return nil, err
	}
	if plan.Operation == OpUpdate && len(plan.Rows) != 1 {
		return nil, apierror.InvalidBody("An update requires exactly one object in the body")
	}
	if len(plan.Columns) == 0 && (plan.Operation == OpUpdate || len(plan.Rows) > 1) {
		return nil, apierror.InvalidBody("The body names no columns")
	}
	if in.Action == apirequest.ActionUpsert || in.Prefs.Resolution != apirequest.ResolutionNone {
		plan.Resolution = in.Prefs.Resolution
		if plan.Resolution == apirequest.ResolutionNone {
			plan.Resolution = apirequest.ResolutionMergeDuplicates
		}
		target, err := upsertTarget(table, in.OnConflict, plan.Columns)
		if err != nil {
			return nil, err
		}
		plan.ConflictColumns = target
	}
	return plan, nil
}

// rejectEmbedFilters keeps embed filters from silently narrowing a mutation:
// they would only trim the response, not the affected rows.
func rejectEmbedFilters(root *Node) error {
	for _, e := range root.Children {
		if e.Node.Where != nil {
			return apierror.FilterSyntax("Filters on embedded resource '%s' are not allowed in a mutation",
				strings.Join(e.Node.Resource.Path, "."))
		}
		if err := rejectEmbedFilters(e.Node); err != nil {
			return err
		}
	}
	return nil
}

func planPayload(plan *MutatePlan, in MutateInput) error {
	table := in.Table
	payload := in.Payload
	if payload == nil || len(payload.Rows) == 0 {
		return apierror.InvalidBody("Empty or missing request body")
	}
	for _, key := range payload.Keys {
		if _, ok := table.Column(key); !ok {
			return apierror.UnknownColumn(table.Name, key)
		}
	}
	missingDefault := in.Prefs.MissingDefault
	if !payload.Consistent && !missingDefault {
		return apierror.InconsistentPayload("All object keys must match")
	}
	if plan.Operation == OpInsert && !missingDefault {
		if missing := missingRequired(table, payload.Keys); len(missing) > 0 {
			return apierror.MissingRequiredColumns(table.Name, missing)
		}
	}

	plan.Columns = append([]string(nil), payload.Keys...)
	plan.Rows = make([][]Value, 0, len(payload.Rows))
	for _, row := range payload.Rows {
		values := make([]Value, len(plan.Columns))
		for i, name := range plan.Columns {
			raw, present := row[name]
			if !present {
				if missingDefault {
					values[i] = Value{Default: true}
				}
				continue
			}
			col, _ := table.Column(name)
			v, err := coercePayloadValue(col, raw)
			if err != nil {
				return err
			}
			values[i] = Value{Value: v}
		}
		plan.Rows = append(plan.Rows, values)
	}
	return nil
}

func coercePayloadValue(col *schemacache.Column, raw interface{}) (interface{}, error) {
	v, err := sqltype.CoerceJSON(col.Category(), raw)
	if err != nil {
		return nil, apierror.InvalidBody("Column '%s': %s", col.Name, err.Error())
	}
	return v, nil
}

func missingRequired(table *schemacache.Table, keys []string) []string {
	present := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		present[k] = struct{}{}
	}
	var missing []string
	for _, col := range table.RequiredColumns() {
		if _, ok := present[col]; !ok {
			missing = append(missing, col)
		}
	}
	return missing
}

// upsertTarget picks the conflict columns: on_conflict must name a key of the
// table; otherwise the first key fully covered by the payload is used.
func upsertTarget(table *schemacache.Table, onConflict, columns []string) ([]string, error) {
	keys := table.Keys()
	if len(onConflict) > 0 {
		for _, key := range keys {
			if sameSet(key, onConflict) {
				return append([]string(nil), onConflict...), nil
			}
		}
		return nil, apierror.NoUpsertTarget(table.Name, onConflict)
	}
	present := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		present[c] = struct{}{}
	}
	for _, key := range keys {
		covered := true
		for _, col := range key {
			if _, ok := present[col]; !ok {
				covered = false
				break
			}
		}
		if covered {
			return append([]string(nil), key...), nil
		}
	}
	return nil, apierror.NoUpsertTarget(table.Name, nil)
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	x := append([]string(nil), a...)
	y := append([]string(nil), b...)
	sort.Strings(x)
	sort.Strings(y)
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}
