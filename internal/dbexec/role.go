package dbexec

import (
	"strconv"
	"strings"

	"pgrest/internal/apierror"
)

// RoleContext is the identity a statement runs under.
type RoleContext struct {
	// Role is the database role switched to for the transaction.
	Role string
	// Claims is the JSON text of the verified JWT claims, published as request.jwt.claims.
	Claims []byte
	// Method and Path describe the HTTP request.
	Method string
	Path   string
	// Anonymous marks requests without credentials; permission errors then map to 401.
	Anonymous bool
}

func (e *Executor) checkRole(role string) error {
	if role == "" || len(e.allowedRoles) == 0 {
		return nil
	}
	if _, ok := e.allowedRoles[role]; !ok {
		return apierror.RoleNotAllowed(role)
	}
	return nil
}

// sessionSettings builds one SELECT applying every transaction-local setting.
// set_config takes the role as a bound value, so no identifier is interpolated.
func (e *Executor) sessionSettings(rc RoleContext) (string, []interface{}) {
	var (
		calls []string
		args  []interface{}
	)
	add := func(name, value string) {
		args = append(args, value)
		calls = append(calls, "set_config('"+name+"', $"+strconv.Itoa(len(args))+", true)")
	}
	if rc.Role != "" {
		add("role", rc.Role)
	}
	if len(rc.Claims) > 0 {
		add("request.jwt.claims", string(rc.Claims))
	}
	if rc.Method != "" {
		add("request.method", rc.Method)
	}
	if rc.Path != "" {
		add("request.path", rc.Path)
	}
	if e.statementTimeout > 0 {
		add("statement_timeout", strconv.FormatInt(e.statementTimeout.Milliseconds(), 10))
	}
	if len(calls) == 0 {
		return "", nil
	}
	return "SELECT " + strings.Join(calls, ", "), args
}
