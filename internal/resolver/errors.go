package resolver

import (
	"pgrest/internal/apierror"
)

// graphqlError carries the API error body into the GraphQL error
// extensions.
type graphqlError struct {
	status int
	body   apierror.Body
}

func fieldError(err error) error {
	status, body := apierror.Describe(err)
	return &graphqlError{status: status, body: body}
}

func (e *graphqlError) Error() string {
	return e.body.Message
}

// Extensions implements gqlerrors.ExtendedError.
func (e *graphqlError) Extensions() map[string]interface{} {
	ext := map[string]interface{}{
		"code":    e.body.Code,
		"message": e.body.Message,
		"status":  e.status,
		"details": nil,
		"hint":    nil,
	}
	if e.body.Details != nil {
		ext["details"] = *e.body.Details
	}
	if e.body.Hint != nil {
		ext["hint"] = *e.body.Hint
	}
	return ext
}
