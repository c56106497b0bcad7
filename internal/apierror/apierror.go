// Package apierror defines the error taxonomy shared by every request stage and its
// mapping to stable machine-readable codes and HTTP statuses.
package apierror

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
)

// Kind is the taxonomy family an error belongs to.
type Kind int

const (
	KindInternal Kind = iota
	KindSchema
	KindFilter
	KindResolution
	KindValidation
	KindExecution
	KindTransport
)

func (k Kind) String() string {
	switch k {
	case KindSchema:
		return "schema"
	case KindFilter:
		return "filter"
	case KindResolution:
		return "resolution"
	case KindValidation:
		return "validation"
	case KindExecution:
		return "execution"
	case KindTransport:
		return "transport"
	default:
		return "internal"
	}
}

// Stable error codes.
const (
	CodeConnection          = "PGRST000"
	CodeSchemaCacheNotReady = "PGRST002"
	CodePoolTimeout         = "PGRST003"

	CodeFilterSyntax       = "PGRST100"
	CodeInvalidRequest     = "PGRST101"
	CodeInvalidBody        = "PGRST102"
	CodeInvalidRange       = "PGRST103"
	CodeInvalidPreference  = "PGRST105"
	CodeSchemaNotExposed   = "PGRST106"
	CodeNotAcceptable      = "PGRST107"
	CodeSingularViolation  = "PGRST116"
	CodeEmbedNotSelected   = "PGRST120"
	CodeMaxEmbedDepth      = "PGRST121"
	CodeCircularEmbed      = "PGRST122"
	CodeFilterType         = "PGRST124"
	CodeInvalidCast        = "PGRST125"
	CodeNoRelationship     = "PGRST200"
	CodeAmbiguousRelation  = "PGRST201"
	CodeRoutineNotFound    = "PGRST202"
	CodeUnknownColumn      = "PGRST204"
	CodeTableNotFound      = "PGRST205"
	CodeNotInsertable      = "PGRST301"
	CodeNotUpdatable       = "PGRST302"
	CodeNotDeletable       = "PGRST303"
	CodeNoUpsertTarget     = "PGRST304"
	CodeMissingColumns     = "PGRST305"
	CodeInconsistentColumn = "PGRST306"
	CodeJWT                = "PGRST300"
	CodeInternal           = "PGRST900"
)

// Error is a classified API error. Details and hints are attached as
// cockroachdb/errors wrappers around it.
type Error struct {
	Kind    Kind
	Code    string
	Status  int
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// New creates a classified error.
func New(kind Kind, code string, status int, format string, args ...interface{}) error {
	return &Error{Kind: kind, Code: code, Status: status, Message: fmt.Sprintf(format, args...)}
}

// WithDetail attaches a details string that surfaces in the response body.
func WithDetail(err error, detail string) error {
	if err == nil || detail == "" {
		return err
	}
	return errors.WithDetail(err, detail)
}

// WithHint attaches a hint that surfaces in the response body.
func WithHint(err error, hint string) error {
	if err == nil || hint == "" {
		return err
	}
	return errors.WithHint(err, hint)
}

// As extracts the classified error from a chain.
func As(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code string) bool {
	apiErr, ok := As(err)
	return ok && apiErr.Code == code
}

// IsKind reports whether err belongs to the given taxonomy family.
func IsKind(err error, kind Kind) bool {
	apiErr, ok := As(err)
	return ok && apiErr.Kind == kind
}

// Body is the wire representation of an error.
type Body struct {
	Code    string  `json:"code"`
	Message string  `json:"message"`
	Details *string `json:"details"`
	Hint    *string `json:"hint"`
}

// Describe maps an error to its HTTP status and response body. Errors outside the
// taxonomy are reported as internal errors without leaking their text.
func Describe(err error) (int, Body) {
	apiErr, ok := As(err)
	if !ok {
		return http.StatusInternalServerError, Body{
			Code:    CodeInternal,
			Message: "internal server error",
		}
	}
	body := Body{Code: apiErr.Code, Message: apiErr.Message}
	if details := errors.GetAllDetails(err); len(details) > 0 {
		joined := strings.Join(details, "\n")
		body.Details = &joined
	}
	if hints := errors.GetAllHints(err); len(hints) > 0 {
		joined := strings.Join(hints, "\n")
		body.Hint = &joined
	}
	status := apiErr.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return status, body
}
