package apierror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescribe_ClassifiedError(t *testing.T) {
	err := AmbiguousRelationship("orders", "users", []string{"orders_buyer_id_fkey", "orders_seller_id_fkey"})

	status, body := Describe(err)
	assert.Equal(t, http.StatusMultipleChoices, status)
	assert.Equal(t, CodeAmbiguousRelation, body.Code)
	require.NotNil(t, body.Details)
	assert.Contains(t, *body.Details, "orders_buyer_id_fkey")
	assert.Contains(t, *body.Details, "orders_seller_id_fkey")
	require.NotNil(t, body.Hint)
	assert.Contains(t, *body.Hint, "'users!orders_buyer_id_fkey'")
}

func TestDescribe_WrappedError(t *testing.T) {
	err := fmt.Errorf("planning: %w", NoUpsertTarget("accounts", []string{"(id)"}))

	status, body := Describe(err)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, CodeNoUpsertTarget, body.Code)
	assert.True(t, HasCode(err, CodeNoUpsertTarget))
	assert.True(t, IsKind(err, KindValidation))
}

func TestDescribe_UnclassifiedError(t *testing.T) {
	status, body := Describe(errors.New("dial tcp: secret host"))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, CodeInternal, body.Code)
	assert.NotContains(t, body.Message, "secret")
	assert.Nil(t, body.Details)
	assert.Nil(t, body.Hint)
}

func TestDescribe_DatabaseError(t *testing.T) {
	err := Database("23505", http.StatusConflict, "duplicate key value violates unique constraint", "Key (id)=(1) already exists.", "")
	status, body := Describe(err)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "23505", body.Code)
	require.NotNil(t, body.Details)
	assert.Equal(t, "Key (id)=(1) already exists.", *body.Details)
	assert.Nil(t, body.Hint)
	assert.True(t, IsKind(err, KindExecution))
}

func TestKindStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		kind   Kind
		status int
	}{
		{"table not found", TableNotFound("public", "nope"), KindSchema, http.StatusNotFound},
		{"unknown column", UnknownColumn("orders", "nope"), KindSchema, http.StatusBadRequest},
		{"filter syntax", FilterSyntax("bad"), KindFilter, http.StatusBadRequest},
		{"filter type", FilterType("price", "lt", "not a number"), KindFilter, http.StatusBadRequest},
		{"depth", MaxEmbedDepthExceeded(5), KindResolution, http.StatusBadRequest},
		{"circular", CircularEmbed("a"), KindResolution, http.StatusBadRequest},
		{"missing columns", MissingRequiredColumns("t", []string{"a"}), KindValidation, http.StatusBadRequest},
		{"not insertable", NotInsertable("v"), KindValidation, http.StatusMethodNotAllowed},
		{"pool timeout", PoolTimeout(0), KindExecution, http.StatusGatewayTimeout},
		{"statement timeout", StatementTimeout(), KindExecution, http.StatusGatewayTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			apiErr, ok := As(tt.err)
			require.True(t, ok)
			assert.Equal(t, tt.kind, apiErr.Kind)
			status, _ := Describe(tt.err)
			assert.Equal(t, tt.status, status)
		})
	}
}
