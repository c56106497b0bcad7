// Package scalars defines the custom GraphQL scalars used for PostgreSQL
// types that have no lossless built-in GraphQL equivalent.
package scalars

import (
	"encoding/json"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/language/ast"
)

var decimalPattern = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?$`)

func NonNegativeInt() *graphql.Scalar {
	return graphql.NewScalar(graphql.ScalarConfig{
		Name:        "NonNegativeInt",
		Description: "An integer greater than or equal to zero.",
		Serialize: func(value interface{}) interface{} {
			if parsed, ok := coerceNonNegativeInt(value); ok {
				return parsed
			}
			return nil
		},
		ParseValue: func(value interface{}) interface{} {
			if parsed, ok := coerceNonNegativeInt(value); ok {
				return parsed
			}
			return nil
		},
		ParseLiteral: func(valueAST ast.Value) interface{} {
			intValue, ok := valueAST.(*ast.IntValue)
			if !ok {
				return nil
			}
			parsed, err := strconv.Atoi(intValue.Value)
			if err != nil || parsed < 0 {
				return nil
			}
			return parsed
		},
	})
}

// JSON carries json and jsonb values, and arrays and ranges rendered as
// JSON. Output is the JSON text; input strings must hold valid JSON and are
// passed through unparsed.
func JSON() *graphql.Scalar {
	return graphql.NewScalar(graphql.ScalarConfig{
		Name:        "JSON",
		Description: "Arbitrary JSON value serialized as a string.",
		Serialize: func(value interface{}) interface{} {
			switch v := value.(type) {
			case json.RawMessage:
				return string(v)
			case []byte:
				return string(v)
			case string:
				return v
			case nil:
				return nil
			default:
				serialized, err := json.Marshal(v)
				if err != nil {
					slog.Default().Warn("failed to serialize JSON scalar", slog.String("error", err.Error()))
					return nil
				}
				return string(serialized)
			}
		},
		ParseValue: func(value interface{}) interface{} {
			switch v := value.(type) {
			case string:
				return rawJSON(v)
			case map[string]interface{}, []interface{}:
				return v
			default:
				return nil
			}
		},
		ParseLiteral: func(valueAST ast.Value) interface{} {
			if sv, ok := valueAST.(*ast.StringValue); ok {
				return rawJSON(sv.Value)
			}
			return nil
		},
	})
}

func rawJSON(s string) interface{} {
	if !json.Valid([]byte(s)) {
		return nil
	}
	return json.RawMessage(s)
}

// BigInt carries int8 values as strings so clients never round them
// through a double.
func BigInt() *graphql.Scalar {
	return graphql.NewScalar(graphql.ScalarConfig{
		Name:        "BigInt",
		Description: "64-bit integer value serialized as a string.",
		Serialize: func(value interface{}) interface{} {
			switch v := value.(type) {
			case json.Number:
				if _, err := strconv.ParseInt(string(v), 10, 64); err == nil {
					return string(v)
				}
				return nil
			case int:
				return strconv.FormatInt(int64(v), 10)
			case int32:
				return strconv.FormatInt(int64(v), 10)
			case int64:
				return strconv.FormatInt(v, 10)
			case float64:
				if v != math.Trunc(v) || math.Abs(v) > math.MaxInt64 {
					return nil
				}
				return strconv.FormatInt(int64(v), 10)
			case string:
				if _, err := strconv.ParseInt(v, 10, 64); err == nil {
					return v
				}
				return nil
			default:
				return nil
			}
		},
		ParseValue: func(value interface{}) interface{} {
			switch v := value.(type) {
			case int:
				return int64(v)
			case int32:
				return int64(v)
			case int64:
				return v
			case float64:
				if v != math.Trunc(v) || math.Abs(v) > math.MaxInt64 {
					return nil
				}
				return int64(v)
			case string:
				parsed, err := strconv.ParseInt(v, 10, 64)
				if err != nil {
					return nil
				}
				return parsed
			default:
				return nil
			}
		},
		ParseLiteral: func(valueAST ast.Value) interface{} {
			var raw string
			switch v := valueAST.(type) {
			case *ast.IntValue:
				raw = v.Value
			case *ast.StringValue:
				raw = v.Value
			default:
				return nil
			}
			parsed, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return nil
			}
			return parsed
		},
	})
}

// Decimal carries numeric values as strings. Parsed input becomes a
// json.Number so request bodies keep every digit.
func Decimal() *graphql.Scalar {
	return graphql.NewScalar(graphql.ScalarConfig{
		Name:        "Decimal",
		Description: "Fixed-point decimal value serialized as a string.",
		Serialize: func(value interface{}) interface{} {
			switch v := value.(type) {
			case json.Number:
				return string(v)
			case string:
				return v
			case int:
				return strconv.Itoa(v)
			case int64:
				return strconv.FormatInt(v, 10)
			case float64:
				return strconv.FormatFloat(v, 'f', -1, 64)
			default:
				return nil
			}
		},
		ParseValue: func(value interface{}) interface{} {
			switch v := value.(type) {
			case string:
				return decimalNumber(v)
			case int:
				return json.Number(strconv.Itoa(v))
			case float64:
				return json.Number(strconv.FormatFloat(v, 'f', -1, 64))
			default:
				return nil
			}
		},
		ParseLiteral: func(valueAST ast.Value) interface{} {
			switch v := valueAST.(type) {
			case *ast.StringValue:
				return decimalNumber(v.Value)
			case *ast.IntValue:
				return decimalNumber(v.Value)
			case *ast.FloatValue:
				return decimalNumber(v.Value)
			default:
				return nil
			}
		},
	})
}

// decimalNumber validates s and rewrites it into JSON number syntax.
func decimalNumber(s string) interface{} {
	if !decimalPattern.MatchString(s) {
		return nil
	}
	sign := ""
	switch s[0] {
	case '-':
		sign, s = "-", s[1:]
	case '+':
		s = s[1:]
	}
	if s[0] == '.' {
		s = "0" + s
	}
	if dot := strings.IndexByte(s, '.'); dot >= 0 && (dot == len(s)-1 || s[dot+1] == 'e' || s[dot+1] == 'E') {
		s = s[:dot+1] + "0" + s[dot+1:]
	}
	return json.Number(sign + s)
}

func coerceNonNegativeInt(value interface{}) (int, bool) {
	switch v := value.(type) {
	case int:
		if v < 0 {
			return 0, false
		}
		return v, true
	case int32:
		if v < 0 {
			return 0, false
		}
		return int(v), true
	case int64:
		if v < 0 || v > math.MaxInt {
			return 0, false
		}
		return int(v), true
	case float64:
		if v != math.Trunc(v) || v < 0 || v > math.MaxInt {
			return 0, false
		}
		return int(v), true
	case string:
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}
