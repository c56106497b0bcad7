// Package planner compiles resolved resource trees, filters and payloads into
// plans the SQL builder renders. Literal coercion against declared column
// types happens here, so a plan carries only typed, validated values.
package planner
