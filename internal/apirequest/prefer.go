package apirequest

import (
	"strings"

	"pgrest/internal/apierror"
)

// ReturnPreference selects what a mutation responds with.
type ReturnPreference string

const (
	ReturnUnspecified    ReturnPreference = ""
	ReturnMinimal        ReturnPreference = "minimal"
	ReturnHeadersOnly    ReturnPreference = "headers-only"
	ReturnRepresentation ReturnPreference = "representation"
)

// CountPreference selects how the total row count is computed.
type CountPreference string

const (
	CountNone      CountPreference = ""
	CountExact     CountPreference = "exact"
	CountPlanned   CountPreference = "planned"
	CountEstimated CountPreference = "estimated"
)

// Resolution selects the upsert conflict behaviour.
type Resolution string

const (
	ResolutionNone             Resolution = ""
	ResolutionMergeDuplicates  Resolution = "merge-duplicates"
	ResolutionIgnoreDuplicates Resolution = "ignore-duplicates"
)

// Preferences holds the recognised Prefer header tokens.
type Preferences struct {
	Return         ReturnPreference
	Count          CountPreference
	Resolution     Resolution
	MissingDefault bool
	Rollback       bool
	TxExplicit     bool
	Strict         bool

	// Invalid lists tokens that were not understood.
	Invalid []string
}

// ParsePrefer parses one or more Prefer header values. Unknown tokens are
// ignored unless handling=strict is present.
func ParsePrefer(values []string) (Preferences, error) {
	var p Preferences
	for _, value := range values {
		for _, token := range strings.Split(value, ",") {
			token = strings.TrimSpace(token)
			if token == "" {
				continue
			}
			key, val, _ := strings.Cut(token, "=")
			key = strings.ToLower(strings.TrimSpace(key))
			val = strings.ToLower(strings.Trim(strings.TrimSpace(val), `"`))
			if !p.apply(key, val) {
				p.Invalid = append(p.Invalid, token)
			}
		}
	}
	if p.Strict && len(p.Invalid) > 0 {
		return Preferences{}, apierror.InvalidPreference(p.Invalid)
	}
	return p, nil
}

func (p *Preferences) apply(key, val string) bool {
	switch key {
	case "return":
		switch r := ReturnPreference(val); r {
		case ReturnMinimal, ReturnHeadersOnly, ReturnRepresentation:
			p.Return = r
			return true
		}
	case "count":
		switch c := CountPreference(val); c {
		case CountExact, CountPlanned, CountEstimated:
			p.Count = c
			return true
		}
	case "resolution":
		switch r := Resolution(val); r {
		case ResolutionMergeDuplicates, ResolutionIgnoreDuplicates:
			p.Resolution = r
			return true
		}
	case "missing":
		if val == "default" {
			p.MissingDefault = true
			return true
		}
		if val == "null" {
			p.MissingDefault = false
			return true
		}
	case "tx":
		switch val {
		case "commit":
			p.Rollback, p.TxExplicit = false, true
			return true
		case "rollback":
			p.Rollback, p.TxExplicit = true, true
			return true
		}
	case "handling":
		switch val {
		case "strict":
			p.Strict = true
			return true
		case "lenient":
			p.Strict = false
			return true
		}
	}
	return false
}

// Applied lists the preferences honoured, for the Preference-Applied header.
func (p Preferences) Applied() []string {
	var out []string
	if p.Return != ReturnUnspecified {
		out = append(out, "return="+string(p.Return))
	}
	if p.Count != CountNone {
		out = append(out, "count="+string(p.Count))
	}
	if p.Resolution != ResolutionNone {
		out = append(out, "resolution="+string(p.Resolution))
	}
	if p.MissingDefault {
		out = append(out, "missing=default")
	}
	if p.TxExplicit {
		if p.Rollback {
			out = append(out, "tx=rollback")
		} else {
			out = append(out, "tx=commit")
		}
	}
	if p.Strict {
		out = append(out, "handling=strict")
	}
	return out
}
