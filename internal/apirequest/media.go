package apirequest

import (
	"strings"

	"pgrest/internal/apierror"
)

// MediaType is a response representation.
type MediaType int

const (
	MediaJSON MediaType = iota
	MediaCSV
	MediaSingularJSON
)

// ContentType is the Content-Type header value for the representation.
func (m MediaType) ContentType() string {
	switch m {
	case MediaCSV:
		return "text/csv; charset=utf-8"
	case MediaSingularJSON:
		return "application/vnd.pgrst.object+json; charset=utf-8"
	default:
		return "application/json; charset=utf-8"
	}
}

var mediaTypes = map[string]MediaType{
	"*/*":                               MediaJSON,
	"application/*":                     MediaJSON,
	"application/json":                  MediaJSON,
	"text/csv":                          MediaCSV,
	"text/*":                            MediaCSV,
	"application/vnd.pgrst.object":      MediaSingularJSON,
	"application/vnd.pgrst.object+json": MediaSingularJSON,
}

// NegotiateAccept picks the first supported media type in the Accept header.
// Quality values are not weighed; listing order decides.
func NegotiateAccept(header string) (MediaType, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return MediaJSON, nil
	}
	for _, part := range strings.Split(header, ",") {
		name, _, _ := strings.Cut(part, ";")
		name = strings.ToLower(strings.TrimSpace(name))
		if m, ok := mediaTypes[name]; ok {
			return m, nil
		}
	}
	return MediaJSON, apierror.NotAcceptable(header)
}
