package dispatch

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Request is the parsed form of an incoming HTTP request.
type Request struct {
	// Method is the HTTP method.
	Method string

	// Service is the first path segment, naming the target service.
	Service string

	// Tokens are the remaining path segments, URL-decoded.
	Tokens []string

	// Query holds the flat query parameters, URL-decoded. A repeated
	// parameter keeps its last value.
	Query map[string]string

	// Body is the decoded request body: a JSON value when the body
	// parses, the raw string otherwise, nil when empty.
	Body any
}

// ParseRequest decomposes r into service name, path tokens, query map and
// decoded body.
func ParseRequest(r *http.Request) (*Request, error) {
	req := &Request{
		Method: r.Method,
		Query:  parseQuery(r.URL.RawQuery),
	}

	path := strings.Trim(r.URL.Path, "/")
	if path != "" {
		segments := strings.Split(path, "/")
		req.Service = decodeSegment(segments[0])
		for _, seg := range segments[1:] {
			req.Tokens = append(req.Tokens, decodeSegment(seg))
		}
	}

	if r.Body != nil {
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, err
		}
		if len(raw) > 0 {
			var v any
			if err := json.Unmarshal(raw, &v); err != nil {
				req.Body = string(raw)
			} else {
				req.Body = v
			}
		}
	}

	return req, nil
}

// BodyMap returns the body as an object, or nil when the body is absent or
// not a JSON object.
func (r *Request) BodyMap() map[string]any {
	m, _ := r.Body.(map[string]any)
	return m
}

// parseQuery flattens a raw query string into a map. Unlike url.ParseQuery
// it keeps the last value of a repeated key and leaves '+' alone, matching
// percent-decoding semantics.
func parseQuery(raw string) map[string]string {
	query := make(map[string]string)
	for _, pair := range strings.Split(raw, "&") {
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		query[decodeSegment(key)] = decodeSegment(value)
	}
	return query
}

func decodeSegment(s string) string {
	decoded, err := url.PathUnescape(s)
	if err != nil {
		return s
	}
	return decoded
}
