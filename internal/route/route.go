package route

import (
	"net/url"
	"strings"
)

// Route pairs a pattern with an opaque handler value; the dispatcher
// type-asserts Handler to whatever function signature it expects.
type Route struct {
	Pattern *Pattern
	Handler any
}

// Table is an ordered list of routes, matched in insertion order.
type Table struct {
	routes []Route
}

// Add appends a route. Insertion order is significant: per spec §4.6/§8
// property 4, the first structurally matching route wins even if its
// parameter coercion later fails.
func (t *Table) Add(r Route) {
	t.routes = append(t.routes, r)
}

// Result is a successful match: the selected route and its coerced
// parameters (path captures and query parameters, keyed by name).
type Result struct {
	Route  Route
	Params map[string]any
}

// Match finds the first route whose method and path shape matches, then
// coerces its captured parameters. It returns (nil, nil) on no
// structural match at all (the dispatcher renders 404), or (nil, err)
// if the matching route's parameters fail to coerce (err is a
// *ParameterError, rendered as 400).
func (t *Table) Match(method, path string, query url.Values) (*Result, error) {
	tokens := tokenizePath(path)

	for _, r := range t.routes {
		if r.Pattern.Method != method {
			continue
		}

		if r.Pattern.Regex != nil {
			if r.Pattern.Regex.MatchString(path) {
				return &Result{Route: r, Params: map[string]any{}}, nil
			}
			continue
		}

		if !structuralMatch(r.Pattern.Segments, tokens) {
			continue
		}

		params, err := coerceParams(r.Pattern, tokens, query)
		if err != nil {
			return nil, err
		}
		return &Result{Route: r, Params: params}, nil
	}
	return nil, nil
}

func tokenizePath(path string) []string {
	var tokens []string
	for _, seg := range strings.Split(path, "/") {
		if seg != "" {
			tokens = append(tokens, seg)
		}
	}
	return tokens
}

// structuralMatch checks segment count and literal equality, without
// attempting type coercion on captures.
func structuralMatch(segments []Segment, tokens []string) bool {
	if len(segments) != len(tokens) {
		return false
	}
	for i, seg := range segments {
		if seg.Kind == segmentLiteral && seg.Literal != tokens[i] {
			return false
		}
	}
	return true
}

func coerceParams(p *Pattern, tokens []string, query url.Values) (map[string]any, error) {
	params := make(map[string]any)

	for i, seg := range p.Segments {
		if seg.Kind != segmentCapture {
			continue
		}
		v, err := Coerce(seg.Type, tokens[i])
		if err != nil {
			return nil, &ParameterError{Name: seg.Name, Type: seg.Type, Value: tokens[i]}
		}
		params[seg.Name] = v
	}

	for _, qp := range p.Query {
		raw := query.Get(qp.Name)
		if raw == "" {
			if qp.HasDefault {
				v, err := Coerce(qp.Type, qp.Default)
				if err != nil {
					return nil, &ParameterError{Name: qp.Name, Type: qp.Type, Value: qp.Default}
				}
				params[qp.Name] = v
			}
			continue
		}
		v, err := Coerce(qp.Type, raw)
		if err != nil {
			return nil, &ParameterError{Name: qp.Name, Type: qp.Type, Value: raw}
		}
		params[qp.Name] = v
	}

	return params, nil
}
