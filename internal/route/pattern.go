package route

import (
	"regexp"
	"strings"
)

type segmentKind int

const (
	segmentLiteral segmentKind = iota
	segmentCapture
)

// Segment is one "/"-delimited piece of a path pattern.
type Segment struct {
	Kind    segmentKind
	Literal string
	Name    string
	Type    ParamType
}

// QueryParam is one declared query-string parameter.
type QueryParam struct {
	Name       string
	Type       ParamType
	Default    string
	HasDefault bool
}

// Pattern is a parsed route pattern: either a sequence of literal/capture
// path segments plus declared query parameters, or a raw precompiled
// regex matched against the whole path (Regex non-nil), per spec §4.6's
// "raw-regex pattern variant" with no captured parameters.
type Pattern struct {
	Method   string
	Segments []Segment
	Query    []QueryParam
	Regex    *regexp.Regexp
}

// Parse decodes a pattern string such as
// "/{device}/sample?from={unsigned_integer}&count={integer:100}".
func Parse(method, pattern string) (*Pattern, error) {
	p := &Pattern{Method: method}

	pathPart, queryPart, _ := strings.Cut(pattern, "?")
	for _, raw := range strings.Split(pathPart, "/") {
		if raw == "" {
			continue
		}
		seg, err := parseSegment(raw)
		if err != nil {
			return nil, err
		}
		p.Segments = append(p.Segments, seg)
	}

	if queryPart != "" {
		for _, kv := range strings.Split(queryPart, "&") {
			if kv == "" {
				continue
			}
			qp, err := parseQueryParam(kv)
			if err != nil {
				return nil, err
			}
			p.Query = append(p.Query, qp)
		}
	}

	return p, nil
}

// Label returns a low-cardinality string identifying this pattern's
// shape, suitable as a metrics label (e.g. "/{device}/sample" or a
// regex route's source pattern) instead of the raw request path.
func (p *Pattern) Label() string {
	if p.Regex != nil {
		return p.Regex.String()
	}
	var b strings.Builder
	for _, seg := range p.Segments {
		b.WriteByte('/')
		if seg.Kind == segmentCapture {
			b.WriteByte('{')
			b.WriteString(seg.Name)
			b.WriteByte('}')
		} else {
			b.WriteString(seg.Literal)
		}
	}
	if b.Len() == 0 {
		return "/"
	}
	return b.String()
}

// NewRegex builds a raw-regex route pattern: re is matched against the
// full request path, and no parameters are captured.
func NewRegex(method string, re *regexp.Regexp) *Pattern {
	return &Pattern{Method: method, Regex: re}
}

func parseSegment(raw string) (Segment, error) {
	if !strings.HasPrefix(raw, "{") || !strings.HasSuffix(raw, "}") {
		return Segment{Kind: segmentLiteral, Literal: raw}, nil
	}
	inner := raw[1 : len(raw)-1]
	name, typ, _ := strings.Cut(inner, ":")
	t := ParamType(typ)
	if t == "" {
		t = TypeString
	}
	return Segment{Kind: segmentCapture, Name: name, Type: t}, nil
}

// parseQueryParam decodes "name={type}" or "name={type:default}".
func parseQueryParam(kv string) (QueryParam, error) {
	name, spec, _ := strings.Cut(kv, "=")
	spec = strings.TrimPrefix(spec, "{")
	spec = strings.TrimSuffix(spec, "}")

	typ, def, hasDefault := strings.Cut(spec, ":")
	t := ParamType(typ)
	if t == "" {
		t = TypeString
	}
	return QueryParam{Name: name, Type: t, Default: def, HasDefault: hasDefault}, nil
}
