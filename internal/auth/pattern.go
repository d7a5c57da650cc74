package auth

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

const (
	literalSegment = `[a-zA-Z0-9._-]+`
	paramSegment   = `:[a-zA-Z][a-zA-Z0-9_-]*\??`
)

var routePatternGrammar = regexp.MustCompile(
	`^/api/(` + literalSegment + `|` + paramSegment + `)(/(` + literalSegment + `|` + paramSegment + `))*$`,
)

// AllowedMethods lists the HTTP methods a permission may grant.
var AllowedMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE"}

// NormalizeMethod uppercases method and checks it against AllowedMethods.
func NormalizeMethod(method string) (string, error) {
	m := strings.ToUpper(strings.TrimSpace(method))
	for _, allowed := range AllowedMethods {
		if m == allowed {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: invalid method %q", ErrInvalidInput, method)
}

// ValidateRoutePattern checks the /api/... segment grammar used for stored permissions.
func ValidateRoutePattern(pattern string) error {
	if !routePatternGrammar.MatchString(pattern) {
		return fmt.Errorf("%w: invalid route pattern %q", ErrInvalidInput, pattern)
	}
	return nil
}

// Pattern is a compiled route template such as /api/user/:id or /api/roles/:id?.
type Pattern struct {
	raw      string
	segments []patternSegment
}

type patternSegment struct {
	literal  string
	param    string
	optional bool
}

func (s patternSegment) accepts(value string) bool {
	if value == "" {
		return false
	}
	if s.param != "" {
		return true
	}
	return strings.EqualFold(s.literal, value)
}

// CompilePattern parses a route template. ":name" matches one segment and a
// trailing "?" makes that segment optional.
func CompilePattern(raw string) (Pattern, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "/") {
		return Pattern{}, fmt.Errorf("%w: route pattern must start with /", ErrInvalidInput)
	}
	trimmed := strings.TrimSuffix(raw[1:], "/")
	p := Pattern{raw: raw}
	if trimmed == "" {
		return p, nil
	}
	for _, part := range strings.Split(trimmed, "/") {
		if part == "" {
			return Pattern{}, fmt.Errorf("%w: empty segment in route pattern %q", ErrInvalidInput, raw)
		}
		if !strings.HasPrefix(part, ":") {
			if strings.HasSuffix(part, "?") {
				return Pattern{}, fmt.Errorf("%w: only parameters can be optional in %q", ErrInvalidInput, raw)
			}
			p.segments = append(p.segments, patternSegment{literal: part})
			continue
		}
		seg := patternSegment{param: part[1:]}
		if strings.HasSuffix(seg.param, "?") {
			seg.param = strings.TrimSuffix(seg.param, "?")
			seg.optional = true
		}
		if seg.param == "" {
			return Pattern{}, fmt.Errorf("%w: unnamed parameter in route pattern %q", ErrInvalidInput, raw)
		}
		p.segments = append(p.segments, seg)
	}
	return p, nil
}

// String returns the source template.
func (p Pattern) String() string { return p.raw }

// Match tests a request path against the pattern and returns captured
// parameters. Query and fragment are ignored, one trailing slash is
// tolerated, and segments are percent-decoded after splitting.
func (p Pattern) Match(path string) (map[string]string, bool) {
	segs, err := splitRequestPath(path)
	if err != nil {
		return nil, false
	}
	params := make(map[string]string)
	if !matchSegments(p.segments, segs, params) {
		return nil, false
	}
	return params, true
}

func matchSegments(pattern []patternSegment, segs []string, params map[string]string) bool {
	if len(pattern) == 0 {
		return len(segs) == 0
	}
	head := pattern[0]
	if len(segs) > 0 && head.accepts(segs[0]) {
		if head.param != "" {
			params[head.param] = segs[0]
		}
		if matchSegments(pattern[1:], segs[1:], params) {
			return true
		}
		if head.param != "" {
			delete(params, head.param)
		}
	}
	if head.optional {
		return matchSegments(pattern[1:], segs, params)
	}
	return false
}

var errRelativePath = errors.New("request path must be absolute")

func splitRequestPath(path string) ([]string, error) {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		path = "/"
	}
	if !strings.HasPrefix(path, "/") {
		return nil, errRelativePath
	}
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	if path == "/" {
		return nil, nil
	}
	raw := strings.Split(path[1:], "/")
	out := make([]string, len(raw))
	for i, seg := range raw {
		decoded, err := url.PathUnescape(seg)
		if err != nil {
			return nil, err
		}
		out[i] = decoded
	}
	return out, nil
}
