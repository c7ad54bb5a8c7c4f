package rules

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/gobwas/glob"

	"github.com/httpmock/interceptor/internal/model"
)

// Matcher is a predicate over a Request. Matchers contribute a fragment to
// a rule's human-readable explanation string (§3).
type Matcher interface {
	Match(req *model.Request) bool
	Explain() string
}

// MethodMatcher matches the HTTP method, case-insensitively.
type MethodMatcher struct{ Method string }

func (m MethodMatcher) Match(req *model.Request) bool {
	return strings.EqualFold(req.Method, m.Method)
}
func (m MethodMatcher) Explain() string { return fmt.Sprintf("for %s requests", strings.ToUpper(m.Method)) }

// AbsoluteURLMatcher matches the exact absolute URL.
type AbsoluteURLMatcher struct{ URL string }

func (m AbsoluteURLMatcher) Match(req *model.Request) bool { return req.AbsoluteURL() == m.URL }
func (m AbsoluteURLMatcher) Explain() string               { return fmt.Sprintf("for %s", m.URL) }

// PathPrefixMatcher matches requests whose path has the given prefix,
// supporting glob wildcards (e.g. "/api/*").
type PathPrefixMatcher struct {
	Prefix string
	g      glob.Glob
}

// NewPathPrefixMatcher compiles the glob pattern once at registration.
func NewPathPrefixMatcher(prefix string) (*PathPrefixMatcher, error) {
	g, err := glob.Compile(prefix + "*")
	if err != nil {
		return nil, fmt.Errorf("rules: invalid path prefix %q: %w", prefix, err)
	}
	return &PathPrefixMatcher{Prefix: prefix, g: g}, nil
}

func (m *PathPrefixMatcher) Match(req *model.Request) bool {
	return strings.HasPrefix(req.Path, m.Prefix) || m.g.Match(req.Path)
}
func (m *PathPrefixMatcher) Explain() string { return fmt.Sprintf("for paths starting with %s", m.Prefix) }

// PathRegexMatcher matches the path against a compiled regex.
type PathRegexMatcher struct {
	Pattern string
	re      *regexp.Regexp
}

func NewPathRegexMatcher(pattern string) (*PathRegexMatcher, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("rules: invalid path regex %q: %w", pattern, err)
	}
	return &PathRegexMatcher{Pattern: pattern, re: re}, nil
}

func (m *PathRegexMatcher) Match(req *model.Request) bool { return m.re.MatchString(req.Path) }
func (m *PathRegexMatcher) Explain() string               { return fmt.Sprintf("for paths matching %s", m.Pattern) }

// WildcardMatcher matches the full path (or absolute URL, if the pattern
// contains "://") against a glob pattern, e.g. "https://*.example.com/*".
type WildcardMatcher struct {
	Pattern string
	g       glob.Glob
}

func NewWildcardMatcher(pattern string) (*WildcardMatcher, error) {
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("rules: invalid wildcard %q: %w", pattern, err)
	}
	return &WildcardMatcher{Pattern: pattern, g: g}, nil
}

func (m *WildcardMatcher) Match(req *model.Request) bool {
	if strings.Contains(m.Pattern, "://") {
		return m.g.Match(req.AbsoluteURL())
	}
	return m.g.Match(req.Path)
}
func (m *WildcardMatcher) Explain() string { return fmt.Sprintf("matching wildcard %s", m.Pattern) }

// HostMatcher matches host (and, if Port != 0, the exact port).
type HostMatcher struct {
	Host string
	Port int
}

func (m HostMatcher) Match(req *model.Request) bool {
	if !strings.EqualFold(req.Host, m.Host) {
		return false
	}
	if m.Port != 0 && req.Port != m.Port {
		return false
	}
	return true
}
func (m HostMatcher) Explain() string { return fmt.Sprintf("for host %s", m.Host) }

// QueryEqualsMatcher matches a request whose query string decodes to exactly
// the given key/value pairs.
type QueryEqualsMatcher struct{ Values url.Values }

func (m QueryEqualsMatcher) Match(req *model.Request) bool {
	got, err := url.ParseQuery(req.Query)
	if err != nil {
		return false
	}
	return valuesEqual(got, m.Values)
}
func (m QueryEqualsMatcher) Explain() string { return "with exact query parameters" }

// QueryIncludesMatcher matches a request whose query string includes (at
// least) the given key/value pairs.
type QueryIncludesMatcher struct{ Values url.Values }

func (m QueryIncludesMatcher) Match(req *model.Request) bool {
	got, err := url.ParseQuery(req.Query)
	if err != nil {
		return false
	}
	return valuesInclude(got, m.Values)
}
func (m QueryIncludesMatcher) Explain() string { return "including query parameters" }

// HeaderIncludesMatcher matches a request carrying at least the given
// headers (case-insensitive names; for multi-value headers, any one value
// matching is sufficient).
type HeaderIncludesMatcher struct{ Headers http.Header }

func (m HeaderIncludesMatcher) Match(req *model.Request) bool {
	for name, wantVals := range m.Headers {
		gotVals := req.Headers.Values(name)
		for _, want := range wantVals {
			if !containsString(gotVals, want) {
				return false
			}
		}
	}
	return true
}
func (m HeaderIncludesMatcher) Explain() string { return "including headers" }

// CookieEqualsMatcher matches a request whose Cookie header contains exactly
// the given name=value pair.
type CookieEqualsMatcher struct{ Name, Value string }

func (m CookieEqualsMatcher) Match(req *model.Request) bool {
	header := req.Headers.Get("Cookie")
	for _, part := range strings.Split(header, ";") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) == 2 && kv[0] == m.Name && kv[1] == m.Value {
			return true
		}
	}
	return false
}
func (m CookieEqualsMatcher) Explain() string { return fmt.Sprintf("with cookie %s=%s", m.Name, m.Value) }

// FormEqualsMatcher matches a urlencoded-form body equal to the given values.
type FormEqualsMatcher struct{ Values url.Values }

func (m FormEqualsMatcher) Match(req *model.Request) bool {
	got, ok := req.Body.URLEncodedForm()
	if !ok {
		return false
	}
	return valuesEqual(got, m.Values)
}
func (m FormEqualsMatcher) Explain() string { return "with exact form body" }

// FormIncludesMatcher matches a urlencoded-form body that includes the given
// values.
type FormIncludesMatcher struct{ Values url.Values }

func (m FormIncludesMatcher) Match(req *model.Request) bool {
	got, ok := req.Body.URLEncodedForm()
	if !ok {
		return false
	}
	return valuesInclude(got, m.Values)
}
func (m FormIncludesMatcher) Explain() string { return "including form fields" }

// JSONBodyEqualsMatcher matches a JSON body deep-equal to Value.
type JSONBodyEqualsMatcher struct{ Value any }

func (m JSONBodyEqualsMatcher) Match(req *model.Request) bool {
	got, ok := req.Body.JSON()
	if !ok {
		return false
	}
	return jsonDeepEqual(got, m.Value)
}
func (m JSONBodyEqualsMatcher) Explain() string { return "with exact JSON body" }

// JSONBodyIncludesMatcher matches a JSON object body that is a superset of
// Value (Value must itself be a JSON object).
type JSONBodyIncludesMatcher struct{ Value map[string]any }

func (m JSONBodyIncludesMatcher) Match(req *model.Request) bool {
	got, ok := req.Body.JSON()
	if !ok {
		return false
	}
	gotMap, ok := got.(map[string]any)
	if !ok {
		return false
	}
	for k, v := range m.Value {
		gv, exists := gotMap[k]
		if !exists || !jsonDeepEqual(gv, v) {
			return false
		}
	}
	return true
}
func (m JSONBodyIncludesMatcher) Explain() string { return "including JSON fields" }

// RawBodyEqualsMatcher matches the raw body bytes exactly.
type RawBodyEqualsMatcher struct{ Body []byte }

func (m RawBodyEqualsMatcher) Match(req *model.Request) bool {
	return string(req.Body.Buffer()) == string(m.Body)
}
func (m RawBodyEqualsMatcher) Explain() string { return "with exact raw body" }

// RawBodyRegexMatcher matches the raw body against a compiled regex.
type RawBodyRegexMatcher struct {
	Pattern string
	re      *regexp.Regexp
}

func NewRawBodyRegexMatcher(pattern string) (*RawBodyRegexMatcher, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("rules: invalid raw body regex %q: %w", pattern, err)
	}
	return &RawBodyRegexMatcher{Pattern: pattern, re: re}, nil
}
func (m *RawBodyRegexMatcher) Match(req *model.Request) bool { return m.re.Match(req.Body.Buffer()) }
func (m *RawBodyRegexMatcher) Explain() string               { return fmt.Sprintf("with raw body matching %s", m.Pattern) }

func valuesEqual(got, want url.Values) bool {
	if len(got) != len(want) {
		return false
	}
	return valuesInclude(got, want)
}

func valuesInclude(got, want url.Values) bool {
	for k, wantVals := range want {
		gotVals, ok := got[k]
		if !ok {
			return false
		}
		for _, w := range wantVals {
			if !containsString(gotVals, w) {
				return false
			}
		}
	}
	return true
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func jsonDeepEqual(a, b any) bool {
	ab, err1 := json.Marshal(a)
	bb, err2 := json.Marshal(b)
	if err1 != nil || err2 != nil {
		return false
	}
	var av, bv any
	_ = json.Unmarshal(ab, &av)
	_ = json.Unmarshal(bb, &bv)
	return fmt.Sprint(av) == fmt.Sprint(bv)
}
