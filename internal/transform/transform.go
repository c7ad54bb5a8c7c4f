// Package transform implements the declarative request/response mutations
// described in spec.md §3: header and URL rewriting, body replacement, and
// JSON merge/patch, with content-encoding-aware decode/mutate/re-encode.
package transform

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"

	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/httpmock/interceptor/internal/codec"
	"github.com/httpmock/interceptor/internal/model"
)

// MatchReplace is one pattern+replacement pair applied to a URL part. If
// Regex is true, Pattern is compiled as a regular expression; Global
// controls whether all matches are replaced (true) or only the first
// (false).
type MatchReplace struct {
	Pattern     string
	Replacement string
	Regex       bool
	Global      bool
}

// HostReplacement rewrites the request authority.
type HostReplacement struct {
	Target string
	// UpdateHostHeader: nil means the default (set Host to Target); a
	// pointer to "" means leave the Host header untouched; any other value
	// sets the Host header to that literal string.
	UpdateHostHeader *string
}

// Spec is the full set of mutations that may be applied to an outgoing
// request or an incoming upstream response. Only the fields relevant to the
// direction (request vs response) are consulted; ReplaceStatus
// only applies to responses.
type Spec struct {
	ReplaceMethod *string
	SetProtocol   *string // "http" or "https"

	ReplaceHost *HostReplacement

	MatchReplaceHost  []MatchReplace
	MatchReplacePath  []MatchReplace
	MatchReplaceQuery []MatchReplace

	UpdateHeaders  map[string]*string // nil value => delete
	ReplaceHeaders []model.HeaderField

	ReplaceBody         []byte
	ReplaceBodyFromFile string
	MatchReplaceBody    []MatchReplace
	PatchJSONBody       []byte // RFC 6902 patch document
	UpdateJSONBody      map[string]any

	ReplaceStatus *int
}

// ErrMissingFile is returned when ReplaceBodyFromFile names a file that does
// not exist.
type ErrMissingFile struct{ Path string }

func (e *ErrMissingFile) Error() string { return fmt.Sprintf("transform: file not found: %s", e.Path) }

// ReadFileFunc abstracts filesystem access so tests can inject a fake.
type ReadFileFunc func(path string) ([]byte, error)

// ApplyURL applies the host/path/query match-replace transforms, in that
// order, to the request's scheme/host/path/query. Transforms run before any
// beforeRequest hook sees the URL, per §4.5 step 1.
func ApplyURL(spec *Spec, scheme, host, path, query string) (newScheme, newHost, newPath, newQuery string, err error) {
	newScheme, newHost, newPath, newQuery = scheme, host, path, query

	if spec.SetProtocol != nil {
		newScheme = *spec.SetProtocol
	}
	if spec.ReplaceHost != nil {
		newHost = spec.ReplaceHost.Target
	}

	if newHost, err = applyMatchReplace(spec.MatchReplaceHost, newHost); err != nil {
		return "", "", "", "", err
	}
	if newPath, err = applyMatchReplace(spec.MatchReplacePath, newPath); err != nil {
		return "", "", "", "", err
	}
	if newQuery, err = applyMatchReplace(spec.MatchReplaceQuery, newQuery); err != nil {
		return "", "", "", "", err
	}
	return newScheme, newHost, newPath, newQuery, nil
}

func applyMatchReplace(pairs []MatchReplace, input string) (string, error) {
	out := input
	for _, pair := range pairs {
		if pair.Regex {
			re, err := regexp.Compile(pair.Pattern)
			if err != nil {
				return "", fmt.Errorf("transform: invalid pattern %q: %w", pair.Pattern, err)
			}
			if pair.Global {
				out = re.ReplaceAllString(out, pair.Replacement)
			} else {
				replaced := false
				out = re.ReplaceAllStringFunc(out, func(m string) string {
					if replaced {
						return m
					}
					replaced = true
					return re.ReplaceAllString(m, pair.Replacement)
				})
			}
		} else {
			out = replaceFirstOrAll(out, pair.Pattern, pair.Replacement, pair.Global)
		}
	}
	return out, nil
}

func replaceFirstOrAll(s, old, new string, global bool) string {
	if global {
		return regexp.MustCompile(regexp.QuoteMeta(old)).ReplaceAllString(s, new)
	}
	idx := indexOf(s, old)
	if idx < 0 {
		return s
	}
	return s[:idx] + new + s[idx+len(old):]
}

func indexOf(s, sub string) int {
	if sub == "" {
		return -1
	}
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

// ApplyHeaders applies updateHeaders (merge: nil value deletes) or
// replaceHeaders (wholesale replacement) to a header set, preserving the
// case and ordering of untouched headers per §4.5's raw-header-preservation
// requirement.
func ApplyHeaders(spec *Spec, headers *model.Headers) *model.Headers {
	if spec.ReplaceHeaders != nil {
		return model.NewHeaders(spec.ReplaceHeaders)
	}
	out := headers
	for name, value := range spec.UpdateHeaders {
		if value == nil {
			out = out.WithRemoved(name)
		} else {
			out = out.WithSet(name, *value)
		}
	}
	return out
}

// ApplyHostHeader implements the updateHostHeader policy described in §4.5:
// true (default, nil pointer) sets the Host header to targetAuthority,
// false ("" sentinel) preserves the original, any other string is used
// verbatim.
func ApplyHostHeader(headers *model.Headers, repl *HostReplacement, targetAuthority string) *model.Headers {
	if repl == nil {
		return headers
	}
	if repl.UpdateHostHeader == nil {
		return headers.WithSet("Host", targetAuthority)
	}
	if *repl.UpdateHostHeader == "" {
		return headers
	}
	return headers.WithSet("Host", *repl.UpdateHostHeader)
}

// BodyTransformResult carries the outcome of applying the body transform
// pipeline, including whether the body was actually overridden (needed for
// the rule-event "overridden" flag in §4.5 step 5/7).
type BodyTransformResult struct {
	Body       []byte
	Overridden bool
}

// ApplyBody applies the body transform precedence order from §4.5 step 4:
// replaceBodyFromFile > replaceBody > matchReplaceBody > patchJsonBody >
// updateJsonBody. Only one body-replacement transform fires (first one
// present in this order); JSON transforms decode/re-encode honouring
// contentEncoding (the stack named by the Content-Encoding header).
func ApplyBody(spec *Spec, original []byte, contentEncoding []string, readFile ReadFileFunc) (BodyTransformResult, error) {
	switch {
	case spec.ReplaceBodyFromFile != "":
		data, err := readFile(spec.ReplaceBodyFromFile)
		if err != nil {
			return BodyTransformResult{}, &ErrMissingFile{Path: spec.ReplaceBodyFromFile}
		}
		return BodyTransformResult{Body: data, Overridden: true}, nil

	case spec.ReplaceBody != nil:
		return BodyTransformResult{Body: spec.ReplaceBody, Overridden: true}, nil

	case len(spec.MatchReplaceBody) > 0:
		decoded, err := codec.Decode(contentEncoding, original)
		if err != nil {
			return BodyTransformResult{}, err
		}
		text, err := applyMatchReplace(spec.MatchReplaceBody, string(decoded))
		if err != nil {
			return BodyTransformResult{}, err
		}
		reencoded, err := codec.Encode(contentEncoding, []byte(text))
		if err != nil {
			return BodyTransformResult{}, err
		}
		return BodyTransformResult{Body: reencoded, Overridden: true}, nil

	case len(spec.PatchJSONBody) > 0:
		decoded, err := codec.Decode(contentEncoding, original)
		if err != nil {
			return BodyTransformResult{}, err
		}
		patch, err := jsonpatch.DecodePatch(spec.PatchJSONBody)
		if err != nil {
			return BodyTransformResult{}, fmt.Errorf("transform: invalid JSON patch: %w", err)
		}
		patched, err := patch.Apply(decoded)
		if err != nil {
			return BodyTransformResult{}, fmt.Errorf("transform: applying JSON patch: %w", err)
		}
		reencoded, err := codec.Encode(contentEncoding, patched)
		if err != nil {
			return BodyTransformResult{}, err
		}
		return BodyTransformResult{Body: reencoded, Overridden: true}, nil

	case spec.UpdateJSONBody != nil:
		decoded, err := codec.Decode(contentEncoding, original)
		if err != nil {
			return BodyTransformResult{}, err
		}
		merged, err := mergeJSON(decoded, spec.UpdateJSONBody)
		if err != nil {
			return BodyTransformResult{}, err
		}
		reencoded, err := codec.Encode(contentEncoding, merged)
		if err != nil {
			return BodyTransformResult{}, err
		}
		return BodyTransformResult{Body: reencoded, Overridden: true}, nil

	default:
		return BodyTransformResult{Body: original, Overridden: false}, nil
	}
}

// mergeJSON merges delta into the JSON object encoded in original; a nil
// value for a key deletes it (matching updateJsonBody's "undefined =>
// delete" semantics, since Go's encoding/json cannot distinguish "absent"
// from "explicit null" any other way for this API).
func mergeJSON(original []byte, delta map[string]any) ([]byte, error) {
	var obj map[string]any
	if len(bytes.TrimSpace(original)) == 0 {
		obj = map[string]any{}
	} else if err := json.Unmarshal(original, &obj); err != nil {
		return nil, fmt.Errorf("transform: updateJsonBody on non-object body: %w", err)
	}
	for k, v := range delta {
		if v == nil {
			delete(obj, k)
			continue
		}
		obj[k] = v
	}
	return json.Marshal(obj)
}
