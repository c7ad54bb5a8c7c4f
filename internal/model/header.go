// Package model defines the unified Request/Response data shown to rule
// matchers, transforms, and event subscribers, independent of whether the
// traffic arrived as HTTP/1.1 or HTTP/2.
package model

import "strings"

// HeaderField is one raw header as it appeared on the wire: case and
// duplicates preserved.
type HeaderField struct {
	Name  string
	Value string
}

// Headers is an ordered, case-preserving header list with a case-insensitive
// lookup map layered on top, matching the "ordered raw header list... a
// normalised lowercase header map" pairing described for Request/Response.
type Headers struct {
	raw    []HeaderField
	lookup map[string][]string // lowercase name -> values, preserves order
}

// NewHeaders builds a Headers set from an ordered raw list.
func NewHeaders(fields []HeaderField) *Headers {
	h := &Headers{
		raw:    append([]HeaderField(nil), fields...),
		lookup: make(map[string][]string, len(fields)),
	}
	for _, f := range fields {
		key := strings.ToLower(f.Name)
		h.lookup[key] = append(h.lookup[key], f.Value)
	}
	return h
}

// Raw returns the ordered, case-preserving header list.
func (h *Headers) Raw() []HeaderField {
	if h == nil {
		return nil
	}
	return append([]HeaderField(nil), h.raw...)
}

// Get returns the first value for name (case-insensitive), or "" if absent.
func (h *Headers) Get(name string) string {
	if h == nil {
		return ""
	}
	vals := h.lookup[strings.ToLower(name)]
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}

// Values returns all values for name (case-insensitive), preserving order.
func (h *Headers) Values(name string) []string {
	if h == nil {
		return nil
	}
	return append([]string(nil), h.lookup[strings.ToLower(name)]...)
}

// Has reports whether name is present (case-insensitive).
func (h *Headers) Has(name string) bool {
	if h == nil {
		return false
	}
	_, ok := h.lookup[strings.ToLower(name)]
	return ok
}

// Clone returns a deep copy, safe for independent mutation.
func (h *Headers) Clone() *Headers {
	if h == nil {
		return NewHeaders(nil)
	}
	return NewHeaders(h.raw)
}

// WithSet returns a new Headers where all occurrences of name are replaced by
// a single value, preserving the position of the first occurrence and
// leaving all other headers' case and order untouched — this is the
// building block for updateHeaders' merge semantics.
func (h *Headers) WithSet(name, value string) *Headers {
	key := strings.ToLower(name)
	out := make([]HeaderField, 0, len(h.raw)+1)
	placed := false
	for _, f := range h.raw {
		if strings.ToLower(f.Name) == key {
			if !placed {
				out = append(out, HeaderField{Name: name, Value: value})
				placed = true
			}
			continue
		}
		out = append(out, f)
	}
	if !placed {
		out = append(out, HeaderField{Name: name, Value: value})
	}
	return NewHeaders(out)
}

// WithRemoved returns a new Headers with all occurrences of name deleted.
func (h *Headers) WithRemoved(name string) *Headers {
	key := strings.ToLower(name)
	out := make([]HeaderField, 0, len(h.raw))
	for _, f := range h.raw {
		if strings.ToLower(f.Name) == key {
			continue
		}
		out = append(out, f)
	}
	return NewHeaders(out)
}

// WithAppended returns a new Headers with an additional field appended,
// allowing duplicate names (e.g. Set-Cookie).
func (h *Headers) WithAppended(name, value string) *Headers {
	out := append(h.Raw(), HeaderField{Name: name, Value: value})
	return NewHeaders(out)
}
