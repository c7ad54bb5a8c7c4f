package rules

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/httpmock/interceptor/internal/model"
)

// Engine holds an ordered rule table and evaluates requests against it
// (§4.3). It is generic over the Step type so the same matcher/priority/
// completion machinery serves both HTTP request rules and WebSocket rules
// (spec.md keeps these as parallel tables: addRequestRules/addWebSocketRules).
//
// Thread-safe: Match is called concurrently from every connection's
// goroutine; Add/Set/Reset take the single writer lock described in §5,
// readers take a snapshot so matching never blocks administration.
type Engine[S Step] struct {
	mu      sync.RWMutex
	rules   []*Rule[S]
	ids     map[string]bool
	nextSeq int64
}

// NewEngine returns an empty rule table.
func NewEngine[S Step]() *Engine[S] {
	return &Engine[S]{ids: make(map[string]bool)}
}

// RuleSpec is the caller-facing shape for registering a new rule; ID is
// optional (a UUID is minted if empty).
type RuleSpec[S Step] struct {
	ID         string
	Priority   int
	Matchers   []Matcher
	Step       S
	Completion CompletionPredicate
}

// AddRules appends the given rules to the table (addRequestRules /
// addWebSocketRules), returning their stable handles. Rejects a batch
// entirely on the first duplicate id so registration is all-or-nothing.
func (e *Engine[S]) AddRules(specs ...RuleSpec[S]) ([]EndpointHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	built := make([]*Rule[S], 0, len(specs))
	seen := make(map[string]bool, len(specs))
	for _, spec := range specs {
		id := spec.ID
		if id == "" {
			id = uuid.NewString()
		} else if e.ids[id] || seen[id] {
			return nil, &ErrDuplicateID{ID: id}
		}
		seen[id] = true
		completion := spec.Completion
		if completion == (CompletionPredicate{}) {
			completion = Once()
		}
		built = append(built, &Rule[S]{
			ID:          id,
			UserID:      spec.ID,
			Priority:    spec.Priority,
			InsertOrder: atomic.AddInt64(&e.nextSeq, 1),
			Matchers:    spec.Matchers,
			Step:        spec.Step,
			Completion:  completion,
		})
	}

	for _, r := range built {
		e.ids[r.ID] = true
	}
	e.rules = append(e.rules, built...)
	e.sortLocked()

	handles := make([]EndpointHandle, len(built))
	for i, r := range built {
		handles[i] = handleFor(r)
	}
	return handles, nil
}

// SetRules replaces the entire rule table (setRequestRules / setWebSocketRules).
func (e *Engine[S]) SetRules(specs ...RuleSpec[S]) ([]EndpointHandle, error) {
	e.mu.Lock()
	e.rules = nil
	e.ids = make(map[string]bool)
	e.mu.Unlock()
	return e.AddRules(specs...)
}

// Reset drops all rules and recorded traffic.
func (e *Engine[S]) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = nil
	e.ids = make(map[string]bool)
}

func (e *Engine[S]) sortLocked() {
	sort.SliceStable(e.rules, func(i, j int) bool {
		if e.rules[i].Priority != e.rules[j].Priority {
			return e.rules[i].Priority > e.rules[j].Priority
		}
		return e.rules[i].InsertOrder < e.rules[j].InsertOrder
	})
}

// Match walks the rule table in (priority desc, insertion asc) order and
// returns the first matching, not-yet-exhausted rule, recording the match.
// Returns nil if nothing matches.
func (e *Engine[S]) Match(req *model.Request) *Rule[S] {
	e.mu.RLock()
	snapshot := e.rules // slice header copy is a stable snapshot (§5)
	e.mu.RUnlock()

	for _, r := range snapshot {
		if !r.Eligible() {
			continue
		}
		if r.Matches(req) && r.TryRecordSeen(req) {
			return r
		}
	}
	return nil
}

// GetMockedEndpoints returns stable handles for every registered rule, in
// table order.
func (e *Engine[S]) GetMockedEndpoints() []EndpointHandle {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]EndpointHandle, len(e.rules))
	for i, r := range e.rules {
		out[i] = handleFor(r)
	}
	return out
}

// ExplainNoMatch builds the diagnostic body for a request that matched no
// rule: every configured rule with its state (seen N / done), per §4.3's
// "explanatory response whose body lists the configured rules with state".
func (e *Engine[S]) ExplainNoMatch(req *model.Request) string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var b strings.Builder
	fmt.Fprintf(&b, "No rules matched %s %s\n\n", req.Method, req.Path)
	if len(e.rules) == 0 {
		b.WriteString("No rules have been registered.\n")
		return b.String()
	}
	b.WriteString("Configured rules:\n")
	for _, r := range e.rules {
		fmt.Fprintf(&b, "  - %s (%s)\n", r.Explanation(), r.StateDescription())
	}
	fmt.Fprintf(&b, "\nTry registering a rule matching %s %s.\n", req.Method, req.Path)
	return b.String()
}
