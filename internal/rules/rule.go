package rules

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/httpmock/interceptor/internal/model"
)

// Rule pairs an immutable definition with mutable per-rule state (seen-count
// and seen-requests), per the "Rule = {definition (immutable), state
// (atomic counter + list)}" design note in §9.
type Rule[S Step] struct {
	ID          string // stable, opaque unless the caller supplied one
	UserID      string // caller-supplied id, "" if none
	Priority    int
	InsertOrder int64
	Matchers    []Matcher
	Step        S
	Completion  CompletionPredicate

	state ruleState
}

type ruleState struct {
	seenCount    int64
	mu           sync.Mutex
	seenRequests []*model.Request
}

// Explanation builds the human-readable description used by
// getMockedEndpoints: a join of every matcher's fragment plus the step's.
func (r *Rule[S]) Explanation() string {
	var parts []string
	for _, m := range r.Matchers {
		parts = append(parts, m.Explain())
	}
	parts = append(parts, r.Step.Explain())
	return strings.Join(parts, " ")
}

// Matches reports whether every matcher in the rule's list accepts req,
// evaluated left-to-right with short-circuit on the first false (§4.3).
func (r *Rule[S]) Matches(req *model.Request) bool {
	for _, m := range r.Matchers {
		if !m.Match(req) {
			return false
		}
	}
	return true
}

// Eligible reports whether the rule's completion predicate still allows a
// match, given its current seen-count.
func (r *Rule[S]) Eligible() bool {
	return r.Completion.Eligible(int(atomic.LoadInt64(&r.state.seenCount)))
}

// TryRecordSeen atomically checks the completion predicate and, if still
// eligible, increments the seen-count and appends req to the seen-requests
// list, as a single serialisation point per §5 ("Completion counts are
// incremented atomically with respect to concurrent requests"). A plain
// load-then-increment would let two concurrent requests both observe
// eligibility before either records a match, over-firing a `once` rule;
// the compare-and-swap loop below closes that window.
func (r *Rule[S]) TryRecordSeen(req *model.Request) bool {
	for {
		cur := atomic.LoadInt64(&r.state.seenCount)
		if !r.Completion.Eligible(int(cur)) {
			return false
		}
		if atomic.CompareAndSwapInt64(&r.state.seenCount, cur, cur+1) {
			r.state.mu.Lock()
			r.state.seenRequests = append(r.state.seenRequests, req)
			r.state.mu.Unlock()
			return true
		}
	}
}

// SeenCount returns the current match count.
func (r *Rule[S]) SeenCount() int { return int(atomic.LoadInt64(&r.state.seenCount)) }

// SeenRequests returns a snapshot of every request that has matched this
// rule so far.
func (r *Rule[S]) SeenRequests() []*model.Request {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()
	return append([]*model.Request(nil), r.state.seenRequests...)
}

// StateDescription renders "seen N" or "done" for diagnostics.
func (r *Rule[S]) StateDescription() string {
	return r.Completion.State(r.SeenCount())
}

// EndpointHandle is the stable handle returned by getMockedEndpoints (§4.3,
// §6): id, explanation, seen-count, and access to seen requests.
type EndpointHandle struct {
	ID           string
	Explanation  string
	SeenCount    int
	SeenRequests func() []*model.Request
}

func handleFor[S Step](r *Rule[S]) EndpointHandle {
	return EndpointHandle{
		ID:           r.ID,
		Explanation:  r.Explanation(),
		SeenCount:    r.SeenCount(),
		SeenRequests: r.SeenRequests,
	}
}

// ErrDuplicateID is returned when a caller-supplied rule id collides with an
// existing one (§4.3: "callers may supply their own, in which case the
// engine rejects duplicates").
type ErrDuplicateID struct{ ID string }

func (e *ErrDuplicateID) Error() string { return fmt.Sprintf("rules: duplicate rule id %q", e.ID) }
