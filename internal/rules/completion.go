package rules

import "fmt"

// CompletionPredicate decides whether a rule is still eligible to match,
// based on how many times it has already been seen.
type CompletionPredicate struct {
	// Times is the number of matches after which the rule is exhausted.
	// The zero value is a sentinel meaning "no predicate supplied" — it is
	// never a valid predicate on its own; Engine.AddRules substitutes it
	// with Once() before storing the rule. A negative value means "always"
	// (never exhausted). Construct predicates via Once/Twice/Thrice/Times/
	// Always rather than this struct literal directly.
	Times int
}

// Once, Twice, Thrice, and Always are the named predicates from §3;
// Times(n) builds an arbitrary count. Always uses a negative sentinel so it
// never collides with the zero-value "unset" sentinel Engine.AddRules checks
// for — both used to be CompletionPredicate{Times: 0}, which silently turned
// every explicitly-registered Always() rule into a Once() rule.
func Once() CompletionPredicate   { return CompletionPredicate{Times: 1} }
func Twice() CompletionPredicate  { return CompletionPredicate{Times: 2} }
func Thrice() CompletionPredicate { return CompletionPredicate{Times: 3} }
func Always() CompletionPredicate { return CompletionPredicate{Times: -1} }
func Times(n int) CompletionPredicate {
	if n < 1 {
		n = 1
	}
	return CompletionPredicate{Times: n}
}

// Eligible reports whether a rule with this predicate and the given seen
// count may still match. Times <= 0 covers both the explicit Always()
// sentinel and the unset zero value, so a predicate that somehow reaches
// here unsubstituted fails open rather than exhausting immediately.
func (p CompletionPredicate) Eligible(seenCount int) bool {
	if p.Times <= 0 {
		return true
	}
	return seenCount < p.Times
}

// State renders the teacher-style "seen N" / "done" diagnostic fragment used
// in the no-match explanatory body (§4.3's example scenario).
func (p CompletionPredicate) State(seenCount int) string {
	if !p.Eligible(seenCount) {
		return "done"
	}
	return fmt.Sprintf("seen %d", seenCount)
}
