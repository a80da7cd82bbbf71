package formsession

import (
	"fmt"
	"strings"
)

// AuthenticationError reports rejected credentials or a login response the
// session could not interpret.
type AuthenticationError struct {
	Backend string
	Reason  string
}

func (e *AuthenticationError) Error() string {
	reason := strings.TrimSpace(e.Reason)
	if reason == "" {
		reason = "Unknown"
	}
	return fmt.Sprintf("failed to log in to %s: %s", e.Backend, reason)
}

// AmbiguousMatchError is returned when a name lookup that must resolve to
// exactly one identifier yields none or several.
type AmbiguousMatchError struct {
	Kind       string
	Term       string
	Candidates []Match
}

func (e *AmbiguousMatchError) Error() string {
	if len(e.Candidates) == 0 {
		return fmt.Sprintf("no %s matches %q", e.Kind, e.Term)
	}
	labels := make([]string, 0, len(e.Candidates))
	for _, candidate := range e.Candidates {
		labels = append(labels, candidate.Label)
	}
	return fmt.Sprintf("ambiguous %s %q: %d matches (%s)", e.Kind, e.Term, len(e.Candidates), strings.Join(labels, "; "))
}

// ProtocolError means the remote form no longer behaves as expected: an
// unexpected status, a missing redirect or a missing token.
type ProtocolError struct {
	Op     string
	Status int
	Reason string
}

func (e *ProtocolError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.Status, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}
