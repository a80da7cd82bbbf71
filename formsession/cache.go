package formsession

import (
	"context"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Match is one lookup candidate.
type Match struct {
	Label string `json:"label"`
	ID    string `json:"id"`
}

// LookupFunc queries the backend for kind entities whose name contains term.
type LookupFunc func(ctx context.Context, kind, term string) ([]Match, error)

type lookupKey struct {
	kind string
	term string
}

// LookupCache memoizes name lookups for the lifetime of a session. The full
// result list is kept since the same term is asked for from several places.
type LookupCache struct {
	fetch   LookupFunc
	entries map[lookupKey][]Match
}

func NewLookupCache(fetch LookupFunc) *LookupCache {
	return &LookupCache{fetch: fetch, entries: make(map[lookupKey][]Match)}
}

// Resolve returns every match for term, querying the backend on a miss.
func (c *LookupCache) Resolve(ctx context.Context, kind, term string) ([]Match, error) {
	key := lookupKey{kind: kind, term: term}
	if matches, ok := c.entries[key]; ok {
		return matches, nil
	}

	log.WithFields(log.Fields{"kind": kind, "term": term}).Debug("lookup cache miss")
	matches, err := c.fetch(ctx, kind, term)
	if err != nil {
		return nil, err
	}
	c.entries[key] = matches
	return matches, nil
}

// ResolveOne narrows the matches for term to exactly one identifier. Labels
// equal to term win over partial matches.
func (c *LookupCache) ResolveOne(ctx context.Context, kind, term string) (Match, error) {
	matches, err := c.Resolve(ctx, kind, term)
	if err != nil {
		return Match{}, err
	}
	return Narrow(kind, term, matches)
}

// Len reports how many distinct lookups are cached.
func (c *LookupCache) Len() int {
	return len(c.entries)
}

// Narrow picks the single match for term, preferring exact label matches.
func Narrow(kind, term string, matches []Match) (Match, error) {
	candidates := uniqueMatches(matches)
	exact := make([]Match, 0, 1)
	for _, match := range candidates {
		if equalName(match.Label, term) {
			exact = append(exact, match)
		}
	}
	if len(exact) > 0 {
		candidates = exact
	}
	if len(candidates) != 1 {
		return Match{}, &AmbiguousMatchError{Kind: kind, Term: term, Candidates: candidates}
	}
	return candidates[0], nil
}

func uniqueMatches(values []Match) []Match {
	seen := make(map[string]struct{}, len(values))
	result := make([]Match, 0, len(values))
	for _, value := range values {
		if _, ok := seen[value.ID]; ok {
			continue
		}
		seen[value.ID] = struct{}{}
		result = append(result, value)
	}
	return result
}

func equalName(a, b string) bool {
	return strings.EqualFold(normalize(a), normalize(b))
}

func normalize(value string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(value)), " ")
}
