// Package search implements fuzzy ranking of a session's messages against
// a query string. No pack repo imports a ready-made fuzzywuzzy-style
// weighted-ratio library, so this composes github.com/hbollon/go-edlib's
// string-similarity primitives into the same partial/token-sort/token-set
// ratio family that library ports implement elsewhere (see DESIGN.md for
// why this is the one out-of-pack dependency in the module).
package search

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/hbollon/go-edlib"

	"github.com/shared-context/mcp-server/internal/apierr"
	"github.com/shared-context/mcp-server/internal/authz"
	"github.com/shared-context/mcp-server/internal/cache"
	"github.com/shared-context/mcp-server/internal/identity"
	"github.com/shared-context/mcp-server/internal/message"
	"github.com/shared-context/mcp-server/internal/storage"
)

const (
	minQueryLen     = 1
	maxQueryLen     = 500
	defaultThreshold = 60
	defaultLimit    = 10
	maxLimit        = 100
)

// Scope restricts which visibility classes participate in a search.
type Scope string

const (
	ScopeAll     Scope = "all"
	ScopePublic  Scope = "public"
	ScopePrivate Scope = "private"
)

// Result pairs a message with its similarity score (0..100).
type Result struct {
	Message message.Message `json:"message"`
	Score   int             `json:"score"`
}

// Engine ranks a session's messages by fuzzy similarity to a query.
type Engine struct {
	backend        *storage.Backend
	policy         *authz.Policy
	cache          *cache.Cache
	searchMetadata bool
}

// New builds a search Engine.
func New(backend *storage.Backend, policy *authz.Policy, c *cache.Cache) *Engine {
	return &Engine{backend: backend, policy: policy, cache: c}
}

// Search ranks sessionID's messages visible to caller against query,
// keeping results scoring at or above threshold, sorted by score
// descending then by newer timestamp first, truncated to limit.
func (e *Engine) Search(ctx context.Context, caller identity.Identity, sessionID, query string, threshold, limit int, searchMetadata bool, scope Scope) ([]Result, error) {
	if !authz.RequireRead(caller) {
		return nil, apierr.New(apierr.PermissionDenied, "read permission required")
	}
	query = strings.TrimSpace(query)
	if len(query) < minQueryLen || len(query) > maxQueryLen {
		return nil, apierr.New(apierr.ValidationError, "query must be 1-500 characters").WithDetail("query", "length")
	}
	if threshold < 0 || threshold > 100 {
		threshold = defaultThreshold
	}
	if limit <= 0 || limit > maxLimit {
		limit = defaultLimit
	}

	cacheKey := sessionID + "|" + query + "|" + scopeKey(scope, searchMetadata)
	var rows []message.Message
	if cached, ok := e.cache.Get(cache.ClassSearch, cacheKey); ok {
		if cr, ok := cached.([]message.Message); ok {
			rows = cr
		}
	}
	if rows == nil {
		if err := e.backend.Query(ctx, &rows, `
			SELECT id, session_id, sender, content, visibility, message_type, metadata, timestamp, parent_message_id
			FROM messages WHERE session_id = ? ORDER BY id ASC`, sessionID); err != nil {
			return nil, apierr.New(apierr.Internal, "failed to load messages for search").WithCause(err)
		}
		e.cache.Set(cache.ClassSearch, cacheKey, rows)
	}

	lowerQuery := strings.ToLower(query)
	results := make([]Result, 0, len(rows))
	for _, m := range rows {
		if !e.policy.CanRead(caller, authz.MessageRef{Sender: m.Sender, Visibility: authz.Visibility(m.Visibility)}) {
			continue
		}
		if !inScope(authz.Visibility(m.Visibility), scope) {
			continue
		}
		haystack := searchable(m, searchMetadata)
		score := WeightedRatio(lowerQuery, haystack)
		if score >= threshold {
			results = append(results, Result{Message: m, Score: score})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Message.Timestamp.After(results[j].Message.Timestamp)
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func scopeKey(scope Scope, withMetadata bool) string {
	if withMetadata {
		return string(scope) + ":meta"
	}
	return string(scope)
}

func inScope(v authz.Visibility, scope Scope) bool {
	switch scope {
	case ScopePublic:
		return v == authz.VisibilityPublic
	case ScopePrivate:
		return v != authz.VisibilityPublic
	default:
		return true
	}
}

func searchable(m message.Message, includeMetadata bool) string {
	var b strings.Builder
	b.WriteString(m.Sender)
	b.WriteByte(' ')
	b.WriteString(m.Content)
	if includeMetadata {
		var obj map[string]interface{}
		if err := json.Unmarshal(m.Metadata, &obj); err == nil {
			for _, v := range obj {
				if s, ok := v.(string); ok {
					b.WriteByte(' ')
					b.WriteString(s)
				}
			}
		}
	}
	return strings.ToLower(b.String())
}

// WeightedRatio composes partial, token-sort, and token-set ratios into a
// single 0..100 score, preferring the token-based ratios when the two
// strings diverge sharply in token count (short query against a long
// candidate) and the plain/partial ratio otherwise.
func WeightedRatio(query, candidate string) int {
	if query == "" || candidate == "" {
		return 0
	}
	if query == candidate {
		return 100
	}

	base := ratio(query, candidate)
	partial := partialRatio(query, candidate)
	tokenSort := tokenSortRatio(query, candidate)
	tokenSet := tokenSetRatio(query, candidate)

	qTokens := tokenize(query)
	cTokens := tokenize(candidate)
	lengthRatio := 1.0
	if len(qTokens) > 0 && len(cTokens) > 0 {
		shorter, longer := len(qTokens), len(cTokens)
		if shorter > longer {
			shorter, longer = longer, shorter
		}
		lengthRatio = float64(shorter) / float64(longer)
	}

	var score float64
	if lengthRatio < 0.5 {
		// token counts diverge a lot: trust the token-based ratios most,
		// since a short query embedded in a long message should still
		// score well even though the plain ratio penalizes the length gap.
		score = 0.4*float64(tokenSet) + 0.4*float64(tokenSort) + 0.2*float64(partial)
	} else {
		score = 0.5*float64(base) + 0.25*float64(partial) + 0.15*float64(tokenSort) + 0.1*float64(tokenSet)
	}
	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return int(score + 0.5)
}

func ratio(a, b string) int {
	return similarityScore(a, b)
}

// partialRatio scores the best-aligned substring window of the longer
// string against the shorter one.
func partialRatio(a, b string) int {
	shorter, longer := a, b
	if len(a) > len(b) {
		shorter, longer = b, a
	}
	if len(shorter) == 0 {
		return 0
	}
	if len(longer) <= len(shorter) {
		return similarityScore(shorter, longer)
	}

	best := 0
	step := len(shorter) / 2
	if step < 1 {
		step = 1
	}
	for i := 0; i+len(shorter) <= len(longer); i += step {
		window := longer[i : i+len(shorter)]
		if s := similarityScore(shorter, window); s > best {
			best = s
		}
	}
	// always check the final window too, in case the stride skipped past it
	if tail := longer[len(longer)-len(shorter):]; true {
		if s := similarityScore(shorter, tail); s > best {
			best = s
		}
	}
	return best
}

func tokenSortRatio(a, b string) int {
	return similarityScore(sortedTokens(a), sortedTokens(b))
}

func tokenSetRatio(a, b string) int {
	aTokens := tokenSet(a)
	bTokens := tokenSet(b)

	intersection := intersect(aTokens, bTokens)
	aOnly := difference(aTokens, intersection)
	bOnly := difference(bTokens, intersection)

	sortedIntersection := strings.Join(intersection, " ")
	combinedA := strings.TrimSpace(sortedIntersection + " " + strings.Join(aOnly, " "))
	combinedB := strings.TrimSpace(sortedIntersection + " " + strings.Join(bOnly, " "))

	s1 := similarityScore(sortedIntersection, combinedA)
	s2 := similarityScore(sortedIntersection, combinedB)
	s3 := similarityScore(combinedA, combinedB)

	best := s1
	if s2 > best {
		best = s2
	}
	if s3 > best {
		best = s3
	}
	return best
}

// similarityScore wraps edlib's Jaro-Winkler similarity, scaled 0..100.
func similarityScore(a, b string) int {
	if a == b {
		return 100
	}
	if a == "" || b == "" {
		return 0
	}
	sim, err := edlib.StringsSimilarity(a, b, edlib.JaroWinkler)
	if err != nil {
		return 0
	}
	score := int(sim*100 + 0.5)
	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return score
}

func tokenize(s string) []string {
	return strings.Fields(s)
}

func sortedTokens(s string) string {
	tokens := tokenize(s)
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}

func tokenSet(s string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range tokenize(s) {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}

func intersect(a, b []string) []string {
	bSet := make(map[string]bool, len(b))
	for _, t := range b {
		bSet[t] = true
	}
	var out []string
	for _, t := range a {
		if bSet[t] {
			out = append(out, t)
		}
	}
	return out
}

func difference(a, minus []string) []string {
	minusSet := make(map[string]bool, len(minus))
	for _, t := range minus {
		minusSet[t] = true
	}
	var out []string
	for _, t := range a {
		if !minusSet[t] {
			out = append(out, t)
		}
	}
	return out
}
