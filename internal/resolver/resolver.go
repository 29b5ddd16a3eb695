// Package resolver maps a raw operator string off a parsed receipt to a
// mapped application name and a P2P flag: normalize, exact match, longest
// substring match, then a language-model fallback, ported from the
// dictionary-matching design of the prior Python implementation.
package resolver

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"receipt-pipeline/server/internal/database"
	"receipt-pipeline/server/internal/services"
)

// modelResultTTL bounds how long a cached model-fallback decision is reused
// before the resolver asks the model again for the same operator string.
const modelResultTTL = 24 * time.Hour

type cachedModelResult struct {
	ApplicationName string
	IsP2P           bool
	Matched         bool
}

type MatchType string

const (
	MatchExact     MatchType = "EXACT"
	MatchSubstring MatchType = "SUBSTRING"
	MatchModel     MatchType = "MODEL"
	MatchNone      MatchType = "NONE"
)

// Result is the resolver's decision for one raw operator string.
type Result struct {
	ReferenceID      *int64
	MatchedOperator  string
	ApplicationName  *string
	IsP2P            bool
	MatchType        MatchType
}

type mapping struct {
	id              int64
	normalized      string
	applicationName string
	isP2P           bool
}

var (
	collapseSpace = regexp.MustCompile(`[\s\t\n]+`)
	stripNonAlnum = regexp.MustCompile(`[^A-Z0-9 ]`)
)

// Normalize uppercases, strips non-alphanumeric characters, and collapses
// whitespace so dictionary matching is resilient to spacing/punctuation
// noise in operator strings.
func Normalize(raw string) string {
	s := strings.ToUpper(raw)
	s = collapseSpace.ReplaceAllString(s, " ")
	s = stripNonAlnum.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(s), " ")
}

// Resolver holds the in-memory dictionary cache, refreshed from the
// database, plus the optional model fallback client.
type Resolver struct {
	db                *database.DB
	model             *services.ModelClient
	cache             services.CacheService
	confidenceThresh  float64

	mu       sync.RWMutex
	mappings []mapping
}

func New(db *database.DB, model *services.ModelClient, cache services.CacheService, confidenceThreshold float64) *Resolver {
	return &Resolver{db: db, model: model, cache: cache, confidenceThresh: confidenceThreshold}
}

// Refresh reloads the active dictionary rows from storage. Called once on
// startup; a mapping activated later is not picked up until the next call.
func (r *Resolver) Refresh() error {
	refs, err := r.db.ListActiveOperatorReferences()
	if err != nil {
		return err
	}

	mappings := make([]mapping, 0, len(refs))
	for _, ref := range refs {
		mappings = append(mappings, mapping{
			id:              ref.ID,
			normalized:      Normalize(ref.OperatorName),
			applicationName: ref.ApplicationName,
			isP2P:           ref.IsP2P,
		})
	}

	r.mu.Lock()
	r.mappings = mappings
	r.mu.Unlock()
	return nil
}

// Resolve maps operatorRaw to an application name. On a dictionary miss it
// falls back to the model (if configured), accepting the model's answer only
// when application != "Unknown" and confidence >= the configured threshold;
// otherwise it returns the heuristic P2P-substring result with no mapped
// application, per §4.6.
func (r *Resolver) Resolve(ctx context.Context, operatorRaw, rawText string) Result {
	normalized := Normalize(operatorRaw)

	r.mu.RLock()
	mappings := r.mappings
	r.mu.RUnlock()

	if res, ok := matchDictionary(normalized, mappings); ok {
		return res
	}

	if r.model.Enabled() {
		cacheKey := services.GenerateOperatorCacheKey(normalized)
		var cached cachedModelResult
		if r.cache != nil && r.cache.Get(ctx, cacheKey, &cached) == nil {
			if cached.Matched {
				app := cached.ApplicationName
				return Result{ApplicationName: &app, IsP2P: cached.IsP2P, MatchType: MatchModel}
			}
		} else {
			known := knownApplications(mappings)
			hints := candidateExamples(normalized, mappings, 10)
			fields, err := r.model.ResolveOperator(ctx, operatorRaw, rawText, known, hints)
			if err == nil {
				if res, ok := r.acceptModelResult(fields, operatorRaw); ok {
					if r.cache != nil {
						_ = r.cache.Set(ctx, cacheKey, cachedModelResult{
							ApplicationName: *res.ApplicationName,
							IsP2P:           res.IsP2P,
							Matched:         true,
						}, modelResultTTL)
					}
					return res
				}
				if r.cache != nil {
					_ = r.cache.Set(ctx, cacheKey, cachedModelResult{Matched: false}, modelResultTTL)
				}
			}
		}
	}

	isP2P := strings.Contains(strings.ToUpper(operatorRaw), "P2P")
	return Result{IsP2P: isP2P, MatchType: MatchNone}
}

func matchDictionary(normalized string, mappings []mapping) (Result, bool) {
	for _, m := range mappings {
		if m.normalized == normalized {
			id := m.id
			app := m.applicationName
			return Result{
				ReferenceID:     &id,
				MatchedOperator: m.normalized,
				ApplicationName: &app,
				IsP2P:           m.isP2P,
				MatchType:       MatchExact,
			}, true
		}
	}

	var best *mapping
	for i := range mappings {
		m := &mappings[i]
		if m.normalized == "" {
			continue
		}
		if strings.Contains(normalized, m.normalized) {
			if best == nil || len(m.normalized) > len(best.normalized) {
				best = m
			}
		}
	}
	if best != nil {
		id := best.id
		app := best.applicationName
		return Result{
			ReferenceID:     &id,
			MatchedOperator: best.normalized,
			ApplicationName: &app,
			IsP2P:           best.isP2P,
			MatchType:       MatchSubstring,
		}, true
	}

	return Result{}, false
}

func (r *Resolver) acceptModelResult(fields map[string]interface{}, operatorRaw string) (Result, bool) {
	appName, _ := fields["application_name"].(string)
	confidence, _ := fields["confidence"].(float64)
	isP2P, _ := fields["is_p2p"].(bool)

	if appName == "" || strings.EqualFold(appName, "Unknown") || confidence < r.confidenceThresh {
		if rec, ok := fields["recommended_operator_name"].(string); ok && rec != "" {
			_ = r.db.InsertSuggestedOperator(Normalize(rec), "Unknown", isP2P)
		}
		return Result{}, false
	}

	if len(appName) > 200 {
		appName = appName[:200]
	}
	if confidence > 1 {
		confidence = 1
	} else if confidence < 0 {
		confidence = 0
	}

	app := appName
	return Result{ApplicationName: &app, IsP2P: isP2P, MatchType: MatchModel}, true
}

func knownApplications(mappings []mapping) []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range mappings {
		if !seen[m.applicationName] {
			seen[m.applicationName] = true
			out = append(out, m.applicationName)
		}
	}
	return out
}

type scoredCandidate struct {
	mapping mapping
	score   int
}

// candidateExamples ranks dictionary entries by similarity to the raw
// operator string, for inclusion as hints in the model fallback prompt:
// exact match scores highest, then substring containment either direction,
// then token overlap.
func candidateExamples(normalized string, mappings []mapping, limit int) []string {
	tokens := strings.Fields(normalized)
	tokenSet := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		tokenSet[t] = true
	}

	var scored []scoredCandidate
	for _, m := range mappings {
		score := 0
		if m.normalized == normalized {
			score += 100
		}
		if strings.Contains(normalized, m.normalized) || strings.Contains(m.normalized, normalized) {
			score += len(m.normalized)
		}
		overlap := 0
		for _, t := range strings.Fields(m.normalized) {
			if tokenSet[t] {
				overlap++
			}
		}
		score += 5 * overlap
		if score > 0 {
			scored = append(scored, scoredCandidate{mapping: m, score: score})
		}
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		if len(scored[i].mapping.normalized) != len(scored[j].mapping.normalized) {
			return len(scored[i].mapping.normalized) > len(scored[j].mapping.normalized)
		}
		return scored[i].mapping.id < scored[j].mapping.id
	})

	if len(scored) > limit {
		scored = scored[:limit]
	}

	out := make([]string, 0, len(scored))
	for _, s := range scored {
		out = append(out, fmt.Sprintf("%s -> %s", s.mapping.normalized, s.mapping.applicationName))
	}
	return out
}
