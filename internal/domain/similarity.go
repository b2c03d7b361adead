package domain

import (
	"strings"

	"github.com/agnivade/levenshtein"
)

// Similarity thresholds. NameDistanceMax and the batch-score constants are
// fixed; the address distance gate is configurable per run (see config and
// AddressDistanceDefault).
const (
	// NameDistanceMax is the edit-distance gate for name similarity.
	NameDistanceMax = 2

	// AddressDistanceDefault is the default edit-distance gate for address
	// similarity. Kept configurable rather than tightened: two venues at
	// near-identical addresses (different floors, units) would pass this
	// gate, and operators review such updates through the audit ledger.
	AddressDistanceDefault = 4

	// MatchScoreExact and MatchScoreSubstring are the fixed batch scores for
	// exact normalized equality and substring containment.
	MatchScoreExact     = 1.0
	MatchScoreSubstring = 0.92

	// MatchScoreFloor is the minimum batch score for a pairing to be
	// considered at all.
	MatchScoreFloor = 0.82

	// AmbiguityMargin declares a batch match ambiguous when the two best
	// candidate scores are this close.
	AmbiguityMargin = 0.03
)

// Levenshtein returns the edit distance between a and b. Symmetric, and zero
// for identical strings.
func Levenshtein(a, b string) int {
	return levenshtein.ComputeDistance(a, b)
}

// SimilarName reports whether two venue names refer to the same venue:
// equal normalized forms, substring containment either way, or edit distance
// within NameDistanceMax. Names normalizing to empty never match anything.
func SimilarName(a, b string) bool {
	na, _ := NormalizeName(a)
	nb, _ := NormalizeName(b)
	if na == "" || nb == "" {
		return false
	}
	if na == nb {
		return true
	}
	if containsEither(na, nb) {
		return true
	}
	return Levenshtein(na, nb) <= NameDistanceMax
}

// AddressContext carries the side information consulted by SimilarAddress.
// Empty fields mean "unknown" and disable the corresponding gate.
type AddressContext struct {
	ExistingCity      string
	CandidateCity     string
	ExistingPostcode  string
	CandidatePostcode string
	Label             string // geocoder label, retested when the address itself fails the distance gate
	MaxDistance       int    // 0 means AddressDistanceDefault
}

// SimilarAddress decides whether a stored address and a candidate address
// plausibly denote the same place.
//
// Hard gates come first: when both sides carry a city and the normalized
// cities differ, or both carry a postcode and the postcodes differ, the
// addresses are not similar regardless of text distance. Otherwise equality,
// the edit-distance gate, a retest against the geocoder label, and finally
// token-set overlap are tried in order.
func SimilarAddress(existing, candidate string, ctx AddressContext) bool {
	if ctx.ExistingCity != "" && ctx.CandidateCity != "" &&
		NormalizeAddress(ctx.ExistingCity) != NormalizeAddress(ctx.CandidateCity) {
		return false
	}
	if ctx.ExistingPostcode != "" && ctx.CandidatePostcode != "" &&
		ctx.ExistingPostcode != ctx.CandidatePostcode {
		return false
	}

	maxDist := ctx.MaxDistance
	if maxDist <= 0 {
		maxDist = AddressDistanceDefault
	}

	ne := NormalizeAddress(existing)
	nc := NormalizeAddress(candidate)
	if ne == nc {
		return true
	}
	if Levenshtein(ne, nc) <= maxDist {
		return true
	}
	if ctx.Label != "" && Levenshtein(ne, NormalizeAddress(ctx.Label)) <= maxDist {
		return true
	}

	return tokenOverlap(ne, nc)
}

// tokenOverlap applies the fallback similarity test: the token sets must
// share at least max(1, min(|A|,|B|)-1) members.
func tokenOverlap(a, b string) bool {
	ta := tokenSet(a)
	tb := tokenSet(b)
	if len(ta) == 0 || len(tb) == 0 {
		return false
	}

	needed := min(len(ta), len(tb)) - 1
	if needed < 1 {
		needed = 1
	}

	common := 0
	for tok := range ta {
		if tb[tok] {
			common++
		}
	}
	return common >= needed
}

// NameScore is the batch similarity score used by the homogenization matcher:
// the better of token-set Jaccard similarity and normalized edit similarity,
// with fixed scores for exact and substring matches. Always in [0,1].
func NameScore(a, b string) float64 {
	na, ta := NormalizeName(a)
	nb, tb := NormalizeName(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return MatchScoreExact
	}
	if containsEither(na, nb) {
		return MatchScoreSubstring
	}

	jac := jaccard(ta, tb)

	maxLen := max(len(na), len(nb))
	lev := 1 - float64(Levenshtein(na, nb))/float64(maxLen)
	if lev < 0 {
		lev = 0
	}

	return max(jac, lev)
}

func jaccard(a, b []string) float64 {
	sa := make(map[string]bool, len(a))
	for _, tok := range a {
		sa[tok] = true
	}
	sb := make(map[string]bool, len(b))
	for _, tok := range b {
		sb[tok] = true
	}
	if len(sa) == 0 || len(sb) == 0 {
		return 0
	}

	common := 0
	for tok := range sa {
		if sb[tok] {
			common++
		}
	}
	return float64(common) / float64(len(sa)+len(sb)-common)
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.Fields(s) {
		set[tok] = true
	}
	return set
}

func containsEither(a, b string) bool {
	return strings.Contains(a, b) || strings.Contains(b, a)
}
