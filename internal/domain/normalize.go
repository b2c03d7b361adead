package domain

import (
	"strings"
	"unicode"

	"github.com/mozillazg/go-unidecode"
)

// nameStopwords are dropped from normalized venue names: articles and
// prepositions that carry no identity, plus generic venue nouns that appear
// inconsistently across sources ("Pizzeria Roma" vs "Roma").
var nameStopwords = map[string]bool{
	// articles and contractions
	"le": true, "la": true, "les": true, "un": true, "une": true,
	"des": true, "du": true, "de": true, "au": true, "aux": true,
	"the": true,
	// prepositions and conjunctions
	"et": true, "en": true, "sur": true, "sous": true, "chez": true,
	"and": true, "of": true,
	// generic venue nouns
	"restaurant": true, "resto": true, "cafe": true, "bar": true,
	"brasserie": true, "bistrot": true, "bistro": true, "pizzeria": true,
	"creperie": true, "snack": true, "taverne": true, "auberge": true,
}

// foldText strips diacritics via Unicode decomposition, lowercases, and
// collapses every non-letter/non-digit run to a single space.
func foldText(s string) string {
	folded := strings.ToLower(unidecode.Unidecode(s))

	var b strings.Builder
	b.Grow(len(folded))
	lastSpace := true
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastSpace = false
			continue
		}
		if !lastSpace {
			b.WriteByte(' ')
			lastSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}

// NormalizeName folds a venue name for comparison and returns both the
// normalized string and its token list. Isolated single-letter tokens
// (elision leftovers like "l" from "l'Atelier") and the fixed stopword set
// are removed. Idempotent: normalizing an already-normalized name is a no-op.
func NormalizeName(s string) (string, []string) {
	raw := strings.Fields(foldText(s))
	tokens := make([]string, 0, len(raw))
	for _, tok := range raw {
		if len(tok) == 1 && tok[0] >= 'a' && tok[0] <= 'z' {
			continue
		}
		if nameStopwords[tok] {
			continue
		}
		tokens = append(tokens, tok)
	}
	return strings.Join(tokens, " "), tokens
}

// NormalizeAddress folds an address the same way as names but keeps every
// token: house numbers, street types, and articles are all significant when
// comparing addresses.
func NormalizeAddress(s string) string {
	return foldText(s)
}

// AddressTokens returns the token set of a normalized address.
func AddressTokens(s string) []string {
	return strings.Fields(NormalizeAddress(s))
}
