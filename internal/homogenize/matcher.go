// Package homogenize joins an external candidate set against store rows that
// lack an OSM identity and proposes patches for manual review. It never
// writes to the store: its output is SQL statements and reports.
package homogenize

import (
	"log/slog"
	"math"
	"sort"

	"github.com/xrash/smetrics"

	"github.com/couchcryptid/venue-sync/internal/domain"
)

// Ambiguity kinds: which side of a name bucket carries the multiplicity,
// whether a 1:1 pairing failed the distance gate, or whether scored pairing
// found near-tied contenders.
const (
	AmbiguityStoreSide     = "store_side"
	AmbiguityCandidateSide = "candidate_side"
	AmbiguityBothSides     = "both"
	AmbiguityDistance      = "distance_threshold"
	AmbiguityScore         = "score_margin"
)

// Candidate is one externally sourced venue row to match against the store.
type Candidate struct {
	Name      string
	Address   string
	City      string
	Lat       float64
	Lon       float64
	VenueType string
	Phone     string
	Website   string
	ImageURL  string
	Tags      []string
}

// Match is a confirmed 1:1 pairing with its proposed patch. The patch may be
// empty when the store row already carries every field the candidate offers.
type Match struct {
	Store     domain.VenueRecord
	Candidate Candidate
	Patch     domain.VenuePatch
	Distance  float64 // meters; NaN when either side lacks coordinates
}

// Ambiguity is a name bucket that could not be confirmed, kept for the
// review report.
type Ambiguity struct {
	Bucket         string // normalized name
	Kind           string
	StoreNames     []string
	CandidateNames []string
	Distance       float64 // meters, only for AmbiguityDistance
	Score          float64 // best Jaro-Winkler across the bucket, for triage
}

// Result is the full outcome of one homogenization pass.
type Result struct {
	Matches        []Match
	Ambiguities    []Ambiguity
	SoloStore      []domain.VenueRecord
	SoloCandidates []Candidate
}

// Matcher pairs store rows with candidates by normalized name.
type Matcher struct {
	maxDistance float64
	logger      *slog.Logger
}

// NewMatcher creates a Matcher. maxDistance of 0 means the default gate.
func NewMatcher(maxDistance float64, logger *slog.Logger) *Matcher {
	if maxDistance <= 0 {
		maxDistance = domain.ProximityGateHomogenize
	}
	return &Matcher{maxDistance: maxDistance, logger: logger}
}

type bucket struct {
	stores     []domain.VenueRecord
	candidates []Candidate
}

// Match groups both sets by normalized name and confirms unambiguous 1:1
// buckets within the distance gate. Rows left solo by the bucket pass get a
// second chance through scored pairing: mutual best matches above the batch
// score floor, with a clear margin over the runner-up.
func (m *Matcher) Match(stores []domain.VenueRecord, candidates []Candidate) *Result {
	res := &Result{}
	buckets := make(map[string]*bucket)

	keyFor := func(name string) string {
		key, _ := domain.NormalizeName(name)
		return key
	}
	get := func(key string) *bucket {
		b, ok := buckets[key]
		if !ok {
			b = &bucket{}
			buckets[key] = b
		}
		return b
	}

	for _, s := range stores {
		key := keyFor(s.Name)
		if key == "" {
			res.SoloStore = append(res.SoloStore, s)
			continue
		}
		b := get(key)
		b.stores = append(b.stores, s)
	}
	for _, c := range candidates {
		key := keyFor(c.Name)
		if key == "" {
			res.SoloCandidates = append(res.SoloCandidates, c)
			continue
		}
		b := get(key)
		b.candidates = append(b.candidates, c)
	}

	keys := make([]string, 0, len(buckets))
	for key := range buckets {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		b := buckets[key]
		m.resolveBucket(res, key, b)
	}
	m.resolveByScore(res)

	m.logger.Info("homogenization pass complete",
		"matches", len(res.Matches),
		"ambiguous", len(res.Ambiguities),
		"solo_store", len(res.SoloStore),
		"solo_candidates", len(res.SoloCandidates),
	)
	return res
}

func (m *Matcher) resolveBucket(res *Result, key string, b *bucket) {
	switch {
	case len(b.candidates) == 0:
		res.SoloStore = append(res.SoloStore, b.stores...)
		return
	case len(b.stores) == 0:
		res.SoloCandidates = append(res.SoloCandidates, b.candidates...)
		return
	case len(b.stores) > 1 || len(b.candidates) > 1:
		res.Ambiguities = append(res.Ambiguities, Ambiguity{
			Bucket:         key,
			Kind:           multiplicityKind(b),
			StoreNames:     storeNames(b.stores),
			CandidateNames: candidateNames(b.candidates),
			Distance:       math.NaN(),
			Score:          bestScore(b),
		})
		return
	}

	s, c := b.stores[0], b.candidates[0]
	dist := pairDistance(s, c)
	if !math.IsNaN(dist) && dist > m.maxDistance {
		res.Ambiguities = append(res.Ambiguities, Ambiguity{
			Bucket:         key,
			Kind:           AmbiguityDistance,
			StoreNames:     []string{s.Name},
			CandidateNames: []string{c.Name},
			Distance:       dist,
			Score:          nameScore(s.Name, c.Name),
		})
		return
	}

	res.Matches = append(res.Matches, Match{
		Store:     s,
		Candidate: c,
		Patch:     buildPatch(s, c),
		Distance:  dist,
	})
}

// pick records the best and runner-up scores along one axis of the score
// matrix.
type pick struct {
	idx       int
	score     float64
	secondIdx int
	second    float64
}

func pickBest(scoreAt func(int) float64, n int) pick {
	p := pick{idx: -1, secondIdx: -1}
	for i := 0; i < n; i++ {
		s := scoreAt(i)
		if s > p.score {
			p.second, p.secondIdx = p.score, p.idx
			p.score, p.idx = s, i
		} else if s > p.second {
			p.second, p.secondIdx = s, i
		}
	}
	return p
}

// resolveByScore pairs solo rows whose names missed an exact bucket but score
// above the batch floor. A pair is confirmed only when each side is the
// other's best match and the runner-up trails by more than the ambiguity
// margin; near ties go to the review report instead.
func (m *Matcher) resolveByScore(res *Result) {
	stores := res.SoloStore
	cands := res.SoloCandidates
	if len(stores) == 0 || len(cands) == 0 {
		return
	}

	scores := make([][]float64, len(stores))
	for i, s := range stores {
		scores[i] = make([]float64, len(cands))
		for j, c := range cands {
			scores[i][j] = domain.NameScore(s.Name, c.Name)
		}
	}

	taken := make([]bool, len(stores))
	takenCand := make([]bool, len(cands))

	for i, s := range stores {
		sp := pickBest(func(j int) float64 { return scores[i][j] }, len(cands))
		if sp.idx < 0 || sp.score < domain.MatchScoreFloor {
			continue
		}
		cp := pickBest(func(k int) float64 { return scores[k][sp.idx] }, len(stores))
		if cp.idx != i {
			continue
		}
		c := cands[sp.idx]
		key, _ := domain.NormalizeName(s.Name)

		if sp.score-sp.second < domain.AmbiguityMargin || cp.score-cp.second < domain.AmbiguityMargin {
			a := Ambiguity{
				Bucket:         key,
				Kind:           AmbiguityScore,
				StoreNames:     []string{s.Name},
				CandidateNames: []string{c.Name},
				Distance:       math.NaN(),
				Score:          sp.score,
			}
			if sp.score-sp.second < domain.AmbiguityMargin && sp.secondIdx >= 0 {
				a.CandidateNames = append(a.CandidateNames, cands[sp.secondIdx].Name)
			}
			if cp.score-cp.second < domain.AmbiguityMargin && cp.secondIdx >= 0 {
				a.StoreNames = append(a.StoreNames, stores[cp.secondIdx].Name)
			}
			res.Ambiguities = append(res.Ambiguities, a)
			taken[i] = true
			takenCand[sp.idx] = true
			continue
		}

		dist := pairDistance(s, c)
		if !math.IsNaN(dist) && dist > m.maxDistance {
			res.Ambiguities = append(res.Ambiguities, Ambiguity{
				Bucket:         key,
				Kind:           AmbiguityDistance,
				StoreNames:     []string{s.Name},
				CandidateNames: []string{c.Name},
				Distance:       dist,
				Score:          sp.score,
			})
			taken[i] = true
			takenCand[sp.idx] = true
			continue
		}

		res.Matches = append(res.Matches, Match{
			Store:     s,
			Candidate: c,
			Patch:     buildPatch(s, c),
			Distance:  dist,
		})
		taken[i] = true
		takenCand[sp.idx] = true
	}

	res.SoloStore = nil
	for i, s := range stores {
		if !taken[i] {
			res.SoloStore = append(res.SoloStore, s)
		}
	}
	res.SoloCandidates = nil
	for j, c := range cands {
		if !takenCand[j] {
			res.SoloCandidates = append(res.SoloCandidates, c)
		}
	}
}

func multiplicityKind(b *bucket) string {
	switch {
	case len(b.stores) > 1 && len(b.candidates) > 1:
		return AmbiguityBothSides
	case len(b.stores) > 1:
		return AmbiguityStoreSide
	default:
		return AmbiguityCandidateSide
	}
}

// pairDistance returns the haversine distance, or NaN when either side has
// no usable coordinates. A missing coordinate never blocks a match.
func pairDistance(s domain.VenueRecord, c Candidate) float64 {
	if !hasCoords(s.Lat, s.Lon) || !hasCoords(c.Lat, c.Lon) {
		return math.NaN()
	}
	return domain.HaversineMeters(s.Lat, s.Lon, c.Lat, c.Lon)
}

func hasCoords(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) {
		return false
	}
	return lat != 0 || lon != 0
}

// bestScore is the highest cross-pair Jaro-Winkler score in the bucket,
// giving reviewers a triage signal for ambiguous buckets.
func bestScore(b *bucket) float64 {
	best := 0.0
	for _, s := range b.stores {
		for _, c := range b.candidates {
			if score := nameScore(s.Name, c.Name); score > best {
				best = score
			}
		}
	}
	return best
}

func nameScore(a, b string) float64 {
	na, _ := domain.NormalizeName(a)
	nb, _ := domain.NormalizeName(b)
	if na == "" || nb == "" {
		return 0
	}
	return smetrics.JaroWinkler(na, nb, 0.7, 4)
}

func storeNames(rows []domain.VenueRecord) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Name
	}
	return out
}

func candidateNames(cands []Candidate) []string {
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.Name
	}
	return out
}
