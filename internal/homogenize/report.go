package homogenize

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// WriteAmbiguities writes the review CSV for unconfirmed buckets. The score
// column carries the bucket's best Jaro-Winkler so reviewers can sort the
// likely true matches to the top.
func WriteAmbiguities(w io.Writer, ambiguities []Ambiguity) error {
	cw := csv.NewWriter(w)
	header := []string{"bucket", "kind", "store_names", "candidate_names", "distance_m", "score"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write ambiguity header: %w", err)
	}

	for _, a := range ambiguities {
		dist := ""
		if !math.IsNaN(a.Distance) {
			dist = strconv.FormatFloat(a.Distance, 'f', 1, 64)
		}
		row := []string{
			a.Bucket,
			a.Kind,
			strings.Join(a.StoreNames, "; "),
			strings.Join(a.CandidateNames, "; "),
			dist,
			strconv.FormatFloat(a.Score, 'f', 3, 64),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write ambiguity row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteSolos writes the unmatched rows of both sides for manual follow-up.
func WriteSolos(w io.Writer, res *Result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"side", "name", "address", "city"}); err != nil {
		return fmt.Errorf("write solo header: %w", err)
	}

	for _, s := range res.SoloStore {
		if err := cw.Write([]string{"store", s.Name, s.Address, s.City}); err != nil {
			return fmt.Errorf("write solo row: %w", err)
		}
	}
	for _, c := range res.SoloCandidates {
		if err := cw.Write([]string{"candidate", c.Name, c.Address, c.City}); err != nil {
			return fmt.Errorf("write solo row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
