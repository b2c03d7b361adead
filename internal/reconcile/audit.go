package reconcile

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/couchcryptid/venue-sync/internal/domain"
)

var ledgerHeader = []string{"action", "reason", "name", "address", "city", "lat", "lon", "detail"}

// WriteLedger writes decisions as CSV, one row per decision.
func WriteLedger(w io.Writer, decisions []domain.Decision) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ledgerHeader); err != nil {
		return fmt.Errorf("write ledger header: %w", err)
	}
	for _, d := range decisions {
		row := []string{
			string(d.Action),
			string(d.Reason),
			d.Name,
			d.Address,
			d.City,
			strconv.FormatFloat(d.Lat, 'f', -1, 64),
			strconv.FormatFloat(d.Lon, 'f', -1, 64),
			d.Detail,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write ledger row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// NewFatalReport builds a report for a run that aborted before any record
// was processed: all counters zero, the fatal reason carried in the summary.
// Saving it still produces the full audit file set.
func NewFatalReport(flow, reason string) *Report {
	return &Report{Flow: flow, Fatal: reason}
}

// WriteSummary writes the run counters and timing as key,value CSV rows.
func WriteSummary(w io.Writer, r *Report) error {
	cw := csv.NewWriter(w)
	rows := [][]string{
		{"flow", r.Flow},
		{"processed", strconv.Itoa(r.Counters.Processed)},
		{"inserted", strconv.Itoa(r.Counters.Inserted)},
		{"updated", strconv.Itoa(r.Counters.Updated)},
		{"conflicts", strconv.Itoa(r.Counters.Conflicts)},
		{"duplicates", strconv.Itoa(r.Counters.Duplicates)},
		{"errors", strconv.Itoa(r.Counters.Errors)},
		{"elapsed", r.Elapsed.String()},
	}
	if r.Fatal != "" {
		rows = append(rows, []string{"fatal", r.Fatal})
	}
	for _, row := range rows {
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write summary row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// Save writes the report's audit files into dir: the action ledger, the
// conflict list, the duplicate list (geocoded flow only), and the summary.
func (r *Report) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create audit dir: %w", err)
	}

	if err := writeCSVFile(filepath.Join(dir, r.Flow+"_ledger.csv"), r.Decisions); err != nil {
		return err
	}
	if err := writeCSVFile(filepath.Join(dir, r.Flow+"_conflicts.csv"), r.Conflicts); err != nil {
		return err
	}
	if r.Flow == FlowGeocoded {
		if err := writeCSVFile(filepath.Join(dir, r.Flow+"_duplicates.csv"), r.Duplicates); err != nil {
			return err
		}
	}

	f, err := os.Create(filepath.Join(dir, r.Flow+"_summary.csv"))
	if err != nil {
		return fmt.Errorf("create summary file: %w", err)
	}
	defer f.Close()
	return WriteSummary(f, r)
}

func writeCSVFile(path string, decisions []domain.Decision) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create audit file: %w", err)
	}
	defer f.Close()

	if err := WriteLedger(f, decisions); err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return nil
}
