package reconcile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/venue-sync/internal/domain"
)

func TestWriteLedger(t *testing.T) {
	var b strings.Builder
	err := WriteLedger(&b, []domain.Decision{
		{
			Action:  domain.ActionInsert,
			Reason:  domain.ReasonNewVenue,
			Name:    "Chez Marcel",
			Address: "3 Quai de Versailles",
			City:    "Nantes",
			Lat:     47.2219,
			Lon:     -1.5569,
		},
		{
			Action: domain.ActionConflict,
			Reason: domain.ReasonAddressMismatch,
			Name:   "Le Central",
			Detail: `stored address "12 Rue de la Paix", incoming "45 Avenue Foch"`,
		},
	})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(b.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "action,reason,name,address,city,lat,lon,detail", lines[0])
	assert.Contains(t, lines[1], "insert,new_venue,Chez Marcel,3 Quai de Versailles,Nantes,47.2219,-1.5569")
	assert.Contains(t, lines[2], "conflict,address_mismatch,Le Central")
}

func TestReportSave(t *testing.T) {
	dir := t.TempDir()
	report := &Report{
		Flow: FlowGeocoded,
		Decisions: []domain.Decision{
			{Action: domain.ActionInsert, Reason: domain.ReasonNewVenue, Name: "Chez Marcel"},
			{Action: domain.ActionDuplicate, Reason: domain.ReasonDuplicateAddress, Name: "Chez Marcelo"},
		},
		Duplicates: []domain.Decision{
			{Action: domain.ActionDuplicate, Reason: domain.ReasonDuplicateAddress, Name: "Chez Marcelo"},
		},
		Counters: Counters{Processed: 2, Inserted: 1, Duplicates: 1},
		Elapsed:  3 * time.Second,
	}

	require.NoError(t, report.Save(dir))

	for _, name := range []string{
		"geocoded_ledger.csv",
		"geocoded_conflicts.csv",
		"geocoded_duplicates.csv",
		"geocoded_summary.csv",
	} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}

	summary, err := os.ReadFile(filepath.Join(dir, "geocoded_summary.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(summary), "processed,2")
	assert.Contains(t, string(summary), "duplicates,1")
	assert.Contains(t, string(summary), "elapsed,3s")
}

func TestReportSave_FatalRunStillWritesAuditFiles(t *testing.T) {
	dir := t.TempDir()
	report := NewFatalReport(FlowOsm, "no boundary found for Valence")

	require.NoError(t, report.Save(dir))

	for _, name := range []string{"osm_ledger.csv", "osm_conflicts.csv", "osm_summary.csv"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}

	summary, err := os.ReadFile(filepath.Join(dir, "osm_summary.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(summary), "processed,0")
	assert.Contains(t, string(summary), "fatal,no boundary found for Valence")
}

func TestReportSave_OsmFlowHasNoDuplicatesFile(t *testing.T) {
	dir := t.TempDir()
	report := &Report{Flow: FlowOsm}
	require.NoError(t, report.Save(dir))

	_, err := os.Stat(filepath.Join(dir, "osm_duplicates.csv"))
	assert.True(t, os.IsNotExist(err))
}
