package homogenize

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// WriteStatements renders each non-empty match patch as a single-row UPDATE
// statement for manual review and application. Matches whose patch is empty
// are skipped.
func WriteStatements(w io.Writer, matches []Match) error {
	for _, m := range matches {
		stmt := statementFor(m)
		if stmt == "" {
			continue
		}
		if _, err := fmt.Fprintln(w, stmt); err != nil {
			return fmt.Errorf("write statement: %w", err)
		}
	}
	return nil
}

func statementFor(m Match) string {
	p := m.Patch
	if p.Empty() {
		return ""
	}

	var sets []string
	set := func(col string, val string) {
		sets = append(sets, col+" = "+val)
	}

	if p.Address != nil {
		set("address", quote(*p.Address))
	}
	if p.City != nil {
		set("city", quote(*p.City))
	}
	if p.Lat != nil {
		set("lat", fmt.Sprintf("%g", *p.Lat))
	}
	if p.Lon != nil {
		set("lon", fmt.Sprintf("%g", *p.Lon))
	}
	if p.VenueType != nil {
		set("venue_type", quote(*p.VenueType))
	}
	if p.Phone != nil {
		set("phone", quote(*p.Phone))
	}
	if p.Website != nil {
		set("website", quote(*p.Website))
	}
	if p.ImageURL != nil {
		set("image_url", quote(*p.ImageURL))
	}
	if p.Tags != nil {
		quoted := make([]string, len(p.Tags))
		for i, tag := range p.Tags {
			quoted[i] = quote(tag)
		}
		set("tags", "ARRAY["+strings.Join(quoted, ", ")+"]")
	}
	if p.SyncedAt != nil {
		set("synced_at", quote(p.SyncedAt.UTC().Format(time.RFC3339)))
	}

	return fmt.Sprintf("UPDATE venues SET %s WHERE id = %s;",
		strings.Join(sets, ", "), quote(m.Store.ID.String()))
}

// quote renders a SQL string literal, doubling embedded single quotes.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
