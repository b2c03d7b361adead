package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/venue-sync/internal/domain"
)

// FlowGeocoded and FlowOsm label the two ingestion flows in reports, logs,
// and metrics.
const (
	FlowGeocoded = "geocoded"
	FlowOsm      = "osm"
)

// ReconcileGeocoded runs the geocoded-address flow: each input record is
// geocoded, then matched against the store by name and address. The run
// always drains; record-level failures become Error decisions.
func (e *Engine) ReconcileGeocoded(ctx context.Context, geocoder Geocoder, records []domain.InputRecord) *Report {
	start := time.Now()
	report := &Report{Flow: FlowGeocoded}
	e.beginRun(report)
	defer e.endRun()

	if e.metrics != nil {
		e.metrics.RunActive.Inc()
		defer e.metrics.RunActive.Dec()
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.concurrency())
	for _, rec := range records {
		g.Go(func() error {
			d := e.processGeocoded(ctx, geocoder, rec)
			e.file(report, d)
			return nil
		})
	}
	_ = g.Wait()

	report.Elapsed = time.Since(start)
	if e.metrics != nil {
		e.metrics.BatchDuration.WithLabelValues(report.Flow).Observe(report.Elapsed.Seconds())
	}
	e.logger.Info("run complete",
		"flow", report.Flow,
		"processed", report.Counters.Processed,
		"inserted", report.Counters.Inserted,
		"updated", report.Counters.Updated,
		"conflicts", report.Counters.Conflicts,
		"duplicates", report.Counters.Duplicates,
		"errors", report.Counters.Errors,
		"elapsed", report.Elapsed,
	)
	return report
}

// file appends a decision to the report and mirrors it to the metrics.
func (e *Engine) file(report *Report, d domain.Decision) {
	e.mu.Lock()
	report.record(d)
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.RecordsProcessed.WithLabelValues(report.Flow).Inc()
		e.metrics.Decisions.WithLabelValues(report.Flow, string(d.Action)).Inc()
	}
}

// processGeocoded resolves one input record to a terminal decision. The
// geocoder call runs outside the engine lock; only the lookup-decide-write
// section is serialized.
func (e *Engine) processGeocoded(ctx context.Context, geocoder Geocoder, rec domain.InputRecord) domain.Decision {
	base := domain.Decision{Name: rec.Name, Address: rec.Address, City: rec.City}

	if err := rec.Validate(); err != nil {
		base.Action = domain.ActionError
		base.Reason = domain.ReasonMissingFields
		base.Detail = err.Error()
		return base
	}

	cand, err := geocoder.Search(ctx, rec.Address, rec.City, rec.Postcode)
	if err != nil {
		base.Action = domain.ActionError
		base.Reason = domain.ReasonLookupFailed
		base.Detail = err.Error()
		return base
	}
	if cand == nil {
		base.Action = domain.ActionError
		base.Reason = domain.ReasonNoGeocodeResult
		return base
	}

	city := cand.City
	if city == "" {
		city = rec.City
	}
	base.City = city
	base.Lat = domain.RoundCoord(cand.Lat)
	base.Lon = domain.RoundCoord(cand.Lon)

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.decideGeocoded(ctx, base, rec, cand, city)
}

// decideGeocoded applies the geocoded-flow state machine. Callers hold e.mu.
func (e *Engine) decideGeocoded(ctx context.Context, d domain.Decision, rec domain.InputRecord, cand *domain.GeocodeCandidate, city string) domain.Decision {
	matches, err := e.cache.findByName(ctx, rec.Name)
	if err != nil {
		d.Action = domain.ActionError
		d.Reason = domain.ReasonLookupFailed
		d.Detail = err.Error()
		return d
	}

	if len(matches) == 0 {
		if dup, derr := e.findDuplicate(ctx, rec, city); derr != nil {
			d.Action = domain.ActionError
			d.Reason = domain.ReasonLookupFailed
			d.Detail = derr.Error()
			return d
		} else if dup != nil {
			d.Action = domain.ActionDuplicate
			d.Reason = domain.ReasonDuplicateAddress
			d.Detail = fmt.Sprintf("matches %q at %s", dup.Name, dup.Address)
			return d
		}
		return e.insertGeocoded(ctx, d, rec, cand, city)
	}

	row := matches[0]
	similar := domain.SimilarAddress(row.Address, rec.Address, domain.AddressContext{
		ExistingCity:      row.City,
		CandidateCity:     city,
		CandidatePostcode: postcodeOf(rec, cand),
		Label:             cand.Label,
		MaxDistance:       e.opts.addressDistance(),
	})
	if !similar {
		d.Action = domain.ActionConflict
		d.Reason = domain.ReasonAddressMismatch
		d.Detail = fmt.Sprintf("stored address %q, incoming %q", row.Address, rec.Address)
		return d
	}

	return e.updateGeocoded(ctx, d, row, rec, cand, city)
}

// findDuplicate scans the candidate's city for a row whose normalized address
// equals the record's and whose name is similar.
func (e *Engine) findDuplicate(ctx context.Context, rec domain.InputRecord, city string) (*domain.VenueRecord, error) {
	rows, err := e.cache.cityRows(ctx, city)
	if err != nil {
		return nil, err
	}

	want := domain.NormalizeAddress(rec.Address)
	for _, row := range rows {
		if domain.NormalizeAddress(row.Address) == want && domain.SimilarName(row.Name, rec.Name) {
			return row, nil
		}
	}
	return nil, nil
}

func (e *Engine) insertGeocoded(ctx context.Context, d domain.Decision, rec domain.InputRecord, cand *domain.GeocodeCandidate, city string) domain.Decision {
	row := &domain.VenueRecord{
		ID:       uuid.New(),
		Name:     rec.Name,
		Address:  rec.Address,
		City:     city,
		Lat:      domain.RoundCoord(cand.Lat),
		Lon:      domain.RoundCoord(cand.Lon),
		SyncedAt: domain.Now(),
	}

	if !e.opts.DryRun {
		if err := e.store.Insert(ctx, *row); err != nil {
			d.Action = domain.ActionError
			d.Reason = domain.ReasonStoreFailed
			d.Detail = err.Error()
			return d
		}
	}
	e.cache.addInserted(row)

	d.Action = domain.ActionInsert
	d.Reason = domain.ReasonNewVenue
	return d
}

func (e *Engine) updateGeocoded(ctx context.Context, d domain.Decision, row *domain.VenueRecord, rec domain.InputRecord, cand *domain.GeocodeCandidate, city string) domain.Decision {
	lat := domain.RoundCoord(cand.Lat)
	lon := domain.RoundCoord(cand.Lon)
	categorized := true
	now := domain.Now()

	patch := domain.VenuePatch{
		Address:     &rec.Address,
		City:        &city,
		Lat:         &lat,
		Lon:         &lon,
		Categorized: &categorized,
		SyncedAt:    &now,
	}

	if !e.opts.DryRun {
		if err := e.store.Update(ctx, row.ID, patch); err != nil {
			d.Action = domain.ActionError
			d.Reason = domain.ReasonStoreFailed
			d.Detail = err.Error()
			return d
		}
	}
	applyPatch(row, patch)

	d.Action = domain.ActionUpdate
	d.Reason = domain.ReasonNameMatch
	return d
}

func postcodeOf(rec domain.InputRecord, cand *domain.GeocodeCandidate) string {
	if rec.Postcode != "" {
		return rec.Postcode
	}
	return cand.Postcode
}

// applyPatch mirrors a store patch into the run cache's copy of the row.
func applyPatch(row *domain.VenueRecord, p domain.VenuePatch) {
	if p.Name != nil {
		row.Name = *p.Name
	}
	if p.Address != nil {
		row.Address = *p.Address
	}
	if p.City != nil {
		row.City = *p.City
	}
	if p.Lat != nil {
		row.Lat = *p.Lat
	}
	if p.Lon != nil {
		row.Lon = *p.Lon
	}
	if p.Osm != nil {
		row.Osm = *p.Osm
	}
	if p.VenueType != nil {
		row.VenueType = *p.VenueType
	}
	if p.Phone != nil {
		row.Phone = *p.Phone
	}
	if p.Website != nil {
		row.Website = *p.Website
	}
	if p.ImageURL != nil {
		row.ImageURL = *p.ImageURL
	}
	if p.Categorized != nil {
		row.Categorized = *p.Categorized
	}
	if p.Tags != nil {
		row.Tags = p.Tags
	}
	if p.SyncedAt != nil {
		row.SyncedAt = *p.SyncedAt
	}
}
