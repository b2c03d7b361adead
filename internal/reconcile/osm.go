package reconcile

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/venue-sync/internal/domain"
)

// ReconcileOsm runs the OSM amenity flow: candidates are matched against the
// store first by (kind, id) identity, then by name plus address and proximity.
func (e *Engine) ReconcileOsm(ctx context.Context, venues []domain.OsmVenueCandidate) *Report {
	start := time.Now()
	report := &Report{Flow: FlowOsm}
	e.beginRun(report)
	defer e.endRun()

	if e.metrics != nil {
		e.metrics.RunActive.Inc()
		defer e.metrics.RunActive.Dec()
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.concurrency())
	for _, v := range venues {
		g.Go(func() error {
			d := e.processOsm(ctx, v)
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
		"errors", report.Counters.Errors,
		"elapsed", report.Elapsed,
	)
	return report
}

func (e *Engine) processOsm(ctx context.Context, v domain.OsmVenueCandidate) domain.Decision {
	d := domain.Decision{
		Name:    v.Name,
		Address: v.Address.String(),
		City:    v.Address.City,
		Lat:     domain.RoundCoord(v.Lat),
		Lon:     domain.RoundCoord(v.Lon),
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.decideOsm(ctx, d, v)
}

// decideOsm applies the OSM-flow state machine. Callers hold e.mu.
func (e *Engine) decideOsm(ctx context.Context, d domain.Decision, v domain.OsmVenueCandidate) domain.Decision {
	row, err := e.cache.findByIdentity(ctx, v.Identity)
	if err != nil {
		d.Action = domain.ActionError
		d.Reason = domain.ReasonLookupFailed
		d.Detail = err.Error()
		return d
	}
	if row != nil {
		return e.updateOsm(ctx, d, row, v, domain.ReasonIdentityMatch, false)
	}

	matches, err := e.cache.findByName(ctx, v.Name)
	if err != nil {
		d.Action = domain.ActionError
		d.Reason = domain.ReasonLookupFailed
		d.Detail = err.Error()
		return d
	}
	if len(matches) == 0 {
		return e.insertOsm(ctx, d, v)
	}

	survivors := e.filterOsmMatches(matches, v)
	switch len(survivors) {
	case 1:
		return e.updateOsm(ctx, d, survivors[0], v, domain.ReasonNameMatch, true)
	case 0:
		d.Action = domain.ActionConflict
		d.Reason = domain.ReasonAddressMismatch
		d.Detail = fmt.Sprintf("%d name match(es), none within address and %.0f m gates", len(matches), e.opts.proximity())
		return d
	default:
		d.Action = domain.ActionConflict
		d.Reason = domain.ReasonMultipleMatches
		d.Detail = fmt.Sprintf("%d rows pass both gates for %s", len(survivors), v.Identity)
		return d
	}
}

// filterOsmMatches keeps the name matches that pass both the address
// similarity test and the proximity gate.
func (e *Engine) filterOsmMatches(matches []*domain.VenueRecord, v domain.OsmVenueCandidate) []*domain.VenueRecord {
	var out []*domain.VenueRecord
	for _, row := range matches {
		similar := domain.SimilarAddress(row.Address, v.Address.String(), domain.AddressContext{
			ExistingCity:      row.City,
			CandidateCity:     v.Address.City,
			CandidatePostcode: v.Address.Postcode,
			MaxDistance:       e.opts.addressDistance(),
		})
		if !similar {
			continue
		}
		if domain.HaversineMeters(row.Lat, row.Lon, v.Lat, v.Lon) > e.opts.proximity() {
			continue
		}
		out = append(out, row)
	}
	return out
}

func (e *Engine) insertOsm(ctx context.Context, d domain.Decision, v domain.OsmVenueCandidate) domain.Decision {
	image := v.ImageURL
	if image == "" {
		image = e.opts.PlaceholderImage
	}

	row := &domain.VenueRecord{
		ID:        uuid.New(),
		Name:      v.Name,
		Address:   v.Address.String(),
		City:      v.Address.City,
		Lat:       domain.RoundCoord(v.Lat),
		Lon:       domain.RoundCoord(v.Lon),
		Osm:       v.Identity,
		VenueType: v.VenueType,
		Phone:     v.Contact.Phone,
		Website:   v.Contact.Website,
		ImageURL:  image,
		Tags:      candidateTags(v),
		SyncedAt:  domain.Now(),
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

// updateOsm overwrites the row's OSM-derived metadata. The stored name is
// never touched; the tag list is replaced only when the stored one is empty.
// stampIdentity is set on the name-match path, where the row gains the OSM
// identity it lacked.
func (e *Engine) updateOsm(ctx context.Context, d domain.Decision, row *domain.VenueRecord, v domain.OsmVenueCandidate, reason domain.Reason, stampIdentity bool) domain.Decision {
	patch := e.osmPatch(row, v, stampIdentity)

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
	d.Reason = reason
	return d
}

// osmPatch builds the partial update for an OSM-driven row refresh. Fields
// the candidate does not supply are omitted, never nulled.
func (e *Engine) osmPatch(row *domain.VenueRecord, v domain.OsmVenueCandidate, stampIdentity bool) domain.VenuePatch {
	lat := domain.RoundCoord(v.Lat)
	lon := domain.RoundCoord(v.Lon)
	now := domain.Now()

	patch := domain.VenuePatch{
		Lat:      &lat,
		Lon:      &lon,
		SyncedAt: &now,
	}
	if addr := v.Address.String(); addr != "" {
		patch.Address = &addr
	}
	if v.Address.City != "" {
		city := v.Address.City
		patch.City = &city
	}
	if v.VenueType != "" {
		vt := v.VenueType
		patch.VenueType = &vt
	}
	if v.Contact.Phone != "" {
		phone := v.Contact.Phone
		patch.Phone = &phone
	}
	if v.Contact.Website != "" {
		site := v.Contact.Website
		patch.Website = &site
	}
	if v.ImageURL != "" {
		img := v.ImageURL
		patch.ImageURL = &img
	}
	if stampIdentity {
		id := v.Identity
		patch.Osm = &id
	}
	if len(row.Tags) == 0 {
		if tags := candidateTags(v); len(tags) > 0 {
			patch.Tags = tags
		}
	}
	return patch
}

// candidateTags derives the category tag list from the element's raw tags:
// cuisine values (semicolon-separated) plus the amenity and shop values.
func candidateTags(v domain.OsmVenueCandidate) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(tag string) {
		tag = strings.TrimSpace(strings.ToLower(tag))
		if tag == "" || seen[tag] {
			return
		}
		seen[tag] = true
		out = append(out, tag)
	}

	for _, c := range strings.Split(v.Tags["cuisine"], ";") {
		add(c)
	}
	add(v.Tags["amenity"])
	add(v.Tags["shop"])

	sort.Strings(out)
	return out
}
