// Package domain models venue data reconciled from two external sources:
// the BAN national address geocoder and OpenStreetMap amenity exports.
//
// # Data Sources
//
// Geocoded flow: operator-supplied CSV rows (name, address, city, optional
// postcode) are resolved through the BAN search endpoint, which returns at
// most one best-match feature with a confidence score in [0,1] and WGS-84
// coordinates.
//
// OSM flow: amenity-tagged elements are fetched from an Overpass endpoint,
// scoped to an administrative boundary resolved beforehand. Each element is
// identified by its (kind, id) pair, where kind is "node", "way", or
// "relation". The pair is globally unique within OpenStreetMap and serves as
// the natural key when matching against store rows that carry OSM identity.
//
// # Normalization Conventions
//
// Venue names and addresses are folded before comparison: diacritics stripped
// (Unicode decomposition), lowercased, punctuation runs collapsed to single
// spaces. Names additionally lose isolated single-letter elision leftovers
// ("l", "d" from contracted French articles) and a fixed stopword set of
// articles, prepositions, and generic venue nouns ("restaurant", "cafe", ...),
// so "Le Café de l'Église" and "Cafe Eglise" normalize identically.
//
// # Coordinates
//
// Latitude and longitude are rounded to 8 decimal places (about a millimetre)
// before storage or comparison, so floating-point drift between runs never
// produces spurious diffs. Distances use the haversine great-circle formula.
//
// # Decisions
//
// Every processed record terminates in exactly one of five actions: Insert,
// Update, Conflict, Duplicate, or Error. Conflict and Duplicate are outcomes
// for manual review, not faults. Reasons are a closed set of typed constants;
// see [Reason].
package domain
