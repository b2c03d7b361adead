package domain

// Action is the terminal classification of one processed record. Actions are
// mutually exclusive: a record terminates in exactly one.
type Action string

// Actions.
const (
	ActionInsert    Action = "insert"
	ActionUpdate    Action = "update"
	ActionConflict  Action = "conflict"
	ActionDuplicate Action = "duplicate"
	ActionError     Action = "error"
)

// Reason qualifies a decision. The set is closed; audit consumers switch on
// these constants rather than matching free-form strings.
type Reason string

// Reasons.
const (
	ReasonNone              Reason = ""
	ReasonNewVenue          Reason = "new_venue"
	ReasonNameMatch         Reason = "name_match"
	ReasonIdentityMatch     Reason = "identity_match"
	ReasonAddressMismatch   Reason = "address_mismatch"
	ReasonMultipleMatches   Reason = "multiple_matches"
	ReasonDuplicateAddress  Reason = "duplicate_address"
	ReasonMissingFields     Reason = "missing_fields"
	ReasonNoGeocodeResult   Reason = "no_geocode_result"
	ReasonLookupFailed      Reason = "lookup_failed"
	ReasonStoreFailed       Reason = "store_failed"
	ReasonDistanceThreshold Reason = "distance_threshold"
)

// Decision is the write-once outcome for one record, appended to the audit
// ledger.
type Decision struct {
	Action  Action
	Reason  Reason
	Name    string
	Address string
	City    string
	Lat     float64
	Lon     float64
	Detail  string // free-form context: conflicting stored address, error message
}
