package models

import "time"

// DefaultBinName is the display name a bin carries until it is renamed.
const DefaultBinName = "Untitled"

// Bin is a named capture target. The id is opaque, immutable and globally
// unique; the name is a mutable display label.
type Bin struct {
	ID         string    `json:"id" db:"id"`
	Name       string    `json:"name" db:"name"`
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
	ModifiedAt time.Time `json:"modifiedAt" db:"modified_at"`
}

// BinSummary is one row of the bin listing. FirstTimestamp and
// LastTimestamp are nil when the bin has no entries.
type BinSummary struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	CreatedAt      time.Time `json:"createdAt"`
	ModifiedAt     time.Time `json:"modifiedAt"`
	EntryCount     int64     `json:"entryCount"`
	FirstTimestamp *string   `json:"firstTimestamp"`
	LastTimestamp  *string   `json:"lastTimestamp"`
}
