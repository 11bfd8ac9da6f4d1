package models

import "encoding/json"

// LogEntry is one captured HTTP request, immutable once stored. LogNumber
// is assigned by the store at insert time, is unique within its bin and
// strictly increasing in insertion order; it is both the ordering key and
// the entry's identity for deletion.
type LogEntry struct {
	LogNumber int64               `json:"logNumber"`
	Timestamp string              `json:"timestamp"`
	Method    string              `json:"method"`
	URL       string              `json:"url"`
	Headers   map[string][]string `json:"headers"`
	Body      json.RawMessage     `json:"body,omitempty"`
}
