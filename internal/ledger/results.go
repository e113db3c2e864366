package ledger

import (
	"encoding/json"
	"fmt"
)

// Sync outcomes recorded per SKU.
const (
	ResultSuccess  = "success"
	ResultUnmapped = "unmapped"
	ResultError    = "error"
)

// SyncResult is one SKU-level outcome inside a ledger row.
type SyncResult struct {
	Type          string `json:"type"`
	Sku           string `json:"sku"`
	AddedQuantity int    `json:"addedQuantity,omitempty"`
	NewQuantity   int    `json:"newQuantity,omitempty"`
	Message       string `json:"message,omitempty"`
	Timestamp     string `json:"timestamp,omitempty"`
}

// resultsEnvelope is the current on-disk shape. Historical rows stored the
// bare array instead; DecodeResults accepts both so old audit data stays
// readable.
type resultsEnvelope struct {
	Results []SyncResult `json:"results"`
}

// EncodeResults always writes the envelope form.
func EncodeResults(results []SyncResult) (string, error) {
	b, err := json.Marshal(resultsEnvelope{Results: results})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeResults normalizes either payload shape into one typed slice. It is
// the only place shape-sniffing is allowed.
func DecodeResults(raw string) ([]SyncResult, error) {
	if raw == "" {
		return nil, nil
	}

	var env resultsEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err == nil && env.Results != nil {
		return env.Results, nil
	}

	var legacy []SyncResult
	if err := json.Unmarshal([]byte(raw), &legacy); err == nil {
		return legacy, nil
	}

	return nil, fmt.Errorf("sync results payload is neither envelope nor legacy array")
}

// Counts tallies a result slice the way rows store it.
func Counts(results []SyncResult) (success, failure int) {
	for _, r := range results {
		if r.Type == ResultSuccess {
			success++
		} else {
			failure++
		}
	}
	return success, failure
}
