package report

import "github.com/google/uuid"

// NewRunID mints a fresh analysis-run identifier. Every snapshot a tstore
// backend persists is keyed by one of these, and the reportsrv proxy
// surfaces the id of the run that produced a given aggregate trace in its
// X-Tprof-Run response header — distinct from the SHA1-derived span ids
// GenerateAggregateTrace computes per spec.
func NewRunID() string {
	return uuid.NewString()
}
