// Package reportsrv fronts an upstream Jaeger query-service UI with a
// reverse proxy that intercepts GET /api/traces/{id}: when id was produced
// by the report engine's bug search, it serves the synthesized
// report.AggregateTraceDoc directly (stamped with the run that produced
// it, via the X-Tprof-Run header); every other id, and every other path,
// passes straight through to Jaeger unmodified.
package reportsrv

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/andrewh/tprof/pkg/report"
)

// RunHeader names the response header carrying the analysis-run id (see
// report.NewRunID) that produced a served aggregate trace.
const RunHeader = "X-Tprof-Run"

// Server serves synthesized aggregate traces for ids the report engine
// flagged, and proxies everything else to an upstream Jaeger instance.
type Server struct {
	runID     string
	aggTraces map[string]report.AggregateTraceDoc
	upstream  *httputil.ReverseProxy
}

// NewServer builds a Server proxying unmatched requests to upstreamURL.
// aggTraces is typically report.Finder.AggregateTraces()'s return value
// from the analyze run identified by runID.
func NewServer(upstreamURL *url.URL, aggTraces map[string]report.AggregateTraceDoc, runID string) *Server {
	return &Server{
		runID:     runID,
		aggTraces: aggTraces,
		upstream:  httputil.NewSingleHostReverseProxy(upstreamURL),
	}
}

// GetApiTracesId implements ServerInterface.
func (s *Server) GetApiTracesId(w http.ResponseWriter, r *http.Request, id string) {
	doc, ok := s.aggTraces[id]
	if !ok {
		s.upstream.ServeHTTP(w, r)
		return
	}

	w.Header().Set(RunHeader, s.runID)
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(doc); err != nil {
		http.Error(w, fmt.Sprintf("reportsrv: encoding aggregate trace: %v", err), http.StatusInternalServerError)
	}
}

// Handler builds the full http.Handler: the generated /api/traces/{id}
// route backed by Server, falling back to the reverse proxy for every
// other path via Go's longest-match ServeMux routing.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/", s.upstream)
	return HandlerFromMux(s, mux)
}
