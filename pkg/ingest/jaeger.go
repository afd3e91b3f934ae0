package ingest

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/jaegertracing/jaeger-idl/model/v1"
	"github.com/jaegertracing/jaeger-idl/proto-gen/api_v2"
	"google.golang.org/grpc"

	"github.com/andrewh/tprof/pkg/ttrace"
)

// JaegerGRPCGather implements Gather over a Jaeger Query Service gRPC
// endpoint, grounded on the reference Python Jaeger gather client: it
// resolves "all services"/"all operations" when the caller doesn't name
// any, applies the configured service/operation name abbreviation map on
// every fetched span, and caches fetched traces by id.
type JaegerGRPCGather struct {
	client api_v2.QueryServiceClient
	abbrev map[string]string

	mu    sync.Mutex
	cache map[string]*ttrace.Trace
}

// NewJaegerGRPCGather wraps an already-dialed conn in a Gather. abbrev maps raw
// service/operation names to their shortened form at ingest time (the
// report engine inverts the same map when rendering bug reports).
func NewJaegerGRPCGather(conn *grpc.ClientConn, abbrev map[string]string) *JaegerGRPCGather {
	return &JaegerGRPCGather{
		client: api_v2.NewQueryServiceClient(conn),
		abbrev: abbrev,
		cache:  make(map[string]*ttrace.Trace),
	}
}

func (g *JaegerGRPCGather) simplify(name string) string {
	if short, ok := g.abbrev[name]; ok {
		return short
	}
	return name
}

// FindTraceIDs resolves the requested service/operation selection (querying
// GetServices/GetOperations when services is empty or an entry names no
// operations) and issues one FindTraces call per (service, operation) pair,
// unioning the resulting trace ids.
func (g *JaegerGRPCGather) FindTraceIDs(ctx context.Context, services map[string][]string, start, end time.Time, depth int) ([]string, error) {
	selection := services
	if len(selection) == 0 {
		svcResp, err := g.client.GetServices(ctx, &api_v2.GetServicesRequest{})
		if err != nil {
			return nil, fmt.Errorf("listing services: %w", err)
		}
		selection = make(map[string][]string, len(svcResp.Services))
		for _, s := range svcResp.Services {
			selection[s] = nil
		}
	}

	seen := make(map[string]struct{})
	var ids []string

	for service, ops := range selection {
		operations := ops
		if len(operations) == 0 {
			opResp, err := g.client.GetOperations(ctx, &api_v2.GetOperationsRequest{Service: service})
			if err != nil {
				return nil, fmt.Errorf("listing operations for %s: %w", service, err)
			}
			for _, o := range opResp.Operations {
				operations = append(operations, o.Name)
			}
		}

		for _, operation := range operations {
			req := &api_v2.FindTracesRequest{
				Query: &api_v2.TraceQueryParameters{
					ServiceName:   service,
					OperationName: operation,
					StartTimeMin:  start,
					StartTimeMax:  end,
					DurationMin:   DefaultMinDuration,
					DurationMax:   DefaultMaxDuration,
					SearchDepth:   int32(depth), //nolint:gosec
				},
			}
			stream, err := g.client.FindTraces(ctx, req)
			if err != nil {
				return nil, fmt.Errorf("finding traces for %s:%s: %w", service, operation, err)
			}
			for {
				chunk, err := stream.Recv()
				if err == io.EOF {
					break
				}
				if err != nil {
					return nil, fmt.Errorf("streaming traces for %s:%s: %w", service, operation, err)
				}
				for _, span := range chunk.Spans {
					id := span.TraceID.String()
					if _, ok := seen[id]; ok {
						continue
					}
					seen[id] = struct{}{}
					ids = append(ids, id)
				}
			}
		}
	}
	return ids, nil
}

// GetTrace fetches every span of traceID over the streaming GetTrace RPC
// and assembles it into a Trace, abbreviating service/operation names on
// the way in.
func (g *JaegerGRPCGather) GetTrace(ctx context.Context, traceID string) (*ttrace.Trace, error) {
	g.mu.Lock()
	if tr, ok := g.cache[traceID]; ok {
		g.mu.Unlock()
		return tr, nil
	}
	g.mu.Unlock()

	tid, err := model.TraceIDFromString(traceID)
	if err != nil {
		return nil, fmt.Errorf("parsing trace id %s: %w", traceID, err)
	}

	stream, err := g.client.GetTrace(ctx, &api_v2.GetTraceRequest{TraceID: tid})
	if err != nil {
		return nil, fmt.Errorf("fetching trace %s: %w", traceID, err)
	}

	var raws []ttrace.RawSpan
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("streaming trace %s: %w", traceID, err)
		}
		for _, span := range chunk.Spans {
			raws = append(raws, g.toRawSpan(span))
		}
	}
	if len(raws) == 0 {
		return nil, fmt.Errorf("trace %s has no spans", traceID)
	}

	traces, err := ttrace.BuildTraces(raws, io.Discard)
	if err != nil {
		return nil, err
	}
	tr := traces[0]

	g.mu.Lock()
	g.cache[traceID] = tr
	g.mu.Unlock()
	return tr, nil
}

func (g *JaegerGRPCGather) toRawSpan(span *model.Span) ttrace.RawSpan {
	parentID := ""
	for _, ref := range span.References {
		if ref.RefType == model.ChildOf && ref.TraceID == span.TraceID {
			parentID = ref.SpanID.String()
			break
		}
	}

	service := ""
	if span.Process != nil {
		service = g.simplify(span.Process.ServiceName)
	}

	attrs := make(map[string]string, len(span.Tags))
	isError := false
	for _, tag := range span.Tags {
		if tag.Key == "error" && tag.VBool {
			isError = true
		}
		attrs[tag.Key] = tag.AsString()
	}

	return ttrace.RawSpan{
		TraceID:    span.TraceID.String(),
		SpanID:     span.SpanID.String(),
		ParentID:   parentID,
		Service:    service,
		Operation:  g.simplify(span.OperationName),
		Start:      span.StartTime,
		End:        span.StartTime.Add(span.Duration),
		IsError:    isError,
		Attributes: attrs,
	}
}

