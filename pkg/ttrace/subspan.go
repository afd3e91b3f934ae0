package ttrace

import "time"

// Subspan is the interval between two consecutive lifecycle events within a
// single span's arrow list — the unit the layer-4 analyzer profiles.
type Subspan struct {
	Index int
	Start time.Time
	End   time.Time
}

// Duration is End - Start.
func (s Subspan) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

// Subspans derives the subspan list from a span's sorted arrow list: one
// interval for every gap ending in a forward or terminate event, in
// ascending time order, stopping once the terminating event is reached.
func Subspans(arrows []Arrow) []Subspan {
	if len(arrows) == 0 {
		return nil
	}
	var out []Subspan
	prev := arrows[0].Time
	idx := 0
	for _, a := range arrows[1:] {
		switch a.Kind {
		case ArrowForward, ArrowTerminate:
			out = append(out, Subspan{Index: idx, Start: prev, End: a.Time})
			idx++
			prev = a.Time
		}
		if a.Kind == ArrowTerminate {
			return out
		}
	}
	return out
}

// SelfTime computes a span's self time (time spent not waiting on a child)
// from its sorted arrow list, by walking begin/forward/receive/terminate
// events with a nesting counter: a forward event only starts the "waiting"
// clock while no other child call is already outstanding, and a receive
// event only resumes it once the last outstanding call returns.
func SelfTime(arrows []Arrow) time.Duration {
	if len(arrows) == 0 {
		return 0
	}
	var total time.Duration
	prev := arrows[0].Time
	jobCounter := 0
	for _, a := range arrows[1:] {
		switch a.Kind {
		case ArrowForward:
			if jobCounter == 0 {
				total += a.Time.Sub(prev)
			}
			jobCounter++
		case ArrowReceive:
			jobCounter--
			if jobCounter == 0 {
				prev = a.Time
			}
		case ArrowTerminate:
			if jobCounter == 0 {
				total += a.Time.Sub(prev)
			}
			return total
		}
	}
	return total
}
