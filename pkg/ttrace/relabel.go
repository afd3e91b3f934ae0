package ttrace

import "strconv"

// Relabel assigns every span a Label that disambiguates repeated siblings:
// among spans sharing a parent, the children are walked in start-time
// order (already the tree's natural child order) and the nth repeat of a
// given function name receives a "[n]" suffix; the first occurrence of a
// name is left unsuffixed. Labels are used as the event/structural
// signature key for layer-4 grouping and subspan naming.
func Relabel(master *Span) {
	master.Label = master.FuncName()
	relabelChildren(master.Children)
}

func relabelChildren(children []*Span) {
	seen := make(map[string]int, len(children))
	for _, c := range children {
		name := c.FuncName()
		n := seen[name]
		if n == 0 {
			c.Label = name
		} else {
			c.Label = name + "[" + strconv.Itoa(n) + "]"
		}
		seen[name] = n + 1
		relabelChildren(c.Children)
	}
}

// PathLabels returns, for every span under master (master included), its
// full ancestor path: the root's Label, then each descendant's Label, each
// segment followed by "~" (e.g. "THEMASTERSPAN~svc:op~svc2:call[1]~"). Call
// Relabel first so Label is populated. Layer-4 uses these path strings in
// place of plain function names so that two structurally different calls to
// the same function are never confused as the same event-signature
// participant.
func PathLabels(master *Span) map[string]string {
	paths := make(map[string]string)
	var walk func(s *Span, prefix string)
	walk = func(s *Span, prefix string) {
		path := prefix + s.Label + "~"
		paths[s.ID] = path
		for _, c := range s.Children {
			walk(c, path)
		}
	}
	walk(master, "")
	return paths
}

// StripIndex removes a trailing "[n]" disambiguation suffix from a label,
// recovering the underlying function name.
func StripIndex(label string) string {
	if i := lastBracket(label); i >= 0 {
		return label[:i]
	}
	return label
}

func lastBracket(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '[' {
			return i
		}
	}
	return -1
}
