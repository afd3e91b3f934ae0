package report

import (
	"fmt"
	"sort"

	"github.com/dustin/go-humanize"

	"github.com/andrewh/tprof/pkg/analysis"
	"github.com/andrewh/tprof/pkg/tconfig"
	"github.com/andrewh/tprof/pkg/tstat"
	"github.com/andrewh/tprof/pkg/ttrace"
)

// noDiffIdx marks a layer-3 match against a leaf span (one with no
// children, so there is no child_diff/end_diff to blame, only the span's
// own duration). endDiffIdx marks a match against the gap after the last
// child returns and the span itself ends.
const (
	noDiffIdx  = -2
	endDiffIdx = -1
)

// L3Mode names which of a span's three failure shapes a layer-3 match
// represents.
type L3Mode string

const (
	L3ModeFS  L3Mode = "FS"  // the whole span is suspicious; it has no children to blame
	L3ModeCSL L3Mode = "CSL" // a child started later than the norm baseline
	L3ModeLPL L3Mode = "LPL" // the span's tail, after its last child returned, ran long
)

// L1Report names a slow operation found at the top level: every trace, not
// broken down by request type.
type L1Report struct {
	Service, Operation string
	OpCount, ReqCount  int
	OpDur              float64
}

// L2Report narrows an L1Report's operation down to the request type it is
// worst in, and whether it looks like a tail problem (present only in slow
// requests) or a steady-state one (present across the whole population).
type L2Report struct {
	IsTail      bool
	ReqType     string
	DirL2       string
	TailScale   float64
	GroupLength int
	ReqDur      float64
}

// L3Report pinpoints where, structurally, the operation's time is spent:
// the whole span (FS), a child starting late (CSL), or the span's own tail
// running long after its last child returns (LPL).
type L3Report struct {
	GroupIdx    int
	OrdinalIdx  string
	Mode        L3Mode
	NumOfChild  int
	GroupLength int
	LastPct     float64 // set only for LPL
	ChildIdx    string  // ordinal; set only for CSL
	ChildPct    float64 // set only for CSL
}

// L4Report names the specific subspan (or full span) event-signature
// variant responsible, with a pointer to a synthesized aggregate trace
// visualizing it.
type L4Report struct {
	GroupIdx    int
	SubspanIdx  string // ordinal
	SubspanDur  float64
	SubspanPct  float64
	CountPct    float64
	TraceID     string
	GroupLength int
}

// BugReport is one complete, ranked diagnosis: an operation (L1) that is
// slow in some request type (L2), at some position in its call tree (L3),
// down to the specific subspan responsible (L4).
type BugReport struct {
	L1 L1Report
	L2 L2Report
	L3 L3Report
	L4 L4Report
}

// Finder walks a built result tree (see BuildTree) and searches it for
// ranked bug reports, synthesizing an aggregate trace JSON document for
// every L4 candidate it surfaces.
type Finder struct {
	cfg         tconfig.Config
	abbrevInv   map[string]string
	showSubspan bool
	rootEntry   *analysis.OpStat

	aggTraces map[string]AggregateTraceDoc
}

// NewFinder builds a Finder from the analysis configuration in effect.
func NewFinder(cfg tconfig.Config, showSubspan bool) *Finder {
	return &Finder{cfg: cfg, abbrevInv: cfg.InvertAbbrev(), showSubspan: showSubspan, aggTraces: make(map[string]AggregateTraceDoc)}
}

// AggregateTraces returns every aggregate trace document synthesized by the
// most recent Find call, keyed by the synthetic trace id referenced in
// each BugReport.L4.TraceID.
func (f *Finder) AggregateTraces() map[string]AggregateTraceDoc { return f.aggTraces }

func (f *Finder) invAbbrev(name string) string {
	if full, ok := f.abbrevInv[name]; ok {
		return full
	}
	return name
}

func (f *Finder) width(layer string) int {
	if w, ok := f.cfg.SearchWidth[layer]; ok {
		return w
	}
	return 1<<31 - 1
}

// Find runs the full layer1-through-layer4 bug search over tree (the root
// node BuildTree returned) and returns ranked bug reports, most severe
// first within each layer's search width.
func (f *Finder) Find(tree *Node) ([]BugReport, error) {
	var good *Node
	for _, c := range tree.Children {
		if c.Name == ttrace.GoodTracesName {
			good = c
			break
		}
	}
	if good == nil {
		return nil, fmt.Errorf("report: no %s group in result tree", ttrace.GoodTracesName)
	}

	profile1, ok := good.Result.(*analysis.Profile)
	if !ok {
		return nil, fmt.Errorf("report: layer-1 result has unexpected type %T", good.Result)
	}

	for i := range profile1.AllOperation {
		if profile1.AllOperation[i].Name == ttrace.MasterSpanName {
			f.rootEntry = &profile1.AllOperation[i]
			break
		}
	}
	if f.rootEntry == nil {
		return nil, fmt.Errorf("report: root entry missing from layer-1 all_operation")
	}

	var reports []BugReport
	var knownBugs1 []string
	l1Calls := 0
	for _, bug := range profile1.AllOperationSelf {
		serv, op := splitServOp(bug.Name)
		if serv == ttrace.MasterSpanName && op == "" {
			continue
		}

		l1 := L1Report{
			Service:  f.invAbbrev(serv),
			Operation: f.invAbbrev(op),
			OpCount:  bug.Stat.Count,
			ReqCount: f.rootEntry.Stat.Count,
			OpDur:    bug.Stat.Mean,
		}
		reports = append(reports, f.layer2(good.Children, bug.Name, knownBugs1, l1)...)
		knownBugs1 = append(knownBugs1, bug.Name)

		l1Calls++
		if l1Calls >= f.width("l1") {
			break
		}
	}
	return reports, nil
}

func findOpStat(stats []analysis.OpStat, name string) (analysis.OpStat, bool) {
	for _, s := range stats {
		if s.Name == name {
			return s, true
		}
	}
	return analysis.OpStat{}, false
}

func statValue(stats []analysis.OpStat, name string) float64 {
	s, ok := findOpStat(stats, name)
	if !ok {
		return 0
	}
	return s.Stat.Mean * float64(s.Stat.Count)
}

func containsStr(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func (f *Finder) layer2(groups []*Node, bugToFind string, bugsFound []string, l1 L1Report) []BugReport {
	var reports []BugReport
	var knownBugs2 []string

	byTail := append([]*Node(nil), groups...)
	sort.SliceStable(byTail, func(i, j int) bool {
		return groupSelfMetric(byTail[i], bugToFind, true) > groupSelfMetric(byTail[j], bugToFind, true)
	})
	byAll := append([]*Node(nil), groups...)
	sort.SliceStable(byAll, func(i, j int) bool {
		return groupSelfMetric(byAll[i], bugToFind, false) > groupSelfMetric(byAll[j], bugToFind, false)
	})

	calls := 0
	for _, group := range byTail {
		profile, ok := group.Result.(*analysis.Profile)
		if !ok {
			continue
		}
		idx := -1
		for i, s := range profile.TailOperationSelf {
			if !containsStr(bugsFound, s.Name) {
				idx = i
				break
			}
		}
		if idx < 0 || profile.TailOperationSelf[idx].Name != bugToFind {
			continue
		}
		bugInTail := profile.TailOperationSelf[idx]

		normEntry, ok := findOpStat(profile.NormOperationSelf, bugInTail.Name)
		if !ok || bugInTail.Stat.Mean <= f.cfg.TailMultiple*normEntry.Stat.Mean {
			continue
		}

		rootEntry, ok := findOpStat(profile.AllOperation, ttrace.MasterSpanName)
		if !ok {
			continue
		}

		l2 := L2Report{
			IsTail:      true,
			ReqType:     group.Name,
			DirL2:       "./layer2-" + group.Name + "/",
			TailScale:   bugInTail.Stat.Mean / normEntry.Stat.Mean,
			GroupLength: profile.Length,
			ReqDur:      rootEntry.Stat.P99,
		}
		knownBugs2 = append(knownBugs2, group.Name)
		reports = append(reports, f.layer3(group.Children, bugToFind, true, l1, l2)...)

		calls++
		if calls >= f.width("l2") {
			return reports
		}
	}

	for _, group := range byAll {
		if containsStr(knownBugs2, group.Name) {
			continue
		}
		profile, ok := group.Result.(*analysis.Profile)
		if !ok {
			continue
		}
		if _, ok := findOpStat(profile.AllOperationSelf, bugToFind); !ok {
			continue
		}
		rootEntry, ok := findOpStat(profile.AllOperation, ttrace.MasterSpanName)
		if !ok {
			continue
		}

		l2 := L2Report{
			IsTail:      false,
			ReqType:     group.Name,
			DirL2:       "./layer2-" + group.Name + "/",
			GroupLength: profile.Length,
			ReqDur:      rootEntry.Stat.Mean,
		}
		knownBugs2 = append(knownBugs2, group.Name)
		reports = append(reports, f.layer3(group.Children, bugToFind, false, l1, l2)...)

		calls++
		if calls >= f.width("l2") {
			return reports
		}
	}

	return reports
}

// groupSelfMetric is count*mean for bugToFind in one group's self-time
// table (tail if byTail, else whole-population), used to rank groups
// before scanning them; 0 when the group never recorded that operation.
func groupSelfMetric(group *Node, bugToFind string, byTail bool) float64 {
	profile, ok := group.Result.(*analysis.Profile)
	if !ok {
		return 0
	}
	if byTail {
		return statValue(profile.TailOperationSelf, bugToFind)
	}
	return statValue(profile.AllOperationSelf, bugToFind)
}

type subTreeNode struct {
	Name     string
	Children []*subTreeNode
}

func buildSubTree(n *analysis.AggregateNode) *subTreeNode {
	st := &subTreeNode{Name: n.Name}
	for _, c := range n.Children {
		st.Children = append(st.Children, buildSubTree(c))
	}
	return st
}

func convertSubTreeToSubPaths(tree *subTreeNode, prefix string) []string {
	path := prefix + tree.Name + "~"
	paths := []string{path}
	for _, c := range tree.Children {
		paths = append(paths, convertSubTreeToSubPaths(c, path)...)
	}
	return paths
}

func matchSubPaths(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	a = append([]string(nil), a...)
	b = append([]string(nil), b...)
	sort.Strings(a)
	sort.Strings(b)
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// stripIdx removes "[n]" sibling-disambiguation suffixes from every
// component of a "~"-joined path.
func stripIdx(path string) string {
	parts := splitPath(path)
	out := ""
	for _, p := range parts {
		if i := indexByte(p, '['); i >= 0 {
			p = p[:i]
		}
		out += p + "~"
	}
	return out
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

type diffTuple struct {
	l3Idx      int
	group      *Node
	path       []string
	numOfChild int
	subTree    *subTreeNode
	spanStats  tstat.Stat
	diffIdx    int
	diffStats  *tstat.Stat
}

func findSpans(l3Idx int, group *Node, bugToFind string, spanTuples []*analysis.AggregateNode, path []string) []diffTuple {
	var out []diffTuple
	for _, st := range spanTuples {
		newPath := append(append([]string(nil), path...), st.Name)
		if st.Name == bugToFind {
			if len(st.Children) == 0 {
				out = append(out, diffTuple{l3Idx: l3Idx, group: group, path: newPath, numOfChild: 0, subTree: buildSubTree(st), spanStats: st.Duration, diffIdx: noDiffIdx})
				break
			}
			for idx, cd := range st.ChildDiffs {
				cdCopy := cd
				out = append(out, diffTuple{l3Idx: l3Idx, group: group, path: newPath, numOfChild: len(st.Children), subTree: buildSubTree(st), spanStats: st.Duration, diffIdx: idx, diffStats: &cdCopy})
			}
			ed := st.EndDiff
			out = append(out, diffTuple{l3Idx: l3Idx, group: group, path: newPath, numOfChild: len(st.Children), subTree: buildSubTree(st), spanStats: st.Duration, diffIdx: endDiffIdx, diffStats: &ed})
		}
		out = append(out, findSpans(l3Idx, group, bugToFind, st.Children, newPath)...)
	}
	return out
}

func (f *Finder) layer3(groups []*Node, bugToFind string, isTail bool, l1 L1Report, l2 L2Report) []BugReport {
	var reports []BugReport
	var diffTuples []diffTuple
	groupSizes := make([]int, len(groups))

	for l3Idx, group := range groups {
		sp, ok := group.Result.(*analysis.StructureProfile)
		if !ok {
			continue
		}
		groupSizes[l3Idx] = sp.Length

		var roots []*analysis.AggregateNode
		if !isTail {
			roots = []*analysis.AggregateNode{sp.Overall}
		} else {
			if sp.Tail == nil {
				continue
			}
			roots = []*analysis.AggregateNode{sp.Tail}
		}
		diffTuples = append(diffTuples, findSpans(l3Idx, group, bugToFind, roots, nil)...)
	}

	sort.SliceStable(diffTuples, func(i, j int) bool {
		return diffMetric(diffTuples[i]) > diffMetric(diffTuples[j])
	})

	calls := 0
	for _, dt := range diffTuples {
		l3 := L3Report{
			GroupIdx:    dt.l3Idx + 1,
			OrdinalIdx:  humanize.Ordinal(dt.l3Idx + 1),
			NumOfChild:  dt.numOfChild,
			GroupLength: groupSizes[dt.l3Idx],
		}
		switch dt.diffIdx {
		case noDiffIdx:
			l3.Mode = L3ModeFS
		case endDiffIdx:
			l3.Mode = L3ModeLPL
			l3.LastPct = dt.diffStats.Mean / dt.spanStats.Mean
		default:
			l3.Mode = L3ModeCSL
			l3.ChildIdx = humanize.Ordinal(dt.diffIdx + 1)
			l3.ChildPct = dt.diffStats.Mean / dt.spanStats.Mean
		}
		reports = append(reports, f.layer4(dt.group.Children, dt.path, dt.subTree, dt.diffIdx, dt.diffStats, isTail, l3.Mode, l1, l2, l3)...)

		calls++
		if calls >= f.width("l3") {
			break
		}
	}
	return reports
}

func diffMetric(dt diffTuple) float64 {
	if dt.diffStats == nil {
		return 0
	}
	return float64(dt.diffStats.Count) * dt.diffStats.Mean
}

func (f *Finder) layer4(groups []*Node, bugToFind []string, subTree *subTreeNode, diffIdx int, diffStats *tstat.Stat, isTail bool, mode L3Mode, l1 L1Report, l2 L2Report, l3 L3Report) []BugReport {
	type candidate struct {
		l4Idx      int
		metric     float64
		subspanIdx int
		subspanDur float64
		subspanPct float64
		count      int
		traceID    string
	}
	var candidates []candidate
	groupSizes := make([]int, len(groups))

	for l4Idx, group := range groups {
		sp, ok := group.Result.(*analysis.SubspanProfile)
		if !ok {
			continue
		}
		groupSizes[l4Idx] = sp.Length

		var stats []analysis.SubspanStat
		if isTail {
			stats = sp.Tail
		} else {
			stats = sp.Whole
		}

		matchedPaths := make(map[string][]string)
		var matchedOrder []string
		for _, stat := range stats {
			path := splitPath(stat.Name)
			if len(path) == 0 || path[len(path)-1] != "FullSpan" {
				continue
			}
			path = path[:len(path)-1]
			if len(path) < len(bugToFind) {
				continue
			}
			match := true
			matchedPath := ""
			for idx, component := range bugToFind {
				if hasPrefixComponent(path[idx], component) {
					matchedPath += path[idx] + "~"
				} else {
					match = false
					break
				}
			}
			if !match {
				continue
			}
			subPathStart := lastTildeBeforeTrailing(matchedPath) + 1
			subPath := stat.Name[subPathStart : len(stat.Name)-len("FullSpan")]
			stripped := stripIdx(subPath)
			if _, ok := matchedPaths[matchedPath]; !ok {
				matchedOrder = append(matchedOrder, matchedPath)
			}
			matchedPaths[matchedPath] = append(matchedPaths[matchedPath], stripped)
		}
		if len(matchedPaths) == 0 {
			continue
		}

		subPathsToMatch := convertSubTreeToSubPaths(subTree, "")

		var matchedPrefixes []string
		if len(matchedPaths) == 1 {
			matchedPrefixes = append(matchedPrefixes, matchedOrder[0])
		} else {
			for _, path := range matchedOrder {
				if matchSubPaths(matchedPaths[path], subPathsToMatch) {
					matchedPrefixes = append(matchedPrefixes, path)
				}
			}
		}
		if len(matchedPrefixes) == 0 {
			continue
		}

		for _, prefix := range matchedPrefixes {
			var subspanIdx int
			var subspanName string
			switch mode {
			case L3ModeCSL:
				subspanIdx = diffIdx
				subspanName = fmt.Sprintf("%s%d", prefix, subspanIdx)
			case L3ModeLPL:
				subspanIdx = maxSubspanIdx(stats, prefix)
				subspanName = fmt.Sprintf("%s%d", prefix, subspanIdx)
			default:
				subspanIdx = -1
				subspanName = prefix + "FullSpan"
			}

			subspanStat, ok := findSubspanStat(stats, subspanName)
			if !ok {
				continue
			}
			spanStat, ok := findSubspanStat(stats, prefix+"FullSpan")
			if !ok {
				continue
			}
			metricValue := subspanStat.Stat.Mean * float64(subspanStat.Stat.Count) * subspanStat.Stat.Mean / spanStat.Stat.Mean
			subspanDur := subspanStat.Stat.Mean
			subspanPct := subspanDur / spanStat.Stat.Mean

			traceID := fmt.Sprintf("%d", len(f.aggTraces)+1)
			f.aggTraces[traceID] = GenerateAggregateTrace(traceID, sp.Arrows, stats, subspanName, f.abbrevInv, f.showSubspan)

			candidates = append(candidates, candidate{
				l4Idx: l4Idx, metric: metricValue, subspanIdx: subspanIdx,
				subspanDur: subspanDur, subspanPct: subspanPct,
				count: subspanStat.Stat.Count, traceID: traceID,
			})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].metric > candidates[j].metric })

	var reports []BugReport
	for _, c := range candidates {
		l4 := L4Report{
			GroupIdx:    c.l4Idx + 1,
			SubspanIdx:  humanize.Ordinal(c.subspanIdx + 1),
			SubspanDur:  c.subspanDur,
			SubspanPct:  c.subspanPct,
			CountPct:    float64(c.count) / float64(f.rootEntry.Stat.Count),
			TraceID:     c.traceID,
			GroupLength: groupSizes[c.l4Idx],
		}
		reports = append(reports, BugReport{L1: l1, L2: l2, L3: l3, L4: l4})
		if len(reports) >= f.width("l4") {
			break
		}
	}
	return reports
}

func hasPrefixComponent(path, component string) bool {
	return len(path) >= len(component) && path[:len(component)] == component
}

func lastTildeBeforeTrailing(s string) int {
	trimmed := s
	if len(trimmed) > 0 && trimmed[len(trimmed)-1] == '~' {
		trimmed = trimmed[:len(trimmed)-1]
	}
	for i := len(trimmed) - 1; i >= 0; i-- {
		if trimmed[i] == '~' {
			return i
		}
	}
	return -1
}

func maxSubspanIdx(stats []analysis.SubspanStat, prefix string) int {
	max := -1
	for _, s := range stats {
		if len(s.Name) <= len(prefix) || s.Name[:len(prefix)] != prefix {
			continue
		}
		rest := s.Name[len(prefix):]
		n := 0
		ok := true
		for _, c := range rest {
			if c < '0' || c > '9' {
				ok = false
				break
			}
			n = n*10 + int(c-'0')
		}
		if ok && rest != "" && n > max {
			max = n
		}
	}
	return max
}

func findSubspanStat(stats []analysis.SubspanStat, name string) (analysis.SubspanStat, bool) {
	for _, s := range stats {
		if s.Name == name {
			return s, true
		}
	}
	return analysis.SubspanStat{}, false
}
