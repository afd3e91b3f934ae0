// Package report builds the layer1-through-layer4 result tree from a trace
// population, persists it through an ArtifactWriter, and walks the finished
// tree to surface ranked bug reports and synthesize aggregate trace
// documents for the ones it surfaces.
package report

import (
	"context"
	"fmt"
	"sort"

	"github.com/andrewh/tprof/pkg/analysis"
	"github.com/andrewh/tprof/pkg/ingest"
)

// Node is one position in the result tree: the group name it was profiled
// under (empty for the synthetic root), the trace ids in the group, the
// layer's Profile/StructureProfile/SubspanProfile result, and the next
// layer's child groups.
type Node struct {
	Name     string
	TraceIDs []string
	Result   any
	Children []*Node
}

// ArtifactWriter persists one layer's profiling result under dirName before
// recursing into its children. Implementations render the result as a
// plain-text report (see pkg/tstore).
type ArtifactWriter interface {
	WriteLayerResult(dirName string, traceIDs []string, result any) error
}

// layerDirName mirrors the teacher pipeline's artifact directory naming: a
// leaf-group name for layer 1/2 (each group corresponds to a meaningful
// status or request type), and a zero-padded 1-based ordinal for layer 3/4
// (each group is an anonymous structural or event-signature bucket).
func layerDirName(layerIdx int, name string, idx, total int) string {
	if layerIdx <= 1 {
		return fmt.Sprintf("layer%d-%s", layerIdx+1, name)
	}
	width := len(fmt.Sprintf("%d", total))
	return fmt.Sprintf("layer%d-%0*d", layerIdx+1, width, idx+1)
}

type buildFrame struct {
	node     *Node
	layerIdx int
	traceIDs []string
	dirPath  string
}

// BuildTree walks trace ids through every analyzer in turn (status, request
// type, structure, subspan), profiling each group a layer's Group() call
// produces and recursing into the next layer. The walk is an explicit stack
// rather than one function calling the next layer directly, so a single
// loop drives all four layers instead of four mutually-recursive methods.
func BuildTree(ctx context.Context, g ingest.Gather, analyzers [4]analysis.Analyzer, traceIDs []string, rootDir string, writer ArtifactWriter) (*Node, error) {
	root := &Node{TraceIDs: traceIDs}
	stack := []buildFrame{{node: root, layerIdx: 0, traceIDs: traceIDs, dirPath: rootDir}}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if f.layerIdx >= len(analyzers) || len(f.traceIDs) == 0 {
			continue
		}
		analyzer := analyzers[f.layerIdx]

		groups, err := analyzer.Group(ctx, g, f.traceIDs)
		if err != nil {
			return nil, fmt.Errorf("report: layer %d group: %w", f.layerIdx+1, err)
		}

		names := make([]string, 0, len(groups))
		for name := range groups {
			names = append(names, name)
		}
		sort.Strings(names)

		for i, name := range names {
			group := groups[name]
			result, err := analyzer.Profile(ctx, g, group)
			if err != nil {
				return nil, fmt.Errorf("report: layer %d profile %q: %w", f.layerIdx+1, name, err)
			}

			child := &Node{Name: name, TraceIDs: group, Result: result}
			f.node.Children = append(f.node.Children, child)

			dirName := layerDirName(f.layerIdx, name, i, len(names))
			childDir := f.dirPath + "/" + dirName
			if writer != nil {
				if err := writer.WriteLayerResult(childDir, group, result); err != nil {
					return nil, fmt.Errorf("report: writing %s: %w", childDir, err)
				}
			}

			stack = append(stack, buildFrame{node: child, layerIdx: f.layerIdx + 1, traceIDs: group, dirPath: childDir})
		}
	}

	return root, nil
}
