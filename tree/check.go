package tree

import (
	"context"
	"errors"
	"fmt"
	"slices"
)

// ViolationKind classifies a broken tree invariant.
type ViolationKind string

const (
	ViolationMalformedPath     ViolationKind = "malformed_path"
	ViolationLevelMismatch     ViolationKind = "level_mismatch"
	ViolationMissingParent     ViolationKind = "missing_parent"
	ViolationPositionGap       ViolationKind = "position_gap"
	ViolationDuplicatePosition ViolationKind = "duplicate_position"
)

// Violation describes one broken invariant. NodeID is 0 for sibling-set violations.
type Violation struct {
	Kind   ViolationKind
	NodeID int64
	Path   string
	Detail string
}

func (v Violation) String() string {
	if v.NodeID == 0 {
		return fmt.Sprintf("%s at %q: %s", v.Kind, v.Path, v.Detail)
	}
	return fmt.Sprintf("%s on node %d (%q): %s", v.Kind, v.NodeID, v.Path, v.Detail)
}

// Report is the result of Check.
type Report struct {
	Nodes      int
	Violations []Violation
}

// OK reports whether no violation was found.
func (r *Report) OK() bool {
	return len(r.Violations) == 0
}

// Check scans every node matching the configured filter and extra and reports
// nodes whose level disagrees with their path, whose parent is missing, and
// sibling sets whose positions are not exactly 1..count.
func (e *Engine) Check(ctx context.Context, extra Filter) (*Report, error) {
	nodes, err := e.store.Query(ctx, e.config.Filter.Merge(extra))
	if err != nil {
		return nil, persistErr("query nodes", err)
	}

	report := &Report{Nodes: len(nodes)}
	seen := make(map[int64]bool, len(nodes))
	for _, n := range nodes {
		seen[n.ID] = true
	}

	siblings := make(map[string][]int)
	var paths []string
	for _, n := range nodes {
		if _, ok := siblings[n.Path]; !ok {
			paths = append(paths, n.Path)
		}
		siblings[n.Path] = append(siblings[n.Path], n.Position)

		if err := e.codec.Validate(n.Path, n.Level); err != nil {
			kind := ViolationLevelMismatch
			if _, derr := e.codec.Depth(n.Path); derr != nil {
				kind = ViolationMalformedPath
			}
			report.Violations = append(report.Violations, Violation{
				Kind: kind, NodeID: n.ID, Path: n.Path, Detail: err.Error(),
			})
			continue
		}

		pid, ok, _ := e.codec.ParentID(n.Path)
		if !ok || seen[pid] {
			continue
		}
		if _, err := e.store.Get(ctx, pid); err != nil {
			if !errors.Is(err, ErrNotFound) {
				return nil, persistErr(fmt.Sprintf("get node %d", pid), err)
			}
			report.Violations = append(report.Violations, Violation{
				Kind: ViolationMissingParent, NodeID: n.ID, Path: n.Path,
				Detail: fmt.Sprintf("parent %d does not exist", pid),
			})
			continue
		}
		seen[pid] = true
	}

	for _, path := range paths {
		positions := siblings[path]
		slices.Sort(positions)
		for i, pos := range positions {
			switch {
			case i > 0 && positions[i-1] == pos:
				report.Violations = append(report.Violations, Violation{
					Kind: ViolationDuplicatePosition, Path: path,
					Detail: fmt.Sprintf("position %d used more than once", pos),
				})
			case pos != i+1:
				report.Violations = append(report.Violations, Violation{
					Kind: ViolationPositionGap, Path: path,
					Detail: fmt.Sprintf("expected positions 1..%d, got %v", len(positions), positions),
				})
			}
			if pos != i+1 {
				break
			}
		}
	}

	if !report.OK() {
		e.logger.Warn("tree check found violations", "nodes", report.Nodes, "violations", len(report.Violations))
	}
	return report, nil
}
