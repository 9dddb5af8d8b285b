package tree

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var movesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "mpath_moves_total",
	Help: "Number of move operations, by destination kind",
}, []string{"destination"})

var relocatedNodes = promauto.NewCounter(prometheus.CounterOpts{
	Name: "mpath_relocated_nodes_total",
	Help: "Number of nodes whose path was rewritten by a move, including descendants",
})

var depthRedirects = promauto.NewCounter(prometheus.CounterOpts{
	Name: "mpath_depth_redirects_total",
	Help: "Number of moves redirected to the target's parent because the target sat at max level",
})

var treeLoads = promauto.NewCounter(prometheus.CounterOpts{
	Name: "mpath_tree_loads_total",
	Help: "Number of subtree queries issued to build a tree cache",
})

var orphanNodes = promauto.NewCounter(prometheus.CounterOpts{
	Name: "mpath_orphan_nodes_total",
	Help: "Number of nodes dropped while loading a tree because their parent was not loaded",
})

var positionShifts = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "mpath_position_shifts_total",
	Help: "Number of sibling range updates, by kind",
}, []string{"kind"})
