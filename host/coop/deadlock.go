package coop

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aclements/go-moremath/graph"
	"github.com/aclements/go-moremath/graph/graphalg"
)

// waitGraph has an edge from every blocked thread to the thread it waits for
// (a mutex owner or a joined thread). It satisfies graph.Graph.
type waitGraph struct {
	threads []*thread
	out     [][]int
}

func (g *waitGraph) NumNodes() int {
	return len(g.threads)
}

func (g *waitGraph) Out(i int) []int {
	return g.out[i]
}

func (h *Host) waitGraph() *waitGraph {
	g := &waitGraph{}
	for _, t := range h.all {
		g.threads = append(g.threads, t)
	}
	sort.Slice(g.threads, func(i, j int) bool { return g.threads[i].id < g.threads[j].id })

	index := make(map[*thread]int, len(g.threads))
	for i, t := range g.threads {
		index[t] = i
	}
	g.out = make([][]int, len(g.threads))
	for i, t := range g.threads {
		if j, ok := index[t.blocker]; ok && t.blockedOn != "" {
			g.out[i] = append(g.out[i], j)
		}
	}
	return g
}

// cycles returns the groups of threads that wait for each other.
func cycles(g *waitGraph) [][]*thread {
	var res [][]*thread
	scc := graphalg.SCC(graph.Graph(g), graphalg.SCCSubnodeComponent)
	for cid := 0; cid < scc.NumNodes(); cid++ {
		nids := scc.Subnodes(cid)
		if len(nids) == 1 {
			// A single node is only a cycle if it waits for itself.
			self := false
			for _, succ := range g.Out(nids[0]) {
				self = self || succ == nids[0]
			}
			if !self {
				continue
			}
		}
		group := make([]*thread, 0, len(nids))
		for _, nid := range nids {
			group = append(group, g.threads[nid])
		}
		sort.Slice(group, func(i, j int) bool { return group[i].id < group[j].id })
		res = append(res, group)
	}
	return res
}

// deadlockReport describes why nothing can run after prev blocked.
func (h *Host) deadlockReport(prev *thread) string {
	var b strings.Builder
	fmt.Fprintf(&b, "deadlock: %v blocked with no runnable thread left", prev)

	g := h.waitGraph()
	for _, t := range g.threads {
		if t.blockedOn == "" {
			continue
		}
		fmt.Fprintf(&b, "\n  %v waits on %s", t, t.blockedOn)
		if t.blocker != nil {
			fmt.Fprintf(&b, " (%v)", t.blocker)
		}
	}
	for _, group := range cycles(g) {
		names := make([]string, len(group))
		for i, t := range group {
			names[i] = t.String()
		}
		fmt.Fprintf(&b, "\n  cycle: %s", strings.Join(names, " <-> "))
	}
	return b.String()
}
