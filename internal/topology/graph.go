// Package topology models the emulated network as an arena of node and
// link records keyed by stable ids. Switches come from a descriptor
// (catalog entry, descriptor file or registered constructor); hosts are
// attached afterwards by the orchestrator. Node degree is computed once
// when the graph is built and never changes, so attaching hosts does not
// disturb degree-based placement.
package topology

import (
	"fmt"

	"github.com/oabuhamdan/fleet/internal/limits"
)

type NodeKind string

const (
	KindSwitch NodeKind = "switch"
	KindHost   NodeKind = "host"
)

type Node struct {
	ID     string
	Kind   NodeKind
	Degree int
	Role   string
	Limits *limits.Spec
	Config map[string]string
}

// Link is one undirected edge carrying per-direction utilization. Src and
// Dst fix which direction "forward" means.
type Link struct {
	Src     string
	Dst     string
	FwdUtil float64
	BwdUtil float64
	Config  map[string]string
}

// NodeView is the read-only slice of a node that placement strategies
// consume.
type NodeView struct {
	ID     string
	Degree int
}

type Graph struct {
	nodes map[string]*Node
	order []string
	adj   map[string][]string
	links []*Link
}

func NewGraph() *Graph {
	return &Graph{
		nodes: make(map[string]*Node),
		adj:   make(map[string][]string),
	}
}

func (g *Graph) AddSwitch(id string) error {
	return g.addNode(&Node{ID: id, Kind: KindSwitch})
}

// AddHost attaches a host node to an existing switch. The host link
// carries no utilization; background traffic is driven by switch links.
func (g *Graph) AddHost(id, attachTo string, spec *limits.Spec) error {
	sw, ok := g.nodes[attachTo]
	if !ok || sw.Kind != KindSwitch {
		return fmt.Errorf("cannot attach host %q: no switch %q", id, attachTo)
	}
	if err := g.addNode(&Node{ID: id, Kind: KindHost, Limits: spec}); err != nil {
		return err
	}
	g.connect(&Link{Src: id, Dst: attachTo})
	return nil
}

func (g *Graph) addNode(n *Node) error {
	if _, ok := g.nodes[n.ID]; ok {
		return fmt.Errorf("node %q already exists", n.ID)
	}
	g.nodes[n.ID] = n
	g.order = append(g.order, n.ID)
	return nil
}

// Connect joins two existing switches. Degree is not updated here; the
// loader freezes degrees once the descriptor is fully applied.
func (g *Graph) Connect(l *Link) error {
	for _, id := range []string{l.Src, l.Dst} {
		if _, ok := g.nodes[id]; !ok {
			return fmt.Errorf("cannot link %s-%s: no node %q", l.Src, l.Dst, id)
		}
	}
	g.connect(l)
	return nil
}

func (g *Graph) connect(l *Link) {
	g.links = append(g.links, l)
	g.adj[l.Src] = append(g.adj[l.Src], l.Dst)
	g.adj[l.Dst] = append(g.adj[l.Dst], l.Src)
}

// freezeDegrees records each switch's adjacency count. Called exactly once
// by the loader, before any host exists.
func (g *Graph) freezeDegrees() {
	for _, id := range g.order {
		n := g.nodes[id]
		if n.Kind == KindSwitch {
			n.Degree = len(g.adj[id])
		}
	}
}

func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Switches returns switch nodes in insertion order. Placement tie-breaks
// depend on this order being stable.
func (g *Graph) Switches() []*Node {
	var out []*Node
	for _, id := range g.order {
		if n := g.nodes[id]; n.Kind == KindSwitch {
			out = append(out, n)
		}
	}
	return out
}

func (g *Graph) Hosts() []*Node {
	var out []*Node
	for _, id := range g.order {
		if n := g.nodes[id]; n.Kind == KindHost {
			out = append(out, n)
		}
	}
	return out
}

// SwitchViews is the placement-facing projection of Switches.
func (g *Graph) SwitchViews() []NodeView {
	switches := g.Switches()
	views := make([]NodeView, len(switches))
	for i, n := range switches {
		views[i] = NodeView{ID: n.ID, Degree: n.Degree}
	}
	return views
}

// Links returns every link record, switch-switch links first in descriptor
// order, then host attachment links in creation order.
func (g *Graph) Links() []*Link {
	return g.links
}

// SwitchLinks returns only the switch-switch links.
func (g *Graph) SwitchLinks() []*Link {
	var out []*Link
	for _, l := range g.links {
		if g.nodes[l.Src].Kind == KindSwitch && g.nodes[l.Dst].Kind == KindSwitch {
			out = append(out, l)
		}
	}
	return out
}

func (g *Graph) Neighbors(id string) []string {
	return g.adj[id]
}
