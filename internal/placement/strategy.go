// Package placement assigns workload roles to topology switches through
// named, pure ranking strategies.
package placement

import (
	"fmt"
	"sort"

	"github.com/iti/rngstream"

	"github.com/oabuhamdan/fleet/internal/errdefs"
	"github.com/oabuhamdan/fleet/internal/topology"
)

const (
	StrategyHighestDegree = "highest_degree"
	StrategyLowestDegree  = "lowest_degree"
	StrategyRandom        = "random"
	StrategySpecificNode  = "specific_node"
)

// Params carries the per-call inputs some strategies need: the node id for
// specific_node and the random stream for random.
type Params struct {
	Node string
	RNG  *rngstream.RngStream
}

// A StrategyFunc ranks candidate nodes for a role. The first entry is the
// pick for a singleton role; multiple roles are assigned round-robin over
// the whole ranking. Strategies never mutate their input.
type StrategyFunc func(nodes []topology.NodeView, p Params) ([]string, error)

var strategies = map[string]StrategyFunc{
	StrategyHighestDegree: rankHighestDegree,
	StrategyLowestDegree:  rankLowestDegree,
	StrategyRandom:        rankRandom,
	StrategySpecificNode:  rankSpecificNode,
}

// Rank runs the named strategy over the candidates. Unknown names and
// empty candidate sets are configuration errors, caught before any host
// exists.
func Rank(strategy string, nodes []topology.NodeView, p Params) ([]string, error) {
	fn, ok := strategies[strategy]
	if !ok {
		return nil, fmt.Errorf("%w: unknown placement strategy %q", errdefs.ErrConfiguration, strategy)
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("%w: no candidate nodes for strategy %q", errdefs.ErrConfiguration, strategy)
	}
	return fn(nodes, p)
}

// Pick returns the top-ranked node of the named strategy.
func Pick(strategy string, nodes []topology.NodeView, p Params) (string, error) {
	ranking, err := Rank(strategy, nodes, p)
	if err != nil {
		return "", err
	}
	return ranking[0], nil
}

// rankByDegree sorts a copy stably so equal degrees keep their input
// order.
func rankByDegree(nodes []topology.NodeView, better func(a, b int) bool) []string {
	ranked := make([]topology.NodeView, len(nodes))
	copy(ranked, nodes)
	sort.SliceStable(ranked, func(i, j int) bool {
		return better(ranked[i].Degree, ranked[j].Degree)
	})
	ids := make([]string, len(ranked))
	for i, n := range ranked {
		ids[i] = n.ID
	}
	return ids
}

func rankHighestDegree(nodes []topology.NodeView, _ Params) ([]string, error) {
	return rankByDegree(nodes, func(a, b int) bool { return a > b }), nil
}

func rankLowestDegree(nodes []topology.NodeView, _ Params) ([]string, error) {
	return rankByDegree(nodes, func(a, b int) bool { return a < b }), nil
}

func rankRandom(nodes []topology.NodeView, p Params) ([]string, error) {
	if p.RNG == nil {
		return nil, fmt.Errorf("%w: random placement needs a random stream", errdefs.ErrConfiguration)
	}
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	for i := len(ids) - 1; i > 0; i-- {
		j := p.RNG.RandInt(0, i)
		ids[i], ids[j] = ids[j], ids[i]
	}
	return ids, nil
}

func rankSpecificNode(nodes []topology.NodeView, p Params) ([]string, error) {
	if p.Node == "" {
		return nil, fmt.Errorf("%w: specific_node placement needs a node id", errdefs.ErrConfiguration)
	}
	for _, n := range nodes {
		if n.ID == p.Node {
			return []string{n.ID}, nil
		}
	}
	return nil, fmt.Errorf("%w: node %q not among candidates", errdefs.ErrConfiguration, p.Node)
}
