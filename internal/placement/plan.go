package placement

import (
	"fmt"

	"github.com/iti/rngstream"

	"github.com/oabuhamdan/fleet/internal/errdefs"
	"github.com/oabuhamdan/fleet/internal/topology"
)

// Config selects the strategies for the two workload roles. Node ids are
// only consulted by specific_node strategies.
type Config struct {
	Participants        int    `yaml:"participants"`
	CoordinatorStrategy string `yaml:"coordinator_strategy"`
	CoordinatorNode     string `yaml:"coordinator_node"`
	ParticipantStrategy string `yaml:"participant_strategy"`
	ParticipantNode     string `yaml:"participant_node"`
}

// Assignment maps workload roles to switch ids. Participants[i] is the
// attachment switch of participant i; Background lists every switch, in
// topology order, that gets one traffic host.
type Assignment struct {
	Coordinator  string
	Participants []string
	Background   []string
}

// Plan computes the full role assignment for a topology. The coordinator
// is placed first and its switch never hosts a participant; participants
// are spread round-robin over the participant strategy's ranking of the
// remaining switches.
func Plan(g *topology.Graph, cfg Config, rng *rngstream.RngStream) (*Assignment, error) {
	if cfg.Participants < 1 {
		return nil, fmt.Errorf("%w: participants must be at least 1, got %d",
			errdefs.ErrConfiguration, cfg.Participants)
	}
	switches := g.SwitchViews()

	coordinator, err := Pick(cfg.CoordinatorStrategy, switches,
		Params{Node: cfg.CoordinatorNode, RNG: rng})
	if err != nil {
		return nil, fmt.Errorf("placing coordinator: %w", err)
	}

	candidates := make([]topology.NodeView, 0, len(switches)-1)
	for _, sw := range switches {
		if sw.ID != coordinator {
			candidates = append(candidates, sw)
		}
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: topology has no switches left for participants",
			errdefs.ErrConfiguration)
	}
	ranking, err := Rank(cfg.ParticipantStrategy, candidates,
		Params{Node: cfg.ParticipantNode, RNG: rng})
	if err != nil {
		return nil, fmt.Errorf("placing participants: %w", err)
	}

	assignment := &Assignment{
		Coordinator:  coordinator,
		Participants: make([]string, cfg.Participants),
		Background:   make([]string, len(switches)),
	}
	for i := range assignment.Participants {
		assignment.Participants[i] = ranking[i%len(ranking)]
	}
	for i, sw := range switches {
		assignment.Background[i] = sw.ID
	}
	return assignment, nil
}
