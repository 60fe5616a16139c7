package placement

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oabuhamdan/fleet/internal/errdefs"
	"github.com/oabuhamdan/fleet/internal/logging"
	"github.com/oabuhamdan/fleet/internal/topology"
)

func init() {
	// s1 hangs off s2; s2, s3 and s4 form a triangle minus one edge.
	// Degrees come out as s1:1 s2:3 s3:2 s4:2.
	topology.RegisterConstructor("plan-star", func() (*topology.Descriptor, error) {
		link := func(src, dst string) topology.LinkDesc {
			return topology.LinkDesc{Src: src, Dst: dst, Attrs: map[string]float64{"deg": 10}}
		}
		return &topology.Descriptor{
			Name:     "plan-star",
			Switches: []string{"s1", "s2", "s3", "s4"},
			Links:    []topology.LinkDesc{link("s1", "s2"), link("s2", "s3"), link("s2", "s4"), link("s3", "s4")},
		}, nil
	})
	topology.RegisterConstructor("plan-single", func() (*topology.Descriptor, error) {
		return &topology.Descriptor{Name: "plan-single", Switches: []string{"s1"}}, nil
	})
}

func loadPlanTopology(t *testing.T, constructor string) *topology.Graph {
	t.Helper()
	g, err := topology.Load(topology.Config{
		Source:      topology.SourceRegistry,
		Constructor: constructor,
		LinkUtilKey: "deg",
	}, logging.Discard())
	require.NoError(t, err)
	return g
}

func TestPlanSpreadsParticipantsRoundRobin(t *testing.T) {
	g := loadPlanTopology(t, "plan-star")

	plan, err := Plan(g, Config{
		Participants:        5,
		CoordinatorStrategy: StrategyHighestDegree,
		ParticipantStrategy: StrategyLowestDegree,
	}, nil)
	require.NoError(t, err)

	require.Equal(t, "s2", plan.Coordinator)
	// Remaining switches rank s1 (1), s3 (2), s4 (2); five participants
	// wrap around that ranking.
	require.Equal(t, []string{"s1", "s3", "s4", "s1", "s3"}, plan.Participants)
	require.Equal(t, []string{"s1", "s2", "s3", "s4"}, plan.Background)
}

func TestPlanNeverPutsParticipantsOnCoordinatorSwitch(t *testing.T) {
	g := loadPlanTopology(t, "plan-star")

	plan, err := Plan(g, Config{
		Participants:        12,
		CoordinatorStrategy: StrategySpecificNode,
		CoordinatorNode:     "s3",
		ParticipantStrategy: StrategyLowestDegree,
	}, nil)
	require.NoError(t, err)

	require.Equal(t, "s3", plan.Coordinator)
	for _, sw := range plan.Participants {
		require.NotEqual(t, plan.Coordinator, sw)
	}
	require.Equal(t, []string{"s1", "s4", "s2"}, plan.Participants[:3])
}

func TestPlanRequiresParticipants(t *testing.T) {
	g := loadPlanTopology(t, "plan-star")

	_, err := Plan(g, Config{
		Participants:        0,
		CoordinatorStrategy: StrategyHighestDegree,
		ParticipantStrategy: StrategyLowestDegree,
	}, nil)
	require.True(t, errors.Is(err, errdefs.ErrConfiguration))
}

func TestPlanFailsWhenCoordinatorTakesTheOnlySwitch(t *testing.T) {
	g := loadPlanTopology(t, "plan-single")

	_, err := Plan(g, Config{
		Participants:        1,
		CoordinatorStrategy: StrategyHighestDegree,
		ParticipantStrategy: StrategyLowestDegree,
	}, nil)
	require.True(t, errors.Is(err, errdefs.ErrConfiguration))
}

func TestPlanSurfacesStrategyErrors(t *testing.T) {
	g := loadPlanTopology(t, "plan-star")

	_, err := Plan(g, Config{
		Participants:        2,
		CoordinatorStrategy: StrategyHighestDegree,
		ParticipantStrategy: StrategyRandom,
	}, nil)
	require.True(t, errors.Is(err, errdefs.ErrConfiguration))
}
