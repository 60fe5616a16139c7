package hostexec

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oabuhamdan/fleet/internal/logging"
)

func TestContainerNameCarriesPrefix(t *testing.T) {
	r := NewDockerRunner("mn.", logging.Discard())
	require.Equal(t, "mn.flc1", r.ContainerName("flc1"))

	bare := NewDockerRunner("", logging.Discard())
	require.Equal(t, "flc1", bare.ContainerName("flc1"))
}
