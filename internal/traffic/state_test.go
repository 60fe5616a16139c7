package traffic

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oabuhamdan/fleet/internal/errdefs"
)

func TestStateRoundTrip(t *testing.T) {
	dir := t.TempDir()
	pid := 4242
	want := ControlState{
		PID:      &pid,
		Step:     3,
		Paused:   true,
		Dst:      "10.1.0.9",
		Port:     5201,
		Parallel: 4,
	}

	require.NoError(t, SaveState(dir, "a_b", RoleClient, want))

	got, found, err := LoadState(dir, "a_b", RoleClient)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, want, got)

	// The atomic replace must not leave temp files behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "iperf_state_a_b_client.json", entries[0].Name())
}

func TestLoadStateMissingMeansNeverStarted(t *testing.T) {
	st, found, err := LoadState(t.TempDir(), "a_b", RoleServer)
	require.NoError(t, err)
	require.False(t, found)
	require.Equal(t, ControlState{}, st)
}

func TestLoadStateCorruptRecord(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(StatePath(dir, "a_b", RoleClient), []byte("{{{"), 0644))

	_, _, err := LoadState(dir, "a_b", RoleClient)
	require.ErrorIs(t, err, errdefs.ErrStateCorruption)
}

func TestSaveStateOverwrites(t *testing.T) {
	dir := t.TempDir()
	pid := 7
	require.NoError(t, SaveState(dir, "a_b", RoleServer, ControlState{PID: &pid, Step: 1}))
	require.NoError(t, SaveState(dir, "a_b", RoleServer, ControlState{Step: 2, Paused: true}))

	got, found, err := LoadState(dir, "a_b", RoleServer)
	require.NoError(t, err)
	require.True(t, found)
	require.Nil(t, got.PID)
	require.Equal(t, 2, got.Step)
	require.True(t, got.Paused)
}

func TestRemoveStateIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, RemoveState(dir, "a_b", RoleClient))

	require.NoError(t, SaveState(dir, "a_b", RoleClient, ControlState{Step: 1}))
	require.NoError(t, RemoveState(dir, "a_b", RoleClient))
	require.NoError(t, RemoveState(dir, "a_b", RoleClient))

	_, found, err := LoadState(dir, "a_b", RoleClient)
	require.NoError(t, err)
	require.False(t, found)
}
