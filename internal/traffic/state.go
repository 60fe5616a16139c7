// Package traffic owns the controller side of the background-traffic
// machinery: stream bookkeeping, the rate/interval parameter files and the
// persisted control records that coordinate the controller with the
// autonomous per-host agent processes.
package traffic

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/oabuhamdan/fleet/internal/errdefs"
)

type Role string

const (
	RoleClient Role = "client"
	RoleServer Role = "server"
)

// DefaultStateDir is where control records and rates files live unless
// overridden through the environment.
const DefaultStateDir = "/tmp"

// ControlState is the persisted per-(stream,role) record. It is the sole
// coordination channel between the controller and the remote process:
// no shared memory, no connection. A nil PID means no tracked process.
type ControlState struct {
	PID      *int   `json:"pid"`
	Step     int    `json:"step"`
	Paused   bool   `json:"paused"`
	Dst      string `json:"dst,omitempty"`
	Port     int    `json:"port,omitempty"`
	Parallel int    `json:"parallel,omitempty"`
}

// StatePath returns the control-record path for a stream role.
func StatePath(dir, streamID string, role Role) string {
	return filepath.Join(dir, fmt.Sprintf("iperf_state_%s_%s.json", streamID, role))
}

// LoadState reads a control record. A missing file is not an error: it
// reads as the zero state with exists=false ("never started"). A file
// that exists but cannot be decoded is state corruption.
func LoadState(dir, streamID string, role Role) (ControlState, bool, error) {
	b, err := os.ReadFile(StatePath(dir, streamID, role))
	if errors.Is(err, os.ErrNotExist) {
		return ControlState{}, false, nil
	}
	if err != nil {
		return ControlState{}, false, fmt.Errorf("%w: reading %s record for %s: %v", errdefs.ErrStateCorruption, role, streamID, err)
	}

	var st ControlState
	if err := json.Unmarshal(b, &st); err != nil {
		return ControlState{}, false, fmt.Errorf("%w: decoding %s record for %s: %v", errdefs.ErrStateCorruption, role, streamID, err)
	}
	return st, true, nil
}

// SaveState atomically replaces the control record: the bytes land in a
// temp file first and are renamed over the target, so a concurrent reader
// never observes a torn record.
func SaveState(dir, streamID string, role Role, st ControlState) error {
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s record for %s: %w", role, streamID, err)
	}

	target := StatePath(dir, streamID, role)
	tmp, err := os.CreateTemp(dir, filepath.Base(target)+".*")
	if err != nil {
		return fmt.Errorf("writing %s record for %s: %w", role, streamID, err)
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing %s record for %s: %w", role, streamID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing %s record for %s: %w", role, streamID, err)
	}
	return os.Rename(tmp.Name(), target)
}

// RemoveState deletes the control record. Removing an absent record is a
// no-op.
func RemoveState(dir, streamID string, role Role) error {
	err := os.Remove(StatePath(dir, streamID, role))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
