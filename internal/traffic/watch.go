package traffic

import (
	"context"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/radovskyb/watcher"
)

var stateFileRe = regexp.MustCompile(`^iperf_state_.+_(client|server)\.json$`)

// StateEvent reports one observed change to a stream record.
type StateEvent struct {
	Stream  string
	Role    Role
	Removed bool
	State   ControlState
}

// ParseStateName splits a record file name into its stream id and role.
// Stream ids may themselves contain underscores, so the role is taken
// from the last separator.
func ParseStateName(name string) (stream string, role Role, ok bool) {
	if !stateFileRe.MatchString(name) {
		return "", "", false
	}
	trimmed := strings.TrimSuffix(strings.TrimPrefix(name, "iperf_state_"), ".json")
	i := strings.LastIndex(trimmed, "_")
	return trimmed[:i], Role(trimmed[i+1:]), true
}

// WatchStates polls dir for stream record changes and calls fn for each
// one until ctx is cancelled. It only sees records on the local
// filesystem, so it is useful when the hosts share the controller's
// state directory.
func WatchStates(ctx context.Context, dir string, interval time.Duration, fn func(StateEvent)) error {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	w := watcher.New()
	w.FilterOps(watcher.Create, watcher.Write, watcher.Remove)
	w.AddFilterHook(watcher.RegexFilterHook(stateFileRe, false))
	if err := w.Add(dir); err != nil {
		return err
	}

	started := make(chan error, 1)
	go func() { started <- w.Start(interval) }()

	for {
		select {
		case e := <-w.Event:
			stream, role, ok := ParseStateName(filepath.Base(e.Path))
			if !ok {
				continue
			}
			ev := StateEvent{Stream: stream, Role: role}
			if e.Op == watcher.Remove {
				ev.Removed = true
			} else {
				st, found, err := LoadState(dir, stream, role)
				if err != nil || !found {
					continue
				}
				ev.State = st
			}
			fn(ev)
		case err := <-w.Error:
			return err
		case err := <-started:
			return err
		case <-w.Closed:
			return nil
		case <-ctx.Done():
			w.Close()
			<-started
			return nil
		}
	}
}
