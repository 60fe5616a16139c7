package traffic

import "github.com/oabuhamdan/fleet/internal/pattern"

// Stream is one directed background-traffic flow between two hosts. One
// exists per directed switch link with positive utilization; the
// Generator owns it until it is stopped.
type Stream struct {
	ID       string
	Src      string
	Dst      string
	DstAddr  string
	Port     int
	Parallel int
	Schedule pattern.Schedule
}

// StreamID names a stream after its endpoints.
func StreamID(src, dst string) string {
	return src + "_" + dst
}
