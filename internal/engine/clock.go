package engine

import "time"

// Clock supplies local commit timestamps in Unix milliseconds.
// Timestamps are informational; ordering comes from mutation IDs.
type Clock interface {
	Now() int64
}

// WallClock reads the system clock.
type WallClock struct{}

func (WallClock) Now() int64 { return time.Now().UnixMilli() }

var _ Clock = WallClock{}
