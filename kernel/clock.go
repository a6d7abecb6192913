package kernel

import (
	"golang.org/x/sys/unix"
)

// Clock is the monotonic time source.
type Clock interface {
	NowMicros() uint64
}

// MonotonicClock reads CLOCK_MONOTONIC of the host.
type MonotonicClock struct{}

func (MonotonicClock) NowMicros() uint64 {
	var ts unix.Timespec

	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		panic(err)
	}

	return uint64(ts.Sec)*1000000 + uint64(ts.Nsec)/1000
}

func nowMillis(c Clock) uint64 {
	return c.NowMicros() / 1000
}
