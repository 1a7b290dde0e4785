package service

import "time"

// Clock supplies the current instant. Services read time through it so tests
// can pin timestamps.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}
