package engine

import "time"

// Clock supplies the wall-clock time stamped on check-ins, check-outs,
// waitlist entries and retry schedules. Tests pass testutil.ManualClock.Now.
type Clock func() time.Time

func systemClock() time.Time {
	return time.Now().UTC()
}
