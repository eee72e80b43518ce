// Package clock defines the 90kHz time and composite-ID primitives shared
// by every layer of the recording storage engine.
package clock

import "time"

// Rate90k is the canonical tick rate for timestamps and durations: the
// clock rate of H.264 and ISO BMFF media timescales used throughout.
const Rate90k = 90000

// Timestamp90k is a 90kHz tick count since the Unix epoch, excluding leap
// seconds. Arithmetic on it is exact; only UI edges round to seconds, days,
// or calendar boundaries.
type Timestamp90k int64

// FromTime converts a wall-clock time to a Timestamp90k. Seconds and
// sub-second nanoseconds are converted separately; scaling the full
// UnixNano value by Rate90k would overflow int64 for any realistic time.
func FromTime(t time.Time) Timestamp90k {
	return Timestamp90k(t.Unix()*Rate90k + int64(t.Nanosecond())*Rate90k/int64(time.Second))
}

// Time converts a Timestamp90k back to a wall-clock time, splitting into
// whole seconds and residual ticks for the same overflow reason as
// FromTime.
func (t Timestamp90k) Time() time.Time {
	secs := int64(t) / Rate90k
	ticks := int64(t) % Rate90k
	return time.Unix(secs, ticks*int64(time.Second)/Rate90k).UTC()
}

// Add returns t shifted by d.
func (t Timestamp90k) Add(d Duration90k) Timestamp90k {
	return t + Timestamp90k(d)
}

// Sub returns the duration between t and u (t - u).
func (t Timestamp90k) Sub(u Timestamp90k) Duration90k {
	return Duration90k(t - u)
}

// Duration90k is a signed 64-bit 90kHz tick count.
type Duration90k int64

// FromDuration converts a time.Duration into Duration90k, splitting
// whole seconds from the sub-second remainder to stay within int64.
func FromDuration(d time.Duration) Duration90k {
	secs := int64(d) / int64(time.Second)
	rem := int64(d) % int64(time.Second)
	return Duration90k(secs*Rate90k + rem*Rate90k/int64(time.Second))
}

// Duration converts a Duration90k back to a time.Duration, with the same
// split as FromDuration.
func (d Duration90k) Duration() time.Duration {
	secs := int64(d) / Rate90k
	ticks := int64(d) % Rate90k
	return time.Duration(secs*int64(time.Second) + ticks*int64(time.Second)/Rate90k)
}

// Seconds reports d as a floating point number of seconds, for UI display
// only; never used in storage or comparison logic.
func (d Duration90k) Seconds() float64 {
	return float64(d) / Rate90k
}

// MaxRecordingDuration is the hard ceiling on a single recording's
// duration.
const MaxRecordingDuration = Duration90k(5 * 60 * Rate90k)

// DefaultRotationTarget is the default target recording duration before a
// writer is allowed to rotate at the next sync sample.
const DefaultRotationTarget = Duration90k(60 * Rate90k)
