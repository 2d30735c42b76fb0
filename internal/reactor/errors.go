package reactor

import (
	"errors"
	"strconv"
)

// Sentinel errors for the disposition classes enumerated for error
// handling: invalid argument, missing referent, interruption, and the
// stream-registry's closed-sink case.
var (
	// ErrInvalidArgument covers a malformed page token or an out-of-bounds
	// action timeout: a precondition failure surfaced to the caller, never
	// retried by this layer.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrMissingReferent means a digest could not be resolved via the CAS:
	// DelegateCASMap.Get returns it when an indexed blob is gone, and
	// TreeFetcher when a directory digest is absent. The scheduler's
	// dispatch and PutOperation paths do not resolve action or command
	// digests and never return it.
	ErrMissingReferent = errors.New("missing referent")

	// ErrInterrupted names the interruption disposition. No function in
	// this package returns it: Match, the onMatch callback and
	// PutOperation take no context and cannot be interrupted.
	ErrInterrupted = errors.New("interrupted")

	// ErrStreamClosed is returned by StreamSource.Write after Close.
	ErrStreamClosed = errors.New("stream already closed")
)

// TimeoutBoundsError reports a precondition failure with the subject
// "timeout out of bounds" (S6), carrying both durations so the caller can
// render a description without reconstructing it.
type TimeoutBoundsError struct {
	Requested Duration
	Maximum   Duration
}

func (e *TimeoutBoundsError) Error() string {
	return "timeout out of bounds: requested " + durationString(e.Requested) +
		" exceeds maximum " + durationString(e.Maximum)
}

func (e *TimeoutBoundsError) Unwrap() error { return ErrInvalidArgument }

func durationString(d Duration) string {
	if d.Nanos == 0 {
		return strconv.FormatInt(d.Seconds, 10) + "s"
	}
	return strconv.FormatInt(d.Seconds, 10) + "." + strconv.Itoa(int(d.Nanos)) + "s"
}
