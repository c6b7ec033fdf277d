// Package faults defines the error kinds surfaced by the practice engine.
package faults

import (
	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
)

const (
	// DecodeError marks audio that could not be decoded. The load is aborted.
	DecodeError ftag.Kind = "DECODE_ERROR"
	// AnalysisFailure marks a tempo analysis that fell back to defaults.
	AnalysisFailure ftag.Kind = "ANALYSIS_FAILURE"
	// SchedulerUnavailable marks a metronome without an audio engine.
	SchedulerUnavailable ftag.Kind = "SCHEDULER_UNAVAILABLE"
	// ProcessingError marks a failed pitch-shift job.
	ProcessingError ftag.Kind = "PROCESSING_ERROR"
	// InvalidLoopRange marks a loop request that had to be clamped.
	InvalidLoopRange ftag.Kind = "INVALID_LOOP_RANGE"
)

// New creates an error of the given kind. desc is shown to the user.
func New(kind ftag.Kind, msg, desc string) error {
	return fault.New(msg, ftag.With(kind), fmsg.WithDesc(msg, desc))
}

// Wrap tags err with kind and a context message. Wrap(nil, ...) is nil.
func Wrap(err error, kind ftag.Kind, msg string) error {
	if err == nil {
		return nil
	}
	return fault.Wrap(err, ftag.With(kind), fmsg.With(msg))
}

// Is reports whether err carries the given kind.
func Is(err error, kind ftag.Kind) bool {
	if err == nil {
		return false
	}
	return ftag.Get(err) == kind
}

// Describe returns the user-facing description of err, falling back to its message.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	if issue := fmsg.GetIssue(err); issue != "" {
		return issue
	}
	return err.Error()
}
