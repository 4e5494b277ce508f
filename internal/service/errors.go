// Package service implements the scheduling and routing core: slot catalog,
// capacity planning, feasibility simulation, hold lifecycle, shared-route
// planning, availability search and Monte Carlo validation.
package service

import (
	"errors"
	"fmt"
)

// ErrorKind partitions the closed error enum.
type ErrorKind string

const (
	KindCapacity    ErrorKind = "CAPACITY"
	KindFeasibility ErrorKind = "FEASIBILITY"
	KindState       ErrorKind = "STATE"
	KindExternal    ErrorKind = "EXTERNAL"
	KindInternal    ErrorKind = "INTERNAL"
)

// Error codes. The set is closed: callers switch on these, so adding one is
// an API change.
const (
	CodeNoCapacity        = "NO_CAPACITY"
	CodePeakClosed        = "PEAK_CLOSED"
	CodeFragileSlot       = "FRAGILE_SLOT"
	CodeWindowFull        = "WINDOW_FULL"
	CodeTripFull          = "TRIP_FULL"
	CodeHourlyCapExceeded = "HOURLY_CAP_EXCEEDED"
	CodeDailyCapExceeded  = "DAILY_CAP_EXCEEDED"

	CodeCandidateLate        = "CANDIDATE_LATE"
	CodeWouldDelayPremium    = "WOULD_DELAY_PREMIUM"
	CodeWouldDelayOther      = "WOULD_DELAY_OTHER"
	CodeDetourTooLarge       = "DETOUR_TOO_LARGE"
	CodeTooFarFromAnchor     = "TOO_FAR_FROM_ANCHOR"
	CodeCannotMeetTargetTime = "CANNOT_MEET_TARGET_TIME"

	CodeNotFound         = "NOT_FOUND"
	CodeWrongStatus      = "WRONG_STATUS"
	CodeExpired          = "EXPIRED"
	CodeDupActiveHold    = "DUP_ACTIVE_HOLD"
	CodeRiderConflict    = "RIDER_CONFLICT"
	CodePlanChangedRetry = "PLAN_CHANGED_RETRY"

	CodeProviderTimeout = "ROUTING_PROVIDER_TIMEOUT"
	CodeProviderError   = "ROUTING_PROVIDER_ERROR"

	CodeInternal = "INTERNAL"
)

// Error is the closed error value returned by every core operation.
// Capacity, feasibility and state failures are ordinary values, never
// panics.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Details map[string]any
	wrapped error
}

func (e *Error) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s %s: %s: %v", e.Kind, e.Code, e.Message, e.wrapped)
	}
	if e.Message == "" {
		return fmt.Sprintf("%s %s", e.Kind, e.Code)
	}
	return fmt.Sprintf("%s %s: %s", e.Kind, e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.wrapped }

// Is makes errors.Is(err, ErrNoCapacity) style comparisons match on Code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// Msgf returns a copy of the sentinel with a formatted message.
func (e *Error) Msgf(format string, args ...any) *Error {
	cp := *e
	cp.Message = fmt.Sprintf(format, args...)
	return &cp
}

// With returns a copy carrying an extra detail entry.
func (e *Error) With(key string, value any) *Error {
	cp := *e
	cp.Details = make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
	return &cp
}

// Wrap returns a copy that records an underlying cause.
func (e *Error) Wrap(err error) *Error {
	cp := *e
	cp.wrapped = err
	return &cp
}

// Sentinels, one per code. Compare with errors.Is; derive concrete
// instances with Msgf/With/Wrap.
var (
	ErrNoCapacity        = &Error{Kind: KindCapacity, Code: CodeNoCapacity}
	ErrPeakClosed        = &Error{Kind: KindCapacity, Code: CodePeakClosed}
	ErrFragileSlot       = &Error{Kind: KindCapacity, Code: CodeFragileSlot}
	ErrWindowFull        = &Error{Kind: KindCapacity, Code: CodeWindowFull}
	ErrTripFull          = &Error{Kind: KindCapacity, Code: CodeTripFull}
	ErrHourlyCapExceeded = &Error{Kind: KindCapacity, Code: CodeHourlyCapExceeded}
	ErrDailyCapExceeded  = &Error{Kind: KindCapacity, Code: CodeDailyCapExceeded}

	ErrCandidateLate        = &Error{Kind: KindFeasibility, Code: CodeCandidateLate}
	ErrWouldDelayPremium    = &Error{Kind: KindFeasibility, Code: CodeWouldDelayPremium}
	ErrWouldDelayOther      = &Error{Kind: KindFeasibility, Code: CodeWouldDelayOther}
	ErrDetourTooLarge       = &Error{Kind: KindFeasibility, Code: CodeDetourTooLarge}
	ErrTooFarFromAnchor     = &Error{Kind: KindFeasibility, Code: CodeTooFarFromAnchor}
	ErrCannotMeetTargetTime = &Error{Kind: KindFeasibility, Code: CodeCannotMeetTargetTime}

	ErrNotFound         = &Error{Kind: KindState, Code: CodeNotFound}
	ErrWrongStatus      = &Error{Kind: KindState, Code: CodeWrongStatus}
	ErrExpired          = &Error{Kind: KindState, Code: CodeExpired}
	ErrDupActiveHold    = &Error{Kind: KindState, Code: CodeDupActiveHold}
	ErrRiderConflict    = &Error{Kind: KindState, Code: CodeRiderConflict}
	ErrPlanChangedRetry = &Error{Kind: KindState, Code: CodePlanChangedRetry}

	ErrProviderTimeout = &Error{Kind: KindExternal, Code: CodeProviderTimeout}
	ErrProviderError   = &Error{Kind: KindExternal, Code: CodeProviderError}
)

// Internal wraps an unexpected low-level failure.
func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Code: CodeInternal, Message: "internal error", wrapped: err}
}

// CodeOf extracts the closed-enum code, or "" for foreign errors.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// KindOf extracts the error kind, defaulting to INTERNAL for foreign errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
