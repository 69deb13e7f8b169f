package models

import (
	"fmt"
	"time"
)

// InsufficientDataError reports a series too short to build a node from,
// including upstream fetch failures for that source.
type InsufficientDataError struct {
	Role   Role
	Points int
	Cause  error
}

func (e *InsufficientDataError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("insufficient data for %s: %v", e.Role, e.Cause)
	}
	return fmt.Sprintf("insufficient data for %s: need at least 2 points, got %d", e.Role, e.Points)
}

func (e *InsufficientDataError) Unwrap() error { return e.Cause }

// MissingNodeError reports a required node absent from the aggregate input.
type MissingNodeError struct {
	Role Role
}

func (e *MissingNodeError) Error() string {
	return fmt.Sprintf("missing required node: %s", e.Role)
}

// DateMisalignmentError reports a required node whose latest observation lags
// the most recent one by more than the allowed skew.
type DateMisalignmentError struct {
	Role      Role
	Date      time.Time
	Reference time.Time
	MaxSkew   time.Duration
}

func (e *DateMisalignmentError) Error() string {
	return fmt.Sprintf("%s latest date %s lags %s by more than %v",
		e.Role, e.Date.Format("2006-01-02"), e.Reference.Format("2006-01-02"), e.MaxSkew)
}
