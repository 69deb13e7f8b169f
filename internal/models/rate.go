package models

import (
	"fmt"
	"math"
	"strconv"
)

// RateState distinguishes a missing rate from one that cannot be computed.
type RateState uint8

const (
	// RateAbsent means there is no previous point to compare against.
	RateAbsent RateState = iota
	// RateUndefined means the previous value was zero.
	RateUndefined
	// RateDefined means Value holds a real percentage.
	RateDefined
)

// Rate is a percent change that keeps "no data" and "division by zero"
// apart from a genuine 0% reading.
type Rate struct {
	State RateState
	Value float64
}

// DefinedRate wraps a computed percentage.
func DefinedRate(v float64) Rate { return Rate{State: RateDefined, Value: v} }

// UndefinedRate is the sentinel for a zero denominator.
func UndefinedRate() Rate { return Rate{State: RateUndefined} }

// PercentChange computes (curr-prev)/prev*100. A zero previous value yields
// the undefined sentinel instead of Inf or NaN.
func PercentChange(prev, curr float64) Rate {
	if prev == 0 {
		return UndefinedRate()
	}
	v := (curr - prev) / prev * 100
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return UndefinedRate()
	}
	return DefinedRate(v)
}

func (r Rate) IsDefined() bool   { return r.State == RateDefined }
func (r Rate) IsUndefined() bool { return r.State == RateUndefined }
func (r Rate) IsAbsent() bool    { return r.State == RateAbsent }

// String renders the rate for humans: "N/A" when undefined, "-" when absent.
func (r Rate) String() string {
	switch r.State {
	case RateDefined:
		return fmt.Sprintf("%.2f%%", r.Value)
	case RateUndefined:
		return "N/A"
	default:
		return "-"
	}
}

// MarshalJSON encodes a defined rate as a number, an absent rate as null and
// an undefined rate as the string "undefined".
func (r Rate) MarshalJSON() ([]byte, error) {
	switch r.State {
	case RateDefined:
		return []byte(strconv.FormatFloat(r.Value, 'f', -1, 64)), nil
	case RateUndefined:
		return []byte(`"undefined"`), nil
	default:
		return []byte("null"), nil
	}
}

func (r *Rate) UnmarshalJSON(b []byte) error {
	s := string(b)
	switch s {
	case "null":
		*r = Rate{}
		return nil
	case `"undefined"`:
		*r = UndefinedRate()
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid rate %s: %w", s, err)
	}
	*r = DefinedRate(v)
	return nil
}
