package engine

import (
	"math"

	"github.com/rewired-gh/netliquidity/internal/models"
)

// BuildNode slices the last two observations of a normalized series into a
// node and classifies its trend. The series must be in ascending date order.
func (e *Engine) BuildNode(role models.Role, series []models.Observation) (models.Node, error) {
	return BuildNode(role, series, e.config.TrendThreshold)
}

// BuildNode is the threshold-explicit form of Engine.BuildNode.
func BuildNode(role models.Role, series []models.Observation, threshold float64) (models.Node, error) {
	if len(series) < 2 {
		return models.Node{}, &models.InsufficientDataError{Role: role, Points: len(series)}
	}
	current := series[len(series)-1]
	previous := series[len(series)-2]
	pct := models.PercentChange(previous.Value, current.Value)
	node := models.Node{
		Role:      role,
		Current:   current,
		Previous:  previous,
		PctChange: pct,
		Trend:     ClassifyTrend(pct, threshold),
	}
	if err := node.Validate(); err != nil {
		return models.Node{}, &models.InsufficientDataError{Role: role, Points: len(series), Cause: err}
	}
	return node, nil
}

// ClassifyTrend maps a percent change to a trend. An undefined or absent rate
// is neutral: a zero previous balance is a legitimate reading for some
// facilities, not an error.
func ClassifyTrend(pct models.Rate, threshold float64) models.Trend {
	if !pct.IsDefined() {
		return models.TrendNeutral
	}
	switch {
	case math.Abs(pct.Value) < threshold:
		return models.TrendNeutral
	case pct.Value > 0:
		return models.TrendInflow
	case pct.Value < 0:
		return models.TrendOutflow
	default:
		return models.TrendNeutral
	}
}
