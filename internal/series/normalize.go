// Package series turns raw upstream records into ordered observations.
package series

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rewired-gh/netliquidity/internal/models"
)

// PctPrecision is the number of decimal places kept on computed percent changes.
const PctPrecision = 2

// Record is one raw row as decoded from an upstream JSON payload.
type Record map[string]any

// FieldMap is the per-source adapter that says which record keys carry the
// date, the value and an optional precomputed percent change. Keys are tried
// in order; the first present and parseable one wins.
type FieldMap struct {
	DateFields  []string `mapstructure:"date_fields"`
	ValueFields []string `mapstructure:"value_fields"`
	PctFields   []string `mapstructure:"pct_fields"`
}

// DefaultFieldMap covers the aliases seen across the liquidity sources.
func DefaultFieldMap() FieldMap {
	return FieldMap{
		DateFields:  []string{"date", "settlementDate"},
		ValueFields: []string{"value", "total_outflow"},
		PctFields:   []string{"pct_change"},
	}
}

// AuctionFieldMap is the adapter for the auction-volume source.
func AuctionFieldMap() FieldMap {
	return FieldMap{
		DateFields:  []string{"settlementDate", "date"},
		ValueFields: []string{"total_outflow", "value"},
		PctFields:   []string{"pct_change"},
	}
}

func (f FieldMap) orDefault() FieldMap {
	d := DefaultFieldMap()
	if len(f.DateFields) == 0 {
		f.DateFields = d.DateFields
	}
	if len(f.ValueFields) == 0 {
		f.ValueFields = d.ValueFields
	}
	if f.PctFields == nil {
		f.PctFields = d.PctFields
	}
	return f
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"01/02/2006",
}

// Normalize converts raw records of one source into observations ordered by
// date ascending. Rows without a usable date or value are dropped; for a
// repeated date the last row wins. Fewer than two usable rows is an
// InsufficientDataError.
func Normalize(role models.Role, records []Record, fields FieldMap) ([]models.Observation, error) {
	fields = fields.orDefault()

	byDate := make(map[time.Time]models.Observation, len(records))
	for _, rec := range records {
		date, ok := lookupDate(rec, fields.DateFields)
		if !ok {
			continue
		}
		value, ok := lookupNumber(rec, fields.ValueFields)
		if !ok {
			continue
		}
		obs := models.Observation{Date: date, Value: value}
		if pct, ok := lookupNumber(rec, fields.PctFields); ok {
			obs.PctChange = models.DefinedRate(pct)
		}
		byDate[date] = obs
	}

	if len(byDate) < 2 {
		return nil, &models.InsufficientDataError{Role: role, Points: len(byDate)}
	}

	out := make([]models.Observation, 0, len(byDate))
	for _, obs := range byDate {
		out = append(out, obs)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })

	// The first point never carries a rate, even if the source supplied one,
	// because its predecessor is outside the series.
	out[0].PctChange = models.Rate{}
	for i := 1; i < len(out); i++ {
		if out[i].PctChange.IsDefined() {
			continue
		}
		out[i].PctChange = RoundRate(models.PercentChange(out[i-1].Value, out[i].Value))
	}
	return out, nil
}

// RoundRate rounds a defined rate to PctPrecision decimal places.
func RoundRate(r models.Rate) models.Rate {
	if !r.IsDefined() {
		return r
	}
	return models.DefinedRate(Round(r.Value, PctPrecision))
}

// Round rounds half away from zero at the given number of places.
func Round(v float64, places int32) float64 {
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}

func lookupDate(rec Record, keys []string) (time.Time, bool) {
	for _, k := range keys {
		raw, ok := rec[k]
		if !ok || raw == nil {
			continue
		}
		s, ok := raw.(string)
		if !ok {
			continue
		}
		if t, ok := parseDate(s); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			y, m, d := t.UTC().Date()
			return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

func lookupNumber(rec Record, keys []string) (float64, bool) {
	for _, k := range keys {
		raw, ok := rec[k]
		if !ok || raw == nil {
			continue
		}
		if v, err := toFloat(raw); err == nil {
			return v, true
		}
	}
	return 0, false
}

func toFloat(raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(v), ",", "")
		if s == "" || strings.EqualFold(s, "null") {
			return 0, fmt.Errorf("empty number")
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return 0, err
		}
		return d.InexactFloat64(), nil
	case interface{ String() string }:
		d, err := decimal.NewFromString(v.String())
		if err != nil {
			return 0, err
		}
		return d.InexactFloat64(), nil
	default:
		return 0, fmt.Errorf("unsupported number type %T", raw)
	}
}
