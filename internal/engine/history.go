package engine

import (
	"sort"
	"time"

	"github.com/rewired-gh/netliquidity/internal/models"
	"github.com/rewired-gh/netliquidity/internal/series"
)

// NetLiquiditySeries computes net liquidity on every date where all three
// required series have an observation. Rates are rounded like normalized
// series; a zero previous value yields an undefined rate.
func NetLiquiditySeries(bs, tga, rrp []models.Observation) []models.Observation {
	index := func(obs []models.Observation) map[time.Time]float64 {
		m := make(map[time.Time]float64, len(obs))
		for _, o := range obs {
			m[o.Date] = o.Value
		}
		return m
	}
	tgaByDate := index(tga)
	rrpByDate := index(rrp)

	var out []models.Observation
	for _, o := range bs {
		t, ok := tgaByDate[o.Date]
		if !ok {
			continue
		}
		r, ok := rrpByDate[o.Date]
		if !ok {
			continue
		}
		out = append(out, models.Observation{Date: o.Date, Value: o.Value - t - r})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	for i := 1; i < len(out); i++ {
		out[i].PctChange = series.RoundRate(models.PercentChange(out[i-1].Value, out[i].Value))
	}
	return out
}

// ClassifyRegime places current within the quartiles of history (which
// should include current). Fewer than four points is unknown.
func ClassifyRegime(current float64, history []float64) models.Regime {
	if len(history) < 4 {
		return models.RegimeUnknown
	}
	sorted := append([]float64(nil), history...)
	sort.Float64s(sorted)
	q1 := quantile(sorted, 0.25)
	q2 := quantile(sorted, 0.50)
	q3 := quantile(sorted, 0.75)
	switch {
	case current <= q1:
		return models.RegimeVeryTight
	case current <= q2:
		return models.RegimeTight
	case current <= q3:
		return models.RegimeLoose
	default:
		return models.RegimeVeryLoose
	}
}

// quantile uses linear interpolation between closest ranks.
func quantile(sorted []float64, q float64) float64 {
	pos := q * float64(len(sorted)-1)
	lo := int(pos)
	if lo+1 >= len(sorted) {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}

// ClassifyAuction buckets the auction-volume node. It returns "" when the
// node is absent.
func (e *Engine) ClassifyAuction(nodes map[models.Role]models.Node) models.AuctionCategory {
	node, ok := nodes[models.RoleAuctionVolume]
	if !ok {
		return ""
	}
	if !node.PctChange.IsDefined() {
		return models.AuctionNormal
	}
	switch {
	case node.PctChange.Value < -e.config.AuctionBand:
		return models.AuctionLight
	case node.PctChange.Value > e.config.AuctionBand:
		return models.AuctionHeavy
	default:
		return models.AuctionNormal
	}
}
