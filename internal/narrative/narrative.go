// Package narrative maps the numeric layer onto the fixed contract consumed
// by the text-generation step and the dashboard: an overall condition,
// per-market implications, and descriptive lines.
package narrative

import (
	"fmt"
	"math"

	"github.com/creasty/defaults"
	"github.com/dustin/go-humanize"

	"github.com/rewired-gh/netliquidity/internal/models"
)

// Config holds the cutoffs on the aggregate's percent change.
type Config struct {
	Expansionary   float64 `default:"0.5" validate:"gtfield=Contractionary"`
	Contractionary float64 `default:"-0.5"`
}

func DefaultConfig() Config {
	var c Config
	_ = defaults.Set(&c)
	return c
}

// Input is everything the assembler reads from one cycle.
type Input struct {
	Nodes           map[models.Role]models.Node
	Aggregate       models.Aggregate
	Attribution     models.Attribution
	Regime          models.Regime
	AuctionCategory models.AuctionCategory
}

// Assemble builds the deterministic narrative for one cycle. Commentary is
// left empty for the text-generation step to fill.
func Assemble(cfg Config, in Input) models.Narrative {
	cond := Classify(cfg, in.Aggregate.PctChange)
	return models.Narrative{
		Condition:    cond,
		Implications: Implications(in.Nodes),
		Lines:        lines(cond, in),
	}
}

// Classify maps the aggregate's percent change to an overall condition. An
// undefined rate is neutral.
func Classify(cfg Config, pct models.Rate) models.Condition {
	if !pct.IsDefined() {
		return models.ConditionNeutral
	}
	switch {
	case pct.Value > cfg.Expansionary:
		return models.ConditionExpansionary
	case pct.Value < cfg.Contractionary:
		return models.ConditionContractionary
	default:
		return models.ConditionNeutral
	}
}

// Vote is +1 when a node's trend adds liquidity, -1 when it drains, and 0
// when the node is neutral.
func Vote(n models.Node) int {
	var v int
	switch n.Trend {
	case models.TrendInflow:
		v = 1
	case models.TrendOutflow:
		v = -1
	default:
		return 0
	}
	if n.Role.Drains() {
		v = -v
	}
	return v
}

var (
	cryptoRoles = models.RequiredRoles
	bondRoles   = []models.Role{
		models.RoleBalanceSheet,
		models.RoleSecuritiesHoldings,
		models.RoleSecuritiesTreasuries,
		models.RoleSecuritiesMBS,
		models.RoleAuctionVolume,
	}
)

// Implications derives the per-market outlook by majority vote. Equities
// poll every node, crypto only the net-liquidity inputs, bonds the
// balance-sheet, holdings and issuance nodes. The holdings splits vote only
// when total holdings is missing, so the securities family casts one vote.
// The dollar moves against broad liquidity, so currency is the inverse of
// equities.
func Implications(nodes map[models.Role]models.Node) map[models.Market]models.Outlook {
	voters := voting(nodes)
	all := 0
	for _, n := range voters {
		all += Vote(n)
	}
	sum := func(roles []models.Role) int {
		s := 0
		for _, r := range roles {
			if n, ok := voters[r]; ok {
				s += Vote(n)
			}
		}
		return s
	}
	return map[models.Market]models.Outlook{
		models.MarketEquities: outlook(all),
		models.MarketCrypto:   outlook(sum(cryptoRoles)),
		models.MarketBonds:    outlook(sum(bondRoles)),
		models.MarketCurrency: outlook(-all),
	}
}

func voting(nodes map[models.Role]models.Node) map[models.Role]models.Node {
	if _, ok := nodes[models.RoleSecuritiesHoldings]; !ok {
		return nodes
	}
	out := make(map[models.Role]models.Node, len(nodes))
	for r, n := range nodes {
		if r == models.RoleSecuritiesTreasuries || r == models.RoleSecuritiesMBS {
			continue
		}
		out[r] = n
	}
	return out
}

func outlook(votes int) models.Outlook {
	switch {
	case votes > 0:
		return models.OutlookBullish
	case votes < 0:
		return models.OutlookBearish
	default:
		return models.OutlookNeutral
	}
}

func lines(cond models.Condition, in Input) []string {
	agg := in.Aggregate
	out := []string{
		fmt.Sprintf("Net liquidity %s (previous %s), change %s (%s)",
			humanize.Commaf(agg.Current), humanize.Commaf(agg.Previous), signed(agg.Change), agg.PctChange),
		fmt.Sprintf("Overall condition: %s", cond),
	}

	att := in.Attribution
	if att.Primary != nil {
		out = append(out, fmt.Sprintf("Primary driver: %s (impact %s)", att.Primary.Description, signed(att.Primary.Impact)))
	}
	if att.Secondary != nil {
		out = append(out, fmt.Sprintf("Secondary driver, %s: %s (impact %s)", att.Relation, att.Secondary.Description, signed(att.Secondary.Impact)))
	}
	for _, i := range att.Interactions {
		out = append(out, "Pattern: "+i.Description())
	}
	if in.Regime != "" && in.Regime != models.RegimeUnknown {
		out = append(out, fmt.Sprintf("Liquidity regime: %s", in.Regime))
	}
	if in.AuctionCategory != "" {
		out = append(out, fmt.Sprintf("Auction activity: %s", in.AuctionCategory))
	}
	for _, r := range models.RolePriority {
		if n, ok := in.Nodes[r]; ok && n.Stale {
			out = append(out, fmt.Sprintf("%s carried over from %s (last known data)", r.Label(), n.Current.Date.Format("2006-01-02")))
		}
	}
	return out
}

func signed(v float64) string {
	if v > 0 {
		return "+" + humanize.Commaf(v)
	}
	if v == 0 || math.IsNaN(v) {
		return "0"
	}
	return humanize.Commaf(v)
}
