package engine

import (
	"fmt"
	"math"
	"sort"

	"github.com/dustin/go-humanize"

	"github.com/rewired-gh/netliquidity/internal/models"
)

var priorityIndex = func() map[models.Role]int {
	m := make(map[models.Role]int, len(models.RolePriority))
	for i, r := range models.RolePriority {
		m[r] = i
	}
	return m
}()

// Impact is a node's contribution to net liquidity: the raw change for roles
// that add on increase, its negation for roles that drain on increase.
func Impact(node models.Node) float64 {
	change := node.Change()
	if node.Role.Drains() {
		return -change
	}
	return change
}

// Attribute ranks every known node by absolute impact and derives the
// primary/secondary drivers and interaction flags. Ranking only needs
// magnitudes, so it proceeds when the aggregate's rate is undefined.
func (e *Engine) Attribute(nodes map[models.Role]models.Node, agg models.Aggregate) models.Attribution {
	drivers := make([]models.Driver, 0, len(nodes))
	for _, role := range models.RolePriority {
		node, ok := nodes[role]
		if !ok {
			continue
		}
		impact := Impact(node)
		drivers = append(drivers, models.Driver{
			Role:        role,
			RawChange:   node.Change(),
			Impact:      impact,
			Description: describeDriver(node, impact),
		})
	}

	sort.SliceStable(drivers, func(i, j int) bool {
		ai, aj := math.Abs(drivers[i].Impact), math.Abs(drivers[j].Impact)
		if ai != aj {
			return ai > aj
		}
		return priorityIndex[drivers[i].Role] < priorityIndex[drivers[j].Role]
	})
	for i := range drivers {
		drivers[i].Rank = i + 1
	}

	out := models.Attribution{
		Drivers:      drivers,
		Interactions: Interactions(nodes),
	}
	if len(drivers) == 0 {
		return out
	}
	primary := drivers[0]
	out.Primary = &primary

	if len(drivers) < 2 {
		return out
	}
	secondary := drivers[1]
	if math.Abs(secondary.Impact) < e.config.SecondaryNoise*math.Abs(agg.Change) {
		return out
	}
	out.Secondary = &secondary
	if primary.Impact*secondary.Impact >= 0 {
		out.Relation = models.RelationReinforcing
	} else {
		out.Relation = models.RelationOffsetting
	}
	return out
}

// Interactions evaluates the named two-node patterns over trend labels.
// A pattern involving an absent node is false.
func Interactions(nodes map[models.Role]models.Node) []models.Interaction {
	trend := func(r models.Role) models.Trend {
		if n, ok := nodes[r]; ok {
			return n.Trend
		}
		return ""
	}
	tga := trend(models.RoleTreasuryAccount)
	rrp := trend(models.RoleReverseRepo)
	auc := trend(models.RoleAuctionVolume)

	out := []models.Interaction{}
	if tga == models.TrendOutflow && rrp == models.TrendOutflow {
		out = append(out, models.InteractionDoubleInjection)
	}
	if tga == models.TrendInflow && rrp == models.TrendInflow {
		out = append(out, models.InteractionDoubleDrain)
	}
	if auc == models.TrendInflow && rrp == models.TrendOutflow {
		out = append(out, models.InteractionAuctionFunding)
	}
	if auc == models.TrendInflow && tga == models.TrendInflow {
		out = append(out, models.InteractionAuctionTreasuryCycle)
	}
	return out
}

func describeDriver(node models.Node, impact float64) string {
	change := node.Change()
	verb := "unchanged"
	switch {
	case change > 0:
		verb = "increased"
	case change < 0:
		verb = "decreased"
	}
	effect := "no effect on"
	switch {
	case impact > 0:
		effect = "adding to"
	case impact < 0:
		effect = "draining"
	}
	if change == 0 {
		return fmt.Sprintf("%s unchanged, %s net liquidity", node.Role.Label(), effect)
	}
	return fmt.Sprintf("%s %s by %s, %s net liquidity",
		node.Role.Label(), verb, humanize.Commaf(math.Abs(change)), effect)
}
