package narrative

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/rewired-gh/netliquidity/internal/models"
)

// SystemPrompt frames the text-generation request.
const SystemPrompt = "You are a macro liquidity analyst. Using only the structured data provided, " +
	"write a concise market commentary: explain what moved net liquidity, what the flow patterns suggest, " +
	"and the implications for equities, crypto, bonds and the dollar. Do not invent numbers."

// BuildPrompt renders a snapshot into the user prompt for the text-generation
// step. The layout is part of the hand-off contract and only changes
// together with the snapshot fields it reads.
func BuildPrompt(snap models.Snapshot) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Liquidity snapshot %s\n\n", snap.CycleAt.UTC().Format("2006-01-02 15:04 MST"))

	b.WriteString("Nodes (role | current | previous | change % | trend):\n")
	for _, r := range models.RolePriority {
		n, ok := snap.Nodes[r]
		if !ok {
			continue
		}
		stale := ""
		if n.Stale {
			stale = " [last known]"
		}
		fmt.Fprintf(&b, "- %s | %s on %s | %s on %s | %s | %s%s\n",
			r.Label(),
			humanize.Commaf(n.Current.Value), n.Current.Date.Format("2006-01-02"),
			humanize.Commaf(n.Previous.Value), n.Previous.Date.Format("2006-01-02"),
			n.PctChange, n.Trend, stale)
	}

	b.WriteString("\nSummary:\n")
	for _, l := range snap.Narrative.Lines {
		fmt.Fprintf(&b, "- %s\n", l)
	}

	b.WriteString("\nDrivers ranked by impact on net liquidity:\n")
	for _, d := range snap.Attribution.Drivers {
		fmt.Fprintf(&b, "%d. %s: %s\n", d.Rank, d.Role.Label(), signed(d.Impact))
	}

	b.WriteString("\nMarket implications:\n")
	for _, m := range models.Markets {
		fmt.Fprintf(&b, "- %s: %s\n", m, snap.Narrative.Implications[m])
	}

	if len(snap.Failures) > 0 {
		b.WriteString("\nUnavailable sources this cycle:\n")
		for _, r := range models.RolePriority {
			if reason, ok := snap.Failures[r]; ok {
				fmt.Fprintf(&b, "- %s: %s\n", r.Label(), reason)
			}
		}
	}
	return b.String()
}
