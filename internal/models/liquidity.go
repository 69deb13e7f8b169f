// Package models defines the core domain entities: observations, liquidity
// nodes, the net-liquidity aggregate, drivers, and cycle snapshots.
package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Role names the part a series plays in the liquidity picture.
type Role string

const (
	RoleBalanceSheet         Role = "balance_sheet"
	RoleTreasuryAccount      Role = "treasury_account"
	RoleReverseRepo          Role = "reverse_repo"
	RoleSecuritiesHoldings   Role = "securities_holdings"
	RoleSecuritiesTreasuries Role = "securities_treasuries"
	RoleSecuritiesMBS        Role = "securities_mbs"
	RoleAuctionVolume        Role = "auction_volume"
)

// RequiredRoles are the inputs of the net-liquidity formula.
var RequiredRoles = []Role{RoleBalanceSheet, RoleTreasuryAccount, RoleReverseRepo}

// RolePriority is the fixed tie-break order used when ranking drivers.
var RolePriority = []Role{
	RoleBalanceSheet,
	RoleTreasuryAccount,
	RoleReverseRepo,
	RoleAuctionVolume,
	RoleSecuritiesHoldings,
	RoleSecuritiesTreasuries,
	RoleSecuritiesMBS,
}

var roleLabels = map[Role]string{
	RoleBalanceSheet:         "Balance sheet",
	RoleTreasuryAccount:      "Treasury account",
	RoleReverseRepo:          "Reverse repo",
	RoleSecuritiesHoldings:   "Securities holdings",
	RoleSecuritiesTreasuries: "Treasury securities",
	RoleSecuritiesMBS:        "Mortgage-backed securities",
	RoleAuctionVolume:        "Auction volume",
}

// Label returns a display name for the role.
func (r Role) Label() string {
	if l, ok := roleLabels[r]; ok {
		return l
	}
	return string(r)
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	_, ok := roleLabels[r]
	return ok
}

// Drains reports whether an increase in this role removes liquidity from the
// private sector. The sign follows the subtraction in the aggregate formula.
func (r Role) Drains() bool {
	switch r {
	case RoleTreasuryAccount, RoleReverseRepo, RoleAuctionVolume:
		return true
	}
	return false
}

// Trend is a node's classified direction of change over one period.
type Trend string

const (
	TrendInflow  Trend = "inflow"
	TrendOutflow Trend = "outflow"
	TrendNeutral Trend = "neutral"
)

// Observation is one time-stamped scalar in a normalized series.
// Value keeps the upstream source's native unit.
type Observation struct {
	Date      time.Time `json:"date"`
	Value     float64   `json:"value"`
	PctChange Rate      `json:"pct_change"`
}

// Node is the latest two observations of a series plus their classification.
type Node struct {
	Role      Role        `json:"role"`
	Current   Observation `json:"current"`
	Previous  Observation `json:"previous"`
	PctChange Rate        `json:"pct_change"`
	Trend     Trend       `json:"trend"`
	// Stale is set when the node was carried over from an earlier cycle
	// under the last-known fallback policy.
	Stale bool `json:"stale,omitempty"`
}

// Change is the raw period delta in the source's unit.
func (n Node) Change() float64 {
	return n.Current.Value - n.Previous.Value
}

// Validate checks node field constraints.
func (n *Node) Validate() error {
	if !n.Role.Valid() {
		return errors.New("node role is unknown")
	}
	if !n.Current.Date.After(n.Previous.Date) {
		return errors.New("current date must be after previous date")
	}
	switch n.Trend {
	case TrendInflow, TrendOutflow, TrendNeutral:
	default:
		return errors.New("trend must be inflow, outflow or neutral")
	}
	return nil
}

// Aggregate is the composite net-liquidity quadruple.
type Aggregate struct {
	Current   float64 `json:"current"`
	Previous  float64 `json:"previous"`
	Change    float64 `json:"change"`
	PctChange Rate    `json:"pct_change"`
}

// Relation describes how the secondary driver relates to the primary.
type Relation string

const (
	RelationReinforcing Relation = "reinforcing"
	RelationOffsetting  Relation = "offsetting"
)

// Driver is a node ranked by its signed contribution to the aggregate change.
// Positive Impact always means liquidity was added.
type Driver struct {
	Role        Role    `json:"role"`
	Rank        int     `json:"rank"`
	RawChange   float64 `json:"raw_change"`
	Impact      float64 `json:"impact"`
	Description string  `json:"description"`
}

// Interaction is a named pattern across two nodes' trends.
type Interaction string

const (
	InteractionDoubleInjection      Interaction = "double_injection"
	InteractionDoubleDrain          Interaction = "double_drain"
	InteractionAuctionFunding       Interaction = "auction_funding"
	InteractionAuctionTreasuryCycle Interaction = "auction_treasury_cycle"
)

var interactionDescriptions = map[Interaction]string{
	InteractionDoubleInjection:      "Treasury account and reverse repo are both releasing cash",
	InteractionDoubleDrain:          "Treasury account and reverse repo are both absorbing cash",
	InteractionAuctionFunding:       "Auction settlements rising while reverse repo drains: dealers funding purchases from the overnight facility",
	InteractionAuctionTreasuryCycle: "Auction settlements rising alongside the Treasury account: issuance proceeds parked at the central bank",
}

// Description returns the fixed descriptive tag for the interaction.
func (i Interaction) Description() string {
	return interactionDescriptions[i]
}

// Attribution is the ranked driver list and the interaction flags of a cycle.
type Attribution struct {
	Drivers      []Driver      `json:"drivers"`
	Primary      *Driver       `json:"primary,omitempty"`
	Secondary    *Driver       `json:"secondary,omitempty"`
	Relation     Relation      `json:"relation,omitempty"`
	Interactions []Interaction `json:"interactions"`
}

// Condition is the qualitative overall liquidity state.
type Condition string

const (
	ConditionExpansionary   Condition = "expansionary"
	ConditionContractionary Condition = "contractionary"
	ConditionNeutral        Condition = "neutral"
)

// Market is a market-implication category.
type Market string

const (
	MarketEquities Market = "equities"
	MarketCrypto   Market = "crypto"
	MarketBonds    Market = "bonds"
	MarketCurrency Market = "currency"
)

// Markets lists implication categories in display order.
var Markets = []Market{MarketEquities, MarketCrypto, MarketBonds, MarketCurrency}

// Outlook is the implied direction for a market category.
type Outlook string

const (
	OutlookBullish Outlook = "bullish"
	OutlookBearish Outlook = "bearish"
	OutlookNeutral Outlook = "neutral"
)

// Narrative is the deterministic hand-off to the text-generation step.
// Commentary holds the generated prose, if any, and is never parsed.
type Narrative struct {
	Condition    Condition          `json:"condition"`
	Implications map[Market]Outlook `json:"implications"`
	Lines        []string           `json:"lines"`
	Commentary   string             `json:"commentary,omitempty"`
}

// Regime is the quartile of current net liquidity within its history.
type Regime string

const (
	RegimeUnknown   Regime = "unknown"
	RegimeVeryTight Regime = "very_tight"
	RegimeTight     Regime = "tight"
	RegimeLoose     Regime = "loose"
	RegimeVeryLoose Regime = "very_loose"
)

// AuctionCategory buckets the auction-volume period change.
type AuctionCategory string

const (
	AuctionLight  AuctionCategory = "light"
	AuctionNormal AuctionCategory = "normal"
	AuctionHeavy  AuctionCategory = "heavy"
)

// Snapshot is the immutable result of one analysis cycle.
type Snapshot struct {
	ID              uuid.UUID       `json:"id"`
	CycleAt         time.Time       `json:"cycle_at"`
	Nodes           map[Role]Node   `json:"nodes"`
	Aggregate       Aggregate       `json:"aggregate"`
	Attribution     Attribution     `json:"attribution"`
	Narrative       Narrative       `json:"narrative"`
	Regime          Regime          `json:"regime"`
	AuctionCategory AuctionCategory `json:"auction_category,omitempty"`
	// Failures maps optional roles that could not be built to the reason.
	Failures map[Role]string `json:"failures,omitempty"`
}

// HistoryPoint is one stored net-liquidity reading.
type HistoryPoint struct {
	SnapshotID string    `json:"snapshot_id"`
	CycleAt    time.Time `json:"cycle_at"`
	AsOf       time.Time `json:"as_of"`
	Current    float64   `json:"current"`
	Previous   float64   `json:"previous"`
	Change     float64   `json:"change"`
	PctChange  Rate      `json:"pct_change"`
	Condition  Condition `json:"condition"`
}
