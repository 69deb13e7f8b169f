package engine

import (
	"time"

	"github.com/rewired-gh/netliquidity/internal/models"
)

// Aggregate computes net liquidity as balance sheet minus treasury account
// minus reverse repo, for both the current and the previous period. Optional
// nodes never enter the formula.
func Aggregate(nodes map[models.Role]models.Node) (models.Aggregate, error) {
	for _, role := range models.RequiredRoles {
		if _, ok := nodes[role]; !ok {
			return models.Aggregate{}, &models.MissingNodeError{Role: role}
		}
	}
	bs := nodes[models.RoleBalanceSheet]
	tga := nodes[models.RoleTreasuryAccount]
	rrp := nodes[models.RoleReverseRepo]

	current := bs.Current.Value - tga.Current.Value - rrp.Current.Value
	previous := bs.Previous.Value - tga.Previous.Value - rrp.Previous.Value
	change := current - previous

	pct := models.UndefinedRate()
	if previous != 0 {
		pct = models.DefinedRate(change / previous * 100)
	}
	return models.Aggregate{
		Current:   current,
		Previous:  previous,
		Change:    change,
		PctChange: pct,
	}, nil
}

// CheckAlignment verifies that no required node's latest observation lags
// the newest required node by more than maxSkew. A zero maxSkew disables
// the check.
func CheckAlignment(nodes map[models.Role]models.Node, maxSkew time.Duration) error {
	if maxSkew <= 0 {
		return nil
	}
	var ref time.Time
	for _, role := range models.RequiredRoles {
		if n, ok := nodes[role]; ok && n.Current.Date.After(ref) {
			ref = n.Current.Date
		}
	}
	for _, role := range models.RequiredRoles {
		n, ok := nodes[role]
		if !ok {
			continue
		}
		if ref.Sub(n.Current.Date) > maxSkew {
			return &models.DateMisalignmentError{
				Role:      role,
				Date:      n.Current.Date,
				Reference: ref,
				MaxSkew:   maxSkew,
			}
		}
	}
	return nil
}

// AsOf returns the newest current date among the required nodes.
func AsOf(nodes map[models.Role]models.Node) time.Time {
	var ref time.Time
	for _, role := range models.RequiredRoles {
		if n, ok := nodes[role]; ok && n.Current.Date.After(ref) {
			ref = n.Current.Date
		}
	}
	return ref
}
