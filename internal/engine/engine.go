// Package engine derives liquidity nodes, the net-liquidity aggregate and the
// ranked drivers of its change. Everything here is a pure function of its
// inputs; a cycle's orchestration lives in the monitor package.
package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"

	"github.com/rewired-gh/netliquidity/internal/models"
)

// Config holds the tunable classification thresholds.
type Config struct {
	// TrendThreshold is the minimum absolute percent change, in percent,
	// for a node to count as inflow or outflow.
	TrendThreshold float64 `default:"0.1" validate:"gte=0"`
	// SecondaryNoise is the share of the aggregate's absolute change below
	// which the secondary driver is dropped from narrative-facing output.
	SecondaryNoise float64 `default:"0.15" validate:"gte=0,lte=1"`
	// MaxDateSkew bounds how far a required node's latest date may lag the
	// newest one. Zero disables the check.
	MaxDateSkew time.Duration `default:"192h" validate:"gte=0"`
	// AuctionBand is the percent change beyond which auction activity is
	// light or heavy.
	AuctionBand float64 `default:"10" validate:"gt=0"`
}

func DefaultConfig() Config {
	var c Config
	_ = defaults.Set(&c)
	return c
}

var validate = validator.New()

// Validate checks the thresholds against their tag constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid engine config: %w", err)
	}
	return nil
}

// Engine applies Config to the pure derivation steps.
type Engine struct {
	config Config
}

func New(config Config) *Engine {
	return &Engine{config: config}
}

func (e *Engine) Config() Config {
	return e.config
}

// SourceResult is one source's normalized series for a cycle, or the error
// that kept it from being fetched or normalized.
type SourceResult struct {
	Series []models.Observation
	Err    error
}

// Dataset is the complete per-cycle input, keyed by role.
type Dataset map[models.Role]SourceResult

// BuildNodes builds a node for every role in the dataset. Roles that fail are
// returned in failures as InsufficientDataError and are absent from nodes.
func (e *Engine) BuildNodes(ds Dataset) (map[models.Role]models.Node, map[models.Role]error) {
	nodes := make(map[models.Role]models.Node, len(ds))
	failures := make(map[models.Role]error)
	for role, src := range ds {
		if src.Err != nil {
			failures[role] = asInsufficient(role, src.Err)
			continue
		}
		node, err := e.BuildNode(role, src.Series)
		if err != nil {
			failures[role] = err
			continue
		}
		nodes[role] = node
	}
	return nodes, failures
}

func asInsufficient(role models.Role, err error) error {
	var ie *models.InsufficientDataError
	if errors.As(err, &ie) {
		return ie
	}
	return &models.InsufficientDataError{Role: role, Cause: err}
}
