// Package monitor runs one analysis cycle end to end and keeps the latest
// published snapshot.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/rewired-gh/netliquidity/internal/engine"
	"github.com/rewired-gh/netliquidity/internal/fetch"
	"github.com/rewired-gh/netliquidity/internal/llm"
	"github.com/rewired-gh/netliquidity/internal/logger"
	"github.com/rewired-gh/netliquidity/internal/models"
	"github.com/rewired-gh/netliquidity/internal/narrative"
	"github.com/rewired-gh/netliquidity/internal/storage"
)

type Config struct {
	Engine    engine.Config
	Narrative narrative.Config
	// FallbackLastKnown substitutes the last stored node for a required
	// source that failed this cycle instead of failing the cycle.
	FallbackLastKnown  bool
	HistoryLimit       int           `default:"500" validate:"gte=0"`
	Interval           time.Duration `default:"30s" validate:"gt=0"`
	CooldownMultiplier int           `default:"120" validate:"gte=1"`
}

func DefaultConfig() Config {
	c := Config{
		Engine:    engine.DefaultConfig(),
		Narrative: narrative.DefaultConfig(),
	}
	_ = defaults.Set(&c)
	return c
}

var validate = validator.New()

// Validate checks the monitor settings together with the nested engine and
// narrative thresholds.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid monitor config: %w", err)
	}
	return nil
}

// Fetcher supplies a cycle's dataset.
type Fetcher interface {
	FetchAll(ctx context.Context, sources []fetch.Source) engine.Dataset
}

// Metrics receives cycle outcomes. A nil Metrics is allowed.
type Metrics interface {
	RecordCycle(err error, d time.Duration)
	RecordSourceError(role models.Role)
	RecordSnapshot(s models.Snapshot)
}

type notifiedRecord struct {
	Condition models.Condition
	SentAt    time.Time
}

type Monitor struct {
	engine    *engine.Engine
	fetcher   Fetcher
	sources   []fetch.Source
	storage   *storage.Storage
	generator llm.Generator
	metrics   Metrics
	config    Config
	now       func() time.Time

	latest atomic.Pointer[models.Snapshot]

	mu       sync.Mutex
	notified *notifiedRecord
}

// New builds a monitor and restores the latest snapshot and notification
// from storage. generator and metrics may be nil.
func New(s *storage.Storage, f Fetcher, sources []fetch.Source, gen llm.Generator, met Metrics, config Config) *Monitor {
	m := &Monitor{
		engine:    engine.New(config.Engine),
		fetcher:   f,
		sources:   sources,
		storage:   s,
		generator: gen,
		metrics:   met,
		config:    config,
		now:       time.Now,
	}

	snap, err := s.LatestSnapshot()
	if err != nil {
		logger.Warn("Failed to load persisted snapshot: %v", err)
	} else if snap != nil {
		m.latest.Store(snap)
		logger.Info("Restored snapshot %s from %s", snap.ID, snap.CycleAt.Format(time.RFC3339))
	}

	cond, sentAt, ok, err := s.LastNotification()
	if err != nil {
		logger.Warn("Failed to load last notification: %v", err)
	} else if ok {
		m.notified = &notifiedRecord{Condition: cond, SentAt: sentAt}
	}

	return m
}

// Latest returns the most recently published snapshot, or nil.
func (m *Monitor) Latest() *models.Snapshot {
	return m.latest.Load()
}

// RunCycle fetches every source, derives the snapshot, persists it and
// publishes it as the latest. A failed required source fails the cycle
// unless the last-known fallback is enabled; optional failures are
// recorded on the snapshot.
func (m *Monitor) RunCycle(ctx context.Context) (snap *models.Snapshot, err error) {
	start := m.now()
	defer func() {
		if m.metrics != nil {
			m.metrics.RecordCycle(err, m.now().Sub(start))
		}
	}()

	ds := m.fetcher.FetchAll(ctx, m.sources)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	nodes, failures := m.engine.BuildNodes(ds)
	for role, ferr := range failures {
		if m.metrics != nil {
			m.metrics.RecordSourceError(role)
		}
		logger.Warn("No node for %s: %v", role, ferr)
	}

	if err := m.fillRequired(nodes, failures); err != nil {
		return nil, err
	}

	if err := engine.CheckAlignment(nodes, m.config.Engine.MaxDateSkew); err != nil {
		return nil, err
	}

	agg, err := engine.Aggregate(nodes)
	if err != nil {
		return nil, err
	}

	att := m.engine.Attribute(nodes, agg)
	regime := m.regime(ds, nodes, agg)
	auction := m.engine.ClassifyAuction(nodes)

	snap = &models.Snapshot{
		ID:              uuid.New(),
		CycleAt:         start.UTC(),
		Nodes:           nodes,
		Aggregate:       agg,
		Attribution:     att,
		Regime:          regime,
		AuctionCategory: auction,
	}
	for role, ferr := range failures {
		if n, ok := nodes[role]; ok && !n.Stale {
			continue
		}
		if snap.Failures == nil {
			snap.Failures = make(map[models.Role]string)
		}
		snap.Failures[role] = ferr.Error()
	}

	snap.Narrative = narrative.Assemble(m.config.Narrative, narrative.Input{
		Nodes:           nodes,
		Aggregate:       agg,
		Attribution:     att,
		Regime:          regime,
		AuctionCategory: auction,
	})

	if m.generator != nil {
		text, err := m.generator.Generate(ctx, narrative.SystemPrompt, narrative.BuildPrompt(*snap))
		if err != nil {
			logger.Warn("Commentary generation failed: %v", err)
		} else {
			snap.Narrative.Commentary = text
		}
	}

	if err := m.storage.SaveSnapshot(snap); err != nil {
		return nil, fmt.Errorf("failed to save snapshot: %w", err)
	}

	m.latest.Store(snap)
	if m.metrics != nil {
		m.metrics.RecordSnapshot(*snap)
	}

	logger.Info("Net liquidity %.0f (%s), condition %s, primary driver %s",
		agg.Current, agg.PctChange, snap.Narrative.Condition, primaryRole(att))
	return snap, nil
}

// fillRequired substitutes stored nodes for failed required roles when the
// fallback is enabled, otherwise returns the first failure.
func (m *Monitor) fillRequired(nodes map[models.Role]models.Node, failures map[models.Role]error) error {
	var errs []error
	for _, role := range models.RequiredRoles {
		if _, ok := nodes[role]; ok {
			continue
		}
		cause := failures[role]
		if cause == nil {
			cause = &models.MissingNodeError{Role: role}
		}
		if !m.config.FallbackLastKnown {
			errs = append(errs, cause)
			continue
		}
		last, err := m.storage.LastKnownNode(role)
		if err != nil || last == nil {
			errs = append(errs, cause)
			continue
		}
		last.Stale = true
		nodes[role] = *last
		logger.Warn("Using last known %s from %s", role, last.Current.Date.Format("2006-01-02"))
	}
	return errors.Join(errs...)
}

// regime ranks the current reading against earlier net-liquidity values,
// taken from the upstream series where all three required sources share
// dates, or from stored snapshots otherwise.
func (m *Monitor) regime(ds engine.Dataset, nodes map[models.Role]models.Node, agg models.Aggregate) models.Regime {
	asOf := engine.AsOf(nodes)

	past := seriesHistory(ds, asOf)
	if len(past) == 0 {
		stored, err := m.storage.NetLiquidityValues(asOf, m.config.HistoryLimit)
		if err != nil {
			logger.Warn("Failed to load net liquidity history: %v", err)
			return models.RegimeUnknown
		}
		past = stored
	}
	if len(past) > m.config.HistoryLimit {
		past = past[len(past)-m.config.HistoryLimit:]
	}
	return engine.ClassifyRegime(agg.Current, append(past, agg.Current))
}

func seriesHistory(ds engine.Dataset, asOf time.Time) []float64 {
	bs, tga, rrp := ds[models.RoleBalanceSheet], ds[models.RoleTreasuryAccount], ds[models.RoleReverseRepo]
	if bs.Err != nil || tga.Err != nil || rrp.Err != nil {
		return nil
	}
	var past []float64
	for _, o := range engine.NetLiquiditySeries(bs.Series, tga.Series, rrp.Series) {
		if o.Date.Before(asOf) {
			past = append(past, o.Value)
		}
	}
	return past
}

// ShouldNotify reports whether snap warrants a message: the first one, a
// change of overall condition, or the cooldown having elapsed since the
// last message.
func (m *Monitor) ShouldNotify(snap *models.Snapshot) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.notified == nil {
		return true
	}
	if m.notified.Condition != snap.Narrative.Condition {
		return true
	}
	cooldown := time.Duration(m.config.CooldownMultiplier) * m.config.Interval
	return m.now().Sub(m.notified.SentAt) >= cooldown
}

// RecordNotified marks snap as sent.
func (m *Monitor) RecordNotified(snap *models.Snapshot) {
	now := m.now()
	m.mu.Lock()
	m.notified = &notifiedRecord{Condition: snap.Narrative.Condition, SentAt: now}
	m.mu.Unlock()

	if err := m.storage.RecordNotification(snap.ID.String(), snap.Narrative.Condition, now); err != nil {
		logger.Warn("Failed to persist notification: %v", err)
	}
}

func primaryRole(att models.Attribution) string {
	if att.Primary == nil {
		return "none"
	}
	return string(att.Primary.Role)
}
