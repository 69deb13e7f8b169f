package monitor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rewired-gh/netliquidity/internal/engine"
	"github.com/rewired-gh/netliquidity/internal/fetch"
	"github.com/rewired-gh/netliquidity/internal/models"
	"github.com/rewired-gh/netliquidity/internal/storage"
)

var (
	day1 = time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC)
	day2 = day1.AddDate(0, 0, 1)
)

type fakeFetcher struct {
	ds engine.Dataset
}

func (f *fakeFetcher) FetchAll(context.Context, []fetch.Source) engine.Dataset {
	return f.ds
}

type fakeGenerator struct {
	prompt string
	err    error
}

func (g *fakeGenerator) Generate(_ context.Context, _, prompt string) (string, error) {
	g.prompt = prompt
	if g.err != nil {
		return "", g.err
	}
	return "Liquidity improved.", nil
}

type fakeMetrics struct {
	cycles       []error
	sourceErrors []models.Role
	snapshots    int
}

func (m *fakeMetrics) RecordCycle(err error, _ time.Duration) { m.cycles = append(m.cycles, err) }
func (m *fakeMetrics) RecordSourceError(role models.Role) {
	m.sourceErrors = append(m.sourceErrors, role)
}
func (m *fakeMetrics) RecordSnapshot(models.Snapshot) { m.snapshots++ }

func pair(prev, curr float64) engine.SourceResult {
	return engine.SourceResult{Series: []models.Observation{
		{Date: day1, Value: prev},
		{Date: day2, Value: curr, PctChange: models.PercentChange(prev, curr)},
	}}
}

func scenarioDataset() engine.Dataset {
	return engine.Dataset{
		models.RoleBalanceSheet:    pair(6_900_000, 7_000_000),
		models.RoleTreasuryAccount: pair(800_000, 700_000),
		models.RoleReverseRepo:     pair(350_000, 300_000),
	}
}

func newTestStorage(t *testing.T) *storage.Storage {
	t.Helper()
	s, err := storage.New(100, ":memory:")
	if err != nil {
		t.Fatalf("failed to create test storage: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRunCycle(t *testing.T) {
	store := newTestStorage(t)
	gen := &fakeGenerator{}
	met := &fakeMetrics{}
	m := New(store, &fakeFetcher{ds: scenarioDataset()}, nil, gen, met, DefaultConfig())

	snap, err := m.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	if snap.Aggregate.Current != 6_000_000 || snap.Aggregate.Previous != 5_750_000 {
		t.Errorf("aggregate = %+v", snap.Aggregate)
	}
	if snap.Attribution.Primary == nil || snap.Attribution.Primary.Role != models.RoleBalanceSheet {
		t.Errorf("primary = %+v, want balance sheet", snap.Attribution.Primary)
	}
	if snap.Narrative.Condition != models.ConditionExpansionary {
		t.Errorf("condition = %s", snap.Narrative.Condition)
	}
	if snap.Narrative.Commentary != "Liquidity improved." {
		t.Errorf("commentary = %q", snap.Narrative.Commentary)
	}
	if !strings.Contains(gen.prompt, "Balance sheet") {
		t.Error("generator did not receive the built prompt")
	}
	if snap.Regime != models.RegimeUnknown {
		t.Errorf("regime = %s, want unknown with no history", snap.Regime)
	}
	if snap.AuctionCategory != "" {
		t.Errorf("auction category = %q, want empty without the source", snap.AuctionCategory)
	}

	if m.Latest() != snap {
		t.Error("snapshot not published as latest")
	}
	stored, err := store.LatestSnapshot()
	if err != nil || stored == nil || stored.ID != snap.ID {
		t.Fatalf("snapshot not persisted: %v, %v", stored, err)
	}
	if len(met.cycles) != 1 || met.cycles[0] != nil || met.snapshots != 1 {
		t.Errorf("metrics = %+v", met)
	}
}

func TestRunCycle_RestoresLatestOnStart(t *testing.T) {
	store := newTestStorage(t)
	first := New(store, &fakeFetcher{ds: scenarioDataset()}, nil, nil, nil, DefaultConfig())
	snap, err := first.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	second := New(store, &fakeFetcher{}, nil, nil, nil, DefaultConfig())
	if got := second.Latest(); got == nil || got.ID != snap.ID {
		t.Errorf("Latest after restart = %v, want %s", got, snap.ID)
	}
}

func TestRunCycle_OptionalFailureRecorded(t *testing.T) {
	ds := scenarioDataset()
	ds[models.RoleAuctionVolume] = engine.SourceResult{Err: errors.New("upstream 503")}
	ds[models.RoleSecuritiesMBS] = pair(2_300_000, 2_290_000)
	met := &fakeMetrics{}

	m := New(newTestStorage(t), &fakeFetcher{ds: ds}, nil, nil, met, DefaultConfig())
	snap, err := m.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if _, ok := snap.Failures[models.RoleAuctionVolume]; !ok {
		t.Errorf("failures = %v, want auction volume", snap.Failures)
	}
	if _, ok := snap.Nodes[models.RoleSecuritiesMBS]; !ok {
		t.Error("optional node missing")
	}
	if snap.Aggregate.Current != 6_000_000 {
		t.Errorf("optional nodes changed the aggregate: %v", snap.Aggregate.Current)
	}
	if len(met.sourceErrors) != 1 || met.sourceErrors[0] != models.RoleAuctionVolume {
		t.Errorf("source errors = %v", met.sourceErrors)
	}
}

func TestRunCycle_RequiredFailure(t *testing.T) {
	ds := scenarioDataset()
	ds[models.RoleReverseRepo] = engine.SourceResult{Err: errors.New("timeout")}
	met := &fakeMetrics{}

	m := New(newTestStorage(t), &fakeFetcher{ds: ds}, nil, nil, met, DefaultConfig())
	_, err := m.RunCycle(context.Background())

	var ie *models.InsufficientDataError
	if !errors.As(err, &ie) || ie.Role != models.RoleReverseRepo {
		t.Fatalf("err = %v, want insufficient data for reverse repo", err)
	}
	if m.Latest() != nil {
		t.Error("failed cycle must not publish a snapshot")
	}
	if len(met.cycles) != 1 || met.cycles[0] == nil {
		t.Errorf("failed cycle not recorded: %v", met.cycles)
	}
}

func TestRunCycle_MissingRequiredSource(t *testing.T) {
	ds := scenarioDataset()
	delete(ds, models.RoleTreasuryAccount)

	m := New(newTestStorage(t), &fakeFetcher{ds: ds}, nil, nil, nil, DefaultConfig())
	_, err := m.RunCycle(context.Background())

	var me *models.MissingNodeError
	if !errors.As(err, &me) || me.Role != models.RoleTreasuryAccount {
		t.Fatalf("err = %v, want missing treasury account", err)
	}
}

func TestRunCycle_FallbackLastKnown(t *testing.T) {
	store := newTestStorage(t)
	cfg := DefaultConfig()
	cfg.FallbackLastKnown = true

	fetcher := &fakeFetcher{ds: scenarioDataset()}
	m := New(store, fetcher, nil, nil, nil, cfg)
	if _, err := m.RunCycle(context.Background()); err != nil {
		t.Fatalf("first RunCycle: %v", err)
	}

	fetcher.ds = scenarioDataset()
	fetcher.ds[models.RoleTreasuryAccount] = engine.SourceResult{Err: errors.New("timeout")}
	snap, err := m.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle with fallback: %v", err)
	}
	tga := snap.Nodes[models.RoleTreasuryAccount]
	if !tga.Stale || tga.Current.Value != 700_000 {
		t.Errorf("treasury account = %+v, want stale last-known", tga)
	}
	if snap.Aggregate.Current != 6_000_000 {
		t.Errorf("aggregate = %v", snap.Aggregate.Current)
	}
	reason, ok := snap.Failures[models.RoleTreasuryAccount]
	if !ok || !strings.Contains(reason, "timeout") {
		t.Errorf("Failures[treasury_account] = %q, want the fetch error", reason)
	}
	if _, ok := snap.Failures[models.RoleBalanceSheet]; ok {
		t.Error("fresh balance sheet must not be listed as failed")
	}
}

func TestRunCycle_DateMisalignment(t *testing.T) {
	ds := scenarioDataset()
	ds[models.RoleReverseRepo] = engine.SourceResult{Series: []models.Observation{
		{Date: day1.AddDate(0, 0, -30), Value: 350_000},
		{Date: day1.AddDate(0, 0, -20), Value: 300_000},
	}}

	m := New(newTestStorage(t), &fakeFetcher{ds: ds}, nil, nil, nil, DefaultConfig())
	_, err := m.RunCycle(context.Background())

	var de *models.DateMisalignmentError
	if !errors.As(err, &de) || de.Role != models.RoleReverseRepo {
		t.Fatalf("err = %v, want date misalignment on reverse repo", err)
	}
}

func TestRunCycle_GeneratorFailureKeepsSnapshot(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("rate limited")}
	m := New(newTestStorage(t), &fakeFetcher{ds: scenarioDataset()}, nil, gen, nil, DefaultConfig())

	snap, err := m.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if snap.Narrative.Commentary != "" {
		t.Errorf("commentary = %q, want empty", snap.Narrative.Commentary)
	}
	if len(snap.Narrative.Lines) == 0 {
		t.Error("deterministic lines missing")
	}
}

func TestShouldNotify(t *testing.T) {
	store := newTestStorage(t)
	cfg := DefaultConfig()
	cfg.Interval = time.Minute
	cfg.CooldownMultiplier = 10

	now := time.Date(2025, 3, 5, 12, 0, 0, 0, time.UTC)
	m := New(store, &fakeFetcher{ds: scenarioDataset()}, nil, nil, nil, cfg)
	m.now = func() time.Time { return now }

	snap, err := m.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if !m.ShouldNotify(snap) {
		t.Fatal("first snapshot should notify")
	}
	m.RecordNotified(snap)

	now = now.Add(5 * time.Minute)
	if m.ShouldNotify(snap) {
		t.Error("same condition within cooldown should not notify")
	}

	changed := *snap
	changed.Narrative.Condition = models.ConditionContractionary
	if !m.ShouldNotify(&changed) {
		t.Error("condition change should notify")
	}

	now = now.Add(5 * time.Minute)
	if !m.ShouldNotify(snap) {
		t.Error("elapsed cooldown should notify")
	}

	restarted := New(store, &fakeFetcher{}, nil, nil, nil, cfg)
	restarted.now = func() time.Time { return now.Add(-9 * time.Minute) }
	if restarted.ShouldNotify(snap) {
		t.Error("notification state should survive a restart")
	}
}

func TestRunCycle_RegimeFromSeries(t *testing.T) {
	series := func(values ...float64) engine.SourceResult {
		obs := make([]models.Observation, len(values))
		for i, v := range values {
			obs[i] = models.Observation{Date: day1.AddDate(0, 0, i), Value: v}
		}
		return engine.SourceResult{Series: obs}
	}
	// Net liquidity 100, 200, 300, 400, 500: the latest sits in the top quartile.
	ds := engine.Dataset{
		models.RoleBalanceSheet:    series(1100, 1200, 1300, 1400, 1500),
		models.RoleTreasuryAccount: series(600, 600, 600, 600, 600),
		models.RoleReverseRepo:     series(400, 400, 400, 400, 400),
	}

	m := New(newTestStorage(t), &fakeFetcher{ds: ds}, nil, nil, nil, DefaultConfig())
	snap, err := m.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if snap.Aggregate.Current != 500 {
		t.Fatalf("current = %v, want 500", snap.Aggregate.Current)
	}
	if snap.Regime != models.RegimeVeryLoose {
		t.Errorf("regime = %s, want very_loose", snap.Regime)
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"zero interval", func(c *Config) { c.Interval = 0 }},
		{"zero cooldown", func(c *Config) { c.CooldownMultiplier = 0 }},
		{"negative engine threshold", func(c *Config) { c.Engine.TrendThreshold = -1 }},
		{"inverted condition cutoffs", func(c *Config) {
			c.Narrative.Expansionary = -1
			c.Narrative.Contractionary = 1
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.modify(&c)
			if err := c.Validate(); err == nil {
				t.Error("Validate() error = nil, want error")
			}
		})
	}
}
