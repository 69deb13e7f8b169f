package storage

import (
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rewired-gh/netliquidity/internal/models"
)

func newTestStorage(t *testing.T, maxSnapshots int) *Storage {
	t.Helper()
	s, err := New(maxSnapshots, ":memory:")
	if err != nil {
		t.Fatalf("failed to create test storage: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

var base = time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC)

func testNode(role models.Role, asOf time.Time, prev, curr float64) models.Node {
	return models.Node{
		Role:      role,
		Current:   models.Observation{Date: asOf, Value: curr},
		Previous:  models.Observation{Date: asOf.AddDate(0, 0, -1), Value: prev},
		PctChange: models.PercentChange(prev, curr),
		Trend:     models.TrendInflow,
	}
}

func testSnapshot(cycleAt, asOf time.Time, net float64) *models.Snapshot {
	return &models.Snapshot{
		ID:      uuid.New(),
		CycleAt: cycleAt,
		Nodes: map[models.Role]models.Node{
			models.RoleBalanceSheet:    testNode(models.RoleBalanceSheet, asOf, 6900, 7000),
			models.RoleTreasuryAccount: testNode(models.RoleTreasuryAccount, asOf, 800, 700),
			models.RoleReverseRepo:     testNode(models.RoleReverseRepo, asOf, 0, 300),
		},
		Aggregate: models.Aggregate{
			Current:   net,
			Previous:  net - 250,
			Change:    250,
			PctChange: models.DefinedRate(4.35),
		},
		Narrative: models.Narrative{Condition: models.ConditionExpansionary},
		Regime:    models.RegimeUnknown,
	}
}

func TestStorage_SaveAndLatestSnapshot(t *testing.T) {
	s := newTestStorage(t, 10)

	got, err := s.LatestSnapshot()
	if err != nil || got != nil {
		t.Fatalf("empty store: got %v, %v", got, err)
	}

	first := testSnapshot(base.Add(time.Hour), base, 6000)
	second := testSnapshot(base.Add(2*time.Hour), base, 6100)
	for _, snap := range []*models.Snapshot{first, second} {
		if err := s.SaveSnapshot(snap); err != nil {
			t.Fatalf("SaveSnapshot: %v", err)
		}
	}

	got, err = s.LatestSnapshot()
	if err != nil {
		t.Fatalf("LatestSnapshot: %v", err)
	}
	if got.ID != second.ID {
		t.Errorf("latest ID = %s, want %s", got.ID, second.ID)
	}
	if got.Aggregate.Current != 6100 {
		t.Errorf("current = %v, want 6100", got.Aggregate.Current)
	}
	rrp := got.Nodes[models.RoleReverseRepo]
	if !rrp.PctChange.IsUndefined() {
		t.Errorf("undefined rate did not survive storage: %v", rrp.PctChange)
	}
}

func TestStorage_History(t *testing.T) {
	s := newTestStorage(t, 10)
	for i := 0; i < 5; i++ {
		snap := testSnapshot(base.Add(time.Duration(i)*time.Hour), base.AddDate(0, 0, i), float64(6000+i))
		if i == 4 {
			snap.Aggregate.PctChange = models.UndefinedRate()
		}
		if err := s.SaveSnapshot(snap); err != nil {
			t.Fatalf("SaveSnapshot: %v", err)
		}
	}

	points, err := s.History(3)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(points) != 3 {
		t.Fatalf("got %d points, want 3", len(points))
	}
	if points[0].Current != 6002 || points[2].Current != 6004 {
		t.Errorf("history not oldest-first over the newest rows: %+v", points)
	}
	if !points[2].PctChange.IsUndefined() {
		t.Errorf("pct = %v, want undefined", points[2].PctChange)
	}
	if !points[0].AsOf.Equal(base.AddDate(0, 0, 2)) {
		t.Errorf("as_of = %v", points[0].AsOf)
	}
}

func TestStorage_NetLiquidityValuesOnePerDate(t *testing.T) {
	s := newTestStorage(t, 10)
	// Two cycles on the same data date; the later one wins.
	must := func(snap *models.Snapshot) {
		t.Helper()
		if err := s.SaveSnapshot(snap); err != nil {
			t.Fatalf("SaveSnapshot: %v", err)
		}
	}
	must(testSnapshot(base.Add(time.Hour), base, 100))
	must(testSnapshot(base.Add(2*time.Hour), base, 110))
	must(testSnapshot(base.Add(26*time.Hour), base.AddDate(0, 0, 1), 120))

	values, err := s.NetLiquidityValues(base.AddDate(0, 0, 7), 10)
	if err != nil {
		t.Fatalf("NetLiquidityValues: %v", err)
	}
	if len(values) != 2 || values[0] != 120 || values[1] != 110 {
		t.Errorf("values = %v, want [120 110]", values)
	}

	values, err = s.NetLiquidityValues(base.AddDate(0, 0, 1), 10)
	if err != nil {
		t.Fatalf("NetLiquidityValues: %v", err)
	}
	if len(values) != 1 || values[0] != 110 {
		t.Errorf("values before second date = %v, want [110]", values)
	}
}

func TestStorage_LastKnownNode(t *testing.T) {
	s := newTestStorage(t, 10)

	n, err := s.LastKnownNode(models.RoleBalanceSheet)
	if err != nil || n != nil {
		t.Fatalf("empty store: got %v, %v", n, err)
	}

	if err := s.SaveSnapshot(testSnapshot(base.Add(time.Hour), base, 6000)); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	n, err = s.LastKnownNode(models.RoleBalanceSheet)
	if err != nil {
		t.Fatalf("LastKnownNode: %v", err)
	}
	if n.Current.Value != 7000 || n.Previous.Value != 6900 || !n.Current.Date.Equal(base) {
		t.Errorf("node = %+v", n)
	}
	if n.Trend != models.TrendInflow || !n.PctChange.IsDefined() {
		t.Errorf("classification lost: %+v", n)
	}
	if err := n.Validate(); err != nil {
		t.Errorf("restored node invalid: %v", err)
	}
}

func TestStorage_LastKnownNodeKeepsObservationRates(t *testing.T) {
	s := newTestStorage(t, 10)

	snap := testSnapshot(base.Add(time.Hour), base, 6000)
	want := snap.Nodes[models.RoleReverseRepo]
	want.Previous.PctChange = models.DefinedRate(-12.5)
	want.Current.PctChange = models.UndefinedRate()
	snap.Nodes[models.RoleReverseRepo] = want
	if err := s.SaveSnapshot(snap); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	got, err := s.LastKnownNode(models.RoleReverseRepo)
	if err != nil || got == nil {
		t.Fatalf("LastKnownNode: %v, %v", got, err)
	}
	if !reflect.DeepEqual(*got, want) {
		t.Errorf("restored node = %+v\nwant %+v", *got, want)
	}
}

func TestStorage_SnapshotCap(t *testing.T) {
	s := newTestStorage(t, 2)
	for i := 0; i < 4; i++ {
		if err := s.SaveSnapshot(testSnapshot(base.Add(time.Duration(i)*time.Hour), base, float64(i))); err != nil {
			t.Fatalf("SaveSnapshot: %v", err)
		}
	}
	points, err := s.History(10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(points) != 2 {
		t.Errorf("got %d snapshots, want 2", len(points))
	}

	var nodes int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM nodes`).Scan(&nodes); err != nil {
		t.Fatalf("count nodes: %v", err)
	}
	if nodes != 6 {
		t.Errorf("got %d nodes, want 6 after cascade", nodes)
	}
}

func TestStorage_Notifications(t *testing.T) {
	s := newTestStorage(t, 10)

	if _, _, ok, err := s.LastNotification(); err != nil || ok {
		t.Fatalf("empty store: ok=%v err=%v", ok, err)
	}

	sent := base.Add(time.Hour)
	if err := s.RecordNotification("a", models.ConditionNeutral, sent); err != nil {
		t.Fatalf("RecordNotification: %v", err)
	}
	if err := s.RecordNotification("b", models.ConditionExpansionary, sent.Add(time.Minute)); err != nil {
		t.Fatalf("RecordNotification: %v", err)
	}

	cond, at, ok, err := s.LastNotification()
	if err != nil || !ok {
		t.Fatalf("LastNotification: ok=%v err=%v", ok, err)
	}
	if cond != models.ConditionExpansionary || !at.Equal(sent.Add(time.Minute)) {
		t.Errorf("got %s at %v", cond, at)
	}

	if err := s.RotateSnapshots(); err != nil {
		t.Fatalf("RotateSnapshots: %v", err)
	}
	if _, _, ok, _ := s.LastNotification(); !ok {
		t.Error("rotation must keep the newest notification")
	}
}
