package export

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/parquet-go/parquet-go"

	"github.com/rewired-gh/netliquidity/internal/models"
)

var cycle = time.Date(2025, 3, 5, 9, 30, 0, 0, time.UTC)

func testPoints() []models.HistoryPoint {
	return []models.HistoryPoint{
		{
			SnapshotID: "a",
			CycleAt:    cycle,
			AsOf:       cycle.Truncate(24 * time.Hour),
			Current:    6000000,
			Previous:   5750000,
			Change:     250000,
			PctChange:  models.DefinedRate(4.35),
			Condition:  models.ConditionExpansionary,
		},
		{
			SnapshotID: "b",
			CycleAt:    cycle.Add(time.Hour),
			AsOf:       cycle.Truncate(24 * time.Hour),
			Current:    100,
			PctChange:  models.UndefinedRate(),
			Condition:  models.ConditionNeutral,
		},
	}
}

func TestNewSaver(t *testing.T) {
	for _, format := range []string{"csv", "Parquet", " json "} {
		if NewSaver(format) == nil {
			t.Errorf("NewSaver(%q) = nil", format)
		}
	}
	if NewSaver("xlsx") != nil {
		t.Error("unsupported format should return nil")
	}
}

func TestRows(t *testing.T) {
	rows := Rows(testPoints())
	if rows[0].PctChange == nil || *rows[0].PctChange != 4.35 || rows[0].PctState != "defined" {
		t.Errorf("defined row = %+v", rows[0])
	}
	if rows[1].PctChange != nil || rows[1].PctState != "undefined" {
		t.Errorf("undefined row = %+v", rows[1])
	}
	if rows[0].AsOf != "2025-03-05" {
		t.Errorf("as_of = %s", rows[0].AsOf)
	}
}

func TestWriteCSV(t *testing.T) {
	path, err := Write(testPoints(), t.TempDir(), CSVSaver{}, cycle)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if filepath.Ext(path) != ".csv" {
		t.Errorf("path = %s", path)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d lines, want header + 2", len(records))
	}
	if records[1][1] != "2025-03-05T09:30:00Z" || records[1][6] != "4.35" {
		t.Errorf("first row = %v", records[1])
	}
	if records[2][6] != "N/A" {
		t.Errorf("undefined pct = %q, want N/A", records[2][6])
	}
}

func TestWriteParquet(t *testing.T) {
	path, err := Write(testPoints(), t.TempDir(), ParquetSaver{}, cycle)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	rows, err := parquet.ReadFile[Row](path)
	if err != nil {
		t.Fatalf("read parquet: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0].Current != 6000000 || rows[0].PctChange == nil || *rows[0].PctChange != 4.35 {
		t.Errorf("row 0 = %+v", rows[0])
	}
	if rows[1].PctChange != nil {
		t.Errorf("row 1 pct = %v, want nil", *rows[1].PctChange)
	}
}

func TestWriteJSON(t *testing.T) {
	path, err := Write(testPoints(), t.TempDir(), JSONSaver{}, cycle)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var rows []Row
	if err := json.Unmarshal(b, &rows); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rows) != 2 || rows[1].PctState != "undefined" {
		t.Errorf("rows = %+v", rows)
	}
}
