package export

import (
	"encoding/csv"
	"os"
	"strconv"
	"time"
)

// CSVSaver writes rows as CSV with a header line.
type CSVSaver struct{}

func (CSVSaver) Extension() string { return "csv" }

func (CSVSaver) Save(rows []Row, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)

	if err := w.Write([]string{"snapshot_id", "cycle_at", "as_of", "current", "previous", "change", "pct_change", "condition"}); err != nil {
		return err
	}
	for _, r := range rows {
		pct := ""
		switch {
		case r.PctChange != nil:
			pct = floatStr(*r.PctChange)
		case r.PctState == "undefined":
			pct = "N/A"
		}
		if err := w.Write([]string{
			r.SnapshotID,
			time.UnixMilli(r.CycleAt).UTC().Format(time.RFC3339),
			r.AsOf,
			floatStr(r.Current),
			floatStr(r.Previous),
			floatStr(r.Change),
			pct,
			r.Condition,
		}); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}

func floatStr(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }
