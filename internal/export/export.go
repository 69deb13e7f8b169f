// Package export writes stored net-liquidity history to files.
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rewired-gh/netliquidity/internal/models"
)

// Row is the flat record written by every Saver. PctChange is nil unless the
// rate is defined; PctState tells absent and undefined apart.
type Row struct {
	SnapshotID string   `json:"snapshot_id" parquet:"snapshot_id"`
	CycleAt    int64    `json:"cycle_at" parquet:"cycle_at"`
	AsOf       string   `json:"as_of" parquet:"as_of"`
	Current    float64  `json:"current" parquet:"current"`
	Previous   float64  `json:"previous" parquet:"previous"`
	Change     float64  `json:"change" parquet:"change"`
	PctChange  *float64 `json:"pct_change" parquet:"pct_change,optional"`
	PctState   string   `json:"pct_state" parquet:"pct_state"`
	Condition  string   `json:"condition" parquet:"condition"`
}

// Saver writes rows to path in one format.
type Saver interface {
	Save(rows []Row, path string) error
	Extension() string
}

// NewSaver returns the Saver for format (csv, parquet, json), or nil.
func NewSaver(format string) Saver {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "csv":
		return CSVSaver{}
	case "parquet":
		return ParquetSaver{}
	case "json":
		return JSONSaver{}
	default:
		return nil
	}
}

// Rows flattens history points.
func Rows(points []models.HistoryPoint) []Row {
	rows := make([]Row, 0, len(points))
	for _, p := range points {
		r := Row{
			SnapshotID: p.SnapshotID,
			CycleAt:    p.CycleAt.UnixMilli(),
			AsOf:       p.AsOf.Format("2006-01-02"),
			Current:    p.Current,
			Previous:   p.Previous,
			Change:     p.Change,
			PctState:   pctState(p.PctChange),
			Condition:  string(p.Condition),
		}
		if p.PctChange.IsDefined() {
			v := p.PctChange.Value
			r.PctChange = &v
		}
		rows = append(rows, r)
	}
	return rows
}

func pctState(r models.Rate) string {
	switch {
	case r.IsDefined():
		return "defined"
	case r.IsUndefined():
		return "undefined"
	default:
		return "absent"
	}
}

// Write saves points under dir as netliquidity-<timestamp>.<ext> and
// returns the file path.
func Write(points []models.HistoryPoint, dir string, s Saver, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}
	name := "netliquidity-" + strconv.FormatInt(now.UTC().Unix(), 10) + "." + s.Extension()
	path := filepath.Join(dir, name)
	if err := s.Save(Rows(points), path); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}
