package telemetry

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// CSVHeader is the export column set.
var CSVHeader = []string{
	"Subject ID", "Trial ID", "Millis (t)", "Timing Error (ms)", "Position Error (mm)",
	"Score", "Start", "End", "Button Time", "Button Position", "Reference",
}

// WriteCSV writes entries in the given order, one row each. Reference rows
// leave the derived columns empty.
func WriteCSV(w io.Writer, subject, trial string, entries []Reading) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return fmt.Errorf("telemetry: write csv header: %w", err)
	}
	for _, r := range entries {
		ref := r.IsReference()
		timing, position, score := "", "", ""
		if !ref {
			timing = fixed(r.B*1000, 0)
			position = fixed(r.P, 2)
			score = fixed(r.Score(), 0)
		}
		row := []string{
			subject, trial, plain(r.T), timing, position, score,
			plain(r.S), plain(r.E), plain(r.B), plain(r.P), strconv.FormatBool(ref),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("telemetry: write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("telemetry: flush csv: %w", err)
	}
	return nil
}

// Export writes the whole history of l.
func (l *Log) Export(w io.Writer) error {
	subject, trial := l.IDs()
	return WriteCSV(w, subject, trial, l.Entries())
}

// ExportName returns the file name for an export taken at now, labelled
// with the subject and trial when they are set.
func ExportName(subject, trial string, now time.Time) string {
	parts := []string{"sensorlink"}
	for _, id := range []string{subject, trial} {
		if id = strings.TrimSpace(id); id != "" {
			parts = append(parts, strings.ReplaceAll(id, string(filepath.Separator), "_"))
		}
	}
	parts = append(parts, now.Format("20060102-150405"))
	return strings.Join(parts, "-") + ".csv"
}

// ExportFile writes the history to a new file in dir and returns its path.
func (l *Log) ExportFile(dir string, now time.Time) (string, error) {
	subject, trial := l.IDs()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("telemetry: create export dir: %w", err)
	}
	path := filepath.Join(dir, ExportName(subject, trial, now))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("telemetry: create export: %w", err)
	}
	if err := WriteCSV(f, subject, trial, l.Entries()); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("telemetry: close export: %w", err)
	}
	return path, nil
}
