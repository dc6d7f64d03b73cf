package respond

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/NickEvans4130/Ransomware-Detection-System/model"
)

// ReportWriter builds incident reports and writes them under the data
// directory.
type ReportWriter struct {
	dir   string
	clock func() time.Time
}

// NewReportWriter creates a writer storing reports in dir/incidents.
func NewReportWriter(dataDir string) *ReportWriter {
	return &ReportWriter{dir: filepath.Join(dataDir, "incidents"), clock: time.Now}
}

// Build assembles the structured report blob for an L4 response.
func (w *ReportWriter) Build(rec model.ThreatRecord, window []model.ProcessStatus, restored []model.RestoreResult) *model.IncidentReport {
	return &model.IncidentReport{
		ID:            uuid.NewString(),
		GeneratedAt:   w.clock().UTC(),
		Threat:        rec,
		Window:        window,
		Actions:       rec.Actions,
		RestoredPaths: restored,
	}
}

// Write persists the report as pretty JSON and returns the file path.
func (w *ReportWriter) Write(report *model.IncidentReport) (string, error) {
	if err := os.MkdirAll(w.dir, 0700); err != nil {
		return "", fmt.Errorf("create incident dir: %w", err)
	}
	name := fmt.Sprintf("incident-%s-%s.json",
		report.GeneratedAt.Format("2006-01-02T15-04-05"), report.ID[:8])
	path := filepath.Join(w.dir, name)
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal incident report: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", fmt.Errorf("write incident report: %w", err)
	}
	return path, nil
}
