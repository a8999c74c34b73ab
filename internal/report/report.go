// Package report loads, merges and atomically writes the persisted JSON
// report.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/orgstat/orgstat/internal/domain"
)

// Load reads an existing report from path. A missing file yields an empty
// report; a corrupt file is logged and treated as empty so a damaged report
// never blocks a run.
func Load(path string, logger logrus.FieldLogger) domain.Report {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Warnf("could not read existing report %s: %v", path, err)
		}
		return domain.Report{}
	}
	var rep domain.Report
	if err := json.Unmarshal(data, &rep); err != nil {
		logger.Warnf("could not parse existing report %s, starting fresh: %v", path, err)
		return domain.Report{}
	}
	if rep == nil {
		rep = domain.Report{}
	}
	return rep
}

// Merge folds newRep into existing and returns the result. For each
// repository in newRep the repo-level fields are refreshed and year entries
// present in newRep replace the matching years wholesale; years recorded
// only in existing are preserved, as are repositories absent from newRep.
// existing is modified in place.
func Merge(existing, newRep domain.Report) domain.Report {
	if existing == nil {
		existing = domain.Report{}
	}
	for name, summary := range newRep {
		prior, ok := existing[name]
		if !ok || prior == nil {
			existing[name] = summary
			continue
		}
		prior.DefaultBranch = summary.DefaultBranch
		prior.HasTests = summary.HasTests
		if prior.Yearly == nil {
			prior.Yearly = map[string]*domain.YearStats{}
		}
		for year, stats := range summary.Yearly {
			prior.Yearly[year] = stats
		}
	}
	return existing
}

// Prune removes the named repositories from the report. Exclusions apply to
// prior runs' data too: an excluded repository must not appear in the output
// even if an earlier run recorded it. Names match either the bare repository
// name or the org-qualified full name.
func Prune(rep domain.Report, exclude []string) {
	if len(exclude) == 0 {
		return
	}
	names := make(map[string]bool, len(exclude))
	for _, e := range exclude {
		names[e] = true
	}
	for key := range rep {
		if names[key] {
			delete(rep, key)
			continue
		}
		if _, bare, ok := splitFullName(key); ok && names[bare] {
			delete(rep, key)
		}
	}
}

func splitFullName(full string) (org, name string, ok bool) {
	for i := 0; i < len(full); i++ {
		if full[i] == '/' {
			return full[:i], full[i+1:], true
		}
	}
	return "", "", false
}

// Write serializes the report to path atomically: the JSON is written to a
// temp file in the same directory, synced, and renamed over the target so a
// partially written file is never observable.
func Write(rep domain.Report, path string) error {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp report: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp report: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp report: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename report into place: %w", err)
	}
	return nil
}
