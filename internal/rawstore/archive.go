// Package rawstore archives raw scrape batches as write-once JSON files for
// replay and debugging. The pipeline writes here before any normalization so
// a mapping bug never costs source data.
package rawstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/oddlyrohit/councilscraper/internal/model"
)

// Batch is the archived envelope around one fetch's raw records.
type Batch struct {
	BatchID     string            `json:"batch_id"`
	SourceCode  string            `json:"source_code"`
	RunID       string            `json:"run_id,omitempty"`
	ArchivedAt  time.Time         `json:"archived_at"`
	RecordCount int               `json:"record_count"`
	Records     []model.RawRecord `json:"records"`
}

// Archive stores batches under root/<source>/<yyyy>/<mm>/<dd>/<batch-id>.json.
type Archive struct {
	root    string
	nowFunc func() time.Time
}

// New creates an Archive rooted at the given directory.
func New(root string) *Archive {
	return &Archive{root: root, nowFunc: time.Now}
}

// Write archives one batch and returns its generated batch ID. An existing
// file at the computed path is never overwritten.
func (a *Archive) Write(sourceCode, runID string, records []model.RawRecord) (string, error) {
	batchID := uuid.NewString()
	now := a.nowFunc().UTC()

	batch := Batch{
		BatchID:     batchID,
		SourceCode:  sourceCode,
		RunID:       runID,
		ArchivedAt:  now,
		RecordCount: len(records),
		Records:     records,
	}

	dir := filepath.Join(a.root, sourceCode, now.Format("2006"), now.Format("01"), now.Format("02"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", eris.Wrapf(err, "rawstore: create %s", dir)
	}

	path := filepath.Join(dir, batchID+".json")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", eris.Wrapf(err, "rawstore: create batch %s", path)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(batch); err != nil {
		return "", eris.Wrapf(err, "rawstore: encode batch %s", batchID)
	}
	return batchID, nil
}

// Read loads an archived batch by source and batch ID, searching across
// dates. Intended for replay tooling, not the hot path.
func (a *Archive) Read(sourceCode, batchID string) (*Batch, error) {
	var found string
	root := filepath.Join(a.root, sourceCode)
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && info.Name() == batchID+".json" {
			found = path
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "rawstore: scan %s", root)
	}
	if found == "" {
		return nil, eris.Errorf("rawstore: batch %s not found for %s", batchID, sourceCode)
	}

	data, err := os.ReadFile(found)
	if err != nil {
		return nil, eris.Wrapf(err, "rawstore: read %s", found)
	}
	var batch Batch
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, eris.Wrapf(err, "rawstore: decode %s", found)
	}
	return &batch, nil
}

// List returns the batch IDs archived for a source on a given day, sorted.
func (a *Archive) List(sourceCode string, day time.Time) ([]string, error) {
	dir := filepath.Join(a.root, sourceCode,
		day.Format("2006"), day.Format("01"), day.Format("02"))
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "rawstore: list %s", dir)
	}

	var ids []string
	for _, e := range entries {
		if name := e.Name(); strings.HasSuffix(name, ".json") {
			ids = append(ids, strings.TrimSuffix(name, ".json"))
		}
	}
	sort.Strings(ids)
	return ids, nil
}
