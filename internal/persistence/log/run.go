package log

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"microcity.dev/internal/sim/city"
)

// ErrNoRuns is returned by OpenRun when a city directory holds no runs.
var ErrNoRuns = errors.New("no runs recorded")

// Run is the on-disk record of one server lifetime of a city:
//
//	<cityDir>/runs/<runID>/meta.json
//	<cityDir>/runs/<runID>/ticks/ticks-<hour>.jsonl.zst
//	<cityDir>/runs/<runID>/audit/audit-<hour>.jsonl.zst
//	<cityDir>/runs/<runID>/index.sqlite
//
// Every run starts at tick 0, so its tick log replays on its own.
type Run struct {
	ID   string
	Dir  string
	Meta CityMeta

	ticks *stream
	audit *stream
}

// NewRunID returns an id whose lexical order follows start time.
func NewRunID(now time.Time) string {
	return now.UTC().Format("20060102T150405Z") + "-" + uuid.NewString()[:8]
}

// StartRun creates a new run directory under cityDir and writes its meta.
// An empty meta.RunID is filled in.
func StartRun(cityDir string, meta CityMeta) (*Run, error) {
	if meta.StartedAt.IsZero() {
		meta.StartedAt = time.Now().UTC()
	}
	if meta.RunID == "" {
		meta.RunID = NewRunID(meta.StartedAt)
	}
	r := newRun(cityDir, meta.RunID)
	r.Meta = meta
	if err := WriteMeta(r.Dir, meta); err != nil {
		return nil, err
	}
	return r, nil
}

// OpenRun opens an existing run for reading. An empty runID selects the
// most recent run.
func OpenRun(cityDir, runID string) (*Run, error) {
	if runID == "" {
		ids, err := Runs(cityDir)
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			return nil, fmt.Errorf("%s: %w", cityDir, ErrNoRuns)
		}
		runID = ids[len(ids)-1]
	}
	r := newRun(cityDir, runID)
	meta, err := ReadMeta(r.Dir)
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", runID, err)
	}
	r.Meta = meta
	return r, nil
}

// Runs lists the run ids recorded for a city, oldest first.
func Runs(cityDir string) ([]string, error) {
	ents, err := os.ReadDir(filepath.Join(cityDir, "runs"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range ents {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func newRun(cityDir, runID string) *Run {
	dir := filepath.Join(cityDir, "runs", runID)
	return &Run{
		ID:    runID,
		Dir:   dir,
		ticks: newStream(dir, "ticks"),
		audit: newStream(dir, "audit"),
	}
}

// IndexPath is where the run's sqlite index lives.
func (r *Run) IndexPath() string { return filepath.Join(r.Dir, "index.sqlite") }

func (r *Run) WriteTick(e city.TickLogEntry) error { return r.ticks.append(e) }

func (r *Run) WriteAudit(e city.AuditEntry) error { return r.audit.append(e) }

func (r *Run) Close() error {
	err := r.ticks.close()
	if aerr := r.audit.close(); err == nil {
		err = aerr
	}
	return err
}

func (r *Run) ReadTicks(fn func(city.TickLogEntry) error) error {
	return r.ticks.scan(func(line []byte) error {
		var e city.TickLogEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return err
		}
		return fn(e)
	})
}

func (r *Run) ReadAudits(fn func(city.AuditEntry) error) error {
	return r.audit.scan(func(line []byte) error {
		var e city.AuditEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return err
		}
		return fn(e)
	})
}
