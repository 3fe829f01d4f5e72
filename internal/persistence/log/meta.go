package log

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"microcity.dev/internal/sim/tuning"
)

// CityMeta records how a run's city was created so its tick log can be
// replayed against a fresh instance.
type CityMeta struct {
	CityID      string        `json:"city_id"`
	RunID       string        `json:"run_id"`
	StartedAt   time.Time     `json:"started_at"`
	Seed        int64         `json:"seed"`
	Generate    bool          `json:"generate"`
	TilesDigest string        `json:"tiles_digest"`
	Tuning      tuning.Tuning `json:"tuning"`
}

func WriteMeta(dir string, m CityMeta) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	tmp := filepath.Join(dir, "meta.json.tmp")
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(dir, "meta.json"))
}

func ReadMeta(dir string) (CityMeta, error) {
	var m CityMeta
	b, err := os.ReadFile(filepath.Join(dir, "meta.json"))
	if err != nil {
		return m, err
	}
	err = json.Unmarshal(b, &m)
	return m, err
}
