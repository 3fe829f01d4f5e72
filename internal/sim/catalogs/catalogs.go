package catalogs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Well-known tile ids the simulation refers to directly.
const (
	Grass    = "grass"
	Water    = "water"
	Mountain = "mountain"
	Park     = "park"
	Road     = "road"
	CityHall = "city_hall"
)

type ZoneCategory string

const (
	Residential ZoneCategory = "residential"
	Commercial  ZoneCategory = "commercial"
	Industrial  ZoneCategory = "industrial"
)

type Catalogs struct {
	Tiles TileCatalog
}

// TileCatalog is read-only after Load. Defs are interned: every cell that
// refers to a tile type holds the same *TileDef.
type TileCatalog struct {
	Palette []string
	Index   map[string]uint16
	Defs    map[string]*TileDef
	Digest  string
}

type RenderMeta struct {
	Color string `json:"color,omitempty"`
	Glyph string `json:"glyph,omitempty"`
}

type TileDef struct {
	ID     string     `json:"id"`
	Name   string     `json:"name"`
	Render RenderMeta `json:"render"`

	// Cost is nil for developed levels; those can only be reached by growth.
	Cost                 *int    `json:"cost,omitempty"`
	CarryCost            float64 `json:"carry_cost,omitempty"`
	TaxRatePerPopulation float64 `json:"tax_rate_per_population,omitempty"`
	PopulationCapacity   int     `json:"population_capacity,omitempty"`
	JobsProvided         int     `json:"jobs_provided,omitempty"`

	IsZone            bool `json:"is_zone,omitempty"`
	IsDevelopableZone bool `json:"is_developable_zone,omitempty"`
	IsBuilding        bool `json:"is_building,omitempty"`
	IsTerrain         bool `json:"is_terrain,omitempty"`
	IsObstacle        bool `json:"is_obstacle,omitempty"`
	IsNature          bool `json:"is_nature,omitempty"`
	Buildable         bool `json:"buildable,omitempty"`

	ZoneCategory ZoneCategory `json:"zone_category,omitempty"`
	Level        int          `json:"level,omitempty"`
	DevelopsInto string       `json:"develops_into,omitempty"`
	RevertsTo    string       `json:"reverts_to,omitempty"`
	BaseTile     string       `json:"base_tile,omitempty"`
}

// IsDeveloped reports whether d is a leveled RCI building.
func (d *TileDef) IsDeveloped() bool {
	return d != nil && d.IsBuilding && d.Level >= 1 && d.ZoneCategory != ""
}

func (d *TileDef) BuildCost() (int, bool) {
	if d == nil || d.Cost == nil {
		return 0, false
	}
	return *d.Cost, true
}

func Load(configDir string) (*Catalogs, error) {
	var c Catalogs
	raw, err := os.ReadFile(filepath.Join(configDir, "tiles.json"))
	if err != nil {
		return nil, err
	}
	if err := parseTiles(raw, &c.Tiles); err != nil {
		return nil, err
	}
	return &c, nil
}

// Parse builds catalogs from raw tiles.json content.
func Parse(tilesJSON []byte) (*Catalogs, error) {
	var c Catalogs
	if err := parseTiles(tilesJSON, &c.Tiles); err != nil {
		return nil, err
	}
	return &c, nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func parseTiles(raw []byte, out *TileCatalog) error {
	out.Digest = sha256Hex(raw)

	var defs []TileDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("tiles.json: %w", err)
	}
	out.Defs = make(map[string]*TileDef, len(defs))
	for i := range defs {
		d := defs[i]
		if d.ID == "" {
			return fmt.Errorf("tiles.json: empty id")
		}
		if _, dup := out.Defs[d.ID]; dup {
			return fmt.Errorf("tiles.json: duplicate id %q", d.ID)
		}
		out.Defs[d.ID] = &d
	}
	for _, id := range []string{Grass, Water, Mountain, Park, Road, CityHall} {
		if _, ok := out.Defs[id]; !ok {
			return fmt.Errorf("tiles.json: missing %s", id)
		}
	}
	for _, d := range out.Defs {
		if err := validateDef(d, out.Defs); err != nil {
			return fmt.Errorf("tiles.json: %s: %w", d.ID, err)
		}
	}

	ids := make([]string, 0, len(out.Defs))
	for id := range out.Defs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	// grass is palette id 0 so a zeroed palette buffer decodes to an empty map.
	ids = append([]string{Grass}, filterOut(ids, Grass)...)

	out.Palette = ids
	out.Index = make(map[string]uint16, len(ids))
	for i, id := range ids {
		out.Index[id] = uint16(i)
	}
	return nil
}

func validateDef(d *TileDef, all map[string]*TileDef) error {
	kinds := 0
	for _, b := range []bool{d.IsZone, d.IsBuilding, d.IsTerrain} {
		if b {
			kinds++
		}
	}
	if kinds != 1 {
		return fmt.Errorf("must be exactly one of zone, building, terrain")
	}
	if d.Level < 0 || d.Level > 3 {
		return fmt.Errorf("level %d out of range", d.Level)
	}
	if d.Level > 0 && !d.IsBuilding {
		return fmt.Errorf("level set on non-building")
	}
	if (d.Cost == nil) != (d.Level >= 1) {
		return fmt.Errorf("cost must be set iff level is 0")
	}
	if d.IsDevelopableZone && !d.IsZone {
		return fmt.Errorf("developable zone flag on non-zone")
	}
	switch d.ZoneCategory {
	case "", Residential, Commercial, Industrial:
	default:
		return fmt.Errorf("unknown zone_category %q", d.ZoneCategory)
	}
	if (d.IsZone || d.Level > 0) && d.ZoneCategory == "" {
		return fmt.Errorf("missing zone_category")
	}
	for _, ref := range []string{d.DevelopsInto, d.RevertsTo, d.BaseTile} {
		if ref == "" {
			continue
		}
		if _, ok := all[ref]; !ok {
			return fmt.Errorf("unknown tile reference %q", ref)
		}
	}
	if d.IsDevelopableZone && d.DevelopsInto == "" {
		return fmt.Errorf("developable zone without develops_into")
	}
	if d.PopulationCapacity < 0 || d.JobsProvided < 0 || d.CarryCost < 0 || d.TaxRatePerPopulation < 0 {
		return fmt.Errorf("negative numeric field")
	}
	return nil
}

// Get returns the interned definition for id.
func (c *TileCatalog) Get(id string) (*TileDef, bool) {
	if c == nil {
		return nil, false
	}
	d, ok := c.Defs[id]
	return d, ok
}

// MustGet is for ids validated at load time (the well-known ones).
func (c *TileCatalog) MustGet(id string) *TileDef {
	d, ok := c.Get(id)
	if !ok {
		panic("catalogs: missing tile " + id)
	}
	return d
}

func filterOut(in []string, remove string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == remove {
			continue
		}
		out = append(out, s)
	}
	return out
}
