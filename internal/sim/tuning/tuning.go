package tuning

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	TickRateHz int `yaml:"tick_rate_hz"`

	Grid        Grid        `yaml:"grid"`
	Economy     Economy     `yaml:"economy"`
	Pollution   Pollution   `yaml:"pollution"`
	LandValue   LandValue   `yaml:"land_value"`
	Zones       Zones       `yaml:"zones"`
	Tax         Tax         `yaml:"tax"`
	Development Development `yaml:"development"`
}

type Grid struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

type Economy struct {
	StartingBudget float64 `yaml:"starting_budget"`
}

type Pollution struct {
	Max float64 `yaml:"max"`

	PerIndustrialPopulationUnit    float64 `yaml:"per_industrial_population_unit"`
	IndustrialTransferToWaterFactor float64 `yaml:"industrial_transfer_to_water_factor"`

	DecayFactor      float64 `yaml:"decay_factor"`
	WaterDecayFactor float64 `yaml:"water_decay_factor"`

	SpreadFactor      float64 `yaml:"spread_factor"`
	WaterSpreadFactor float64 `yaml:"water_spread_factor"`
	SpreadRadius      int     `yaml:"spread_radius"`

	WaterAffectsLandRadius int     `yaml:"water_affects_land_radius"`
	WaterToLandFactor      float64 `yaml:"water_to_land_factor"`

	MountainReflectionFactor float64 `yaml:"mountain_reflection_factor"`

	ParkReductionAmount    float64 `yaml:"park_reduction_amount"`
	ParkReductionRadius    int     `yaml:"park_reduction_radius"`
	ParkSpreadDampening    float64 `yaml:"park_spread_dampening"`
}

type LandValue struct {
	Max  float64 `yaml:"max"`
	Base float64 `yaml:"base"`

	WaterBonus     float64 `yaml:"water_bonus"`
	WaterRadius    int     `yaml:"water_radius"`
	ParkBonus      float64 `yaml:"park_bonus"`
	ParkRadius     int     `yaml:"park_radius"`
	MountainBonus  float64 `yaml:"mountain_bonus"`
	MountainRadius int     `yaml:"mountain_radius"`
	RoadBonus      float64 `yaml:"road_bonus"`

	RCIRadius                     int     `yaml:"rci_radius"`
	ResidentialNearCommercial     float64 `yaml:"residential_near_commercial"`
	ResidentialNearIndustrial     float64 `yaml:"residential_near_industrial"`
	CommercialNearIndustrial      float64 `yaml:"commercial_near_industrial"`

	PollutionMultiplier           float64 `yaml:"pollution_multiplier"`
	IndustrialPollutionMultiplier float64 `yaml:"industrial_pollution_multiplier"`
}

// CategoryRules drives growth and decline for one zone category.
type CategoryRules struct {
	GrowthThreshold  float64 `yaml:"growth_threshold"`
	DeclineThreshold float64 `yaml:"decline_threshold"`

	GrowthAccess         float64 `yaml:"growth_access"`
	MinAccessNoDecline   float64 `yaml:"min_access_no_decline"`
	AccessRadius         int     `yaml:"access_radius"`

	GrowthRate  int `yaml:"growth_rate"`
	DeclineRate int `yaml:"decline_rate"`
}

type Zones struct {
	Residential CategoryRules `yaml:"residential"`
	Commercial  CategoryRules `yaml:"commercial"`
	Industrial  CategoryRules `yaml:"industrial"`

	StruggleRatio                float64 `yaml:"struggle_ratio"`
	StruggleVisualThresholdTicks int     `yaml:"struggle_visual_threshold_ticks"`
}

type Tax struct {
	StrugglingMultiplier float64 `yaml:"struggling_multiplier"`

	SevereMultiplier float64 `yaml:"severe_multiplier"`
	LowMultiplier    float64 `yaml:"low_multiplier"`

	// Residential brackets use tile value.
	ResidentialSevereTileValue float64 `yaml:"residential_severe_tile_value"`
	ResidentialLowTileValue    float64 `yaml:"residential_low_tile_value"`

	// Commercial and industrial brackets use population / capacity.
	BusinessSevereRatio float64 `yaml:"business_severe_ratio"`
	BusinessLowRatio    float64 `yaml:"business_low_ratio"`
}

type Development struct {
	DelayMinMs int `yaml:"delay_min_ms"`
	DelayMaxMs int `yaml:"delay_max_ms"`
}

func Defaults() Tuning {
	return Tuning{
		TickRateHz: 1,
		Grid:       Grid{Width: 25, Height: 25},
		Economy:    Economy{StartingBudget: 1000},
		Pollution: Pollution{
			Max:                             100,
			PerIndustrialPopulationUnit:     0.5,
			IndustrialTransferToWaterFactor: 0.3,
			DecayFactor:                     0.9,
			WaterDecayFactor:                0.95,
			SpreadFactor:                    0.1,
			WaterSpreadFactor:               0.2,
			SpreadRadius:                    1,
			WaterAffectsLandRadius:          2,
			WaterToLandFactor:               0.05,
			MountainReflectionFactor:        0.5,
			ParkReductionAmount:             4,
			ParkReductionRadius:             2,
			ParkSpreadDampening:             0.5,
		},
		LandValue: LandValue{
			Max:                           100,
			Base:                          30,
			WaterBonus:                    15,
			WaterRadius:                   3,
			ParkBonus:                     10,
			ParkRadius:                    3,
			MountainBonus:                 5,
			MountainRadius:                2,
			RoadBonus:                     5,
			RCIRadius:                     3,
			ResidentialNearCommercial:     5,
			ResidentialNearIndustrial:     -15,
			CommercialNearIndustrial:      5,
			PollutionMultiplier:           0.5,
			IndustrialPollutionMultiplier: 0.2,
		},
		Zones: Zones{
			Residential: CategoryRules{
				GrowthThreshold:    30,
				DeclineThreshold:   15,
				GrowthAccess:       0,
				MinAccessNoDecline: 0.05,
				AccessRadius:       8,
				GrowthRate:         1,
				DeclineRate:        1,
			},
			Commercial: CategoryRules{
				GrowthThreshold:    25,
				DeclineThreshold:   10,
				GrowthAccess:       0.5,
				MinAccessNoDecline: 0.2,
				AccessRadius:       5,
				GrowthRate:         1,
				DeclineRate:        1,
			},
			Industrial: CategoryRules{
				GrowthThreshold:    10,
				DeclineThreshold:   0,
				GrowthAccess:       0.5,
				MinAccessNoDecline: 0.2,
				AccessRadius:       8,
				GrowthRate:         1,
				DeclineRate:        1,
			},
			StruggleRatio:                0.3,
			StruggleVisualThresholdTicks: 5,
		},
		Tax: Tax{
			StrugglingMultiplier:       0.5,
			SevereMultiplier:           0.05,
			LowMultiplier:              0.3,
			ResidentialSevereTileValue: 15,
			ResidentialLowTileValue:    25,
			BusinessSevereRatio:        0.2,
			BusinessLowRatio:           0.4,
		},
		Development: Development{DelayMinMs: 5000, DelayMaxMs: 10000},
	}
}

// Load reads a tuning file on top of Defaults, so a partial file only
// overrides what it names.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	if t.TickRateHz <= 0 {
		return errors.New("tick_rate_hz must be positive")
	}
	if t.Grid.Width <= 0 || t.Grid.Height <= 0 {
		return errors.New("grid dimensions must be positive")
	}
	if t.Pollution.Max <= 0 || t.LandValue.Max <= 0 {
		return errors.New("pollution.max and land_value.max must be positive")
	}
	if t.LandValue.Base < 0 || t.LandValue.Base > t.LandValue.Max {
		return errors.New("land_value.base must be within [0, land_value.max]")
	}
	fractions := []struct {
		name string
		v    float64
	}{
		{"pollution.decay_factor", t.Pollution.DecayFactor},
		{"pollution.water_decay_factor", t.Pollution.WaterDecayFactor},
		{"pollution.spread_factor", t.Pollution.SpreadFactor},
		{"pollution.water_spread_factor", t.Pollution.WaterSpreadFactor},
		{"pollution.water_to_land_factor", t.Pollution.WaterToLandFactor},
		{"pollution.industrial_transfer_to_water_factor", t.Pollution.IndustrialTransferToWaterFactor},
		{"pollution.mountain_reflection_factor", t.Pollution.MountainReflectionFactor},
		{"pollution.park_spread_dampening", t.Pollution.ParkSpreadDampening},
	}
	for _, f := range fractions {
		if f.v < 0 || f.v > 1 {
			return fmt.Errorf("%s must be within [0,1]", f.name)
		}
	}
	// A water cell sheds both shares out of the same reading.
	if t.Pollution.WaterSpreadFactor+t.Pollution.WaterToLandFactor > 1 {
		return errors.New("pollution.water_spread_factor + pollution.water_to_land_factor must not exceed 1")
	}
	if t.Development.DelayMinMs < 0 || t.Development.DelayMaxMs < t.Development.DelayMinMs {
		return errors.New("development delay range is invalid")
	}
	if t.Zones.StruggleVisualThresholdTicks <= 0 {
		return errors.New("zones.struggle_visual_threshold_ticks must be positive")
	}
	return nil
}
