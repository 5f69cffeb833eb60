// Package config loads the planner's policy constants. Values are tuned
// for the original deployment's road network and are deliberately kept
// out of code: override any of them with a YAML file via POLICY_FILE.
package config

import (
	"fmt"
	"os"

	yaml "gopkg.in/yaml.v3"
)

// HourWindow is a [Start, End) window in local hours of day.
type HourWindow struct {
	Start int `yaml:"start"`
	End   int `yaml:"end"`
}

// Policy carries the travel-time estimator's tunables.
type Policy struct {
	// Timezone is the civil calendar used to classify weekday/weekend
	// and to interpret departure times.
	Timezone string `yaml:"timezone"`

	// Cache bucket widths (minutes of day). Weekdays use finer buckets
	// because traffic varies faster there.
	WeekdayBucketMin int `yaml:"weekdayBucketMin"`
	WeekendBucketMin int `yaml:"weekendBucketMin"`

	// Fallback model: haversine distance x RoadInflation / speed band.
	RoadInflation   float64      `yaml:"roadInflation"`
	SpeedRushKph    float64      `yaml:"speedRushKph"`
	SpeedWeekdayKph float64      `yaml:"speedWeekdayKph"`
	SpeedWeekendKph float64      `yaml:"speedWeekendKph"`
	SpeedNightKph   float64      `yaml:"speedNightKph"`
	RushWindows     []HourWindow `yaml:"rushWindows"`
	NightWindow     HourWindow   `yaml:"nightWindow"` // wraps midnight when Start > End

	// CeilingMinutes is the "practically unreachable" sentinel; provider
	// durations at or above it are treated as implausible.
	CeilingMinutes int `yaml:"ceilingMinutes"`

	// Concurrency bounds simultaneous provider lookups per matrix build.
	Concurrency int `yaml:"concurrency"`

	// DefaultDeparture is used when a request omits or mangles the
	// departure time.
	DefaultDeparture string `yaml:"defaultDeparture"`
}

// Default returns the shipped policy.
func Default() Policy {
	return Policy{
		Timezone:         "Asia/Seoul",
		WeekdayBucketMin: 30,
		WeekendBucketMin: 60,
		RoadInflation:    1.3,
		SpeedRushKph:     16,
		SpeedWeekdayKph:  22,
		SpeedWeekendKph:  26,
		SpeedNightKph:    30,
		RushWindows:      []HourWindow{{Start: 7, End: 9}, {Start: 17, End: 19}},
		NightWindow:      HourWindow{Start: 22, End: 6},
		CeilingMinutes:   24 * 60,
		Concurrency:      6,
		DefaultDeparture: "09:00",
	}
}

// Load reads a YAML policy file over the defaults. An empty path returns
// the defaults unchanged.
func Load(path string) (Policy, error) {
	p := Default()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read policy file %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("parse policy file %q: %w", path, err)
	}
	if err := p.validate(); err != nil {
		return p, fmt.Errorf("policy file %q: %w", path, err)
	}
	return p, nil
}

func (p Policy) validate() error {
	if p.WeekdayBucketMin <= 0 || p.WeekendBucketMin <= 0 {
		return fmt.Errorf("bucket widths must be positive")
	}
	if p.RoadInflation < 1 {
		return fmt.Errorf("roadInflation must be >= 1")
	}
	for _, s := range []float64{p.SpeedRushKph, p.SpeedWeekdayKph, p.SpeedWeekendKph, p.SpeedNightKph} {
		if s <= 0 {
			return fmt.Errorf("speed bands must be positive")
		}
	}
	if p.CeilingMinutes <= 0 {
		return fmt.Errorf("ceilingMinutes must be positive")
	}
	if p.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive")
	}
	return nil
}
